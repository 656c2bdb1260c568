package codec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	"github.com/forattini-dev/raffel-sub006/raffelerr"
)

// CSV renders tabular results ([]map[string]interface{} or [][]string) as
// comma-separated text and parses CSV text back into
// []map[string]string, the companion "text codec" the spec scopes in
// alongside JSON.
type CSV struct{}

func (CSV) Name() string { return "csv" }

func (CSV) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	switch rows := v.(type) {
	case [][]string:
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	case []map[string]interface{}:
		header := csvHeader(rows)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		for _, row := range rows {
			record := make([]string, len(header))
			for i, col := range header {
				record[i] = fmt.Sprintf("%v", row[col])
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	default:
		return nil, raffelerr.New(raffelerr.CodeInvalidArgument, "csv codec requires [][]string or []map[string]interface{}")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses CSV data whose first row is a header into
// *[]map[string]string.
func (CSV) Decode(data []byte, v interface{}) error {
	out, ok := v.(*[]map[string]string)
	if !ok {
		return raffelerr.New(raffelerr.CodeInvalidArgument, "csv codec Decode requires *[]map[string]string")
	}
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		*out = nil
		return nil
	}
	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	*out = rows
	return nil
}

// csvHeader collects the union of keys across rows, sorted for a stable
// column order.
func csvHeader(rows []map[string]interface{}) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(seen))
	for k := range seen {
		header = append(header, k)
	}
	sort.Strings(header)
	return header
}
