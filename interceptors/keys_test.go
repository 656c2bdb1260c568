package interceptors

import (
	"strconv"
	"strings"
	"testing"

	"github.com/forattini-dev/raffel-sub006/envelope"
)

func TestDefaultCacheKey_SwitchesHashByPayloadSize(t *testing.T) {
	small := &envelope.Envelope{Procedure: "widgets.get", Payload: []byte(`{"id":1}`)}
	large := &envelope.Envelope{Procedure: "widgets.get", Payload: []byte(strings.Repeat("x", largePayloadThreshold+1))}

	smallKey := DefaultCacheKey(small, nil)
	largeKey := DefaultCacheKey(large, nil)

	wantSmall := "cache:widgets.get:" + strconv.FormatUint(djb2(small.Payload), 16)
	if smallKey != wantSmall {
		t.Errorf("small payload key = %q, want %q (djb2)", smallKey, wantSmall)
	}
	if largeKey == wantSmall {
		t.Errorf("large payload key unexpectedly matches small-payload djb2 key")
	}
}

func TestMatchesAny_SingleSegmentStar(t *testing.T) {
	cases := []struct {
		procedure string
		pattern   string
		want      bool
	}{
		{"widgets.get", "widgets.*", true},
		{"widgets.get.v2", "widgets.*", false},
		{"widgets.get.v2", "widgets.**", true},
		{"widgets", "widgets.**", true},
		{"reports.generate", "widgets.*", false},
		{"a.b.c", "*.b.c", true},
		{"a.b.c", "*.x.c", false},
	}
	for _, c := range cases {
		got := matchesAny(c.procedure, []string{c.pattern})
		if got != c.want {
			t.Errorf("matchesAny(%q, [%q]) = %v, want %v", c.procedure, c.pattern, got, c.want)
		}
	}
}

func TestMatchesAny_EmptyPatternsMatchesEverything(t *testing.T) {
	if !matchesAny("anything.at.all", nil) {
		t.Error("empty pattern list should match every procedure")
	}
}
