// Package etag implements weak HTTP entity tags and the If-Match /
// If-None-Match comparison semantics used by request-level cache
// interceptors (§4.7).
package etag

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Encode computes a weak ETag for record: W/"<16 hex chars of md5(JSON(record))>".
func Encode(record interface{}) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return `W/"` + hex.EncodeToString(sum[:])[:16] + `"`, nil
}

// normalize strips a leading weak-indicator and surrounding quotes so two
// differently-formatted representations of the same tag compare equal.
func normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	tag = strings.Trim(tag, `"`)
	return tag
}

func splitList(header string) []string {
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, normalize(p))
	}
	return out
}

// ValidateIfMatch reports whether current satisfies the If-Match header
// value: "*" always matches; otherwise the header is a comma-separated
// list and it matches if any entry equals current once both are normalized.
func ValidateIfMatch(ifMatch, current string) bool {
	ifMatch = strings.TrimSpace(ifMatch)
	if ifMatch == "*" {
		return true
	}
	cur := normalize(current)
	for _, tag := range splitList(ifMatch) {
		if tag == cur {
			return true
		}
	}
	return false
}

// ValidateIfNoneMatch reports whether the resource is fresh given an
// If-None-Match header: "*" is never fresh (a resource always exists from
// the caller's point of view); otherwise freshness is the logical inverse
// of If-Match — fresh (not-304) unless some listed tag matches current.
func ValidateIfNoneMatch(ifNoneMatch, current string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "*" {
		return false
	}
	return !ValidateIfMatch(ifNoneMatch, current)
}
