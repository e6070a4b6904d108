package nodes

import (
	"github.com/tidwall/gjson"
)

// parseLenient decodes s as JSON, falling back to the raw string.
func parseLenient(s string) interface{} {
	if !gjson.Valid(s) {
		return s
	}
	return gjson.Parse(s).Value()
}

// compactJSON re-encodes a valid JSON document without insignificant
// whitespace, keeping key order. ok is false when s is not valid JSON.
func compactJSON(s string) (string, bool) {
	if !gjson.Valid(s) {
		return "", false
	}
	return gjson.Get(s, "@ugly").Raw, true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
