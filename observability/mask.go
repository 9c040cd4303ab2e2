package observability

import (
	"net/http"
	"strings"
)

// SensitiveHeaders are redacted by MaskHeaders when no keys are given
var SensitiveHeaders = []string{"X-Api-Key", "X-Client-Jwt", "Authorization", "Cookie"}

// MaskHeaders flattens h for logging, replacing the values of the given keys
// with a short visible prefix followed by asterisks.
func MaskHeaders(h http.Header, keys ...string) map[string]string {
	if len(keys) == 0 {
		keys = SensitiveHeaders
	}
	masked := make(map[string]bool, len(keys))
	for _, k := range keys {
		masked[http.CanonicalHeaderKey(k)] = true
	}

	out := make(map[string]string, len(h))
	for k, vals := range h {
		v := strings.Join(vals, ",")
		if masked[http.CanonicalHeaderKey(k)] {
			v = MaskValue(v)
		}
		out[k] = v
	}
	return out
}

// MaskValue keeps at most the first four characters of v, fewer for short values.
func MaskValue(v string) string {
	if v == "" {
		return ""
	}
	quarter := (len(v) + 3) / 4
	visible := 4
	if quarter <= 4 {
		visible = quarter - 1
	}
	stars := 20
	if len(v) < 20 {
		stars = quarter
	}
	return v[:visible] + strings.Repeat("*", stars)
}
