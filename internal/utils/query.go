package utils

import (
	"net/url"
	"strconv"
	"strings"
)

// ParseQueryList handles both repeated and comma-separated query params, dropping blanks.
// Example:
//
//	?state=IL,WI          → ["IL","WI"]
//	?state=IL&state=WI    → ["IL","WI"]
func ParseQueryList(q url.Values, key string) []string {
	values := q[key]
	if len(values) == 0 {
		return nil
	}

	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// ParseIntParam reads a non-negative integer query param, returning fallback when it is
// missing or malformed and clamping it to max when max > 0.
func ParseIntParam(q url.Values, key string, fallback, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(q.Get(key)))
	if err != nil || v < 0 {
		return fallback
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
