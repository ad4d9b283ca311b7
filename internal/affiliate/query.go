package affiliate

import (
	"net/url"
	"strings"
)

// Query is an ordered query string. Networks match parameters byte for byte, so
// keys keep insertion order instead of the sorted order of url.Values.
type Query struct {
	keys   []string
	values map[string]string
}

// Set appends key, or replaces its value in place when already present.
func (q *Query) Set(key, value string) {
	if q.values == nil {
		q.values = map[string]string{}
	}
	if _, ok := q.values[key]; !ok {
		q.keys = append(q.keys, key)
	}
	q.values[key] = value
}

// Get returns the value of key.
func (q Query) Get(key string) (string, bool) {
	v, ok := q.values[key]
	return v, ok
}

// Len is the number of parameters.
func (q Query) Len() int { return len(q.keys) }

// Encode renders key=value pairs joined by '&'. Both sides are percent-encoded
// like PHP rawurlencode (space as %20); '/' stays literal in values.
func (q Query) Encode() string {
	var b strings.Builder
	for i, k := range q.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(rawURLEncode(k))
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(rawURLEncode(q.values[k]), "%2F", "/"))
	}
	return b.String()
}

// URL appends the encoded query to base.
func (q Query) URL(base string) string {
	if q.Len() == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

func rawURLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
