// Package normalize locates the generated text inside a loosely shaped JSON
// document returned by a workflow webhook.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// CandidateKeys are looked up in this order before any positional guess.
var CandidateKeys = []string{"abap_code", "code", "output", "response", "content", "text", "message", "result", "data"}

// minContentLength is the rune count a bare string value must exceed to be
// taken as content when no candidate key matched.
const minContentLength = 50

// Extract parses body as JSON and returns the content found in it. ok is
// false when body is not valid JSON.
func Extract(body []byte) (content string, ok bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	return Content(gjson.ParseBytes(body)), true
}

// Content returns the string most likely to be the generated output held by
// v. It never fails: the last resort is the textual form of v itself.
func Content(v gjson.Result) string {
	switch {
	case v.Type == gjson.String:
		return v.Str
	case v.IsArray():
		first, ok := firstElement(v)
		if !ok {
			return ""
		}
		return Content(first)
	case v.IsObject():
		return fromObject(v)
	}
	return render(v)
}

func fromObject(v gjson.Result) string {
	fields := make(map[string]gjson.Result)
	// A repeated key keeps its last value.
	v.ForEach(func(key, value gjson.Result) bool {
		fields[key.Str] = value
		return true
	})

	for _, key := range CandidateKeys {
		value, ok := fields[key]
		if !ok {
			continue
		}
		switch {
		case value.Type == gjson.String:
			if strings.TrimSpace(value.Str) != "" {
				return value.Str
			}
		case value.IsArray() || value.IsObject():
			if got := Content(value); got != "" {
				return got
			}
		}
	}

	var long string
	v.ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String && utf8.RuneCountInString(value.Str) > minContentLength {
			long = value.Str
			return false
		}
		return true
	})
	if long != "" {
		return long
	}

	return render(v)
}

func firstElement(v gjson.Result) (gjson.Result, bool) {
	var (
		first gjson.Result
		found bool
	)
	v.ForEach(func(_, value gjson.Result) bool {
		first, found = value, true
		return false
	})
	return first, found
}

// render is the compact JSON text of v, falling back to the raw source.
func render(v gjson.Result) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(v.Raw)); err != nil {
		return v.Raw
	}
	return buf.String()
}
