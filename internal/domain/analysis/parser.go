package analysis

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Model responses are supposed to be bare JSON but routinely arrive wrapped
// in markdown fences, surrounded by prose, or with a trailing comma. The
// extractor recovers the embedded value; it never panics and never returns
// an error, only ok=false.

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object or array out of unstructured model output.
func ExtractJSON(raw string) (any, bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil, false
	}

	if m := codeFenceRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = strings.TrimSpace(m[1])
	}

	if span, ok := balancedSpan(cleaned); ok {
		if v, ok := tryParse(span); ok {
			return v, true
		}
	}

	return tryParse(cleaned)
}

// balancedSpan finds the first complete top-level {...} or [...] span using
// depth counting over the whole string.
func balancedSpan(s string) (string, bool) {
	depth := 0
	start := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			// Stray closers in surrounding prose must not poison the scan.
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// tryParse attempts a strict parse, then one trailing-comma repair.
func tryParse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, true
	}
	fixed := trailingCommaRe.ReplaceAllString(s, "$1")
	if err := json.Unmarshal([]byte(fixed), &v); err == nil {
		return v, true
	}
	return nil, false
}
