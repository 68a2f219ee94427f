package llm

import "strings"

// sourceTrailingPunct is stripped from the end of raw references; upstream
// models often emit citations wrapped in sentence punctuation.
const sourceTrailingPunct = ".,;:)]}>\"'"

// NormalizeSource canonicalizes one source reference: surrounding
// whitespace and trailing punctuation are stripped and bare www. hosts get
// an https:// prefix. References that are not http(s) URLs after
// normalization are rejected.
func NormalizeSource(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	v = strings.TrimRight(v, sourceTrailingPunct)
	if strings.HasPrefix(v, "www.") {
		v = "https://" + v
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return "", false
	}
	return v, true
}

// NormalizeSources canonicalizes a reference list, dropping rejected
// entries and deduping by exact string in first-seen order.
func NormalizeSources(raw []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(raw))
	for _, src := range raw {
		v, ok := NormalizeSource(src)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
