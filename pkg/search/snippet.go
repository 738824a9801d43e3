package search

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// snippetWindow bounds the excerpt length in bytes, before markup.
const snippetWindow = 160

// MakeSnippet returns an excerpt of text centered on the first matched
// term, with every match wrapped in <em> tags. Terms must already be
// lower-cased. Empty text yields an empty snippet; text with no match
// yields a plain prefix.
func MakeSnippet(text string, terms []string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)

	first := -1
	for _, term := range terms {
		if term == "" {
			continue
		}
		if i := strings.Index(lower, term); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	if first < 0 {
		return clipRunes(text, 0, snippetWindow, false)
	}

	start := first - snippetWindow/4
	if start < 0 {
		start = 0
	}
	return highlight(clipRunes(text, start, snippetWindow, start > 0), terms)
}

// clipRunes cuts a window of roughly size bytes out of text starting near
// start, snapping both edges to rune boundaries and marking cut edges
// with an ellipsis.
func clipRunes(text string, start, size int, leadCut bool) string {
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	end := start + size
	if end >= len(text) {
		end = len(text)
	} else {
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
	}
	out := text[start:end]
	if leadCut {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}

// highlight wraps every case-insensitive occurrence of the terms in
// excerpt with <em> tags, merging overlapping matches.
func highlight(excerpt string, terms []string) string {
	lower := strings.ToLower(excerpt)
	type span struct{ s, e int }
	var spans []span
	for _, term := range terms {
		if term == "" {
			continue
		}
		for i := 0; ; {
			j := strings.Index(lower[i:], term)
			if j < 0 {
				break
			}
			s := i + j
			spans = append(spans, span{s: s, e: s + len(term)})
			i = s + len(term)
		}
	}
	if len(spans) == 0 {
		return excerpt
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].s < spans[j].s })

	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.s <= last.e {
			if sp.e > last.e {
				last.e = sp.e
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(excerpt[prev:sp.s])
		b.WriteString("<em>")
		b.WriteString(excerpt[sp.s:sp.e])
		b.WriteString("</em>")
		prev = sp.e
	}
	b.WriteString(excerpt[prev:])
	return b.String()
}
