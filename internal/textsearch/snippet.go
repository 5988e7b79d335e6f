package textsearch

import (
	"strings"
	"unicode"
)

// Excerpt builds a window of at most window tokens around the first hit of q,
// wrapping every hit inside the window with MarkStart/MarkEnd. Truncated
// edges get an Ellipsis. When q has no hit the excerpt starts at the top of
// the page. Marker strings already present in content are neutralized, so
// every marker in the result belongs to a hit.
func Excerpt(content string, tokens []Token, q Query, window int) string {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(tokens) == 0 {
		return literalMarks.Replace(collapseSpace(strings.TrimSpace(content)))
	}
	hits := q.Find(tokens)
	anchor := Hit{}
	if len(hits) > 0 {
		anchor = hits[0]
	}
	start, end := frame(anchor, len(tokens), window)

	opens := make(map[int]bool)
	closes := make(map[int]bool)
	for _, h := range hits {
		if h.First < start || h.Last >= end {
			continue
		}
		opens[h.First] = true
		closes[h.Last] = true
	}

	var b, run strings.Builder
	flush := func() {
		b.WriteString(literalMarks.Replace(run.String()))
		run.Reset()
	}
	if start > 0 {
		run.WriteString(Ellipsis)
	} else {
		run.WriteString(collapseSpace(strings.TrimLeftFunc(content[:tokens[0].Start], unicode.IsSpace)))
	}
	for i := start; i < end; i++ {
		if i > start {
			run.WriteString(collapseSpace(content[tokens[i-1].End:tokens[i].Start]))
		}
		if opens[i] {
			flush()
			b.WriteString(MarkStart)
		}
		run.WriteString(content[tokens[i].Start:tokens[i].End])
		if closes[i] {
			flush()
			b.WriteString(MarkEnd)
		}
	}
	if end < len(tokens) {
		run.WriteString(Ellipsis)
	} else {
		run.WriteString(collapseSpace(strings.TrimRightFunc(content[tokens[end-1].End:], unicode.IsSpace)))
	}
	flush()
	return b.String()
}

// frame centers the hit inside a window clamped to [0, n).
func frame(anchor Hit, n, window int) (int, int) {
	if n <= window {
		return 0, n
	}
	span := anchor.Last - anchor.First + 1
	start := anchor.First - (window-span)/2
	if start < 0 {
		start = 0
	}
	if start+window > n {
		start = n - window
	}
	return start, start + window
}

// literalMarks swaps the angle brackets of marker strings found in page text
// for single guillemets.
var literalMarks = strings.NewReplacer(
	MarkStart, neutralMark(MarkStart),
	MarkEnd, neutralMark(MarkEnd),
)

func neutralMark(mark string) string {
	return strings.NewReplacer("<", "\u2039", ">", "\u203a").Replace(mark)
}

// StripMarks removes excerpt markers.
func StripMarks(s string) string {
	return strings.NewReplacer(MarkStart, "", MarkEnd, "").Replace(s)
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
