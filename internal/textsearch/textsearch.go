// Package textsearch holds the tokenizer, term queries and excerpt builder
// shared by every document index backend.
package textsearch

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// Excerpt markers understood by the renderers.
const (
	MarkStart = "<b>"
	MarkEnd   = "</b>"
	Ellipsis  = "..."
)

// DefaultWindow is the excerpt length in tokens.
const DefaultWindow = 32

// Token is a folded word plus its byte span in the source text.
type Token struct {
	Text  string
	Start int
	End   int
}

func newFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

func fold(t transform.Transformer, s string) string {
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

// Tokenize splits text into runs of letters and digits, lowercased with
// diacritics removed.
func Tokenize(text string) []Token {
	folder := newFolder()
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, Token{Text: fold(folder, text[start:i]), Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: fold(folder, text[start:]), Start: start, End: len(text)})
	}
	return tokens
}

// Words returns only the folded token texts.
func Words(text string) []string {
	tokens := Tokenize(text)
	words := make([]string, len(tokens))
	for i, tok := range tokens {
		words[i] = tok.Text
	}
	return words
}

// SearchText is the folded, space-joined token stream stored by SQL backends.
func SearchText(text string) string {
	return strings.Join(Words(text), " ")
}

// Query is a compiled term.
//
// A non-exact query matches a page containing every token in any order. An
// exact query additionally requires the tokens to be contiguous, so exact
// matches are always a subset of non-exact ones. Tokens never match inside a
// longer word.
type Query struct {
	Tokens []string
	Exact  bool
	Text   string
}

// Compile validates a term and prepares it for matching.
func Compile(term gazette.Term) (Query, error) {
	if err := term.Validate(); err != nil {
		return Query{}, err
	}
	words := Words(term.Text)
	if len(words) == 0 {
		return Query{}, gazette.ErrInvalidTerm
	}
	return Query{Tokens: words, Exact: term.Exact, Text: term.Text}, nil
}

// Hit is a match covering tokens [First, Last].
type Hit struct {
	First int
	Last  int
}

// Find returns the hits of q in tokens, ordered by position.
func (q Query) Find(tokens []Token) []Hit {
	if len(q.Tokens) == 0 || len(tokens) == 0 {
		return nil
	}
	if q.Exact {
		return q.findPhrase(tokens)
	}
	wanted := make(map[string]bool, len(q.Tokens))
	for _, w := range q.Tokens {
		wanted[w] = false
	}
	var hits []Hit
	for i, tok := range tokens {
		if _, ok := wanted[tok.Text]; ok {
			wanted[tok.Text] = true
			hits = append(hits, Hit{First: i, Last: i})
		}
	}
	for _, seen := range wanted {
		if !seen {
			return nil
		}
	}
	return hits
}

func (q Query) findPhrase(tokens []Token) []Hit {
	n := len(q.Tokens)
	var hits []Hit
	for i := 0; i+n <= len(tokens); i++ {
		matched := true
		for j := 0; j < n; j++ {
			if tokens[i+j].Text != q.Tokens[j] {
				matched = false
				break
			}
		}
		if matched {
			hits = append(hits, Hit{First: i, Last: i + n - 1})
			i += n - 1
		}
	}
	return hits
}

// MatchesPositions checks a candidate using per-token position lists, as kept
// in a positional inverted index. It returns the first hit when found.
func (q Query) MatchesPositions(positions map[string][]int) (Hit, bool) {
	if len(q.Tokens) == 0 {
		return Hit{}, false
	}
	for _, w := range q.Tokens {
		if len(positions[w]) == 0 {
			return Hit{}, false
		}
	}
	if !q.Exact {
		first := -1
		for _, w := range q.Tokens {
			if p := positions[w][0]; first < 0 || p < first {
				first = p
			}
		}
		return Hit{First: first, Last: first}, true
	}
	for _, start := range positions[q.Tokens[0]] {
		if q.phraseAt(positions, start) {
			return Hit{First: start, Last: start + len(q.Tokens) - 1}, true
		}
	}
	return Hit{}, false
}

func (q Query) phraseAt(positions map[string][]int, start int) bool {
	for j := 1; j < len(q.Tokens); j++ {
		list := positions[q.Tokens[j]]
		want := start + j
		idx := sort.SearchInts(list, want)
		if idx >= len(list) || list[idx] != want {
			return false
		}
	}
	return true
}
