package textsearch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

func TestTokenize_FoldsCaseAndAccents(t *testing.T) {
	t.Parallel()

	text := "A Licitação nº 42, HOMOLOGADA."
	tokens := Tokenize(text)

	require.Equal(t, []string{"a", "licitacao", "nº", "42", "homologada"}, Words(text))
	require.Equal(t, "Licitação", text[tokens[1].Start:tokens[1].End])
	require.Equal(t, "a licitacao nº 42 homologada", SearchText(text))
}

func TestCompile_RejectsInvalidTerms(t *testing.T) {
	t.Parallel()

	_, err := Compile(gazette.Term{Text: " "})
	require.ErrorIs(t, err, gazette.ErrInvalidTerm)

	q, err := Compile(gazette.Term{Text: "Pregão Eletrônico", Exact: true})
	require.NoError(t, err)
	require.Equal(t, []string{"pregao", "eletronico"}, q.Tokens)
	require.True(t, q.Exact)
}

func TestQuery_Find(t *testing.T) {
	t.Parallel()

	content := Tokenize("edital do pregão eletrônico; eletrônico pregão edital")
	tests := []struct {
		name string
		term gazette.Term
		want []Hit
	}{
		{name: "token", term: gazette.Term{Text: "edital"}, want: []Hit{{0, 0}, {6, 6}}},
		{name: "all tokens any order", term: gazette.Term{Text: "eletrônico pregão"}, want: []Hit{{2, 2}, {3, 3}, {4, 4}, {5, 5}}},
		{name: "phrase", term: gazette.Term{Text: "pregão eletrônico", Exact: true}, want: []Hit{{2, 3}}},
		{name: "phrase absent", term: gazette.Term{Text: "edital eletrônico", Exact: true}, want: nil},
		{name: "missing token", term: gazette.Term{Text: "edital ausente"}, want: nil},
		{name: "no partial words", term: gazette.Term{Text: "edit"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, err := Compile(tt.term)
			require.NoError(t, err)
			require.Equal(t, tt.want, q.Find(content))
		})
	}
}

func TestQuery_ExactIsNarrowing(t *testing.T) {
	t.Parallel()

	pages := []string{
		"licitação nº 42 foi homologada",
		"homologada a licitação",
		"nenhum termo",
		"Edital de licitação, edital complementar",
	}
	terms := []string{"licitação", "licitação homologada", "edital", "edital de licitação"}
	for _, text := range terms {
		exact, err := Compile(gazette.Term{Text: text, Exact: true})
		require.NoError(t, err)
		loose, err := Compile(gazette.Term{Text: text})
		require.NoError(t, err)
		for _, page := range pages {
			tokens := Tokenize(page)
			if len(exact.Find(tokens)) > 0 {
				require.NotEmpty(t, loose.Find(tokens), "term %q page %q", text, page)
			}
		}
	}
}

func TestQuery_MatchesPositions(t *testing.T) {
	t.Parallel()

	positions := map[string][]int{"pregao": {3, 9}, "eletronico": {1, 10}}
	exact, err := Compile(gazette.Term{Text: "pregão eletrônico", Exact: true})
	require.NoError(t, err)
	hit, ok := exact.MatchesPositions(positions)
	require.True(t, ok)
	require.Equal(t, Hit{First: 9, Last: 10}, hit)

	loose, err := Compile(gazette.Term{Text: "pregão eletrônico"})
	require.NoError(t, err)
	hit, ok = loose.MatchesPositions(positions)
	require.True(t, ok)
	require.Equal(t, 1, hit.First)

	_, ok = loose.MatchesPositions(map[string][]int{"pregao": {1}})
	require.False(t, ok)
}

func TestExcerpt_MarksMatches(t *testing.T) {
	t.Parallel()

	content := "Aviso:\n a  licitação nº 42 foi homologada."
	q, err := Compile(gazette.Term{Text: "licitacao"})
	require.NoError(t, err)

	got := Excerpt(content, Tokenize(content), q, DefaultWindow)
	require.Equal(t, "Aviso: a <b>licitação</b> nº 42 foi homologada.", got)
	require.Equal(t, "Aviso: a licitação nº 42 foi homologada.", StripMarks(got))
}

func TestExcerpt_PhraseWrappedOnce(t *testing.T) {
	t.Parallel()

	content := "abertura do pregão eletrônico amanhã"
	q, err := Compile(gazette.Term{Text: "pregão eletrônico", Exact: true})
	require.NoError(t, err)

	require.Equal(t, "abertura do <b>pregão eletrônico</b> amanhã", Excerpt(content, Tokenize(content), q, DefaultWindow))
}

func TestExcerpt_WindowIsBounded(t *testing.T) {
	t.Parallel()

	words := make([]string, 100)
	for i := range words {
		words[i] = "palavra"
	}
	words[60] = "edital"
	content := strings.Join(words, " ")
	q, err := Compile(gazette.Term{Text: "edital"})
	require.NoError(t, err)

	got := Excerpt(content, Tokenize(content), q, 10)
	require.True(t, strings.HasPrefix(got, Ellipsis))
	require.True(t, strings.HasSuffix(got, Ellipsis))
	require.Contains(t, got, "<b>edital</b>")
	require.Len(t, Tokenize(StripMarks(strings.Trim(got, "."))), 10)
}

func TestExcerpt_NeutralizesLiteralMarks(t *testing.T) {
	t.Parallel()

	q, err := Compile(gazette.Term{Text: "edital"})
	require.NoError(t, err)

	tests := map[string]struct {
		content string
		want    string
	}{
		"outside hit": {
			content: "use <b>negrito</b> no edital",
			want:    "use \u2039b\u203anegrito\u2039/b\u203a no <b>edital</b>",
		},
		"around hit": {
			content: "<b>edital</b>",
			want:    "\u2039b\u203a<b>edital</b>\u2039/b\u203a",
		},
		"no hit": {
			content: "<b>negrito</b>",
			want:    "\u2039b\u203anegrito\u2039/b\u203a",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := Excerpt(tc.content, Tokenize(tc.content), q, DefaultWindow)
			require.Equal(t, tc.want, got)
			require.Equal(t, strings.Count(got, MarkStart), strings.Count(got, MarkEnd))
		})
	}
}

func TestExcerpt_EmptyPage(t *testing.T) {
	t.Parallel()

	q, err := Compile(gazette.Term{Text: "x"})
	require.NoError(t, err)
	require.Empty(t, Excerpt("  \n", nil, q, DefaultWindow))
}
