package gazette

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
)

var testDate = civil.Date{Year: 2026, Month: 1, Day: 14}

func TestLinkBuilder_PageLink(t *testing.T) {
	t.Parallel()

	links := NewLinkBuilder("", 0)
	got := links.PageLink(testDate, 3)

	want := "https://www.jornalminasgerais.mg.gov.br/edicao-do-dia?dados=" +
		"%7B%22dataPublicacaoSelecionada%22%3A%222026-01-14T03%3A00%3A00.000Z%22" +
		"%2C%22idCadernoEdicaoSelecionado%22%3A326074%2C%22paginaSelecionada%22%3A3%7D"
	require.Equal(t, want, got)
	require.Equal(t, got, links.PageLink(testDate, 3))
}

func TestLinkBuilder_EditionLink(t *testing.T) {
	t.Parallel()

	links := NewLinkBuilder("https://viewer.example/ed", 1)
	require.Equal(t,
		"https://viewer.example/ed?dados=%7B%22dataPublicacaoSelecionada%22%3A%222026-01-14T03%3A00%3A00.000Z%22%7D",
		links.EditionLink(testDate),
	)
}

func TestReport_CountFollowsHighlights(t *testing.T) {
	t.Parallel()

	report := Report{
		PublicationDate: testDate,
		Highlights:      []Highlight{{Page: 1, Term: "a"}, {Page: 2, Term: "a"}},
		Terms:           []Term{{Text: "a"}},
		Trigger:         TriggerScheduled,
	}
	require.Equal(t, 2, report.Count())

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.EqualValues(t, 2, decoded["count"])
	require.Equal(t, "2026-01-14", decoded["publish_date"])
	require.Equal(t, "scheduled", decoded["trigger"])
}

func TestReport_UnmarshalIgnoresCount(t *testing.T) {
	t.Parallel()

	var report Report
	payload := `{"publish_date":"2026-01-14","highlights":[{"page":4}],"search_terms":[],"trigger":"replay","count":99}`
	require.NoError(t, json.Unmarshal([]byte(payload), &report))
	require.Equal(t, 1, report.Count())
	require.Equal(t, TriggerReplay, report.Trigger)
}

func TestReport_EmptyMarshalsEmptyList(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Report{PublicationDate: testDate})
	require.NoError(t, err)
	require.Contains(t, string(data), `"highlights":[]`)
	require.Contains(t, string(data), `"count":0`)
}

func TestRunSummary_ZeroDateRoundTrips(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(RunSummary{RunID: "r1", Status: RunStatusAborted})
	require.NoError(t, err)
	require.NotContains(t, string(data), `"date"`)

	var got RunSummary
	require.NoError(t, json.Unmarshal(data, &got))
	require.True(t, got.Date.IsZero())
	require.Equal(t, "r1", got.RunID)

	data, err = json.Marshal(RunSummary{RunID: "r2", Date: testDate})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, testDate, got.Date)
}

func TestTerm_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		term    Term
		wantErr bool
	}{
		{name: "word", term: Term{Text: "licitação"}},
		{name: "phrase", term: Term{Text: "pregão eletrônico", Exact: true}},
		{name: "empty", term: Term{Text: ""}, wantErr: true},
		{name: "blank", term: Term{Text: "   "}, wantErr: true},
		{name: "punctuation only", term: Term{Text: "?!-"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.term.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTerm)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMachine_Transitions(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	for _, next := range []State{StateFetching, StateExtracting, StateIndexing, StateMatching, StateDispatching, StateDone} {
		m.Advance(next)
	}
	require.Equal(t, StateDone, m.Current())
	require.True(t, m.Current().Terminal())
	require.Len(t, m.History(), 7)

	require.True(t, CanTransition(StateFetching, StateSkipped))
	require.True(t, CanTransition(StateIndexing, StateAborted))
	require.False(t, CanTransition(StateMatching, StateAborted))
	require.False(t, CanTransition(StateSkipped, StateFetching))

	require.Panics(t, func() {
		NewMachine().Advance(StateDone)
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Code
	}{
		{err: fmt.Errorf("wrap: %w", ErrNotPublished), want: CodeNotPublished},
		{err: &TransportError{Date: testDate, StatusCode: 500, Err: errors.New("boom")}, want: CodeTransport},
		{err: &ExtractionError{Kind: ExtractionDecode, Err: errors.New("bad")}, want: CodeExtraction},
		{err: &IndexIOError{Op: "upsert", Err: errors.New("disk")}, want: CodeIndexIO},
		{err: &MatchError{WatcherID: 1, Err: ErrInvalidTerm}, want: CodeMatch},
		{err: &DeliveryError{WatcherID: 1, Err: errors.New("smtp")}, want: CodeDelivery},
		{err: &MatchError{WatcherID: 1, Err: &IndexIOError{Op: "search", Err: errors.New("x")}}, want: CodeMatch},
		{err: fmt.Errorf("run: %w", context.Canceled), want: CodeCanceled},
		{err: fmt.Errorf("run: %w", context.DeadlineExceeded), want: CodeCanceled},
		{err: &TransportError{Date: testDate, Err: fmt.Errorf("visit: %w", context.DeadlineExceeded)}, want: CodeTransport},
		{err: &IndexIOError{Op: "search", Err: context.DeadlineExceeded}, want: CodeIndexIO},
		{err: ErrWatcherNotFound, want: CodeNotFound},
		{err: ErrFutureDate, want: CodeInvalid},
		{err: errors.New("other"), want: CodeUnknown},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}
}
