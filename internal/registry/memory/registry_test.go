package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

func TestRegistry_ListActiveAndGet(t *testing.T) {
	t.Parallel()

	reg, err := New([]gazette.Watcher{
		{ID: 3, Label: "inactive", Terms: []gazette.Term{{Text: "edital"}}},
		{ID: 2, Label: "b", Active: true, Terms: []gazette.Term{{Text: "pregão", Exact: true}}},
		{ID: 1, Label: "a", Active: true, Terms: []gazette.Term{{Text: "licitação"}}},
	})
	require.NoError(t, err)

	active, err := reg.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, int64(1), active[0].ID)
	require.Equal(t, int64(2), active[1].ID)

	inactive, err := reg.Get(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, "inactive", inactive.Label)

	_, err = reg.Get(context.Background(), 99)
	require.ErrorIs(t, err, gazette.ErrWatcherNotFound)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	t.Parallel()

	reg, err := New([]gazette.Watcher{{ID: 1, Active: true, Terms: []gazette.Term{{Text: "a"}}}})
	require.NoError(t, err)

	w, err := reg.Get(context.Background(), 1)
	require.NoError(t, err)
	w.Terms[0].Text = "mutated"

	again, err := reg.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "a", again.Terms[0].Text)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := New([]gazette.Watcher{{ID: 1}, {ID: 1}})
	require.Error(t, err)
}
