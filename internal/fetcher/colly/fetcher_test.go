package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

var jan14 = civil.Date{Year: 2026, Month: 1, Day: 14}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type countingWaiter struct{ calls atomic.Int32 }

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return nil
}

const publishedBody = `{"dados":{"dataPublicacao":"2026-01-14","arquivoCadernoPrincipal":{"arquivo":"JVBERi0=","arquivoUnico":true,"totalPaginas":12,"descricaoCaderno":"Diário do Executivo"}}}`

func newTestFetcher(t *testing.T, handler http.HandlerFunc) (*Fetcher, *atomic.Int32, *countingWaiter) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	waiter := &countingWaiter{}
	clock := fixedClock{now: time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)}
	f := New(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second, MaxAttempts: 2}, waiter, clock, nil)
	f.retry.BaseDelay = time.Millisecond
	f.retry.MaxDelay = time.Millisecond
	return f, &hits, waiter
}

func TestFetch_Published(t *testing.T) {
	t.Parallel()

	var gotQuery string
	f, _, waiter := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Path + "?" + r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(publishedBody))
	})

	res, err := f.Fetch(context.Background(), jan14)
	require.NoError(t, err)
	require.True(t, res.Published())
	require.Equal(t, "JVBERi0=", res.Document.Data)
	require.Equal(t, 12, res.Document.DeclaredPages)
	require.True(t, res.Document.SingleFile)
	require.Equal(t, "Diário do Executivo", res.Document.NotebookName)
	require.Equal(t, jan14, res.Document.PublicationDate)
	require.Equal(t, editionPath+"?dataPublicacao=2026-01-14", gotQuery)
	require.Equal(t, int32(1), waiter.calls.Load())
}

func TestFetch_NotPublishedStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound} {
		f, hits, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})
		res, err := f.Fetch(context.Background(), jan14)
		require.NoError(t, err, "status %d", status)
		require.False(t, res.Published())
		require.Equal(t, int32(1), hits.Load())
	}
}

func TestFetch_FutureDateMakesNoRequest(t *testing.T) {
	t.Parallel()

	f, hits, waiter := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	res, err := f.Fetch(context.Background(), civil.Date{Year: 2026, Month: 1, Day: 21})
	require.NoError(t, err)
	require.Equal(t, gazette.FetchStatusNotPublished, res.Status)
	require.Zero(t, hits.Load())
	require.Zero(t, waiter.calls.Load())
}

func TestFetch_ServerErrorIsRetriedThenTransportError(t *testing.T) {
	t.Parallel()

	f, hits, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := f.Fetch(context.Background(), jan14)

	var transportErr *gazette.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, http.StatusInternalServerError, transportErr.StatusCode)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, gazette.CodeTransport, gazette.Classify(err))
}

func TestFetch_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	f, hits, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := f.Fetch(context.Background(), jan14)

	var transportErr *gazette.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, http.StatusBadRequest, transportErr.StatusCode)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetch_MalformedPayload(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not json":    `<html>maintenance</html>`,
		"no document": `{"dados":{"dataPublicacao":"2026-01-14"}}`,
		"empty file":  `{"dados":{"arquivoCadernoPrincipal":{"arquivo":""}}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f, _, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := f.Fetch(context.Background(), jan14)
			var transportErr *gazette.TransportError
			require.ErrorAs(t, err, &transportErr)
		})
	}
}

func TestFetch_RequestTimeoutIsRetriedAsTransport(t *testing.T) {
	t.Parallel()

	f, hits, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(400 * time.Millisecond):
		}
		w.WriteHeader(http.StatusOK)
	})
	f.cfg.Timeout = 100 * time.Millisecond

	_, err := f.Fetch(context.Background(), jan14)

	var transportErr *gazette.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Zero(t, transportErr.StatusCode)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, gazette.CodeTransport, gazette.Classify(err))
}

func TestFetch_Canceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f, _, _ := newTestFetcher(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, jan14)
	require.Error(t, err)
	require.Equal(t, gazette.CodeCanceled, gazette.Classify(err))
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil, nil)
	hooks := &stubHooks{}
	var got capture
	f.configureCollectorHooks(hooks, &got)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: 200, Body: []byte("ok")})
	require.Equal(t, 200, got.status)
	require.Equal(t, []byte("ok"), got.body)

	hooks.onError(&colly.Response{StatusCode: 404}, http.ErrHandlerTimeout)
	require.Equal(t, 404, got.status)
	require.ErrorIs(t, got.err, http.ErrHandlerTimeout)
}

func TestEditionURL(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil, nil)
	require.Equal(t,
		"https://www.jornalminasgerais.mg.gov.br/api/v1/Jornal/ObterEdicaoPorDataPublicacao?dataPublicacao=2026-01-14",
		f.EditionURL(jan14))
}
