package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFinnhubServer(t *testing.T, handler http.HandlerFunc) *FinnhubProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFinnhubProvider("test-key", srv.Client()).WithBaseURL(srv.URL)
}

func TestFinnhubResolveMetadata(t *testing.T) {
	p := newFinnhubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/profile2", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))
		switch r.URL.Query().Get("symbol") {
		case "TSLA":
			w.Write([]byte(`{"name":"Tesla Inc","ticker":"TSLA"}`))
		default:
			w.Write([]byte(`{}`))
		}
	})

	name, ok, err := p.ResolveMetadata(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Tesla Inc", name)

	_, ok, err = p.ResolveMetadata(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFinnhubFetchRecentPrices(t *testing.T) {
	p := newFinnhubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			w.Write([]byte(`{"c":189.5,"pc":180,"t":1714766400}`))
		case "NEW":
			w.Write([]byte(`{"c":10,"pc":0,"t":1714766400}`))
		default:
			w.Write([]byte(`{"c":0,"pc":0,"t":0}`))
		}
	})
	ctx := context.Background()

	points, err := p.FetchRecentPrices(ctx, "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 180.0, points[0].Price)
	assert.Equal(t, 189.5, points[1].Price)
	assert.Equal(t, time.Unix(1714766400, 0).UTC(), points[1].AsOf)
	assert.True(t, points[0].AsOf.Before(points[1].AsOf))

	points, err = p.FetchRecentPrices(ctx, "AAPL", 1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 189.5, points[0].Price)

	points, err = p.FetchRecentPrices(ctx, "NEW", 2)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	points, err = p.FetchRecentPrices(ctx, "NOPE", 2)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestFinnhubUpstreamErrors(t *testing.T) {
	p := newFinnhubServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("symbol") {
		case "LIMIT":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`not json`))
		}
	})
	ctx := context.Background()

	_, err := p.FetchRecentPrices(ctx, "LIMIT", 2)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, _, err = p.ResolveMetadata(ctx, "GARBAGE")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	unreachable := NewFinnhubProvider("k", &http.Client{Timeout: time.Second}).WithBaseURL("http://127.0.0.1:1")
	_, err = unreachable.FetchRecentPrices(ctx, "AAPL", 2)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
