package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rewriteTransport sends every request to target regardless of the host the
// client was built for.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newPolygonServer(t *testing.T, handler http.HandlerFunc) *PolygonProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	p := NewPolygonProvider("test-key", &http.Client{
		Timeout:   5 * time.Second,
		Transport: rewriteTransport{target: target},
	})
	p.now = func() time.Time { return time.Date(2024, 5, 6, 21, 0, 0, 0, time.UTC) }
	return p
}

func TestPolygonResolveMetadata(t *testing.T) {
	p := newPolygonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v3/reference/tickers/TSLA":
			w.Write([]byte(`{"status":"OK","request_id":"1","results":{"ticker":"TSLA","name":"Tesla, Inc."}}`))
		case "/v3/reference/tickers/BLANK":
			w.Write([]byte(`{"status":"OK","request_id":"2","results":{"ticker":"BLANK","name":""}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":"NOT_FOUND","request_id":"3","message":"Ticker not found."}`))
		}
	})
	ctx := context.Background()

	name, ok, err := p.ResolveMetadata(ctx, "TSLA")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Tesla, Inc.", name)

	_, ok, err = p.ResolveMetadata(ctx, "BLANK")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = p.ResolveMetadata(ctx, "ZZZZ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPolygonFetchRecentPrices(t *testing.T) {
	p := newPolygonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasPrefix(r.URL.Path, "/v2/aggs/ticker/AAPL/range/1/day/") {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":"NOT_FOUND","request_id":"x"}`))
			return
		}
		assert.Equal(t, "desc", r.URL.Query().Get("sort"))
		// Newest first, as requested.
		w.Write([]byte(`{"ticker":"AAPL","status":"OK","request_id":"4","resultsCount":2,"results":[
			{"c":182.4,"t":1714968000000},
			{"c":180.0,"t":1714708800000}
		]}`))
	})

	points, err := p.FetchRecentPrices(context.Background(), "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 180.0, points[0].Price)
	assert.Equal(t, 182.4, points[1].Price)
	assert.True(t, points[0].AsOf.Before(points[1].AsOf))
}

func TestPolygonUpstreamFailure(t *testing.T) {
	p := newPolygonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status":"NOT_AUTHORIZED","request_id":"5","message":"bad key"}`))
	})
	ctx := context.Background()

	_, _, err := p.ResolveMetadata(ctx, "TSLA")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = p.FetchRecentPrices(ctx, "TSLA", 2)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestPolygonFetchStopsAtPointCount(t *testing.T) {
	var nextPageHits atomic.Int32
	p := newPolygonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Path, "/v2/aggs/next") {
			nextPageHits.Add(1)
			w.Write([]byte(`{"status":"OK","request_id":"7","results":[{"c":170.0,"t":1714449600000}]}`))
			return
		}
		w.Write([]byte(`{"ticker":"AAPL","status":"OK","request_id":"6","resultsCount":2,
			"next_url":"https://api.polygon.io/v2/aggs/next/page2",
			"results":[{"c":182.4,"t":1714968000000},{"c":180.0,"t":1714708800000}]}`))
	})

	points, err := p.FetchRecentPrices(context.Background(), "AAPL", 2)
	require.NoError(t, err)
	assert.Len(t, points, 2)
	assert.Zero(t, nextPageHits.Load(), "no further page is requested once enough points are read")
}
