package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider reads company profiles and quotes from the Finnhub REST API.
type FinnhubProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFinnhubProvider creates a provider for the given API key.
func NewFinnhubProvider(apiKey string, httpClient *http.Client) *FinnhubProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FinnhubProvider{
		apiKey:  apiKey,
		baseURL: finnhubBaseURL,
		client:  httpClient,
	}
}

// WithBaseURL points the provider at another host, e.g. a test server.
func (f *FinnhubProvider) WithBaseURL(u string) *FinnhubProvider {
	f.baseURL = u
	return f
}

func (f *FinnhubProvider) Name() string { return "finnhub" }

// finnhubProfile matches /stock/profile2. Unknown symbols return {}.
type finnhubProfile struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// finnhubQuote matches /quote.
type finnhubQuote struct {
	Current       float64 `json:"c"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"` // UNIX seconds
}

func (f *FinnhubProvider) ResolveMetadata(ctx context.Context, symbol string) (string, bool, error) {
	var profile finnhubProfile
	if err := f.get(ctx, "/stock/profile2", symbol, &profile); err != nil {
		return "", false, err
	}
	if profile.Name == "" {
		return "", false, nil
	}
	return profile.Name, true, nil
}

// FetchRecentPrices returns [previous close, current] from the quote
// endpoint, so at most two points are ever returned.
func (f *FinnhubProvider) FetchRecentPrices(ctx context.Context, symbol string, pointCount int) ([]PricePoint, error) {
	if pointCount <= 0 {
		return nil, nil
	}

	var q finnhubQuote
	if err := f.get(ctx, "/quote", symbol, &q); err != nil {
		return nil, err
	}
	// Finnhub answers unknown symbols with an all-zero quote.
	if q.Current == 0 && q.Timestamp == 0 {
		return nil, nil
	}

	asOf := time.Unix(q.Timestamp, 0).UTC()
	points := []PricePoint{
		{Price: q.PreviousClose, AsOf: asOf.AddDate(0, 0, -1)},
		{Price: q.Current, AsOf: asOf},
	}
	if q.PreviousClose == 0 {
		points = points[1:]
	}
	if len(points) > pointCount {
		points = points[len(points)-pointCount:]
	}
	return points, nil
}

func (f *FinnhubProvider) get(ctx context.Context, path, symbol string, out any) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", f.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: finnhub %s: %w", ErrUpstreamUnavailable, path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: finnhub %s %s: %w", ErrUpstreamUnavailable, path, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: finnhub %s %s: status %s", ErrUpstreamUnavailable, path, symbol, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: finnhub %s %s: decode: %w", ErrUpstreamUnavailable, path, symbol, err)
	}
	return nil
}
