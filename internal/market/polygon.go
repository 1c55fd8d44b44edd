package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"
)

// defaultLookback covers weekends and market holidays when asking for the
// last few daily closes.
const defaultLookback = 14 * 24 * time.Hour

// PolygonProvider reads ticker details and daily aggregates from Polygon.io.
type PolygonProvider struct {
	client   *polygon.Client
	lookback time.Duration
	now      func() time.Time
}

// NewPolygonProvider creates a provider using the given API key. A nil
// httpClient uses a client with a 10s timeout.
func NewPolygonProvider(apiKey string, httpClient *http.Client) *PolygonProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PolygonProvider{
		client:   polygon.NewWithClient(apiKey, httpClient),
		lookback: defaultLookback,
		now:      time.Now,
	}
}

func (p *PolygonProvider) Name() string { return "polygon" }

// ResolveMetadata returns the ticker's registered name. A 404 from Polygon
// means the ticker does not exist, which is reported as !ok rather than an
// upstream failure.
func (p *PolygonProvider) ResolveMetadata(ctx context.Context, symbol string) (string, bool, error) {
	res, err := p.client.GetTickerDetails(ctx, &models.GetTickerDetailsParams{Ticker: symbol})
	if err != nil {
		var apiErr *models.ErrorResponse
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: polygon ticker details %s: %w", ErrUpstreamUnavailable, symbol, err)
	}
	if res.Results.Name == "" {
		return "", false, nil
	}
	return res.Results.Name, true, nil
}

// FetchRecentPrices returns the last pointCount daily closes.
func (p *PolygonProvider) FetchRecentPrices(ctx context.Context, symbol string, pointCount int) ([]PricePoint, error) {
	if pointCount <= 0 {
		return nil, nil
	}

	now := p.now()
	params := &models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(now.Add(-p.lookback)),
		To:         models.Millis(now),
	}
	limit := pointCount
	order := models.Desc
	adjusted := true
	params.Limit = &limit
	params.Order = &order
	params.Adjusted = &adjusted

	iter := p.client.ListAggs(ctx, params)
	points := make([]PricePoint, 0, pointCount)
	for len(points) < pointCount && iter.Next() {
		agg := iter.Item()
		points = append(points, PricePoint{
			Price: agg.Close,
			AsOf:  time.Time(agg.Timestamp),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: polygon aggregates %s: %w", ErrUpstreamUnavailable, symbol, err)
	}

	// Descending from the API; callers expect oldest first.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}
