package market

import (
	"context"
	"errors"
	"time"
)

// ErrUpstreamUnavailable wraps every failure talking to a market-data provider.
var ErrUpstreamUnavailable = errors.New("market data unavailable")

// Provider is the market-data collaborator.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// ResolveMetadata returns the issuer name for symbol. ok is false when
	// the provider has no record of it.
	ResolveMetadata(ctx context.Context, symbol string) (name string, ok bool, err error)
	// FetchRecentPrices returns up to pointCount closes ordered oldest to
	// newest. The result may be shorter than requested.
	FetchRecentPrices(ctx context.Context, symbol string, pointCount int) ([]PricePoint, error)
}

// PricePoint is one close in a price series.
type PricePoint struct {
	Price float64   `json:"price"`
	AsOf  time.Time `json:"as_of"`
}

// PriceSample is the latest close compared with the one before it.
type PriceSample struct {
	Symbol             string
	CurrentPrice       float64
	PreviousClosePrice float64
	SampledAt          time.Time
}

// ChangePct returns the percentage move from the previous close.
func (p PriceSample) ChangePct() float64 {
	return ChangePct(p.CurrentPrice, p.PreviousClosePrice)
}

// ChangePct computes (current - previous) / previous * 100, or 0 when
// previous is zero.
func ChangePct(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// SampleFromPoints builds a sample from the last two points of an
// oldest-to-newest series. It returns false when there is not enough history.
func SampleFromPoints(symbol string, points []PricePoint, now time.Time) (PriceSample, bool) {
	if len(points) < 2 {
		return PriceSample{}, false
	}
	prev := points[len(points)-2]
	curr := points[len(points)-1]
	return PriceSample{
		Symbol:             symbol,
		CurrentPrice:       curr.Price,
		PreviousClosePrice: prev.Price,
		SampledAt:          now,
	}, true
}

// Quote fetches a two-point sample for symbol.
func Quote(ctx context.Context, p Provider, symbol string) (PriceSample, bool, error) {
	points, err := p.FetchRecentPrices(ctx, symbol, 2)
	if err != nil {
		return PriceSample{}, false, err
	}
	sample, ok := SampleFromPoints(symbol, points, time.Now())
	return sample, ok, nil
}
