package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiongMax/stockwatch/internal/market"
	"github.com/tiongMax/stockwatch/internal/watchlist"
)

type staticLister []watchlist.TrackedSymbol

func (l staticLister) List() []watchlist.TrackedSymbol { return l }

// fakeFetcher returns canned closes keyed by symbol. Symbols listed in errs
// fail instead.
type fakeFetcher struct {
	mu     sync.Mutex
	closes map[string][]float64
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) FetchRecentPrices(_ context.Context, symbol string, n int) ([]market.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	base := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	var points []market.PricePoint
	for i, c := range f.closes[symbol] {
		points = append(points, market.PricePoint{Price: c, AsOf: base.AddDate(0, 0, i)})
	}
	if len(points) > n {
		points = points[len(points)-n:]
	}
	return points, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []PriceAlert
	err    error
}

func (r *recordingPublisher) PublishAlert(_ context.Context, a PriceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func symbols(names ...string) staticLister {
	var out staticLister
	for _, n := range names {
		out = append(out, watchlist.TrackedSymbol{Symbol: n, DisplayName: n + " Corp"})
	}
	return out
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestShouldTriggerAlert(t *testing.T) {
	tests := []struct {
		name      string
		current   float64
		previous  float64
		threshold float64
		expected  bool
	}{
		{name: "up exactly at threshold", current: 105, previous: 100, threshold: 5, expected: false},
		{name: "up just over threshold", current: 105.01, previous: 100, threshold: 5, expected: true},
		{name: "down exactly at threshold", current: 95, previous: 100, threshold: 5, expected: false},
		{name: "down just over threshold", current: 94.99, previous: 100, threshold: 5, expected: true},
		{name: "flat", current: 100, previous: 100, threshold: 5, expected: false},
		{name: "zero previous close", current: 50, previous: 0, threshold: 5, expected: false},
		{name: "custom threshold", current: 102.5, previous: 100, threshold: 2, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := market.ChangePct(tt.current, tt.previous)
			assert.Equal(t, tt.expected, ShouldTriggerAlert(change, tt.threshold))
		})
	}
}

func TestSweepPublishesInWatchlistOrder(t *testing.T) {
	fetcher := &fakeFetcher{closes: map[string][]float64{
		"AAA": {100, 110},
		"BBB": {100, 101},
		"CCC": {200, 180},
	}}
	pub := &recordingPublisher{}
	s := NewScheduler(Config{}, symbols("AAA", "BBB", "CCC"), fetcher, pub, quietLogger())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Symbols)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failures)
	require.Len(t, pub.alerts, 2)
	assert.Equal(t, "AAA", pub.alerts[0].Symbol)
	assert.Equal(t, "CCC", pub.alerts[1].Symbol)
	assert.Equal(t, res.Alerts, pub.alerts)

	a := pub.alerts[1]
	assert.Equal(t, "CCC Corp", a.DisplayName)
	assert.InDelta(t, -10.0, a.ChangePct, 1e-9)
	assert.Equal(t, 180.0, a.CurrentPrice)
	assert.Equal(t, 200.0, a.PreviousClose)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, pub.alerts[0].ID, a.ID)
}

func TestSweepIsolatesFailures(t *testing.T) {
	fetcher := &fakeFetcher{
		closes: map[string][]float64{
			"BBB": {100, 120},
			"CCC": {100, 80},
		},
		errs: map[string]error{"AAA": market.ErrUpstreamUnavailable},
	}
	pub := &recordingPublisher{}
	s := NewScheduler(Config{}, symbols("AAA", "BBB", "CCC"), fetcher, pub, quietLogger())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, fetcher.calls)
	require.Len(t, pub.alerts, 2)
	assert.Equal(t, "BBB", pub.alerts[0].Symbol)
	assert.Equal(t, "CCC", pub.alerts[1].Symbol)
}

func TestSweepPublishFailureContinues(t *testing.T) {
	fetcher := &fakeFetcher{closes: map[string][]float64{
		"AAA": {100, 110},
		"BBB": {100, 110},
	}}
	pub := &recordingPublisher{err: errors.New("channel_not_found")}
	s := NewScheduler(Config{}, symbols("AAA", "BBB"), fetcher, pub, quietLogger())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failures)
	assert.Len(t, pub.alerts, 2)
}

func TestSweepSkipsShortHistory(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
	}{
		{name: "no points", closes: nil},
		{name: "single point", closes: []float64{100}},
		{name: "zero previous close", closes: []float64{0, 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{closes: map[string][]float64{"NEW": tt.closes}}
			pub := &recordingPublisher{}
			s := NewScheduler(Config{}, symbols("NEW"), fetcher, pub, quietLogger())

			res, err := s.Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Skipped)
			assert.Zero(t, res.Failures)
			assert.Empty(t, pub.alerts)
		})
	}
}

func TestSweepEmptyWatchlist(t *testing.T) {
	fetcher := &fakeFetcher{}
	pub := &recordingPublisher{}
	s := NewScheduler(Config{}, staticLister(nil), fetcher, pub, quietLogger())

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Symbols)
	assert.Empty(t, fetcher.calls)
	assert.Empty(t, pub.alerts)
}

// blockingFetcher holds every fetch until release is closed.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingFetcher) FetchRecentPrices(ctx context.Context, _ string, _ int) ([]market.PricePoint, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSweepDoesNotOverlap(t *testing.T) {
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(Config{}, symbols("AAA"), fetcher, &recordingPublisher{}, quietLogger())
	assert.Equal(t, Idle, s.State())

	done := make(chan error, 1)
	go func() {
		_, err := s.Sweep(context.Background())
		done <- err
	}()

	<-fetcher.started
	assert.Equal(t, Sweeping, s.State())

	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(fetcher.release)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, s.State())

	_, err = s.Sweep(context.Background())
	assert.NoError(t, err)
}

func TestSweepHonorsCancellation(t *testing.T) {
	fetcher := &fakeFetcher{closes: map[string][]float64{"AAA": {100, 110}}}
	s := NewScheduler(Config{}, symbols("AAA"), fetcher, &recordingPublisher{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fetcher.calls)
}

func TestStartRunsOnStartAndStops(t *testing.T) {
	fetcher := &fakeFetcher{closes: map[string][]float64{"AAA": {100, 110}}}
	published := make(chan PriceAlert, 1)
	pub := PublisherFunc(func(_ context.Context, a PriceAlert) error {
		published <- a
		return nil
	})
	s := NewScheduler(Config{Interval: time.Hour, RunOnStart: true}, symbols("AAA"), fetcher, pub, quietLogger())

	s.Start(context.Background())
	select {
	case a := <-published:
		assert.Equal(t, "AAA", a.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sweep on start")
	}
	s.Stop()
	s.Stop()
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(Config{}, staticLister(nil), &fakeFetcher{}, nil, nil)
	assert.Equal(t, DefaultThreshold, s.Threshold())
	assert.Equal(t, DefaultInterval, s.cfg.Interval)
	assert.Equal(t, DefaultFetchTimeout, s.cfg.FetchTimeout)
}
