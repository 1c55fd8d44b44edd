package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tiongMax/stockwatch/internal/market"
	"github.com/tiongMax/stockwatch/internal/watchlist"
)

const (
	DefaultInterval     = time.Hour
	DefaultThreshold    = 5.0
	DefaultFetchTimeout = 10 * time.Second

	// pointCount is the most recent close plus the one before it.
	pointCount = 2
)

// ErrSweepInProgress is returned by Sweep when another sweep is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Lister supplies the symbols to sweep.
type Lister interface {
	List() []watchlist.TrackedSymbol
}

// PriceFetcher supplies recent closes for a symbol.
type PriceFetcher interface {
	FetchRecentPrices(ctx context.Context, symbol string, pointCount int) ([]market.PricePoint, error)
}

// Config controls the sweep cadence and sensitivity.
type Config struct {
	Interval     time.Duration
	Threshold    float64
	FetchTimeout time.Duration
	// RunOnStart sweeps once immediately instead of waiting a full interval.
	RunOnStart bool
}

// SweepResult summarizes one pass over the watchlist.
type SweepResult struct {
	Symbols  int
	Skipped  int
	Failures int
	Alerts   []PriceAlert
	Elapsed  time.Duration
}

// Scheduler periodically checks every tracked symbol for large moves.
type Scheduler struct {
	cfg       Config
	store     Lister
	prices    PriceFetcher
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	sweepMu sync.Mutex
	state   atomic.Int32

	done    chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once
}

// NewScheduler creates a scheduler. Zero config fields take the defaults.
func NewScheduler(cfg Config, store Lister, prices PriceFetcher, publisher Publisher, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		prices:    prices,
		publisher: publisher,
		logger:    logger.With("component", "alert_scheduler"),
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// State reports whether a sweep is running.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Threshold returns the configured alert threshold in percent.
func (s *Scheduler) Threshold() float64 { return s.cfg.Threshold }

// ShouldTriggerAlert reports whether a move is strictly larger than the
// threshold in either direction.
func ShouldTriggerAlert(changePct, threshold float64) bool {
	return math.Abs(changePct) > threshold
}

// Start runs sweeps on a ticker until ctx is done or Stop is called.
// Ticks that arrive while a sweep is running are dropped by the ticker.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info("Alert scheduler started",
			"interval", s.cfg.Interval.String(), "threshold", s.cfg.Threshold)

		if s.cfg.RunOnStart {
			s.tick(ctx)
		}

		for {
			select {
			case <-s.done:
				s.logger.Info("Alert scheduler shutting down")
				return
			case <-ctx.Done():
				s.logger.Info("Alert scheduler context done")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if errors.Is(err, ErrSweepInProgress) {
		s.logger.Warn("Skipping tick, previous sweep still running")
		return
	}
	if err != nil {
		s.logger.Error("Sweep failed", "error", err)
		return
	}
	if res.Symbols > 0 {
		s.logger.Info("Sweep complete",
			"symbols", res.Symbols,
			"alerts", len(res.Alerts),
			"skipped", res.Skipped,
			"failures", res.Failures,
			"elapsed", res.Elapsed.String())
	}
}

// Sweep evaluates every tracked symbol once and publishes an alert for each
// qualifying move, in watchlist order. A failure on one symbol is logged and
// does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	if !s.sweepMu.TryLock() {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()

	s.state.Store(int32(Sweeping))
	defer s.state.Store(int32(Idle))

	start := s.now()
	symbols := s.store.List()
	res := SweepResult{Symbols: len(symbols)}
	if len(symbols) == 0 {
		return res, nil
	}

	for _, ts := range symbols {
		if err := ctx.Err(); err != nil {
			res.Elapsed = s.now().Sub(start)
			return res, fmt.Errorf("sweep interrupted: %w", err)
		}

		alert, ok, err := s.evaluate(ctx, ts)
		if err != nil {
			res.Failures++
			s.logger.Warn("Price fetch failed", "symbol", ts.Symbol, "error", err)
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}

		res.Alerts = append(res.Alerts, alert)
		if s.publisher == nil {
			continue
		}
		if err := s.publisher.PublishAlert(ctx, alert); err != nil {
			res.Failures++
			s.logger.Error("Failed to publish alert", "symbol", alert.Symbol, "error", err)
			continue
		}
		s.logger.Info("Price alert triggered",
			"symbol", alert.Symbol, "change_pct", alert.ChangePct, "alert_id", alert.ID)
	}

	res.Elapsed = s.now().Sub(start)
	return res, nil
}

// evaluate returns an alert for ts when its last move exceeds the threshold.
// ok is false for symbols with too little history or a small move.
func (s *Scheduler) evaluate(ctx context.Context, ts watchlist.TrackedSymbol) (PriceAlert, bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	points, err := s.prices.FetchRecentPrices(fetchCtx, ts.Symbol, pointCount)
	if err != nil {
		return PriceAlert{}, false, err
	}

	now := s.now()
	sample, ok := market.SampleFromPoints(ts.Symbol, points, now)
	if !ok {
		s.logger.Debug("Not enough history", "symbol", ts.Symbol, "points", len(points))
		return PriceAlert{}, false, nil
	}

	change := sample.ChangePct()
	if !ShouldTriggerAlert(change, s.cfg.Threshold) {
		return PriceAlert{}, false, nil
	}

	name := ts.DisplayName
	if name == "" {
		name = ts.Symbol
	}
	return PriceAlert{
		ID:            uuid.NewString(),
		Symbol:        ts.Symbol,
		DisplayName:   name,
		ChangePct:     change,
		CurrentPrice:  sample.CurrentPrice,
		PreviousClose: sample.PreviousClosePrice,
		TriggeredAt:   now.UTC(),
	}, true, nil
}

// Stop ends the ticker loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.done) })
	s.wg.Wait()
	s.logger.Info("Alert scheduler stopped")
}
