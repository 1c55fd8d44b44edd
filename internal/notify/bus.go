package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/tiongMax/stockwatch/internal/alert"
)

const (
	alertTopic = "alert:price"

	// queueSize bounds how far one slow sink may fall behind before
	// PublishAlert blocks on it.
	queueSize = 256
)

// Sink receives every alert published on the bus.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a alert.PriceAlert) error
}

// Bus fans alerts out to the registered sinks. Each sink has its own queue
// drained by one goroutine, so a sink sees alerts in publish order and a
// slow sink does not hold up the others. A failing sink is logged and never
// reported back to the publisher.
type Bus struct {
	bus     EventBus.Bus
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	sinks   []string
	queues  []chan alert.PriceAlert
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
}

func NewBus(deliverTimeout time.Duration, logger *slog.Logger) *Bus {
	if deliverTimeout <= 0 {
		deliverTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		bus:     EventBus.New(),
		timeout: deliverTimeout,
		logger:  logger.With("component", "notify_bus"),
	}
}

// Register subscribes s to every future alert.
func (b *Bus) Register(s Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("subscribe sink %s: bus closed", s.Name())
	}

	queue := make(chan alert.PriceAlert, queueSize)
	enqueue := func(a alert.PriceAlert) {
		b.pending.Add(1)
		queue <- a
	}
	if err := b.bus.Subscribe(alertTopic, enqueue); err != nil {
		return fmt.Errorf("subscribe sink %s: %w", s.Name(), err)
	}

	b.sinks = append(b.sinks, s.Name())
	b.queues = append(b.queues, queue)
	b.workers.Add(1)
	go b.drain(s, queue)

	b.logger.Info("Registered alert sink", "sink", s.Name())
	return nil
}

func (b *Bus) drain(s Sink, queue <-chan alert.PriceAlert) {
	defer b.workers.Done()
	for a := range queue {
		b.deliver(s, a)
		b.pending.Done()
	}
}

func (b *Bus) deliver(s Sink, a alert.PriceAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := s.Deliver(ctx, a); err != nil {
		b.logger.Error("Alert delivery failed", "sink", s.Name(), "symbol", a.Symbol, "alert_id", a.ID, "error", err)
		return
	}
	b.logger.Debug("Alert delivered", "sink", s.Name(), "symbol", a.Symbol, "alert_id", a.ID)
}

// Sinks lists the registered sink names.
func (b *Bus) Sinks() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.sinks...)
}

// PublishAlert implements alert.Publisher. It returns once the alert is
// queued for every sink.
func (b *Bus) PublishAlert(_ context.Context, a alert.PriceAlert) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("publish alert %s: bus closed", a.Symbol)
	}
	if len(b.sinks) == 0 {
		b.logger.Warn("No alert sinks registered, dropping alert", "symbol", a.Symbol)
		return nil
	}
	b.bus.Publish(alertTopic, a)
	return nil
}

// Wait blocks until every queued alert has been delivered.
func (b *Bus) Wait() {
	b.pending.Wait()
}

// Close stops accepting alerts, delivers what is queued and stops the
// sink goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()
	b.workers.Wait()
}
