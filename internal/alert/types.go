package alert

import (
	"context"
	"time"
)

// PriceAlert is emitted when a tracked symbol moved more than the threshold
// since the previous close.
type PriceAlert struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	DisplayName   string    `json:"display_name"`
	ChangePct     float64   `json:"change_pct"`
	CurrentPrice  float64   `json:"current_price"`
	PreviousClose float64   `json:"previous_close"`
	TriggeredAt   time.Time `json:"triggered_at"`
}

// Publisher delivers alerts to the messaging side.
type Publisher interface {
	PublishAlert(ctx context.Context, a PriceAlert) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, a PriceAlert) error

func (f PublisherFunc) PublishAlert(ctx context.Context, a PriceAlert) error { return f(ctx, a) }

// State is the scheduler's run state.
type State int32

const (
	Idle State = iota
	Sweeping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}
