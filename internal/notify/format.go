package notify

import (
	"fmt"

	"github.com/tiongMax/stockwatch/internal/alert"
)

// FormatPct renders a percentage with an explicit sign, e.g. "+1.23%".
func FormatPct(pct float64) string {
	return fmt.Sprintf("%+.2f%%", pct)
}

// FormatAlert renders an alert as one chat line.
func FormatAlert(a alert.PriceAlert) string {
	direction := "up"
	if a.ChangePct < 0 {
		direction = "down"
	}
	name := a.DisplayName
	if name == "" {
		name = a.Symbol
	}
	return fmt.Sprintf(":rotating_light: %s (%s) is %s %s since the previous close: %.2f (prev %.2f)",
		a.Symbol, name, direction, FormatPct(a.ChangePct), a.CurrentPrice, a.PreviousClose)
}
