package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/tiongMax/stockwatch/internal/market"
	"github.com/tiongMax/stockwatch/internal/notify"
	"github.com/tiongMax/stockwatch/internal/watchlist"
)

// Store is the subset of the watchlist store the bot drives.
type Store interface {
	Add(ctx context.Context, symbol string, resolve watchlist.ResolveFunc) (watchlist.TrackedSymbol, error)
	Remove(symbol string) error
	List() []watchlist.TrackedSymbol
	Get(symbol string) (watchlist.TrackedSymbol, bool)
}

// Reply is the text sent back to the user. Err carries the underlying
// failure for logging and is never shown.
type Reply struct {
	Text      string
	Ephemeral bool
	Err       error
}

// Dispatcher maps commands to store and market operations.
type Dispatcher struct {
	store    Store
	provider market.Provider
	logger   *slog.Logger
}

func NewDispatcher(store Store, provider market.Provider, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, provider: provider, logger: logger.With("component", "bot")}
}

// HandleText parses and handles a raw slash command.
func (d *Dispatcher) HandleText(ctx context.Context, command, text string) Reply {
	cmd, err := ParseCommand(command, text)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return Reply{Text: fmt.Sprintf("Unknown command %q.\n%s", strings.TrimSpace(command+" "+text), helpText), Ephemeral: true, Err: err}
	case errors.Is(err, ErrMissingSymbol):
		return Reply{Text: fmt.Sprintf("Usage: /%s <symbol>", cmd.Action), Ephemeral: true, Err: err}
	}
	return d.Handle(ctx, cmd)
}

// Handle runs one command. It never panics and never returns an error:
// every outcome becomes reply text.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Command panicked", "action", cmd.Action, "symbol", cmd.Symbol, "panic", r)
			reply = Reply{
				Text:      "Something went wrong handling that command.",
				Ephemeral: true,
				Err:       fmt.Errorf("panic: %v", r),
			}
		}
	}()

	switch cmd.Action {
	case ActionAdd:
		return d.add(ctx, cmd.Symbol)
	case ActionRemove:
		return d.remove(cmd.Symbol)
	case ActionList:
		return d.list()
	case ActionPrice:
		return d.price(ctx, cmd.Symbol)
	case ActionHelp:
		return Reply{Text: helpText, Ephemeral: true}
	default:
		return Reply{Text: helpText, Ephemeral: true, Err: ErrUnknownCommand}
	}
}

func (d *Dispatcher) add(ctx context.Context, symbol string) Reply {
	ts, err := d.store.Add(ctx, symbol, d.provider.ResolveMetadata)
	if err != nil {
		return d.failure("add", symbol, err)
	}
	d.logger.Info("Symbol added", "symbol", ts.Symbol, "name", ts.DisplayName)
	return Reply{Text: fmt.Sprintf("Added %s (%s) to the watchlist.", ts.Symbol, ts.DisplayName)}
}

func (d *Dispatcher) remove(symbol string) Reply {
	if err := d.store.Remove(symbol); err != nil {
		return d.failure("remove", symbol, err)
	}
	sym := watchlist.Normalize(symbol)
	d.logger.Info("Symbol removed", "symbol", sym)
	return Reply{Text: fmt.Sprintf("Removed %s from the watchlist.", sym)}
}

func (d *Dispatcher) list() Reply {
	symbols := d.store.List()
	if len(symbols) == 0 {
		return Reply{Text: "The watchlist is empty. Add a symbol with `/add <symbol>`."}
	}
	return Reply{Text: fmt.Sprintf("Watchlist (%d):\n```\n%s```", len(symbols), RenderTable(symbols))}
}

// RenderTable formats symbols as a plain-text table.
func RenderTable(symbols []watchlist.TrackedSymbol) string {
	out := &strings.Builder{}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Symbol", "Name", "Added"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, ts := range symbols {
		added := "-"
		if !ts.AddedAt.IsZero() {
			added = ts.AddedAt.UTC().Format("2006-01-02")
		}
		table.Append([]string{ts.Symbol, ts.DisplayName, added})
	}
	table.Render()
	return out.String()
}

func (d *Dispatcher) price(ctx context.Context, symbol string) Reply {
	q, err := LookupQuote(ctx, d.store, d.provider, symbol)
	if errors.Is(err, ErrNoPriceHistory) {
		return Reply{Text: fmt.Sprintf("Not enough price history for %s yet.", q.Symbol), Ephemeral: true}
	}
	if err != nil {
		return d.failure("price", symbol, err)
	}
	return Reply{Text: q.String()}
}

// ErrNoPriceHistory means the symbol exists but has fewer than two closes.
var ErrNoPriceHistory = errors.New("not enough price history")

// PriceQuote is a symbol's latest close against the previous one.
type PriceQuote struct {
	Symbol      string
	DisplayName string
	Sample      market.PriceSample
}

func (q PriceQuote) String() string { return FormatQuote(q.Symbol, q.DisplayName, q.Sample) }

// LookupQuote validates symbol, resolves its name (from the watchlist when
// tracked, otherwise from the provider) and fetches a two-point quote.
// Errors are watchlist.ErrInvalidSymbol, watchlist.ErrSymbolNotFound,
// ErrNoPriceHistory or a provider error. Symbol is set on the result even
// when an error is returned.
func LookupQuote(ctx context.Context, store Store, provider market.Provider, symbol string) (PriceQuote, error) {
	q := PriceQuote{Symbol: watchlist.Normalize(symbol)}
	if !watchlist.ValidSymbol(q.Symbol) {
		return q, fmt.Errorf("%w: %q", watchlist.ErrInvalidSymbol, q.Symbol)
	}

	if ts, ok := store.Get(q.Symbol); ok {
		q.DisplayName = ts.DisplayName
	} else {
		name, ok, err := provider.ResolveMetadata(ctx, q.Symbol)
		if err != nil {
			return q, err
		}
		if !ok || name == "" {
			return q, fmt.Errorf("%w: %s", watchlist.ErrSymbolNotFound, q.Symbol)
		}
		q.DisplayName = name
	}

	sample, ok, err := market.Quote(ctx, provider, q.Symbol)
	if err != nil {
		return q, err
	}
	if !ok {
		return q, fmt.Errorf("%w: %s", ErrNoPriceHistory, q.Symbol)
	}
	q.Sample = sample
	return q, nil
}

// FormatQuote renders "TSLA (Tesla, Inc.): 250.12 (+1.23% vs prev close)".
func FormatQuote(symbol, name string, sample market.PriceSample) string {
	return fmt.Sprintf("%s (%s): %.2f (%s vs prev close)",
		symbol, name, sample.CurrentPrice, notify.FormatPct(sample.ChangePct()))
}

// failure maps an operation error to user-facing text.
func (d *Dispatcher) failure(op, symbol string, err error) Reply {
	sym := watchlist.Normalize(symbol)
	reply := Reply{Ephemeral: true, Err: err}

	var perr *watchlist.PersistenceError
	switch {
	case errors.Is(err, watchlist.ErrAlreadyExists):
		reply.Text = fmt.Sprintf("%s is already on the watchlist.", sym)
	case errors.Is(err, watchlist.ErrSymbolNotFound):
		reply.Text = fmt.Sprintf("Could not find a stock with symbol %s.", sym)
	case errors.Is(err, watchlist.ErrNotFound):
		reply.Text = fmt.Sprintf("%s is not on the watchlist.", sym)
	case errors.Is(err, watchlist.ErrInvalidSymbol):
		reply.Text = fmt.Sprintf("%q is not a valid ticker symbol.", strings.TrimSpace(symbol))
	case errors.Is(err, market.ErrUpstreamUnavailable):
		d.logger.Warn("Market data unavailable", "op", op, "symbol", sym, "error", err)
		reply.Text = "Market data is unavailable right now, please try again later."
	case errors.As(err, &perr):
		d.logger.Error("Watchlist change not saved", "op", op, "symbol", sym, "path", perr.Path, "error", perr.Err)
		reply.Text = fmt.Sprintf("Could not save the watchlist, so %s was not changed.", sym)
	default:
		d.logger.Error("Command failed", "op", op, "symbol", sym, "error", err)
		reply.Text = "Something went wrong handling that command."
	}
	return reply
}
