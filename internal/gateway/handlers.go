package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tiongMax/stockwatch/internal/alert"
	"github.com/tiongMax/stockwatch/internal/bot"
	"github.com/tiongMax/stockwatch/internal/market"
	"github.com/tiongMax/stockwatch/internal/watchlist"
)

const defaultAckTimeout = 2500 * time.Millisecond

// Sweeper runs alert sweeps on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (alert.SweepResult, error)
	State() alert.State
}

// Responder delivers late slash-command replies through Slack's response_url.
type Responder interface {
	Respond(ctx context.Context, responseURL, text string, ephemeral bool) error
}

// Deps are the collaborators behind the HTTP surface. Stream and Responder
// are optional.
type Deps struct {
	Store         bot.Store
	Provider      market.Provider
	Sweeper       Sweeper
	Stream        http.Handler
	Responder     Responder
	SigningSecret string
	// AckTimeout bounds how long a slash command may run before Slack gets
	// an interim reply and the answer goes to response_url instead.
	AckTimeout time.Duration
	Logger     *slog.Logger
}

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	store      bot.Store
	provider   market.Provider
	dispatcher *bot.Dispatcher
	sweeper    Sweeper
	stream     http.Handler
	responder  Responder
	secret     string
	ackTimeout time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.AckTimeout <= 0 {
		d.AckTimeout = defaultAckTimeout
	}
	return &Handler{
		store:      d.Store,
		provider:   d.Provider,
		dispatcher: bot.NewDispatcher(d.Store, d.Provider, d.Logger),
		sweeper:    d.Sweeper,
		stream:     d.Stream,
		responder:  d.Responder,
		secret:     d.SigningSecret,
		ackTimeout: d.AckTimeout,
		logger:     d.Logger.With("component", "gateway"),
		now:        time.Now,
	}
}

type slashReply struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func toSlash(r bot.Reply) slashReply {
	rt := "in_channel"
	if r.Ephemeral {
		rt = "ephemeral"
	}
	return slashReply{ResponseType: rt, Text: r.Text}
}

// SlashCommand handles POST /slack/commands.
// Commands that outlive the ack timeout are answered through response_url.
func (h *Handler) SlashCommand(c *gin.Context) {
	command := c.PostForm("command")
	text := c.PostForm("text")
	responseURL := c.PostForm("response_url")

	h.logger.Info("Slash command received", "command", command, "text", text, "user", c.PostForm("user_name"))

	ctx := context.WithoutCancel(c.Request.Context())
	done := make(chan bot.Reply, 1)
	go func() {
		done <- h.dispatcher.HandleText(ctx, command, text)
	}()

	select {
	case reply := <-done:
		c.JSON(http.StatusOK, toSlash(reply))
		return
	case <-time.After(h.ackTimeout):
	}

	if h.responder == nil || responseURL == "" {
		reply := <-done
		c.JSON(http.StatusOK, toSlash(reply))
		return
	}

	c.JSON(http.StatusOK, slashReply{ResponseType: "ephemeral", Text: "Working on it..."})
	go func() {
		reply := <-done
		respondCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := h.responder.Respond(respondCtx, responseURL, reply.Text, reply.Ephemeral); err != nil {
			h.logger.Error("Delayed reply failed", "command", command, "error", err)
		}
	}()
}

type addRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// ListWatchlist handles GET /watchlist
func (h *Handler) ListWatchlist(c *gin.Context) {
	symbols := h.store.List()
	c.JSON(http.StatusOK, gin.H{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

// AddSymbol handles POST /watchlist
func (h *Handler) AddSymbol(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid AddSymbol payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts, err := h.store.Add(c.Request.Context(), req.Symbol, h.provider.ResolveMetadata)
	if err != nil {
		h.writeError(c, "add", req.Symbol, err)
		return
	}

	h.logger.Info("Symbol added", "symbol", ts.Symbol, "name", ts.DisplayName)
	c.JSON(http.StatusCreated, ts)
}

// RemoveSymbol handles DELETE /watchlist/:symbol
func (h *Handler) RemoveSymbol(c *gin.Context) {
	symbol := watchlist.Normalize(c.Param("symbol"))
	if err := h.store.Remove(symbol); err != nil {
		h.writeError(c, "remove", symbol, err)
		return
	}

	h.logger.Info("Symbol removed", "symbol", symbol)
	c.JSON(http.StatusOK, gin.H{"removed": symbol})
}

// GetPrice handles GET /price/:symbol
// Returns the latest close compared with the previous one.
func (h *Handler) GetPrice(c *gin.Context) {
	q, err := bot.LookupQuote(c.Request.Context(), h.store, h.provider, c.Param("symbol"))
	if errors.Is(err, bot.ErrNoPriceHistory) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not enough price history", "symbol": q.Symbol})
		return
	}
	if err != nil {
		h.writeError(c, "price", q.Symbol, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":         q.Symbol,
		"display_name":   q.DisplayName,
		"price":          q.Sample.CurrentPrice,
		"previous_close": q.Sample.PreviousClosePrice,
		"change_pct":     q.Sample.ChangePct(),
		"text":           q.String(),
	})
}

// RunSweep handles POST /sweep
func (h *Handler) RunSweep(c *gin.Context) {
	res, err := h.sweeper.Sweep(c.Request.Context())
	if errors.Is(err, alert.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Manual sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	alerts := res.Alerts
	if alerts == nil {
		alerts = []alert.PriceAlert{}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbols":  res.Symbols,
		"skipped":  res.Skipped,
		"failures": res.Failures,
		"alerts":   alerts,
		"elapsed":  res.Elapsed.String(),
	})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": "stockwatch",
		"symbols": len(h.store.List()),
	}
	if h.sweeper != nil {
		body["scheduler"] = h.sweeper.State().String()
	}
	c.JSON(http.StatusOK, body)
}

// writeError maps store and market errors to status codes.
func (h *Handler) writeError(c *gin.Context, op, symbol string, err error) {
	symbol = watchlist.Normalize(symbol)
	var perr *watchlist.PersistenceError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, watchlist.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, watchlist.ErrSymbolNotFound), errors.Is(err, watchlist.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, watchlist.ErrInvalidSymbol):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
		h.logger.Warn("Market data unavailable", "op", op, "symbol", symbol, "error", err)
	case errors.As(err, &perr):
		h.logger.Error("Watchlist change not saved", "op", op, "symbol", symbol, "path", perr.Path, "error", perr.Err)
	default:
		h.logger.Error("Request failed", "op", op, "symbol", symbol, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "symbol": symbol})
}
