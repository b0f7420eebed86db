package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"OTCFeed/internal/domain/models"
	domrepo "OTCFeed/internal/domain/repository"
	"OTCFeed/internal/service/catalog"
	"OTCFeed/internal/usecase"
	xhttp "OTCFeed/pkg/http"
	xlogger "OTCFeed/pkg/logger"
)

// CandlesQuery answers historical candle requests.
type CandlesQuery interface {
	GetCandles(ctx context.Context, p usecase.GetCandlesParams) (*usecase.GetCandlesResult, error)
}

// StatusReader reports market status and active sources.
type StatusReader interface {
	Status(symbol string) (models.MarketStatus, error)
	Sources() map[string]string
}

// PriceReader reads the Source-of-Truth Store.
type PriceReader interface {
	Get(ctx context.Context, symbol string) (models.Tick, error)
	Latest(ctx context.Context, symbols []string) (map[string]models.Tick, error)
	Recent(ctx context.Context, symbol string, n int) ([]models.Tick, error)
}

// Degradable reports whether a component is running on its fallback.
type Degradable interface {
	Degraded() bool
}

// HealthChecker is an optional dependency probed by /health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// MarketDeps holds the collaborators of MarketHandler. Store, Archive and
// Subscribers are optional.
type MarketDeps struct {
	Candles     CandlesQuery
	Status      StatusReader
	Prices      PriceReader
	Catalog     *catalog.Catalog
	Store       Degradable
	Archive     HealthChecker
	Subscribers func() int
	Logger      *xlogger.Logger
}

// MarketHandler serves the market data HTTP API.
type MarketHandler struct {
	deps   MarketDeps
	logger *xlogger.Logger
}

func NewMarketHandler(deps MarketDeps) *MarketHandler {
	if deps.Logger == nil {
		deps.Logger = xlogger.Nop()
	}
	return &MarketHandler{deps: deps, logger: deps.Logger.With(xlogger.String("component", "api"))}
}

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/price", h.Price)
	g.GET("/price/:symbol", h.Price)
	g.GET("/history", h.History)
	g.GET("/market-status", h.Status)
	g.GET("/instruments", h.Instruments)
	e.GET("/health", h.Health)
}

// Candles returns a bare oldest-first candle array. The serving source and
// OTC flag travel in headers so chart clients can consume the body directly.
func (h *MarketHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.deps.Candles.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:    req.Symbol,
		Timeframe: domrepo.NormalizeTimeframe(req.Timeframe),
		Limit:     req.Limit,
	})
	if err != nil {
		return h.fail(c, "candles", req.Symbol, err)
	}
	c.Response().Header().Set("X-Candle-Source", res.Source)
	c.Response().Header().Set("X-OTC", strconv.FormatBool(res.IsOTC))
	return c.JSON(http.StatusOK, res.Candles)
}

// Price returns the last stored tick. The symbol comes from the path
// (/api/price/EUR%2FUSD) or the query (/api/price?symbol=EUR/USD).
func (h *MarketHandler) Price(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := req.Symbol
	if s, err := url.PathUnescape(symbol); err == nil {
		symbol = s
	}
	symbol = catalog.Normalize(symbol)
	if !h.deps.Catalog.Enabled(symbol) {
		return xhttp.AppErrorResponse(c, xhttp.UnknownSymbolError(symbol))
	}

	tick, err := h.deps.Prices.Get(c.Request().Context(), symbol)
	if err != nil {
		return h.fail(c, "price", symbol, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, tick)
}

// History returns up to limit recent ticks, newest first.
func (h *MarketHandler) History(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := catalog.Normalize(req.Symbol)
	if !h.deps.Catalog.Enabled(symbol) {
		return xhttp.AppErrorResponse(c, xhttp.UnknownSymbolError(symbol))
	}
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)
	if limit < 1 || limit > 1000 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("limit must be between 1 and 1000"))
	}

	ticks, err := h.deps.Prices.Recent(c.Request().Context(), symbol, limit)
	if err != nil {
		return h.fail(c, "history", symbol, err)
	}
	return xhttp.ListResponse(c, ticks, int64(len(ticks)))
}

func (h *MarketHandler) Status(c echo.Context) error {
	req := &models.SymbolRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.deps.Status.Status(req.Symbol)
	if err != nil {
		return h.fail(c, "market-status", req.Symbol, err)
	}
	return xhttp.SuccessResponse(c, st)
}

type instrumentView struct {
	models.Instrument
	Status    models.MarketStatus `json:"status"`
	LastPrice float64             `json:"lastPrice,omitempty"`
	Source    string              `json:"source,omitempty"`
}

// Instruments lists the enabled catalog with status, last price and active source.
func (h *MarketHandler) Instruments(c echo.Context) error {
	all := h.deps.Catalog.All()
	symbols := make([]string, 0, len(all))
	for _, in := range all {
		if in.Enabled {
			symbols = append(symbols, in.Symbol)
		}
	}

	latest, err := h.deps.Prices.Latest(c.Request().Context(), symbols)
	if err != nil {
		h.logger.Warn("latest prices unavailable", xlogger.Error(err))
	}
	sources := h.deps.Status.Sources()

	rows := make([]instrumentView, 0, len(symbols))
	for _, in := range all {
		if !in.Enabled {
			continue
		}
		st, _ := h.deps.Status.Status(in.Symbol)
		rows = append(rows, instrumentView{
			Instrument: in,
			Status:     st,
			LastPrice:  latest[in.Symbol].Price,
			Source:     sources[in.Symbol],
		})
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

type healthView struct {
	Status        string            `json:"status"`
	StoreDegraded bool              `json:"storeDegraded"`
	Archive       string            `json:"archive,omitempty"`
	Subscribers   int               `json:"subscribers"`
	Sources       map[string]string `json:"sources"`
	Time          int64             `json:"time"`
}

// Health never fails: a degraded store or archive is reported, not fatal.
func (h *MarketHandler) Health(c echo.Context) error {
	v := healthView{Status: "ok", Sources: h.deps.Status.Sources(), Time: time.Now().UnixMilli()}
	if h.deps.Store != nil && h.deps.Store.Degraded() {
		v.StoreDegraded = true
		v.Status = "degraded"
	}
	if h.deps.Archive != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		err := h.deps.Archive.Health(ctx)
		cancel()
		if err != nil {
			v.Archive = "unavailable"
			v.Status = "degraded"
		} else {
			v.Archive = "ok"
		}
	}
	if h.deps.Subscribers != nil {
		v.Subscribers = h.deps.Subscribers()
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *MarketHandler) fail(c echo.Context, op, symbol string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrUnknownInstrument):
		return xhttp.AppErrorResponse(c, xhttp.UnknownSymbolError(symbol))
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no price for %s yet", symbol))
	}
	h.logger.Error(op+" failed", xlogger.String("symbol", symbol), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("upstream data unavailable").WithError(err))
}
