package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"klinecast/internal/domain/models"
	drepo "klinecast/internal/domain/repository"
	"klinecast/internal/service/cache"
	"klinecast/internal/service/ratelimit"
	"klinecast/internal/usecase"
	xhttp "klinecast/pkg/http"
	xlogger "klinecast/pkg/logger"
)

const (
	symbolsCacheKey = "symbols"
	symbolsCacheTTL = 5 * time.Second

	// Manual syncs hit the upstream exchange, so each client address
	// gets a small token bucket.
	syncBurst  = 3
	syncRefill = 0.2 // tokens per second
)

// Handler serves the REST API over the store and the ingestor.
type Handler struct {
	logger   *xlogger.Logger
	store    drepo.Store
	ingestor *usecase.Ingestor
	cache    *cache.TTLCache
	limiter  *ratelimit.Limiter
}

func NewHandler(logger *xlogger.Logger, store drepo.Store, ingestor *usecase.Ingestor) *Handler {
	return &Handler{
		logger:   logger,
		store:    store,
		ingestor: ingestor,
		cache:    cache.NewTTLCache(),
		limiter:  ratelimit.New(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/symbols", h.Symbols)
	g.POST("/sync", h.Sync)
	g.GET("/data/:symbol", h.Data)
	g.GET("/predictions/:symbol", h.Predictions)
	g.GET("/stats/:symbol", h.Stats)
}

// Health reports process and storage liveness. Storage failure turns
// the endpoint into a 503 so load balancers drain the instance.
func (h *Handler) Health(c echo.Context) error {
	body := map[string]string{
		"status":   "ok",
		"service":  "klinecast",
		"database": "connected",
	}
	if err := h.store.Ping(c.Request().Context()); err != nil {
		body["status"] = "unhealthy"
		body["database"] = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}

// Symbols lists every symbol with data, with summary statistics. The
// listing aggregates over every collection, so it is served from a
// short-lived cache.
func (h *Handler) Symbols(c echo.Context) error {
	if v, ok := h.cache.Get(symbolsCacheKey); ok {
		return xhttp.SuccessResponse(c, v.([]models.SymbolStats))
	}

	stats, err := h.store.ListSymbols(c.Request().Context())
	if err != nil {
		h.logger.Error("list symbols failed", xlogger.Error(err))
		return h.storageError(c, err)
	}

	h.cache.Set(symbolsCacheKey, stats, symbolsCacheTTL)
	return xhttp.SuccessResponse(c, stats)
}

// SyncRequest is the POST /api/sync body.
type SyncRequest struct {
	Symbol string `json:"symbol" validate:"required"`
}

// SyncResponse mirrors one completed on-demand sync.
type SyncResponse struct {
	Success    bool                `json:"success"`
	Symbol     string              `json:"symbol"`
	NewRecords int64               `json:"new_records"`
	Statistics *models.SymbolStats `json:"statistics"`
}

// Sync triggers a synchronous catch-up for one symbol and returns the
// resulting statistics.
func (h *Handler) Sync(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP(), syncBurst, syncRefill) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many sync requests"))
	}

	req := &SyncRequest{}
	if verrs := xhttp.ReadAndValidateRequest(c, req); len(verrs) > 0 {
		return xhttp.BadRequestResponse(c, verrs[0].Message)
	}

	symbol := strings.ToUpper(req.Symbol)
	inserted, err := h.ingestor.SyncSymbol(c.Request().Context(), symbol)
	if err != nil {
		h.logger.Error("manual sync failed",
			xlogger.String("symbol", symbol),
			xlogger.Error(err))
		return h.storageError(c, err)
	}

	if inserted > 0 {
		h.cache.Invalidate(symbolsCacheKey)
	}

	stats, err := h.store.Stats(c.Request().Context(), symbol)
	if err != nil {
		return h.storageError(c, err)
	}

	return xhttp.SuccessResponse(c, &SyncResponse{
		Success:    true,
		Symbol:     symbol,
		NewRecords: inserted,
		Statistics: stats,
	})
}

// SeriesResponse wraps a candle or prediction range.
type SeriesResponse struct {
	Success bool        `json:"success"`
	Symbol  string      `json:"symbol"`
	Count   int         `json:"count"`
	Data    interface{} `json:"data"`
}

// Data returns real candles for a symbol, filtered by the optional
// start_time/end_time/limit query parameters (milliseconds).
func (h *Handler) Data(c echo.Context) error {
	symbol, startMs, endMs, limit, err := h.rangeParams(c)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	if _, err := h.store.Stats(c.Request().Context(), symbol); err != nil {
		return h.storageError(c, err)
	}

	candles, err := h.store.CandlesRange(c.Request().Context(), symbol, startMs, endMs, limit)
	if err != nil {
		h.logger.Error("candle range failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		return h.storageError(c, err)
	}

	return xhttp.SuccessResponse(c, &SeriesResponse{
		Success: true,
		Symbol:  symbol,
		Count:   len(candles),
		Data:    candles,
	})
}

// Predictions returns predicted candles with the same range semantics
// as Data.
func (h *Handler) Predictions(c echo.Context) error {
	symbol, startMs, endMs, limit, err := h.rangeParams(c)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	if _, err := h.store.Stats(c.Request().Context(), symbol); err != nil {
		return h.storageError(c, err)
	}

	preds, err := h.store.PredictionsRange(c.Request().Context(), symbol, startMs, endMs, limit)
	if err != nil {
		h.logger.Error("prediction range failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		return h.storageError(c, err)
	}

	return xhttp.SuccessResponse(c, &SeriesResponse{
		Success: true,
		Symbol:  symbol,
		Count:   len(preds),
		Data:    preds,
	})
}

// StatsResponse wraps one symbol's statistics.
type StatsResponse struct {
	Success    bool                `json:"success"`
	Statistics *models.SymbolStats `json:"statistics"`
}

func (h *Handler) Stats(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol is required")
	}

	stats, err := h.store.Stats(c.Request().Context(), symbol)
	if err != nil {
		return h.storageError(c, err)
	}
	return xhttp.SuccessResponse(c, &StatsResponse{Success: true, Statistics: stats})
}

func (h *Handler) rangeParams(c echo.Context) (symbol string, startMs, endMs, limit int64, err error) {
	symbol = strings.ToUpper(c.Param("symbol"))
	if symbol == "" {
		return "", 0, 0, 0, errors.New("symbol is required")
	}

	if raw := c.QueryParam("start_time"); raw != "" {
		v, ok := xhttp.ParseMillis(raw)
		if !ok {
			return "", 0, 0, 0, errors.New("start_time must be milliseconds since epoch")
		}
		startMs = v
	}
	if raw := c.QueryParam("end_time"); raw != "" {
		v, ok := xhttp.ParseMillis(raw)
		if !ok {
			return "", 0, 0, 0, errors.New("end_time must be milliseconds since epoch")
		}
		endMs = v
	}
	if startMs > 0 && endMs > 0 && endMs < startMs {
		return "", 0, 0, 0, errors.New("end_time must not precede start_time")
	}

	limit = int64(xhttp.ParseIntDefault(c.QueryParam("limit"), 1000))
	if limit < 0 {
		return "", 0, 0, 0, errors.New("limit must be non-negative")
	}
	return symbol, startMs, endMs, limit, nil
}

// storageError maps store failures onto the uniform error body.
func (h *Handler) storageError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrUnknownSymbol):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("unknown symbol"))
	case errors.Is(err, models.ErrStorageUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("storage unavailable"))
	default:
		return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
	}
}
