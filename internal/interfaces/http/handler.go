package http

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"quantstream/internal/alerts"
	"quantstream/internal/analytics"
	appmarketdata "quantstream/internal/application/service/marketdata"
	"quantstream/internal/backtest"
	entityalerts "quantstream/internal/domain/entity/alerts"
	marketdata "quantstream/internal/domain/entity/marketdata"
	interfaces "quantstream/internal/domain/interfaces"
	"quantstream/internal/infrastructure/push"
	"quantstream/internal/infrastructure/storage"
	"quantstream/internal/ingestion"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const apiBasePath = "/api/v1"

const (
	defaultWindow    = 20
	defaultTickLimit = 100
	defaultBarLimit  = 100
	exportLimit      = 10000
)

var (
	errMissingSymbols = errors.New("symbols list is required")
	errMissingPair    = errors.New("symbol1/symbol2 query params required")
	errMissingFile    = errors.New("file form field is required")
)

// Handler is the REST surface plus the websocket push endpoint. Read
// endpoints are stateless and safe to serve while the stream task runs.
type Handler struct {
	router     *gin.Engine
	marketdata *appmarketdata.Service
	analytics  *analytics.Engine
	alerts     *alerts.Engine
	backtest   *backtest.Simulator
	supervisor *ingestion.Supervisor
	hub        *push.Hub
	emitter    interfaces.Emitter
	cache      *redis.Client
	cacheTTL   time.Duration
	logger     *logrus.Entry
}

type Deps struct {
	MarketData *appmarketdata.Service
	Analytics  *analytics.Engine
	Alerts     *alerts.Engine
	Backtest   *backtest.Simulator
	Supervisor *ingestion.Supervisor
	Hub        *push.Hub
	Emitter    interfaces.Emitter
	Cache      *redis.Client
	CacheTTL   time.Duration
	Logger     *logrus.Logger
}

func NewHandler(deps Deps) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:     router,
		marketdata: deps.MarketData,
		analytics:  deps.Analytics,
		alerts:     deps.Alerts,
		backtest:   deps.Backtest,
		supervisor: deps.Supervisor,
		hub:        deps.Hub,
		emitter:    deps.Emitter,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		logger:     deps.Logger.WithField("component", "http"),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	if h.hub != nil {
		h.router.GET("/ws", func(c *gin.Context) {
			h.hub.Serve(c.Writer, c.Request)
		})
	}

	api := h.router.Group(apiBasePath)

	api.GET("/symbols", h.getSymbols)
	api.POST("/symbols", h.updateSymbols)
	api.GET("/stats", h.getStats)

	analyticsGroup := api.Group("/analytics")
	analyticsGroup.Use(h.cacheMiddleware())
	{
		analyticsGroup.GET("/pair", h.getPairAnalytics)
		analyticsGroup.GET("/:symbol", h.getAnalytics)
	}

	md := api.Group("/marketdata")
	{
		md.GET("/ticks/:symbol", h.getTicks)
		md.GET("/ohlc/:symbol", h.getBars)
	}

	alertGroup := api.Group("/alerts")
	{
		alertGroup.GET("", h.listAlerts)
		alertGroup.POST("", h.createAlert)
		alertGroup.GET("/history", h.alertHistory)
		alertGroup.DELETE("/history", h.clearAlertHistory)
		alertGroup.DELETE("/:id", h.deleteAlert)
	}

	api.GET("/backtest", h.runBacktest)
	api.POST("/import/ohlc", h.importCSV)
	api.GET("/export/:symbol", h.exportCSV)
}

func (h *Handler) getSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": h.supervisor.Symbols()})
}

type symbolsPayload struct {
	Symbols []string `json:"symbols"`
}

func (h *Handler) updateSymbols(c *gin.Context) {
	var payload symbolsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if len(payload.Symbols) == 0 {
		writeError(c, http.StatusBadRequest, errMissingSymbols)
		return
	}
	if err := h.supervisor.SetSymbols(payload.Symbols); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "symbols": payload.Symbols})
}

func (h *Handler) getAnalytics(c *gin.Context) {
	timeframe, window, err := analyticsParams(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	snapshot := h.analytics.ComputeSingle(c.Request.Context(), c.Param("symbol"), timeframe, window)
	for _, trigger := range h.alerts.EvaluateSnapshot(snapshot) {
		if h.emitter != nil {
			h.emitter.Emit(ingestion.EventAlertTriggered, trigger)
		}
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) getPairAnalytics(c *gin.Context) {
	symbol1, symbol2 := c.Query("symbol1"), c.Query("symbol2")
	if symbol1 == "" || symbol2 == "" {
		writeError(c, http.StatusBadRequest, errMissingPair)
		return
	}
	timeframe, window, err := analyticsParams(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, h.analytics.ComputePair(c.Request.Context(), symbol1, symbol2, timeframe, window))
}

func analyticsParams(c *gin.Context) (marketdata.Timeframe, int, error) {
	timeframe, err := marketdata.ParseTimeframe(c.DefaultQuery("timeframe", marketdata.Timeframe1m.String()))
	if err != nil {
		return "", 0, err
	}
	window, err := strconv.Atoi(c.DefaultQuery("window", strconv.Itoa(defaultWindow)))
	if err != nil {
		return "", 0, fmt.Errorf("parse window: %w", err)
	}
	return timeframe, window, nil
}

func (h *Handler) getTicks(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTickLimit)))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	ticks, err := h.marketdata.LastTicks(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "ticks": ticks})
}

func (h *Handler) getBars(c *gin.Context) {
	timeframe, err := marketdata.ParseTimeframe(c.DefaultQuery("timeframe", marketdata.Timeframe1m.String()))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultBarLimit)))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	bars, err := h.marketdata.LastBars(c.Request.Context(), c.Param("symbol"), timeframe, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "timeframe": timeframe, "bars": bars})
}

type alertPayload struct {
	Symbol    string  `json:"symbol"`
	Metric    string  `json:"metric"`
	Condition string  `json:"condition"`
	Threshold float64 `json:"threshold"`
	Message   string  `json:"message"`
}

func (h *Handler) listAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.alerts.List()})
}

func (h *Handler) createAlert(c *gin.Context) {
	var payload alertPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	metric, err := entityalerts.ParseMetric(payload.Metric)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	condition, err := entityalerts.ParseCondition(payload.Condition)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	rule, err := h.alerts.Create(payload.Symbol, metric, condition, payload.Threshold, payload.Message)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "alert_id": rule.ID})
}

func (h *Handler) deleteAlert(c *gin.Context) {
	if err := h.alerts.Delete(c.Param("id")); err != nil {
		if errors.Is(err, alerts.ErrRuleNotFound) {
			writeError(c, http.StatusNotFound, err)
			return
		}
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) alertHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": h.alerts.History(limit)})
}

func (h *Handler) clearAlertHistory(c *gin.Context) {
	h.alerts.ClearHistory()
	c.Status(http.StatusNoContent)
}

func (h *Handler) runBacktest(c *gin.Context) {
	symbol1, symbol2 := c.Query("symbol1"), c.Query("symbol2")
	if symbol1 == "" || symbol2 == "" {
		writeError(c, http.StatusBadRequest, errMissingPair)
		return
	}
	timeframe, err := marketdata.ParseTimeframe(c.DefaultQuery("timeframe", marketdata.Timeframe1m.String()))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, h.backtest.RunMeanReversion(c.Request.Context(), symbol1, symbol2, timeframe))
}

func (h *Handler) getStats(c *gin.Context) {
	count, err := h.marketdata.TickCount(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	stats := gin.H{
		"total_ticks":   count,
		"active_alerts": len(h.alerts.List()),
		"ingestion":     h.supervisor.Status(),
		"timestamp":     time.Now().UTC(),
	}
	if h.hub != nil {
		stats["ws_subscribers"] = h.hub.Subscribers()
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) importCSV(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, errMissingFile)
		return
	}
	defer file.Close()

	bars, err := storage.ParseBarCSV(file)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := h.marketdata.UpsertBars(c.Request.Context(), bars); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	h.logger.WithField("rows", len(bars)).Info("csv import finished")
	c.JSON(http.StatusOK, gin.H{"status": "success", "imported": len(bars)})
}

func (h *Handler) exportCSV(c *gin.Context) {
	timeframe, err := marketdata.ParseTimeframe(c.DefaultQuery("timeframe", marketdata.Timeframe1m.String()))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	rows, err := h.analytics.ExportRows(c.Request.Context(), c.Param("symbol"), timeframe, exportLimit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}

	filename := fmt.Sprintf("%s_%s_%s.csv", c.Param("symbol"), timeframe, time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "text/csv")
	if err := csv.NewWriter(c.Writer).WriteAll(rows); err != nil {
		h.logger.WithError(err).Warn("csv export write failed")
	}
}

// cacheMiddleware serves analytics responses from redis when a fresh copy
// exists, otherwise records the response body and stores successful ones.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Result(); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			_ = h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err()
		}
	}
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("cache:%s:%s?%s", c.Request.Method, c.FullPath(), c.Request.URL.RawQuery)
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
