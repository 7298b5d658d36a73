package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tfmr/engine"
	"tfmr/fetcher"
	"tfmr/internal/storage"
)

// Handler serves scan and backtest operations over the run archive.
type Handler struct {
	store    *storage.Store
	provider engine.DataProvider
	universe *fetcher.UniverseSource
	runCfg   engine.RunConfig
	log      *logrus.Logger

	startedAt time.Time
}

func NewHandler(store *storage.Store, provider engine.DataProvider, universe *fetcher.UniverseSource, runCfg engine.RunConfig, log *logrus.Logger) *Handler {
	return &Handler{
		store:     store,
		provider:  provider,
		universe:  universe,
		runCfg:    runCfg,
		log:       log,
		startedAt: time.Now(),
	}
}

type scanRequest struct {
	Universe []string `json:"universe"`
	SortKey  string   `json:"sort_key"`
	Workers  int      `json:"workers"`
}

// RunScan scans the requested universe, defaulting to the configured one and
// falling back to the live top-100. The run is archived before responding.
func (h *Handler) RunScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cfg := h.runCfg
	source := "request"
	switch {
	case len(req.Universe) > 0:
		cfg.Universe = normalizeAll(req.Universe)
	case len(cfg.Universe) > 0:
		source = "config"
	default:
		entries, src := h.universe.Top100(c.Request.Context())
		cfg.Universe = fetcher.Symbols(entries)
		source = src
	}
	if req.SortKey != "" {
		cfg.SortKey = req.SortKey
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}

	started := time.Now().UTC()
	result, err := engine.Scan(c.Request.Context(), h.provider, cfg, nil)
	if err != nil {
		h.log.WithError(err).Error("scan failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run := &storage.ScanRun{
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Source:     source,
		Result:     result,
	}
	if err := h.store.SaveScanRun(c.Request.Context(), run); err != nil {
		h.log.WithError(err).Error("archive scan run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to archive run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 0, "data": run})
}

type backtestRequest struct {
	Symbols []string `json:"symbols"`
	Workers int      `json:"workers"`
}

// RunBacktest replays the requested symbols with the configured strategy.
func (h *Handler) RunBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	cfg := h.runCfg
	if len(req.Symbols) > 0 {
		cfg.Universe = normalizeAll(req.Symbols)
	}
	if len(cfg.Universe) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no symbols to backtest"})
		return
	}
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}

	started := time.Now().UTC()
	reports, scanErrs, err := engine.BacktestUniverse(c.Request.Context(), h.provider, cfg, nil)
	if err != nil {
		h.log.WithError(err).Error("backtest failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run := &storage.BacktestRun{
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Reports:    reports,
		Errors:     scanErrs,
	}
	if err := h.store.SaveBacktestRun(c.Request.Context(), run); err != nil {
		h.log.WithError(err).Error("archive backtest run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to archive run"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": 0, "data": run})
}

// GetUniverse resolves the current top-100 with its source label.
func (h *Handler) GetUniverse(c *gin.Context) {
	entries, source := h.universe.Top100(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{"source": source, "entries": entries},
	})
}

func (h *Handler) ListScanRuns(c *gin.Context) {
	sums, err := h.store.ListScanRuns(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": sums})
}

func (h *Handler) GetScanRun(c *gin.Context) {
	run, err := h.store.GetScanRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": run})
}

func (h *Handler) ListBacktestRuns(c *gin.Context) {
	sums, err := h.store.ListBacktestRuns(c.Request.Context(), limitParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": sums})
}

func (h *Handler) GetBacktestRun(c *gin.Context) {
	run, err := h.store.GetBacktestRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": run})
}

// GetStatus reports process uptime and the active strategy shape.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"uptime":      time.Since(h.startedAt).Round(time.Second).String(),
			"universe":    len(h.runCfg.Universe),
			"sort_key":    h.runCfg.SortKey,
			"price_basis": h.runCfg.PriceBasis,
			"max_rounds":  h.runCfg.MaxRounds,
		},
	})
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || n <= 0 {
		return 20
	}
	return n
}

func normalizeAll(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if n := fetcher.NormalizeSymbol(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
