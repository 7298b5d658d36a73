// Package api exposes scans, backtests and the run archive over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP front of the scanner daemon.
type Server struct {
	engine *gin.Engine
	server *http.Server
	log    *logrus.Logger
}

// NewServer wires routes over the given handler dependencies.
func NewServer(h *Handler, port int, corsOrigins []string, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(corsOrigins))
	r.Use(loggerMiddleware(log))

	s := &Server{
		engine: r,
		log:    log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		},
	}

	api := r.Group("/api")
	{
		api.POST("/scan", h.RunScan)
		api.POST("/backtest", h.RunBacktest)

		api.GET("/universe", h.GetUniverse)

		api.GET("/runs/scans", h.ListScanRuns)
		api.GET("/runs/scans/:id", h.GetScanRun)
		api.GET("/runs/backtests", h.ListBacktestRuns)
		api.GET("/runs/backtests/:id", h.GetBacktestRun)

		api.GET("/status", h.GetStatus)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return s
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func loggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allow := "*"
	if len(origins) > 0 {
		allow = strings.Join(origins, ", ")
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allow)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
