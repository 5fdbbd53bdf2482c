// Package api is the administrative HTTP surface: source lifecycle, batch
// uploads, ingest statistics and read-only views of vessels and positions.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/madpsy/aisguard/ingest"
	"github.com/madpsy/aisguard/sources"
	"github.com/madpsy/aisguard/spoof"
	"github.com/madpsy/aisguard/store"
)

// Ingest is the part of the ingest router the admin surface reads.
type Ingest interface {
	Stats(sourceID string) (ingest.Stats, bool)
	AllStats() []ingest.Stats
	ClearData(ctx context.Context) error
	Detector() *spoof.Detector
}

// Server bundles the gin engine and its dependencies.
type Server struct {
	engine  *gin.Engine
	sources *sources.Manager
	ingest  Ingest
	store   store.Store
	cache   *store.StatsCache
	log     *slog.Logger
}

// New builds the server and registers every route. cache may be nil.
func New(mgr *sources.Manager, in Ingest, st store.Store, cache *store.StatsCache, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))
	engine.Use(corsMiddleware())

	s := &Server{engine: engine, sources: mgr, ingest: in, store: st, cache: cache, log: log}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine { return s.engine }

// Mount serves h for every method under path, e.g. /metrics or the
// socket.io endpoint.
func (s *Server) Mount(path string, h http.Handler) {
	s.engine.Any(path, gin.WrapH(h))
}

// ServeStatic serves files under dir for every path no route matches.
func (s *Server) ServeStatic(dir string) {
	fs := http.FileServer(http.Dir(dir))
	s.engine.NoRoute(gin.WrapH(fs))
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	api.GET("/sources", s.handleListSources)
	api.POST("/sources", s.handleCreateSource)
	api.GET("/sources/:id", s.handleGetSource)
	api.DELETE("/sources/:id", s.handleDeleteSource)
	api.POST("/sources/:id/start", s.transition((*sources.Manager).Start))
	api.POST("/sources/:id/pause", s.transition((*sources.Manager).Pause))
	api.POST("/sources/:id/resume", s.transition((*sources.Manager).Resume))
	api.POST("/sources/:id/disable", s.transition((*sources.Manager).Disable))
	api.PUT("/sources/:id/limits", s.handleSetLimits)
	api.GET("/sources/:id/messages", s.handleMessages)
	api.GET("/sources/:id/text-messages", s.handleTextMessages)
	api.POST("/disable-all", s.handleDisableAll)
	api.POST("/upload", s.handleUpload)
	api.POST("/clear-data", s.handleClearData)

	api.GET("/stats", s.handleStats)
	api.GET("/vessels", s.handleListVessels)
	api.GET("/vessels/:mmsi", s.handleGetVessel)
	api.GET("/vessels/:mmsi/positions", s.handlePositions)
	api.GET("/vdo", s.handleVdo)
	api.GET("/ranges", s.handleRanges)
	api.GET("/serial-ports", s.handleSerialPorts)
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// fail maps package sentinels onto HTTP status codes.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sources.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sources.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, sources.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
