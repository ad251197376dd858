// Package server exposes the answering, relay and indexing operations over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/utakatik/utakatik/engine/chat"
	"github.com/utakatik/utakatik/engine/completion"
	"github.com/utakatik/utakatik/engine/indexer"
	"github.com/utakatik/utakatik/engine/infra/monitoring"
	"github.com/utakatik/utakatik/engine/infra/server/middleware/ratelimit"
	"github.com/utakatik/utakatik/engine/infra/server/router"
	"github.com/utakatik/utakatik/pkg/config"
	"github.com/utakatik/utakatik/pkg/logger"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	httpReadTimeout        = 15 * time.Second
	httpIdleTimeout        = 60 * time.Second
)

type Answerer interface {
	Answer(ctx context.Context, turns []completion.Message) (*chat.Answer, error)
}

type Relayer interface {
	Relay(ctx context.Context, turns []completion.Message, stream bool, sink completion.Sink) (string, error)
}

type BatchReindexer interface {
	Reindex(ctx context.Context, limit int) (*indexer.Report, error)
}

type ItemIndexer interface {
	IndexOne(ctx context.Context, id, name, description string) error
}

// HealthCheck is one named dependency probe reported by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies are the services behind the routes. Monitoring and RateLimiter are optional.
type Dependencies struct {
	Answerer     Answerer
	Relay        Relayer
	Reindexer    BatchReindexer
	Indexer      ItemIndexer
	Monitoring   *monitoring.Service
	RateLimiter  *ratelimit.Manager
	HealthChecks []HealthCheck
}

func (d *Dependencies) validate() error {
	switch {
	case d.Answerer == nil:
		return errors.New("server: answerer is required")
	case d.Relay == nil:
		return errors.New("server: relay is required")
	case d.Reindexer == nil:
		return errors.New("server: reindexer is required")
	case d.Indexer == nil:
		return errors.New("server: indexer is required")
	}
	return nil
}

type Server struct {
	cfg    *config.ServerConfig
	deps   Dependencies
	router *gin.Engine
}

func NewServer(ctx context.Context, cfg *config.ServerConfig, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, deps: deps}
	s.router = s.buildRouter(logger.FromContext(ctx))
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(log logger.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), RequestIDMiddleware(log), LoggerMiddleware())
	if s.deps.Monitoring != nil && s.deps.Monitoring.IsInitialized() {
		r.Use(s.deps.Monitoring.GinMiddleware())
		r.GET(s.deps.Monitoring.Path(), gin.WrapH(s.deps.Monitoring.ExporterHandler()))
	}
	r.NoMethod(func(c *gin.Context) {
		router.RespondProblemWithCode(c, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})
	r.NoRoute(func(c *gin.Context) {
		router.RespondProblemWithCode(c, http.StatusNotFound, "not_found", "route not found")
	})
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	limited := api.Group("")
	if s.deps.RateLimiter != nil {
		limited.Use(s.deps.RateLimiter.Middleware())
	}
	limited.POST("/chat", s.handleChat)
	limited.POST("/ask", s.handleAsk)
	api.POST("/reindex", s.handleReindex)
	api.POST("/embed-one", s.handleEmbedOne)
	return r
}

func (s *Server) address() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *Server) httpServer() *http.Server {
	read := s.cfg.ReadTimeout
	if read <= 0 {
		read = httpReadTimeout
	}
	idle := s.cfg.IdleTimeout
	if idle <= 0 {
		idle = httpIdleTimeout
	}
	return &http.Server{
		Addr:              s.address(),
		Handler:           s.router,
		ReadHeaderTimeout: read,
		ReadTimeout:       read,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       idle,
	}
}

// Run serves until ctx is canceled, then drains in-flight requests within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	srv := s.httpServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed to start: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Debug("Received shutdown signal, initiating graceful shutdown")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server shutdown completed successfully")
	return nil
}
