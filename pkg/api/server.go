// Package api is the HTTP front of the orchestrator: the streaming /chat
// endpoint, health and metrics surfaces, and conversation reset.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/planner"
	"github.com/ceci-ai/botchain/pkg/store"
)

// TurnPlanner is the planner surface the server needs. Tests stub it.
type TurnPlanner interface {
	HandleTurn(ctx context.Context, req planner.TurnRequest, emit planner.Emitter) error
}

// Pinger reports a dependency's liveness for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server.
type Server struct {
	cfg     *config.Config
	planner TurnPlanner
	store   *store.Store
	corpus  Pinger // nil when the corpus database is not wired
	echo    *echo.Echo
	httpSrv *http.Server
	started time.Time
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg *config.Config, pl TurnPlanner, st *store.Store, corpus Pinger, registry *prometheus.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		planner: pl,
		store:   st,
		corpus:  corpus,
		echo:    echo.New(),
		started: time.Now(),
	}

	s.echo.Use(securityHeaders())

	s.echo.POST("/chat", s.chatHandler)
	s.echo.GET("/health", s.healthHandler)
	s.echo.DELETE("/conversations/:id", s.deleteConversationHandler)
	if registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
			registry, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown or a listener error. Blocking.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
