package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/quantfold/marketpipe/internal/api/http"
	"github.com/quantfold/marketpipe/internal/api/middleware"
	"github.com/quantfold/marketpipe/internal/api/ws"
	"github.com/quantfold/marketpipe/internal/dataset"
	"github.com/quantfold/marketpipe/internal/infrastructure/config"
	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
	"github.com/quantfold/marketpipe/internal/infrastructure/monitoring"
	"github.com/quantfold/marketpipe/internal/persist"
	"github.com/quantfold/marketpipe/internal/resilience"
)

// Server wraps the HTTP ops surface: router, middleware chain, and graceful
// shutdown. Pipeline work does not flow through it; it exists so operators
// and dashboards can observe and steer the resilience layer.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server
	log     *logging.Logger
}

// Deps carries the collaborators the ops surface exposes.
type Deps struct {
	Manager  *resilience.Manager
	Store    *dataset.Store
	Records  *persist.Records
	Sweep    *persist.Sweep
	Recovery *persist.Recovery
	Hub      *ws.Hub
	Metrics  *monitoring.Metrics
}

// New creates a configured server with routes registered.
func New(cfg *config.Config, deps Deps, log *logging.Logger) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(deps.Metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(deps.Manager, deps.Store, deps.Records, deps.Sweep, deps.Recovery, deps.Hub, log)
	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		router: router,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Router exposes the underlying engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts serving and blocks until the listener fails or Close is called.
func (s *Server) Run() error {
	s.log.Info("ops server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Close drains in-flight requests and shuts the listener down.
func (s *Server) Close(ctx context.Context) error {
	s.log.Info("shutting down ops server")
	return s.httpSrv.Shutdown(ctx)
}
