package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/internal/alerts"
	"github.com/rawblock/mule-forensics/internal/config"
	"github.com/rawblock/mule-forensics/internal/engine"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP surface. Store, Hub and Engine are
// required; the rest may be nil.
type Deps struct {
	Engine   *engine.Engine
	Store    *ReportStore
	Hub      *Hub
	Alerts   *alerts.Manager
	DB       Pinger
	Gatherer prometheus.Gatherer
	Config   config.ServerConfig
	Logger   *zap.Logger
}

// Server owns the router and the http.Server around it.
type Server struct {
	deps    Deps
	logger  *zap.Logger
	limiter *RateLimiter
	router  *gin.Engine
	http    *http.Server
	done    chan struct{}
}

// NewServer wires the router. It does not start listening.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		deps:    deps,
		logger:  deps.Logger.Named("api"),
		limiter: NewRateLimiter(deps.Config.RateLimit, deps.Config.RateBurst),
		done:    make(chan struct{}),
	}
	s.router = s.setupRouter()
	s.http = &http.Server{
		Addr:              ":" + strconv.Itoa(deps.Config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))
	r.Use(cors.New(corsConfig(s.deps.Config.CORSOrigins)))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/stream", s.deps.Hub.Subscribe)
	}

	protected := api.Group("")
	protected.Use(AuthMiddleware(s.deps.Config.AuthToken, s.logger))
	{
		protected.POST("/analyze", s.limiter.Middleware(), s.handleAnalyze)
		protected.GET("/reports/latest", s.handleLatestReport)
		protected.GET("/accounts/:id", s.handleGetAccount)
		protected.GET("/alerts", s.handleGetAlerts)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowOrigins = nil
		cfg.AllowCredentials = false
	}
	return cfg
}

// Publish makes report the latest, streams its digest and runs it through
// the alert manager. The feed and uploads both end here.
func (s *Server) Publish(report *models.Report, txs []models.Transaction) {
	s.deps.Store.Publish(report, txs)
	s.deps.Hub.BroadcastReport(report)
	if s.deps.Alerts != nil {
		if raised := s.deps.Alerts.Process(report); len(raised) > 0 {
			s.logger.Info("Alerts raised", zap.String("batch_id", report.BatchID), zap.Int("count", len(raised)))
		}
	}
}

// ListenAndServe serves on server.port until Shutdown.
func (s *Server) ListenAndServe() error {
	go s.limiter.Run(s.done)

	s.logger.Info("API listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)
	return s.http.Shutdown(ctx)
}
