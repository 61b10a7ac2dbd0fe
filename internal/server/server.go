package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scanpoint/verity/internal/audit"
	"github.com/scanpoint/verity/internal/config"
	"github.com/scanpoint/verity/internal/decision"
	"github.com/scanpoint/verity/internal/observability/logger"
	"github.com/scanpoint/verity/internal/observability/metrics"
	"github.com/scanpoint/verity/internal/reconcile"
	"github.com/scanpoint/verity/internal/session"
	"github.com/scanpoint/verity/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server holds the HTTP surface: scan intake, session reads, webhook
// ingestion, and the scheduler-facing queue endpoints.
type Server struct {
	cfg            config.Config
	log            *zap.Logger
	db             *gorm.DB
	sessions       *session.Store
	decider        *decision.Engine
	denyList       decision.DenyList
	reconciler     *reconcile.Service
	webhooks       *webhook.Service
	auditSvc       *audit.Service
	sessionMetrics *metrics.SessionMetrics
	scanLimiter    *rateLimiter
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	Sessions   *session.Store
	Decider    *decision.Engine
	DenyList   decision.DenyList
	Reconciler *reconcile.Service
	Webhooks   *webhook.Service
	Audit      *audit.Service
}

func NewServer(p Params) *Server {
	return &Server{
		cfg:            p.Cfg,
		log:            p.Log.Named("server"),
		db:             p.DB,
		sessions:       p.Sessions,
		decider:        p.Decider,
		denyList:       p.DenyList,
		reconciler:     p.Reconciler,
		webhooks:       p.Webhooks,
		auditSvc:       p.Audit,
		sessionMetrics: metrics.Session(),
		scanLimiter:    newRateLimiter(30, time.Minute, nil),
	}
}

// NewEngine builds the gin engine with the shared middleware stack.
func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	return engine
}

func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.Healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	{
		api.POST("/scan", s.Scan)
		api.GET("/sessions/:transactionId", s.GetSession)
		api.POST("/sessions/:transactionId/heartbeat", s.SessionHeartbeat)
		api.POST("/sessions/:transactionId/complete", s.CompleteSession)
		api.POST("/webhooks/:topic", s.ReceiveWebhook)
	}

	internal := engine.Group("/internal/queues")
	{
		internal.POST("/reconciliation/run", s.RunReconciliationQueue)
		internal.POST("/webhooks/run", s.RunWebhookQueue)
		internal.POST("/cleanup", s.CleanupQueues)
		internal.GET("/health", s.QueueHealth)
	}
}

// RunHTTP starts the listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, srv *Server, cfg config.Config, log *zap.Logger) {
	srv.RegisterRoutes(engine)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTP.Addr))
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(func(cfg config.Config, log *zap.Logger) *decision.Engine {
		return decision.NewEngine(cfg.Verification.LegalAge, log)
	}),
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)
