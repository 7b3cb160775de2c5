package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/learnitin/api/internal/billing/googleplay"
	"github.com/learnitin/api/internal/config"
	"github.com/learnitin/api/internal/events"
	"github.com/learnitin/api/internal/generation"
	"github.com/learnitin/api/internal/lock"
	"github.com/learnitin/api/internal/notification"
	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	"github.com/learnitin/api/internal/observability"
	obsmiddleware "github.com/learnitin/api/internal/observability/logger"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	obstracing "github.com/learnitin/api/internal/observability/tracing"
	"github.com/learnitin/api/internal/ratelimit"
	"github.com/learnitin/api/internal/subscription"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	"github.com/learnitin/api/internal/usage"
	usagedomain "github.com/learnitin/api/internal/usage/domain"
	"github.com/learnitin/api/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	events.Module,
	lock.Module,
	ratelimit.Module,
	googleplay.Module,
	usage.Module,
	notification.Module,
	subscription.Module,
	webhook.Module,
	generation.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type webhookIngestor interface {
	Ingest(ctx context.Context, body []byte) (webhook.Result, error)
}

type audioRequester interface {
	RequestLessonAudio(ctx context.Context, sub *subscriptiondomain.Subscription, lessonID string) error
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	subscriptionSvc subscriptiondomain.Service
	usagesvc        usagedomain.Service
	notificationSvc notificationdomain.Service
	webhooks        webhookIngestor
	audio           audioRequester
	verifyLimiter   *ratelimit.VerifyLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	NotificationSvc notificationdomain.Service
	Webhooks        *webhook.Service
	Generation      *generation.Service
	VerifyLimiter   *ratelimit.VerifyLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		subscriptionSvc: p.SubscriptionSvc,
		usagesvc:        p.UsageSvc,
		notificationSvc: p.NotificationSvc,
		webhooks:        p.Webhooks,
		audio:           p.Generation,
		verifyLimiter:   p.VerifyLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Subscriptions --------
	subs := api.Group("/subscriptions")
	subs.POST("/google/webhook", s.HandleGooglePlayWebhook)
	subs.POST("/verify", s.AuthRequired(), s.VerifyRateLimited(), s.VerifySubscription)
	subs.POST("/resync", s.AuthRequired(), s.VerifyRateLimited(), s.ResyncSubscription)
	subs.GET("/me", s.AuthRequired(), s.GetMySubscription)
	subs.GET("/me/usage", s.AuthRequired(), s.GetMyUsage)
	subs.POST("/me/usage/:feature", s.AuthRequired(), s.ConsumeMyUsage)
	subs.GET("/me/history", s.AuthRequired(), s.ListMySubscriptionHistory)

	// -------- Notifications --------
	notifications := api.Group("/notifications", s.AuthRequired())
	notifications.GET("", s.ListNotifications)
	notifications.GET("/unread-count", s.UnreadNotificationCount)
	notifications.POST("/read-all", s.MarkAllNotificationsRead)
	notifications.POST("/:id/read", s.MarkNotificationRead)

	// -------- Lessons --------
	api.POST("/lessons/:id/audio", s.AuthRequired(), s.PremiumRequired(), s.RequestLessonAudio)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
