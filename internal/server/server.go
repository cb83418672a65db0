package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallcraft/commerce-core/internal/config"
	"github.com/smallcraft/commerce-core/internal/fulfillment"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	"github.com/smallcraft/commerce-core/internal/gateway"
	"github.com/smallcraft/commerce-core/internal/ledger"
	ledgerdomain "github.com/smallcraft/commerce-core/internal/ledger/domain"
	"github.com/smallcraft/commerce-core/internal/notification"
	"github.com/smallcraft/commerce-core/internal/observability"
	obsmiddleware "github.com/smallcraft/commerce-core/internal/observability/logger"
	obsmetrics "github.com/smallcraft/commerce-core/internal/observability/metrics"
	obstracing "github.com/smallcraft/commerce-core/internal/observability/tracing"
	"github.com/smallcraft/commerce-core/internal/orchestrator"
	"github.com/smallcraft/commerce-core/internal/order"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	"github.com/smallcraft/commerce-core/internal/subscription"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	gateway.Module,
	ledger.Module,
	fulfillment.Module,
	order.Module,
	subscription.Module,
	notification.Module,
	orchestrator.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(RunHTTP),
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

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	orchestrator    *orchestrator.Orchestrator
	orderSvc        orderdomain.Service
	subscriptionSvc subscriptiondomain.Service
	ledgerSvc       ledgerdomain.Service
	fulfillmentSvc  fulfillmentdomain.Service
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	GenID *snowflake.Node

	Orchestrator    *orchestrator.Orchestrator
	OrderSvc        orderdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	LedgerSvc       ledgerdomain.Service
	FulfillmentSvc  fulfillmentdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		db:     p.DB,
		genID:  p.GenID,

		orchestrator:    p.Orchestrator,
		orderSvc:        p.OrderSvc,
		subscriptionSvc: p.SubscriptionSvc,
		ledgerSvc:       p.LedgerSvc,
		fulfillmentSvc:  p.FulfillmentSvc,
	}
}

func RegisterRoutes(s *Server) {
	s.registerWebhookRoutes()
	s.registerAPIRoutes()
	s.registerHealthRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payment", s.HandlePaymentWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	// -------- Orders --------
	api.POST("/orders", s.CreateOrder)
	api.GET("/orders/:id", s.GetOrderByID)

	// -------- Plans --------
	api.POST("/plans", s.CreatePlan)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/renew", s.RenewSubscription)
	api.POST("/subscriptions/:id/pause", s.PauseSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/frequency", s.ChangeSubscriptionFrequency)
	api.POST("/subscriptions/:id/addons", s.PurchaseSubscriptionAddOn)
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/health/integrations", s.CheckIntegrations)
}
