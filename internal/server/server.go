// Package server exposes the HTTP surface: generation orchestration, task
// polling, credit administration and the streaming chat endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	chatdomain "github.com/atelierhq/atelier/internal/chat/domain"
	"github.com/atelierhq/atelier/internal/config"
	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	genID         *snowflake.Node
	creditSvc     creditdomain.Service
	generationSvc gendomain.Service
	chatSvc       chatdomain.Service
	pricingSvc    pricingdomain.Service
}

type ServerParams struct {
	fx.In

	Engine        *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	GenID         *snowflake.Node
	CreditSvc     creditdomain.Service
	GenerationSvc gendomain.Service
	ChatSvc       chatdomain.Service
	PricingSvc    pricingdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Engine,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		genID:         p.GenID,
		creditSvc:     p.CreditSvc,
		generationSvc: p.GenerationSvc,
		chatSvc:       p.ChatSvc,
		pricingSvc:    p.PricingSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(IdentityMiddleware())

	api.POST("/generations", s.CreateGeneration)
	api.POST("/generations/:id/convert", s.ConvertGeneration)
	api.GET("/generations/:id", s.GetGeneration)
	api.GET("/batches/:id", s.GetBatch)
	api.GET("/tasks/:id", s.GetTask)

	api.POST("/chat/completions", s.StreamChat)

	api.GET("/pricing", s.ListPricing)

	orgs := api.Group("/orgs/:id/credit")
	orgs.GET("", s.GetOrganizationCredit)
	orgs.GET("/transactions", s.ListTransactions)
	orgs.GET("/usage", s.ListUsage)
	orgs.POST("/recharge", s.Recharge)
	orgs.POST("/balance", s.SetBalance)
	orgs.POST("/quota", s.SetQuotaLimit)
	orgs.POST("/usage-reset", s.ResetUsage)
}
