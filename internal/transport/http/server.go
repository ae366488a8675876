package http

import (
	"context"
	"errors"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docqa-gateway/internal/bootstrap"
	"docqa-gateway/internal/transport/http/handler"
	"docqa-gateway/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.AccessLog(app.Logger),
		gin.Recovery(),
		cors.New(corsConfig()),
	)

	healthHandler := handler.NewHealthHandler(
		app.Config.App.Name,
		app.Config.App.Env,
		app.StartedAt,
		app.Index.Len,
		dependencyChecks(app)...,
	)
	router.GET("/", healthHandler.Root)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(app.Config.RateLimit.RequestsPerSecond, app.Config.RateLimit.Burst)

	qaHandler := handler.NewQAHandler(app.Retrieval, app.Config.QueryTimeout(), app.Logger)
	qa := router.Group("/", limiter.Middleware())
	qa.GET("/client-docs", qaHandler.ClientDocs)
	qa.POST("/ask-question", qaHandler.AskQuestion)

	var queue handler.ReindexQueue
	if app.ReindexPublisher != nil {
		queue = app.ReindexPublisher
	}
	docHandler := handler.NewDocumentHandler(app.Documents, queue, app.Config.IngestTimeout(), app.Logger)
	tenantScoped := router.Group("/", limiter.Middleware(), middleware.APIKey(app.Directory, app.Logger))
	tenantScoped.POST("/documents", docHandler.Create)
	tenantScoped.POST("/documents/pdf", docHandler.UploadPDF)
	tenantScoped.DELETE("/documents/:id", docHandler.Delete)
	tenantScoped.POST("/reindex", docHandler.Reindex)

	return router
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = append(cfg.AllowHeaders, handler.APIKeyHeader, middleware.RequestIDHeader)
	cfg.ExposeHeaders = []string{middleware.RequestIDHeader, "Retry-After"}
	return cfg
}

func dependencyChecks(app *bootstrap.App) []handler.DependencyCheck {
	checks := []handler.DependencyCheck{{
		Name: app.Config.Database.Driver,
		Check: func(ctx context.Context) error {
			sqlDB, err := app.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if app.Redis != nil {
		checks = append(checks, handler.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() },
		})
	}
	if app.Config.RabbitMQ.Enabled {
		checks = append(checks, handler.DependencyCheck{
			Name: "rabbitmq",
			Check: func(context.Context) error {
				if app.MQConn == nil || app.MQConn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			},
		})
	}
	if app.ObjectStore != nil {
		checks = append(checks, handler.DependencyCheck{
			Name:  "minio",
			Check: app.ObjectStore.Ping,
		})
	}
	return checks
}
