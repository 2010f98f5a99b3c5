package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "nkrypt-xyz/bootstrapper/docs" // register the Swagger description
	"nkrypt-xyz/bootstrapper/internal/config"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the full middleware chain and all routes
// registered. Middleware order:
//  1. Recovery: panic → 500
//  2. LoopbackOnly: remote callers get 403
//  3. Tracing: trace context per request
//  4. RequestLogger: structured request/response logging
func NewRouter(o orchestratorService, f feed, snapshot func() config.StackConfig, serviceName string) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(slog.Default()))
	engine.Use(LoopbackOnly())
	engine.Use(Tracing(serviceName))
	engine.Use(RequestLogger(slog.Default()))

	h := &Handler{orchestrator: o, feed: f, snapshot: snapshot}

	v1 := engine.Group("/api/v1")
	v1.POST("/operations/:name", h.Operation)
	v1.GET("/status", h.Status)
	v1.GET("/logs", h.Logs)
	v1.DELETE("/logs", h.ClearLogs)
	v1.GET("/health/deep", h.DeepHealth)

	engine.GET("/health", h.Health)
	engine.GET("/ready", h.Ready)

	// API docs: http://localhost:9206/api-docs
	engine.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/index.html")
	})
	engine.GET("/api-docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
