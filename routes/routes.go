package routes

import (
	"fmt"
	"time"

	"crypto_dashboard/controllers"
	"crypto_dashboard/metrics"
	"crypto_dashboard/middleware"
	"crypto_dashboard/templates"

	"github.com/gin-gonic/gin"
)

// slowRequest is the threshold above which successful requests are logged
const slowRequest = time.Second

// NewRouter builds the engine with the shared middleware stack and all routes
func NewRouter(cc *controllers.CryptoController, limiter *middleware.RateLimiter) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(slowRequest))
	router.Use(metrics.GinMiddleware())

	tmpl, err := templates.Load()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	SetupRoutes(router, cc, limiter)
	return router, nil
}

// SetupRoutes sets up all routes
func SetupRoutes(router *gin.Engine, cc *controllers.CryptoController, limiter *middleware.RateLimiter) {
	// Dashboard
	router.GET("/", cc.Dashboard)

	// Probes and metrics
	router.GET("/health", cc.Health)
	router.GET("/ready", cc.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	{
		api.GET("/crypto-data", cc.GetCryptoData)
		api.GET("/last-run", cc.GetLastRun)
		api.GET("/crypto/:id/history", cc.GetHistory)
		api.POST("/refresh", middleware.RateLimitMiddleware(limiter), cc.Refresh)
	}
}
