package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto_dashboard/config"
	"crypto_dashboard/controllers"
	"crypto_dashboard/logger"
	"crypto_dashboard/middleware"
	"crypto_dashboard/models"
	"crypto_dashboard/routes"
	"crypto_dashboard/scheduler"
	"crypto_dashboard/services"

	"github.com/gin-gonic/gin"
)

func main() {
	log := logger.GetLogger().WithComponent("main")
	log.Info("Crypto Dashboard - Starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	if err := logger.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		log.WithError(err).Warn("Could not configure logger, using defaults")
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		log.WithError(err).Fatal("Database connection failed")
	}

	log.Info("Running database migrations...")
	if err := models.MigrateCryptoModels(db); err != nil {
		log.WithError(err).Fatal("Migration failed")
	}
	log.Info("Database migrations completed successfully")

	ctx := context.Background()
	svc := services.Init(ctx, cfg, db)

	var snapshotCache controllers.SnapshotCache
	if svc.Cache != nil {
		snapshotCache = svc.Cache
	}
	cryptoController := controllers.NewCryptoController(svc.Store, svc.Pipeline, snapshotCache)

	limiter := middleware.NewRateLimiter(cfg.RefreshRateLimitPerHour)
	stopCleanup := make(chan struct{})
	limiter.StartCleanup(10*time.Minute, stopCleanup)

	router, err := routes.NewRouter(cryptoController, limiter)
	if err != nil {
		log.WithError(err).Fatal("Could not set up routes")
	}

	jobScheduler, err := scheduler.NewScheduler(svc.Pipeline, svc.Store, scheduler.Options{
		Location:      cfg.Location(),
		UpdateAt:      cfg.UpdateScheduleTime,
		PurgeAt:       cfg.PurgeScheduleTime,
		RetentionDays: cfg.RetentionDays,
	})
	if err != nil {
		log.WithError(err).Fatal("Could not set up scheduler")
	}
	jobScheduler.Start()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", sig.String()).Info("Shutting down gracefully...")

	jobScheduler.Stop()
	close(stopCleanup)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server forced to shutdown")
	}

	svc.Close(shutdownCtx)

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
		log.Info("Database connection closed")
	}

	log.Info("Server shutdown completed")
}
