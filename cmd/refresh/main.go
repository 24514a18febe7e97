// Command refresh runs the dashboard update once and exits non-zero on failure.
package main

import (
	"context"
	"os"
	"time"

	"crypto_dashboard/config"
	"crypto_dashboard/logger"
	"crypto_dashboard/models"
	"crypto_dashboard/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger().WithComponent("refresh")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Error("Invalid configuration")
		return 1
	}
	if err := logger.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		log.WithError(err).Warn("Could not configure logger, using defaults")
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		log.WithError(err).Error("Database connection failed")
		return 1
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	if err := models.MigrateCryptoModels(db); err != nil {
		log.WithError(err).Error("Migration failed")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc := services.Init(ctx, cfg, db)
	defer svc.Close(context.Background())

	result := svc.Pipeline.Run(ctx)
	entry := log.WithFields(logger.Fields{
		"status":            result.Status,
		"assets_updated":    result.AssetsUpdated,
		"notification_sent": result.NotificationSent,
		"ran_at":            result.RanAt,
	})
	if !result.Succeeded() {
		entry.WithError(result.Err).Error(result.Message)
		return 1
	}
	entry.Info(result.Message)
	return 0
}
