package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crypto_dashboard/logger"
	"crypto_dashboard/models"
	"crypto_dashboard/services/cache"
	"crypto_dashboard/services/pipeline"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 365

	// refreshTimeout bounds a manual run once it no longer follows the request
	refreshTimeout = 5 * time.Minute
)

// Reader is the read side of the persistence layer
type Reader interface {
	LatestTop(ctx context.Context, n int) ([]models.SnapshotView, error)
	LatestBatchID(ctx context.Context) (string, error)
	BatchTop(ctx context.Context, batchID string, n int) ([]models.SnapshotView, error)
	LastRun(ctx context.Context) (*models.RunLog, error)
	History(ctx context.Context, assetID string, days int) ([]models.SnapshotView, error)
	Ping(ctx context.Context) error
}

// Runner triggers one pipeline run
type Runner interface {
	Run(ctx context.Context) *pipeline.Result
}

// SnapshotCache caches the top-n read model of one batch
type SnapshotCache interface {
	GetLatestTop(ctx context.Context, batchID string, n int) ([]models.SnapshotView, error)
	SetLatestTop(ctx context.Context, batchID string, n int, views []models.SnapshotView) error
}

// CryptoController handles dashboard and API requests
type CryptoController struct {
	reader Reader
	runner Runner
	cache  SnapshotCache
	now    func() time.Time
	log    *logger.Entry
}

// NewCryptoController creates a new crypto controller. cache may be nil.
func NewCryptoController(reader Reader, runner Runner, cache SnapshotCache) *CryptoController {
	return &CryptoController{
		reader: reader,
		runner: runner,
		cache:  cache,
		now:    time.Now,
		log:    logger.GetLogger().WithComponent("controllers"),
	}
}

// latestTop serves from cache when possible and falls back to the database.
// Cache entries belong to the batch that was read, never to "latest".
func (cc *CryptoController) latestTop(ctx context.Context) ([]models.SnapshotView, error) {
	if cc.cache == nil {
		return cc.reader.LatestTop(ctx, pipeline.TopN)
	}

	batchID, err := cc.reader.LatestBatchID(ctx)
	if err != nil {
		return nil, err
	}
	if batchID == "" {
		return []models.SnapshotView{}, nil
	}

	views, err := cc.cache.GetLatestTop(ctx, batchID, pipeline.TopN)
	if err == nil {
		return views, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		cc.log.WithError(err).Warn("Snapshot cache unavailable, reading from database")
	}

	views, err = cc.reader.BatchTop(ctx, batchID, pipeline.TopN)
	if err != nil {
		return nil, err
	}
	if err := cc.cache.SetLatestTop(ctx, batchID, pipeline.TopN, views); err != nil {
		cc.log.WithError(err).Warn("Failed to populate snapshot cache")
	}
	return views, nil
}

// Dashboard renders the latest top 10 and the last run
// GET /
func (cc *CryptoController) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	views, err := cc.latestTop(ctx)
	if err != nil {
		cc.log.WithError(err).Error("Error loading dashboard")
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{"Error": "Failed to load cryptocurrency data"})
		return
	}

	lastRun, err := cc.reader.LastRun(ctx)
	if err != nil {
		cc.log.WithError(err).Error("Error loading last run")
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{"Error": "Failed to load cryptocurrency data"})
		return
	}

	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"Quotes":  views,
		"LastRun": lastRun.View(),
	})
}

// GetCryptoData returns the latest top 10 snapshot
// GET /api/crypto-data
func (cc *CryptoController) GetCryptoData(c *gin.Context) {
	views, err := cc.latestTop(c.Request.Context())
	if err != nil {
		cc.log.WithError(err).Error("Error in API endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to fetch cryptocurrency data",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   views,
	})
}

// GetLastRun returns the most recent run status, or null
// GET /api/last-run
func (cc *CryptoController) GetLastRun(c *gin.Context) {
	run, err := cc.reader.LastRun(c.Request.Context())
	if err != nil {
		cc.log.WithError(err).Error("Error loading last run")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to fetch last run status",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   run.View(),
	})
}

// Refresh runs the pipeline synchronously. The run outlives a disconnected
// client.
// POST /api/refresh
func (cc *CryptoController) Refresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), refreshTimeout)
	defer cancel()

	result := cc.runner.Run(ctx)

	status := "success"
	code := http.StatusOK
	if !result.Succeeded() {
		status = "error"
		code = http.StatusInternalServerError
	}

	c.JSON(code, gin.H{
		"status":            status,
		"message":           result.Message,
		"ran_at":            result.RanAt,
		"assets_updated":    result.AssetsUpdated,
		"notification_sent": result.NotificationSent,
	})
}

// GetHistory returns one asset's snapshots over the last N days
// GET /api/crypto/:id/history?days=7
func (cc *CryptoController) GetHistory(c *gin.Context) {
	id := c.Param("id")

	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultHistoryDays)))
	if err != nil || days < 1 || days > maxHistoryDays {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "days must be an integer between 1 and 365",
		})
		return
	}

	views, err := cc.reader.History(c.Request.Context(), id, days)
	if err != nil {
		cc.log.WithError(err).WithField("asset_id", id).Error("Error loading history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to fetch price history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"id":     id,
		"days":   days,
		"data":   views,
	})
}

// Health is the liveness probe
// GET /health
func (cc *CryptoController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": cc.now().UTC().Format(time.RFC3339),
	})
}

// Ready checks that the database is reachable
// GET /ready
func (cc *CryptoController) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := cc.reader.Ping(ctx); err != nil {
		cc.log.WithError(err).Warn("Readiness check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"message": "Database ping failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}
