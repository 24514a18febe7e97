package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crypto_dashboard/logger"
	"crypto_dashboard/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StoreError is returned when a snapshot batch could not be committed.
// Nothing from the batch is persisted when it is returned.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store snapshot: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// LogError is returned when a run log could not be appended
type LogError struct {
	Err error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("log run: %v", e.Err)
}

func (e *LogError) Unwrap() error {
	return e.Err
}

// Store owns the lifecycle of assets, price snapshots and run logs
type Store struct {
	db  *gorm.DB
	now func() time.Time
	log *logger.Entry
}

type Option func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
		log: logger.GetLogger().WithComponent("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreSnapshot upserts every quote's asset and appends one snapshot per quote,
// all stamped with the same observedAt and batch id, in a single transaction.
func (s *Store) StoreSnapshot(ctx context.Context, quotes []models.Quote) (*models.Batch, error) {
	if len(quotes) == 0 {
		return nil, &StoreError{Op: "validate", Err: errors.New("no quotes to store")}
	}

	batch := &models.Batch{
		ID:         uuid.NewString(),
		ObservedAt: s.now().UTC(),
		Count:      len(quotes),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, q := range quotes {
			asset := models.Asset{
				ID:        q.ID,
				Name:      q.Name,
				Symbol:    q.Symbol,
				ImageURL:  q.ImageURL,
				CreatedAt: batch.ObservedAt,
				UpdatedAt: batch.ObservedAt,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "symbol", "image_url", "updated_at"}),
			}).Create(&asset).Error; err != nil {
				return fmt.Errorf("upsert asset %s: %w", q.ID, err)
			}

			snapshot := models.PriceSnapshot{
				AssetID:               q.ID,
				BatchID:               batch.ID,
				PriceUSD:              models.NewAmount(q.PriceUSD),
				MarketCapUSD:          models.NewAmount(q.MarketCapUSD),
				Volume24hUSD:          models.NewAmount(q.Volume24hUSD),
				PriceChange24hPercent: models.NewAmount(q.PriceChange24hPercent),
				MarketCapRank:         q.MarketCapRank,
				ObservedAt:            batch.ObservedAt,
			}
			if err := tx.Omit(clause.Associations).Create(&snapshot).Error; err != nil {
				return fmt.Errorf("insert snapshot %s: %w", q.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithField("batch_id", batch.ID).Error("Snapshot batch rolled back")
		return nil, &StoreError{Op: "transaction", Err: err}
	}

	s.log.WithFields(logger.Fields{
		"batch_id":    batch.ID,
		"count":       batch.Count,
		"observed_at": batch.ObservedAt,
	}).Info("Stored snapshot batch")
	return batch, nil
}

func (s *Store) snapshotViews(tx *gorm.DB) *gorm.DB {
	return tx.Table("price_snapshots AS ps").
		Select("ps.asset_id, a.name, a.symbol, a.image_url, ps.price_usd, ps.market_cap_usd, " +
			"ps.volume_24h_usd, ps.price_change_24h_percent, ps.market_cap_rank, ps.observed_at, ps.batch_id").
		Joins("JOIN assets AS a ON a.id = ps.asset_id")
}

// LatestBatchID returns the batch of the newest snapshot, or "" when nothing
// has been stored yet
func (s *Store) LatestBatchID(ctx context.Context) (string, error) {
	var latest models.PriceSnapshot
	err := s.db.WithContext(ctx).Select("batch_id").Order("observed_at DESC").Order("id DESC").Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find latest batch: %w", err)
	}
	return latest.BatchID, nil
}

// BatchTop returns up to n snapshots of one batch ordered by rank
func (s *Store) BatchTop(ctx context.Context, batchID string, n int) ([]models.SnapshotView, error) {
	views := []models.SnapshotView{}
	err := s.snapshotViews(s.db.WithContext(ctx)).
		Where("ps.batch_id = ?", batchID).
		Order("ps.market_cap_rank ASC").
		Order("ps.id ASC").
		Limit(n).
		Scan(&views).Error
	if err != nil {
		return nil, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	return views, nil
}

// LatestTop returns up to n snapshots of the most recent batch ordered by rank.
// It returns an empty slice when nothing has been stored yet.
func (s *Store) LatestTop(ctx context.Context, n int) ([]models.SnapshotView, error) {
	batchID, err := s.LatestBatchID(ctx)
	if err != nil {
		return nil, err
	}
	if batchID == "" {
		return []models.SnapshotView{}, nil
	}
	return s.BatchTop(ctx, batchID, n)
}

// History returns one asset's snapshots from the last `days` days, oldest first
func (s *Store) History(ctx context.Context, assetID string, days int) ([]models.SnapshotView, error) {
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	views := []models.SnapshotView{}
	err := s.snapshotViews(s.db.WithContext(ctx)).
		Where("ps.asset_id = ? AND ps.observed_at >= ?", assetID, since).
		Order("ps.observed_at ASC").
		Order("ps.id ASC").
		Scan(&views).Error
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", assetID, err)
	}
	return views, nil
}

// LastRun returns the most recent run log, or nil when there is none
func (s *Store) LastRun(ctx context.Context) (*models.RunLog, error) {
	var run models.RunLog
	err := s.db.WithContext(ctx).Order("ran_at DESC").Order("id DESC").Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find last run: %w", err)
	}
	return &run, nil
}

// LogRun appends one run log. It never touches snapshot rows.
func (s *Store) LogRun(ctx context.Context, entry models.RunLogEntry) error {
	run := models.RunLog{
		RanAt:            s.now().UTC(),
		Status:           entry.Status,
		NotificationSent: entry.NotificationSent,
	}
	if entry.ErrorMessage != "" {
		msg := entry.ErrorMessage
		run.ErrorMessage = &msg
	}
	if entry.BatchID != "" {
		id := entry.BatchID
		run.BatchID = &id
	}
	if len(entry.Quotes) > 0 {
		payload, err := json.Marshal(entry.Quotes)
		if err != nil {
			return &LogError{Err: fmt.Errorf("encode snapshot payload: %w", err)}
		}
		p := string(payload)
		run.SnapshotPayload = &p
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.log.WithError(err).WithField("status", entry.Status).Error("Failed to log run")
		return &LogError{Err: err}
	}

	s.log.WithField("status", entry.Status).Info("Run logged")
	return nil
}

// PurgeOlderThan deletes snapshots and run logs older than retentionDays
func (s *Store) PurgeOlderThan(ctx context.Context, retentionDays int) (*models.PurgeResult, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	result := &models.PurgeResult{
		Cutoff: s.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("observed_at < ?", result.Cutoff).Delete(&models.PriceSnapshot{})
		if res.Error != nil {
			return fmt.Errorf("delete snapshots: %w", res.Error)
		}
		result.SnapshotsDeleted = res.RowsAffected

		res = tx.Where("ran_at < ?", result.Cutoff).Delete(&models.RunLog{})
		if res.Error != nil {
			return fmt.Errorf("delete run logs: %w", res.Error)
		}
		result.RunLogsDeleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purge older than %d days: %w", retentionDays, err)
	}

	s.log.WithFields(logger.Fields{
		"cutoff":            result.Cutoff,
		"snapshots_deleted": result.SnapshotsDeleted,
		"run_logs_deleted":  result.RunLogsDeleted,
	}).Info("Cleanup completed")
	return result, nil
}

// Ping checks that the connection pool can reach the database
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
