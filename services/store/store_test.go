package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crypto_dashboard/config"
	"crypto_dashboard/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(config.DriverSQLite, filepath.Join(t.TempDir(), "store.db"), "silent")
	require.NoError(t, err)
	require.NoError(t, models.MigrateCryptoModels(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB, *fakeClock) {
	t.Helper()
	db := newTestDB(t)
	clock := &fakeClock{now: time.Date(2026, 10, 1, 14, 0, 0, 0, time.UTC)}
	return New(db, WithClock(clock.Now)), db, clock
}

func sampleQuotes(prefix string, priceBase int64) []models.Quote {
	quotes := make([]models.Quote, 0, 10)
	for i := 1; i <= 10; i++ {
		quotes = append(quotes, models.Quote{
			ID:                    fmt.Sprintf("%s-%d", prefix, i),
			Name:                  fmt.Sprintf("Coin %d", i),
			Symbol:                fmt.Sprintf("C%d", i),
			PriceUSD:              decimal.New(priceBase-int64(i), 0).Add(decimal.RequireFromString("0.25")),
			MarketCapUSD:          decimal.New(int64(1000-i), 6),
			Volume24hUSD:          decimal.New(int64(50+i), 3),
			PriceChange24hPercent: decimal.RequireFromString("1.5"),
			MarketCapRank:         i,
		})
	}
	return quotes
}

func count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestLatestTopEmpty(t *testing.T) {
	s, _, _ := newTestStore(t)

	views, err := s.LatestTop(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)
}

func TestStoreSnapshotThenLatestTop(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	quotes := sampleQuotes("coin", 100)
	// store out of rank order; reads must come back sorted
	shuffled := append([]models.Quote{}, quotes[5:]...)
	shuffled = append(shuffled, quotes[:5]...)

	batch, err := s.StoreSnapshot(ctx, shuffled)
	require.NoError(t, err)
	assert.Equal(t, 10, batch.Count)
	assert.NotEmpty(t, batch.ID)

	views, err := s.LatestTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, views, 10)
	for i, v := range views {
		q := quotes[i]
		assert.Equal(t, q.ID, v.AssetID)
		assert.Equal(t, q.Name, v.Name)
		assert.Equal(t, i+1, v.MarketCapRank)
		assert.True(t, q.PriceUSD.Equal(v.PriceUSD), "price %s != %s", q.PriceUSD, v.PriceUSD)
		assert.True(t, q.MarketCapUSD.Equal(v.MarketCapUSD))
		assert.True(t, v.ObservedAt.Equal(batch.ObservedAt))
		assert.Equal(t, batch.ID, v.BatchID)
	}

	assert.EqualValues(t, 10, count(t, db, &models.Asset{}))
	assert.EqualValues(t, 10, count(t, db, &models.PriceSnapshot{}))
}

func TestStoreSnapshotUpsertsAssets(t *testing.T) {
	s, db, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreSnapshot(ctx, sampleQuotes("coin", 100))
	require.NoError(t, err)

	var before models.Asset
	require.NoError(t, db.First(&before, "id = ?", "coin-1").Error)

	clock.Advance(24 * time.Hour)
	renamed := sampleQuotes("coin", 200)
	renamed[0].Name = "Coin One"
	renamed[0].Symbol = "ONE"
	second, err := s.StoreSnapshot(ctx, renamed)
	require.NoError(t, err)

	var after models.Asset
	require.NoError(t, db.First(&after, "id = ?", "coin-1").Error)
	assert.Equal(t, "Coin One", after.Name)
	assert.Equal(t, "ONE", after.Symbol)
	assert.True(t, after.CreatedAt.Equal(before.CreatedAt), "created_at must not change")
	assert.True(t, after.UpdatedAt.Equal(second.ObservedAt))

	assert.EqualValues(t, 10, count(t, db, &models.Asset{}))
	assert.EqualValues(t, 20, count(t, db, &models.PriceSnapshot{}))
}

func TestLatestTopNeverMixesBatches(t *testing.T) {
	s, db, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.StoreSnapshot(ctx, sampleQuotes("coin", 100))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := s.StoreSnapshot(ctx, sampleQuotes("coin", 500))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	var groups int64
	require.NoError(t, db.Model(&models.PriceSnapshot{}).Distinct("observed_at").Count(&groups).Error)
	assert.EqualValues(t, 2, groups)

	views, err := s.LatestTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, views, 10)
	for _, v := range views {
		assert.Equal(t, second.ID, v.BatchID)
	}
	assert.True(t, views[0].PriceUSD.Equal(decimal.RequireFromString("499.25")))
}

func TestLatestTopGroupsByBatchOnTimestampTie(t *testing.T) {
	// the clock never moves, so both batches share observed_at
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.StoreSnapshot(ctx, sampleQuotes("coin", 100))
	require.NoError(t, err)
	second, err := s.StoreSnapshot(ctx, sampleQuotes("coin", 300))
	require.NoError(t, err)

	views, err := s.LatestTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, views, 10)
	for _, v := range views {
		assert.Equal(t, second.ID, v.BatchID)
	}
}

func TestStoreSnapshotIsAtomic(t *testing.T) {
	s, db, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.StoreSnapshot(ctx, sampleQuotes("coin", 100))
	require.NoError(t, err)

	// fail the seventh snapshot insert of the next batch
	var inserts int
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_seventh_snapshot", func(tx *gorm.DB) {
		if tx.Statement.Table != "price_snapshots" {
			return
		}
		inserts++
		if inserts == 7 {
			tx.AddError(errors.New("disk full"))
		}
	}))

	clock.Advance(time.Hour)
	failing := sampleQuotes("coin", 900)
	failing[0].Name = "Should Not Persist"
	for i := 5; i < 10; i++ {
		failing[i].ID = fmt.Sprintf("new-%d", i)
	}

	batch, err := s.StoreSnapshot(ctx, failing)
	assert.Nil(t, batch)
	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr), "got %v", err)
	assert.Contains(t, err.Error(), "disk full")

	assert.EqualValues(t, 10, count(t, db, &models.Asset{}))
	assert.EqualValues(t, 10, count(t, db, &models.PriceSnapshot{}))

	var coin1 models.Asset
	require.NoError(t, db.First(&coin1, "id = ?", "coin-1").Error)
	assert.Equal(t, "Coin 1", coin1.Name)

	views, err := s.LatestTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, views, 10)
	assert.Equal(t, first.ID, views[0].BatchID)
	assert.True(t, views[0].PriceUSD.Equal(decimal.RequireFromString("99.25")))
}

func TestStoreSnapshotRejectsEmpty(t *testing.T) {
	s, _, _ := newTestStore(t)

	_, err := s.StoreSnapshot(context.Background(), nil)
	var storeErr *StoreError
	assert.True(t, errors.As(err, &storeErr))
}

func TestLastRun(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	run, err := s.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, run)

	require.NoError(t, s.LogRun(ctx, models.RunLogEntry{Status: models.RunStatusFailed, ErrorMessage: "api down"}))
	clock.Advance(time.Minute)
	quotes := sampleQuotes("coin", 100)
	require.NoError(t, s.LogRun(ctx, models.RunLogEntry{
		Status:           models.RunStatusSuccess,
		NotificationSent: true,
		BatchID:          "batch-1",
		Quotes:           quotes,
	}))

	run, err = s.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Nil(t, run.ErrorMessage)
	assert.True(t, run.NotificationSent)
	require.NotNil(t, run.BatchID)
	assert.Equal(t, "batch-1", *run.BatchID)
	require.NotNil(t, run.SnapshotPayload)
	assert.Contains(t, *run.SnapshotPayload, `"id":"coin-1"`)

	view := run.View()
	assert.Equal(t, models.RunStatusSuccess, view.Status)
	assert.True(t, view.RanAt.Equal(clock.Now()))
}

func TestLogRunFailedEntry(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogRun(ctx, models.RunLogEntry{Status: models.RunStatusFailed, ErrorMessage: "boom"}))

	run, err := s.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "boom", *run.ErrorMessage)
	assert.False(t, run.NotificationSent)
	assert.Nil(t, run.SnapshotPayload)
	assert.Nil(t, run.BatchID)
}

func TestPurgeOlderThan(t *testing.T) {
	s, db, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, db.Create(&models.Asset{ID: "bitcoin", Name: "Bitcoin", Symbol: "BTC"}).Error)
	for _, age := range []int{5, 35, 65} {
		observed := now.Add(-time.Duration(age) * 24 * time.Hour)
		require.NoError(t, db.Create(&models.PriceSnapshot{
			AssetID:       "bitcoin",
			BatchID:       fmt.Sprintf("batch-%d", age),
			PriceUSD:      models.NewAmount(decimal.NewFromInt(int64(age))),
			MarketCapRank: 1,
			ObservedAt:    observed,
		}).Error)
		require.NoError(t, db.Create(&models.RunLog{
			RanAt:  observed,
			Status: models.RunStatusSuccess,
		}).Error)
	}

	result, err := s.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.SnapshotsDeleted)
	assert.EqualValues(t, 2, result.RunLogsDeleted)
	assert.True(t, result.Cutoff.Equal(now.Add(-30*24*time.Hour)))

	var left []models.PriceSnapshot
	require.NoError(t, db.Find(&left).Error)
	require.Len(t, left, 1)
	assert.Equal(t, "batch-5", left[0].BatchID)
	assert.EqualValues(t, 1, count(t, db, &models.RunLog{}))
	assert.EqualValues(t, 1, count(t, db, &models.Asset{}), "assets are never purged")

	_, err = s.PurgeOlderThan(ctx, 0)
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	for day := 0; day < 10; day++ {
		_, err := s.StoreSnapshot(ctx, sampleQuotes("coin", int64(100+day)))
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)
	}

	history, err := s.History(ctx, "coin-1", 7)
	require.NoError(t, err)
	require.Len(t, history, 7)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].ObservedAt.After(history[i-1].ObservedAt))
	}
	assert.True(t, history[6].PriceUSD.Equal(decimal.RequireFromString("108.25")))

	none, err := s.History(ctx, "unknown", 7)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPing(t *testing.T) {
	s, _, _ := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestAmountsRoundTripExactly(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	quotes := sampleQuotes("precise", 100)
	quotes[0].PriceUSD = decimal.RequireFromString("0.0000123456789012")
	quotes[0].MarketCapUSD = decimal.RequireFromString("1234567890123456.78")
	quotes[0].PriceChange24hPercent = decimal.RequireFromString("-0.1234")
	_, err := s.StoreSnapshot(ctx, quotes)
	require.NoError(t, err)

	views, err := s.LatestTop(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, views)
	assert.Equal(t, "0.0000123456789012", views[0].PriceUSD.String())
	assert.Equal(t, "1234567890123456.78", views[0].MarketCapUSD.String())
	assert.Equal(t, "-0.1234", views[0].PriceChange24hPercent.String())

	var storage string
	require.NoError(t, db.Raw("SELECT typeof(price_usd) FROM price_snapshots LIMIT 1").Scan(&storage).Error)
	assert.Equal(t, "text", storage)
}

func TestLatestBatchID(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	id, err := s.LatestBatchID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	first, err := s.StoreSnapshot(ctx, sampleQuotes("a", 100))
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := s.StoreSnapshot(ctx, sampleQuotes("b", 200))
	require.NoError(t, err)

	id, err = s.LatestBatchID(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)

	older, err := s.BatchTop(ctx, first.ID, 3)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, "a-1", older[0].AssetID)
	assert.Equal(t, first.ID, older[2].BatchID)
}
