package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"crypto_dashboard/config"
	"crypto_dashboard/models"
	"crypto_dashboard/services/datafetcher"
	"crypto_dashboard/services/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marketsPayload(offset float64) []map[string]interface{} {
	coins := make([]map[string]interface{}, 0, TopN)
	for i := 1; i <= TopN; i++ {
		coins = append(coins, map[string]interface{}{
			"id":                          fmt.Sprintf("coin-%d", i),
			"symbol":                      fmt.Sprintf("c%d", i),
			"name":                        fmt.Sprintf("Coin %d", i),
			"image":                       "https://example.com/coin.png",
			"current_price":               float64(1000-i) + offset,
			"market_cap":                  float64(1000-i) * 1e6,
			"market_cap_rank":             i,
			"total_volume":                float64(i) * 1e3,
			"price_change_percentage_24h": 1.25,
		})
	}
	return coins
}

type marketServer struct {
	*httptest.Server
	offset atomic.Int64
	fail   atomic.Bool
}

func newMarketServer(t *testing.T) *marketServer {
	ms := &marketServer{}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ms.fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(marketsPayload(float64(ms.offset.Load())))
	}))
	t.Cleanup(ms.Close)
	return ms
}

func newIntegrationStore(t *testing.T, now func() time.Time) *store.Store {
	t.Helper()
	db, err := config.OpenDatabase(config.DriverSQLite, filepath.Join(t.TempDir(), "pipeline.db"), "silent")
	require.NoError(t, err)
	require.NoError(t, models.MigrateCryptoModels(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return store.New(db, store.WithClock(now))
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	server := newMarketServer(t)
	st := newIntegrationStore(t, now)
	fetcher := datafetcher.NewDataFetcher(server.URL, "", 5*time.Second)
	nt := &fakeNotifier{}
	p := New(fetcher, st, nt, WithClock(now))

	result := p.Run(ctx)
	require.True(t, result.Succeeded(), "run failed: %v", result.Err)
	assert.Equal(t, TopN, result.AssetsUpdated)

	views, err := st.LatestTop(ctx, TopN)
	require.NoError(t, err)
	require.Len(t, views, TopN)
	for i, v := range views {
		assert.Equal(t, i+1, v.MarketCapRank)
		assert.Equal(t, fmt.Sprintf("C%d", i+1), v.Symbol)
	}
	assert.True(t, views[0].PriceUSD.Equal(decimal.NewFromInt(999)))

	last, err := st.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, models.RunStatusSuccess, last.Status)
	assert.True(t, last.NotificationSent)

	// second run with new prices replaces the latest group
	current = current.Add(24 * time.Hour)
	server.offset.Store(5)
	result = p.Run(ctx)
	require.True(t, result.Succeeded())

	views, err = st.LatestTop(ctx, TopN)
	require.NoError(t, err)
	require.Len(t, views, TopN)
	assert.True(t, views[0].PriceUSD.Equal(decimal.NewFromInt(1004)))
	for _, v := range views {
		assert.Equal(t, current, v.ObservedAt.UTC())
	}

	history, err := st.History(ctx, "coin-1", 7)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPipelineFetchFailureKeepsPreviousData(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	server := newMarketServer(t)
	st := newIntegrationStore(t, now)
	fetcher := datafetcher.NewDataFetcher(server.URL, "", 5*time.Second)
	nt := &fakeNotifier{summaryErr: fmt.Errorf("ses rejected")}
	p := New(fetcher, st, nt, WithClock(now))

	first := p.Run(ctx)
	require.True(t, first.Succeeded())
	assert.False(t, first.NotificationSent)

	current = current.Add(time.Hour)
	server.fail.Store(true)
	second := p.Run(ctx)
	assert.Equal(t, models.RunStatusFailed, second.Status)
	assert.Equal(t, StateFetchFailed, second.State)

	views, err := st.LatestTop(ctx, TopN)
	require.NoError(t, err)
	require.Len(t, views, TopN)
	assert.Equal(t, current.Add(-time.Hour), views[0].ObservedAt.UTC())

	last, err := st.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, models.RunStatusFailed, last.Status)
	assert.False(t, last.NotificationSent)
	require.NotNil(t, last.ErrorMessage)
	assert.Contains(t, *last.ErrorMessage, msgFetchFailed)
}

// cancelingNotifier cancels the run's context once the summary is out,
// the way a client disconnecting mid-refresh does
type cancelingNotifier struct {
	fakeNotifier
	cancel context.CancelFunc
}

func (n *cancelingNotifier) SendSummary(ctx context.Context, quotes []models.Quote) (bool, error) {
	sent, err := n.fakeNotifier.SendSummary(ctx, quotes)
	n.cancel()
	return sent, err
}

func TestPipelineRecordsRunAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	current := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	server := newMarketServer(t)
	st := newIntegrationStore(t, now)
	fetcher := datafetcher.NewDataFetcher(server.URL, "", 5*time.Second)
	nt := &cancelingNotifier{cancel: cancel}
	p := New(fetcher, st, nt, WithClock(now))

	result := p.Run(ctx)
	require.True(t, result.Succeeded(), "run failed: %v", result.Err)
	assert.True(t, result.NotificationSent)
	assert.NoError(t, result.LogErr)
	require.Error(t, ctx.Err())

	last, err := st.LastRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last, "summary was sent but no run was logged")
	assert.Equal(t, models.RunStatusSuccess, last.Status)
	assert.True(t, last.NotificationSent)
	assert.Equal(t, current, last.RanAt.UTC())
}
