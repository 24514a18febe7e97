package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one normalized market-data row as returned by the fetcher
type Quote struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Symbol                string          `json:"symbol"`
	PriceUSD              decimal.Decimal `json:"price_usd"`
	MarketCapUSD          decimal.Decimal `json:"market_cap_usd"`
	Volume24hUSD          decimal.Decimal `json:"volume_24h_usd"`
	PriceChange24hPercent decimal.Decimal `json:"price_change_24h_percent"`
	MarketCapRank         int             `json:"market_cap_rank"`
	ImageURL              string          `json:"image_url,omitempty"`
}

// SnapshotView is a PriceSnapshot joined with its Asset, as served by the read API
type SnapshotView struct {
	AssetID               string          `gorm:"column:asset_id" json:"id"`
	Name                  string          `gorm:"column:name" json:"name"`
	Symbol                string          `gorm:"column:symbol" json:"symbol"`
	ImageURL              string          `gorm:"column:image_url" json:"image_url,omitempty"`
	PriceUSD              decimal.Decimal `gorm:"column:price_usd" json:"price_usd"`
	MarketCapUSD          decimal.Decimal `gorm:"column:market_cap_usd" json:"market_cap_usd"`
	Volume24hUSD          decimal.Decimal `gorm:"column:volume_24h_usd" json:"volume_24h_usd"`
	PriceChange24hPercent decimal.Decimal `gorm:"column:price_change_24h_percent" json:"price_change_24h_percent"`
	MarketCapRank         int             `gorm:"column:market_cap_rank" json:"rank"`
	ObservedAt            time.Time       `gorm:"column:observed_at" json:"observed_at"`
	BatchID               string          `gorm:"column:batch_id" json:"-"`
}

// Batch identifies the rows written by one StoreSnapshot call
type Batch struct {
	ID         string    `json:"id"`
	ObservedAt time.Time `json:"observed_at"`
	Count      int       `json:"count"`
}

// RunLogEntry is the input for appending a RunLog
type RunLogEntry struct {
	Status           RunStatus
	ErrorMessage     string
	NotificationSent bool
	BatchID          string
	Quotes           []Quote
}

// RunStatusView is the last-run summary served by the read API
type RunStatusView struct {
	RanAt            time.Time `json:"ran_at"`
	Status           RunStatus `json:"status"`
	ErrorMessage     *string   `json:"error_message"`
	NotificationSent bool      `json:"notification_sent"`
}

// PurgeResult reports what a retention purge removed
type PurgeResult struct {
	Cutoff           time.Time `json:"cutoff"`
	SnapshotsDeleted int64     `json:"snapshots_deleted"`
	RunLogsDeleted   int64     `json:"run_logs_deleted"`
}

// View converts a RunLog into its read-API shape
func (r *RunLog) View() *RunStatusView {
	if r == nil {
		return nil
	}
	return &RunStatusView{
		RanAt:            r.RanAt,
		Status:           r.Status,
		ErrorMessage:     r.ErrorMessage,
		NotificationSent: r.NotificationSent,
	}
}
