package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Amount is a decimal column. SQLite stores it as TEXT so values read back
// exactly; other dialects get decimal(precision,scale).
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (Amount) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	return fmt.Sprintf("decimal(%d,%d)", field.Precision, field.Scale)
}

// Asset is a tracked cryptocurrency, keyed by its CoinGecko slug
type Asset struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"` // e.g. "bitcoin"
	Name      string    `gorm:"size:128;not null" json:"name"`
	Symbol    string    `gorm:"size:32;not null" json:"symbol"`
	ImageURL  string    `gorm:"size:512" json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceSnapshot is one immutable observation of an asset. Every row written
// by the same run shares ObservedAt and BatchID.
type PriceSnapshot struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	AssetID               string    `gorm:"column:asset_id;size:64;not null;index:idx_snapshot_asset_observed" json:"asset_id"`
	Asset                 Asset     `gorm:"foreignKey:AssetID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	BatchID               string    `gorm:"column:batch_id;size:36;not null;index" json:"batch_id"`
	PriceUSD              Amount    `gorm:"column:price_usd;precision:30;scale:10;not null" json:"price_usd"`
	MarketCapUSD          Amount    `gorm:"column:market_cap_usd;precision:30;scale:2;not null" json:"market_cap_usd"`
	Volume24hUSD          Amount    `gorm:"column:volume_24h_usd;precision:30;scale:2;not null" json:"volume_24h_usd"`
	PriceChange24hPercent Amount    `gorm:"column:price_change_24h_percent;precision:12;scale:4;not null" json:"price_change_24h_percent"`
	MarketCapRank         int       `gorm:"column:market_cap_rank;not null" json:"market_cap_rank"`
	ObservedAt            time.Time `gorm:"column:observed_at;not null;index;index:idx_snapshot_asset_observed" json:"observed_at"`
}

type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// RunLog is the audit record of one pipeline execution
type RunLog struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RanAt            time.Time `gorm:"column:ran_at;not null;index" json:"ran_at"`
	Status           RunStatus `gorm:"size:20;not null" json:"status"`
	ErrorMessage     *string   `gorm:"type:text" json:"error_message"`
	NotificationSent bool      `gorm:"not null" json:"notification_sent"`
	BatchID          *string   `gorm:"column:batch_id;size:36" json:"batch_id,omitempty"`
	SnapshotPayload  *string   `gorm:"type:text" json:"-"` // JSON copy of the run's quotes
}

func (Asset) TableName() string {
	return "assets"
}

func (PriceSnapshot) TableName() string {
	return "price_snapshots"
}

func (RunLog) TableName() string {
	return "run_logs"
}

// MigrateCryptoModels runs database migrations for the dashboard tables
func MigrateCryptoModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Asset{},
		&PriceSnapshot{},
		&RunLog{},
	)
}
