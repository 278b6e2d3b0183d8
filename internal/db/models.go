// internal/db/models.go
package db

import "time"

// sync_runs — one row per target per sweep, reporting only.
type SyncRun struct {
	ID          uint       `gorm:"primaryKey"`
	RunID       string     `gorm:"index"`                 // shared by all targets of one sweep
	Target      string     `gorm:"index"`                 // e.g. "ozon", "yandex/fbs"
	Status      string     `gorm:"index;default:running"` // running/done/error
	LastError   string     `gorm:"type:text"`
	OffersTotal int        // offer ids fetched from the catalog
	StocksSent  int        // stock records pushed
	NonZero     int        // stock records with quantity > 0
	PricesSent  int        // price records pushed
	StartedAt   time.Time  `gorm:"autoCreateTime"`
	FinishedAt  *time.Time
}

// feed_downloads — slim journal of snapshot fetches.
type FeedDownload struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     string    `gorm:"index"`
	URL       string
	Rows      int
	SizeBytes int64
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
