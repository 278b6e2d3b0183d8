package db

import (
	"fmt"
)

// Migrate creates/updates the schema. Journal tables only, nothing here
// is read back by the pipeline.
func (h *Handle) Migrate() error {
	if err := h.DB.AutoMigrate(
		&SyncRun{},
		&FeedDownload{},
	); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}
	return nil
}
