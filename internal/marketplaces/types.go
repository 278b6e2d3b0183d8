// internal/marketplaces/types.go
package marketplaces

import (
	"context"
	"encoding/json"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/bartek5186/watchsync/internal/reconcile"
	"github.com/rs/zerolog"
)

// Limits are the per-request item ceilings of a marketplace API.
type Limits struct {
	Stock int
	Price int
}

// Target is one marketplace account (campaign) the syncer pushes to.
// UpdateStocks/UpdatePrices take a single batch already capped at
// Limits; splitting is the caller's job.
type Target interface {
	Name() string
	Currency() string
	Limits() Limits
	ListOfferIDs(ctx context.Context) ([]string, error)
	UpdateStocks(ctx context.Context, batch []reconcile.StockRecord) error
	UpdatePrices(ctx context.Context, batch []reconcile.PriceRecord) error
}

// Factory builds the targets of one marketplace from its raw config
// section. A marketplace may expose several targets (e.g. one per
// campaign/warehouse pair).
type Factory func(log zerolog.Logger, raw json.RawMessage, sec conf.Secrets) ([]Target, error)
