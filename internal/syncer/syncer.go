// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/bartek5186/watchsync/internal/db"
	"github.com/bartek5186/watchsync/internal/feed"
	"github.com/bartek5186/watchsync/internal/marketplaces"
	_ "github.com/bartek5186/watchsync/internal/marketplaces/ozon"   // registration
	_ "github.com/bartek5186/watchsync/internal/marketplaces/yandex" // registration
	"github.com/bartek5186/watchsync/internal/reconcile"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Summary is what one target sync produced. Stocks is the full record
// list, NonZero the subset actually in stock (reporting only).
type Summary struct {
	Target     string
	Offers     int
	Stocks     []reconcile.StockRecord
	NonZero    []reconcile.StockRecord
	StocksSent int
	PricesSent int
}

type Syncer struct {
	log     zerolog.Logger
	db      *gorm.DB     // sync journal, optional
	mu      sync.Mutex   // guards cfg/running/cancel/sweeps
	cfg     *conf.Config // current configuration
	sec     conf.Secrets
	feed    *feed.Client
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sweeps  uint64 // sweep counter
}

func New(log zerolog.Logger, cfg *conf.Config, sec conf.Secrets, gdb *gorm.DB) *Syncer {
	return &Syncer{
		log:  log,
		cfg:  cfg,
		sec:  sec,
		db:   gdb,
		feed: feed.New(log.With().Str("component", "feed").Logger(), cfg.Feed),
	}
}

func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.sweeps = 0
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info().Msg("syncer: start")
	go s.loop(ctx)
	return nil
}

func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("syncer: stop")
}

// UpdateConfig swaps the configuration and, if the loop is running,
// restarts it under the same parent context so process shutdown still
// reaches the new loop.
func (s *Syncer) UpdateConfig(ctx context.Context, cfg *conf.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.feed = feed.New(s.log.With().Str("component", "feed").Logger(), cfg.Feed)
	isRunning := s.running
	s.mu.Unlock()

	s.log.Info().Msg("syncer: config updated")

	if isRunning {
		// restart so the next sweep uses the new target configs
		s.Stop()
		_ = s.Start(ctx)
	}
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg != nil && s.cfg.SyncIntervalMinutes > 0 {
		return time.Duration(s.cfg.SyncIntervalMinutes) * time.Minute
	}
	return time.Hour
}

func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	// first sweep right away
	s.sweepOnce(ctx)

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("syncer: loop done")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
			// pick up an interval change from UpdateConfig
			ticker.Reset(s.interval())
		}
	}
}

func (s *Syncer) sweepOnce(ctx context.Context) {
	s.mu.Lock()
	s.sweeps++
	n := s.sweeps
	s.mu.Unlock()

	s.log.Info().Uint64("sweep", n).Msg("syncer: sweep start")
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Uint64("sweep", n).Msg("syncer: sweep finished with errors")
	}
}

// RunOnce performs one full sweep: download the feed once, then sync
// every configured target sequentially. A failing target is logged and
// journaled, the remaining targets still run. Returns the first error
// for the caller's exit code.
func (s *Syncer) RunOnce(ctx context.Context) error {
	runID := uuid.NewString()
	log := s.log.With().Str("run_id", runID).Logger()

	s.mu.Lock()
	fc := s.feed
	feedURL := s.cfg.Feed.URL
	s.mu.Unlock()

	remnants, size, err := fc.Download(ctx)
	if err != nil {
		log.Error().Err(err).Msg("feed download failed, sweep aborted")
		return err
	}
	if s.db != nil {
		_ = s.db.Create(&db.FeedDownload{
			RunID:     runID,
			URL:       feedURL,
			Rows:      len(remnants),
			SizeBytes: size,
		}).Error
	}

	targets := s.buildTargets()
	if len(targets) == 0 {
		log.Warn().Msg("no usable targets (check config.json and credentials)")
		return nil
	}

	var firstErr error
	for _, t := range targets {
		sum, err := s.syncTarget(ctx, t, remnants, runID)
		if err != nil {
			log.Error().Err(err).Str("target", t.Name()).Msg("target sync failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.Info().
			Str("target", sum.Target).
			Int("offers", sum.Offers).
			Int("stocks", sum.StocksSent).
			Int("non_zero", len(sum.NonZero)).
			Int("prices", sum.PricesSent).
			Msg("target synced")
	}
	return firstErr
}

func (s *Syncer) buildTargets() []marketplaces.Target {
	s.mu.Lock()
	cfg := s.cfg
	sec := s.sec
	s.mu.Unlock()

	var out []marketplaces.Target
	if cfg == nil || len(cfg.Targets) == 0 {
		s.log.Warn().Msg("targets: none configured (check config.json)")
		return out
	}

	// deterministic order across sweeps
	names := make([]string, 0, len(cfg.Targets))
	for name := range cfg.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f, ok := marketplaces.Get(name)
		if !ok {
			s.log.Warn().
				Str("marketplace", name).
				Strs("known", marketplaces.Names()).
				Msg("no factory, skipping")
			continue
		}
		ts, err := f(s.log.With().Str("marketplace", name).Logger(), cfg.Targets[name], sec)
		if err != nil {
			s.log.Error().Err(err).Str("marketplace", name).Msg("target init failed")
			continue
		}
		out = append(out, ts...)
	}
	return out
}

// syncTarget wraps pushTarget with the journal row.
func (s *Syncer) syncTarget(ctx context.Context, t marketplaces.Target, remnants []feed.Remnant, runID string) (Summary, error) {
	row := db.SyncRun{RunID: runID, Target: t.Name(), Status: "running"}
	if s.db != nil {
		_ = s.db.Create(&row).Error
	}

	sum, err := s.pushTarget(ctx, t, remnants)

	if s.db != nil {
		now := time.Now()
		updates := map[string]any{
			"status":       "done",
			"offers_total": sum.Offers,
			"stocks_sent":  sum.StocksSent,
			"non_zero":     len(sum.NonZero),
			"prices_sent":  sum.PricesSent,
			"finished_at":  now,
		}
		if err != nil {
			updates["status"] = "error"
			updates["last_error"] = err.Error()
		}
		_ = s.db.Model(&db.SyncRun{}).Where("id = ?", row.ID).Updates(updates).Error
	}
	return sum, err
}

// pushTarget runs the pipeline for one target: catalog sweep, feed
// join, batched uploads. Stock and price uploads are independent: a
// stock failure does not stop the price attempt, both errors surface.
func (s *Syncer) pushTarget(ctx context.Context, t marketplaces.Target, remnants []feed.Remnant) (Summary, error) {
	sum := Summary{Target: t.Name()}

	offerIDs, err := t.ListOfferIDs(ctx)
	if err != nil {
		return sum, err
	}
	sum.Offers = len(offerIDs)

	stocks, err := reconcile.Stocks(remnants, offerIDs)
	if err != nil {
		return sum, err
	}
	prices := reconcile.Prices(remnants, offerIDs, t.Currency())
	sum.Stocks = stocks
	sum.NonZero = reconcile.NonZero(stocks)

	lim := t.Limits()

	var stockErr error
	for batch := range slices.Chunk(stocks, lim.Stock) {
		if err := t.UpdateStocks(ctx, batch); err != nil {
			stockErr = err
			break
		}
		sum.StocksSent += len(batch)
	}

	var priceErr error
	for batch := range slices.Chunk(prices, lim.Price) {
		if err := t.UpdatePrices(ctx, batch); err != nil {
			priceErr = err
			break
		}
		sum.PricesSent += len(batch)
	}

	return sum, errors.Join(stockErr, priceErr)
}
