package syncer

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/bartek5186/watchsync/internal/db"
	"github.com/bartek5186/watchsync/internal/feed"
	"github.com/bartek5186/watchsync/internal/marketplaces"
	"github.com/bartek5186/watchsync/internal/reconcile"
	"github.com/rs/zerolog"
)

type fakeTarget struct {
	name     string
	offerIDs []string
	limits   marketplaces.Limits
	listErr  error
	stockErr error
	priceErr error

	mu           sync.Mutex // uploads may come from the sync loop goroutine
	stockBatches [][]reconcile.StockRecord
	priceBatches [][]reconcile.PriceRecord
}

func (f *fakeTarget) Name() string                { return f.name }
func (f *fakeTarget) Currency() string            { return "RUB" }
func (f *fakeTarget) Limits() marketplaces.Limits { return f.limits }

func (f *fakeTarget) ListOfferIDs(ctx context.Context) ([]string, error) {
	return f.offerIDs, f.listErr
}

func (f *fakeTarget) UpdateStocks(ctx context.Context, batch []reconcile.StockRecord) error {
	if f.stockErr != nil {
		return f.stockErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stockBatches = append(f.stockBatches, slices.Clone(batch))
	return nil
}

func (f *fakeTarget) UpdatePrices(ctx context.Context, batch []reconcile.PriceRecord) error {
	if f.priceErr != nil {
		return f.priceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceBatches = append(f.priceBatches, slices.Clone(batch))
	return nil
}

func (f *fakeTarget) uploads() (stocks, prices int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stockBatches), len(f.priceBatches)
}

func testConfig(feedURL string) *conf.Config {
	return &conf.Config{
		Feed:    conf.FeedConfig{URL: feedURL, Charset: "utf-8"},
		Targets: map[string]json.RawMessage{},
	}
}

func testRemnants() []feed.Remnant {
	return []feed.Remnant{
		{Code: "A", Quantity: ">10", Price: "100.00"},
		{Code: "B", Quantity: "1", Price: "50.00"},
		{Code: "C", Quantity: "7", Price: "70.00"},
	}
}

func TestPushTargetBatches(t *testing.T) {
	ft := &fakeTarget{
		name:     "fake",
		offerIDs: []string{"A", "B", "C", "D", "E"},
		limits:   marketplaces.Limits{Stock: 2, Price: 2},
	}
	s := New(zerolog.Nop(), testConfig("http://unused"), conf.Secrets{}, nil)

	sum, err := s.pushTarget(context.Background(), ft, testRemnants())
	if err != nil {
		t.Fatal(err)
	}

	// concatenated stock batches reproduce the record list, every
	// batch but the last has exactly the limit size
	var flat []reconcile.StockRecord
	for i, b := range ft.stockBatches {
		if i < len(ft.stockBatches)-1 && len(b) != 2 {
			t.Fatalf("batch %d has %d records, want 2", i, len(b))
		}
		if len(b) == 0 || len(b) > 2 {
			t.Fatalf("batch %d has %d records", i, len(b))
		}
		flat = append(flat, b...)
	}
	if !slices.Equal(flat, sum.Stocks) {
		t.Fatalf("batches %v do not reproduce %v", flat, sum.Stocks)
	}

	wantStocks := []reconcile.StockRecord{{OfferID: "A", Quantity: 100}, {OfferID: "B", Quantity: 0}, {OfferID: "C", Quantity: 7}, {OfferID: "D", Quantity: 0}, {OfferID: "E", Quantity: 0}}
	if !slices.Equal(sum.Stocks, wantStocks) {
		t.Fatalf("stocks = %v, want %v", sum.Stocks, wantStocks)
	}
	wantNonZero := []reconcile.StockRecord{{OfferID: "A", Quantity: 100}, {OfferID: "C", Quantity: 7}}
	if !slices.Equal(sum.NonZero, wantNonZero) {
		t.Fatalf("non-zero = %v, want %v", sum.NonZero, wantNonZero)
	}
	if sum.Offers != 5 || sum.StocksSent != 5 || sum.PricesSent != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(ft.priceBatches) != 2 { // 2 + 1
		t.Fatalf("price batches = %d, want 2", len(ft.priceBatches))
	}
}

func TestPushTargetStockFailureStillPushesPrices(t *testing.T) {
	ft := &fakeTarget{
		name:     "fake",
		offerIDs: []string{"A", "B"},
		limits:   marketplaces.Limits{Stock: 100, Price: 100},
		stockErr: errors.New("boom"),
	}
	s := New(zerolog.Nop(), testConfig("http://unused"), conf.Secrets{}, nil)

	sum, err := s.pushTarget(context.Background(), ft, testRemnants())
	if err == nil {
		t.Fatal("expected stock error to surface")
	}
	if sum.StocksSent != 0 {
		t.Fatalf("stocks sent = %d, want 0", sum.StocksSent)
	}
	if len(ft.priceBatches) != 1 || sum.PricesSent != 2 {
		t.Fatalf("price upload skipped: batches=%d sent=%d", len(ft.priceBatches), sum.PricesSent)
	}
}

func TestPushTargetListError(t *testing.T) {
	ft := &fakeTarget{
		name:    "fake",
		listErr: errors.New("catalog down"),
		limits:  marketplaces.Limits{Stock: 100, Price: 100},
	}
	s := New(zerolog.Nop(), testConfig("http://unused"), conf.Secrets{}, nil)

	if _, err := s.pushTarget(context.Background(), ft, testRemnants()); err == nil {
		t.Fatal("expected error")
	}
	if len(ft.stockBatches) != 0 || len(ft.priceBatches) != 0 {
		t.Fatal("no uploads expected after a catalog failure")
	}
}

func TestSyncTargetJournal(t *testing.T) {
	dbh, err := db.OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := dbh.Migrate(); err != nil {
		t.Fatal(err)
	}

	ft := &fakeTarget{
		name:     "fake",
		offerIDs: []string{"A", "B", "C"},
		limits:   marketplaces.Limits{Stock: 100, Price: 100},
	}
	s := New(zerolog.Nop(), testConfig("http://unused"), conf.Secrets{}, dbh.DB)

	if _, err := s.syncTarget(context.Background(), ft, testRemnants(), "run-1"); err != nil {
		t.Fatal(err)
	}

	var row db.SyncRun
	if err := dbh.DB.Where("run_id = ? AND target = ?", "run-1", "fake").Take(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Status != "done" {
		t.Fatalf("status = %q, want done", row.Status)
	}
	if row.OffersTotal != 3 || row.StocksSent != 3 || row.NonZero != 2 || row.PricesSent != 3 {
		t.Fatalf("row = %+v", row)
	}
	if row.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}

	// failing target gets an error row
	ft2 := &fakeTarget{
		name:    "broken",
		listErr: errors.New("catalog down"),
		limits:  marketplaces.Limits{Stock: 100, Price: 100},
	}
	if _, err := s.syncTarget(context.Background(), ft2, testRemnants(), "run-1"); err == nil {
		t.Fatal("expected error")
	}
	var row2 db.SyncRun
	if err := dbh.DB.Where("run_id = ? AND target = ?", "run-1", "broken").Take(&row2).Error; err != nil {
		t.Fatal(err)
	}
	if row2.Status != "error" || row2.LastError == "" {
		t.Fatalf("row = %+v", row2)
	}
}

// newFeedServer serves the csv body as a one-file zip archive.
func newFeedServer(t *testing.T, csv string) *httptest.Server {
	t.Helper()
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	f, _ := zw.Create("ostatki.csv")
	_, _ = f.Write([]byte(csv))
	_ = zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceFullSweep(t *testing.T) {
	feedSrv := newFeedServer(t, "Код;Количество;Цена\nA;>10;100.00\nB;1;50.00\n")

	ft := &fakeTarget{
		name:     "testmp",
		offerIDs: []string{"A", "B", "C"},
		limits:   marketplaces.Limits{Stock: 100, Price: 100},
	}
	marketplaces.Register("testmp", func(log zerolog.Logger, raw json.RawMessage, sec conf.Secrets) ([]marketplaces.Target, error) {
		return []marketplaces.Target{ft}, nil
	})

	cfg := testConfig(feedSrv.URL)
	cfg.Targets["testmp"] = json.RawMessage(`{}`)

	dbh, err := db.OpenAt(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := dbh.Migrate(); err != nil {
		t.Fatal(err)
	}

	s := New(zerolog.Nop(), cfg, conf.Secrets{}, dbh.DB)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(ft.stockBatches) != 1 {
		t.Fatalf("stock batches = %d, want 1", len(ft.stockBatches))
	}
	want := []reconcile.StockRecord{{OfferID: "A", Quantity: 100}, {OfferID: "B", Quantity: 0}, {OfferID: "C", Quantity: 0}}
	if !slices.Equal(ft.stockBatches[0], want) {
		t.Fatalf("stocks = %v, want %v", ft.stockBatches[0], want)
	}
	wantPrices := []reconcile.PriceRecord{
		{OfferID: "A", Price: 100, CurrencyCode: "RUB"},
		{OfferID: "B", Price: 50, CurrencyCode: "RUB"},
	}
	if len(ft.priceBatches) != 1 || !slices.Equal(ft.priceBatches[0], wantPrices) {
		t.Fatalf("prices = %v, want %v", ft.priceBatches, wantPrices)
	}

	var dls []db.FeedDownload
	if err := dbh.DB.Find(&dls).Error; err != nil {
		t.Fatal(err)
	}
	if len(dls) != 1 || dls[0].Rows != 2 {
		t.Fatalf("feed journal = %+v", dls)
	}
}

func TestRunOnceSkipsUnknownMarketplace(t *testing.T) {
	feedSrv := newFeedServer(t, "Код;Количество;Цена\nA;>10;100.00\n")

	cfg := testConfig(feedSrv.URL)
	cfg.Targets["ghost"] = json.RawMessage(`{}`)

	s := New(zerolog.Nop(), cfg, conf.Secrets{}, nil)
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("unknown marketplace should be skipped, got %v", err)
	}
}

func TestStartRunsImmediateSweep(t *testing.T) {
	feedSrv := newFeedServer(t, "Код;Количество;Цена\nA;>10;100.00\n")

	ft := &fakeTarget{
		name:     "loopmp",
		offerIDs: []string{"A"},
		limits:   marketplaces.Limits{Stock: 100, Price: 100},
	}
	marketplaces.Register("loopmp", func(log zerolog.Logger, raw json.RawMessage, sec conf.Secrets) ([]marketplaces.Target, error) {
		return []marketplaces.Target{ft}, nil
	})

	cfg := testConfig(feedSrv.URL)
	cfg.SyncIntervalMinutes = 60 // far enough out that only the immediate sweep runs
	cfg.Targets["loopmp"] = json.RawMessage(`{}`)

	s := New(zerolog.Nop(), cfg, conf.Secrets{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !s.IsRunning() {
		t.Fatal("expected running after Start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if st, pr := ft.uploads(); st >= 1 && pr >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no sweep observed after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	if s.IsRunning() {
		t.Fatal("expected stopped after Stop")
	}
	s.Stop() // second Stop is a no-op
}

func TestUpdateConfigKeepsParentContext(t *testing.T) {
	feedSrv := newFeedServer(t, "Код;Количество;Цена\nA;>10;100.00\n")

	s := New(zerolog.Nop(), testConfig(feedSrv.URL), conf.Secrets{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	s.UpdateConfig(ctx, testConfig(feedSrv.URL))

	// cancelling the parent context must still reach the restarted loop
	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop survived parent context cancellation after reload")
	}
	s.Stop()
}
