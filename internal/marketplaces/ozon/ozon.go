// internal/marketplaces/ozon/ozon.go
package ozon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/bartek5186/watchsync/internal/marketplaces"
	"github.com/bartek5186/watchsync/internal/reconcile"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL      string `json:"base_url"`
	PageLimit    int    `json:"page_limit"`
	StockBatch   int    `json:"stock_batch"`
	PriceBatch   int    `json:"price_batch"`
	RatePerSec   int    `json:"rate_per_sec"`
	TimeoutSec   int    `json:"timeout_sec"`
	MaxPageSweep int    `json:"max_page_sweep"` // pagination runaway guard
}

// Seller talks to the seller API of one account.
type Seller struct {
	log      zerolog.Logger
	cfg      Config
	clientID string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

func (s *Seller) Name() string     { return "ozon" }
func (s *Seller) Currency() string { return "RUB" }

func (s *Seller) Limits() marketplaces.Limits {
	return marketplaces.Limits{Stock: s.cfg.StockBatch, Price: s.cfg.PriceBatch}
}

// ListOfferIDs sweeps the full catalog via the last_id cursor. The
// sweep is complete when the cumulative item count reaches the total
// reported by the API (this marketplace never returns an empty cursor
// signal). MaxPageSweep turns a non-terminating sweep into an error.
func (s *Seller) ListOfferIDs(ctx context.Context) ([]string, error) {
	var ids []string
	lastID := ""
	for page := 0; ; page++ {
		if page >= s.cfg.MaxPageSweep {
			return nil, fmt.Errorf("ozon: catalog sweep did not terminate after %d pages", page)
		}
		var res productListResponse
		req := productListRequest{
			Filter: productFilter{Visibility: "ALL"},
			LastID: lastID,
			Limit:  s.cfg.PageLimit,
		}
		if err := s.do(ctx, http.MethodPost, "/v2/product/list", req, &res); err != nil {
			return nil, err
		}
		for _, it := range res.Result.Items {
			ids = append(ids, it.OfferID)
		}
		lastID = res.Result.LastID
		if res.Result.Total == len(ids) {
			break
		}
	}
	s.log.Debug().Int("offers", len(ids)).Msg("catalog sweep done")
	return ids, nil
}

func (s *Seller) UpdateStocks(ctx context.Context, batch []reconcile.StockRecord) error {
	req := stocksRequest{Stocks: make([]stockItem, 0, len(batch))}
	for _, r := range batch {
		req.Stocks = append(req.Stocks, stockItem{OfferID: r.OfferID, Stock: r.Quantity})
	}
	return s.do(ctx, http.MethodPost, "/v1/product/import/stocks", req, nil)
}

func (s *Seller) UpdatePrices(ctx context.Context, batch []reconcile.PriceRecord) error {
	req := pricesRequest{Prices: make([]priceItem, 0, len(batch))}
	for _, r := range batch {
		req.Prices = append(req.Prices, priceItem{
			AutoActionEnabled: "UNKNOWN",
			CurrencyCode:      r.CurrencyCode,
			OfferID:           r.OfferID,
			OldPrice:          "0",
			Price:             strconv.Itoa(r.Price),
		})
	}
	return s.do(ctx, http.MethodPost, "/v1/product/import/prices", req, nil)
}

func (s *Seller) do(ctx context.Context, method, path string, in, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", s.clientID)
	req.Header.Set("Api-Key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("ozon %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ozon %s: http %d", path, resp.StatusCode)
	}
	if out == nil {
		// drain so the keep-alive connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ozon %s: decode: %w", path, err)
	}
	return nil
}

func factory(log zerolog.Logger, raw json.RawMessage, sec conf.Secrets) ([]marketplaces.Target, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if sec.OzonClientID == "" || sec.OzonAPIKey == "" {
		return nil, errors.New("ozon: OZON_CLIENT_ID / OZON_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-seller.ozon.ru"
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 1000
	}
	if cfg.StockBatch <= 0 {
		cfg.StockBatch = 100
	}
	if cfg.PriceBatch <= 0 {
		cfg.PriceBatch = 900
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	if cfg.MaxPageSweep <= 0 {
		cfg.MaxPageSweep = 1000
	}
	s := &Seller{
		log:      log,
		cfg:      cfg,
		clientID: sec.OzonClientID,
		apiKey:   sec.OzonAPIKey,
		http:     &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	return []marketplaces.Target{s}, nil
}

func init() {
	marketplaces.Register("ozon", factory)
}
