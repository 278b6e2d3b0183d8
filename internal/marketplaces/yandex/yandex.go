// internal/marketplaces/yandex/yandex.go
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/bartek5186/watchsync/internal/marketplaces"
	"github.com/bartek5186/watchsync/internal/reconcile"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Campaign struct {
	CampaignID  string `json:"campaign_id"`
	WarehouseID string `json:"warehouse_id"`
}

type Config struct {
	BaseURL      string              `json:"base_url"`
	PageLimit    int                 `json:"page_limit"`
	StockBatch   int                 `json:"stock_batch"`
	PriceBatch   int                 `json:"price_batch"`
	RatePerSec   int                 `json:"rate_per_sec"`
	TimeoutSec   int                 `json:"timeout_sec"`
	MaxPageSweep int                 `json:"max_page_sweep"`
	Campaigns    map[string]Campaign `json:"campaigns"` // key: "fbs", "dbs", ...
}

// Market pushes to one campaign. Campaigns of the same account share
// the HTTP client and the rate limiter.
type Market struct {
	log         zerolog.Logger
	cfg         Config
	key         string // campaign key from config, for logs and Name()
	campaignID  string
	warehouseID string
	token       string
	http        *http.Client
	limiter     *rate.Limiter
	now         func() time.Time
}

func (m *Market) Name() string     { return "yandex/" + m.key }
func (m *Market) Currency() string { return "RUR" }

func (m *Market) Limits() marketplaces.Limits {
	return marketplaces.Limits{Stock: m.cfg.StockBatch, Price: m.cfg.PriceBatch}
}

// ListOfferIDs sweeps the campaign catalog with page tokens. The sweep
// is complete when the API stops returning a nextPageToken (this
// marketplace never reports a total to compare against). MaxPageSweep
// turns a non-terminating sweep into an error.
func (m *Market) ListOfferIDs(ctx context.Context) ([]string, error) {
	var ids []string
	pageToken := ""
	for page := 0; ; page++ {
		if page >= m.cfg.MaxPageSweep {
			return nil, fmt.Errorf("yandex/%s: catalog sweep did not terminate after %d pages", m.key, page)
		}
		q := url.Values{}
		q.Set("limit", strconv.Itoa(m.cfg.PageLimit))
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		var res offerMappingsResponse
		path := "/campaigns/" + m.campaignID + "/offer-mapping-entries?" + q.Encode()
		if err := m.do(ctx, http.MethodGet, path, nil, &res); err != nil {
			return nil, err
		}
		for _, e := range res.Result.OfferMappingEntries {
			ids = append(ids, e.Offer.ShopSku)
		}
		pageToken = res.Result.Paging.NextPageToken
		if pageToken == "" {
			break
		}
	}
	m.log.Debug().Int("offers", len(ids)).Msg("catalog sweep done")
	return ids, nil
}

func (m *Market) UpdateStocks(ctx context.Context, batch []reconcile.StockRecord) error {
	// one timestamp per request, second precision, UTC
	updatedAt := m.now().UTC().Format("2006-01-02T15:04:05Z")
	req := stocksRequest{Skus: make([]stockSku, 0, len(batch))}
	for _, r := range batch {
		req.Skus = append(req.Skus, stockSku{
			Sku:         r.OfferID,
			WarehouseID: m.warehouseID,
			Items: []stockSkuItem{{
				Count:     r.Quantity,
				Type:      "FIT",
				UpdatedAt: updatedAt,
			}},
		})
	}
	return m.do(ctx, http.MethodPut, "/campaigns/"+m.campaignID+"/offers/stocks", req, nil)
}

func (m *Market) UpdatePrices(ctx context.Context, batch []reconcile.PriceRecord) error {
	req := pricesRequest{Offers: make([]priceOffer, 0, len(batch))}
	for _, r := range batch {
		req.Offers = append(req.Offers, priceOffer{
			ID: r.OfferID,
			Price: priceValue{
				Value:      r.Price,
				CurrencyID: r.CurrencyCode,
			},
		})
	}
	return m.do(ctx, http.MethodPost, "/campaigns/"+m.campaignID+"/offer-prices/updates", req, nil)
}

func (m *Market) do(ctx context.Context, method, path string, in, out any) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.token)

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("yandex/%s %s: %w", m.key, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("yandex/%s %s: http %d", m.key, path, resp.StatusCode)
	}
	if out == nil {
		// drain so the keep-alive connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("yandex/%s %s: decode: %w", m.key, path, err)
	}
	return nil
}

func factory(log zerolog.Logger, raw json.RawMessage, sec conf.Secrets) ([]marketplaces.Target, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if sec.MarketToken == "" {
		return nil, errors.New("yandex: MARKET_TOKEN not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.partner.market.yandex.ru"
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 200
	}
	if cfg.StockBatch <= 0 {
		cfg.StockBatch = 2000
	}
	if cfg.PriceBatch <= 0 {
		cfg.PriceBatch = 500
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

	client := &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)

	// deterministic target order
	keys := make([]string, 0, len(cfg.Campaigns))
	for k := range cfg.Campaigns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []marketplaces.Target
	for _, k := range keys {
		c := cfg.Campaigns[k]
		if c.CampaignID == "" {
			log.Warn().Str("campaign", k).Msg("yandex: campaign_id empty, skipping")
			continue
		}
		out = append(out, &Market{
			log:         log.With().Str("campaign", k).Logger(),
			cfg:         cfg,
			key:         k,
			campaignID:  c.CampaignID,
			warehouseID: c.WarehouseID,
			token:       sec.MarketToken,
			http:        client,
			limiter:     limiter,
			now:         time.Now,
		})
	}
	return out, nil
}

func init() {
	marketplaces.Register("yandex", factory)
}
