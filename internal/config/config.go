// internal/config/config.go
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Main application config. Secrets (API tokens) never live here,
// they come from the environment, see LoadSecrets.
type Config struct {
	AutoStart           bool                       `json:"auto_start"`
	SyncIntervalMinutes int                        `json:"sync_interval_minutes"`
	LogLevel            string                     `json:"log_level"`
	Feed                FeedConfig                 `json:"feed"`
	Targets             map[string]json.RawMessage `json:"targets"` // name -> raw marketplace config
}

// Feed is the merchant stock file published by the supplier.
type FeedConfig struct {
	URL        string `json:"url"`
	Charset    string `json:"charset"`     // e.g. "windows-1251"
	HeaderRows int    `json:"header_rows"` // rows to skip before the column header
	Separator  string `json:"separator"`   // single rune, default ";"
}

// Default target configs (used only to seed config.json on first run).
type OzonDefaults struct {
	BaseURL      string `json:"base_url"`
	PageLimit    int    `json:"page_limit"`
	StockBatch   int    `json:"stock_batch"`
	PriceBatch   int    `json:"price_batch"`
	RatePerSec   int    `json:"rate_per_sec"`
	TimeoutSec   int    `json:"timeout_sec"`
	MaxPageSweep int    `json:"max_page_sweep"`
}

type YandexCampaignDefaults struct {
	CampaignID  string `json:"campaign_id"`
	WarehouseID string `json:"warehouse_id"`
}

type YandexDefaults struct {
	BaseURL      string                            `json:"base_url"`
	PageLimit    int                               `json:"page_limit"`
	StockBatch   int                               `json:"stock_batch"`
	PriceBatch   int                               `json:"price_batch"`
	RatePerSec   int                               `json:"rate_per_sec"`
	TimeoutSec   int                               `json:"timeout_sec"`
	MaxPageSweep int                               `json:"max_page_sweep"`
	Campaigns    map[string]YandexCampaignDefaults `json:"campaigns"`
}

func LoadOrCreate(path string) (*Config, bool, error) {
	// make sure the directory exists
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("writing default config: %w", err)
			}
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Targets == nil {
		cfg.Targets = map[string]json.RawMessage{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, false, nil
}

func defaultConfig() *Config {
	ozon := OzonDefaults{
		BaseURL:      "https://api-seller.ozon.ru",
		PageLimit:    1000,
		StockBatch:   100,
		PriceBatch:   900,
		RatePerSec:   5,
		TimeoutSec:   30,
		MaxPageSweep: 1000,
	}
	yandex := YandexDefaults{
		BaseURL:      "https://api.partner.market.yandex.ru",
		PageLimit:    200,
		StockBatch:   2000,
		PriceBatch:   500,
		RatePerSec:   5,
		TimeoutSec:   30,
		MaxPageSweep: 1000,
		Campaigns: map[string]YandexCampaignDefaults{
			"fbs": {CampaignID: "", WarehouseID: ""},
			"dbs": {CampaignID: "", WarehouseID: ""},
		},
	}
	rawOzon, _ := json.Marshal(ozon)
	rawYandex, _ := json.Marshal(yandex)

	return &Config{
		AutoStart:           true,
		SyncIntervalMinutes: 60,
		LogLevel:            "info",
		Feed: FeedConfig{
			URL:        "https://timeworld.ru/upload/files/ostatki.zip",
			Charset:    "windows-1251",
			HeaderRows: 17,
			Separator:  ";",
		},
		Targets: map[string]json.RawMessage{
			"ozon":   rawOzon,
			"yandex": rawYandex,
		},
	}
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// Validate rejects values the pipeline cannot work with. Batch sizes are
// validated by the target factories, which know their own limits.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("config: feed.url is required")
	}
	if c.Feed.HeaderRows < 0 {
		return fmt.Errorf("config: feed.header_rows must be >= 0")
	}
	if c.SyncIntervalMinutes < 0 {
		return fmt.Errorf("config: sync_interval_minutes must be >= 0")
	}
	return nil
}

// Helper to decode one target's raw config into its own struct.
func (c *Config) UnmarshalTarget(name string, v any) error {
	raw, ok := c.Targets[name]
	if !ok {
		return fmt.Errorf("no target %q in config", name)
	}
	return json.Unmarshal(raw, v)
}

// Secrets are the marketplace API credentials. Kept out of config.json
// so the file can be committed / shared without leaking tokens.
type Secrets struct {
	OzonClientID string
	OzonAPIKey   string
	MarketToken  string
}

// LoadSecrets reads credentials from the environment, optionally seeded
// from a .env file next to the binary.
func LoadSecrets() Secrets {
	_ = godotenv.Load()
	return Secrets{
		OzonClientID: os.Getenv("OZON_CLIENT_ID"),
		OzonAPIKey:   os.Getenv("OZON_API_KEY"),
		MarketToken:  os.Getenv("MARKET_TOKEN"),
	}
}
