// Package feed downloads and decodes the supplier stock file
// (a zip archive with a semicolon separated table, legacy encoding).
package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	conf "github.com/bartek5186/watchsync/internal/config"
	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
)

// Remnant is one row of the supplier feed, fields kept raw.
// Quantity may be a numeric literal or one of the feed sentinels
// (">10", "1"); decoding is the reconciler's job.
type Remnant struct {
	Code     string
	Quantity string
	Price    string
}

// Column headers as they appear in the feed.
const (
	colCode     = "Код"
	colQuantity = "Количество"
	colPrice    = "Цена"
)

type Client struct {
	log  zerolog.Logger
	cfg  conf.FeedConfig
	http *http.Client
}

func New(log zerolog.Logger, cfg conf.FeedConfig) *Client {
	return &Client{
		log:  log,
		cfg:  cfg,
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

// Download fetches the archive, extracts the first file and parses it.
// Returns the rows in feed order plus the archive size for the journal.
func (c *Client) Download(ctx context.Context) ([]Remnant, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("feed download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("feed download: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("feed download: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, 0, fmt.Errorf("feed archive: %w", err)
	}

	var data io.ReadCloser
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		data, err = zf.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("feed archive %q: %w", zf.Name, err)
		}
		c.log.Debug().Str("file", zf.Name).Msg("feed: extracting")
		break
	}
	if data == nil {
		return nil, 0, errors.New("feed archive: no files inside")
	}
	defer data.Close()

	remnants, err := Parse(data, c.cfg)
	if err != nil {
		return nil, 0, err
	}
	c.log.Info().Int("rows", len(remnants)).Msg("feed downloaded")
	return remnants, int64(len(body)), nil
}

// Parse decodes the tabular feed: converts from the configured charset,
// skips the preamble rows, locates columns by header name and reads the
// rows in order.
func Parse(r io.Reader, cfg conf.FeedConfig) ([]Remnant, error) {
	label := cfg.Charset
	if label == "" {
		label = "windows-1251"
	}
	decoded, err := charset.NewReaderLabel(label, r)
	if err != nil {
		return nil, fmt.Errorf("feed charset %q: %w", label, err)
	}

	cr := csv.NewReader(decoded)
	cr.Comma = separator(cfg.Separator)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	// preamble before the column header row; blank lines do not count,
	// encoding/csv skips them
	for i := 0; i < cfg.HeaderRows; i++ {
		if _, err := cr.Read(); err != nil {
			return nil, fmt.Errorf("feed preamble row %d: %w", i+1, err)
		}
	}

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("feed header row: %w", err)
	}
	iCode, iQty, iPrice := -1, -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case colCode:
			iCode = i
		case colQuantity:
			iQty = i
		case colPrice:
			iPrice = i
		}
	}
	if iCode < 0 || iQty < 0 || iPrice < 0 {
		return nil, fmt.Errorf("feed header: columns %q/%q/%q not found", colCode, colQuantity, colPrice)
	}

	var out []Remnant
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("feed row %d: %w", len(out)+1, err)
		}
		if iCode >= len(rec) || iQty >= len(rec) || iPrice >= len(rec) {
			continue // trailing summary rows are shorter, skip them
		}
		code := strings.TrimSpace(rec[iCode])
		if code == "" {
			continue
		}
		out = append(out, Remnant{
			Code:     code,
			Quantity: strings.TrimSpace(rec[iQty]),
			Price:    strings.TrimSpace(rec[iPrice]),
		})
	}
	return out, nil
}

func separator(s string) rune {
	if s == "" {
		return ';'
	}
	return []rune(s)[0]
}
