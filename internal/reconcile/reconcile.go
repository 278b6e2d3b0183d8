// Package reconcile joins the supplier feed against a marketplace
// catalog and produces the stock and price records to push.
package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bartek5186/watchsync/internal/feed"
)

// StockRecord is one stock correction for a catalog offer. Marketplace
// specific envelope fields (warehouse, timestamps) are added by the
// target clients at upload time.
type StockRecord struct {
	OfferID  string
	Quantity int
}

// PriceRecord is one price correction for a catalog offer.
type PriceRecord struct {
	OfferID      string
	Price        int
	CurrencyCode string
}

// NormalizePrice reduces a feed price string to its integer digits:
// everything after the first "." is dropped, then every non digit is
// removed. "5'990.00 руб." -> "5990", "abc" -> "". Never fails.
func NormalizePrice(price string) string {
	head, _, _ := strings.Cut(price, ".")
	var b strings.Builder
	for _, r := range head {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// decodeQuantity maps the feed quantity conventions to a count:
// ">10" means plenty (100), "1" means showcase item only (0),
// anything else must be a plain integer.
func decodeQuantity(raw string) (int, error) {
	switch raw {
	case ">10":
		return 100, nil
	case "1":
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("quantity %q: not numeric and not a known sentinel", raw)
	}
	return n, nil
}

// Stocks builds the stock corrections for one catalog. Every distinct
// offer id produces exactly one record: matched feed rows get their
// decoded quantity, offers absent from the feed get zero. The offerIDs
// slice is never modified; the join is a two phase pass (match, then
// fill) so the exactly-once property holds by construction.
func Stocks(remnants []feed.Remnant, offerIDs []string) ([]StockRecord, error) {
	known := make(map[string]bool, len(offerIDs))
	for _, id := range offerIDs {
		known[id] = true
	}

	matched := make(map[string]bool, len(offerIDs))
	stocks := make([]StockRecord, 0, len(offerIDs))
	for _, w := range remnants {
		if !known[w.Code] || matched[w.Code] {
			continue
		}
		qty, err := decodeQuantity(w.Quantity)
		if err != nil {
			return nil, fmt.Errorf("offer %s: %w", w.Code, err)
		}
		stocks = append(stocks, StockRecord{OfferID: w.Code, Quantity: qty})
		matched[w.Code] = true
	}

	// whatever the feed did not mention is out of stock
	for _, id := range offerIDs {
		if matched[id] {
			continue
		}
		stocks = append(stocks, StockRecord{OfferID: id, Quantity: 0})
		matched[id] = true
	}
	return stocks, nil
}

// Prices builds the price corrections: matched feed rows only, offers
// absent from the feed get no price record. A price string with no
// digits degrades to 0 rather than failing.
func Prices(remnants []feed.Remnant, offerIDs []string, currency string) []PriceRecord {
	known := make(map[string]bool, len(offerIDs))
	for _, id := range offerIDs {
		known[id] = true
	}

	matched := make(map[string]bool, len(offerIDs))
	prices := make([]PriceRecord, 0, len(remnants))
	for _, w := range remnants {
		if !known[w.Code] || matched[w.Code] {
			continue
		}
		value, _ := strconv.Atoi(NormalizePrice(w.Price)) // lenient: "" -> 0
		prices = append(prices, PriceRecord{
			OfferID:      w.Code,
			Price:        value,
			CurrencyCode: currency,
		})
		matched[w.Code] = true
	}
	return prices
}

// NonZero returns the subset of stocks with a positive quantity
// (reporting only, callers never branch on it).
func NonZero(stocks []StockRecord) []StockRecord {
	var out []StockRecord
	for _, s := range stocks {
		if s.Quantity != 0 {
			out = append(out, s)
		}
	}
	return out
}
