// internal/marketplaces/ozon/types.go
package ozon

// POST /v2/product/list
type productListRequest struct {
	Filter productFilter `json:"filter"`
	LastID string        `json:"last_id"`
	Limit  int           `json:"limit"`
}

type productFilter struct {
	Visibility string `json:"visibility"` // "ALL"
}

type productListResponse struct {
	Result struct {
		Items []struct {
			OfferID string `json:"offer_id"`
		} `json:"items"`
		Total  int    `json:"total"`
		LastID string `json:"last_id"`
	} `json:"result"`
}

// POST /v1/product/import/stocks
type stocksRequest struct {
	Stocks []stockItem `json:"stocks"`
}

type stockItem struct {
	OfferID string `json:"offer_id"`
	Stock   int    `json:"stock"`
}

// POST /v1/product/import/prices
// Prices travel as strings, the seller API convention.
type pricesRequest struct {
	Prices []priceItem `json:"prices"`
}

type priceItem struct {
	AutoActionEnabled string `json:"auto_action_enabled"` // "UNKNOWN"
	CurrencyCode      string `json:"currency_code"`
	OfferID           string `json:"offer_id"`
	OldPrice          string `json:"old_price"`
	Price             string `json:"price"`
}
