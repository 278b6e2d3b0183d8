// internal/marketplaces/yandex/types.go
package yandex

// GET campaigns/{id}/offer-mapping-entries
type offerMappingsResponse struct {
	Result struct {
		OfferMappingEntries []struct {
			Offer struct {
				ShopSku string `json:"shopSku"`
			} `json:"offer"`
		} `json:"offerMappingEntries"`
		Paging struct {
			NextPageToken string `json:"nextPageToken"`
		} `json:"paging"`
	} `json:"result"`
}

// PUT campaigns/{id}/offers/stocks
type stocksRequest struct {
	Skus []stockSku `json:"skus"`
}

type stockSku struct {
	Sku         string         `json:"sku"`
	WarehouseID string         `json:"warehouseId"`
	Items       []stockSkuItem `json:"items"`
}

type stockSkuItem struct {
	Count     int    `json:"count"`
	Type      string `json:"type"` // "FIT"
	UpdatedAt string `json:"updatedAt"`
}

// POST campaigns/{id}/offer-prices/updates
type pricesRequest struct {
	Offers []priceOffer `json:"offers"`
}

type priceOffer struct {
	ID    string     `json:"id"`
	Price priceValue `json:"price"`
}

type priceValue struct {
	Value      int    `json:"value"`
	CurrencyID string `json:"currencyId"` // "RUR"
}
