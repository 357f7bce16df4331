package domain

import "github.com/shopspring/decimal"

func init() {
	// The order-management API reads and writes money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Image is the product picture reference returned by the catalog.
type Image struct {
	FilePath string `json:"filePath,omitempty"`
	FileName string `json:"fileName,omitempty"`
}

// Product is a catalog entry as served by the remote API.
type Product struct {
	ID          string          `json:"_id"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Image       Image           `json:"image"`
}

// InStock reports whether the product has stock on hand.
func (p Product) InStock() bool {
	return p.Quantity > 0
}
