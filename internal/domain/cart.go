package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartEntry is one staged line of the order being built. It carries a
// snapshot of the product taken when the line was staged.
type CartEntry struct {
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	Image       Image           `json:"image"`
	Quantity    int             `json:"quantity"`
	AddedAt     time.Time       `json:"addedAt"`
}

// NewCartEntry snapshots product with the requested quantity.
func NewCartEntry(p Product, quantity int, now time.Time) CartEntry {
	return CartEntry{
		ProductID:   p.ID,
		Name:        p.Name,
		SKU:         p.SKU,
		Price:       p.Price,
		Description: p.Description,
		Image:       p.Image,
		Quantity:    quantity,
		AddedAt:     now.UTC(),
	}
}

// LineTotal returns price × quantity.
func (e CartEntry) LineTotal(quantity int) decimal.Decimal {
	return e.Price.Mul(decimal.NewFromInt(int64(quantity)))
}

// Total sums price × quantity over entries, using quantities[ProductID] when
// present and the stored quantity otherwise.
func Total(entries []CartEntry, quantities map[string]int) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		qty := e.Quantity
		if q, ok := quantities[e.ProductID]; ok {
			qty = q
		}
		total = total.Add(e.LineTotal(qty))
	}
	return total
}
