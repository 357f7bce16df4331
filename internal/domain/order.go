package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotAvailable is shown in place of product details that the catalog no
// longer knows.
const NotAvailable = "not available"

// OrderLine is one submitted line.
type OrderLine struct {
	ProductID string          `json:"product" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gte=1,lte=9999"`
	LineTotal decimal.Decimal `json:"total" validate:"gte=0"`
}

// Order is the submission payload sent to the order-management API.
type Order struct {
	Customer string          `json:"customer" validate:"required"`
	Note     string          `json:"note"`
	Total    decimal.Decimal `json:"total" validate:"gte=0"`
	Lines    []OrderLine     `json:"order" validate:"required,min=1,dive"`
}

// NewOrder builds an order from entries, taking each line's quantity from
// quantities when present. Lines follow the order of entries.
func NewOrder(customer, note string, entries []CartEntry, quantities map[string]int) Order {
	lines := make([]OrderLine, 0, len(entries))
	total := decimal.Zero
	for _, e := range entries {
		qty := e.Quantity
		if q, ok := quantities[e.ProductID]; ok {
			qty = q
		}
		lt := e.LineTotal(qty)
		lines = append(lines, OrderLine{ProductID: e.ProductID, Quantity: qty, LineTotal: lt})
		total = total.Add(lt)
	}
	return Order{Customer: customer, Note: note, Total: total, Lines: lines}
}

// PlacedOrder is an order as stored by the remote API.
type PlacedOrder struct {
	ID        string          `json:"_id"`
	Customer  string          `json:"customer"`
	Note      string          `json:"note"`
	Total     decimal.Decimal `json:"total"`
	Lines     []OrderLine     `json:"order"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// BoardLine is a placed order line resolved against the catalog.
type BoardLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"total"`
	Available bool            `json:"available"`
}

// BoardOrder is a placed order as shown on the production board.
type BoardOrder struct {
	ID        string          `json:"id"`
	Customer  string          `json:"customer"`
	Note      string          `json:"note"`
	Total     decimal.Decimal `json:"total"`
	Lines     []BoardLine     `json:"lines"`
	CreatedAt time.Time       `json:"created_at"`
}

// ResolveBoardOrder resolves each line of o through lookup. Lines whose product
// is unknown are shown as NotAvailable.
func ResolveBoardOrder(o PlacedOrder, lookup func(id string) (Product, bool)) BoardOrder {
	lines := make([]BoardLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		bl := BoardLine{
			ProductID: l.ProductID,
			Name:      NotAvailable,
			SKU:       NotAvailable,
			Quantity:  l.Quantity,
			LineTotal: l.LineTotal,
		}
		if p, ok := lookup(l.ProductID); ok {
			bl.Name, bl.SKU, bl.Available = p.Name, p.SKU, true
		}
		lines = append(lines, bl)
	}
	return BoardOrder{
		ID:        o.ID,
		Customer:  o.Customer,
		Note:      o.Note,
		Total:     o.Total,
		Lines:     lines,
		CreatedAt: o.CreatedAt,
	}
}
