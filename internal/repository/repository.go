package repository

import (
	"context"

	"github.com/utafrali/orderdesk/internal/domain"
)

// ChangeOp names the kind of mutation a ChangeEvent reports.
type ChangeOp string

const (
	OpPut    ChangeOp = "put"
	OpRemove ChangeOp = "remove"
	OpClear  ChangeOp = "clear"
)

// ChangeEvent is published for every mutation of the cart store. Origin is
// the view that made the change, empty when the writer had none.
type ChangeEvent struct {
	Op        ChangeOp `json:"op"`
	ProductID string   `json:"product_id,omitempty"`
	Origin    string   `json:"origin,omitempty"`
}

// Subscription delivers change events until Close is called. The events
// channel is closed once the subscription ends.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// CartStore is the persistent, shared cart namespace. Entries are keyed by
// product ID; a second Put for the same product overwrites the first.
type CartStore interface {
	// Put inserts or overwrites the entry for entry.ProductID.
	Put(ctx context.Context, entry domain.CartEntry) error

	// Get returns the entry for productID or an ErrNotFound AppError.
	Get(ctx context.Context, productID string) (*domain.CartEntry, error)

	// Remove deletes the entry for productID. Removing an absent entry is not an error.
	Remove(ctx context.Context, productID string) error

	// ListAll returns every entry in storage enumeration order.
	ListAll(ctx context.Context) ([]domain.CartEntry, error)

	// Clear removes every entry in the namespace.
	Clear(ctx context.Context) error

	// Subscribe starts delivering change events for the namespace.
	Subscribe(ctx context.Context) (Subscription, error)
}

type originKey struct{}

// WithOrigin tags ctx with the view performing store mutations.
func WithOrigin(ctx context.Context, viewID string) context.Context {
	return context.WithValue(ctx, originKey{}, viewID)
}

// OriginFromContext returns the view set by WithOrigin, or "".
func OriginFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(originKey{}).(string); ok {
		return v
	}
	return ""
}
