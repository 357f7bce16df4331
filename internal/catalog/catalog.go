// Package catalog holds a per-view snapshot of the remote product catalog.
package catalog

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/pkg/tracing"
)

// AllCategories matches every product in Filter.Category.
const AllCategories = "all"

// Source fetches the full product list from the remote API.
type Source interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

// Filter narrows Products. An empty Category or AllCategories matches every
// category; InStockOnly drops products with no stock.
type Filter struct {
	Category    string
	InStockOnly bool
}

// Cache is a read-only snapshot of the catalog. A later Load replaces the
// snapshot; a Load that is overtaken by a newer one, or that finishes after
// Close, is discarded.
type Cache struct {
	source Source
	logger *slog.Logger

	mu       sync.RWMutex
	products []domain.Product
	byID     map[string]domain.Product
	loaded   bool
	closed   bool
	gen      uint64
}

// New creates an empty cache over source.
func New(source Source, logger *slog.Logger) *Cache {
	return &Cache{
		source: source,
		logger: logger,
		byID:   make(map[string]domain.Product),
	}
}

// Load fetches the catalog and installs it unless a newer Load started or
// the cache was closed meanwhile.
func (c *Cache) Load(ctx context.Context) error {
	ctx, span := tracing.Tracer("orderdesk/catalog").Start(ctx, "catalog.Load")
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	products, err := c.source.ListProducts(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("load catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		c.logger.DebugContext(ctx, "discarding stale catalog load",
			slog.Uint64("generation", gen),
			slog.Bool("closed", c.closed),
		)
		span.SetAttributes(attribute.Bool("catalog.discarded", true))
		return nil
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	c.products = products
	c.byID = byID
	c.loaded = true

	span.SetAttributes(attribute.Int("catalog.products", len(products)))
	return nil
}

// EnsureLoaded loads the catalog if no load has completed yet.
func (c *Cache) EnsureLoaded(ctx context.Context) error {
	if c.Loaded() {
		return nil
	}
	return c.Load(ctx)
}

// Loaded reports whether a snapshot is installed.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Close stops the cache from accepting further loads.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Lookup resolves a product by ID.
func (c *Cache) Lookup(id string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// Products returns the products matching f sorted by SKU.
func (c *Cache) Products(f Filter) []domain.Product {
	c.mu.RLock()
	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if !matchesCategory(p, f.Category) {
			continue
		}
		if f.InStockOnly && !p.InStock() {
			continue
		}
		out = append(out, p)
	}
	c.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domain.Product) int {
		return compareSKU(a.SKU, b.SKU)
	})
	return out
}

// Categories returns the distinct non-empty categories in first-seen order.
func (c *Cache) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range c.products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	return out
}

func matchesCategory(p domain.Product, category string) bool {
	if category == "" || strings.EqualFold(category, AllCategories) {
		return true
	}
	return p.Category == category
}

// compareSKU orders numeric SKUs by value and falls back to string order
// when either side is not a number.
func compareSKU(a, b string) int {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA == nil && errB == nil {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(a, b)
}
