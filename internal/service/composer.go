package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/notify"
	"github.com/utafrali/orderdesk/internal/repository"
	apperrors "github.com/utafrali/orderdesk/pkg/errors"
)

// ProductLookup resolves products from a loaded catalog.
type ProductLookup interface {
	Lookup(id string) (domain.Product, bool)
	Loaded() bool
}

// Composer stages a quantity decision for a single product into the cart store.
type Composer struct {
	viewID   string
	store    repository.CartStore
	catalog  ProductLookup
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewComposer creates a composer acting on behalf of viewID.
func NewComposer(viewID string, store repository.CartStore, catalog ProductLookup, notifier notify.Notifier, logger *slog.Logger) *Composer {
	return &Composer{
		viewID:   viewID,
		store:    store,
		catalog:  catalog,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// AddToOrder validates the typed quantity and stages product with it,
// overwriting any entry already staged for the product.
func (c *Composer) AddToOrder(ctx context.Context, product domain.Product, quantityInput string) (*domain.CartEntry, error) {
	qty, err := domain.ParseQuantity(quantityInput)
	if err != nil {
		c.notifier.Notify(ctx, c.viewID, notify.LevelError, err.Error())
		return nil, invalidQuantity(err)
	}

	entry := domain.NewCartEntry(product, qty, c.now())
	if err := c.store.Put(repository.WithOrigin(ctx, c.viewID), entry); err != nil {
		return nil, fmt.Errorf("stage product %s: %w", product.ID, err)
	}
	itemsStagedTotal.Inc()

	c.logger.InfoContext(ctx, "product staged",
		slog.String("view_id", c.viewID),
		slog.String("product_id", product.ID),
		slog.Int("quantity", qty),
	)
	c.notifier.Notify(ctx, c.viewID, notify.LevelSuccess, "product added to the order")

	return &entry, nil
}

// AddByProductID resolves productID through the catalog and stages it.
func (c *Composer) AddByProductID(ctx context.Context, productID, quantityInput string) (*domain.CartEntry, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	product, ok := c.catalog.Lookup(productID)
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	return c.AddToOrder(ctx, product, quantityInput)
}

// invalidQuantity reports a rejected quantity as invalid input while keeping
// the specific parse error reachable through errors.Is.
func invalidQuantity(err error) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "INVALID_QUANTITY",
		Message: err.Error(),
		Status:  http.StatusBadRequest,
		Err:     errors.Join(apperrors.ErrInvalidInput, err),
	}
}
