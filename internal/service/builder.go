package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/event"
	"github.com/utafrali/orderdesk/internal/notify"
	"github.com/utafrali/orderdesk/internal/repository"
	apperrors "github.com/utafrali/orderdesk/pkg/errors"
	"github.com/utafrali/orderdesk/pkg/logger"
)

// State is the lifecycle state of a mounted order builder.
type State string

const (
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateConfirming State = "confirming"
)

// DestinationDashboard is where a view is sent after its order is confirmed
// or cancelled.
const DestinationDashboard = "/dashboard"

const maxReloadAttempts = 3

// ErrSubmissionInFlight is returned by Confirm while a previous confirmation
// is running or cooling down.
var ErrSubmissionInFlight = &apperrors.AppError{
	Code:    "SUBMISSION_IN_FLIGHT",
	Message: "a confirmation is already in progress",
	Status:  http.StatusConflict,
	Err:     apperrors.ErrConflict,
}

// Prompt asks the operator a yes/no question.
type Prompt func(ctx context.Context, question string) (bool, error)

// Answer returns a Prompt with a fixed reply, for callers that asked the
// operator before calling in.
func Answer(yes bool) Prompt {
	return func(context.Context, string) (bool, error) { return yes, nil }
}

// Navigator moves a view elsewhere once its order is finished.
type Navigator interface {
	Navigate(ctx context.Context, viewID, destination string)
}

// Line is a staged entry as the builder presents it.
type Line struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	Image       domain.Image    `json:"image"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Available   bool            `json:"available"`
	AddedAt     time.Time       `json:"added_at"`
}

// Snapshot is a consistent copy of the builder state.
type Snapshot struct {
	ViewID           string          `json:"view_id"`
	State            State           `json:"state"`
	Lines            []Line          `json:"lines"`
	Total            decimal.Decimal `json:"total"`
	SubmissionLocked bool            `json:"submission_locked"`
}

// BuilderConfig holds the collaborators of an OrderBuilder.
type BuilderConfig struct {
	ViewID         string
	Store          repository.CartStore
	Catalog        ProductLookup
	Gateway        Submitter
	Events         event.Publisher
	Notifier       notify.Notifier
	Navigator      Navigator
	// SubmitCooldown keeps the confirm guard closed after a submission
	// completes. Zero releases it immediately.
	SubmitCooldown time.Duration
	Logger         *slog.Logger
}

type override struct {
	quantity int
	addedAt  time.Time
}

// OrderBuilder is the reconciled view of the whole cart store for one view.
// It is the only writer of its in-memory projection; every method is safe
// for concurrent use.
type OrderBuilder struct {
	viewID    string
	store     repository.CartStore
	catalog   ProductLookup
	gateway   Submitter
	events    event.Publisher
	notifier  notify.Notifier
	navigator Navigator
	cooldown  time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	mounted   bool
	unmounted bool
	entries   []domain.CartEntry
	overrides map[string]override
	total     decimal.Decimal
	gen       uint64
	inFlight  bool
	cooling   *time.Timer

	sub         repository.Subscription
	stopWatch   context.CancelFunc
	watcherDone chan struct{}
}

// NewOrderBuilder creates an unmounted builder.
func NewOrderBuilder(cfg BuilderConfig) *OrderBuilder {
	if cfg.Events == nil {
		cfg.Events = event.NopPublisher{}
	}
	if cfg.SubmitCooldown < 0 {
		cfg.SubmitCooldown = 0
	}
	return &OrderBuilder{
		viewID:    cfg.ViewID,
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		gateway:   cfg.Gateway,
		events:    cfg.Events,
		notifier:  cfg.Notifier,
		navigator: cfg.Navigator,
		cooldown:  cfg.SubmitCooldown,
		logger:    cfg.Logger.With(slog.String("view_id", cfg.ViewID)),
		state:     StateLoading,
		overrides: make(map[string]override),
		total:     decimal.Zero,
	}
}

// scoped tags ctx so store writes and events carry this view.
func (b *OrderBuilder) scoped(ctx context.Context) context.Context {
	return logger.WithViewID(repository.WithOrigin(ctx, b.viewID), b.viewID)
}

// Mount subscribes to store changes, loads every staged entry and starts
// watching for changes made by other views.
func (b *OrderBuilder) Mount(ctx context.Context) error {
	b.mu.Lock()
	if b.mounted || b.unmounted {
		b.mu.Unlock()
		return apperrors.Conflict("order builder already mounted")
	}
	b.mu.Unlock()

	sub, err := b.store.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to cart changes: %w", err)
	}

	entries, err := b.store.ListAll(ctx)
	if err != nil {
		_ = sub.Close()
		return fmt.Errorf("load cart: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(b.scoped(ctx)))

	b.mu.Lock()
	if b.unmounted {
		b.mu.Unlock()
		cancel()
		_ = sub.Close()
		return apperrors.Conflict("order builder was unmounted while loading")
	}
	b.mounted = true
	b.sub = sub
	b.stopWatch = cancel
	b.watcherDone = make(chan struct{})
	b.apply(entries)
	b.state = StateReady
	b.mu.Unlock()

	go b.watch(watchCtx, sub)

	b.logger.InfoContext(ctx, "order builder mounted", slog.Int("entries", len(entries)))
	return nil
}

// Unmount stops watching and releases the subscription. Calling it more than
// once is a no-op.
func (b *OrderBuilder) Unmount() error {
	b.mu.Lock()
	if b.unmounted {
		b.mu.Unlock()
		return nil
	}
	b.unmounted = true
	wasMounted := b.mounted
	b.mounted = false
	b.gen++
	if b.cooling != nil {
		b.cooling.Stop()
	}
	sub, stop, done := b.sub, b.stopWatch, b.watcherDone
	b.mu.Unlock()

	if !wasMounted {
		return nil
	}

	stop()
	err := sub.Close()
	<-done
	return err
}

func (b *OrderBuilder) watch(ctx context.Context, sub repository.Subscription) {
	defer close(b.watcherDone)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Origin != "" && ev.Origin == b.viewID {
				continue
			}
			if err := b.Reload(ctx); err != nil && ctx.Err() == nil {
				b.logger.WarnContext(ctx, "cart reload failed",
					slog.String("op", string(ev.Op)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Reload re-reads the cart store. A read that is overtaken by a newer reload
// or a local edit is thrown away and retried; a read that finishes after
// Unmount is dropped.
func (b *OrderBuilder) Reload(ctx context.Context) error {
	for attempt := 0; attempt < maxReloadAttempts; attempt++ {
		b.mu.Lock()
		if !b.mounted {
			b.mu.Unlock()
			return nil
		}
		b.gen++
		gen := b.gen
		b.mu.Unlock()

		entries, err := b.store.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("reload cart: %w", err)
		}

		b.mu.Lock()
		switch {
		case !b.mounted:
			b.mu.Unlock()
			return nil
		case gen != b.gen:
			b.mu.Unlock()
			continue
		}
		b.apply(entries)
		b.mu.Unlock()
		return nil
	}
	return nil
}

// apply installs entries and reconciles overrides. An override survives only
// while its entry is still the one it was set on; a re-staged entry drops it.
// Callers hold b.mu.
func (b *OrderBuilder) apply(entries []domain.CartEntry) {
	sorted := make([]domain.CartEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].AddedAt.Equal(sorted[j].AddedAt) {
			return sorted[i].AddedAt.After(sorted[j].AddedAt)
		}
		return sorted[i].ProductID < sorted[j].ProductID
	})

	present := make(map[string]time.Time, len(sorted))
	for _, e := range sorted {
		present[e.ProductID] = e.AddedAt
	}
	for id, o := range b.overrides {
		addedAt, ok := present[id]
		if !ok || !addedAt.Equal(o.addedAt) {
			delete(b.overrides, id)
		}
	}

	b.entries = sorted
	b.recompute()
}

func (b *OrderBuilder) quantities() map[string]int {
	q := make(map[string]int, len(b.overrides))
	for id, o := range b.overrides {
		q[id] = o.quantity
	}
	return q
}

func (b *OrderBuilder) effectiveQuantity(e domain.CartEntry) int {
	if o, ok := b.overrides[e.ProductID]; ok {
		return o.quantity
	}
	return e.Quantity
}

func (b *OrderBuilder) recompute() {
	b.total = domain.Total(b.entries, b.quantities())
}

func (b *OrderBuilder) indexOf(productID string) int {
	for i, e := range b.entries {
		if e.ProductID == productID {
			return i
		}
	}
	return -1
}

// SetQuantity edits the quantity of a staged line. Zero is accepted here and
// rejected at confirmation.
func (b *OrderBuilder) SetQuantity(ctx context.Context, productID string, qty int) error {
	if qty < 0 {
		return invalidQuantity(domain.ErrQuantityNotInteger)
	}
	if qty > domain.MaxQuantity {
		return invalidQuantity(domain.ErrQuantityTooLarge)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.editable(); err != nil {
		return err
	}
	i := b.indexOf(productID)
	if i < 0 {
		return apperrors.NotFound("cart entry", productID)
	}

	entry := b.entries[i]
	entry.Quantity = qty
	if err := b.store.Put(b.scoped(ctx), entry); err != nil {
		return fmt.Errorf("update quantity of %s: %w", productID, err)
	}

	b.gen++
	b.entries[i] = entry
	b.overrides[productID] = override{quantity: qty, addedAt: entry.AddedAt}
	b.recompute()
	return nil
}

// Remove asks prompt for confirmation and removes the line on yes. It
// reports whether the line was removed.
func (b *OrderBuilder) Remove(ctx context.Context, productID string, prompt Prompt) (bool, error) {
	if err := b.checkEditable(); err != nil {
		return false, err
	}

	ok, err := prompt(ctx, "Are you sure you want to remove this product?")
	if err != nil || !ok {
		return false, err
	}

	b.mu.Lock()
	if err := b.editable(); err != nil {
		b.mu.Unlock()
		return false, err
	}
	if err := b.store.Remove(b.scoped(ctx), productID); err != nil {
		b.mu.Unlock()
		return false, fmt.Errorf("remove %s: %w", productID, err)
	}
	b.gen++
	if i := b.indexOf(productID); i >= 0 {
		b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
	}
	delete(b.overrides, productID)
	b.recompute()
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "line removed", slog.String("product_id", productID))
	b.notifier.Notify(ctx, b.viewID, notify.LevelSuccess, "product removed from the order")
	return true, nil
}

// RemoveAll asks prompt for confirmation and empties the whole cart on yes.
func (b *OrderBuilder) RemoveAll(ctx context.Context, prompt Prompt) (bool, error) {
	if err := b.checkEditable(); err != nil {
		return false, err
	}

	ok, err := prompt(ctx, "Are you sure you want to remove every product from the order?")
	if err != nil || !ok {
		return false, err
	}

	ctx = b.scoped(ctx)

	b.mu.Lock()
	if err := b.editable(); err != nil {
		b.mu.Unlock()
		return false, err
	}
	if err := b.store.Clear(ctx); err != nil {
		b.mu.Unlock()
		return false, fmt.Errorf("clear cart: %w", err)
	}
	b.gen++
	b.entries = nil
	b.overrides = make(map[string]override)
	b.recompute()
	b.mu.Unlock()

	if err := b.events.PublishCartCleared(ctx, event.ClearReasonCancelled); err != nil {
		b.logger.WarnContext(ctx, "failed to publish cart cleared event", slog.String("error", err.Error()))
	}

	b.logger.InfoContext(ctx, "order cancelled")
	b.notifier.Notify(ctx, b.viewID, notify.LevelSuccess, "order cancelled")
	if b.navigator != nil {
		b.navigator.Navigate(ctx, b.viewID, DestinationDashboard)
	}
	return true, nil
}

func (b *OrderBuilder) checkEditable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editable()
}

// editable reports whether lines may change. Callers hold b.mu.
func (b *OrderBuilder) editable() error {
	switch {
	case !b.mounted:
		return apperrors.Conflict("order builder is not mounted")
	case b.state == StateConfirming:
		return ErrSubmissionInFlight
	}
	return nil
}

// Confirm submits the staged order for customer. A second call while a
// confirmation is running, or within the cooldown after it, is rejected
// with ErrSubmissionInFlight and changes nothing. On success the cart is
// emptied and the view is sent to the dashboard; on failure every line is
// kept so the operator can retry.
func (b *OrderBuilder) Confirm(ctx context.Context, customer, note string) (*domain.PlacedOrder, error) {
	ctx = b.scoped(ctx)
	ctx, span := tracer.Start(ctx, "builder.Confirm")
	defer span.End()

	b.mu.Lock()
	if !b.mounted {
		b.mu.Unlock()
		return nil, apperrors.Conflict("order builder is not mounted")
	}
	if b.inFlight {
		b.mu.Unlock()
		duplicateConfirmsTotal.Inc()
		span.SetAttributes(attribute.Bool("order.duplicate", true))
		return nil, ErrSubmissionInFlight
	}

	customer = strings.TrimSpace(customer)
	if customer == "" {
		b.mu.Unlock()
		b.notifier.Notify(ctx, b.viewID, notify.LevelError, "please enter the customer name")
		return nil, apperrors.InvalidInput("customer name is required")
	}
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return nil, apperrors.InvalidInput("the order has no products")
	}
	for _, e := range b.entries {
		if b.effectiveQuantity(e) <= 0 {
			b.mu.Unlock()
			return nil, apperrors.InvalidInput(fmt.Sprintf("quantity for %s must be greater than zero", e.Name))
		}
	}

	order := domain.NewOrder(customer, note, b.entries, b.quantities())
	b.inFlight = true
	b.state = StateConfirming
	b.mu.Unlock()

	span.SetAttributes(
		attribute.Int("order.lines", len(order.Lines)),
		attribute.String("order.total", order.Total.String()),
	)

	placed, err := b.gateway.Submit(ctx, order)

	b.mu.Lock()
	b.state = StateReady
	if err == nil {
		b.gen++
		b.entries = nil
		b.overrides = make(map[string]override)
		b.recompute()
	}
	b.releaseAfterCooldown()
	b.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		b.notifier.Notify(ctx, b.viewID, notify.LevelError, "the order could not be submitted, please retry")
		return nil, err
	}

	b.notifier.Notify(ctx, b.viewID, notify.LevelSuccess, "order confirmed")
	if b.navigator != nil {
		b.navigator.Navigate(ctx, b.viewID, DestinationDashboard)
	}
	return placed, nil
}

// releaseAfterCooldown reopens the confirm guard once the cooldown passes.
// Callers hold b.mu.
func (b *OrderBuilder) releaseAfterCooldown() {
	if b.cooldown <= 0 {
		b.inFlight = false
		return
	}
	b.cooling = time.AfterFunc(b.cooldown, func() {
		b.mu.Lock()
		b.inFlight = false
		b.cooling = nil
		b.mu.Unlock()
	})
}

// Snapshot returns the lines newest first with effective quantities and
// catalog availability.
func (b *OrderBuilder) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	checkCatalog := b.catalog != nil && b.catalog.Loaded()
	lines := make([]Line, 0, len(b.entries))
	for _, e := range b.entries {
		qty := b.effectiveQuantity(e)
		l := Line{
			ProductID:   e.ProductID,
			Name:        e.Name,
			SKU:         e.SKU,
			Price:       e.Price,
			Description: e.Description,
			Image:       e.Image,
			Quantity:    qty,
			LineTotal:   e.LineTotal(qty),
			Available:   true,
			AddedAt:     e.AddedAt,
		}
		if checkCatalog {
			if _, ok := b.catalog.Lookup(e.ProductID); !ok {
				l.Available = false
				l.Name = domain.NotAvailable
			}
		}
		lines = append(lines, l)
	}

	return Snapshot{
		ViewID:           b.viewID,
		State:            b.state,
		Lines:            lines,
		Total:            b.total,
		SubmissionLocked: b.inFlight,
	}
}

// State returns the current lifecycle state.
func (b *OrderBuilder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
