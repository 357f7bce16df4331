package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/orderdesk/internal/catalog"
	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/event"
	"github.com/utafrali/orderdesk/internal/notify"
	"github.com/utafrali/orderdesk/internal/repository"
	apperrors "github.com/utafrali/orderdesk/pkg/errors"
	"github.com/utafrali/orderdesk/pkg/logger"
)

// Inbox queues notifications per view until they are read.
type Inbox interface {
	notify.Notifier
	Drain(viewID string) []notify.Notification
	Forget(viewID string)
}

// DeskConfig holds the collaborators shared by every view.
type DeskConfig struct {
	Store          repository.CartStore
	Products       catalog.Source
	Gateway        Submitter
	Events         event.Publisher
	Inbox          Inbox
	SubmitCooldown time.Duration
	Logger         *slog.Logger
}

// View is one mounted order desk screen: its own catalog snapshot, composer
// and order builder over the shared cart store.
type View struct {
	ID       string
	OpenedAt time.Time

	catalog  *catalog.Cache
	composer *Composer
	builder  *OrderBuilder
	logger   *slog.Logger

	mu         sync.Mutex
	navigateTo string
}

// Catalog returns the view's catalog snapshot.
func (v *View) Catalog() *catalog.Cache { return v.catalog }

// Composer returns the view's line-item composer.
func (v *View) Composer() *Composer { return v.composer }

// Builder returns the view's order builder.
func (v *View) Builder() *OrderBuilder { return v.builder }

// Navigate records where the view should go next.
func (v *View) Navigate(_ context.Context, _ string, destination string) {
	v.mu.Lock()
	v.navigateTo = destination
	v.mu.Unlock()
}

// TakeNavigation returns and clears the pending destination.
func (v *View) TakeNavigation() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	dest := v.navigateTo
	v.navigateTo = ""
	return dest
}

// AddItem stages productID through the composer and refreshes the builder
// so the line shows up in this view straight away.
func (v *View) AddItem(ctx context.Context, productID, quantityInput string) (*domain.CartEntry, error) {
	ctx = logger.WithViewID(ctx, v.ID)
	entry, err := v.composer.AddByProductID(ctx, productID, quantityInput)
	if err != nil {
		return nil, err
	}
	if err := v.builder.Reload(ctx); err != nil {
		v.logger.WarnContext(ctx, "reload after add failed", slog.String("error", err.Error()))
	}
	return entry, nil
}

// Desk hosts every mounted view.
type Desk struct {
	cfg    DeskConfig
	logger *slog.Logger

	// products backs the view-independent catalog endpoints.
	products *catalog.Cache

	mu     sync.RWMutex
	views  map[string]*View
	closed bool
}

// NewDesk creates an empty desk.
func NewDesk(cfg DeskConfig) *Desk {
	if cfg.Events == nil {
		cfg.Events = event.NopPublisher{}
	}
	return &Desk{
		cfg:      cfg,
		logger:   cfg.Logger,
		products: catalog.New(cfg.Products, cfg.Logger),
		views:    make(map[string]*View),
	}
}

// Open loads a catalog snapshot for a new view and mounts its builder. A
// catalog that fails to load is reported to the view; the builder still
// mounts so staged lines remain editable.
func (d *Desk) Open(ctx context.Context) (*View, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return nil, apperrors.Unavailable("order desk", errors.New("desk is shutting down"))
	}

	id := uuid.NewString()
	ctx = logger.WithViewID(ctx, id)
	l := d.logger.With(slog.String("view_id", id))

	cat := catalog.New(d.cfg.Products, l)
	if err := cat.Load(ctx); err != nil {
		l.WarnContext(ctx, "catalog load failed", slog.String("error", err.Error()))
		d.cfg.Inbox.Notify(ctx, id, notify.LevelError, "products could not be loaded")
	}

	v := &View{
		ID:       id,
		OpenedAt: time.Now().UTC(),
		catalog:  cat,
		composer: NewComposer(id, d.cfg.Store, cat, d.cfg.Inbox, l),
		logger:   l,
	}
	v.builder = NewOrderBuilder(BuilderConfig{
		ViewID:         id,
		Store:          d.cfg.Store,
		Catalog:        cat,
		Gateway:        d.cfg.Gateway,
		Events:         d.cfg.Events,
		Notifier:       d.cfg.Inbox,
		Navigator:      v,
		SubmitCooldown: d.cfg.SubmitCooldown,
		Logger:         d.logger,
	})

	if err := v.builder.Mount(ctx); err != nil {
		cat.Close()
		d.cfg.Inbox.Forget(id)
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.release(ctx, v)
		return nil, apperrors.Unavailable("order desk", errors.New("desk is shutting down"))
	}
	d.views[id] = v
	d.mu.Unlock()
	viewsOpen.Inc()

	l.InfoContext(ctx, "view opened")
	return v, nil
}

// View returns the mounted view with id.
func (d *Desk) View(id string) (*View, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.views[id]
	if !ok {
		return nil, apperrors.NotFound("view", id)
	}
	return v, nil
}

// Views returns the ids of every mounted view, sorted.
func (d *Desk) Views() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.views))
	for id := range d.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close unmounts the view with id.
func (d *Desk) Close(ctx context.Context, id string) error {
	d.mu.Lock()
	v, ok := d.views[id]
	if ok {
		delete(d.views, id)
	}
	d.mu.Unlock()
	if !ok {
		return apperrors.NotFound("view", id)
	}

	viewsOpen.Dec()
	d.release(ctx, v)
	return nil
}

// CloseAll unmounts every view and refuses new ones.
func (d *Desk) CloseAll(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	views := d.views
	d.views = make(map[string]*View)
	d.mu.Unlock()

	for _, v := range views {
		viewsOpen.Dec()
		d.release(ctx, v)
	}
	d.products.Close()
}

func (d *Desk) release(ctx context.Context, v *View) {
	if err := v.builder.Unmount(); err != nil {
		v.logger.WarnContext(ctx, "unmount failed", slog.String("error", err.Error()))
	}
	v.catalog.Close()
	d.cfg.Inbox.Forget(v.ID)
	v.logger.InfoContext(ctx, "view closed")
}

// Notifications drains the pending notifications of a view.
func (d *Desk) Notifications(id string) ([]notify.Notification, error) {
	if _, err := d.View(id); err != nil {
		return nil, err
	}
	return d.cfg.Inbox.Drain(id), nil
}

// Products loads a fresh catalog and returns the products matching f.
func (d *Desk) Products(ctx context.Context, f catalog.Filter) ([]domain.Product, error) {
	if err := d.products.Load(ctx); err != nil {
		return nil, err
	}
	return d.products.Products(f), nil
}

// Categories returns the categories of the current catalog, loading it if
// nothing is cached yet.
func (d *Desk) Categories(ctx context.Context) ([]string, error) {
	if err := d.products.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return d.products.Categories(), nil
}
