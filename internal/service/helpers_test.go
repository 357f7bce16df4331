package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/orderdesk/internal/catalog"
	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/notify"
	"github.com/utafrali/orderdesk/internal/repository"
	redisrepo "github.com/utafrali/orderdesk/internal/repository/redis"
)

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*redisrepo.CartStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisrepo.NewCartStore(client, redisrepo.DefaultKeyPrefix, newTestLogger()), mr
}

var (
	productA = domain.Product{ID: "A", Name: "Alpha", SKU: "1", Price: decimal.NewFromInt(1000), Quantity: 10, Category: "tools"}
	productB = domain.Product{ID: "B", Name: "Beta", SKU: "2", Price: decimal.NewFromInt(5000), Quantity: 4, Category: "tools"}
	productC = domain.Product{ID: "C", Name: "Gamma", SKU: "3", Price: decimal.NewFromInt(250), Quantity: 0, Category: "paint"}
)

// --- Fake catalog source ---

type fakeSource struct {
	mu       sync.Mutex
	products []domain.Product
	err      error
}

func (f *fakeSource) ListProducts(context.Context) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Product, len(f.products))
	copy(out, f.products)
	return out, nil
}

func (f *fakeSource) set(products ...domain.Product) {
	f.mu.Lock()
	f.products = products
	f.mu.Unlock()
}

func loadedCatalog(t *testing.T, products ...domain.Product) *catalog.Cache {
	t.Helper()
	c := catalog.New(&fakeSource{products: products}, newTestLogger())
	require.NoError(t, c.Load(context.Background()))
	return c
}

// --- Mock order API ---

type mockOrderAPI struct {
	mock.Mock
}

func (m *mockOrderAPI) CreateOrder(ctx context.Context, order domain.Order, key string) (*domain.PlacedOrder, error) {
	args := m.Called(ctx, order, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PlacedOrder), args.Error(1)
}

// --- Recording publisher ---

type recordingPublisher struct {
	mu        sync.Mutex
	submitted []string
	fulfilled []string
	cleared   []string
}

func (p *recordingPublisher) PublishOrderSubmitted(_ context.Context, order *domain.PlacedOrder, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, order.ID+"/"+key)
	return nil
}

func (p *recordingPublisher) PublishOrderFulfilled(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fulfilled = append(p.fulfilled, id)
	return nil
}

func (p *recordingPublisher) PublishCartCleared(_ context.Context, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared = append(p.cleared, reason)
	return nil
}

func (p *recordingPublisher) clearedReasons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cleared...)
}

// --- Recording navigator ---

type recordingNavigator struct {
	mu   sync.Mutex
	dest []string
}

func (n *recordingNavigator) Navigate(_ context.Context, _ string, destination string) {
	n.mu.Lock()
	n.dest = append(n.dest, destination)
	n.mu.Unlock()
}

func (n *recordingNavigator) destinations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.dest...)
}

// --- Gated store ---

// gatedStore blocks the next ListAll after it has read from Redis, so a test
// can change the store while a stale read is in flight.
type gatedStore struct {
	repository.CartStore
	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedStore) arm() (entered <-chan struct{}, release chan<- struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	g.entered = make(chan struct{}, 1)
	return g.entered, g.gate
}

func (g *gatedStore) ListAll(ctx context.Context) ([]domain.CartEntry, error) {
	entries, err := g.CartStore.ListAll(ctx)

	g.mu.Lock()
	gate, entered := g.gate, g.entered
	g.gate = nil
	g.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return entries, err
}

// --- Builder fixture ---

type builderFixture struct {
	store     repository.CartStore
	redis     *redisrepo.CartStore
	mr        *miniredis.Miniredis
	api       *mockOrderAPI
	inbox     *notify.Inbox
	navigator *recordingNavigator
	events    *recordingPublisher
	catalog   *catalog.Cache
	composer  *Composer
	builder   *OrderBuilder
	clock     time.Time
}

type fixtureOption func(*builderFixture, *BuilderConfig)

func withCooldown(d time.Duration) fixtureOption {
	return func(_ *builderFixture, cfg *BuilderConfig) { cfg.SubmitCooldown = d }
}

func withGatedStore(g *gatedStore) fixtureOption {
	return func(f *builderFixture, cfg *BuilderConfig) {
		g.CartStore = f.redis
		f.store = g
		cfg.Store = g
	}
}

// newBuilderFixture wires a builder for view "v1" over miniredis. The builder
// is not mounted, so tests can seed the store first.
func newBuilderFixture(t *testing.T, opts ...fixtureOption) *builderFixture {
	t.Helper()

	store, mr := newTestStore(t)
	f := &builderFixture{
		store:     store,
		redis:     store,
		mr:        mr,
		api:       &mockOrderAPI{},
		inbox:     notify.NewInbox(0, newTestLogger()),
		navigator: &recordingNavigator{},
		events:    &recordingPublisher{},
		catalog:   loadedCatalog(t, productA, productB, productC),
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	cfg := BuilderConfig{
		ViewID:         "v1",
		Store:          store,
		Catalog:        f.catalog,
		Events:         f.events,
		Notifier:       f.inbox,
		Navigator:      f.navigator,
		SubmitCooldown: 0,
		Logger:         newTestLogger(),
	}
	for _, opt := range opts {
		opt(f, &cfg)
	}
	cfg.Gateway = NewGateway(f.api, f.store, f.events, newTestLogger())

	f.builder = NewOrderBuilder(cfg)
	f.composer = NewComposer("v1", f.store, f.catalog, f.inbox, newTestLogger())
	f.composer.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	t.Cleanup(func() { _ = f.builder.Unmount() })
	return f
}

func (f *builderFixture) mount(t *testing.T) {
	t.Helper()
	require.NoError(t, f.builder.Mount(context.Background()))
}

// stage adds a product through the composer and reloads the builder, the
// way a view does.
func (f *builderFixture) stage(t *testing.T, productID, qty string) {
	t.Helper()
	_, err := f.composer.AddByProductID(context.Background(), productID, qty)
	require.NoError(t, err)
	if f.builder.State() != StateLoading {
		require.NoError(t, f.builder.Reload(context.Background()))
	}
}

func quantitiesOf(s Snapshot) map[string]int {
	out := make(map[string]int, len(s.Lines))
	for _, l := range s.Lines {
		out[l.ProductID] = l.Quantity
	}
	return out
}

func messages(ns []notify.Notification) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Message)
	}
	return out
}
