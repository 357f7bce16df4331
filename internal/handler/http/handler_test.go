package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/event"
	"github.com/utafrali/orderdesk/internal/notify"
	redisrepo "github.com/utafrali/orderdesk/internal/repository/redis"
	"github.com/utafrali/orderdesk/internal/service"
	apperrors "github.com/utafrali/orderdesk/pkg/errors"
	"github.com/utafrali/orderdesk/pkg/health"
	"github.com/utafrali/orderdesk/pkg/httputil"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeSource struct {
	mu       sync.Mutex
	products []domain.Product
	err      error
}

func (f *fakeSource) ListProducts(context.Context) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products, f.err
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) CreateOrder(ctx context.Context, order domain.Order, key string) (*domain.PlacedOrder, error) {
	args := m.Called(ctx, order, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PlacedOrder), args.Error(1)
}

func (m *mockBackend) ListOrders(ctx context.Context) ([]domain.PlacedOrder, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PlacedOrder), args.Error(1)
}

func (m *mockBackend) GetOrder(ctx context.Context, id string) (*domain.PlacedOrder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PlacedOrder), args.Error(1)
}

func (m *mockBackend) DeleteOrder(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	productA = domain.Product{ID: "A", Name: "Alpha", SKU: "10", Price: decimal.NewFromInt(1000), Quantity: 5, Category: "tools"}
	productB = domain.Product{ID: "B", Name: "Beta", SKU: "2", Price: decimal.NewFromInt(5000), Quantity: 1, Category: "tools"}
	productC = domain.Product{ID: "C", Name: "Gamma", SKU: "3", Price: decimal.NewFromInt(250), Quantity: 0, Category: "paint"}
)

type testServer struct {
	router  http.Handler
	desk    *service.Desk
	backend *mockBackend
	source  *fakeSource
	mr      *miniredis.Miniredis
}

func setupRouter(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := redisrepo.NewCartStore(client, redisrepo.DefaultKeyPrefix, testLogger())

	backend := &mockBackend{}
	source := &fakeSource{products: []domain.Product{productA, productB, productC}}
	events := event.NopPublisher{}

	desk := service.NewDesk(service.DeskConfig{
		Store:    store,
		Products: source,
		Gateway:  service.NewGateway(backend, store, events, testLogger()),
		Events:   events,
		Inbox:    notify.NewInbox(0, testLogger()),
		Logger:   testLogger(),
	})
	t.Cleanup(func() { desk.CloseAll(context.Background()) })

	board := service.NewOrderBoard(backend, source, events, testLogger())

	hh := health.NewHandler(ServiceName)
	hh.Register("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })

	return &testServer{
		router:  NewRouter(desk, board, hh, []string{"*"}, testLogger()),
		desk:    desk,
		backend: backend,
		source:  source,
		mr:      mr,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// decodeResponse reads the response body into the standard Response struct.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	return resp
}

// decodeData decodes the data member of the envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

type orderView struct {
	ViewID string `json:"view_id"`
	Order  struct {
		State string `json:"state"`
		Lines []struct {
			ProductID string  `json:"product_id"`
			Name      string  `json:"name"`
			Quantity  int     `json:"quantity"`
			LineTotal float64 `json:"line_total"`
			Available bool    `json:"available"`
		} `json:"lines"`
		Total float64 `json:"total"`
	} `json:"order"`
	NavigateTo string `json:"navigate_to"`
}

func (s *testServer) openView(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/views", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var v orderView
	decodeData(t, rec, &v)
	require.NotEmpty(t, v.ViewID)
	return v.ViewID
}

func (s *testServer) addItem(t *testing.T, viewID, productID string, qty any) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/views/"+viewID+"/items", map[string]any{"product_id": productID, "quantity": qty})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// ============================================================================
// Health and metrics
// ============================================================================

func TestHealthEndpoints(t *testing.T) {
	s := setupRouter(t)

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.mr.Close()
	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupRouter(t)
	s.do(t, http.MethodGet, "/health/live", nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

// ============================================================================
// Catalog
// ============================================================================

func TestListProducts_SortedAndFiltered(t *testing.T) {
	s := setupRouter(t)

	rec := s.do(t, http.MethodGet, "/api/v1/catalog/products?category=tools&in_stock=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var products []domain.Product
	decodeData(t, rec, &products)
	require.Len(t, products, 2)
	assert.Equal(t, "B", products[0].ID, "SKU 2 sorts before SKU 10")
	assert.Equal(t, "A", products[1].ID)
}

func TestListProducts_BadInStock(t *testing.T) {
	s := setupRouter(t)
	rec := s.do(t, http.MethodGet, "/api/v1/catalog/products?in_stock=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProducts_BackendDown(t *testing.T) {
	s := setupRouter(t)
	s.source.err = apperrors.Unavailable("order-api", errors.New("down"))

	rec := s.do(t, http.MethodGet, "/api/v1/catalog/products", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
}

func TestListCategories(t *testing.T) {
	s := setupRouter(t)
	rec := s.do(t, http.MethodGet, "/api/v1/catalog/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cats []string
	decodeData(t, rec, &cats)
	assert.Equal(t, []string{"all", "tools", "paint"}, cats)
}

// ============================================================================
// Views
// ============================================================================

func TestViewLifecycle(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)

	rec := s.do(t, http.MethodGet, "/api/v1/views/"+id+"/order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v orderView
	decodeData(t, rec, &v)
	assert.Equal(t, "ready", v.Order.State)
	assert.Empty(t, v.Order.Lines)

	rec = s.do(t, http.MethodDelete, "/api/v1/views/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/views/"+id+"/order", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownView(t *testing.T) {
	s := setupRouter(t)
	rec := s.do(t, http.MethodGet, "/api/v1/views/"+uuid.NewString()+"/order", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestMalformedViewID(t *testing.T) {
	s := setupRouter(t)
	rec := s.do(t, http.MethodGet, "/api/v1/views/nope/order", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "INVALID_PARAMETER", resp.Error.Code)
}

func TestAddItem_StringAndNumberQuantities(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)

	s.addItem(t, id, "A", "2")
	s.addItem(t, id, "B", 1)

	rec := s.do(t, http.MethodGet, "/api/v1/views/"+id+"/order", nil)
	var v orderView
	decodeData(t, rec, &v)
	require.Len(t, v.Order.Lines, 2)
	assert.Equal(t, 7000.0, v.Order.Total)
}

func TestAddItem_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"decimal quantity", map[string]any{"product_id": "A", "quantity": 1.5}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"zero", map[string]any{"product_id": "A", "quantity": "0"}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"empty", map[string]any{"product_id": "A", "quantity": ""}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"too large", map[string]any{"product_id": "A", "quantity": "10000"}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"missing product", map[string]any{"quantity": "1"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown product", map[string]any{"product_id": "Z", "quantity": "1"}, http.StatusNotFound, "NOT_FOUND"},
		{"bad json", "{", http.StatusBadRequest, "INVALID_INPUT"},
		{"quantity object", `{"product_id":"A","quantity":{}}`, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupRouter(t)
			id := s.openView(t)

			rec := s.do(t, http.MethodPost, "/api/v1/views/"+id+"/items", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeResponse(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestAddItem_WrongContentType(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/views/"+id+"/items", strings.NewReader("product_id=A"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUpdateItem(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)
	s.addItem(t, id, "A", "2")

	rec := s.do(t, http.MethodPut, "/api/v1/views/"+id+"/items/A", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap struct {
		Total float64 `json:"total"`
	}
	decodeData(t, rec, &snap)
	assert.Equal(t, 5000.0, snap.Total)

	rec = s.do(t, http.MethodPut, "/api/v1/views/"+id+"/items/A", map[string]any{"quantity": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/views/"+id+"/items/A", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/views/"+id+"/items/Z", map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveItem_ConfirmParameter(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)
	s.addItem(t, id, "A", "2")

	rec := s.do(t, http.MethodDelete, "/api/v1/views/"+id+"/items/A", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/views/"+id+"/items/A?confirm=no", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Removed bool `json:"removed"`
	}
	decodeData(t, rec, &out)
	assert.False(t, out.Removed)

	rec = s.do(t, http.MethodDelete, "/api/v1/views/"+id+"/items/A?confirm=yes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &out)
	assert.True(t, out.Removed)
}

func TestRemoveAll_NavigatesToDashboard(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)
	s.addItem(t, id, "A", "2")
	s.addItem(t, id, "B", "1")

	rec := s.do(t, http.MethodDelete, "/api/v1/views/"+id+"/items?confirm=yes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Removed    bool             `json:"removed"`
		Order      service.Snapshot `json:"order"`
		NavigateTo string           `json:"navigate_to"`
	}
	decodeData(t, rec, &out)
	assert.True(t, out.Removed)
	assert.Empty(t, out.Order.Lines)
	assert.Equal(t, service.DestinationDashboard, out.NavigateTo)
}

func TestConfirm_WorkedExample(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)
	s.addItem(t, id, "A", "2")
	s.addItem(t, id, "B", "1")

	rec := s.do(t, http.MethodPut, "/api/v1/views/"+id+"/items/A", map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/v1/views/"+id+"/items/B?confirm=yes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var posted domain.Order
	s.backend.On("CreateOrder", mock.Anything, mock.Anything, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { posted = args.Get(1).(domain.Order) }).
		Return(&domain.PlacedOrder{ID: "o1", Customer: "Jane", Total: decimal.NewFromInt(5000)}, nil).Once()

	rec = s.do(t, http.MethodPost, "/api/v1/views/"+id+"/confirm", map[string]any{"customer": "Jane", "note": ""})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Order      domain.PlacedOrder `json:"order"`
		NavigateTo string             `json:"navigate_to"`
	}
	decodeData(t, rec, &out)
	assert.Equal(t, "o1", out.Order.ID)
	assert.Equal(t, service.DestinationDashboard, out.NavigateTo)

	require.Len(t, posted.Lines, 1)
	assert.Equal(t, "A", posted.Lines[0].ProductID)
	assert.Equal(t, 5, posted.Lines[0].Quantity)
	assert.True(t, posted.Total.Equal(decimal.NewFromInt(5000)))

	rec = s.do(t, http.MethodGet, "/api/v1/views/"+id+"/order", nil)
	var v orderView
	decodeData(t, rec, &v)
	assert.Empty(t, v.Order.Lines)
	assert.Equal(t, 0.0, v.Order.Total)
}

func TestConfirm_Errors(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)

	rec := s.do(t, http.MethodPost, "/api/v1/views/"+id+"/confirm", map[string]any{"customer": "Jane"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty cart")

	s.addItem(t, id, "A", "1")
	rec = s.do(t, http.MethodPost, "/api/v1/views/"+id+"/confirm", map[string]any{"customer": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing customer")

	s.backend.On("CreateOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("500 from api")).Once()
	rec = s.do(t, http.MethodPost, "/api/v1/views/"+id+"/confirm", map[string]any{"customer": "Jane"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "SUBMISSION_FAILED", resp.Error.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/views/"+id+"/order", nil)
	var v orderView
	decodeData(t, rec, &v)
	assert.Len(t, v.Order.Lines, 1, "cart kept after a failed submission")

	rec = s.do(t, http.MethodPost, "/api/v1/views/"+id+"/confirm", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications(t *testing.T) {
	s := setupRouter(t)
	id := s.openView(t)
	s.addItem(t, id, "A", "1")

	rec := s.do(t, http.MethodGet, "/api/v1/views/"+id+"/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var notes []notify.Notification
	decodeData(t, rec, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, notify.LevelSuccess, notes[0].Level)

	rec = s.do(t, http.MethodGet, "/api/v1/views/"+id+"/notifications", nil)
	decodeData(t, rec, &notes)
	assert.Empty(t, notes)
}

// ============================================================================
// Orders
// ============================================================================

func TestListOrders(t *testing.T) {
	s := setupRouter(t)
	s.backend.On("ListOrders", mock.Anything).Return([]domain.PlacedOrder{{
		ID:       "o1",
		Customer: "Jane",
		Lines:    []domain.OrderLine{{ProductID: "A", Quantity: 1}, {ProductID: "gone", Quantity: 2}},
	}}, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []domain.BoardOrder
	decodeData(t, rec, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, "Alpha", orders[0].Lines[0].Name)
	assert.Equal(t, domain.NotAvailable, orders[0].Lines[1].Name)
}

func TestGetOrder(t *testing.T) {
	s := setupRouter(t)
	s.backend.On("GetOrder", mock.Anything, "o1").Return(&domain.PlacedOrder{ID: "o1"}, nil)
	s.backend.On("GetOrder", mock.Anything, "nope").Return(nil, apperrors.NotFound("order-api", "nope"))

	rec := s.do(t, http.MethodGet, "/api/v1/orders/o1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFulfilOrder(t *testing.T) {
	s := setupRouter(t)
	s.backend.On("DeleteOrder", mock.Anything, "o1").Return(nil).Once()

	rec := s.do(t, http.MethodDelete, "/api/v1/orders/o1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	s.backend.AssertExpectations(t)
}

// ============================================================================
// TypedQuantity
// ============================================================================

func TestTypedQuantity_Unmarshal(t *testing.T) {
	tests := map[string]string{
		`"12"`:  "12",
		`12`:    "12",
		`1.5`:   "1.5",
		`null`:  "",
		`" 7 "`: " 7 ",
	}
	for in, want := range tests {
		var q TypedQuantity
		require.NoError(t, json.Unmarshal([]byte(in), &q), in)
		assert.Equal(t, TypedQuantity(want), q, in)
	}

	var q TypedQuantity
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &q))
}
