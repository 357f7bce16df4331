// Package backend talks to the remote order-management API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/orderdesk/internal/domain"
	apperrors "github.com/utafrali/orderdesk/pkg/errors"
	"github.com/utafrali/orderdesk/pkg/httpclient"
	"github.com/utafrali/orderdesk/pkg/logger"
)

// ServiceName labels errors and breaker metrics for the remote API.
const ServiceName = "order-api"

// IdempotencyHeader carries the per-attempt submission key.
const IdempotencyHeader = "Idempotency-Key"

// HTTPDoer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config locates the remote API.
type Config struct {
	BaseURL      string
	ProductsPath string
	OrdersPath   string
}

// Client is a typed client for the products and orders resources.
type Client struct {
	doer         HTTPDoer
	baseURL      string
	productsPath string
	ordersPath   string
	logger       *slog.Logger
}

// New creates a client. Empty paths default to /products and /orders.
func New(doer HTTPDoer, cfg Config, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL %q", cfg.BaseURL)
	}
	if cfg.ProductsPath == "" {
		cfg.ProductsPath = "/products"
	}
	if cfg.OrdersPath == "" {
		cfg.OrdersPath = "/orders"
	}
	return &Client{
		doer:         doer,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		productsPath: cfg.ProductsPath,
		ordersPath:   strings.TrimRight(cfg.OrdersPath, "/"),
		logger:       logger,
	}, nil
}

// ListProducts fetches the whole catalog.
func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.getJSON(ctx, c.productsPath, &products); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	return products, nil
}

// ListOrders fetches every placed order. The API answers either with a bare
// array or with {"order": [...]}.
func (c *Client) ListOrders(ctx context.Context) ([]domain.PlacedOrder, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, c.ordersPath, &raw); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders, err := decodeOrderList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

// GetOrder fetches one placed order.
func (c *Client) GetOrder(ctx context.Context, id string) (*domain.PlacedOrder, error) {
	var order domain.PlacedOrder
	if err := c.getJSON(ctx, c.orderPath(id), &order); err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &order, nil
}

// CreateOrder posts order once. The request is never retried; key lets the
// server recognise a manual resubmission of the same attempt.
func (c *Client) CreateOrder(ctx context.Context, order domain.Order, key string) (*domain.PlacedOrder, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.ordersPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return nil, apperrors.Wrap(classify(err), "create order")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if httpclient.IsClientError(resp.StatusCode) {
			c.logger.WarnContext(ctx, "order rejected by order API",
				slog.Int("status", resp.StatusCode),
				slog.Int("lines", len(order.Lines)),
			)
		}
		return nil, apperrors.Wrap(httpclient.ParseResponseError(resp, ServiceName), "create order")
	}

	placed := &domain.PlacedOrder{
		Customer: order.Customer,
		Note:     order.Note,
		Total:    order.Total,
		Lines:    order.Lines,
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err == nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, placed); err != nil {
			// Accepted by the server; an odd response body does not undo that.
			c.logger.WarnContext(ctx, "order accepted with undecodable response body",
				slog.Int("status", resp.StatusCode),
				slog.String("error", err.Error()),
			)
		}
	}
	return placed, nil
}

// DeleteOrder removes a placed order, which the production board treats as
// fulfilment.
func (c *Client) DeleteOrder(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.orderPath(id), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, classify(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delete order %s: %w", id, httpclient.ParseResponseError(resp, ServiceName))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping checks that the products resource answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodHead, c.productsPath, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return classify(err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return apperrors.Unavailable(ServiceName, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) orderPath(id string) string {
	return c.ordersPath + "/" + url.PathEscape(id)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return classify(httpclient.ParseResponseError(resp, ServiceName))
	}
	if resp.StatusCode != http.StatusOK {
		return httpclient.ParseResponseError(resp, ServiceName)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// classify turns transport, breaker and 5xx failures into Unavailable errors.
// Context cancellation is passed through untouched.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Unavailable(ServiceName, err)
}

func decodeOrderList(raw json.RawMessage) ([]domain.PlacedOrder, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []domain.PlacedOrder{}, nil
	}

	var orders []domain.PlacedOrder
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, err
		}
	} else {
		var wrapped struct {
			Order []domain.PlacedOrder `json:"order"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		orders = wrapped.Order
	}
	if orders == nil {
		orders = []domain.PlacedOrder{}
	}
	return orders, nil
}
