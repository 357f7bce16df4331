package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/orderdesk/internal/catalog"
	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/event"
)

// OrderBackend reads and removes placed orders on the remote API.
type OrderBackend interface {
	ListOrders(ctx context.Context) ([]domain.PlacedOrder, error)
	GetOrder(ctx context.Context, id string) (*domain.PlacedOrder, error)
	DeleteOrder(ctx context.Context, id string) error
}

// OrderBoard is the production view over placed orders.
type OrderBoard struct {
	api      OrderBackend
	products catalog.Source
	events   event.Publisher
	logger   *slog.Logger
}

// NewOrderBoard creates an order board.
func NewOrderBoard(api OrderBackend, products catalog.Source, events event.Publisher, logger *slog.Logger) *OrderBoard {
	if events == nil {
		events = event.NopPublisher{}
	}
	return &OrderBoard{
		api:      api,
		products: products,
		events:   events,
		logger:   logger,
	}
}

// lookup loads a fresh catalog. When that fails every product resolves as
// not available rather than failing the board.
func (s *OrderBoard) lookup(ctx context.Context) func(string) (domain.Product, bool) {
	cat := catalog.New(s.products, s.logger)
	if err := cat.Load(ctx); err != nil {
		s.logger.WarnContext(ctx, "catalog unavailable for order board", slog.String("error", err.Error()))
	}
	return cat.Lookup
}

// List returns every placed order with its lines resolved against the catalog.
func (s *OrderBoard) List(ctx context.Context) ([]domain.BoardOrder, error) {
	ctx, span := tracer.Start(ctx, "board.List")
	defer span.End()

	orders, err := s.api.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	lookup := s.lookup(ctx)
	board := make([]domain.BoardOrder, 0, len(orders))
	for _, o := range orders {
		board = append(board, domain.ResolveBoardOrder(o, lookup))
	}
	span.SetAttributes(attribute.Int("board.orders", len(board)))
	return board, nil
}

// Get returns one placed order resolved against the catalog.
func (s *OrderBoard) Get(ctx context.Context, id string) (*domain.BoardOrder, error) {
	ctx, span := tracer.Start(ctx, "board.Get")
	defer span.End()

	order, err := s.api.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	resolved := domain.ResolveBoardOrder(*order, s.lookup(ctx))
	return &resolved, nil
}

// Fulfil removes a placed order from the board.
func (s *OrderBoard) Fulfil(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "board.Fulfil")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", id))

	if err := s.api.DeleteOrder(ctx, id); err != nil {
		return fmt.Errorf("fulfil order: %w", err)
	}
	ordersFulfilledTotal.Inc()

	s.logger.InfoContext(ctx, "order fulfilled", slog.String("order_id", id))

	if err := s.events.PublishOrderFulfilled(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "failed to publish order fulfilled event",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
