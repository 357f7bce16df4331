package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/orderdesk/internal/domain"
	pkgkafka "github.com/utafrali/orderdesk/pkg/kafka"
	"github.com/utafrali/orderdesk/pkg/logger"
)

// Kafka topics the desk publishes to.
var (
	TopicOrderSubmitted = pkgkafka.Topic("order", "submitted")
	TopicOrderFulfilled = pkgkafka.Topic("order", "fulfilled")
	TopicCartCleared    = pkgkafka.Topic("cart", "cleared")
)

// Aggregate type constants.
const (
	AggregateTypeOrder = "order"
	AggregateTypeCart  = "cart"
)

// SourceOrderDesk identifies events originating from the desk.
const SourceOrderDesk = "orderdesk"

// Cart clear reasons.
const (
	ClearReasonSubmitted = "submitted"
	ClearReasonCancelled = "cancelled"
)

// OrderSubmittedData is the payload for an order.submitted event.
type OrderSubmittedData struct {
	OrderID        string             `json:"order_id"`
	ViewID         string             `json:"view_id,omitempty"`
	IdempotencyKey string             `json:"idempotency_key"`
	Customer       string             `json:"customer"`
	Note           string             `json:"note,omitempty"`
	Total          string             `json:"total"`
	Lines          []domain.OrderLine `json:"lines"`
}

// OrderFulfilledData is the payload for an order.fulfilled event.
type OrderFulfilledData struct {
	OrderID string `json:"order_id"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	ViewID string `json:"view_id,omitempty"`
	Reason string `json:"reason"`
}

// Publisher publishes desk domain events.
type Publisher interface {
	PublishOrderSubmitted(ctx context.Context, order *domain.PlacedOrder, idempotencyKey string) error
	PublishOrderFulfilled(ctx context.Context, orderID string) error
	PublishCartCleared(ctx context.Context, reason string) error
}

// eventWriter is satisfied by *pkgkafka.Producer.
type eventWriter interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes desk domain events to Kafka.
type Producer struct {
	kafka  eventWriter
	logger *slog.Logger
}

// NewProducer creates a new event producer for the desk.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOrderSubmitted publishes an order.submitted event.
func (p *Producer) PublishOrderSubmitted(ctx context.Context, order *domain.PlacedOrder, idempotencyKey string) error {
	data := OrderSubmittedData{
		OrderID:        order.ID,
		ViewID:         logger.ViewIDFromContext(ctx),
		IdempotencyKey: idempotencyKey,
		Customer:       order.Customer,
		Note:           order.Note,
		Total:          order.Total.String(),
		Lines:          order.Lines,
	}

	// The remote API may not echo an id back; the idempotency key still
	// identifies the submission.
	aggregateID := order.ID
	if aggregateID == "" {
		aggregateID = idempotencyKey
	}

	if err := p.publish(ctx, TopicOrderSubmitted, aggregateID, AggregateTypeOrder, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published order.submitted event",
		slog.String("order_id", order.ID),
		slog.Int("line_count", len(order.Lines)),
	)
	return nil
}

// PublishOrderFulfilled publishes an order.fulfilled event.
func (p *Producer) PublishOrderFulfilled(ctx context.Context, orderID string) error {
	if err := p.publish(ctx, TopicOrderFulfilled, orderID, AggregateTypeOrder, OrderFulfilledData{OrderID: orderID}); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published order.fulfilled event",
		slog.String("order_id", orderID),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, reason string) error {
	viewID := logger.ViewIDFromContext(ctx)
	data := CartClearedData{ViewID: viewID, Reason: reason}

	if err := p.publish(ctx, TopicCartCleared, SourceOrderDesk, AggregateTypeCart, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("reason", reason),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceOrderDesk, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if viewID := logger.ViewIDFromContext(ctx); viewID != "" {
		event.WithMetadata("view_id", viewID)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// NopPublisher drops every event. It is used when no Kafka brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrderSubmitted(context.Context, *domain.PlacedOrder, string) error {
	return nil
}

func (NopPublisher) PublishOrderFulfilled(context.Context, string) error { return nil }

func (NopPublisher) PublishCartCleared(context.Context, string) error { return nil }
