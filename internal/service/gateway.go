package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/event"
	"github.com/utafrali/orderdesk/internal/repository"
	apperrors "github.com/utafrali/orderdesk/pkg/errors"
	"github.com/utafrali/orderdesk/pkg/tracing"
	"github.com/utafrali/orderdesk/pkg/validator"
)

var tracer = tracing.Tracer("orderdesk/service")

// OrderAPI creates orders on the remote order-management API.
type OrderAPI interface {
	CreateOrder(ctx context.Context, order domain.Order, idempotencyKey string) (*domain.PlacedOrder, error)
}

// Submitter submits a finished order.
type Submitter interface {
	Submit(ctx context.Context, order domain.Order) (*domain.PlacedOrder, error)
}

// Gateway validates and submits orders, then purges the cart store.
type Gateway struct {
	api    OrderAPI
	store  repository.CartStore
	events event.Publisher
	logger *slog.Logger
	newKey func() string
}

// NewGateway creates an order submission gateway.
func NewGateway(api OrderAPI, store repository.CartStore, events event.Publisher, logger *slog.Logger) *Gateway {
	return &Gateway{
		api:    api,
		store:  store,
		events: events,
		logger: logger,
		newKey: uuid.NewString,
	}
}

// Submit posts order exactly once. Any failure to create the order is a
// SubmissionFailed error and leaves the cart store untouched. Once the order
// is accepted the store is cleared; a failed clear is logged but does not
// turn the accepted order into a failure.
func (g *Gateway) Submit(ctx context.Context, order domain.Order) (*domain.PlacedOrder, error) {
	ctx, span := tracer.Start(ctx, "gateway.Submit")
	defer span.End()

	if err := validator.Validate(order); err != nil {
		return nil, err
	}

	key := g.newKey()
	span.SetAttributes(
		attribute.String("order.idempotency_key", key),
		attribute.Int("order.lines", len(order.Lines)),
	)

	start := time.Now()
	placed, err := g.api.CreateOrder(ctx, order, key)
	submissionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		submissionsTotal.WithLabelValues(resultFailure).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		g.logger.ErrorContext(ctx, "order submission failed",
			slog.String("idempotency_key", key),
			slog.String("customer", order.Customer),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.SubmissionFailed(err)
	}
	submissionsTotal.WithLabelValues(resultSuccess).Inc()

	g.logger.InfoContext(ctx, "order submitted",
		slog.String("order_id", placed.ID),
		slog.String("idempotency_key", key),
		slog.String("total", order.Total.String()),
		slog.Int("lines", len(order.Lines)),
	)

	if err := g.store.Clear(ctx); err != nil {
		g.logger.ErrorContext(ctx, "order accepted but cart could not be cleared",
			slog.String("order_id", placed.ID),
			slog.String("error", err.Error()),
		)
	} else if err := g.events.PublishCartCleared(ctx, event.ClearReasonSubmitted); err != nil {
		g.logger.WarnContext(ctx, "failed to publish cart cleared event", slog.String("error", err.Error()))
	}

	if err := g.events.PublishOrderSubmitted(ctx, placed, key); err != nil {
		g.logger.WarnContext(ctx, "failed to publish order submitted event",
			slog.String("order_id", placed.ID),
			slog.String("error", err.Error()),
		)
	}

	return placed, nil
}
