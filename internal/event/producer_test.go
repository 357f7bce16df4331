package event

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/orderdesk/internal/domain"
	pkgkafka "github.com/utafrali/orderdesk/pkg/kafka"
	"github.com/utafrali/orderdesk/pkg/logger"
)

type published struct {
	topic string
	event *pkgkafka.Event
}

type fakeWriter struct {
	sent []published
	err  error
}

func (f *fakeWriter) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, event: event})
	return nil
}

func newTestProducer(w *fakeWriter) *Producer {
	return &Producer{
		kafka:  w,
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "orderdesk.order.submitted", TopicOrderSubmitted)
	assert.Equal(t, "orderdesk.order.fulfilled", TopicOrderFulfilled)
	assert.Equal(t, "orderdesk.cart.cleared", TopicCartCleared)
}

func TestPublishOrderSubmitted(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	ctx := logger.WithViewID(logger.WithCorrelationID(context.Background(), "corr-1"), "view-1")
	order := &domain.PlacedOrder{
		ID:       "o1",
		Customer: "Jane",
		Total:    decimal.NewFromInt(5000),
		Lines:    []domain.OrderLine{{ProductID: "A", Quantity: 5, LineTotal: decimal.NewFromInt(5000)}},
	}

	require.NoError(t, p.PublishOrderSubmitted(ctx, order, "key-1"))
	require.Len(t, w.sent, 1)

	msg := w.sent[0]
	assert.Equal(t, TopicOrderSubmitted, msg.topic)
	assert.Equal(t, "o1", msg.event.AggregateID)
	assert.Equal(t, AggregateTypeOrder, msg.event.AggregateType)
	assert.Equal(t, SourceOrderDesk, msg.event.Source)
	assert.Equal(t, "corr-1", msg.event.CorrelationID)
	assert.Equal(t, "view-1", msg.event.Metadata["view_id"])

	var data OrderSubmittedData
	require.NoError(t, msg.event.UnmarshalData(&data))
	assert.Equal(t, "o1", data.OrderID)
	assert.Equal(t, "view-1", data.ViewID)
	assert.Equal(t, "key-1", data.IdempotencyKey)
	assert.Equal(t, "5000", data.Total)
	require.Len(t, data.Lines, 1)
	assert.Equal(t, 5, data.Lines[0].Quantity)
}

func TestPublishOrderSubmitted_FallsBackToKey(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.PublishOrderSubmitted(context.Background(), &domain.PlacedOrder{Customer: "Jane"}, "key-2"))
	require.Len(t, w.sent, 1)
	assert.Equal(t, "key-2", w.sent[0].event.AggregateID)
	assert.Empty(t, w.sent[0].event.CorrelationID)
}

func TestPublishOrderFulfilled(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	require.NoError(t, p.PublishOrderFulfilled(context.Background(), "o7"))
	require.Len(t, w.sent, 1)
	assert.Equal(t, TopicOrderFulfilled, w.sent[0].topic)

	var data OrderFulfilledData
	require.NoError(t, w.sent[0].event.UnmarshalData(&data))
	assert.Equal(t, "o7", data.OrderID)
}

func TestPublishCartCleared(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	ctx := logger.WithViewID(context.Background(), "view-9")
	require.NoError(t, p.PublishCartCleared(ctx, ClearReasonCancelled))
	require.Len(t, w.sent, 1)
	assert.Equal(t, TopicCartCleared, w.sent[0].topic)
	assert.Equal(t, AggregateTypeCart, w.sent[0].event.AggregateType)

	var data CartClearedData
	require.NoError(t, w.sent[0].event.UnmarshalData(&data))
	assert.Equal(t, "view-9", data.ViewID)
	assert.Equal(t, ClearReasonCancelled, data.Reason)
}

func TestPublish_WrapsWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newTestProducer(w)

	err := p.PublishOrderFulfilled(context.Background(), "o1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish orderdesk.order.fulfilled event")
	assert.Contains(t, err.Error(), "broker down")
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	ctx := context.Background()
	assert.NoError(t, p.PublishOrderSubmitted(ctx, &domain.PlacedOrder{}, "k"))
	assert.NoError(t, p.PublishOrderFulfilled(ctx, "o1"))
	assert.NoError(t, p.PublishCartCleared(ctx, ClearReasonSubmitted))
}

func TestProducer_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*Producer)(nil)
}
