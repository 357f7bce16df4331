// Package notify delivers transient operator notifications ("toasts") to views.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Level is the severity of a notification.
type Level string

// Notification levels.
const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// DefaultCapacity is how many undelivered notifications a view keeps.
const DefaultCapacity = 50

// Notification is a single message addressed to a view.
type Notification struct {
	ID        string    `json:"id"`
	ViewID    string    `json:"view_id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier sends a notification to a view.
type Notifier interface {
	Notify(ctx context.Context, viewID string, level Level, message string)
}

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orderdesk_notifications_total",
	Help: "Notifications raised to views, by level.",
}, []string{"level"})

// Inbox keeps a bounded queue of notifications per view until the view reads
// them. Every notification is also logged.
type Inbox struct {
	mu       sync.Mutex
	queues   map[string][]Notification
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

// NewInbox creates an inbox. A non-positive capacity uses DefaultCapacity.
func NewInbox(capacity int, logger *slog.Logger) *Inbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Inbox{
		queues:   make(map[string][]Notification),
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

// Notify queues a notification for viewID, dropping the oldest one when the
// queue is full.
func (b *Inbox) Notify(ctx context.Context, viewID string, level Level, message string) {
	n := Notification{
		ID:        uuid.NewString(),
		ViewID:    viewID,
		Level:     level,
		Message:   message,
		CreatedAt: b.now().UTC(),
	}

	b.mu.Lock()
	q := append(b.queues[viewID], n)
	if len(q) > b.capacity {
		q = q[len(q)-b.capacity:]
	}
	b.queues[viewID] = q
	b.mu.Unlock()

	notificationsTotal.WithLabelValues(string(level)).Inc()

	logLevel := slog.LevelInfo
	if level == LevelError {
		logLevel = slog.LevelWarn
	}
	b.logger.Log(ctx, logLevel, "notification",
		slog.String("view_id", viewID),
		slog.String("level", string(level)),
		slog.String("message", message),
	)
}

// Drain returns and removes every queued notification for viewID, oldest first.
func (b *Inbox) Drain(viewID string) []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[viewID]
	delete(b.queues, viewID)
	if q == nil {
		return []Notification{}
	}
	return q
}

// Forget drops the queue of a view that has been closed.
func (b *Inbox) Forget(viewID string) {
	b.mu.Lock()
	delete(b.queues, viewID)
	b.mu.Unlock()
}
