package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/orderdesk/internal/domain"
	"github.com/utafrali/orderdesk/internal/repository"
	apperrors "github.com/utafrali/orderdesk/pkg/errors"
)

// DefaultKeyPrefix is the namespace used for staged order lines.
const DefaultKeyPrefix = "orderItem-"

const (
	scanCount   = 100
	eventBuffer = 32
)

// CartStore implements repository.CartStore on Redis. Each entry is a JSON
// string under prefix+productID; mutations are announced on the pub/sub
// channel prefix+"changes".
type CartStore struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	logger  *slog.Logger
}

var _ repository.CartStore = (*CartStore)(nil)

// NewCartStore creates a Redis-backed cart store. An empty prefix falls back
// to DefaultKeyPrefix.
func NewCartStore(client redis.UniversalClient, prefix string, logger *slog.Logger) *CartStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &CartStore{
		client:  client,
		prefix:  prefix,
		channel: prefix + "changes",
		logger:  logger,
	}
}

func (s *CartStore) key(productID string) string {
	return s.prefix + productID
}

// Channel returns the pub/sub channel change events are published on.
func (s *CartStore) Channel() string {
	return s.channel
}

// Put writes the entry and announces the change in one MULTI block.
func (s *CartStore) Put(ctx context.Context, entry domain.CartEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cart entry: %w", err)
	}
	ev, err := s.event(ctx, repository.OpPut, entry.ProductID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(entry.ProductID), data, 0)
		pipe.Publish(ctx, s.channel, ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put cart entry: %w", err)
	}
	return nil
}

// Get returns the entry for productID.
func (s *CartStore) Get(ctx context.Context, productID string) (*domain.CartEntry, error) {
	data, err := s.client.Get(ctx, s.key(productID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart entry", productID)
		}
		return nil, fmt.Errorf("redis get cart entry: %w", err)
	}

	var entry domain.CartEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cart entry %s: %w", productID, err)
	}
	return &entry, nil
}

// Remove deletes the entry; only an actual deletion is announced.
func (s *CartStore) Remove(ctx context.Context, productID string) error {
	n, err := s.client.Del(ctx, s.key(productID)).Result()
	if err != nil {
		return fmt.Errorf("redis del cart entry: %w", err)
	}
	if n == 0 {
		return nil
	}
	return s.publish(ctx, repository.OpRemove, productID)
}

// ListAll scans the namespace and loads every entry. Entries that cannot be
// decoded are logged and skipped.
func (s *CartStore) ListAll(ctx context.Context) ([]domain.CartEntry, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []domain.CartEntry{}, nil
	}

	entries := make([]domain.CartEntry, 0, len(keys))
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		values, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget cart entries: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Removed between SCAN and MGET.
				continue
			}
			var entry domain.CartEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				s.logger.WarnContext(ctx, "skipping undecodable cart entry",
					slog.String("key", keys[start+i]),
					slog.String("error", err.Error()),
				)
				continue
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Clear deletes every key in the namespace and announces a single clear.
func (s *CartStore) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += scanCount {
		end := min(start+scanCount, len(keys))
		if err := s.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis clear cart: %w", err)
		}
	}
	return s.publish(ctx, repository.OpClear, "")
}

// Subscribe listens on the change channel. It returns once Redis has
// confirmed the subscription, so no later mutation is missed.
func (s *CartStore) Subscribe(ctx context.Context) (repository.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan repository.ChangeEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	go sub.run(s.logger)
	return sub, nil
}

func (s *CartStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := escapeGlob(s.prefix) + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan cart: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *CartStore) event(ctx context.Context, op repository.ChangeOp, productID string) ([]byte, error) {
	data, err := json.Marshal(repository.ChangeEvent{
		Op:        op,
		ProductID: productID,
		Origin:    repository.OriginFromContext(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal change event: %w", err)
	}
	return data, nil
}

func (s *CartStore) publish(ctx context.Context, op repository.ChangeOp, productID string) error {
	ev, err := s.event(ctx, op, productID)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, ev).Err(); err != nil {
		return fmt.Errorf("redis publish cart change: %w", err)
	}
	return nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type subscription struct {
	pubsub *redis.PubSub
	events chan repository.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan repository.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *subscription) run(logger *slog.Logger) {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev repository.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warn("ignoring malformed cart change event",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
