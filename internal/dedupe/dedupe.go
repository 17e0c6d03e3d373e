// Package dedupe remembers which webhook event ids the gateway has already
// queued, so a redelivered webhook is acknowledged without a second message.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"retail-integration/internal/config"
	"retail-integration/internal/repository"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Deduper interface {
	// Claim records id for topic and reports whether this caller got there
	// first. Of several concurrent claims for the same id exactly one wins.
	Claim(ctx context.Context, topic, id string) (bool, error)
	// Release forgets a claim whose message never reached the broker.
	Release(ctx context.Context, topic, id string) error
}

// New builds the deduper named by cfg.Store. The returned close func releases
// any connection it opened.
func New(cfg config.Dedup, rc config.Redis, db *gorm.DB, logger *slog.Logger) (Deduper, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case "", "memory":
		return NewMemory(), noop, nil

	case "redis":
		if rc.Addr == "" {
			return nil, nil, fmt.Errorf("dedupe store redis: REDIS_ADDR is empty")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		logger.Info("webhook dedupe in redis", "addr", rc.Addr, "ttl", cfg.TTL)
		return NewRedis(client, cfg.TTL), client.Close, nil

	case "db":
		if db == nil {
			return nil, nil, fmt.Errorf("dedupe store db: no database")
		}
		return NewDB(repository.NewWebhookEventRepository(db)), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown dedupe store %q", cfg.Store)
	}
}

// Memory keeps the last id seen per topic. Storefront webhooks retry the same
// event back to back, so one slot per topic is enough within a process.
type Memory struct {
	last sync.Map // topic -> *atomic.Pointer[string]
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) slot(topic string) *atomic.Pointer[string] {
	p, _ := m.last.LoadOrStore(topic, new(atomic.Pointer[string]))
	return p.(*atomic.Pointer[string])
}

func (m *Memory) Claim(_ context.Context, topic, id string) (bool, error) {
	slot := m.slot(topic)
	for {
		last := slot.Load()
		if last != nil && *last == id {
			return false, nil
		}
		if slot.CompareAndSwap(last, &id) {
			return true, nil
		}
	}
}

// Release clears the slot only if it still holds id.
func (m *Memory) Release(_ context.Context, topic, id string) error {
	slot := m.slot(topic)
	if last := slot.Load(); last != nil && *last == id {
		slot.CompareAndSwap(last, nil)
	}
	return nil
}

// Redis shares seen ids across gateway replicas. Keys expire after ttl.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisKey(topic, id string) string {
	return fmt.Sprintf("webhook:%s:%s", topic, id)
}

func (r *Redis) Claim(ctx context.Context, topic, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKey(topic, id), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedupe claim: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, topic, id string) error {
	if err := r.client.Del(ctx, redisKey(topic, id)).Err(); err != nil {
		return fmt.Errorf("redis dedupe release: %w", err)
	}
	return nil
}

// DB keeps seen ids in SN_WEBHOOK_EVENT.
type DB struct {
	events repository.WebhookEventRepository
}

func NewDB(events repository.WebhookEventRepository) *DB {
	return &DB{events: events}
}

func (d *DB) Claim(ctx context.Context, topic, id string) (bool, error) {
	ok, err := d.events.Claim(ctx, topic, id)
	if err != nil {
		return false, fmt.Errorf("webhook event claim: %w", err)
	}
	return ok, nil
}

func (d *DB) Release(ctx context.Context, topic, id string) error {
	if err := d.events.Release(ctx, topic, id); err != nil {
		return fmt.Errorf("webhook event release: %w", err)
	}
	return nil
}

// Purge drops events queued more than ttl ago.
func (d *DB) Purge(ctx context.Context, ttl time.Duration) (int64, error) {
	return d.events.PurgeBefore(ctx, time.Now().Add(-ttl))
}
