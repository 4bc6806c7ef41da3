package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// NotificationDeduper tracks processed gateway notification ids. Seen is
// a read-only check; Mark records an id only once the notification has
// been handled successfully, so a failed delivery stays retryable.
type NotificationDeduper interface {
	Seen(ctx context.Context, notificationID string) (bool, error)
	Mark(ctx context.Context, notificationID string) error
}

type redisNotificationDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisNotificationDeduper) Seen(ctx context.Context, notificationID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+":"+notificationID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *redisNotificationDeduper) Mark(ctx context.Context, notificationID string) error {
	return d.client.Set(ctx, d.prefix+":"+notificationID, "1", d.ttl).Err()
}

type memoryNotificationDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryNotificationDeduper(ttl time.Duration) *memoryNotificationDeduper {
	now := time.Now()
	return &memoryNotificationDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (d *memoryNotificationDeduper) Seen(_ context.Context, notificationID string) (bool, error) {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.seen[notificationID]
	return ok && exp.After(now), nil
}

func (d *memoryNotificationDeduper) Mark(_ context.Context, notificationID string) error {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[notificationID] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for id, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, id)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}
	return nil
}

// NewNotificationDeduper builds a Redis deduper and falls back to
// in-memory on failure. Deduplication is only a fast path: the store's
// conditional update makes duplicate notifications safe regardless.
func NewNotificationDeduper(addr, pass string, db int, ttl time.Duration) (NotificationDeduper, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if addr == "" {
		return newMemoryNotificationDeduper(ttl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryNotificationDeduper(ttl), err
	}

	return &redisNotificationDeduper{
		client: client,
		prefix: "mp:notification",
		ttl:    ttl,
	}, nil
}

// NotificationDedup short-circuits duplicate gateway notifications by
// gateway_notification_id with a 200, since the gateway only needs a 2xx
// to stop retrying. An id is marked seen only after the handler answers
// 2xx; a 5xx leaves it unmarked so the gateway's retry reaches the
// handler again.
func NotificationDedup(deduper NotificationDeduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if deduper == nil {
				return next(c)
			}

			req := c.Request()
			if req.Body == nil {
				return next(c)
			}

			rawBody, err := io.ReadAll(req.Body)
			if err != nil {
				return next(c)
			}
			req.Body = io.NopCloser(bytes.NewBuffer(rawBody))
			if len(rawBody) == 0 {
				return next(c)
			}

			var payload struct {
				NotificationID string `json:"gateway_notification_id"`
			}
			if err := json.Unmarshal(rawBody, &payload); err != nil || payload.NotificationID == "" {
				return next(c)
			}

			isDuplicate, err := deduper.Seen(req.Context(), payload.NotificationID)
			if err != nil {
				return next(c)
			}
			if isDuplicate {
				return c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
			}

			if err := next(c); err != nil {
				return err
			}
			if c.Response().Status < http.StatusMultipleChoices {
				// Best effort: a missed mark only costs one extra pass
				// through the idempotent handler.
				_ = deduper.Mark(req.Context(), payload.NotificationID)
			}
			return nil
		}
	}
}
