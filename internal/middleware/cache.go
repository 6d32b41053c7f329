package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-booking/internal/config"
)

// EventCache keeps rendered GET /v1/events/:id responses in Redis, one
// entry per event.  Entries are keyed by the event's generation: every
// change to the event's availability or status bumps the generation, so
// the next read misses.  A response rendered before the bump is stored
// under the old generation and never served.
type EventCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// cachedEvent is the stored form of one event response.
type cachedEvent struct {
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
}

// NewEventCache returns an EventCache.  With caching disabled or without
// Redis the middleware passes every request through and invalidation is a
// no-op.
func NewEventCache(cfg config.CacheConfig, rdb *redis.Client, log *zap.Logger) *EventCache {
	if log == nil {
		log = zap.NewNop()
	}
	ec := &EventCache{prefix: cfg.Prefix, ttl: cfg.TTL, log: log}
	if cfg.Enabled {
		ec.rdb = rdb
	}
	if ec.prefix == "" {
		ec.prefix = "cache"
	}
	if ec.ttl <= 0 {
		ec.ttl = 5 * time.Second
	}
	return ec
}

func (ec *EventCache) generationKey(eventID string) string {
	return ec.prefix + ":event:" + eventID + ":gen"
}

func (ec *EventCache) entryKey(eventID, generation string) string {
	return ec.prefix + ":event:" + eventID + ":v" + generation
}

func (ec *EventCache) generation(ctx context.Context, eventID string) (string, error) {
	gen, err := ec.rdb.Get(ctx, ec.generationKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// InvalidateEvent bumps the event's generation.  Failures are logged; the
// stale entry then lives until its TTL runs out.
func (ec *EventCache) InvalidateEvent(ctx context.Context, eventID uint64) {
	if ec.rdb == nil {
		return
	}
	id := strconv.FormatUint(eventID, 10)
	if err := ec.rdb.Incr(ctx, ec.generationKey(id)).Err(); err != nil {
		ec.log.Warn("event cache invalidation failed", zap.Uint64("event_id", eventID), zap.Error(err))
	}
}

// bodyRecorder copies the response body while forwarding it.
type bodyRecorder struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware serves event reads from the cache and stores successful
// responses.  Redis errors fall through to the handler.
func (ec *EventCache) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ec.rdb == nil || c.Request().Method != http.MethodGet {
				return next(c)
			}
			id := c.Param("id")
			if _, err := strconv.ParseUint(id, 10, 64); err != nil {
				return next(c)
			}

			ctx := c.Request().Context()
			gen, err := ec.generation(ctx, id)
			if err != nil {
				ec.log.Warn("event cache unavailable", zap.String("event_id", id), zap.Error(err))
				return next(c)
			}
			key := ec.entryKey(id, gen)

			if bs, err := ec.rdb.Get(ctx, key).Bytes(); err == nil {
				var entry cachedEvent
				if json.Unmarshal(bs, &entry) == nil {
					c.Response().Header().Set("X-Cache", "HIT")
					return c.Blob(http.StatusOK, entry.ContentType, entry.Body)
				}
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if c.Response().Status != http.StatusOK {
				return nil
			}

			payload, err := json.Marshal(cachedEvent{
				ContentType: c.Response().Header().Get(echo.HeaderContentType),
				Body:        rec.buf.Bytes(),
			})
			if err != nil {
				return nil
			}
			if err := ec.rdb.Set(context.WithoutCancel(ctx), key, string(payload), ec.ttl).Err(); err != nil {
				ec.log.Warn("event cache write failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}
