package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const practitionerKeyPrefix = "mathavam:practitioner:"

// CachedPractitioners serves practitioner lookups from redis and falls back to
// next on a miss. Redis failures are logged and never fail the lookup.
type CachedPractitioners struct {
	next Practitioners
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedPractitioners(next Practitioners, rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *CachedPractitioners {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedPractitioners{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With(slog.String("component", "directory.cache")),
	}
}

func (c *CachedPractitioners) Practitioner(ctx context.Context, id string) (Practitioner, error) {
	key := practitionerKeyPrefix + id

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Practitioner
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return p, nil
		}
		c.log.Warn("practitioner cache entry unreadable", slog.String("practitioner_id", id))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("practitioner cache read failed", slog.Any("err", err), slog.String("practitioner_id", id))
	}

	p, err := c.next.Practitioner(ctx, id)
	if err != nil {
		return Practitioner{}, err
	}

	if b, err := json.Marshal(p); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			c.log.Warn("practitioner cache write failed", slog.Any("err", err), slog.String("practitioner_id", id))
		}
	}
	return p, nil
}

func (c *CachedPractitioners) ListPractitioners(ctx context.Context) ([]Practitioner, error) {
	return c.next.ListPractitioners(ctx)
}
