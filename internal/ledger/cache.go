package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is a short-TTL Redis cache for entitlement status reads. The status
// endpoint is polled by every conversation screen, so reads vastly outnumber
// writes; debits, grants and revokes invalidate. All methods are safe on a
// nil Cache, which disables caching.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func statusKey(accountID uuid.UUID) string {
	return "credit-status:" + accountID.String()
}

func (c *Cache) Get(ctx context.Context, accountID uuid.UUID) (*Status, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, statusKey(accountID)).Bytes()
	if err != nil {
		return nil, false
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, false
	}
	return &st, true
}

func (c *Cache) Set(ctx context.Context, accountID uuid.UUID, st *Status) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	ttl := c.ttl
	// Never cache past the unlimited expiry, or a lapsed entitlement could
	// keep reporting can_respond.
	if st.UnlimitedExpiresAt != nil {
		if until := time.Until(*st.UnlimitedExpiresAt); until > 0 && until < ttl {
			ttl = until
		}
	}
	_ = c.rdb.Set(ctx, statusKey(accountID), raw, ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, accountID uuid.UUID) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, statusKey(accountID)).Err()
}
