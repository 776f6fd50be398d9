// Package cache keeps per-user unread counts in Redis so polling clients rarely reach Postgres.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "studiobook:notif:unread"

// Each user has a count key and a version key. Invalidate replaces the version with a fresh
// random token, so a fill that read the store under an older version is refused. Random tokens
// cannot repeat after the version key expires, which a counter could.
var (
	// KEYS[1]=count KEYS[2]=version ARGV[1]=count ARGV[2]=version seen ARGV[3]=ttl ms
	fillScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or ""
if current ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)
	// KEYS[1]=count KEYS[2]=version ARGV[1]=new version ARGV[2]=version ttl ms
	invalidateScript = redis.NewScript(`
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
redis.call("DEL", KEYS[1])
return 1
`)
)

type UnreadCache struct {
	rdb        redis.UniversalClient
	ttl        time.Duration
	versionTTL time.Duration
	prefix     string
}

// NewUnreadCache stores counts for ttl. Version tokens live longer than any count they guard.
func NewUnreadCache(rdb redis.UniversalClient, ttl time.Duration) *UnreadCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &UnreadCache{rdb: rdb, ttl: ttl, versionTTL: 24*time.Hour + ttl, prefix: defaultPrefix}
}

// Get returns the cached count, if any, and the version a later Set must present.
func (c *UnreadCache) Get(ctx context.Context, userID string) (int, string, bool, error) {
	vals, err := c.rdb.MGet(ctx, c.countKey(userID), c.versionKey(userID)).Result()
	if err != nil {
		return 0, "", false, err
	}
	version, _ := vals[1].(string)
	raw, ok := vals[0].(string)
	if !ok {
		return 0, version, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, version, false, nil
	}
	return n, version, true, nil
}

// Set stores count only while version is still current. It reports whether it wrote.
func (c *UnreadCache) Set(ctx context.Context, userID string, count int, version string) (bool, error) {
	res, err := fillScript.Run(ctx, c.rdb,
		[]string{c.countKey(userID), c.versionKey(userID)},
		count, version, c.ttl.Milliseconds(),
	).Int()
	return res == 1, err
}

func (c *UnreadCache) Invalidate(ctx context.Context, userID string) error {
	return invalidateScript.Run(ctx, c.rdb,
		[]string{c.countKey(userID), c.versionKey(userID)},
		uuid.NewString(), c.versionTTL.Milliseconds(),
	).Err()
}

func (c *UnreadCache) countKey(userID string) string {
	return c.prefix + ":" + userID
}

func (c *UnreadCache) versionKey(userID string) string {
	return c.prefix + ":v:" + userID
}
