// Package cache is the caching layer between the store and the data plane.
// Redis (L2) holds versioned page snapshots, the update queue and the
// invalidation channel; otter (L1) keeps hot snapshots in process.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/validation"
)

// ErrCacheMiss is returned when a page has no snapshot in L2.
var ErrCacheMiss = errors.New("cache: miss")

// SetResult is the outcome of a version-gated write.
type SetResult int

const (
	// SetResultSkipped means L2 already held the same or a newer version.
	SetResultSkipped SetResult = 0
	// SetResultUpdated means the snapshot was written.
	SetResultUpdated SetResult = 1
	// SetResultRepaired means a value without a version prefix was overwritten.
	SetResultRepaired SetResult = 2
)

func (r SetResult) String() string {
	switch r {
	case SetResultSkipped:
		return "skipped"
	case SetResultUpdated:
		return "updated"
	case SetResultRepaired:
		return "repaired"
	default:
		return "unknown"
	}
}

// setIfNewer writes ARGV[2] unless the stored version prefix is >= ARGV[1].
// Returns 0 (skipped), 1 (updated) or 2 (repaired).
var setIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
local sep = string.find(current, '|', 1, true)
if sep and sep <= 21 then
	local stored = tonumber(string.sub(current, 1, sep - 1))
	if stored then
		if stored >= tonumber(ARGV[1]) then
			return 0
		end
		redis.call('SET', KEYS[1], ARGV[2])
		return 1
	end
end
redis.call('SET', KEYS[1], ARGV[2])
return 2
`)

// Service is the full L2 contract used by the syncer and the data plane.
type Service interface {
	GetPageRules(ctx context.Context, pageID int64) (*targeting.PageRules, error)
	SetPageRulesSafely(ctx context.Context, rules *targeting.PageRules) (SetResult, error)
	DeletePageRules(ctx context.Context, pageID int64) error

	EnqueueUpdate(ctx context.Context, pageID, version int64) error
	PopUpdate(ctx context.Context, timeout time.Duration) (*SyncMessage, error)
	QueueDepth(ctx context.Context) (int64, error)

	PublishInvalidation(ctx context.Context, pageID, version int64) error
	SubscribeInvalidations(ctx context.Context) *redis.PubSub

	MarkHydrated(ctx context.Context) error
	IsHydrated(ctx context.Context) (bool, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// Compile-time check that RedisCache implements Service.
var _ Service = (*RedisCache)(nil)

// RedisCache implements Service on go-redis.
type RedisCache struct {
	client              *redis.Client
	prefix              string
	queueKey            string
	invalidationChannel string
}

// NewRedisCache wraps client using the key layout from cfg.
func NewRedisCache(client *redis.Client, cfg *config.RedisConfig) *RedisCache {
	validation.AssertNotNil(client, "redis client")
	validation.AssertNotNil(cfg, "redis config")

	return &RedisCache{
		client:              client,
		prefix:              cfg.KeyPrefix,
		queueKey:            cfg.KeyPrefix + ":" + cfg.QueueKey,
		invalidationChannel: cfg.KeyPrefix + ":" + cfg.InvalidationChannel,
	}
}

// PageKey returns the Redis key holding a page snapshot, e.g. "visibility:page:42".
func (c *RedisCache) PageKey(pageID int64) string {
	return c.prefix + ":page:" + strconv.FormatInt(pageID, 10)
}

// QueueKey returns the Redis list used as the update queue.
func (c *RedisCache) QueueKey() string { return c.queueKey }

// InvalidationChannel returns the pub/sub channel name.
func (c *RedisCache) InvalidationChannel() string { return c.invalidationChannel }

// GetPageRules reads and decodes a snapshot. It returns ErrCacheMiss when the
// key is absent and an error when the entry is corrupt.
func (c *RedisCache) GetPageRules(ctx context.Context, pageID int64) (*targeting.PageRules, error) {
	raw, err := c.client.Get(ctx, c.PageKey(pageID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d from cache: %w", pageID, err)
	}

	version, payload, ok := decodeEntry(raw)
	if !ok {
		return nil, fmt.Errorf("page %d cache entry has no version prefix", pageID)
	}

	var rules targeting.PageRules
	if err := json.Unmarshal([]byte(payload), &rules); err != nil {
		return nil, fmt.Errorf("failed to decode page %d cache entry: %w", pageID, err)
	}
	rules.Version = version
	return &rules, nil
}

// SetPageRulesSafely writes a snapshot unless L2 already holds its version or a newer one.
func (c *RedisCache) SetPageRulesSafely(ctx context.Context, rules *targeting.PageRules) (SetResult, error) {
	if rules == nil {
		return SetResultSkipped, fmt.Errorf("page rules cannot be nil")
	}

	payload, err := json.Marshal(rules)
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to encode page %d: %w", rules.PageID, err)
	}

	res, err := setIfNewer.Run(ctx, c.client,
		[]string{c.PageKey(rules.PageID)},
		rules.Version, encodeEntry(payload, rules.Version),
	).Int()
	if err != nil {
		return SetResultSkipped, fmt.Errorf("failed to write page %d to cache: %w", rules.PageID, err)
	}
	return SetResult(res), nil
}

// DeletePageRules removes a snapshot. Deleting a missing key is not an error.
func (c *RedisCache) DeletePageRules(ctx context.Context, pageID int64) error {
	if err := c.client.Del(ctx, c.PageKey(pageID)).Err(); err != nil {
		return fmt.Errorf("failed to delete page %d from cache: %w", pageID, err)
	}
	return nil
}

// EnqueueUpdate pushes a page update onto the queue (LPUSH; consumers BRPOP).
func (c *RedisCache) EnqueueUpdate(ctx context.Context, pageID, version int64) error {
	msg := EncodeQueueMessage(SyncMessage{PageID: pageID, Version: version, EnqueuedAt: time.Now()})
	if err := c.client.LPush(ctx, c.queueKey, msg).Err(); err != nil {
		return fmt.Errorf("failed to enqueue page %d: %w", pageID, err)
	}
	return nil
}

// PopUpdate blocks up to timeout for the next message. It returns (nil, nil)
// when the timeout elapses with an empty queue.
func (c *RedisCache) PopUpdate(ctx context.Context, timeout time.Duration) (*SyncMessage, error) {
	res, err := c.client.BRPop(ctx, timeout, c.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop update: %w", err)
	}

	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}

	msg, ok := DecodeQueueMessage(res[1])
	if !ok {
		return nil, fmt.Errorf("malformed queue message %q", res[1])
	}
	return &msg, nil
}

// QueueDepth returns the number of pending messages.
func (c *RedisCache) QueueDepth(ctx context.Context) (int64, error) {
	n, err := c.client.LLen(ctx, c.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}

// PublishInvalidation tells every data plane to drop its L1 copy of the page.
func (c *RedisCache) PublishInvalidation(ctx context.Context, pageID, version int64) error {
	msg := EncodeQueueMessage(SyncMessage{PageID: pageID, Version: version})
	if err := c.client.Publish(ctx, c.invalidationChannel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for page %d: %w", pageID, err)
	}
	return nil
}

// SubscribeInvalidations subscribes to the invalidation channel. The caller owns
// the returned PubSub and must Close it.
func (c *RedisCache) SubscribeInvalidations(ctx context.Context) *redis.PubSub {
	return c.client.Subscribe(ctx, c.invalidationChannel)
}

// HydratedKey returns the marker written after a complete hydration run.
func (c *RedisCache) HydratedKey() string { return c.prefix + ":sys:hydrated" }

// MarkHydrated records that every page has been written to L2.
func (c *RedisCache) MarkHydrated(ctx context.Context) error {
	if err := c.client.Set(ctx, c.HydratedKey(), "1", 0).Err(); err != nil {
		return fmt.Errorf("failed to set hydration marker: %w", err)
	}
	return nil
}

// IsHydrated reports whether the hydration marker is present. A Redis flush
// removes it together with the snapshots.
func (c *RedisCache) IsHydrated(ctx context.Context) (bool, error) {
	n, err := c.client.Exists(ctx, c.HydratedKey()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read hydration marker: %w", err)
	}
	return n > 0, nil
}

// HealthCheck pings the server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
