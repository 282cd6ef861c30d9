package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/targeting"
)

func testRedisConfig() *config.RedisConfig {
	return &config.RedisConfig{
		KeyPrefix:           "visibility",
		QueueKey:            "queue:page_updates",
		InvalidationChannel: "events:page_invalidation",
	}
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCache(client, testRedisConfig()), srv
}

func samplePage(version int64) *targeting.PageRules {
	return &targeting.PageRules{
		PageID:    42,
		Version:   version,
		Targeting: targeting.RuleSet{Countries: []string{"GB"}, FallbackTarget: "https://example.com/unavailable"},
		Blocks: []targeting.Block{
			{ID: 1, Enabled: true, Conditions: targeting.RuleSet{Devices: []targeting.DeviceType{targeting.DeviceMobile}}},
			{ID: 2, Enabled: false},
		},
	}
}

func TestRedisCache_KeyLayout(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)

	assert.Equal(t, "visibility:page:42", c.PageKey(42))
	assert.Equal(t, "visibility:queue:page_updates", c.QueueKey())
	assert.Equal(t, "visibility:events:page_invalidation", c.InvalidationChannel())
}

func TestRedisCache_PageRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should report a miss for an unknown page", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestCache(t)

		_, err := c.GetPageRules(ctx, 404)
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("Should store a versioned snapshot and read it back", func(t *testing.T) {
		t.Parallel()

		c, srv := newTestCache(t)

		res, err := c.SetPageRulesSafely(ctx, samplePage(10))
		require.NoError(t, err)
		assert.Equal(t, SetResultUpdated, res)

		raw, err := srv.Get("visibility:page:42")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(raw, "10|"), "stored value must carry the version prefix")

		got, err := c.GetPageRules(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Version)
		assert.Equal(t, []string{"GB"}, got.Targeting.Countries)
		assert.Equal(t, "https://example.com/unavailable", got.Targeting.FallbackTarget)
		require.Len(t, got.Blocks, 2)
		assert.Equal(t, []targeting.DeviceType{targeting.DeviceMobile}, got.Blocks[0].Conditions.Devices)
		assert.False(t, got.Blocks[1].Enabled)
	})

	t.Run("Should skip stale and equal versions", func(t *testing.T) {
		t.Parallel()

		c, srv := newTestCache(t)

		_, err := c.SetPageRulesSafely(ctx, samplePage(11))
		require.NoError(t, err)

		for _, v := range []int64{5, 11} {
			stale := samplePage(v)
			stale.Targeting.Countries = []string{"US"}

			res, err := c.SetPageRulesSafely(ctx, stale)
			require.NoError(t, err)
			assert.Equal(t, SetResultSkipped, res, "version %d", v)
		}

		raw, _ := srv.Get("visibility:page:42")
		assert.True(t, strings.HasPrefix(raw, "11|"))
		assert.Contains(t, raw, `"GB"`)
	})

	t.Run("Should overwrite newer versions", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestCache(t)

		_, err := c.SetPageRulesSafely(ctx, samplePage(1))
		require.NoError(t, err)
		res, err := c.SetPageRulesSafely(ctx, samplePage(2))
		require.NoError(t, err)

		assert.Equal(t, SetResultUpdated, res)
		got, err := c.GetPageRules(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("Should repair a value without a version prefix", func(t *testing.T) {
		t.Parallel()

		c, srv := newTestCache(t)
		require.NoError(t, srv.Set("visibility:page:42", `{"page_id":42}`))

		_, err := c.GetPageRules(ctx, 42)
		require.Error(t, err, "a corrupt entry is an error, not a miss")
		assert.NotErrorIs(t, err, ErrCacheMiss)

		res, err := c.SetPageRulesSafely(ctx, samplePage(50))
		require.NoError(t, err)
		assert.Equal(t, SetResultRepaired, res)

		raw, _ := srv.Get("visibility:page:42")
		assert.True(t, strings.HasPrefix(raw, "50|"))
	})

	t.Run("Should reject nil rules", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestCache(t)

		_, err := c.SetPageRulesSafely(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("Should delete a snapshot idempotently", func(t *testing.T) {
		t.Parallel()

		c, srv := newTestCache(t)
		_, err := c.SetPageRulesSafely(ctx, samplePage(3))
		require.NoError(t, err)

		require.NoError(t, c.DeletePageRules(ctx, 42))
		require.NoError(t, c.DeletePageRules(ctx, 42))

		assert.False(t, srv.Exists("visibility:page:42"))
	})
}

func TestRedisCache_Queue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should deliver updates in FIFO order", func(t *testing.T) {
		t.Parallel()

		c, _ := newTestCache(t)
		before := time.Now().Add(-time.Second)

		require.NoError(t, c.EnqueueUpdate(ctx, 1, 10))
		require.NoError(t, c.EnqueueUpdate(ctx, 2, 20))

		depth, err := c.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), depth)

		first, err := c.PopUpdate(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, int64(1), first.PageID)
		assert.Equal(t, int64(10), first.Version)
		assert.True(t, first.EnqueuedAt.After(before))

		second, err := c.PopUpdate(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Equal(t, int64(2), second.PageID)

		depth, err = c.QueueDepth(ctx)
		require.NoError(t, err)
		assert.Zero(t, depth)
	})

	t.Run("Should reject a malformed message", func(t *testing.T) {
		t.Parallel()

		c, srv := newTestCache(t)
		_, err := srv.Lpush(c.QueueKey(), "not-a-page")
		require.NoError(t, err)

		msg, err := c.PopUpdate(ctx, time.Second)
		assert.Error(t, err)
		assert.Nil(t, msg)
	})
}

func TestRedisCache_Invalidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, _ := newTestCache(t)

	sub := c.SubscribeInvalidations(ctx)
	defer sub.Close()

	// Wait for the subscription confirmation before publishing.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.PublishInvalidation(ctx, 42, 3))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, c.InvalidationChannel(), msg.Channel)
		m, ok := DecodeQueueMessage(msg.Payload)
		require.True(t, ok)
		assert.Equal(t, int64(42), m.PageID)
		assert.Equal(t, int64(3), m.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("invalidation was not delivered")
	}
}

func TestRedisCache_HydrationMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, srv := newTestCache(t)
	assert.Equal(t, "visibility:sys:hydrated", c.HydratedKey())

	ok, err := c.IsHydrated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.MarkHydrated(ctx))
	ok, err = c.IsHydrated(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	srv.FlushAll()
	ok, err = c.IsHydrated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_HealthCheck(t *testing.T) {
	t.Parallel()

	c, srv := newTestCache(t)
	require.NoError(t, c.HealthCheck(context.Background()))
	assert.NoError(t, NewHealthChecker(c.client).Check(context.Background()))

	srv.Close()
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	t.Parallel()

	t.Run("Should connect using host and port", func(t *testing.T) {
		t.Parallel()

		srv := miniredis.RunT(t)
		host, port, _ := strings.Cut(srv.Addr(), ":")
		cfg := &config.RedisConfig{Host: host, Port: port, PoolSize: 2, PingMaxRetries: 1, PingBackoff: time.Millisecond}

		client, err := NewRedisClient(context.Background(), cfg)
		require.NoError(t, err)
		defer client.Close()

		assert.NoError(t, client.Ping(context.Background()).Err())
	})

	t.Run("Should connect using a URL", func(t *testing.T) {
		t.Parallel()

		srv := miniredis.RunT(t)
		cfg := &config.RedisConfig{URL: "redis://" + srv.Addr() + "/0", PoolSize: 2, PingMaxRetries: 1, PingBackoff: time.Millisecond}

		client, err := NewRedisClient(context.Background(), cfg)
		require.NoError(t, err)
		defer client.Close()
	})

	t.Run("Should give up after the configured attempts", func(t *testing.T) {
		t.Parallel()

		cfg := &config.RedisConfig{
			Host:           "127.0.0.1",
			Port:           "1",
			PoolSize:       1,
			DialTimeout:    50 * time.Millisecond,
			PingMaxRetries: 2,
			PingBackoff:    5 * time.Millisecond,
		}

		_, err := NewRedisClient(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
	})

	t.Run("Should reject nil config", func(t *testing.T) {
		t.Parallel()

		_, err := NewRedisClient(context.Background(), nil)
		assert.Error(t, err)
	})
}
