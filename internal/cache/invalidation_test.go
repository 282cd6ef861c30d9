package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/testsupport"
)

func TestMemoryCache_InvalidationListener(t *testing.T) {
	l2, srv := newTestCache(t)
	l1, err := NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	defer l1.Close()

	l1.Set(&targeting.PageRules{PageID: 5, Version: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l1.RunInvalidationListener(ctx, nil, l2.SubscribeInvalidations(ctx))
	}()

	t.Run("Should clear L1 on subscribe", func(t *testing.T) {
		require.Eventually(t, func() bool {
			return srv.PubSubNumSub(l2.InvalidationChannel())[l2.InvalidationChannel()] == 1 && l1.Size() == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Should drop invalidated pages", func(t *testing.T) {
		l1.Set(&targeting.PageRules{PageID: 42, Version: 3})
		l1.Set(&targeting.PageRules{PageID: 43, Version: 1})

		testsupport.AssertMetricDeltaAsync(t, "visibility_data_plane_l1_invalidations_total", nil, 1, func() {
			require.NoError(t, l2.PublishInvalidation(ctx, 42, 4))
		})

		require.Eventually(t, func() bool { return l1.Size() == 1 }, time.Second, 5*time.Millisecond)
		_, ok := l1.store.Get(43)
		assert.True(t, ok)
	})

	t.Run("Should ignore malformed messages", func(t *testing.T) {
		srv.Publish(l2.InvalidationChannel(), "garbage")
		require.NoError(t, l2.PublishInvalidation(ctx, 43, 2))

		require.Eventually(t, func() bool { return l1.Size() == 0 }, time.Second, 5*time.Millisecond)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}
