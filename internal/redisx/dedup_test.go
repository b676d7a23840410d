package redisx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeduper(t *testing.T) (*Deduper, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return &Deduper{Redis: rdb, Consumer: "inventory"}, mr
}

func TestDeduper_ClaimOnce(t *testing.T) {
	d, mr := newTestDeduper(t)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "order-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("dedup:inventory:order-1"))
	assert.Equal(t, TTLDedup, mr.TTL("dedup:inventory:order-1"))
}

func TestDeduper_ReleaseAllowsRetry(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	_, err := d.Claim(ctx, "order-2")
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx, "order-2"))

	ok, err := d.Claim(ctx, "order-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeduper_ConcurrentClaims(t *testing.T) {
	d, _ := newTestDeduper(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := d.Claim(ctx, "order-3")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
