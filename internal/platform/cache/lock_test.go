package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/platform/cache"
)

func newLocker(t *testing.T) (*cache.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewLocker(rdb), mr
}

func TestRunExclusiveRejectsSecondHolder(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	err := locker.RunExclusive(ctx, "clinic:jobs:scan:lock", time.Minute, func(ctx context.Context) error {
		require.True(t, mr.Exists("clinic:jobs:scan:lock"))
		inner := locker.RunExclusive(ctx, "clinic:jobs:scan:lock", time.Minute, func(context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
		require.ErrorIs(t, inner, cache.ErrLocked)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists("clinic:jobs:scan:lock"))
}

func TestNewPingsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := cache.New(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = cache.New(context.Background(), mr.Addr())
	require.Error(t, err)
}
