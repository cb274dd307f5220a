package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, failOpen bool) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	limits := map[Class]int{Upload: 5, Convert: 3, Download: 20, API: 30, Status: 60}
	return New(rdb, zap.NewNop(), time.Minute, limits, failOpen), mr
}

func TestCheckAdmitsUnderCeiling(t *testing.T) {
	l, _ := newTestLimiter(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "1.2.3.4:ua", Convert)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 3-i-1, res.Remaining)
		assert.False(t, res.Degraded)
	}
}

func TestCheckRejectsOverCeiling(t *testing.T) {
	l, _ := newTestLimiter(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "1.2.3.4:ua", Convert)
		require.NoError(t, err)
	}
	res, err := l.Check(ctx, "1.2.3.4:ua", Convert)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)
}

func TestCheckAdmitsAfterWindowElapses(t *testing.T) {
	l, mr := newTestLimiter(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "1.2.3.4:ua", Convert)
		require.NoError(t, err)
	}
	res, err := l.Check(ctx, "1.2.3.4:ua", Convert)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The purge cutoff is computed from the caller-supplied clock, so the
	// elapsed window is simulated by backdating the stored entries.
	backdate(t, mr, "ratelimit:convert:1.2.3.4:ua", 2*time.Minute)

	res, err = l.Check(ctx, "1.2.3.4:ua", Convert)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

// backdate shifts every member of the window zset into the past.
func backdate(t *testing.T, mr *miniredis.Miniredis, key string, by time.Duration) {
	t.Helper()
	members, err := mr.ZMembers(key)
	if err != nil {
		return
	}
	for _, m := range members {
		score, err := mr.ZScore(key, m)
		require.NoError(t, err)
		// ZAdd on an existing member rewrites its score.
		_, err = mr.ZAdd(key, score-float64(by.Milliseconds()), m)
		require.NoError(t, err)
	}
}

func TestCheckClassesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "1.2.3.4:ua", Convert)
		require.NoError(t, err)
	}
	res, err := l.Check(ctx, "1.2.3.4:ua", Convert)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	res, err = l.Check(ctx, "1.2.3.4:ua", Status)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "1.2.3.4:ua", Convert)
		require.NoError(t, err)
	}
	res, err := l.Check(ctx, "5.6.7.8:ua", Convert)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckFailsOpenOnStoreOutage(t *testing.T) {
	l, mr := newTestLimiter(t, true)
	mr.Close()

	res, err := l.Check(context.Background(), "1.2.3.4:ua", Convert)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Degraded)
}

func TestCheckFailsClosedWhenConfigured(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	mr.Close()

	_, err := l.Check(context.Background(), "1.2.3.4:ua", Convert)
	assert.Error(t, err)
}

func TestCheckUnknownClassFallsBackToAPI(t *testing.T) {
	l, _ := newTestLimiter(t, true)
	res, err := l.Check(context.Background(), "1.2.3.4:ua", Class("mystery"))
	require.NoError(t, err)
	assert.Equal(t, 30, res.Limit)
}
