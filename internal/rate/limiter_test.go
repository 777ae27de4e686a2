package rate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 10, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	r1, _ := l.Allow(ctx, "1.2.3.4")
	r2, _ := l.Allow(ctx, "1.2.3.4")
	r3, _ := l.Allow(ctx, "1.2.3.4")
	assert.True(t, r1.Allowed)
	assert.EqualValues(t, 1, r1.Remaining)
	assert.True(t, r2.Allowed)
	assert.False(t, r3.Allowed)
	assert.EqualValues(t, 0, r3.Remaining)
	assert.Equal(t, 50*time.Second, r3.RetryAfter)

	other, _ := l.Allow(ctx, "5.6.7.8")
	assert.True(t, other.Allowed)

	// ventana siguiente
	now = now.Add(time.Minute)
	r4, _ := l.Allow(ctx, "1.2.3.4")
	assert.True(t, r4.Allowed)
	assert.EqualValues(t, 1, r4.CurrentHits)
}

func TestNewSetFallsBackToMemory(t *testing.T) {
	s := NewSet(nil, "beout", 10, 5, time.Minute)
	assert.IsType(t, &MemoryLimiter{}, s.Poll)
	assert.IsType(t, &MemoryLimiter{}, s.Token)
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := rdb.NewClient(&rdb.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, "test:"+uuid.NewString()+":", 1, time.Minute)
	ctx := context.Background()

	r1, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, r1.Allowed)
	assert.Greater(t, r1.WindowTTL, time.Duration(0))

	r2, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, r2.Allowed)
	assert.Greater(t, r2.RetryAfter, time.Duration(0))
}
