package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: time.Second, Max: 10 * time.Second, Factor: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, b.Next(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, b.Next(0))
}

func TestNextJitterBounds(t *testing.T) {
	b := Backoff{Min: time.Second, Max: time.Second, Factor: 2, Jitter: 0.25}
	for i := 0; i < 100; i++ {
		d := b.Next(3)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
		assert.LessOrEqual(t, d, 1250*time.Millisecond)
	}
}

func TestExhausted(t *testing.T) {
	b := Backoff{MaxAttempts: 3}
	assert.False(t, b.Exhausted(3))
	assert.True(t, b.Exhausted(4))
	assert.True(t, Backoff{}.Exhausted(DefaultMaxAttempts+1))
	assert.True(t, Backoff{MaxAttempts: -1}.Exhausted(1000))
	assert.False(t, Backoff{MaxAttempts: -1}.Exhausted(DefaultMaxAttempts))
	assert.Equal(t, DefaultMaxAttempts, Backoff{}.Limit())
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
