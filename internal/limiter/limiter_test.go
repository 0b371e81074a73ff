package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemory(p Policy) (*Memory, *clock) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory(p)
	m.now = c.now
	return m, c
}

func TestMemory_LocksAfterMaxFails(t *testing.T) {
	ctx := context.Background()
	m, c := newMemory(Policy{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute})
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := m.Failure(ctx, "ana@shop.test", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, dur, err := m.Failure(ctx, "Ana@Shop.test", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 5*time.Minute, dur)

	ok, left, _ := m.Allow(ctx, "ana@shop.test", ip)
	require.False(t, ok)
	require.Equal(t, 5*time.Minute, left)

	// other address is unaffected
	ok, _, _ = m.Allow(ctx, "ana@shop.test", HashIP("10.0.0.2"))
	require.True(t, ok)

	c.advance(5*time.Minute + time.Second)
	ok, _, _ = m.Allow(ctx, "ana@shop.test", ip)
	require.True(t, ok)
}

func TestMemory_WindowForgetsOldFailures(t *testing.T) {
	ctx := context.Background()
	m, c := newMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Hour})
	ip := HashIP("x")

	_, _, _ = m.Failure(ctx, "bo@shop.test", ip)
	c.advance(2 * time.Minute)
	blocked, _, _ := m.Failure(ctx, "bo@shop.test", ip)
	require.False(t, blocked)
}

func TestMemory_SuccessResets(t *testing.T) {
	ctx := context.Background()
	m, _ := newMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Hour})
	ip := HashIP("x")

	_, _, _ = m.Failure(ctx, "bo@shop.test", ip)
	require.NoError(t, m.Success(ctx, "bo@shop.test", ip))
	blocked, _, _ := m.Failure(ctx, "bo@shop.test", ip)
	require.False(t, blocked)
}
