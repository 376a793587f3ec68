package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/greirson/gthanks-sub001/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_EleventhRequestInWindowIsDenied(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	lim := NewMemory(Policy{Max: 10, Window: time.Hour}, clk)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := lim.Check(ctx, ScopeReservationCreate, "user:alice|list-1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
		clk.Advance(time.Second)
	}

	d, err := lim.Check(ctx, ScopeReservationCreate, "user:alice|list-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour-10*time.Second, d.RetryAfter, "retry once the first admit leaves the window")

	other, err := lim.Check(ctx, ScopeReservationCreate, "user:alice|list-2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "different list has its own budget")

	clk.Advance(d.RetryAfter + time.Second)
	again, err := lim.Check(ctx, ScopeReservationCreate, "user:alice|list-1")
	require.NoError(t, err)
	assert.True(t, again.Allowed)
}

func TestMemory_BudgetIsPerRollingWindow(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewManual(t0)
	lim := NewMemory(DefaultPolicy, clk)
	ctx := context.Background()
	key := "anon:0123456789abcdef|list-1"

	// Five admits at t0 and five more at t0+5m.
	for i := 0; i < 10; i++ {
		if i == 5 {
			clk.Set(t0.Add(5 * time.Minute))
		}
		d, err := lim.Check(ctx, ScopeReservationCreate, key)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	for _, offset := range []time.Duration{7 * time.Minute, 30 * time.Minute, 59 * time.Minute} {
		clk.Set(t0.Add(offset))
		d, err := lim.Check(ctx, ScopeReservationCreate, key)
		require.NoError(t, err)
		assert.False(t, d.Allowed, "11th request at +%s must be denied", offset)
		assert.Equal(t, time.Hour-offset, d.RetryAfter, "at +%s", offset)
	}

	// The first five admits are now an hour old; only their slots free up.
	clk.Set(t0.Add(time.Hour + time.Second))
	allowed := 0
	for i := 0; i < 10; i++ {
		d, err := lim.Check(ctx, ScopeReservationCreate, key)
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestMemory_DeniedChecksDoNotConsumeBudget(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	lim := NewMemory(Policy{Max: 1, Window: time.Minute}, clk)
	ctx := context.Background()

	d, _ := lim.Check(ctx, "s", "k")
	require.True(t, d.Allowed)
	for i := 0; i < 5; i++ {
		d, _ = lim.Check(ctx, "s", "k")
		require.False(t, d.Allowed)
	}
	clk.Advance(time.Minute + time.Second)
	d, _ = lim.Check(ctx, "s", "k")
	assert.True(t, d.Allowed)
}

func TestMemory_SweepsIdleBuckets(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	lim := NewMemory(Policy{Max: 1, Window: time.Minute}, clk)
	for i := 0; i < sweepThreshold; i++ {
		_, _ = lim.Check(context.Background(), "s", string(rune('a'+i%26))+time.Duration(i).String())
	}
	require.Equal(t, sweepThreshold, lim.size())

	clk.Advance(2 * time.Minute)
	_, _ = lim.Check(context.Background(), "s", "fresh")
	assert.Equal(t, 1, lim.size())
}

type stubLimiter struct {
	decision Decision
	err      error
	delay    time.Duration
}

func (s stubLimiter) Check(ctx context.Context, _, _ string) (Decision, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return s.decision, s.err
}

func TestGuard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		limiter     Limiter
		wantAllowed bool
		wantOpen    bool
	}{
		{name: "allowed", limiter: stubLimiter{decision: Decision{Allowed: true}}, wantAllowed: true},
		{name: "denied", limiter: stubLimiter{decision: Decision{Allowed: false, RetryAfter: time.Minute}}},
		{name: "backend error fails open", limiter: stubLimiter{err: errors.New("connection refused")}, wantAllowed: true, wantOpen: true},
		{name: "slow backend fails open", limiter: stubLimiter{delay: time.Second, decision: Decision{Allowed: false}}, wantAllowed: true, wantOpen: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var opened atomic.Int32
			buf := &bytes.Buffer{}
			g := NewGuard(tt.limiter,
				WithTimeout(20*time.Millisecond),
				WithLogger(slog.New(slog.NewTextHandler(buf, nil))),
				WithFailOpenHook(func(string) { opened.Add(1) }),
			)

			start := time.Now()
			d := g.Check(context.Background(), ScopeReservationCreate, "k")
			assert.Less(t, time.Since(start), 500*time.Millisecond)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			if !d.Allowed {
				assert.Greater(t, d.RetryAfter, time.Duration(0))
			}
			if tt.wantOpen {
				assert.Equal(t, int32(1), opened.Load())
				assert.Contains(t, buf.String(), "rate limiter unavailable")
			} else {
				assert.Zero(t, opened.Load())
			}
		})
	}
}

func TestGuard_DeniedWithoutRetryAfterGetsFloor(t *testing.T) {
	t.Parallel()

	g := NewGuard(stubLimiter{decision: Decision{Allowed: false}})
	d := g.Check(context.Background(), "s", "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
}
