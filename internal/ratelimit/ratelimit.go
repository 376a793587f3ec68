// Package ratelimit decides whether a state-changing write may proceed.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// ScopeReservationCreate limits reservation creation per actor per list.
const ScopeReservationCreate = "reservation.create"

const defaultCheckTimeout = 250 * time.Millisecond

// Decision is a limiter verdict. RetryAfter is set when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter is a rate-limit backend.
type Limiter interface {
	Check(ctx context.Context, scope, key string) (Decision, error)
}

// Policy is the budget applied per key.
type Policy struct {
	Max    int
	Window time.Duration
}

// DefaultPolicy allows ten reservations per hour per list per actor.
var DefaultPolicy = Policy{Max: 10, Window: time.Hour}

func (p Policy) normalized() Policy {
	if p.Max <= 0 {
		p.Max = DefaultPolicy.Max
	}
	if p.Window <= 0 {
		p.Window = DefaultPolicy.Window
	}
	return p
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Check(context.Context, string, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// Guard bounds each backend call with a timeout and fails open: a slow, failing or
// unreachable backend lets the write through and logs a warning.
type Guard struct {
	limiter Limiter
	timeout time.Duration
	logger  *slog.Logger
	onOpen  func(reason string)
}

type GuardOption func(*Guard)

// WithTimeout overrides the per-check timeout.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithFailOpenHook registers a callback invoked whenever the guard fails open.
func WithFailOpenHook(fn func(reason string)) GuardOption {
	return func(g *Guard) {
		g.onOpen = fn
	}
}

func NewGuard(limiter Limiter, opts ...GuardOption) *Guard {
	if limiter == nil {
		limiter = Unlimited{}
	}
	g := &Guard{
		limiter: limiter,
		timeout: defaultCheckTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check never returns an error; backend failures become an allow decision.
func (g *Guard) Check(ctx context.Context, scope, key string) Decision {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	type result struct {
		decision Decision
		err      error
	}
	done := make(chan result, 1)
	go func() {
		d, err := g.limiter.Check(checkCtx, scope, key)
		done <- result{decision: d, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			g.failOpen(ctx, scope, "error", res.err)
			return Decision{Allowed: true}
		}
		if !res.decision.Allowed && res.decision.RetryAfter <= 0 {
			res.decision.RetryAfter = time.Second
		}
		return res.decision
	case <-checkCtx.Done():
		g.failOpen(ctx, scope, "timeout", checkCtx.Err())
		return Decision{Allowed: true}
	}
}

func (g *Guard) failOpen(ctx context.Context, scope, reason string, err error) {
	g.logger.WarnContext(ctx, "rate limiter unavailable, allowing request",
		slog.String("scope", scope),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
	if g.onOpen != nil {
		g.onOpen(reason)
	}
}
