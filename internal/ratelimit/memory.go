package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/greirson/gthanks-sub001/internal/clock"
)

// sweepThreshold is the number of tracked keys above which idle logs are evicted.
const sweepThreshold = 4096

// admitLog holds the admit times still inside the window, oldest first.
type admitLog struct {
	admits []time.Time
}

// prune drops admits that are a full window old or older.
func (l *admitLog) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(l.admits) && now.Sub(l.admits[i]) >= window {
		i++
	}
	if i > 0 {
		l.admits = append(l.admits[:0], l.admits[i:]...)
	}
}

// Memory is a single-process sliding-log limiter: a key gets at most Max admits in any
// rolling Window. Denied checks are not recorded.
type Memory struct {
	policy Policy
	clock  clock.Clock
	mu     sync.Mutex
	logs   map[string]*admitLog
}

func NewMemory(policy Policy, clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Memory{
		policy: policy.normalized(),
		clock:  clk,
		logs:   make(map[string]*admitLog),
	}
}

func (m *Memory) Check(_ context.Context, scope, key string) (Decision, error) {
	now := m.clock.Now()
	id := scope + "|" + key

	m.mu.Lock()
	defer m.mu.Unlock()

	log, ok := m.logs[id]
	if !ok {
		if len(m.logs) >= sweepThreshold {
			m.sweep(now)
		}
		log = &admitLog{admits: make([]time.Time, 0, m.policy.Max)}
		m.logs[id] = log
	}

	log.prune(now, m.policy.Window)
	if len(log.admits) < m.policy.Max {
		log.admits = append(log.admits, now)
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: log.admits[0].Add(m.policy.Window).Sub(now)}, nil
}

// sweep drops keys whose newest admit has left the window.
func (m *Memory) sweep(now time.Time) {
	for id, log := range m.logs {
		if n := len(log.admits); n == 0 || now.Sub(log.admits[n-1]) >= m.policy.Window {
			delete(m.logs, id)
		}
	}
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}
