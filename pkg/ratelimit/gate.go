package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for the fetch gate.
var (
	gateHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docsearch_gate_held",
		Help: "1 while a fetch session holds the provider gate",
	})

	gateRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docsearch_gate_rejections_total",
		Help: "Total acquisition attempts rejected because the gate was held",
	})

	gateHoldSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docsearch_gate_hold_seconds",
		Help:    "How long the provider gate was held per fetch session",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)

// Gate is a non-queueing mutual-exclusion gate. At most one Token is
// outstanding at any instant; a contender is turned away instead of waiting.
type Gate struct {
	sem  *semaphore.Weighted
	held atomic.Bool
	now  func() time.Time
}

// NewGate returns an open gate.
func NewGate() *Gate {
	return &Gate{
		sem: semaphore.NewWeighted(1),
		now: time.Now,
	}
}

// TryAcquire takes the gate if it is open. It never blocks.
func (g *Gate) TryAcquire() (*Token, bool) {
	if !g.sem.TryAcquire(1) {
		gateRejectionsTotal.Inc()
		return nil, false
	}
	g.held.Store(true)
	gateHeld.Set(1)
	return &Token{gate: g, acquiredAt: g.now()}, true
}

// Held reports whether a session currently holds the gate.
func (g *Gate) Held() bool {
	return g.held.Load()
}

func (g *Gate) release(acquiredAt time.Time) {
	g.held.Store(false)
	gateHeld.Set(0)
	gateHoldSeconds.Observe(g.now().Sub(acquiredAt).Seconds())
	g.sem.Release(1)
}

// Token is the exclusive right to call the provider. Whoever holds it must
// Release it exactly once; extra calls are no-ops.
type Token struct {
	gate       *Gate
	acquiredAt time.Time
	once       sync.Once
}

// Release reopens the gate.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.gate.release(t.acquiredAt)
	})
}

// AcquiredAt returns when the token was taken.
func (t *Token) AcquiredAt() time.Time {
	return t.acquiredAt
}
