package model

import "sync"

// EWMA is a thread-safe exponentially-weighted moving average, used by the
// Metrics Worker and OHLCV Worker to track per-trade processing cost
// without the overhead of a full histogram.
type EWMA struct {
	mu          sync.Mutex
	alpha       float64
	value       float64
	initialized bool
}

// NewEWMA constructs an EWMA with smoothing factor alpha in (0, 1]; a
// larger alpha weights recent samples more heavily.
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{alpha: alpha}
}

// Observe folds sample into the running average.
func (e *EWMA) Observe(sample float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		e.value = sample
		e.initialized = true
		return
	}
	e.value = e.alpha*sample + (1-e.alpha)*e.value
}

// Value returns the current average.
func (e *EWMA) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}
