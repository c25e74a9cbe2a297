package pipeline

import (
	"sync"
	"sync/atomic"
)

// Metrics contains per-run counters. Counters are atomic so Stats can be
// read while the run is in progress.
type Metrics struct {
	RunID string

	Received     atomic.Uint64
	Filtered     atomic.Uint64
	Decoded      atomic.Uint64
	DecodeErrors atomic.Uint64
	Located      atomic.Uint64
	LocateErrors atomic.Uint64
	Emitted      atomic.Uint64
	EmitErrors   atomic.Uint64

	mu         sync.Mutex
	rejections map[string]uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(runID string) *Metrics {
	return &Metrics{
		RunID:      runID,
		rejections: make(map[string]uint64),
	}
}

// Reject counts one rejection under reason.
func (m *Metrics) Reject(reason string) {
	m.mu.Lock()
	m.rejections[reason]++
	m.mu.Unlock()
}

// Rejections returns a copy of the rejection counts by reason.
func (m *Metrics) Rejections() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.rejections))
	for k, v := range m.rejections {
		out[k] = v
	}
	return out
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Filtered.Store(0)
	m.Decoded.Store(0)
	m.DecodeErrors.Store(0)
	m.Located.Store(0)
	m.LocateErrors.Store(0)
	m.Emitted.Store(0)
	m.EmitErrors.Store(0)

	m.mu.Lock()
	m.rejections = make(map[string]uint64)
	m.mu.Unlock()
}
