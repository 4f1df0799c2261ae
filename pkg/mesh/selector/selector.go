// Package selector implements the transport selector described in
// spec.md §4.6: it scores each registered transport for a given peer and
// returns an ordered attempt list with graceful fallback.
//
// Grounded on the teacher's pkg/mcast/core.Transport in contract shape
// (a narrow interface the rest of the system depends on, with a single
// owning struct holding whatever state backs it) but the scoring formula
// itself is spec.md §4.6's, which has no analog in the teacher's
// single-transport design.
package selector

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// Bias values per spec.md §4.6.
const (
	biasInternet   = 20 // P2P-over-internet
	biasLocal      = 15 // LAN broadcast
	biasNative     = 10 // native wireless peer-to-peer
	biasRendezvous = 5  // network relay
)

func transportBias(t types.Transport) float64 {
	switch t {
	case types.TransportInternet:
		return biasInternet
	case types.TransportLocal:
		return biasLocal
	case types.TransportNative:
		return biasNative
	case types.TransportRendezvous:
		return biasRendezvous
	default:
		return 0
	}
}

// Metrics is the per-transport state the selector scores against, per
// spec.md §3's transport metrics shape.
type Metrics struct {
	Available    bool
	Enabled      bool
	DeviceCount  int
	LatencyHint  time.Duration // in milliseconds' worth of latency
	Reliability  float64       // 0-100
	LastSuccess  time.Time
	FailureCount int
}

// Selector holds the transport-metrics table. Per spec.md §5, it is the
// only writer of transport metrics; RecordSuccess/RecordFailure are the
// only paths that change a transport's reliability.
type Selector struct {
	mu      sync.Mutex
	metrics map[types.Transport]*Metrics
	// peerSupports reports, per peer and transport, whether that peer has
	// ever been observed over that transport (the "peer supports t" term
	// of the scoring formula).
	peerSupports map[string]map[types.Transport]bool
	now          func() time.Time
}

// New returns a Selector with every known transport registered but
// unavailable until MarkAvailable is called.
func New() *Selector {
	s := &Selector{
		metrics:      make(map[types.Transport]*Metrics),
		peerSupports: make(map[string]map[types.Transport]bool),
		now:          time.Now,
	}
	for _, t := range types.AllTransports {
		s.metrics[t] = &Metrics{Enabled: true}
	}
	return s
}

// MarkAvailable records a transport driver's on_available_changed signal.
func (s *Selector) MarkAvailable(t types.Transport, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked(t)
	m.Available = available
}

// SetDeviceCount records how many peers a transport currently sees, per
// driver heartbeat.
func (s *Selector) SetDeviceCount(t types.Transport, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsLocked(t).DeviceCount = count
}

// SetLatencyHint records a transport's current latency estimate.
func (s *Selector) SetLatencyHint(t types.Transport, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsLocked(t).LatencyHint = latency
}

// ObservePeerTransport records that peerID has been seen over transport t,
// feeding the "peer supports t" scoring term.
func (s *Selector) ObservePeerTransport(peerID string, t types.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.peerSupports[peerID]
	if !ok {
		m = make(map[types.Transport]bool)
		s.peerSupports[peerID] = m
	}
	m[t] = true
}

// RecordSuccess bumps a transport's reliability by 5 (capped at 100) and
// records the success time.
func (s *Selector) RecordSuccess(t types.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked(t)
	m.Reliability = math.Min(100, m.Reliability+5)
	m.LastSuccess = s.now()
}

// RecordFailure drops a transport's reliability by 10 (floored at 0) and
// increments its failure count.
func (s *Selector) RecordFailure(t types.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked(t)
	m.Reliability = math.Max(0, m.Reliability-10)
	m.FailureCount++
}

func (s *Selector) metricsLocked(t types.Transport) *Metrics {
	m, ok := s.metrics[t]
	if !ok {
		m = &Metrics{Enabled: true}
		s.metrics[t] = m
	}
	return m
}

// Metrics returns a copy of a transport's current metrics, for diagnostics.
func (s *Selector) Metrics(t types.Transport) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.metricsLocked(t)
}

type scored struct {
	transport types.Transport
	score     float64
}

// Select scores every enabled transport for peerID and returns up to four
// candidates: the primary plus up to three fallbacks, ordered by
// descending score. Unavailable or disabled transports are filtered out
// entirely, per spec.md §4.6 ("score = -inf").
func (s *Selector) Select(peerID string) []types.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	supports := s.peerSupports[peerID]

	var ranked []scored
	for t, m := range s.metrics {
		if !m.Enabled || !m.Available {
			continue
		}
		score := m.Reliability
		score += math.Max(0, 50-float64(m.LatencyHint.Milliseconds())/10)
		if supports != nil && supports[t] {
			score += 50
		}
		if !m.LastSuccess.IsZero() {
			age := now.Sub(m.LastSuccess)
			if age < 60*time.Second {
				score += 30
			} else if age < 300*time.Second {
				score += 15
			}
		}
		score -= 10 * float64(m.FailureCount)
		score += math.Min(20, 2*float64(m.DeviceCount))
		score += transportBias(t)
		ranked = append(ranked, scored{transport: t, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	limit := 4
	if len(ranked) < limit {
		limit = len(ranked)
	}
	out := make([]types.Transport, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].transport
	}
	return out
}
