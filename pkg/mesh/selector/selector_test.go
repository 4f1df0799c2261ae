package selector

import (
	"testing"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

func TestSelectFiltersUnavailableTransports(t *testing.T) {
	s := New()
	s.MarkAvailable(types.TransportLocal, true)
	// everything else stays unavailable
	got := s.Select("PEER0001")
	if len(got) != 1 || got[0] != types.TransportLocal {
		t.Fatalf("expected only local transport, got %v", got)
	}
}

func TestSelectOrdersByBiasWhenMetricsAreEqual(t *testing.T) {
	s := New()
	for _, tr := range types.AllTransports {
		s.MarkAvailable(tr, true)
	}
	got := s.Select("PEER0001")
	want := []types.Transport{types.TransportInternet, types.TransportLocal, types.TransportNative, types.TransportRendezvous}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestRecordSuccessCapsReliabilityAt100(t *testing.T) {
	s := New()
	for i := 0; i < 30; i++ {
		s.RecordSuccess(types.TransportLocal)
	}
	if m := s.Metrics(types.TransportLocal); m.Reliability != 100 {
		t.Fatalf("expected reliability capped at 100, got %v", m.Reliability)
	}
}

func TestRecordFailureFloorsReliabilityAt0(t *testing.T) {
	s := New()
	for i := 0; i < 30; i++ {
		s.RecordFailure(types.TransportLocal)
	}
	if m := s.Metrics(types.TransportLocal); m.Reliability != 0 {
		t.Fatalf("expected reliability floored at 0, got %v", m.Reliability)
	}
}

func TestPeerSupportBoostsScore(t *testing.T) {
	s := New()
	s.MarkAvailable(types.TransportLocal, true)
	s.MarkAvailable(types.TransportRendezvous, true)
	s.ObservePeerTransport("PEER0001", types.TransportRendezvous)

	got := s.Select("PEER0001")
	if got[0] != types.TransportRendezvous {
		t.Fatalf("expected peer-supported transport to outrank higher-bias one, got %v", got)
	}
}

func TestRecentSuccessBoostsScore(t *testing.T) {
	s := New()
	s.MarkAvailable(types.TransportLocal, true)
	s.MarkAvailable(types.TransportRendezvous, true)

	fixed := time.Now()
	s.now = func() time.Time { return fixed }
	s.RecordSuccess(types.TransportRendezvous)

	got := s.Select("PEER0001")
	if got[0] != types.TransportRendezvous {
		t.Fatalf("expected recently-successful transport to outrank higher-bias one, got %v", got)
	}
}
