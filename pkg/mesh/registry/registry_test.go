package registry

import (
	"testing"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

func TestObserveMergesSignalStrengthAsMax(t *testing.T) {
	r := New("SELFSELF", 15*time.Second, 60*time.Second, 0)
	r.Observe(types.Device{ID: "PEER0001", Name: "Alice", SignalStrength: 40}, types.TransportLocal)
	merged := r.Observe(types.Device{ID: "PEER0001", Name: "Alice", SignalStrength: 20}, types.TransportLocal)
	if merged.SignalStrength != 40 {
		t.Fatalf("expected signal strength to stay at max 40, got %d", merged.SignalStrength)
	}
}

func TestObserveNeverDowngradesConcreteNameToGeneric(t *testing.T) {
	r := New("SELFSELF", 15*time.Second, 60*time.Second, 0)
	r.Observe(types.Device{ID: "PEER0001", Name: "Alice"}, types.TransportLocal)
	merged := r.Observe(types.Device{ID: "PEER0001", Name: "MeshUser-PEER0001"}, types.TransportInternet)
	if merged.Name != "Alice" {
		t.Fatalf("expected concrete name to survive a generic re-observation, got %q", merged.Name)
	}
}

func TestObserveOrsConnectionFlags(t *testing.T) {
	r := New("SELFSELF", 15*time.Second, 60*time.Second, 0)
	r.Observe(types.Device{ID: "PEER0001", IsConnected: true, IsOnline: true}, types.TransportLocal)
	merged := r.Observe(types.Device{ID: "PEER0001", IsConnected: false, IsOnline: false}, types.TransportInternet)
	if !merged.IsConnected || !merged.IsOnline {
		t.Fatalf("expected connection flags to stay true once set, got connected=%v online=%v", merged.IsConnected, merged.IsOnline)
	}
}

func TestSweepMarksHardTimeoutAsLost(t *testing.T) {
	r := New("SELFSELF", 10*time.Millisecond, 10*time.Millisecond, 0)
	var lost []types.Device
	r.OnLost(func(d types.Device) { lost = append(lost, d) })

	fixed := time.Now()
	r.now = func() time.Time { return fixed }
	r.Observe(types.Device{ID: "PEER0001", IsConnected: true, IsOnline: true}, types.TransportLocal)

	r.now = func() time.Time { return fixed.Add(31 * time.Millisecond) } // > 3x soft
	r.sweepOnce()

	if len(lost) != 1 || lost[0].ID != "PEER0001" {
		t.Fatalf("expected PEER0001 to be reported lost, got %+v", lost)
	}
	d, ok := r.Get("PEER0001")
	if !ok {
		t.Fatalf("expected device to remain known after hard timeout")
	}
	if d.IsOnline || d.IsConnected {
		t.Fatalf("expected device to be marked offline after hard timeout")
	}
}

func TestSweepMarksSoftTimeoutAsDisconnectedButStillOnline(t *testing.T) {
	r := New("SELFSELF", 10*time.Millisecond, 10*time.Millisecond, 0)
	var updated []types.Device
	r.OnUpdated(func(d types.Device) { updated = append(updated, d) })

	fixed := time.Now()
	r.now = func() time.Time { return fixed }
	r.Observe(types.Device{ID: "PEER0001", IsConnected: true, IsOnline: true}, types.TransportLocal)
	updated = nil // drop the Observe-triggered update, sweepOnce's is what this test checks

	r.now = func() time.Time { return fixed.Add(15 * time.Millisecond) } // > soft, < hard
	r.sweepOnce()

	d, _ := r.Get("PEER0001")
	if d.IsConnected {
		t.Fatalf("expected device to be disconnected past soft timeout")
	}
	if !d.IsOnline {
		t.Fatalf("expected device to remain online until hard timeout")
	}
	if len(updated) != 1 || updated[0].ID != "PEER0001" {
		t.Fatalf("expected onUpdated to fire once for the soft-timeout crossing, got %+v", updated)
	}
	if updated[0].IsConnected {
		t.Fatalf("expected the onUpdated payload to reflect is_connected=false")
	}
}

func TestSweepDoesNotRefireOnUpdatedForAnAlreadyDisconnectedDevice(t *testing.T) {
	r := New("SELFSELF", 10*time.Millisecond, 10*time.Millisecond, 0)
	var updated []types.Device
	r.OnUpdated(func(d types.Device) { updated = append(updated, d) })

	fixed := time.Now()
	r.now = func() time.Time { return fixed }
	r.Observe(types.Device{ID: "PEER0001", IsConnected: true, IsOnline: true}, types.TransportLocal)
	updated = nil

	r.now = func() time.Time { return fixed.Add(15 * time.Millisecond) }
	r.sweepOnce()
	if len(updated) != 1 {
		t.Fatalf("expected exactly one onUpdated after the first soft-timeout sweep, got %d", len(updated))
	}

	// A later sweep, still short of the hard timeout, must not refire
	// onUpdated for a device already marked disconnected.
	r.now = func() time.Time { return fixed.Add(20 * time.Millisecond) }
	r.sweepOnce()
	if len(updated) != 1 {
		t.Fatalf("expected no additional onUpdated once already disconnected, got %d", len(updated))
	}
}

func TestConfiguredHardTimeoutOverridesDynamicThreeXSoft(t *testing.T) {
	// Remote soft timeout is 1 hour (3x = 3h), but an explicit
	// HardPeerTimeout of 20ms must win over that dynamic formula.
	r := New("SELFSELF", 10*time.Millisecond, 1*time.Hour, 20*time.Millisecond)
	var lost []types.Device
	r.OnLost(func(d types.Device) { lost = append(lost, d) })

	fixed := time.Now()
	r.now = func() time.Time { return fixed }
	r.Observe(types.Device{ID: "PEER0001", IsConnected: true, IsOnline: true}, types.TransportInternet)

	r.now = func() time.Time { return fixed.Add(25 * time.Millisecond) }
	r.sweepOnce()

	if len(lost) != 1 || lost[0].ID != "PEER0001" {
		t.Fatalf("expected the configured hard timeout to trigger onLost, got %+v", lost)
	}
}

func TestRemoteTransportUsesRemoteSoftTimeout(t *testing.T) {
	r := New("SELFSELF", 10*time.Millisecond, 1*time.Hour, 0)
	fixed := time.Now()
	r.now = func() time.Time { return fixed }
	r.Observe(types.Device{ID: "PEER0001", IsConnected: true, IsOnline: true}, types.TransportInternet)

	r.now = func() time.Time { return fixed.Add(50 * time.Millisecond) }
	r.sweepOnce()

	d, _ := r.Get("PEER0001")
	if !d.IsConnected {
		t.Fatalf("expected remote-observed device to keep its much longer soft timeout")
	}
}
