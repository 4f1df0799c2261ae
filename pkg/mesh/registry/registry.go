// Package registry implements the peer registry described in spec.md §4.3:
// the merged view of every remote device this node has observed across any
// transport, with presence timeouts and observation-merge semantics.
//
// It is grounded on the teacher's pkg/mcast/core.Peer in shape only (a
// mutex-guarded map owned by a single struct, mutated through narrow
// methods and drained by a periodic sweep goroutine) — the merge and
// timeout semantics themselves come from spec.md §4.3, since the teacher's
// domain (quorum replication) has no peer-presence concept to imitate.
package registry

import (
	"sync"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// SweepInterval is how often Registry checks every known device against its
// soft/hard timeouts.
const SweepInterval = 5 * time.Second

// observation is the transport-reported sighting merged into a Device.
type observation struct {
	device    types.Device
	transport types.Transport
}

// Registry holds the merged, deduplicated view of every peer this node has
// ever observed. Devices are never deleted from it — spec.md §4.3 requires
// entries to persist (marked offline) past a hard timeout rather than be
// forgotten, so history (last-seen, connection type) survives disconnects.
type Registry struct {
	mu          sync.Mutex
	softLocal   time.Duration
	softRemote  time.Duration
	hardTimeout time.Duration
	devices     map[string]*types.Device
	lastObserve map[string]observation
	selfID      string

	onUpdated func(types.Device)
	onLost    func(types.Device)

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// New builds a Registry. softLocal/softRemote are the soft presence timeouts
// for transports observed over the local network versus remote networks,
// per spec.md §4.3. hardTimeout is the configured hard timeout
// (types.Config.HardPeerTimeout); when it is <= 0, the hard timeout falls
// back to 3x the soft timeout that applied to a device's most recent
// observation, since spec.md §4.3's "hard = 3x soft" formula does not
// collapse to a single constant when local and remote soft timeouts
// differ and no explicit value was configured.
func New(selfID string, softLocal, softRemote, hardTimeout time.Duration) *Registry {
	return &Registry{
		softLocal:   softLocal,
		softRemote:  softRemote,
		hardTimeout: hardTimeout,
		devices:     make(map[string]*types.Device),
		lastObserve: make(map[string]observation),
		selfID:      selfID,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
}

// OnUpdated registers a callback invoked whenever a device's merged state
// changes (new peer, or an existing peer re-observed).
func (r *Registry) OnUpdated(fn func(types.Device)) { r.onUpdated = fn }

// OnLost registers a callback invoked when a device crosses its hard
// timeout without being re-observed.
func (r *Registry) OnLost(fn func(types.Device)) { r.onLost = fn }

// isLocalTransport reports whether transport is carried over the local
// network, which determines which soft timeout applies.
func isLocalTransport(t types.Transport) bool {
	return t == types.TransportLocal || t == types.TransportNative
}

// Observe merges a freshly observed device into the registry per spec.md
// §4.3's merge rules:
//   - signal_strength: max of existing and incoming
//   - is_connected, is_online: OR'd
//   - last_seen: set to now
//   - connection_type: the transport of this (the newer) observation
//   - name, type: only overridden when the incoming value is non-generic
func (r *Registry) Observe(d types.Device, transport types.Transport) types.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, known := r.devices[d.ID]
	now := r.now()
	merged := d
	merged.LastSeen = now
	merged.ConnectionType = transport
	merged.IsSelf = d.ID == r.selfID

	if known {
		merged.SignalStrength = maxInt(existing.SignalStrength, d.SignalStrength)
		merged.IsConnected = existing.IsConnected || d.IsConnected
		merged.IsOnline = existing.IsOnline || d.IsOnline
		if types.IsGenericName(merged.Name) && !types.IsGenericName(existing.Name) {
			merged.Name = existing.Name
		}
		if merged.Type == "" || merged.Type == types.DeviceUnknown {
			if existing.Type != "" && existing.Type != types.DeviceUnknown {
				merged.Type = existing.Type
			}
		}
	} else {
		merged.IsOnline = true
	}

	stored := merged
	r.devices[d.ID] = &stored
	r.lastObserve[d.ID] = observation{device: stored, transport: transport}

	if r.onUpdated != nil {
		r.onUpdated(stored)
	}
	return stored
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Get returns the merged view of a device, if known.
func (r *Registry) Get(id string) (types.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return types.Device{}, false
	}
	return *d, true
}

// Snapshot returns every known device, including ones past their hard
// timeout.
func (r *Registry) Snapshot() []types.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out
}

// softTimeoutFor returns the soft presence timeout that applies to a
// device's most recent observation transport.
func (r *Registry) softTimeoutFor(id string) time.Duration {
	obs, ok := r.lastObserve[id]
	if !ok || isLocalTransport(obs.transport) {
		return r.softLocal
	}
	return r.softRemote
}

// sweepOnce marks devices past their soft timeout as disconnected (still
// online) and fires onUpdated for them, and marks devices past the hard
// timeout (the configured one if positive, else 3x the soft timeout) as
// offline and fires onLost for them.
func (r *Registry) sweepOnce() {
	r.mu.Lock()
	now := r.now()
	var lost []types.Device
	var updated []types.Device
	for id, d := range r.devices {
		soft := r.softTimeoutFor(id)
		hard := r.hardTimeout
		if hard <= 0 {
			hard = 3 * soft
		}
		age := now.Sub(d.LastSeen)
		if age >= hard {
			if d.IsOnline || d.IsConnected {
				d.IsOnline = false
				d.IsConnected = false
				lost = append(lost, *d)
			}
			continue
		}
		if age >= soft && d.IsConnected {
			d.IsConnected = false
			updated = append(updated, *d)
		}
	}
	r.mu.Unlock()

	if r.onUpdated != nil {
		for _, d := range updated {
			r.onUpdated(d)
		}
	}
	if r.onLost != nil {
		for _, d := range lost {
			r.onLost(d)
		}
	}
}

// Start launches the periodic sweep goroutine. Stop must be called to
// release it.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		t := time.NewTicker(SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				r.sweepOnce()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}
