// Package presence implements the ANNOUNCE/DISCOVER presence and
// discovery loop described in spec.md §4.7.
//
// Grounded on the teacher's pkg/mcast/core.Peer.poll for its ticking
// goroutine shape (a single loop selecting between a ticker channel and a
// stop channel) generalized from the teacher's internal heartbeat to
// spec.md §4.7's periodic ANNOUNCE plus a bursty DISCOVER scanning mode,
// which the teacher's protocol has no equivalent of.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/codec"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// DiscoverBurstInterval and DiscoverBurstDuration implement spec.md
// §4.7's "DISCOVER packet every 1s for 5s" scanning burst.
const (
	DiscoverBurstInterval = 1 * time.Second
	DiscoverBurstDuration = 5 * time.Second
)

// Broadcaster emits an already-encoded packet to every reachable peer on
// every available transport. Core implements this over its transport
// drivers.
type Broadcaster interface {
	BroadcastAll(ctx context.Context, payload []byte)
}

// SelfDescription is this node's own presence payload, per spec.md §4.7:
// {name, type, brand_hint, os_hint}.
type SelfDescription struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BrandHint string `json:"brand_hint"`
	OSHint    string `json:"os_hint"`
}

// Loop drives periodic ANNOUNCE emission, scanning-mode DISCOVER bursts,
// and responsive ANNOUNCE-on-ANNOUNCE-from-unknown-peer.
type Loop struct {
	localID     string
	maxTTL      int
	announcePer time.Duration
	broadcaster Broadcaster
	describe    func() SelfDescription

	mu          sync.Mutex
	known       map[string]struct{}
	stop        chan struct{}
	wg          sync.WaitGroup
	scanCancel  context.CancelFunc
}

// New builds a presence Loop.
func New(localID string, cfg types.Config, broadcaster Broadcaster, describe func() SelfDescription) *Loop {
	period := cfg.AnnouncePeriod
	if period <= 0 {
		period = 3 * time.Second
	}
	return &Loop{
		localID:     localID,
		maxTTL:      cfg.MaxTTL,
		announcePer: period,
		broadcaster: broadcaster,
		describe:    describe,
		known:       make(map[string]struct{}),
		stop:        make(chan struct{}),
	}
}

// Start emits an immediate ANNOUNCE and launches the periodic loop.
func (l *Loop) Start(ctx context.Context) {
	l.announce(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		t := time.NewTicker(l.announcePer)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				l.announce(ctx)
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic loop and any in-flight scan burst.
func (l *Loop) Stop() {
	close(l.stop)
	l.mu.Lock()
	if l.scanCancel != nil {
		l.scanCancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Loop) announce(ctx context.Context) {
	desc := l.describe()
	payload, err := json.Marshal(SelfDescription{
		Name:      desc.Name,
		Type:      desc.Type,
		BrandHint: desc.BrandHint,
		OSHint:    desc.OSHint,
	})
	if err != nil {
		return
	}
	pkt, err := codec.NewOriginPacket(types.Announce, l.localID, types.WildcardTarget, string(payload), l.maxTTL)
	if err != nil {
		return
	}
	encoded, err := codec.Encode(pkt)
	if err != nil {
		return
	}
	l.broadcaster.BroadcastAll(ctx, encoded)
}

// OnPeerObserved implements the registry's OnUpdated-style hook: the first
// time a peer is seen, it triggers a one-shot ANNOUNCE to accelerate
// mutual discovery, per spec.md §4.7.
func (l *Loop) OnPeerObserved(ctx context.Context, peerID string) {
	l.mu.Lock()
	_, known := l.known[peerID]
	l.known[peerID] = struct{}{}
	l.mu.Unlock()
	if !known {
		l.announce(ctx)
	}
}

// OnAnnounceFromUnknownPeer implements spec.md §4.7's "receiving an
// ANNOUNCE from a previously-unknown peer triggers a responsive ANNOUNCE
// back (one-shot, not recursive)". Core calls this instead of
// OnPeerObserved specifically for ANNOUNCE packets, since an ANNOUNCE
// reply must never itself be treated as newly-discovered by the replying
// node (that would recurse).
func (l *Loop) OnAnnounceFromUnknownPeer(ctx context.Context, peerID string) {
	l.mu.Lock()
	_, known := l.known[peerID]
	l.known[peerID] = struct{}{}
	l.mu.Unlock()
	if !known {
		l.announce(ctx)
	}
}

// StartScanning begins a DISCOVER burst: one packet per second for five
// seconds, per spec.md §4.7. A second call while a burst is already
// running cancels the previous one first.
func (l *Loop) StartScanning(ctx context.Context) {
	l.mu.Lock()
	if l.scanCancel != nil {
		l.scanCancel()
	}
	burstCtx, cancel := context.WithTimeout(ctx, DiscoverBurstDuration)
	l.scanCancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		l.emitDiscover(burstCtx)
		t := time.NewTicker(DiscoverBurstInterval)
		defer t.Stop()
		for {
			select {
			case <-burstCtx.Done():
				return
			case <-t.C:
				l.emitDiscover(burstCtx)
			}
		}
	}()
}

// StopScanning cancels any in-flight DISCOVER burst early.
func (l *Loop) StopScanning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scanCancel != nil {
		l.scanCancel()
		l.scanCancel = nil
	}
}

func (l *Loop) emitDiscover(ctx context.Context) {
	pkt, err := codec.NewOriginPacket(types.Discover, l.localID, types.WildcardTarget, "", l.maxTTL)
	if err != nil {
		return
	}
	encoded, err := codec.Encode(pkt)
	if err != nil {
		return
	}
	l.broadcaster.BroadcastAll(ctx, encoded)
}
