// Package delivery implements the at-least-once delivery pipeline
// described in spec.md §4.5: user-level send, status lifecycle, the
// durable pending-retry table, exponential-backoff retries, and
// reconnect drain.
//
// Grounded on the teacher's pkg/mcast/core.Peer.Command/finishMessageProcessing
// for the overall request lifecycle shape (build, attempt, await
// confirmation, time out and retry) generalized from the teacher's
// single-round quorum wait to spec.md §4.5's open-ended exponential
// backoff against an arbitrary transport, which the teacher's protocol
// has no equivalent of.
package delivery

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/codec"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/selector"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// DefaultRetryBase, DefaultRetryFactor, DefaultRetryCap and
// DefaultMaxRetries implement spec.md §4.5's
// formula min(2000 * 1.5^retries, 60000)ms, capped at 20 retries, unless
// overridden by Config.
const (
	DefaultRetryBase   = 2000 * time.Millisecond
	DefaultRetryFactor = 1.5
	DefaultRetryCap    = 60000 * time.Millisecond
	DefaultMaxRetries  = 20
	// DefaultReconnectDrainFloor is the minimum age a pending-retry entry must
	// have before the reconnect drain re-emits it, per spec.md §4.5.
	DefaultReconnectDrainFloor = 10 * time.Second
)

// Store is the narrow slice of store.Store the delivery pipeline needs.
type Store interface {
	SaveMessage(ctx context.Context, m types.Message) error
	SavePendingRetry(ctx context.Context, p types.PendingRetry) error
	DeletePendingRetry(ctx context.Context, id string) error
	LoadPendingRetries(ctx context.Context) ([]types.PendingRetry, error)
}

// Sender emits a packet onto one of the transports the selector names, by
// broadcasting it the same way the routing engine emits a relay (see
// spec.md §4.4): the origin generally has no direct session with the
// final receiver in a multi-hop mesh, so origination and relay both
// fan out and let flood-relay carry the packet the rest of the way.
// Core implements this over its registered transport drivers.
type Sender interface {
	Broadcast(ctx context.Context, t types.Transport, payload []byte) error
}

// Handlers mirror spec.md §6's message-status events.
type Handlers struct {
	OnMessageStatusChanged func(types.Message)
	// OnRetryAttempted fires once per backoff-driven resend, ahead of the
	// send attempt itself (regardless of whether it succeeds) — purely an
	// observability hook, never consulted for control flow.
	OnRetryAttempted func()
}

// timer is the Stop-only view of a retry timer. Pending entries hold a
// concrete *time.Timer; tests drive retries by calling fireRetry directly.
type timer interface {
	Stop() bool
}

type pending struct {
	entry types.PendingRetry
	timer *time.Timer
}

// Pipeline is the delivery pipeline. It is the sole writer of the
// pending-retry table, per spec.md §5.
type Pipeline struct {
	localID  string
	maxTTL   int
	store    Store
	selector *selector.Selector
	sender   Sender
	handlers Handlers

	retryBase   time.Duration
	retryFactor float64
	retryCap    time.Duration
	maxRetries  int
	drainFloor  time.Duration

	mu      sync.Mutex
	pending map[string]*pending

	now func() time.Time
}

// New builds a Pipeline from cfg's retry tunables.
func New(localID string, cfg types.Config, store Store, sel *selector.Selector, sender Sender, handlers Handlers) *Pipeline {
	p := &Pipeline{
		localID:     localID,
		maxTTL:      cfg.MaxTTL,
		store:       store,
		selector:    sel,
		sender:      sender,
		handlers:    handlers,
		retryBase:   orDefault(cfg.RetryBase, DefaultRetryBase),
		retryFactor: orDefaultFloat(cfg.RetryFactor, DefaultRetryFactor),
		retryCap:    orDefault(cfg.RetryCap, DefaultRetryCap),
		maxRetries:  orDefaultInt(cfg.MaxRetries, DefaultMaxRetries),
		drainFloor:  orDefault(cfg.ReconnectDrainFloor, DefaultReconnectDrainFloor),
		pending:     make(map[string]*pending),
		now:         time.Now,
	}
	return p
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Send implements spec.md §4.5's send(content, receiver_id).
func (p *Pipeline) Send(ctx context.Context, content, receiverID string) (string, error) {
	pkt, err := codec.NewOriginPacket(types.Message, p.localID, receiverID, content, p.maxTTL)
	if err != nil {
		return "", err
	}

	msg := types.Message{
		ID:         pkt.ID,
		Content:    content,
		SenderID:   p.localID,
		ReceiverID: receiverID,
		Timestamp:  pkt.Timestamp,
		Hops:       pkt.Hops,
		Status:     types.StatusSending,
	}
	_ = p.store.SaveMessage(ctx, msg)

	payload, err := codec.Encode(pkt)
	if err != nil {
		return "", err
	}

	if t, ok := p.attemptSend(ctx, receiverID, payload); ok {
		msg.Status = types.StatusSent
		_ = p.store.SaveMessage(ctx, msg)
		p.armPending(ctx, types.PendingRetry{ID: pkt.ID, Packet: pkt, Retries: 0, LastAttempt: p.now()}, receiverID)
		p.selector.RecordSuccess(t)
		p.notify(msg)
		return pkt.ID, nil
	}

	msg.Status = types.StatusQueued
	_ = p.store.SaveMessage(ctx, msg)
	p.armPending(ctx, types.PendingRetry{ID: pkt.ID, Packet: pkt, Retries: 0, LastAttempt: p.now()}, receiverID)
	p.notify(msg)
	return pkt.ID, nil
}

// ForceRetry implements spec.md §6's retry_message(message_id) → bool: it
// immediately re-attempts delivery for a pending entry, bypassing the
// reconnect-drain floor, and reports whether a pending entry existed.
func (p *Pipeline) ForceRetry(ctx context.Context, messageID string) bool {
	p.mu.Lock()
	pe, ok := p.pending[messageID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	payload, err := codec.Encode(pe.entry.Packet)
	if err != nil {
		return false
	}
	if t, ok := p.attemptSend(ctx, pe.entry.Packet.TargetID, payload); ok {
		p.selector.RecordSuccess(t)
		p.mu.Lock()
		pe.entry.LastAttempt = p.now()
		p.mu.Unlock()
		_ = p.store.SavePendingRetry(ctx, pe.entry)
	}
	return true
}

// attemptSend tries every transport the selector names for peerID, in
// order, broadcasting payload on each until one accepts it.
func (p *Pipeline) attemptSend(ctx context.Context, peerID string, payload []byte) (types.Transport, bool) {
	for _, t := range p.selector.Select(peerID) {
		if err := p.sender.Broadcast(ctx, t, payload); err == nil {
			return t, true
		}
		p.selector.RecordFailure(t)
	}
	return "", false
}

// armPending records a pending-retry entry and schedules its backoff
// timer. peerID is remembered for re-emission since Packet alone does not
// carry a stable routing target distinct from TargetID in the general
// relay case, but for originated MESSAGE packets TargetID is the peerID.
func (p *Pipeline) armPending(ctx context.Context, entry types.PendingRetry, peerID string) {
	_ = p.store.SavePendingRetry(ctx, entry)
	p.mu.Lock()
	pe := &pending{entry: entry}
	p.pending[entry.ID] = pe
	p.mu.Unlock()
	p.scheduleRetry(entry.ID, peerID, entry.Retries)
}

func (p *Pipeline) scheduleRetry(packetID, peerID string, retries int) {
	delay := p.backoff(retries)
	t := time.AfterFunc(delay, func() {
		p.fireRetry(packetID, peerID)
	})
	p.mu.Lock()
	if pe, ok := p.pending[packetID]; ok {
		pe.timer = t
	} else {
		t.Stop()
	}
	p.mu.Unlock()
}

func (p *Pipeline) backoff(retries int) time.Duration {
	ms := float64(p.retryBase.Milliseconds()) * math.Pow(p.retryFactor, float64(retries))
	capMs := float64(p.retryCap.Milliseconds())
	if ms > capMs {
		ms = capMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (p *Pipeline) fireRetry(packetID, peerID string) {
	p.mu.Lock()
	pe, ok := p.pending[packetID]
	p.mu.Unlock()
	if !ok {
		return // an ACK already cancelled this entry
	}

	if pe.entry.Retries >= p.maxRetries {
		p.mu.Lock()
		delete(p.pending, packetID)
		p.mu.Unlock()
		ctx := context.Background()
		_ = p.store.DeletePendingRetry(ctx, packetID)
		p.notify(types.Message{ID: packetID, Status: types.StatusFailed})
		return
	}

	if p.handlers.OnRetryAttempted != nil {
		p.handlers.OnRetryAttempted()
	}

	ctx := context.Background()
	payload, err := codec.Encode(pe.entry.Packet)
	if err == nil {
		if t, ok := p.attemptSend(ctx, peerID, payload); ok {
			p.selector.RecordSuccess(t)
		}
	}

	p.mu.Lock()
	pe.entry.Retries++
	pe.entry.LastAttempt = p.now()
	p.mu.Unlock()
	_ = p.store.SavePendingRetry(ctx, pe.entry)
	p.scheduleRetry(packetID, peerID, pe.entry.Retries)
}

// HandleAck implements routing.AckWaiter: it cancels the pending-retry
// entry for packetID, if any, and reports whether one existed.
func (p *Pipeline) HandleAck(packetID string) bool {
	p.mu.Lock()
	pe, ok := p.pending[packetID]
	if ok {
		delete(p.pending, packetID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	if pe.timer != nil {
		pe.timer.Stop()
	}
	_ = p.store.DeletePendingRetry(context.Background(), packetID)
	return true
}

// DrainOnReconnect implements spec.md §4.5's reconnect drain: it re-emits
// every pending-retry entry whose last attempt is older than the drain
// floor, avoiding a thundering herd immediately after a transport comes
// back.
func (p *Pipeline) DrainOnReconnect(ctx context.Context) {
	now := p.now()
	p.mu.Lock()
	var due []*pending
	for _, pe := range p.pending {
		if now.Sub(pe.entry.LastAttempt) >= p.drainFloor {
			due = append(due, pe)
		}
	}
	p.mu.Unlock()

	for _, pe := range due {
		payload, err := codec.Encode(pe.entry.Packet)
		if err != nil {
			continue
		}
		if t, ok := p.attemptSend(ctx, pe.entry.Packet.TargetID, payload); ok {
			p.selector.RecordSuccess(t)
			p.mu.Lock()
			pe.entry.LastAttempt = p.now()
			p.mu.Unlock()
			_ = p.store.SavePendingRetry(ctx, pe.entry)
		}
	}
}

// LoadPending restores the pending-retry table from durable storage on
// startup and re-arms a timer for each entry.
func (p *Pipeline) LoadPending(ctx context.Context) error {
	entries, err := p.store.LoadPendingRetries(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	for _, e := range entries {
		p.pending[e.ID] = &pending{entry: e}
	}
	p.mu.Unlock()
	for _, e := range entries {
		p.scheduleRetry(e.ID, e.Packet.TargetID, e.Retries)
	}
	return nil
}

// Stop cancels every in-flight retry timer. Pending entries remain
// durable and resume on the next LoadPending.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pe := range p.pending {
		if pe.timer != nil {
			pe.timer.Stop()
		}
	}
}

func (p *Pipeline) notify(m types.Message) {
	if p.handlers.OnMessageStatusChanged != nil {
		p.handlers.OnMessageStatusChanged(m)
	}
}
