// Package meshtest provides an in-memory multi-node harness for exercising
// the mesh engine end to end without a real transport or durable store,
// modeled on the teacher's test.UnityCluster (a cluster of in-process
// peers wired together for integration-level assertions) generalized from
// the teacher's fixed-replication quorum cluster to an arbitrary,
// explicitly-wired topology of mesh nodes.
package meshtest

import (
	"context"
	"sync"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/store"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// MemStore is a non-durable store.Store implementation backed by plain
// maps, used so scenario tests don't pay bbolt's file-system cost and so a
// "restart" can be modeled precisely as "construct a new Core around the
// same *MemStore".
type MemStore struct {
	mu sync.Mutex

	devices  map[string]types.Device
	messages map[string]types.Message
	pending  map[string]types.PendingRetry
	cfg      *types.Config
	nodeID   string
	name     string
	hasID    bool
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		devices:  make(map[string]types.Device),
		messages: make(map[string]types.Message),
		pending:  make(map[string]types.PendingRetry),
	}
}

func (m *MemStore) SaveDevice(ctx context.Context, d types.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
	return nil
}

func (m *MemStore) LoadDevices(ctx context.Context) ([]types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *MemStore) SaveMessage(ctx context.Context, msg types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *MemStore) MessageExists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.messages[id]
	return ok, nil
}

func (m *MemStore) MessagesForConversation(ctx context.Context, conversationKey string) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Message
	for _, msg := range m.messages {
		if types.ConversationKey(msg.SenderID, msg.ReceiverID) == conversationKey {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MemStore) UnsyncedMessages(ctx context.Context) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Message
	for _, msg := range m.messages {
		if !msg.Synced {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MemStore) MarkSynced(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil
	}
	msg.Synced = true
	m.messages[id] = msg
	return nil
}

func (m *MemStore) SavePendingRetry(ctx context.Context, p types.PendingRetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.ID] = p
	return nil
}

func (m *MemStore) DeletePendingRetry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *MemStore) LoadPendingRetries(ctx context.Context) ([]types.PendingRetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PendingRetry, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	return out, nil
}

func (m *MemStore) SaveConfig(ctx context.Context, cfg types.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cfg
	m.cfg = &c
	return nil
}

func (m *MemStore) LoadConfig(ctx context.Context) (types.Config, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg == nil {
		return types.Config{}, false, nil
	}
	return *m.cfg, true, nil
}

func (m *MemStore) SaveIdentity(ctx context.Context, nodeID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeID = nodeID
	m.name = name
	m.hasID = true
	return nil
}

func (m *MemStore) LoadIdentity(ctx context.Context) (nodeID, name string, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodeID, m.name, m.hasID, nil
}

func (m *MemStore) Close() error { return nil }

var _ store.Store = (*MemStore)(nil)
