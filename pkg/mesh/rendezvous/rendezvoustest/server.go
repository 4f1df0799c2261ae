// Package rendezvoustest provides an in-memory fake of the rendezvous
// relay's durable record store, for integration tests that need a
// RecordStore without standing up a real relay process.
package rendezvoustest

import (
	"context"
	"sync"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/rendezvous"
)

// FakeRelay is an in-memory rendezvous.RecordStore.
type FakeRelay struct {
	mu      sync.Mutex
	records map[string]rendezvous.Record
}

// NewFakeRelay returns an empty FakeRelay.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{records: make(map[string]rendezvous.Record)}
}

// Upload implements rendezvous.RecordStore.
func (f *FakeRelay) Upload(ctx context.Context, r rendezvous.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[r.MessageID] = r
	return nil
}

// FetchFor implements rendezvous.RecordStore.
func (f *FakeRelay) FetchFor(ctx context.Context, receiverID string) ([]rendezvous.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rendezvous.Record
	for _, r := range f.records {
		if r.ReceiverID == receiverID {
			out = append(out, r)
		}
	}
	return out, nil
}

// All returns every record currently held, for test assertions.
func (f *FakeRelay) All() []rendezvous.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rendezvous.Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out
}
