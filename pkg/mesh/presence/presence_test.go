package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

type fakeBroadcaster struct {
	mu    sync.Mutex
	count int
}

func (f *fakeBroadcaster) BroadcastAll(ctx context.Context, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
}

func (f *fakeBroadcaster) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func TestStartEmitsImmediateAnnounce(t *testing.T) {
	b := &fakeBroadcaster{}
	cfg := types.DefaultConfig()
	cfg.AnnouncePeriod = time.Hour
	l := New("LOCALAAA", cfg, b, func() SelfDescription { return SelfDescription{Name: "me"} })
	l.Start(context.Background())
	defer l.Stop()

	if b.Count() != 1 {
		t.Fatalf("expected exactly one immediate announce, got %d", b.Count())
	}
}

func TestOnPeerObservedAnnouncesOnlyOnFirstSighting(t *testing.T) {
	b := &fakeBroadcaster{}
	cfg := types.DefaultConfig()
	cfg.AnnouncePeriod = time.Hour
	l := New("LOCALAAA", cfg, b, func() SelfDescription { return SelfDescription{} })
	l.Start(context.Background())
	defer l.Stop()

	before := b.Count()
	l.OnPeerObserved(context.Background(), "PEER0001")
	afterFirst := b.Count()
	l.OnPeerObserved(context.Background(), "PEER0001")
	afterSecond := b.Count()

	if afterFirst != before+1 {
		t.Fatalf("expected one extra announce on first sighting, before=%d after=%d", before, afterFirst)
	}
	if afterSecond != afterFirst {
		t.Fatalf("expected no extra announce on repeat sighting, got %d -> %d", afterFirst, afterSecond)
	}
}

func TestStartScanningEmitsBurst(t *testing.T) {
	b := &fakeBroadcaster{}
	cfg := types.DefaultConfig()
	cfg.AnnouncePeriod = time.Hour
	l := New("LOCALAAA", cfg, b, func() SelfDescription { return SelfDescription{} })

	before := b.Count()
	ctx, cancel := context.WithCancel(context.Background())
	l.StartScanning(ctx)
	time.Sleep(50 * time.Millisecond)
	l.StopScanning()
	cancel()
	l.Stop()

	if b.Count() <= before {
		t.Fatalf("expected discover burst to emit at least one packet")
	}
}
