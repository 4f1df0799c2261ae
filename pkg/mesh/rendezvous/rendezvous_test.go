package rendezvous

import (
	"context"
	"testing"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

type fakeLocalStore struct {
	existing map[string]bool
	unsynced []types.Message
	synced   []string
}

func (f *fakeLocalStore) MessageExists(ctx context.Context, id string) (bool, error) {
	return f.existing[id], nil
}

func (f *fakeLocalStore) UnsyncedMessages(ctx context.Context) ([]types.Message, error) {
	return f.unsynced, nil
}

func (f *fakeLocalStore) MarkSynced(ctx context.Context, id string) error {
	f.synced = append(f.synced, id)
	return nil
}

type fakeRelay struct {
	uploaded []Record
	toFetch  []Record
}

func (f *fakeRelay) Upload(ctx context.Context, r Record) error {
	f.uploaded = append(f.uploaded, r)
	return nil
}

func (f *fakeRelay) FetchFor(ctx context.Context, receiverID string) ([]Record, error) {
	var out []Record
	for _, r := range f.toFetch {
		if r.ReceiverID == receiverID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeAdmitter struct {
	admitted []Record
}

func (f *fakeAdmitter) AdmitRecord(ctx context.Context, r Record) {
	f.admitted = append(f.admitted, r)
}

func TestSyncUploadsUnsyncedMessages(t *testing.T) {
	local := &fakeLocalStore{existing: map[string]bool{}, unsynced: []types.Message{
		{ID: "MSG1", SenderID: "LOCALAAA", ReceiverID: "REMOTEBB", Content: "hi"},
	}}
	relay := &fakeRelay{}
	admitter := &fakeAdmitter{}
	s := New("LOCALAAA", local, relay, admitter)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(relay.uploaded) != 1 || relay.uploaded[0].MessageID != "MSG1" {
		t.Fatalf("expected one upload, got %+v", relay.uploaded)
	}
	if len(local.synced) != 1 || local.synced[0] != "MSG1" {
		t.Fatalf("expected MSG1 marked synced, got %+v", local.synced)
	}
}

func TestSyncAdmitsOnlyUnknownFetchedRecords(t *testing.T) {
	local := &fakeLocalStore{existing: map[string]bool{"MSG_KNOWN": true}}
	relay := &fakeRelay{toFetch: []Record{
		{MessageID: "MSG_KNOWN", ReceiverID: "LOCALAAA"},
		{MessageID: "MSG_NEW", ReceiverID: "LOCALAAA"},
		{MessageID: "MSG_OTHER", ReceiverID: "SOMEONEELSE"},
	}}
	admitter := &fakeAdmitter{}
	s := New("LOCALAAA", local, relay, admitter)

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(admitter.admitted) != 1 || admitter.admitted[0].MessageID != "MSG_NEW" {
		t.Fatalf("expected only MSG_NEW admitted, got %+v", admitter.admitted)
	}
	if len(local.synced) != 1 || local.synced[0] != "MSG_NEW" {
		t.Fatalf("expected MSG_NEW marked synced after admission so upload() never bounces it back to the relay it came from, got %+v", local.synced)
	}
}
