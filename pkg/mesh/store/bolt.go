package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

var (
	bucketDevices      = []byte("devices")
	bucketMessages     = []byte("messages")
	bucketPending      = []byte("pendingMessages")
	bucketConfig       = []byte("config")
	bucketIdentity     = []byte("identity")
	bucketConvIndex    = []byte("index_conversation")
	bucketSyncedIndex  = []byte("index_synced")

	keyConfig     = []byte("config")
	keyIdentityID = []byte("node_id")
	keyIdentityNm = []byte("name")
)

// BoltStore is the durable Store implementation backed by bbolt, per
// spec.md §6's requirement for a durable key-value store. Grounded on the
// teacher's pkg/mcast/types.InMemoryStateMachine in role (the one
// component the rest of the system persists message state through) but
// genuinely durable, since the teacher's storage is an in-memory map
// wrapped for the replicated-log use case that this spec has no analog
// for.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt database at path with
// every bucket this store needs.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDurableStore, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketMessages, bucketPending, bucketConfig, bucketIdentity, bucketConvIndex, bucketSyncedIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrDurableStore, err)
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error { return b.db.Close() }

func (b *BoltStore) SaveDevice(ctx context.Context, d types.Device) error {
	return WithRetry(ctx, func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			data, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
			}
			return tx.Bucket(bucketDevices).Put([]byte(d.ID), data)
		})
	})
}

func (b *BoltStore) LoadDevices(ctx context.Context) ([]types.Device, error) {
	var out []types.Device
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(k, v []byte) error {
			var d types.Device
			if err := json.Unmarshal(v, &d); err != nil {
				return nil // best-effort on read, per spec.md §6
			}
			out = append(out, d)
			return nil
		})
	})
	if err != nil {
		return nil, nil // read failures are treated as empty, best-effort
	}
	return out, nil
}

func convIndexKey(conversationKey string, timestamp int64, id string) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d\x00%s", conversationKey, timestamp, id))
}

func (b *BoltStore) SaveMessage(ctx context.Context, m types.Message) error {
	return WithRetry(ctx, func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			data, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
			}
			if err := tx.Bucket(bucketMessages).Put([]byte(m.ID), data); err != nil {
				return err
			}
			conv := types.ConversationKey(m.SenderID, m.ReceiverID)
			if err := tx.Bucket(bucketConvIndex).Put(convIndexKey(conv, m.Timestamp, m.ID), []byte(m.ID)); err != nil {
				return err
			}
			synced := tx.Bucket(bucketSyncedIndex)
			if m.Synced {
				return synced.Delete([]byte(m.ID))
			}
			return synced.Put([]byte(m.ID), []byte{1})
		})
	})
}

func (b *BoltStore) MessageExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketMessages).Get([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return false, nil
	}
	return exists, nil
}

func (b *BoltStore) MessagesForConversation(ctx context.Context, conversationKey string) ([]types.Message, error) {
	var ids []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketConvIndex).Cursor()
		prefix := []byte(conversationKey + "\x00")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, nil
	}
	out := make([]types.Message, 0, len(ids))
	err = b.db.View(func(tx *bolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		for _, id := range ids {
			data := msgs.Get([]byte(id))
			if data == nil {
				continue
			}
			var m types.Message
			if err := json.Unmarshal(data, &m); err == nil {
				out = append(out, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (b *BoltStore) UnsyncedMessages(ctx context.Context) ([]types.Message, error) {
	var ids [][]byte
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSyncedIndex).ForEach(func(k, _ []byte) error {
			ids = append(ids, append([]byte(nil), k...))
			return nil
		})
	})
	if err != nil {
		return nil, nil
	}
	out := make([]types.Message, 0, len(ids))
	err = b.db.View(func(tx *bolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		for _, id := range ids {
			data := msgs.Get(id)
			if data == nil {
				continue
			}
			var m types.Message
			if err := json.Unmarshal(data, &m); err == nil {
				out = append(out, m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil
	}
	return out, nil
}

func (b *BoltStore) MarkSynced(ctx context.Context, id string) error {
	return WithRetry(ctx, func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			data := tx.Bucket(bucketMessages).Get([]byte(id))
			if data == nil {
				return nil
			}
			var m types.Message
			if err := json.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
			}
			m.Synced = true
			updated, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
			}
			if err := tx.Bucket(bucketMessages).Put([]byte(id), updated); err != nil {
				return err
			}
			return tx.Bucket(bucketSyncedIndex).Delete([]byte(id))
		})
	})
}

func (b *BoltStore) SavePendingRetry(ctx context.Context, p types.PendingRetry) error {
	return WithRetry(ctx, func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
			}
			return tx.Bucket(bucketPending).Put([]byte(p.ID), data)
		})
	})
}

func (b *BoltStore) DeletePendingRetry(ctx context.Context, id string) error {
	return WithRetry(ctx, func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketPending).Delete([]byte(id))
		})
	})
}

func (b *BoltStore) LoadPendingRetries(ctx context.Context) ([]types.PendingRetry, error) {
	var out []types.PendingRetry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			var p types.PendingRetry
			if err := json.Unmarshal(v, &p); err != nil {
				return nil
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, nil
	}
	return out, nil
}

func (b *BoltStore) SaveConfig(ctx context.Context, cfg types.Config) error {
	return WithRetry(ctx, func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			data, err := json.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
			}
			return tx.Bucket(bucketConfig).Put(keyConfig, data)
		})
	})
}

func (b *BoltStore) LoadConfig(ctx context.Context) (types.Config, bool, error) {
	var cfg types.Config
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get(keyConfig)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return types.Config{}, false, nil
	}
	return cfg, found, nil
}

func (b *BoltStore) SaveIdentity(ctx context.Context, nodeID, name string) error {
	return WithRetry(ctx, func() error {
		return b.db.Update(func(tx *bolt.Tx) error {
			id := tx.Bucket(bucketIdentity)
			if err := id.Put(keyIdentityID, []byte(nodeID)); err != nil {
				return err
			}
			return id.Put(keyIdentityNm, []byte(name))
		})
	})
}

func (b *BoltStore) LoadIdentity(ctx context.Context) (string, string, bool, error) {
	var nodeID, name string
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketIdentity)
		v := id.Get(keyIdentityID)
		if v == nil {
			return nil
		}
		nodeID = string(v)
		name = string(id.Get(keyIdentityNm))
		found = true
		return nil
	})
	if err != nil {
		return "", "", false, nil
	}
	return nodeID, name, found, nil
}
