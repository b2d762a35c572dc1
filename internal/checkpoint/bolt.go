package checkpoint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var checkpointsBucket = []byte("checkpoints")

// BoltStore keeps checkpoints in a single bbolt file, one nested bucket per
// conversation keyed by big-endian step so cursors iterate in step order.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for bolt store: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func stepKey(step int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(step))
	return k
}

// Save upserts cp.
func (s *BoltStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		conv, err := tx.Bucket(checkpointsBucket).CreateBucketIfNotExists([]byte(cp.ConversationID))
		if err != nil {
			return fmt.Errorf("conversation bucket: %w", err)
		}
		return conv.Put(stepKey(cp.Step), data)
	})
}

// Load reads the checkpoint for (conversationID, step).
func (s *BoltStore) Load(ctx context.Context, conversationID string, step int) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cp *Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		conv := tx.Bucket(checkpointsBucket).Bucket([]byte(conversationID))
		if conv == nil {
			return nil
		}
		raw := conv.Get(stepKey(step))
		if raw == nil {
			return nil
		}
		var decoded Checkpoint
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decode checkpoint: %w", err)
		}
		cp = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: %s@%d", ErrNotFound, conversationID, step)
	}
	return cp, nil
}

// List returns the stored steps for a conversation in ascending order.
func (s *BoltStore) List(ctx context.Context, conversationID string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	steps := []int{}
	err := s.db.View(func(tx *bolt.Tx) error {
		conv := tx.Bucket(checkpointsBucket).Bucket([]byte(conversationID))
		if conv == nil {
			return nil
		}
		return conv.ForEach(func(k, _ []byte) error {
			steps = append(steps, int(binary.BigEndian.Uint64(k)))
			return nil
		})
	})
	return steps, err
}
