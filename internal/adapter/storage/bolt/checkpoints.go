// Package bolt keeps a node-local copy of signed consensus checkpoints so a
// restarting replica can resume without a database.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/crabzie/swarm-coordinator/internal/core/domain"
	jsoniter "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	codec         = jsoniter.ConfigCompatibleWithStandardLibrary
	rootBucket    = []byte("checkpoints")
	defaultRetain = 16
)

// Checkpoints stores checkpoints in one nested bucket per node, keyed by
// big-endian sequence so the cursor's last entry is the latest.
type Checkpoints struct {
	db     *bolt.DB
	retain int
	log    *zap.Logger
}

// Open opens (or creates) the store at path, keeping the newest retain
// checkpoints per node; retain <= 0 uses the default.
func Open(path string, retain int, log *zap.Logger) (*Checkpoints, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	if retain <= 0 {
		retain = defaultRetain
	}
	log = log.Named("bolt")
	log.Info("checkpoint store opened", zap.String("path", path), zap.Int("retain", retain))
	return &Checkpoints{db: db, retain: retain, log: log}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func (c *Checkpoints) SaveCheckpoint(_ context.Context, cp *domain.Checkpoint) error {
	data, err := codec.Marshal(cp)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		node, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(cp.NodeID))
		if err != nil {
			return err
		}
		if err := node.Put(seqKey(cp.Sequence), data); err != nil {
			return err
		}
		return prune(node, c.retain)
	})
}

// prune drops the oldest entries beyond retain
func prune(b *bolt.Bucket, retain int) error {
	excess := count(b) - retain
	if excess <= 0 {
		return nil
	}
	cur := b.Cursor()
	for k, _ := cur.First(); k != nil && excess > 0; k, _ = cur.First() {
		if err := cur.Delete(); err != nil {
			return err
		}
		excess--
	}
	return nil
}

func count(b *bolt.Bucket) int {
	n := 0
	cur := b.Cursor()
	for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
		n++
	}
	return n
}

func (c *Checkpoints) LatestCheckpoint(_ context.Context, nodeID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := c.db.View(func(tx *bolt.Tx) error {
		node := tx.Bucket(rootBucket).Bucket([]byte(nodeID))
		if node == nil {
			return nil
		}
		_, v := node.Cursor().Last()
		if v == nil {
			return nil
		}
		cp = new(domain.Checkpoint)
		return codec.Unmarshal(v, cp)
	})
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: node %s", domain.ErrCheckpointNotFound, nodeID)
	}
	return cp, nil
}

// Count returns the number of stored checkpoints of a node
func (c *Checkpoints) Count(nodeID string) int {
	n := 0
	_ = c.db.View(func(tx *bolt.Tx) error {
		if node := tx.Bucket(rootBucket).Bucket([]byte(nodeID)); node != nil {
			n = count(node)
		}
		return nil
	})
	return n
}

func (c *Checkpoints) Close() error {
	return c.db.Close()
}
