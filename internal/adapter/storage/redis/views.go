package redis

import (
	"context"
	"time"

	"github.com/gofiber/storage/redis/v3"
)

const viewPrefix = "view:"

// Views stores gossip view snapshots through the fiber storage interface
type Views struct {
	storage *redis.Storage
	ttl     time.Duration
}

// NewViews keeps snapshots for ttl; 0 keeps them forever
func NewViews(storage *redis.Storage, ttl time.Duration) *Views {
	return &Views{storage: storage, ttl: ttl}
}

func (v *Views) SaveView(_ context.Context, nodeID string, data []byte) error {
	return v.storage.Set(viewPrefix+nodeID, data, v.ttl)
}

// LoadView returns nil when no snapshot exists
func (v *Views) LoadView(_ context.Context, nodeID string) ([]byte, error) {
	return v.storage.Get(viewPrefix + nodeID)
}
