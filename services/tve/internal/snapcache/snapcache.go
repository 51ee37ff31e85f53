package snapcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"templane/pkg/domain"
)

// ErrMiss means no snapshot is cached under the requested ID.
var ErrMiss = errors.New("snapshot not cached")

// Cache keeps assembly snapshots in Redis under their snapshot ID. Snapshots
// are immutable once built, so entries are written once and never updated;
// the TTL only bounds retention.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Dial connects and verifies the server before returning a client.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return client, nil
}

func (c *Cache) Put(ctx context.Context, snap *domain.AssemblySnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(snap.SnapshotID), payload, c.ttl).Err()
}

func (c *Cache) Get(ctx context.Context, snapshotID string) (*domain.AssemblySnapshot, error) {
	payload, err := c.client.Get(ctx, snapshotKey(snapshotID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrMiss, snapshotID)
		}
		return nil, err
	}
	var snap domain.AssemblySnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode cached snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}

func snapshotKey(snapshotID string) string {
	return "tve:snapshot:" + snapshotID
}
