package snapcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"templane/pkg/domain"
)

func testCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, New(client, ttl)
}

func sampleSnapshot() *domain.AssemblySnapshot {
	return &domain.AssemblySnapshot{
		SnapshotID:    "snap_abc",
		VersionID:     "tv_1",
		TemplateID:    "tpl_1",
		WorkspaceID:   "ws_1",
		VersionNumber: 3,
		Content:       []byte(`{"blocks":[]}`),
		ResolvedValues: map[string]string{
			"amount": "EUR 1200.50",
		},
		SignerRoles: []domain.SignerRole{
			{RoleName: "Buyer", AnchorString: "__sig_buyer__", SignerOrder: 1},
			{RoleName: "Seller", AnchorString: "__sig_seller__", SignerOrder: 2},
		},
		ContentHash: "abc123",
		ValuesHash:  "def456",
		AssembledAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	_, cache := testCache(t, time.Hour)
	ctx := context.Background()

	if err := cache.Put(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := cache.Get(ctx, "snap_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VersionID != "tv_1" || got.VersionNumber != 3 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.ResolvedValues["amount"] != "EUR 1200.50" {
		t.Fatalf("resolved values did not round-trip: %+v", got.ResolvedValues)
	}
	if len(got.SignerRoles) != 2 || got.SignerRoles[0].RoleName != "Buyer" {
		t.Fatalf("signer roles did not round-trip: %+v", got.SignerRoles)
	}
	if !got.AssembledAt.Equal(sampleSnapshot().AssembledAt) {
		t.Fatalf("assembled_at did not round-trip: %v", got.AssembledAt)
	}
}

func TestGetUnknownIDIsMiss(t *testing.T) {
	_, cache := testCache(t, time.Hour)
	if _, err := cache.Get(context.Background(), "snap_missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestEntriesExpire(t *testing.T) {
	mr, cache := testCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.Put(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := cache.Get(ctx, "snap_abc"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
}
