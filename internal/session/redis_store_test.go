package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRevokeMarksTokenRevoked(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expected fresh jti not to be revoked")
	}

	if err := store.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	revoked, err = store.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected jti-1 to be revoked")
	}
}

func TestRevocationExpiresWithToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-2", time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if ttl := s.TTL("revoked:jti-2"); ttl <= time.Hour {
		t.Fatalf("expected ttl close to token expiry, got %s", ttl)
	}

	s.FastForward(3 * time.Hour)

	revoked, err := store.IsRevoked(ctx, "jti-2")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("expected revocation to lapse after token expiry")
	}
}

func TestRevokeAlreadyExpiredTokenUsesMinimumTTL(t *testing.T) {
	store, s := setupTestRedis(t)

	if err := store.Revoke(context.Background(), "jti-3", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if ttl := s.TTL("revoked:jti-3"); ttl != minRevocationTTL {
		t.Fatalf("expected minimum ttl %s, got %s", minRevocationTTL, ttl)
	}
}

func TestRevocationIsolation(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti-a", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revoked, err := store.IsRevoked(ctx, "jti-b")
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if revoked {
		t.Fatal("revoking one jti must not affect another")
	}
}

func TestMemoryStoreRevocationLifecycle(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.Revoke(ctx, "jti", now.Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if revoked, _ := store.IsRevoked(ctx, "jti"); !revoked {
		t.Fatal("expected jti to be revoked")
	}

	now = now.Add(2 * time.Hour)
	if revoked, _ := store.IsRevoked(ctx, "jti"); revoked {
		t.Fatal("expected revocation to lapse")
	}
}
