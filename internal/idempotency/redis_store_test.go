package idempotency

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestRedisStoreLifecycle(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewRedisStore(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	key := "redis-test-key"
	rec := Record{
		StatusCode: 201,
		Response:   []byte("payload"),
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().Add(time.Minute).UTC(),
	}

	if err := store.Save(ctx, key, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.StatusCode != rec.StatusCode {
		t.Fatalf("unexpected record: %#v", got)
	}

	if missing, _ := store.Get(ctx, "never-saved"); missing != nil {
		t.Fatalf("expected nil for missing key, got %#v", missing)
	}
}
