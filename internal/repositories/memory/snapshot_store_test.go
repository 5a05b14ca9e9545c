package memory

import (
	"context"
	"testing"
	"time"

	"github.com/wizesale/storefront/internal/repositories"
)

func TestSnapshotStoreSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore(nil)

	data := []byte(`[{"id":"1"}]`)
	if err := store.Save(ctx, "cart:1:s", data, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data[0] = 'x'

	got, err := store.Load(ctx, "cart:1:s")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `[{"id":"1"}]` {
		t.Fatalf("expected stored copy, got %s", got)
	}

	if err := store.Delete(ctx, "cart:1:s"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load(ctx, "cart:1:s"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSnapshotStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewSnapshotStore(func() time.Time { return now })

	_ = store.Save(ctx, "k", []byte("v"), time.Minute)
	now = now.Add(59 * time.Second)
	if _, err := store.Load(ctx, "k"); err != nil {
		t.Fatalf("expected live entry, got %v", err)
	}
	now = now.Add(time.Second)
	if _, err := store.Load(ctx, "k"); !repositories.IsNotFound(err) {
		t.Fatalf("expected expired entry, got %v", err)
	}
	if removed := store.Prune(); removed != 1 {
		t.Fatalf("expected one pruned entry, got %d", removed)
	}
}
