package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/repositories"
	"github.com/wizesale/storefront/internal/repositories/memory"
)

func newTestFavorites(t *testing.T, store repositories.SnapshotStore) *FavoritesStore {
	t.Helper()
	favorites, err := NewFavoritesStore(FavoritesStoreDeps{Snapshots: store, Key: repositories.FavoritesKey(1, "sess")})
	if err != nil {
		t.Fatalf("new favorites store: %v", err)
	}
	return favorites
}

func TestFavoritesToggleIsInvolution(t *testing.T) {
	ctx := context.Background()
	favorites := newTestFavorites(t, memory.NewSnapshotStore(time.Now))
	ref := domain.FavoriteRef{ID: "p1", Name: "Curso", ImageRef: "https://cdn.example/p1.png"}

	on, err := favorites.Toggle(ctx, ref)
	if err != nil || !on {
		t.Fatalf("expected favorited, got %v err=%v", on, err)
	}
	if !favorites.IsFavorited("p1") {
		t.Fatalf("expected p1 favorited")
	}

	off, err := favorites.Toggle(ctx, ref)
	if err != nil || off {
		t.Fatalf("expected unfavorited, got %v err=%v", off, err)
	}
	if favorites.IsFavorited("p1") || len(favorites.List()) != 0 {
		t.Fatalf("expected empty favorites, got %+v", favorites.List())
	}
}

func TestFavoritesPersistAsJSONArray(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore(time.Now)
	favorites := newTestFavorites(t, store)
	_, _ = favorites.Toggle(ctx, domain.FavoriteRef{ID: "p1", Name: "Curso", ImageRef: "img"})

	raw, err := store.Load(ctx, repositories.FavoritesKey(1, "sess"))
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if string(raw) != `[{"id":"p1","name":"Curso","image":"img"}]` {
		t.Fatalf("unexpected snapshot %s", raw)
	}

	restored := newTestFavorites(t, store)
	restored.Load(ctx)
	if !restored.IsFavorited("p1") {
		t.Fatalf("expected restored favorite")
	}
}

func TestFavoritesLoadCorruptDataIsEmpty(t *testing.T) {
	store := &stubSnapshotStore{loadFunc: func(context.Context, string) ([]byte, error) {
		return []byte(`{"oops":`), nil
	}}
	favorites := newTestFavorites(t, store)
	favorites.Load(context.Background())
	if len(favorites.List()) != 0 {
		t.Fatalf("expected empty list")
	}
}

func TestFavoritesToggleRejectedWhenPersistFails(t *testing.T) {
	store := &stubSnapshotStore{saveFunc: func(context.Context, string, []byte, time.Duration) error {
		return errors.New("unavailable")
	}}
	favorites := newTestFavorites(t, store)

	if _, err := favorites.Toggle(context.Background(), domain.FavoriteRef{ID: "p1"}); !errors.Is(err, ErrFavoritesUnavailable) {
		t.Fatalf("expected ErrFavoritesUnavailable, got %v", err)
	}
	if favorites.IsFavorited("p1") {
		t.Fatalf("expected state unchanged")
	}
}

func TestFavoritesToggleRequiresID(t *testing.T) {
	favorites := newTestFavorites(t, memory.NewSnapshotStore(time.Now))
	if _, err := favorites.Toggle(context.Background(), domain.FavoriteRef{Name: "x"}); !errors.Is(err, ErrFavoritesInvalidInput) {
		t.Fatalf("expected ErrFavoritesInvalidInput, got %v", err)
	}
}

func TestFavoritesToggleWithResolvesOnlyOnAdd(t *testing.T) {
	ctx := context.Background()
	favorites := newTestFavorites(t, memory.NewSnapshotStore(time.Now))

	var mu sync.Mutex
	resolved := 0
	resolve := func(context.Context) (domain.FavoriteRef, error) {
		mu.Lock()
		resolved++
		mu.Unlock()
		return domain.FavoriteRef{Name: "Curso", ImageRef: "img"}, nil
	}

	if on, err := favorites.ToggleWith(ctx, "p1", resolve); err != nil || !on {
		t.Fatalf("add: favorited=%v err=%v", on, err)
	}
	if off, err := favorites.ToggleWith(ctx, "p1", resolve); err != nil || off {
		t.Fatalf("remove: favorited=%v err=%v", off, err)
	}
	if resolved != 1 {
		t.Fatalf("expected one resolve, got %d", resolved)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = favorites.ToggleWith(ctx, "p1", resolve)
		}()
	}
	wg.Wait()

	for _, ref := range favorites.List() {
		if ref.Name != "Curso" || ref.ImageRef != "img" {
			t.Fatalf("stored ref without product details: %+v", ref)
		}
	}
}

func TestFavoritesToggleWithPropagatesResolveError(t *testing.T) {
	favorites := newTestFavorites(t, memory.NewSnapshotStore(time.Now))
	lookup := errors.New("catalog down")

	_, err := favorites.ToggleWith(context.Background(), "p1", func(context.Context) (domain.FavoriteRef, error) {
		return domain.FavoriteRef{}, lookup
	})
	if !errors.Is(err, lookup) {
		t.Fatalf("expected resolve error, got %v", err)
	}
	if favorites.IsFavorited("p1") {
		t.Fatalf("failed resolve must not add the favorite")
	}
}
