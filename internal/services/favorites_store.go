package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/repositories"
)

var (
	errFavoritesSnapshotsRequired = errors.New("favorites service: snapshot store is required")
	errFavoritesKeyRequired       = errors.New("favorites service: key is required")
)

// ErrFavoritesInvalidInput indicates a favorite without an id.
var ErrFavoritesInvalidInput = errors.New("favorites service: invalid input")

// ErrFavoritesUnavailable indicates the favorites list could not be persisted.
var ErrFavoritesUnavailable = errors.New("favorites service: unavailable")

// FavoritesStoreDeps wires persistence for one session's favorites.
type FavoritesStoreDeps struct {
	Snapshots repositories.SnapshotStore
	Key       string
	TTL       time.Duration
	Logger    func(context.Context, string, map[string]any)
}

// FavoritesStore keeps the session's favorited products keyed by product id.
type FavoritesStore struct {
	snapshots repositories.SnapshotStore
	key       string
	ttl       time.Duration
	logger    eventLogger

	mu    sync.Mutex
	items []domain.FavoriteRef
}

// NewFavoritesStore constructs an empty favorites list bound to its snapshot key.
func NewFavoritesStore(deps FavoritesStoreDeps) (*FavoritesStore, error) {
	if deps.Snapshots == nil {
		return nil, errFavoritesSnapshotsRequired
	}
	key := strings.TrimSpace(deps.Key)
	if key == "" {
		return nil, errFavoritesKeyRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &FavoritesStore{
		snapshots: deps.Snapshots,
		key:       key,
		ttl:       deps.TTL,
		logger:    logger,
	}, nil
}

// Load restores the persisted list. Corrupt data yields an empty list.
func (s *FavoritesStore) Load(ctx context.Context) {
	data, err := s.snapshots.Load(ctx, s.key)
	if err != nil {
		if !repositories.IsNotFound(err) {
			s.logger(ctx, "favorites.load_degraded", map[string]any{"key": s.key, "error": err.Error()})
		}
		return
	}

	var refs []domain.FavoriteRef
	if err := json.Unmarshal(data, &refs); err != nil {
		s.logger(ctx, "favorites.load_degraded", map[string]any{"key": s.key, "error": err.Error()})
		return
	}

	deduped := make([]domain.FavoriteRef, 0, len(refs))
	for _, ref := range refs {
		if ref.ID == "" || indexOfFavorite(deduped, ref.ID) >= 0 {
			continue
		}
		deduped = append(deduped, ref)
	}

	s.mu.Lock()
	s.items = deduped
	s.mu.Unlock()
}

// Toggle flips membership of ref and reports whether it is now favorited.
func (s *FavoritesStore) Toggle(ctx context.Context, ref domain.FavoriteRef) (bool, error) {
	return s.ToggleWith(ctx, ref.ID, func(context.Context) (domain.FavoriteRef, error) {
		return ref, nil
	})
}

// ToggleWith flips membership of id. resolve runs under the store lock and only
// when id is about to be added; its error is returned unchanged.
func (s *FavoritesStore) ToggleWith(ctx context.Context, id domain.ID, resolve func(context.Context) (domain.FavoriteRef, error)) (bool, error) {
	id = domain.ID(strings.TrimSpace(id.String()))
	if id == "" || resolve == nil {
		return false, ErrFavoritesInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.FavoriteRef, 0, len(s.items)+1)
	favorited := true
	if idx := indexOfFavorite(s.items, id); idx >= 0 {
		next = append(next, s.items[:idx]...)
		next = append(next, s.items[idx+1:]...)
		favorited = false
	} else {
		ref, err := resolve(ctx)
		if err != nil {
			return false, err
		}
		ref.ID = id
		next = append(next, s.items...)
		next = append(next, ref)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("%w: encode snapshot: %v", ErrFavoritesUnavailable, err)
	}
	if err := s.snapshots.Save(ctx, s.key, data, s.ttl); err != nil {
		s.logger(ctx, "favorites.persist_failed", map[string]any{"key": s.key, "error": err.Error()})
		return false, fmt.Errorf("%w: %v", ErrFavoritesUnavailable, err)
	}
	s.items = next
	return favorited, nil
}

// IsFavorited reports whether id is in the list.
func (s *FavoritesStore) IsFavorited(id domain.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOfFavorite(s.items, id) >= 0
}

// List returns the favorites in insertion order.
func (s *FavoritesStore) List() []domain.FavoriteRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FavoriteRef, len(s.items))
	copy(out, s.items)
	return out
}

func indexOfFavorite(refs []domain.FavoriteRef, id domain.ID) int {
	for i := range refs {
		if refs[i].ID == id {
			return i
		}
	}
	return -1
}
