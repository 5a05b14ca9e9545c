package repositories

import (
	"context"
	"strconv"
	"time"

	"github.com/wizesale/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// SnapshotStore keeps opaque session snapshots keyed by string. Load returns a
// RepositoryError with IsNotFound for missing or expired keys. A zero ttl
// stores without expiry.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// CartKey is the snapshot key of a session's cart.
func CartKey(storeID int64, sessionID string) string {
	return "cart:" + strconv.FormatInt(storeID, 10) + ":" + sessionID
}

// FavoritesKey is the snapshot key of a session's favorites list.
func FavoritesKey(storeID int64, sessionID string) string {
	return "favoritedProducts:" + strconv.FormatInt(storeID, 10) + ":" + sessionID
}
