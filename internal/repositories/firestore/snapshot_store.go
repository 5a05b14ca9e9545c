package firestore

import (
	"context"
	"strings"
	"time"

	pfirestore "github.com/wizesale/storefront/internal/platform/firestore"
	"github.com/wizesale/storefront/internal/repositories"
)

// snapshotDocument is the stored shape. expiresAt doubles as the field for a
// Firestore TTL policy, which deletes documents lazily; Load checks it too.
type snapshotDocument struct {
	Data      string    `firestore:"data"`
	UpdatedAt time.Time `firestore:"updatedAt"`
	ExpiresAt time.Time `firestore:"expiresAt,omitempty"`
}

// SnapshotStore persists session snapshots as Firestore documents.
type SnapshotStore struct {
	docs *pfirestore.DocumentRepository[snapshotDocument]
	now  func() time.Time
}

var _ repositories.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore binds the store to collection.
func NewSnapshotStore(provider *pfirestore.Provider, collection string, clock func() time.Time) *SnapshotStore {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &SnapshotStore{
		docs: pfirestore.NewDocumentRepository[snapshotDocument](provider, collection),
		now:  clock,
	}
}

func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	doc, err := s.docs.Get(ctx, documentID(key))
	if err != nil {
		return nil, err
	}
	if !doc.Data.ExpiresAt.IsZero() && !s.now().Before(doc.Data.ExpiresAt) {
		return nil, repositories.NewNotFoundError("firestore.load", key)
	}
	return []byte(doc.Data.Data), nil
}

func (s *SnapshotStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := s.now()
	doc := snapshotDocument{Data: string(data), UpdatedAt: now}
	if ttl > 0 {
		doc.ExpiresAt = now.Add(ttl)
	}
	return s.docs.Set(ctx, documentID(key), doc)
}

func (s *SnapshotStore) Delete(ctx context.Context, key string) error {
	err := s.docs.Delete(ctx, documentID(key))
	if repositories.IsNotFound(err) {
		return nil
	}
	return err
}

// documentID keeps keys valid as Firestore document ids, which may not contain "/".
func documentID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}
