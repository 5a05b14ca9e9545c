package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document is a typed Firestore document with its update timestamp.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// DocumentRepository offers typed get/set/delete over one collection. T must be
// a struct with firestore tags.
type DocumentRepository[T any] struct {
	provider   *Provider
	collection string
}

// NewDocumentRepository binds a repository to collection.
func NewDocumentRepository[T any](provider *Provider, collection string) *DocumentRepository[T] {
	return &DocumentRepository[T]{provider: provider, collection: strings.TrimSpace(collection)}
}

// Get loads the document. Missing documents return an *Error with IsNotFound.
func (r *DocumentRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	var value T
	if err := snap.DataTo(&value); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", id, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: value, UpdateTime: snap.UpdateTime}, nil
}

// Set upserts value under id.
func (r *DocumentRepository[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := r.ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(r.op("set"), err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document succeeds.
func (r *DocumentRepository[T]) Delete(ctx context.Context, id string) error {
	doc, err := r.ref(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

func (r *DocumentRepository[T]) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if r.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if r.collection == "" {
		return nil, errors.New("firestore: collection is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("firestore: document id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection).Doc(id), nil
}

func (r *DocumentRepository[T]) op(action string) string {
	return fmt.Sprintf("firestore.%s.%s", r.collection, action)
}
