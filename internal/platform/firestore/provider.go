package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wizesale/storefront/internal/platform/config"
)

const connectTimeout = 10 * time.Second

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider owns the snapshot backend's Firestore client. The client is built
// on first use; a failed attempt leaves the provider empty so the next call
// tries again.
type Provider struct {
	projectID string
	emulator  string
	connect   func(ctx context.Context, projectID string, opts ...option.ClientOption) (*firestore.Client, error)

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewProvider resolves the project and emulator from cfg, falling back to
// GOOGLE_CLOUD_PROJECT and FIRESTORE_EMULATOR_HOST.
func NewProvider(cfg config.FirestoreConfig) *Provider {
	return &Provider{
		projectID: firstSet(cfg.ProjectID, os.Getenv("GOOGLE_CLOUD_PROJECT")),
		emulator:  firstSet(cfg.EmulatorHost, os.Getenv("FIRESTORE_EMULATOR_HOST")),
		connect:   firestore.NewClient,
	}
}

// Client returns the shared client.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.projectID == "":
		return nil, errors.New("firestore: project id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := p.connect(ctx, p.projectID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: connect to project %s: %w", p.projectID, err)
	}
	p.client = client
	return client, nil
}

// Emulated reports whether the provider targets the local emulator.
func (p *Provider) Emulated() bool { return p.emulator != "" }

func (p *Provider) clientOptions() []option.ClientOption {
	if p.emulator == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithEndpoint(p.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// Close releases the client. The provider cannot be reused afterwards.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.client == nil {
		return nil
	}
	client := p.client
	p.client = nil
	return client.Close()
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
