package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/wizesale/storefront/internal/repositories"
)

var (
	errRegistrySnapshotsRequired = errors.New("session registry: snapshot store is required")
	errRegistryCouponsRequired   = errors.New("session registry: coupon evaluator is required")
	errRegistryPaymentsRequired  = errors.New("session registry: payment gateway is required")
	errRegistryMethodsRequired   = errors.New("session registry: payment method catalog is required")
)

// ErrSessionInvalid indicates a missing store or session identifier.
var ErrSessionInvalid = errors.New("session registry: invalid session scope")

const (
	defaultSessionIdleTTL  = 30 * time.Minute
	defaultSweepInterval   = time.Minute
	defaultSnapshotTTLDays = 30
)

// Session bundles the state shared by every surface of one browser session.
type Session struct {
	StoreID   int64
	ID        string
	Cart      *CartStore
	Favorites *FavoritesStore
	Checkout  *CheckoutMachine
}

// SessionRegistryDeps wires the collaborators handed to every session.
type SessionRegistryDeps struct {
	Snapshots     repositories.SnapshotStore
	SnapshotTTL   time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Coupons       *CouponEvaluator
	Payments      PaymentGateway
	Methods       *PaymentMethodCatalog
	Events        CheckoutEventPublisher
	Meter         metric.Meter
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
	IDGenerator   func() string
}

// SessionRegistry hands out exactly one Session per (store, session) scope.
// Idle sessions are evicted and restored from snapshots on next access.
type SessionRegistry struct {
	deps     SessionRegistryDeps
	now      func() time.Time
	logger   eventLogger
	idleTTL  time.Duration
	interval time.Duration

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	ready    chan struct{}
	session  *Session
	err      error
	lastSeen time.Time
}

// NewSessionRegistry constructs a registry.
func NewSessionRegistry(deps SessionRegistryDeps) (*SessionRegistry, error) {
	if deps.Snapshots == nil {
		return nil, errRegistrySnapshotsRequired
	}
	if deps.Coupons == nil {
		return nil, errRegistryCouponsRequired
	}
	if deps.Payments == nil {
		return nil, errRegistryPaymentsRequired
	}
	if deps.Methods == nil {
		return nil, errRegistryMethodsRequired
	}
	if deps.SnapshotTTL < 0 {
		deps.SnapshotTTL = 0
	} else if deps.SnapshotTTL == 0 {
		deps.SnapshotTTL = defaultSnapshotTTLDays * 24 * time.Hour
	}
	idle := deps.IdleTTL
	if idle <= 0 {
		idle = defaultSessionIdleTTL
	}
	interval := deps.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	deps.Clock = clock
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	deps.Logger = logger

	return &SessionRegistry{
		deps:     deps,
		now:      clock,
		logger:   logger,
		idleTTL:  idle,
		interval: interval,
		entries:  make(map[string]*sessionEntry),
	}, nil
}

// Get returns the shared session for the scope, loading persisted state on
// first access.
func (r *SessionRegistry) Get(ctx context.Context, storeID int64, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if storeID == 0 || sessionID == "" {
		return nil, ErrSessionInvalid
	}
	key := strconv.FormatInt(storeID, 10) + ":" + sessionID

	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok {
		entry.lastSeen = r.now()
		r.mu.Unlock()
	} else {
		entry = &sessionEntry{ready: make(chan struct{}), lastSeen: r.now()}
		r.entries[key] = entry
		r.mu.Unlock()

		entry.session, entry.err = r.build(ctx, storeID, sessionID)
		close(entry.ready)
		if entry.err != nil {
			r.mu.Lock()
			if r.entries[key] == entry {
				delete(r.entries, key)
			}
			r.mu.Unlock()
		}
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.session, nil
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts sessions idle longer than the idle TTL and returns how many were
// dropped. Sessions with a running submission or a connected cart stream stay.
func (r *SessionRegistry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, entry := range r.entries {
		select {
		case <-entry.ready:
		default:
			continue
		}
		if entry.session == nil || entry.lastSeen.After(cutoff) {
			continue
		}
		if entry.session.Cart.Subscribers() > 0 || entry.session.Checkout.State() == CheckoutSubmitting {
			continue
		}
		delete(r.entries, key)
		evicted++
	}
	return evicted
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *SessionRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger(ctx, "session.swept", map[string]any{"evicted": n, "live": r.Len()})
			}
		}
	}
}

func (r *SessionRegistry) build(ctx context.Context, storeID int64, sessionID string) (*Session, error) {
	cart, err := NewCartStore(CartStoreDeps{
		Snapshots: r.deps.Snapshots,
		Key:       repositories.CartKey(storeID, sessionID),
		TTL:       r.deps.SnapshotTTL,
		Clock:     r.deps.Clock,
		Logger:    r.deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	favorites, err := NewFavoritesStore(FavoritesStoreDeps{
		Snapshots: r.deps.Snapshots,
		Key:       repositories.FavoritesKey(storeID, sessionID),
		TTL:       r.deps.SnapshotTTL,
		Logger:    r.deps.Logger,
	})
	if err != nil {
		return nil, err
	}
	checkout, err := NewCheckoutMachine(CheckoutMachineDeps{
		StoreID:     storeID,
		Cart:        cart,
		Coupons:     r.deps.Coupons,
		Payments:    r.deps.Payments,
		Methods:     r.deps.Methods,
		Events:      r.deps.Events,
		Meter:       r.deps.Meter,
		Clock:       r.deps.Clock,
		Logger:      r.deps.Logger,
		IDGenerator: r.deps.IDGenerator,
	})
	if err != nil {
		return nil, err
	}

	// Later requests share this session, so the load must outlive the caller.
	loadCtx := context.WithoutCancel(ctx)
	cart.Load(loadCtx)
	favorites.Load(loadCtx)
	return &Session{StoreID: storeID, ID: sessionID, Cart: cart, Favorites: favorites, Checkout: checkout}, nil
}
