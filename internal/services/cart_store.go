package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/repositories"
)

var (
	errCartSnapshotsRequired = errors.New("cart service: snapshot store is required")
	errCartKeyRequired       = errors.New("cart service: key is required")
)

// ErrCartInvalidInput indicates the caller supplied an invalid line item.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// MaxLineQuantity caps the units a single cart line may hold.
const MaxLineQuantity = 9999

// ErrCartUnavailable indicates the cart snapshot could not be persisted; the mutation was not applied.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// CartStoreDeps wires persistence for one session's cart.
type CartStoreDeps struct {
	Snapshots repositories.SnapshotStore
	Key       string
	TTL       time.Duration
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

// CartStore is the single mutable cart of one session scope. Every surface of
// the session shares the same instance through the SessionRegistry.
type CartStore struct {
	snapshots repositories.SnapshotStore
	key       string
	ttl       time.Duration
	now       func() time.Time
	logger    eventLogger

	mu     sync.Mutex
	cart   domain.Cart
	subs   map[int]chan domain.Cart
	nextID int
}

// NewCartStore constructs an empty cart bound to its snapshot key.
func NewCartStore(deps CartStoreDeps) (*CartStore, error) {
	if deps.Snapshots == nil {
		return nil, errCartSnapshotsRequired
	}
	key := strings.TrimSpace(deps.Key)
	if key == "" {
		return nil, errCartKeyRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &CartStore{
		snapshots: deps.Snapshots,
		key:       key,
		ttl:       deps.TTL,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		subs:      make(map[int]chan domain.Cart),
	}, nil
}

// Load restores the persisted snapshot. Missing or unreadable records leave the
// cart empty; Load never fails.
func (s *CartStore) Load(ctx context.Context) {
	data, err := s.snapshots.Load(ctx, s.key)
	if err != nil {
		if !repositories.IsNotFound(err) {
			s.logger(ctx, "cart.load_degraded", map[string]any{"key": s.key, "error": err.Error()})
		}
		return
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		s.logger(ctx, "cart.load_degraded", map[string]any{"key": s.key, "error": err.Error()})
		return
	}
	cart.Items = normaliseItems(cart.Items)

	s.mu.Lock()
	s.cart = cart
	s.mu.Unlock()
}

// AddItem appends item or, when the id is already present, increases its quantity.
func (s *CartStore) AddItem(ctx context.Context, item domain.LineItem) (domain.Cart, error) {
	item.ID = domain.ID(strings.TrimSpace(item.ID.String()))
	if item.ID == "" || item.UnitPrice.IsNegative() {
		return domain.Cart{}, ErrCartInvalidInput
	}
	if item.ComparisonPrice.Valid && item.ComparisonPrice.Decimal.IsNegative() {
		return domain.Cart{}, ErrCartInvalidInput
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	if item.Quantity > MaxLineQuantity {
		return domain.Cart{}, fmt.Errorf("%w: quantity above %d", ErrCartInvalidInput, MaxLineQuantity)
	}

	var rejected bool
	cart, err := s.mutate(ctx, "add_item", func(items []domain.LineItem) ([]domain.LineItem, bool) {
		if idx := indexOf(items, item.ID); idx >= 0 {
			if items[idx].Quantity > MaxLineQuantity-item.Quantity {
				rejected = true
				return items, false
			}
			items[idx].Quantity += item.Quantity
			return items, true
		}
		return append(items, item), true
	})
	if rejected {
		return domain.Cart{}, fmt.Errorf("%w: quantity above %d", ErrCartInvalidInput, MaxLineQuantity)
	}
	return cart, err
}

// SetQuantity replaces the quantity of id. Zero or less removes the line.
func (s *CartStore) SetQuantity(ctx context.Context, id domain.ID, quantity int) (domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, id)
	}
	if quantity > MaxLineQuantity {
		return domain.Cart{}, fmt.Errorf("%w: quantity above %d", ErrCartInvalidInput, MaxLineQuantity)
	}
	return s.mutate(ctx, "set_quantity", func(items []domain.LineItem) ([]domain.LineItem, bool) {
		idx := indexOf(items, id)
		if idx < 0 || items[idx].Quantity == quantity {
			return items, false
		}
		items[idx].Quantity = quantity
		return items, true
	})
}

// Increment adds one unit to id. A line already at MaxLineQuantity is left as is.
func (s *CartStore) Increment(ctx context.Context, id domain.ID) (domain.Cart, error) {
	return s.mutate(ctx, "increment", func(items []domain.LineItem) ([]domain.LineItem, bool) {
		idx := indexOf(items, id)
		if idx < 0 || items[idx].Quantity >= MaxLineQuantity {
			return items, false
		}
		items[idx].Quantity++
		return items, true
	})
}

// Decrement removes one unit from id but never drops the line below one unit.
func (s *CartStore) Decrement(ctx context.Context, id domain.ID) (domain.Cart, error) {
	return s.mutate(ctx, "decrement", func(items []domain.LineItem) ([]domain.LineItem, bool) {
		idx := indexOf(items, id)
		if idx < 0 || items[idx].Quantity <= 1 {
			return items, false
		}
		items[idx].Quantity--
		return items, true
	})
}

// RemoveItem drops the line for id.
func (s *CartStore) RemoveItem(ctx context.Context, id domain.ID) (domain.Cart, error) {
	return s.mutate(ctx, "remove_item", func(items []domain.LineItem) ([]domain.LineItem, bool) {
		idx := indexOf(items, id)
		if idx < 0 {
			return items, false
		}
		return append(items[:idx], items[idx+1:]...), true
	})
}

// Clear empties the cart and deletes its persisted record.
func (s *CartStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.snapshots.Delete(ctx, s.key); err != nil && !repositories.IsNotFound(err) {
		s.logger(ctx, "cart.persist_failed", map[string]any{"key": s.key, "op": "clear", "error": err.Error()})
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	s.cart = domain.Cart{UpdatedAt: s.now()}
	s.notifyLocked()
	return nil
}

// Snapshot returns a copy of the current cart.
func (s *CartStore) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCart(s.cart)
}

// Items returns a copy of the current lines in insertion order.
func (s *CartStore) Items() []domain.LineItem {
	return s.Snapshot().Items
}

// IsEmpty reports whether the cart has no lines.
func (s *CartStore) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.IsEmpty()
}

// Total returns the sum of unit price times quantity.
func (s *CartStore) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Total()
}

// Subscribe registers for committed snapshots. The current cart is delivered
// immediately. Slow receivers only ever see the latest snapshot.
func (s *CartStore) Subscribe() (<-chan domain.Cart, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan domain.Cart, 1)
	ch <- copyCart(s.cart)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Subscribers reports how many surfaces are listening.
func (s *CartStore) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *CartStore) mutate(ctx context.Context, op string, fn func([]domain.LineItem) ([]domain.LineItem, bool)) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, changed := fn(copyItems(s.cart.Items))
	if !changed {
		return copyCart(s.cart), nil
	}

	next := domain.Cart{Items: items, UpdatedAt: s.now()}
	data, err := json.Marshal(next)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("%w: encode snapshot: %v", ErrCartUnavailable, err)
	}
	if err := s.snapshots.Save(ctx, s.key, data, s.ttl); err != nil {
		s.logger(ctx, "cart.persist_failed", map[string]any{"key": s.key, "op": op, "error": err.Error()})
		return domain.Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}

	s.cart = next
	s.notifyLocked()
	return copyCart(next), nil
}

func (s *CartStore) notifyLocked() {
	for _, ch := range s.subs {
		snapshot := copyCart(s.cart)
		select {
		case ch <- snapshot:
			continue
		default:
		}
		// Drop the stale snapshot the receiver has not consumed yet.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func indexOf(items []domain.LineItem, id domain.ID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func normaliseItems(items []domain.LineItem) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" || item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			continue
		}
		if item.Quantity > MaxLineQuantity {
			item.Quantity = MaxLineQuantity
		}
		if idx := indexOf(out, item.ID); idx >= 0 {
			out[idx].Quantity = min(out[idx].Quantity+item.Quantity, MaxLineQuantity)
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyItems(items []domain.LineItem) []domain.LineItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.LineItem, len(items))
	copy(out, items)
	return out
}

func copyCart(cart domain.Cart) domain.Cart {
	return domain.Cart{Items: copyItems(cart.Items), UpdatedAt: cart.UpdatedAt}
}
