package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/repositories"
	"github.com/wizesale/storefront/internal/repositories/memory"
)

func TestCartStoreAddItemMergesDuplicates(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)

	if _, err := cart.AddItem(ctx, lineItem("p1", "100")); err != nil {
		t.Fatalf("add: %v", err)
	}
	snapshot, err := cart.AddItem(ctx, lineItem("p1", "100"))
	if err != nil {
		t.Fatalf("add again: %v", err)
	}

	if len(snapshot.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(snapshot.Items))
	}
	if snapshot.Items[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", snapshot.Items[0].Quantity)
	}
	if !cart.Total().Equal(dec("200")) {
		t.Fatalf("expected total 200, got %s", cart.Total())
	}
}

func TestCartStoreAddItemKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)
	for _, id := range []string{"b", "a", "c", "a"} {
		if _, err := cart.AddItem(ctx, lineItem(id, "1")); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	items := cart.Items()
	got := []domain.ID{items[0].ID, items[1].ID, items[2].ID}
	want := []domain.ID{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestCartStoreRejectsInvalidItems(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)

	cases := map[string]domain.LineItem{
		"blank id":       {ID: "  ", UnitPrice: dec("1"), Quantity: 1},
		"negative price": {ID: "p1", UnitPrice: dec("-1"), Quantity: 1},
		"negative comparison": {
			ID: "p1", UnitPrice: dec("1"), Quantity: 1,
			ComparisonPrice: decimal.NewNullDecimal(dec("-5")),
		},
	}
	for name, item := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := cart.AddItem(ctx, item); !errors.Is(err, ErrCartInvalidInput) {
				t.Fatalf("expected ErrCartInvalidInput, got %v", err)
			}
		})
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected cart to stay empty")
	}
}

func TestCartStoreSetQuantityZeroRemoves(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)
	_, _ = cart.AddItem(ctx, lineItem("p1", "10"))
	_, _ = cart.AddItem(ctx, lineItem("p2", "5"))

	if _, err := cart.SetQuantity(ctx, "p1", 0); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if _, err := cart.SetQuantity(ctx, "p2", -3); err != nil {
		t.Fatalf("set negative quantity: %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected lines removed, got %+v", cart.Items())
	}
}

func TestCartStoreDecrementStopsAtOne(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)
	_, _ = cart.AddItem(ctx, lineItem("p1", "10"))

	snapshot, err := cart.Decrement(ctx, "p1")
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if snapshot.Items[0].Quantity != 1 {
		t.Fatalf("expected quantity to stay at 1, got %d", snapshot.Items[0].Quantity)
	}

	_, _ = cart.Increment(ctx, "p1")
	_, _ = cart.Increment(ctx, "p1")
	snapshot, _ = cart.Decrement(ctx, "p1")
	if snapshot.Items[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", snapshot.Items[0].Quantity)
	}
}

func TestCartStoreUnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	saves := 0
	store := &stubSnapshotStore{saveFunc: func(context.Context, string, []byte, time.Duration) error {
		saves++
		return nil
	}}
	cart := newTestCart(t, store)

	for name, op := range map[string]func() (domain.Cart, error){
		"remove":    func() (domain.Cart, error) { return cart.RemoveItem(ctx, "missing") },
		"set":       func() (domain.Cart, error) { return cart.SetQuantity(ctx, "missing", 4) },
		"increment": func() (domain.Cart, error) { return cart.Increment(ctx, "missing") },
		"decrement": func() (domain.Cart, error) { return cart.Decrement(ctx, "missing") },
	} {
		if _, err := op(); err != nil {
			t.Fatalf("%s: expected no error, got %v", name, err)
		}
	}
	if saves != 0 {
		t.Fatalf("expected no writes for no-op mutations, got %d", saves)
	}
}

func TestCartStorePersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	fail := false
	store := &stubSnapshotStore{saveFunc: func(context.Context, string, []byte, time.Duration) error {
		if fail {
			return repositories.NewUnavailableError("save", "cart", errors.New("redis down"))
		}
		return nil
	}}
	cart := newTestCart(t, store)
	_, _ = cart.AddItem(ctx, lineItem("p1", "10"))

	fail = true
	if _, err := cart.AddItem(ctx, lineItem("p2", "20")); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}
	if _, err := cart.Increment(ctx, "p1"); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}

	items := cart.Items()
	if len(items) != 1 || items[0].Quantity != 1 {
		t.Fatalf("expected unchanged cart, got %+v", items)
	}
}

func TestCartStoreClearDeletesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore(time.Now)
	cart := newTestCart(t, store)
	_, _ = cart.AddItem(ctx, lineItem("p1", "10"))

	if err := cart.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart")
	}
	if _, err := store.Load(ctx, repositories.CartKey(1, "sess")); !repositories.IsNotFound(err) {
		t.Fatalf("expected snapshot removed, got %v", err)
	}
}

func TestCartStoreLoadRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSnapshotStore(time.Now)
	first := newTestCart(t, store)
	_, _ = first.AddItem(ctx, lineItem("p1", "49.90"))
	_, _ = first.Increment(ctx, "p1")

	second := newTestCart(t, store)
	second.Load(ctx)
	if !second.Total().Equal(dec("99.80")) {
		t.Fatalf("expected restored total 99.80, got %s", second.Total())
	}
}

func TestCartStoreLoadDegradesOnCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	var events []string
	store := &stubSnapshotStore{loadFunc: func(context.Context, string) ([]byte, error) {
		return []byte("{not json"), nil
	}}
	cart, err := NewCartStore(CartStoreDeps{
		Snapshots: store,
		Key:       "cart:1:s",
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new cart store: %v", err)
	}

	cart.Load(ctx)
	if !cart.IsEmpty() {
		t.Fatalf("expected empty cart after corrupt load")
	}
	if len(events) != 1 || events[0] != "cart.load_degraded" {
		t.Fatalf("expected degraded event, got %v", events)
	}
}

func TestCartStoreLoadDropsInvalidLines(t *testing.T) {
	ctx := context.Background()
	raw, _ := json.Marshal(domain.Cart{Items: []domain.LineItem{
		lineItem("ok", "10"),
		{ID: "zero", UnitPrice: dec("5"), Quantity: 0},
		lineItem("ok", "10"),
	}})
	store := &stubSnapshotStore{loadFunc: func(context.Context, string) ([]byte, error) { return raw, nil }}
	cart := newTestCart(t, store)

	cart.Load(ctx)
	items := cart.Items()
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("expected merged valid line, got %+v", items)
	}
}

func TestCartStoreSubscribeDeliversLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)

	updates, cancel := cart.Subscribe()
	defer cancel()

	initial := <-updates
	if !initial.IsEmpty() {
		t.Fatalf("expected empty initial snapshot")
	}

	for i := 0; i < 5; i++ {
		if _, err := cart.AddItem(ctx, lineItem("p1", "10")); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	latest := <-updates
	if latest.TotalItems() != 5 {
		t.Fatalf("expected latest snapshot with 5 units, got %d", latest.TotalItems())
	}
	select {
	case extra := <-updates:
		t.Fatalf("expected no queued snapshots, got %+v", extra)
	default:
	}
}

func TestCartStoreSubscribeCancelClosesChannel(t *testing.T) {
	cart := newTestCart(t, nil)
	updates, cancel := cart.Subscribe()
	<-updates

	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel")
	}
	if cart.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestCartStoreTotalInvariantUnderRandomOperations(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)
	rng := rand.New(rand.NewSource(7))
	ids := []domain.ID{"a", "b", "c", "d"}
	prices := map[domain.ID]string{"a": "10.50", "b": "3", "c": "0.99", "d": "120"}

	for step := 0; step < 500; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(5) {
		case 0:
			_, _ = cart.AddItem(ctx, lineItem(string(id), prices[id]))
		case 1:
			_, _ = cart.SetQuantity(ctx, id, rng.Intn(6)-1)
		case 2:
			_, _ = cart.RemoveItem(ctx, id)
		case 3:
			_, _ = cart.Increment(ctx, id)
		case 4:
			_, _ = cart.Decrement(ctx, id)
		}

		snapshot := cart.Snapshot()
		want := decimal.Zero
		for _, item := range snapshot.Items {
			if item.Quantity < 1 {
				t.Fatalf("step %d: line %s has quantity %d", step, item.ID, item.Quantity)
			}
			want = want.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
		if !cart.Total().Equal(want) {
			t.Fatalf("step %d: total %s, want %s", step, cart.Total(), want)
		}
	}
}

func TestCartStoreRejectsQuantityOverflow(t *testing.T) {
	ctx := context.Background()
	cart := newTestCart(t, nil)

	huge := lineItem("p1", "10")
	huge.Quantity = math.MaxInt
	if _, err := cart.AddItem(ctx, huge); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for MaxInt quantity, got %v", err)
	}

	full := lineItem("p1", "10")
	full.Quantity = MaxLineQuantity
	if _, err := cart.AddItem(ctx, full); err != nil {
		t.Fatalf("add at cap: %v", err)
	}
	if _, err := cart.AddItem(ctx, lineItem("p1", "10")); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input when merge exceeds cap, got %v", err)
	}
	snapshot, err := cart.Increment(ctx, "p1")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if snapshot.Items[0].Quantity != MaxLineQuantity {
		t.Fatalf("increment past cap stored %d", snapshot.Items[0].Quantity)
	}
	if _, err := cart.SetQuantity(ctx, "p1", math.MaxInt); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for SetQuantity above cap, got %v", err)
	}

	want := dec("10").Mul(decimal.NewFromInt(MaxLineQuantity))
	if !cart.Total().Equal(want) {
		t.Fatalf("total %s, want %s", cart.Total(), want)
	}
}
