package orderbook

import (
	"testing"
	"time"

	"propengine/internal/money"
	"propengine/internal/position"
)

func TestTriggeredLong(t *testing.T) {
	t.Parallel()
	o := Order{Direction: position.Long, LimitPrice: money.FromInt(100)}

	if !o.Triggered(money.FromInt(99), money.FromInt(100)) {
		t.Error("expected LONG limit to trigger when ask <= limit")
	}
	if o.Triggered(money.FromInt(99), money.FromInt(101)) {
		t.Error("expected LONG limit not to trigger when ask > limit")
	}
}

func TestTriggeredShort(t *testing.T) {
	t.Parallel()
	o := Order{Direction: position.Short, LimitPrice: money.FromInt(100)}

	if !o.Triggered(money.FromInt(100), money.FromInt(101)) {
		t.Error("expected SHORT limit to trigger when bid >= limit")
	}
	if o.Triggered(money.FromInt(99), money.FromInt(101)) {
		t.Error("expected SHORT limit not to trigger when bid < limit")
	}
}

func testOrder(id, accountID, symbol string) Order {
	return Order{
		ID:        id,
		AccountID: accountID,
		Symbol:    symbol,
		Direction: position.Long,
		Size:      money.FromInt(1),
		LimitPrice: money.FromInt(100),
	}
}

func TestPlaceGetByAccountBySymbol(t *testing.T) {
	t.Parallel()
	b := New()
	if err := b.Place(testOrder("o1", "a1", "BTC-USD")); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := b.Place(testOrder("o2", "a1", "ETH-USD")); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := b.Place(testOrder("o3", "a2", "BTC-USD")); err != nil {
		t.Fatalf("Place: %v", err)
	}

	got, err := b.Get("o1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "o1" {
		t.Errorf("ID = %s, want o1", got.ID)
	}

	if len(b.ByAccount("a1")) != 2 {
		t.Errorf("ByAccount(a1) len = %d, want 2", len(b.ByAccount("a1")))
	}
	if len(b.BySymbol("BTC-USD")) != 2 {
		t.Errorf("BySymbol(BTC-USD) len = %d, want 2", len(b.BySymbol("BTC-USD")))
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	b := New()
	if err := b.Place(testOrder("o1", "a1", "BTC-USD")); err != nil {
		t.Fatalf("Place: %v", err)
	}

	removed, err := b.Remove("o1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.ID != "o1" {
		t.Errorf("removed.ID = %s, want o1", removed.ID)
	}

	if _, err := b.Get("o1"); err != ErrNotFound {
		t.Errorf("Get after Remove err = %v, want ErrNotFound", err)
	}
	if len(b.ByAccount("a1")) != 0 {
		t.Error("expected no orders left for a1 after Remove")
	}
}

func TestRemoveUnknown(t *testing.T) {
	t.Parallel()
	b := New()
	if _, err := b.Remove("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPlaceRejectsDuplicateClientOrderID(t *testing.T) {
	t.Parallel()
	b := New()
	first := testOrder("o1", "a1", "BTC-USD")
	first.ClientOrderID = "client-1"
	if err := b.Place(first); err != nil {
		t.Fatalf("Place: %v", err)
	}

	second := testOrder("o2", "a1", "BTC-USD")
	second.ClientOrderID = "client-1"
	if err := b.Place(second); err != ErrDuplicateClientOrder {
		t.Errorf("err = %v, want ErrDuplicateClientOrder", err)
	}

	if _, err := b.Get("o2"); err != ErrNotFound {
		t.Errorf("rejected order should not have been inserted, Get err = %v", err)
	}

	third := testOrder("o3", "a2", "BTC-USD")
	third.ClientOrderID = "client-1"
	if err := b.Place(third); err != nil {
		t.Errorf("Place on a different account with the same client order id should succeed: %v", err)
	}
}

func TestExpireRemovesPastDeadlineOrders(t *testing.T) {
	t.Parallel()
	b := New()
	now := time.Now()

	expiring := testOrder("o1", "a1", "BTC-USD")
	expiring.ExpiresAt = now.Add(-time.Second)
	if err := b.Place(expiring); err != nil {
		t.Fatalf("Place: %v", err)
	}

	fresh := testOrder("o2", "a1", "ETH-USD")
	fresh.ExpiresAt = now.Add(time.Hour)
	if err := b.Place(fresh); err != nil {
		t.Fatalf("Place: %v", err)
	}

	noExpiry := testOrder("o3", "a1", "ETH-USD")
	if err := b.Place(noExpiry); err != nil {
		t.Fatalf("Place: %v", err)
	}

	expired := b.Expire(now)
	if len(expired) != 1 || expired[0].ID != "o1" {
		t.Fatalf("Expire returned %v, want just o1", expired)
	}

	if _, err := b.Get("o1"); err != ErrNotFound {
		t.Errorf("expired order should have been removed, Get err = %v", err)
	}
	if _, err := b.Get("o2"); err != nil {
		t.Errorf("unexpired order should remain: %v", err)
	}
	if _, err := b.Get("o3"); err != nil {
		t.Errorf("zero-value ExpiresAt order should never expire: %v", err)
	}
}
