// Package orderbook holds pending limit orders — orders that have
// reserved margin but have not yet filled — indexed by order id and
// account id (BySymbol scans every order). Filled or cancelled orders
// are removed.
package orderbook

import (
	"errors"
	"sync"
	"time"

	"propengine/internal/money"
	"propengine/internal/position"
)

// ErrNotFound is returned when an order id has no pending order.
var ErrNotFound = errors.New("orderbook: not found")

// ErrDuplicateClientOrder is returned by Place when the account already
// has a pending order carrying the same client order id.
var ErrDuplicateClientOrder = errors.New("orderbook: duplicate client order id")

// Order is a pending limit order.
type Order struct {
	ID            string
	ClientOrderID string
	AccountID     string
	Symbol        string
	Direction     position.Direction

	Size         money.Amount
	LimitPrice   money.Amount
	ReservedMargin money.Amount
	Leverage     int64

	TakeProfit *money.Amount
	StopLoss   *money.Amount

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Triggered reports whether the current internal bid/ask would fill
// this limit order: a LONG limit fills when the ask falls to or below
// the limit price; a SHORT limit fills when the bid rises to or above it.
func (o Order) Triggered(internalBid, internalAsk money.Amount) bool {
	if o.Direction == position.Long {
		return internalAsk.LessThanOrEqual(o.LimitPrice)
	}
	return internalBid.GreaterThanOrEqual(o.LimitPrice)
}

type record struct {
	mu    sync.Mutex
	order Order
}

// Book holds every pending limit order in memory.
type Book struct {
	mu sync.RWMutex

	byID      map[string]*record
	byAccount map[string]map[string]struct{}
}

// New creates an empty Book.
func New() *Book {
	return &Book{
		byID:      make(map[string]*record),
		byAccount: make(map[string]map[string]struct{}),
	}
}

// Place adds a pending order to the book, rejecting it if the account
// already has a pending order carrying the same non-empty client order
// id (the idempotency guard — a retried placement must not reserve
// margin twice).
func (b *Book) Place(o Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.ClientOrderID != "" {
		for id := range b.byAccount[o.AccountID] {
			if existing := b.byID[id]; existing != nil && existing.order.ClientOrderID == o.ClientOrderID {
				return ErrDuplicateClientOrder
			}
		}
	}

	rec := &record{order: o}
	b.byID[o.ID] = rec
	if b.byAccount[o.AccountID] == nil {
		b.byAccount[o.AccountID] = make(map[string]struct{})
	}
	b.byAccount[o.AccountID][o.ID] = struct{}{}
	return nil
}

// Get returns a snapshot of one pending order.
func (b *Book) Get(id string) (Order, error) {
	b.mu.RLock()
	rec, ok := b.byID[id]
	b.mu.RUnlock()
	if !ok {
		return Order{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.order, nil
}

// ByAccount returns every pending order for one account.
func (b *Book) ByAccount(accountID string) []Order {
	b.mu.RLock()
	ids := b.byAccount[accountID]
	recs := make([]*record, 0, len(ids))
	for id := range ids {
		recs = append(recs, b.byID[id])
	}
	b.mu.RUnlock()

	out := make([]Order, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.order)
		rec.mu.Unlock()
	}
	return out
}

// BySymbol returns every pending order on a symbol, across accounts —
// the Limit-Fill trigger engine's per-tick working set.
func (b *Book) BySymbol(symbol string) []Order {
	b.mu.RLock()
	recs := make([]*record, 0)
	for _, rec := range b.byID {
		recs = append(recs, rec)
	}
	b.mu.RUnlock()

	out := make([]Order, 0)
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.order.Symbol == symbol {
			out = append(out, rec.order)
		}
		rec.mu.Unlock()
	}
	return out
}

// Remove deletes a pending order — called once it either fills or is
// cancelled. The caller is responsible for releasing the reserved
// margin via account.Manager, or discarding it if
// the order is being converted directly into an open position.
func (b *Book) Remove(id string) (Order, error) {
	b.mu.Lock()
	rec, ok := b.byID[id]
	if !ok {
		b.mu.Unlock()
		return Order{}, ErrNotFound
	}
	delete(b.byID, id)
	if set, ok := b.byAccount[rec.order.AccountID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(b.byAccount, rec.order.AccountID)
		}
	}
	b.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.order, nil
}

// Expire removes every pending order whose ExpiresAt has passed as of
// now, returning them so the caller can release their reserved margin
// and persist the removal. An order with a zero ExpiresAt never expires.
func (b *Book) Expire(now time.Time) []Order {
	b.mu.Lock()
	var expired []*record
	for id, rec := range b.byID {
		if !rec.order.ExpiresAt.IsZero() && !rec.order.ExpiresAt.After(now) {
			expired = append(expired, rec)
			delete(b.byID, id)
			if set, ok := b.byAccount[rec.order.AccountID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.byAccount, rec.order.AccountID)
				}
			}
		}
	}
	b.mu.Unlock()

	out := make([]Order, 0, len(expired))
	for _, rec := range expired {
		rec.mu.Lock()
		out = append(out, rec.order)
		rec.mu.Unlock()
	}
	return out
}
