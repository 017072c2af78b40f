// Package priceengine holds the latest bid/ask/mid per symbol and fans
// updates out to subscribers. It is the single source of truth other
// components read prices from — Position Manager for unrealised P&L,
// the trigger engines for their predicates, and the gateway for
// PRICE_UPDATE broadcasts.
//
// Publishing one symbol never blocks publishing another: each symbol's
// record is guarded by its own lock, and subscriber callbacks run
// synchronously in registration order so a slow subscriber only delays
// fan-out for the symbol it is subscribed to.
package priceengine

import (
	"sync"
	"time"

	"propengine/internal/money"
)

// StaleAfter is the maximum age a price may have before consumers (not
// the engine itself) must reject it. The engine stamps; it does not filter.
const StaleAfter = 5 * time.Second

// Price is the latest known state for one symbol.
type Price struct {
	Symbol string

	ExternalBid money.Amount
	ExternalAsk money.Amount
	ExternalMid money.Amount

	InternalBid money.Amount
	InternalAsk money.Amount

	SpreadBps int64

	Change24h  money.Amount
	High24h    money.Amount
	Low24h     money.Amount
	Volume24h  money.Amount
	FundingRate money.Amount

	Timestamp time.Time
}

// IsStale reports whether the price is older than StaleAfter, relative to now.
func (p Price) IsStale(now time.Time) bool {
	return now.Sub(p.Timestamp) > StaleAfter
}

// Subscriber receives every published Price for every symbol. Filtering
// by symbol is the subscriber's job (cheap — it's just a map lookup).
type Subscriber func(Price)

type subscriberSlot struct {
	id int64
	cb Subscriber
}

// record is one symbol's mutable state, independently locked so that
// publishing symbol A never contends with publishing symbol B.
type record struct {
	mu    sync.RWMutex
	price Price
	ok    bool
}

// Engine is the Price Engine: the single bid/ask/mid source every
// other component reads from and subscribes to.
type Engine struct {
	spreadBps map[string]int64 // per-symbol basis-point markup, symmetric around mid
	defaultBps int64

	recordsMu sync.RWMutex
	records   map[string]*record

	subsMu  sync.Mutex
	subs    []subscriberSlot
	nextSub int64
}

// New creates a Price Engine. defaultBps is the markup applied to any
// symbol without an explicit override in spreadOverridesBps.
func New(defaultBps int64, spreadOverridesBps map[string]int64) *Engine {
	overrides := make(map[string]int64, len(spreadOverridesBps))
	for k, v := range spreadOverridesBps {
		overrides[k] = v
	}
	return &Engine{
		spreadBps:  overrides,
		defaultBps: defaultBps,
		records:    make(map[string]*record),
	}
}

// SetSpreadBps overrides the markup for one symbol (e.g. loaded from
// the market_pairs table at boot).
func (e *Engine) SetSpreadBps(symbol string, bps int64) {
	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	e.spreadBps[symbol] = bps
}

func (e *Engine) spreadFor(symbol string) int64 {
	e.recordsMu.RLock()
	defer e.recordsMu.RUnlock()
	if bps, ok := e.spreadBps[symbol]; ok {
		return bps
	}
	return e.defaultBps
}

// AuxFields carries the slower-moving quote attributes refreshed by the
// 24h/funding tick of the Market Feed. Zero values are left as-is by
// Publish when not provided by the caller — see PublishAux.
type AuxFields struct {
	Change24h   money.Amount
	High24h     money.Amount
	Low24h      money.Amount
	Volume24h   money.Amount
	FundingRate money.Amount
}

// Publish overwrites the record for symbol, applying the configured
// spread markup to derive the internal bid/ask, and stamps the current
// time. Subscribers are invoked synchronously, in registration order.
func (e *Engine) Publish(symbol string, externalBid, externalAsk money.Amount) {
	e.publish(symbol, externalBid, externalAsk, nil)
}

// PublishAux is Publish plus the slower-moving 24h/funding fields.
func (e *Engine) PublishAux(symbol string, externalBid, externalAsk money.Amount, aux AuxFields) {
	e.publish(symbol, externalBid, externalAsk, &aux)
}

func (e *Engine) publish(symbol string, externalBid, externalAsk money.Amount, aux *AuxFields) {
	mid := externalBid.Add(externalAsk).Div(money.FromInt(2))
	bps := e.spreadFor(symbol)
	halfSpread := mid.Mul(money.BasisPoints(bps)).Div(money.FromInt(2))

	p := Price{
		Symbol:      symbol,
		ExternalBid: externalBid,
		ExternalAsk: externalAsk,
		ExternalMid: mid,
		InternalBid: externalBid.Sub(halfSpread),
		InternalAsk: externalAsk.Add(halfSpread),
		SpreadBps:   bps,
		Timestamp:   time.Now(),
	}
	if aux != nil {
		p.Change24h = aux.Change24h
		p.High24h = aux.High24h
		p.Low24h = aux.Low24h
		p.Volume24h = aux.Volume24h
		p.FundingRate = aux.FundingRate
	} else if prev, ok := e.Get(symbol); ok {
		p.Change24h = prev.Change24h
		p.High24h = prev.High24h
		p.Low24h = prev.Low24h
		p.Volume24h = prev.Volume24h
		p.FundingRate = prev.FundingRate
	}

	if p.InternalAsk.LessThan(p.InternalBid) {
		panic("priceengine: internal ask < internal bid for " + symbol)
	}

	e.recordsMu.Lock()
	rec, ok := e.records[symbol]
	if !ok {
		rec = &record{}
		e.records[symbol] = rec
	}
	e.recordsMu.Unlock()

	rec.mu.Lock()
	rec.price = p
	rec.ok = true
	rec.mu.Unlock()

	e.fanOut(p)
}

func (e *Engine) fanOut(p Price) {
	e.subsMu.Lock()
	slots := make([]subscriberSlot, len(e.subs))
	copy(slots, e.subs)
	e.subsMu.Unlock()

	for _, s := range slots {
		s.cb(p)
	}
}

// Get returns the last published price for symbol, or false if none.
func (e *Engine) Get(symbol string) (Price, bool) {
	e.recordsMu.RLock()
	rec, ok := e.records[symbol]
	e.recordsMu.RUnlock()
	if !ok {
		return Price{}, false
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.price, rec.ok
}

// Handle is returned by Subscribe and is used to Unsubscribe.
type Handle int64

// Subscribe registers cb to be invoked on every Publish, for any symbol.
// cb must not perform long-running work — it runs on the publisher's
// goroutine and blocks that symbol's fan-out until it returns.
func (e *Engine) Subscribe(cb Subscriber) Handle {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, subscriberSlot{id: id, cb: cb})
	return Handle(id)
}

// Unsubscribe removes a previously registered subscriber.
func (e *Engine) Unsubscribe(h Handle) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for i, s := range e.subs {
		if s.id == int64(h) {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}
