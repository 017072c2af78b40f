// Package audit maintains the append-only, hash-chained event log.
// Every event's hash is computed over the previous event's hash, the
// event's payload, and its timestamp, so the sequence of events for an
// account can be verified contiguous after the fact.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"propengine/pkg/ids"
)

// EventType is drawn from a closed vocabulary — never construct one
// ad hoc outside this list.
type EventType string

const (
	OrderPlaced        EventType = "ORDER_PLACED"
	OrderFilled        EventType = "ORDER_FILLED"
	OrderCancelled     EventType = "ORDER_CANCELLED"
	PositionOpened     EventType = "POSITION_OPENED"
	PositionClosed     EventType = "POSITION_CLOSED"
	TPTriggered        EventType = "TP_TRIGGERED"
	SLTriggered        EventType = "SL_TRIGGERED"
	LiquidationTrigger EventType = "LIQUIDATION_TRIGGERED"
	DailyLossBreach    EventType = "DAILY_LOSS_BREACH"
	DrawdownBreach     EventType = "DRAWDOWN_BREACH"
	MarginUpdate       EventType = "MARGIN_UPDATE"
)

// Event is one entry in an account's hash chain.
type Event struct {
	ID            string
	AccountID     string
	Type          EventType
	Payload       json.RawMessage
	Timestamp     time.Time
	PreviousHash  string
	Hash          string
}

// chain is the per-account tail-hash tracker.
type chain struct {
	mu       sync.Mutex
	lastHash string
}

// Log appends audit events and exposes a per-account hash chain. It
// holds only the tail hash of each chain in memory — full history is
// the Store's responsibility to persist and the caller's responsibility
// to read back for verification.
type Log struct {
	mu     sync.RWMutex
	chains map[string]*chain

	// Sink receives every appended event, in append order, for the
	// persistence queue to pick up. A nil Sink means events are
	// hashed and discarded — useful in tests.
	Sink func(Event)
}

// New creates an empty Log.
func New() *Log {
	return &Log{chains: make(map[string]*chain)}
}

func (l *Log) chainFor(accountID string) *chain {
	l.mu.RLock()
	c, ok := l.chains[accountID]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.chains[accountID]; ok {
		return c
	}
	c = &chain{}
	l.chains[accountID] = c
	return c
}

// Append records one event for accountID, computing its hash from the
// chain's current tail, and advances the tail. payload is marshalled
// to JSON before hashing so the hash is reproducible from stored data.
func (l *Log) Append(accountID string, eventType EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	c := l.chainFor(accountID)
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := time.Now().UTC()
	ev := Event{
		ID:           ids.NewEventID(),
		AccountID:    accountID,
		Type:         eventType,
		Payload:      raw,
		Timestamp:    ts,
		PreviousHash: c.lastHash,
	}
	ev.Hash = computeHash(ev.PreviousHash, raw, ts)
	c.lastHash = ev.Hash

	if l.Sink != nil {
		l.Sink(ev)
	}
	return ev, nil
}

func computeHash(previousHash string, payload []byte, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(payload)
	h.Write([]byte(ts.Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify recomputes the hash chain over a previously persisted
// sequence of events for one account and reports whether it is
// contiguous and untampered. events must be in append order.
func Verify(events []Event) bool {
	prev := ""
	for _, ev := range events {
		if ev.PreviousHash != prev {
			return false
		}
		if computeHash(ev.PreviousHash, ev.Payload, ev.Timestamp) != ev.Hash {
			return false
		}
		prev = ev.Hash
	}
	return true
}
