package gateway

import (
	"log/slog"
	"sync"
	"time"

	"propengine/internal/execution"
	"propengine/internal/metrics"
	"propengine/internal/money"
	"propengine/internal/priceengine"
)

// reapInterval is how often the hub sweeps for dead connections.
const reapInterval = 15 * time.Second

// priceFlushInterval is how often coalesced price updates are fanned
// out to subscribed sessions: BroadcastPrice only buffers the latest
// tick per symbol, and this ticker drains the buffer in one pass so a
// hot symbol doesn't push a frame per tick to every session.
const priceFlushInterval = 100 * time.Millisecond

// Hub owns every connected Session and fans price updates out only to
// the sessions subscribed to each symbol. Order-book subscriptions are
// recorded per session, but the Hub sends no order-book frames.
type Hub struct {
	log *slog.Logger

	register   chan *Session
	unregister chan *Session

	mu       sync.RWMutex
	sessions map[*Session]bool
	byOwner  map[string]map[*Session]bool

	priceMu     sync.Mutex
	priceBuffer map[string]priceengine.Price

	// OwnerLookup resolves an account id to its owner id. The hub has
	// no direct dependency on account.Manager, so the wiring root
	// installs this after construction.
	OwnerLookup OwnerLookupFunc

	// Metrics is optional; nil leaves connection/drop counters unset.
	Metrics *metrics.Registry
}

// OwnerLookupFunc resolves an account id to (owner id, found).
type OwnerLookupFunc func(accountID string) (string, bool)

// NewHub creates an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log.With("component", "gateway_hub"),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		sessions:    make(map[*Session]bool),
		byOwner:     make(map[string]map[*Session]bool),
		priceBuffer: make(map[string]priceengine.Price),
	}
}

// Run owns the registration/unregistration loop; it must be the only
// writer of h.sessions, keeping a single-goroutine discipline around
// the session map.
func (h *Hub) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	priceTicker := time.NewTicker(priceFlushInterval)
	defer priceTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-priceTicker.C:
			h.flushPrices()
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			h.mu.Unlock()
			h.log.Info("session connected", "count", h.count())
			h.recordConnectionCount()

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				if owner, authed := s.isAuthenticated(); authed {
					if set, ok := h.byOwner[owner]; ok {
						delete(set, s)
						if len(set) == 0 {
							delete(h.byOwner, owner)
						}
					}
				}
				close(s.send)
			}
			h.mu.Unlock()
			h.log.Info("session disconnected", "count", h.count())
			h.recordConnectionCount()

		case <-ticker.C:
			h.reapIdle()
		}
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) recordConnectionCount() {
	if h.Metrics != nil {
		h.Metrics.GatewayConnections.Set(float64(h.count()))
	}
}

func (h *Hub) recordDrop(frameType string) {
	if h.Metrics != nil {
		h.Metrics.GatewayFramesDropped.WithLabelValues(frameType).Inc()
	}
}

// bindOwner indexes an authenticated session by owner id so
// NotifyBreach/NotifyRiskWarning can target it directly.
func (h *Hub) bindOwner(ownerID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byOwner[ownerID] == nil {
		h.byOwner[ownerID] = make(map[*Session]bool)
	}
	h.byOwner[ownerID][s] = true
}

func (h *Hub) reapIdle() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if s.idleSince() > pongWait {
			h.log.Info("reaping idle session", "session_id", s.ID)
			s.conn.Close()
		}
	}
}

// BroadcastPrice buffers the latest tick for p.Symbol; Run's
// priceTicker drains the buffer every priceFlushInterval, coalescing
// any ticks that land within the same window into a single frame per
// session.
func (h *Hub) BroadcastPrice(p priceengine.Price) {
	h.priceMu.Lock()
	h.priceBuffer[p.Symbol] = p
	h.priceMu.Unlock()
}

// flushPrices fans every buffered price out to the sessions subscribed
// to its symbol, then clears the buffer.
func (h *Hub) flushPrices() {
	h.priceMu.Lock()
	if len(h.priceBuffer) == 0 {
		h.priceMu.Unlock()
		return
	}
	prices := h.priceBuffer
	h.priceBuffer = make(map[string]priceengine.Price, len(prices))
	h.priceMu.Unlock()

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		for _, p := range prices {
			if s.isSubscribed(p.Symbol) {
				s.sendEnvelope(OutPriceUpdate, priceUpdatePayload(p))
			}
		}
	}
}

func priceUpdatePayload(p priceengine.Price) map[string]any {
	return map[string]any{
		"symbol":      p.Symbol,
		"bid":         p.InternalBid.String(),
		"ask":         p.InternalAsk.String(),
		"externalMid": p.ExternalMid.String(),
		"spreadBps":   p.SpreadBps,
		"timestamp":   p.Timestamp,
	}
}

// NotifyBreach implements trigger.BreachNotifier: pushes
// ACCOUNT_BREACHED to every session bound to the breached account's owner.
func (h *Hub) NotifyBreach(accountID string, closed execution.BatchCloseResult) {
	payload := map[string]any{
		"accountId":    accountID,
		"closedCount":  closed.ClosedCount,
		"totalPnl":     closed.TotalPnL.String(),
		"skippedStale": closed.SkippedStale,
	}
	h.sendToOwnerOfAccount(accountID, OutAccountBreached, payload)
}

// NotifyRiskWarning implements trigger.BreachNotifier.
func (h *Hub) NotifyRiskWarning(accountID string, axis string, pct money.Amount) {
	payload := map[string]any{
		"accountId": accountID,
		"axis":      axis,
		"pct":       pct.String(),
	}
	h.sendToOwnerOfAccount(accountID, OutRiskWarning, payload)
}

// sendToOwnerOfAccount resolves accountID to an owner via the lookup
// function installed by the wiring root (OwnerLookup), then fans the
// event to every live session for that owner.
func (h *Hub) sendToOwnerOfAccount(accountID string, t OutboundType, payload any) {
	if h.OwnerLookup == nil {
		return
	}
	owner, ok := h.OwnerLookup(accountID)
	if !ok {
		return
	}

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.byOwner[owner]))
	for s := range h.byOwner[owner] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.sendCritical(t, payload)
	}
}

