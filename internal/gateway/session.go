package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"propengine/pkg/ids"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024

	// maxBufferedBytes is the backpressure ceiling: a price or
	// order-book frame is silently dropped for this session on this
	// tick once its send channel holds more than this many bytes.
	maxBufferedBytes = 64 * 1024
)

// Session is one authenticated (or pre-authentication) duplex client
// connection.
type Session struct {
	ID    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	log   *slog.Logger

	mu               sync.Mutex
	authenticated    bool
	ownerID          string
	subscriptions    map[string]bool
	orderBookSubs    map[string]bool
	lastPongAt       time.Time
	lastActivityAt   time.Time
	bufferedBytes    int
}

func newSession(hub *Hub, conn *websocket.Conn, log *slog.Logger) *Session {
	now := time.Now()
	return &Session{
		ID:             ids.NewEventID(), // reuse the prefixed-uuid generator; "evt_" prefix is irrelevant here, uniqueness is what matters
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		log:            log.With("component", "gateway_session"),
		subscriptions:  make(map[string]bool),
		orderBookSubs:  make(map[string]bool),
		lastPongAt:     now,
		lastActivityAt: now,
	}
}

// isSubscribed reports whether the session wants PRICE_UPDATE frames
// for symbol.
func (s *Session) isSubscribed(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[symbol]
}

func (s *Session) isSubscribedOrderBook(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderBookSubs[symbol]
}

// setSubscriptions adds or removes symbols from the session's price
// (or, if orderBook is true, order-book) subscription set.
func (s *Session) setSubscriptions(symbols []string, subscribe, orderBook bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subscriptions
	if orderBook {
		set = s.orderBookSubs
	}
	for _, symbol := range symbols {
		if subscribe {
			set[symbol] = true
		} else {
			delete(set, symbol)
		}
	}
}

func (s *Session) setAuthenticated(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.ownerID = ownerID
}

func (s *Session) isAuthenticated() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerID, s.authenticated
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now()
}

func (s *Session) touchPong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPongAt = time.Now()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastPongAt)
}

// sendEnvelope marshals and queues a message, applying the backpressure
// rule: if the session's queue already holds more than maxBufferedBytes,
// the frame is dropped for this tick rather than blocking the caller.
func (s *Session) sendEnvelope(t OutboundType, payload any) {
	data, err := outbound(t, payload)
	if err != nil {
		s.log.Error("marshal outbound envelope failed", "type", t, "error", err)
		return
	}
	s.sendRaw(data, true, string(t))
}

// sendCritical is like sendEnvelope but never drops for backpressure —
// used for direct command replies and one-shot events (ORDER_FILLED,
// POSITION_CLOSED, ACCOUNT_BREACHED) that must reach the client.
func (s *Session) sendCritical(t OutboundType, payload any) {
	data, err := outbound(t, payload)
	if err != nil {
		s.log.Error("marshal outbound envelope failed", "type", t, "error", err)
		return
	}
	s.sendRaw(data, false, string(t))
}

func (s *Session) sendRaw(data []byte, droppable bool, frameType string) {
	s.mu.Lock()
	buffered := s.bufferedBytes
	s.mu.Unlock()

	if droppable && buffered > maxBufferedBytes {
		s.hub.recordDrop(frameType)
		return
	}

	select {
	case s.send <- data:
		s.mu.Lock()
		s.bufferedBytes += len(data)
		s.mu.Unlock()
	default:
		s.log.Warn("session send channel full, disconnecting", "session_id", s.ID)
		s.hub.unregister <- s
	}
}

func (s *Session) sendError(kind, message string) {
	s.sendCritical(OutError, ErrorPayload{Kind: kind, Message: message})
}

// writePump drains the send channel to the connection, sending a
// server-initiated PING on every pingPeriod tick.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.mu.Lock()
			s.bufferedBytes -= len(message)
			s.mu.Unlock()
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound frames and dispatches them to the hub's
// command handler. 60s without a PONG closes the connection with code
// 1000 and reaps it.
func (s *Session) readPump(dispatch func(*Session, Envelope)) {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.touchPong()
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error("websocket read error", "error", err)
			}
			return
		}
		s.touch()

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendError("malformed_message", err.Error())
			continue
		}
		dispatch(s, env)
	}
}
