package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"propengine/internal/account"
	"propengine/internal/execution"
	"propengine/internal/money"
	"propengine/internal/orderbook"
	"propengine/internal/position"
	"propengine/pkg/ids"
)

// commandSlotWait is the bounded wait a gateway-initiated account
// mutation (placing/cancelling a limit order) gives the account slot —
// the same budget the kernel uses for user-initiated commands.
const commandSlotWait = 100 * time.Millisecond

// defaultOrderTTL is how long a resting LIMIT order waits for a
// trigger before the expiry sweep removes it and releases its margin.
const defaultOrderTTL = 24 * time.Hour

// OrderPersister durably records the resting orders the gateway places
// and removes directly (LIMIT orders never pass through the kernel
// until the Limit-Fill engine triggers them).
type OrderPersister interface {
	PersistOrder(orderbook.Order)
	PersistOrderRemoval(orderID string)
}

// Dispatcher holds every collaborator a command handler needs and
// implements the inbound command table. One Dispatcher is shared by
// every Session on the Hub.
type Dispatcher struct {
	log    *slog.Logger
	hub    *Hub
	auth   *Authenticator
	kernel *execution.Kernel

	accounts  *account.Manager
	positions *position.Manager
	orders    *orderbook.Book
	store     OrderPersister

	// SymbolMaxLeverage mirrors execution.Kernel.SymbolMaxLeverage — the
	// margin a resting LIMIT order reserves must cap leverage exactly
	// the way kernel.Open will when the order later fills, or the
	// reservation and the fill's actual margin requirement diverge.
	SymbolMaxLeverage func(symbol string) (int64, bool)
}

// NewDispatcher wires a Dispatcher against its collaborators. store
// may be nil, in which case placed/cancelled orders are not persisted
// (useful in tests).
func NewDispatcher(log *slog.Logger, hub *Hub, auth *Authenticator, kernel *execution.Kernel, accounts *account.Manager, positions *position.Manager, orders *orderbook.Book, store OrderPersister) *Dispatcher {
	return &Dispatcher{
		log:       log.With("component", "gateway_dispatcher"),
		hub:       hub,
		auth:      auth,
		kernel:    kernel,
		accounts:  accounts,
		positions: positions,
		orders:    orders,
		store:     store,
	}
}

// Handle is the dispatch(s, env) function readPump invokes for every
// decoded frame. Every command except AUTH and PING requires a
// previously authenticated session.
func (d *Dispatcher) Handle(s *Session, env Envelope) {
	t := InboundType(env.Type)

	if t == InAuth {
		d.handleAuth(s, env)
		return
	}
	if t == InPing {
		s.sendCritical(OutPong, struct{}{})
		return
	}

	if _, authed := s.isAuthenticated(); !authed {
		s.sendError("not_authenticated", "send AUTH before any other command")
		return
	}

	switch t {
	case InSubscribe:
		d.handleSubscribe(s, env, true, false)
	case InUnsubscribe:
		d.handleSubscribe(s, env, false, false)
	case InSubscribeOrderBook:
		d.handleSubscribe(s, env, true, true)
	case InUnsubscribeOrderBook:
		d.handleSubscribe(s, env, false, true)
	case InPlaceOrder:
		d.handlePlaceOrder(s, env)
	case InCancelOrder:
		d.handleCancelOrder(s, env)
	case InGetPendingOrders:
		d.handleGetPendingOrders(s, env)
	case InClosePosition:
		d.handleClosePosition(s, env)
	case InModifyPosition:
		d.handleModifyPosition(s, env)
	case InGetPositions:
		d.handleGetPositions(s, env)
	case InPong:
		s.touchPong()
	default:
		s.sendError("unknown_command", string(env.Type))
	}
}

func (d *Dispatcher) handleAuth(s *Session, env Envelope) {
	var p AuthPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}
	ownerID, err := d.auth.Verify(p.Token)
	if err != nil {
		s.sendCritical(OutAuthFailed, ErrorPayload{Kind: "invalid_token"})
		return
	}
	s.setAuthenticated(ownerID)
	d.hub.bindOwner(ownerID, s)
	s.sendCritical(OutAuthenticated, map[string]any{"ownerId": ownerID})
}

func (d *Dispatcher) handleSubscribe(s *Session, env Envelope, subscribe, orderBook bool) {
	var p SubscribePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}
	s.setSubscriptions(p.Symbols, subscribe, orderBook)
}

func (d *Dispatcher) handlePlaceOrder(s *Session, env Envelope) {
	var p PlaceOrderPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}

	size, err := decimal.NewFromString(p.Size)
	if err != nil {
		s.sendError("malformed_payload", "size: "+err.Error())
		return
	}

	dir := position.Direction(p.Direction)
	orderType := execution.OrderType(p.Type)
	if orderType != execution.Limit {
		orderType = execution.Market
	}

	ownerID, _ := s.isAuthenticated()
	req := execution.OpenRequest{
		OwnerID:       ownerID,
		AccountID:     p.AccountID,
		Symbol:        p.Symbol,
		Direction:     dir,
		Type:          orderType,
		Size:          size,
		Leverage:      p.Leverage,
		ClientOrderID: p.ClientOrderID,
	}
	if amt, ok := parseOptionalAmount(p.LimitPrice); ok {
		req.LimitPrice = &amt
	}
	if amt, ok := parseOptionalAmount(p.TakeProfit); ok {
		req.TakeProfit = &amt
	}
	if amt, ok := parseOptionalAmount(p.StopLoss); ok {
		req.StopLoss = &amt
	}

	if req.Type == execution.Limit {
		d.placeLimitOrder(s, req)
		return
	}

	result, err := d.kernel.Open(context.Background(), req)
	if err != nil {
		d.sendExecError(s, err)
		return
	}
	s.sendCritical(OutOrderFilled, openResultPayload(result))
}

// placeLimitOrder reserves margin against the account and rests the
// order in the book rather than executing immediately; the
// Limit-Fill trigger engine takes it from here.
func (d *Dispatcher) placeLimitOrder(s *Session, req execution.OpenRequest) {
	if req.LimitPrice == nil {
		s.sendError("malformed_payload", "limitPrice required for a LIMIT order")
		return
	}

	acct, err := d.accounts.Get(req.AccountID)
	if err != nil {
		s.sendError(string(execution.ReasonAccountNotFound), req.AccountID)
		return
	}
	if acct.OwnerID != req.OwnerID {
		s.sendError(string(execution.ReasonUnauthorized), "owner mismatch")
		return
	}
	if !acct.Status.AcceptsOrders() {
		s.sendError(string(execution.ReasonAccountInactive), string(acct.Status))
		return
	}
	if req.ClientOrderID != "" {
		for _, existing := range d.orders.ByAccount(req.AccountID) {
			if existing.ClientOrderID == req.ClientOrderID {
				s.sendError(string(execution.ReasonDuplicateClientOrder), req.ClientOrderID)
				return
			}
		}
	}

	leverage := req.Leverage
	if acct.MaxLeverage > 0 && leverage > acct.MaxLeverage {
		leverage = acct.MaxLeverage
	}
	if d.SymbolMaxLeverage != nil {
		if symbolMax, ok := d.SymbolMaxLeverage(req.Symbol); ok && symbolMax > 0 && leverage > symbolMax {
			leverage = symbolMax
		}
	}
	notional := req.Size.Mul(*req.LimitPrice)
	marginRequired := notional.Div(money.FromInt(leverage))

	_, err = d.accounts.WithLock(context.Background(), req.AccountID, commandSlotWait, func(st account.State) (account.State, error) {
		if marginRequired.GreaterThan(st.AvailableMargin) {
			return st, &execution.Error{
				Reason:    execution.ReasonInsufficientMargin,
				Required:  marginRequired.String(),
				Available: st.AvailableMargin.String(),
			}
		}
		st.AvailableMargin = st.AvailableMargin.Sub(marginRequired)
		return st, nil
	})
	if err != nil {
		d.sendExecError(s, err)
		return
	}

	now := time.Now()
	order := orderbook.Order{
		ID:             ids.NewOrderID(),
		ClientOrderID:  req.ClientOrderID,
		AccountID:      req.AccountID,
		Symbol:         req.Symbol,
		Direction:      req.Direction,
		Size:           req.Size,
		LimitPrice:     *req.LimitPrice,
		ReservedMargin: marginRequired,
		Leverage:       leverage,
		TakeProfit:     req.TakeProfit,
		StopLoss:       req.StopLoss,
		CreatedAt:      now,
		ExpiresAt:      now.Add(defaultOrderTTL),
	}
	if err := d.orders.Place(order); err != nil {
		if relErr := d.accounts.ReleaseReserved(context.Background(), req.AccountID, marginRequired, commandSlotWait); relErr != nil {
			d.log.Error("release reserved margin after rejected order placement failed", "error", relErr)
		}
		s.sendError(string(execution.ReasonDuplicateClientOrder), req.ClientOrderID)
		return
	}
	if d.store != nil {
		d.store.PersistOrder(order)
	}
	s.sendCritical(OutOrderFilled, map[string]any{
		"orderId":  order.ID,
		"status":   "PENDING",
		"symbol":   order.Symbol,
		"limitPrice": order.LimitPrice.String(),
	})
}

func (d *Dispatcher) handleCancelOrder(s *Session, env Envelope) {
	var p CancelOrderPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}
	ord, err := d.orders.Remove(p.OrderID)
	if err != nil {
		s.sendError("order_not_found", p.OrderID)
		return
	}
	if err := d.accounts.ReleaseReserved(context.Background(), ord.AccountID, ord.ReservedMargin, commandSlotWait); err != nil {
		d.log.Error("release reserved margin on cancel failed", "order_id", ord.ID, "error", err)
	}
	if d.store != nil {
		d.store.PersistOrderRemoval(ord.ID)
	}
	s.sendCritical(OutOrderFilled, map[string]any{"orderId": ord.ID, "status": "CANCELLED"})
}

func (d *Dispatcher) handleGetPendingOrders(s *Session, env Envelope) {
	var p GetPendingOrdersPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}
	orders := d.orders.ByAccount(p.AccountID)
	out := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		out = append(out, map[string]any{
			"orderId":    o.ID,
			"symbol":     o.Symbol,
			"direction":  o.Direction,
			"size":       o.Size.String(),
			"limitPrice": o.LimitPrice.String(),
		})
	}
	s.sendCritical(OutOrderFilled, map[string]any{"orders": out})
}

func (d *Dispatcher) handleClosePosition(s *Session, env Envelope) {
	var p ClosePositionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}

	pos, err := d.positions.Get(p.PositionID)
	if err != nil {
		s.sendError(string(execution.ReasonPositionNotFound), p.PositionID)
		return
	}
	ownerID, _ := s.isAuthenticated()
	if acct, err := d.accounts.Get(pos.AccountID); err != nil || acct.OwnerID != ownerID {
		s.sendError(string(execution.ReasonUnauthorized), "owner mismatch")
		return
	}

	req := execution.CloseRequest{
		PositionID: p.PositionID,
		ClosePrice: pos.MarkPrice,
		Reason:     execution.Manual,
	}
	if amt, ok := parseOptionalAmount(p.Quantity); ok {
		req.CloseQuantity = &amt
	}

	result, err := d.kernel.Close(context.Background(), req)
	if err != nil {
		d.sendExecError(s, err)
		return
	}
	s.sendCritical(OutPositionClosed, closeResultPayload(result))
}

func (d *Dispatcher) handleModifyPosition(s *Session, env Envelope) {
	var p ModifyPositionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}

	pos, err := d.positions.Get(p.PositionID)
	if err != nil {
		s.sendError(string(execution.ReasonPositionNotFound), p.PositionID)
		return
	}
	ownerID, _ := s.isAuthenticated()
	if acct, err := d.accounts.Get(pos.AccountID); err != nil || acct.OwnerID != ownerID {
		s.sendError(string(execution.ReasonUnauthorized), "owner mismatch")
		return
	}

	var tp, sl *money.Amount
	if amt, ok := parseOptionalAmount(p.TakeProfit); ok {
		tp = &amt
	}
	if amt, ok := parseOptionalAmount(p.StopLoss); ok {
		sl = &amt
	}
	if err := d.positions.SetTPSL(p.PositionID, tp, sl); err != nil {
		s.sendError("position_not_found", p.PositionID)
		return
	}
	s.sendCritical(OutPositionClosed, map[string]any{"positionId": p.PositionID, "status": "MODIFIED"})
}

func (d *Dispatcher) handleGetPositions(s *Session, env Envelope) {
	var p GetPositionsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.sendError("malformed_payload", err.Error())
		return
	}
	positions := d.positions.ByAccount(p.AccountID)
	out := make([]map[string]any, 0, len(positions))
	for _, pos := range positions {
		out = append(out, map[string]any{
			"positionId":    pos.ID,
			"symbol":        pos.Symbol,
			"direction":     pos.Direction,
			"size":          pos.Size.String(),
			"entryPrice":    pos.EntryPrice.String(),
			"markPrice":     pos.MarkPrice.String(),
			"unrealizedPnl": pos.UnrealizedPnL.String(),
		})
	}
	s.sendCritical(OutOrderFilled, map[string]any{"positions": out})
}

func (d *Dispatcher) sendExecError(s *Session, err error) {
	reason := execution.ReasonOf(err)
	if execErr, ok := err.(*execution.Error); ok && reason == execution.ReasonInsufficientMargin {
		s.sendCritical(OutError, ErrorPayload{Kind: string(reason), Message: execErr.Error()})
		return
	}
	s.sendError(string(reason), err.Error())
}

func parseOptionalAmount(raw *string) (money.Amount, bool) {
	if raw == nil || *raw == "" {
		return money.Zero, false
	}
	amt, err := decimal.NewFromString(*raw)
	if err != nil {
		return money.Zero, false
	}
	return amt, true
}

func openResultPayload(r *execution.OpenResult) map[string]any {
	return map[string]any{
		"positionId": r.Position.ID,
		"symbol":     r.Position.Symbol,
		"direction":  r.Position.Direction,
		"size":       r.Position.Size.String(),
		"execPrice":  r.ExecPrice.String(),
		"elapsedMs":  r.ElapsedMs,
	}
}

func closeResultPayload(r *execution.CloseResult) map[string]any {
	payload := map[string]any{
		"tradeId":    r.Trade.TradeID,
		"positionId": r.Trade.PositionID,
		"netPnl":     r.Trade.NetPnL.String(),
		"exitPrice":  r.ExecPrice.String(),
		"reason":     r.Trade.Reason,
	}
	if r.RemainingPosition != nil {
		payload["remainingSize"] = r.RemainingPosition.Size.String()
	}
	return payload
}
