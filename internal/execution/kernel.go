// Package execution implements the synchronous execution kernel: the
// Order Executor (open), the Close Executor (close / partial close),
// and the batch-close path the Risk-Breach engine uses to unwind an
// account in one shot. Every algorithm here runs under the target
// account's mutual-exclusion slot so the compound balance/margin
// mutation is atomic from any observer's point of view.
package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"propengine/internal/account"
	"propengine/internal/audit"
	"propengine/internal/metrics"
	"propengine/internal/money"
	"propengine/internal/orderbook"
	"propengine/internal/position"
	"propengine/internal/priceengine"
	"propengine/pkg/ids"
)

// Config holds the fee schedule and timing budgets the kernel applies
// uniformly across accounts. Concrete values are a policy choice of
// the deployment, not of the kernel.
type Config struct {
	EntryFeeBps           int64
	ExitFeeBps            int64
	MaintenanceMarginBps  int64 // included in the liquidation-price formula, see DESIGN.md Open Questions
	StaleAfter            time.Duration
	UserSlotWait          time.Duration // wait budget for user-initiated commands
	SystemSlotWait        time.Duration // wait budget for trigger-engine-initiated commands
}

// DefaultConfig matches the figures used in the worked examples.
func DefaultConfig() Config {
	return Config{
		EntryFeeBps:          5,
		ExitFeeBps:           5,
		MaintenanceMarginBps: 40,
		StaleAfter:           5 * time.Second,
		UserSlotWait:         100 * time.Millisecond,
		SystemSlotWait:       50 * time.Millisecond,
	}
}

// Persister receives every successful open and close so the caller
// can durably persist it. A nil Persister leaves state changes
// in-memory only — the default in tests.
type Persister interface {
	PersistOpen(position.Position)
	PersistClose(trade TradeRecord, remaining *position.Position)
}

// Kernel wires the Price Engine, Account Manager, Position Manager,
// and pending-order book together behind the open/close algorithms.
// It has no goroutine of its own — every method runs on its caller's
// goroutine (a gateway command handler or a trigger engine's tick).
type Kernel struct {
	cfg Config

	prices    *priceengine.Engine
	accounts  *account.Manager
	positions *position.Manager
	orders    *orderbook.Book
	auditLog  *audit.Log
	persister Persister
	metrics   *metrics.Registry

	dedupeMu sync.Mutex
	dedupe   map[string]*OpenResult // accountID+":"+clientOrderID -> result

	// SymbolMaxLeverage looks up a per-symbol leverage ceiling (loaded
	// from the market_pairs table). A nil func or a false/zero result
	// leaves only the account's own MaxLeverage in effect.
	SymbolMaxLeverage func(symbol string) (int64, bool)
}

// New wires a Kernel against its collaborators.
func New(cfg Config, prices *priceengine.Engine, accounts *account.Manager, positions *position.Manager, orders *orderbook.Book, auditLog *audit.Log) *Kernel {
	return &Kernel{
		cfg:       cfg,
		prices:    prices,
		accounts:  accounts,
		positions: positions,
		orders:    orders,
		auditLog:  auditLog,
		dedupe:    make(map[string]*OpenResult),
	}
}

// SetPersister wires the durable-storage callback. Called once at
// startup, before the kernel handles any request.
func (k *Kernel) SetPersister(p Persister) {
	k.persister = p
}

// SetMetrics wires the latency histograms. Called once at startup.
func (k *Kernel) SetMetrics(m *metrics.Registry) {
	k.metrics = m
}

// OrderType distinguishes a market order from a resting limit order.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// OpenRequest is the Order Executor's input.
type OpenRequest struct {
	OwnerID       string
	AccountID     string
	Symbol        string
	Direction     position.Direction
	Type          OrderType
	Size          money.Amount
	Leverage      int64
	LimitPrice    *money.Amount
	TakeProfit    *money.Amount
	StopLoss      *money.Amount
	ClientOrderID string

	// System is true when the caller is a trigger engine (the
	// Limit-Fill engine re-opening a filled order), which uses the
	// shorter SystemSlotWait budget instead of UserSlotWait.
	System bool
}

// OpenResult is the Order Executor's successful output.
type OpenResult struct {
	Position  position.Position
	Account   account.State
	ExecPrice money.Amount
	ElapsedMs float64
}

// Open runs the full open algorithm under the account's slot: price
// freshness check, status/ownership check, margin/fee computation,
// liquidation price, position creation, and account patch — all
// atomic, or none of it happens.
func (k *Kernel) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	start := time.Now()

	if req.ClientOrderID != "" {
		if cached := k.lookupDedupe(req.AccountID, req.ClientOrderID); cached != nil {
			return cached, nil
		}
	}

	price, ok := k.prices.Get(req.Symbol)
	if !ok {
		return nil, newError(ReasonPriceUnavailable, req.Symbol)
	}
	if price.IsStale(time.Now()) {
		return nil, newError(ReasonPriceStale, req.Symbol)
	}

	var execPrice money.Amount
	switch req.Direction {
	case position.Long:
		execPrice = price.InternalAsk
	case position.Short:
		execPrice = price.InternalBid
	}

	if req.Type == Limit {
		triggered := false
		if req.LimitPrice != nil {
			o := orderbook.Order{Direction: req.Direction, LimitPrice: *req.LimitPrice}
			triggered = o.Triggered(price.InternalBid, price.InternalAsk)
		}
		if !triggered {
			return nil, newError(ReasonLimitPriceNotMet, req.Symbol)
		}
		execPrice = money.Min(execPrice, *req.LimitPrice)
		if req.Direction == position.Short {
			execPrice = money.Max(price.InternalBid, *req.LimitPrice)
		}
	}

	wait := k.cfg.UserSlotWait
	if req.System {
		wait = k.cfg.SystemSlotWait
	}

	notional := req.Size.Mul(execPrice)
	entryFee := notional.Mul(money.BasisPoints(k.cfg.EntryFeeBps))
	marginRequired := notional.Div(money.FromInt(req.Leverage))

	var pos position.Position
	var settled account.State
	_, err := k.accounts.WithLock(ctx, req.AccountID, wait, func(st account.State) (account.State, error) {
		if st.OwnerID != req.OwnerID {
			return st, newError(ReasonUnauthorized, "owner mismatch")
		}
		if !st.Status.AcceptsOrders() {
			return st, newError(ReasonAccountInactive, string(st.Status))
		}

		leverage := req.Leverage
		if st.MaxLeverage > 0 && leverage > st.MaxLeverage {
			leverage = st.MaxLeverage
		}
		if k.SymbolMaxLeverage != nil {
			if symbolMax, ok := k.SymbolMaxLeverage(req.Symbol); ok && symbolMax > 0 && leverage > symbolMax {
				leverage = symbolMax
			}
		}
		notional = req.Size.Mul(execPrice)
		entryFee = notional.Mul(money.BasisPoints(k.cfg.EntryFeeBps))
		marginRequired = notional.Div(money.FromInt(leverage))

		if marginRequired.Add(entryFee).GreaterThan(st.AvailableMargin) {
			return st, &Error{
				Reason:    ReasonInsufficientMargin,
				Message:   "margin required exceeds available margin",
				Required:  marginRequired.Add(entryFee).String(),
				Available: st.AvailableMargin.String(),
			}
		}

		liqPrice := liquidationPrice(req.Direction, execPrice, leverage, k.cfg.MaintenanceMarginBps)

		pos = position.Position{
			ID:         ids.NewPositionID(),
			AccountID:  req.AccountID,
			Symbol:     req.Symbol,
			Direction:  req.Direction,
			Size:       req.Size,
			EntryPrice: execPrice,
			EntryValue: notional,
			Margin:     marginRequired,
			EntryFee:   entryFee,
			Leverage:   leverage,
			LiquidationPrice: liqPrice,
			TakeProfit: req.TakeProfit,
			StopLoss:   req.StopLoss,
			MarkPrice:  execPrice,
			OpenedAt:   time.Now(),
		}

		st.AvailableMargin = st.AvailableMargin.Sub(marginRequired).Sub(entryFee)
		st.UsedMargin = st.UsedMargin.Add(marginRequired)
		st.Balance = st.Balance.Sub(entryFee)
		st.TotalTrades++
		st.TotalVolume = st.TotalVolume.Add(notional)
		st.LastTradeAt = time.Now()
		settled = st
		return st, nil
	})
	if err != nil {
		if errors.Is(err, account.ErrBusy) {
			return nil, newError(ReasonAccountBusy, "account is busy")
		}
		return nil, err
	}

	k.positions.Open(pos)
	if k.persister != nil {
		k.persister.PersistOpen(pos)
	}

	k.auditLog.Append(req.AccountID, audit.OrderFilled, map[string]any{
		"position_id": pos.ID, "symbol": pos.Symbol, "direction": pos.Direction,
		"size": pos.Size.String(), "exec_price": execPrice.String(),
	})
	k.auditLog.Append(req.AccountID, audit.PositionOpened, map[string]any{
		"position_id": pos.ID, "entry_price": pos.EntryPrice.String(), "margin": pos.Margin.String(),
	})

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000
	if k.metrics != nil {
		k.metrics.OpenLatencyMs.Observe(elapsedMs)
	}

	result := &OpenResult{
		Position:  pos,
		Account:   settled,
		ExecPrice: execPrice,
		ElapsedMs: elapsedMs,
	}
	if req.ClientOrderID != "" {
		k.storeDedupe(req.AccountID, req.ClientOrderID, result)
	}
	return result, nil
}

// liquidationPrice implements the chosen (maintenance-margin-inclusive)
// formula: LONG = entry * (1 - 1/leverage + maintenance); SHORT is the
// mirror image. See DESIGN.md for why the maintenance term is kept.
func liquidationPrice(dir position.Direction, entry money.Amount, leverage int64, maintenanceBps int64) money.Amount {
	inverseLeverage := money.FromInt(1).Div(money.FromInt(leverage))
	maintenance := money.BasisPoints(maintenanceBps)
	if dir == position.Long {
		return entry.Mul(money.FromInt(1).Sub(inverseLeverage).Add(maintenance))
	}
	return entry.Mul(money.FromInt(1).Add(inverseLeverage).Sub(maintenance))
}

func (k *Kernel) dedupeKey(accountID, clientOrderID string) string {
	return accountID + ":" + clientOrderID
}

func (k *Kernel) lookupDedupe(accountID, clientOrderID string) *OpenResult {
	k.dedupeMu.Lock()
	defer k.dedupeMu.Unlock()
	return k.dedupe[k.dedupeKey(accountID, clientOrderID)]
}

func (k *Kernel) storeDedupe(accountID, clientOrderID string, result *OpenResult) {
	k.dedupeMu.Lock()
	defer k.dedupeMu.Unlock()
	k.dedupe[k.dedupeKey(accountID, clientOrderID)] = result
}
