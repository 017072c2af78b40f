// Package trigger implements the four price-driven watchers described
// in the component design: Limit-Fill, Take-Profit/Stop-Loss,
// Liquidation, and Risk-Breach. All four share the same shape —
// subscribe to price movement, filter relevant state, issue
// synchronous opens or closes through the execution kernel — and
// differ only in predicate and response.
package trigger

import (
	"context"
	"log/slog"
	"time"

	"propengine/internal/account"
	"propengine/internal/execution"
	"propengine/internal/metrics"
	"propengine/internal/orderbook"
	"propengine/internal/priceengine"
)

// LimitFillSweepInterval is how often the Limit-Fill engine scans
// every non-stale symbol for fillable orders.
const LimitFillSweepInterval = 100 * time.Millisecond

// OrderPersister durably removes a filled or cancelled resting order.
type OrderPersister interface {
	PersistOrderRemoval(orderID string)
}

// LimitFillEngine fills resting limit orders once the market crosses
// their trigger price.
type LimitFillEngine struct {
	log       *slog.Logger
	prices    *priceengine.Engine
	orders    *orderbook.Book
	accounts  *account.Manager
	kernel    *execution.Kernel
	symbols   func() []string
	persister OrderPersister
	metrics   *metrics.Registry
}

// NewLimitFillEngine creates a Limit-Fill engine. symbols returns the
// current set of tradable symbols to sweep each tick.
func NewLimitFillEngine(log *slog.Logger, prices *priceengine.Engine, orders *orderbook.Book, accounts *account.Manager, kernel *execution.Kernel, symbols func() []string) *LimitFillEngine {
	return &LimitFillEngine{
		log:      log.With("component", "limit_fill_engine"),
		prices:   prices,
		orders:   orders,
		accounts: accounts,
		kernel:   kernel,
		symbols:  symbols,
	}
}

// SetOrderPersister wires the durable-storage callback for order
// removal. Called once at startup.
func (e *LimitFillEngine) SetOrderPersister(p OrderPersister) {
	e.persister = p
}

// SetMetrics wires the trigger-fire counter. Called once at startup.
func (e *LimitFillEngine) SetMetrics(m *metrics.Registry) {
	e.metrics = m
}

// Run sweeps every tick until ctx is cancelled.
func (e *LimitFillEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(LimitFillSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *LimitFillEngine) sweep(ctx context.Context) {
	now := time.Now()
	for _, symbol := range e.symbols() {
		price, ok := e.prices.Get(symbol)
		if !ok || price.IsStale(now) {
			continue
		}

		for _, ord := range e.orders.BySymbol(symbol) {
			if !ord.Triggered(price.InternalBid, price.InternalAsk) {
				continue
			}
			e.fill(ctx, ord, price)
		}
	}
}

func (e *LimitFillEngine) fill(ctx context.Context, ord orderbook.Order, price priceengine.Price) {
	if err := e.accounts.ReleaseReserved(ctx, ord.AccountID, ord.ReservedMargin, execution.DefaultConfig().SystemSlotWait); err != nil {
		e.log.Warn("release reserved margin failed", "order_id", ord.ID, "error", err)
		return
	}

	acct, err := e.accounts.Get(ord.AccountID)
	if err != nil {
		e.log.Warn("account lookup failed for limit fill", "order_id", ord.ID, "error", err)
		return
	}

	limit := ord.LimitPrice
	res, err := e.kernel.Open(ctx, execution.OpenRequest{
		OwnerID:    acct.OwnerID,
		AccountID:  ord.AccountID,
		Symbol:     ord.Symbol,
		Direction:  ord.Direction,
		Type:       execution.Limit,
		LimitPrice: &limit,
		Size:       ord.Size,
		Leverage:   ord.Leverage,
		TakeProfit: ord.TakeProfit,
		StopLoss:   ord.StopLoss,
		System:     true,
	})
	if err != nil {
		if execution.ReasonOf(err) == execution.ReasonInsufficientMargin {
			if _, rmErr := e.orders.Remove(ord.ID); rmErr != nil {
				e.log.Warn("cancel unfillable order failed", "order_id", ord.ID, "error", rmErr)
			} else if e.persister != nil {
				e.persister.PersistOrderRemoval(ord.ID)
			}
		}
		e.log.Warn("limit fill open failed", "order_id", ord.ID, "error", err)
		return
	}

	if _, err := e.orders.Remove(ord.ID); err != nil {
		e.log.Warn("remove filled order failed", "order_id", ord.ID, "error", err)
	} else if e.persister != nil {
		// PersistOpen already ran synchronously inside kernel.Open above,
		// so the replacement position row exists before this removal.
		e.persister.PersistOrderRemoval(ord.ID)
	}
	if e.metrics != nil {
		e.metrics.TriggerFires.WithLabelValues("limit_fill", "FILLED").Inc()
	}
	e.log.Info("limit order filled", "order_id", ord.ID, "position_id", res.Position.ID, "exec_price", res.ExecPrice.String())
}
