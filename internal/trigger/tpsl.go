package trigger

import (
	"context"
	"log/slog"

	"propengine/internal/execution"
	"propengine/internal/metrics"
	"propengine/internal/money"
	"propengine/internal/position"
	"propengine/internal/priceengine"
)

// TPSLEngine closes positions whose take-profit or stop-loss level has
// been reached. It is driven directly by Price Engine publications
// rather than a timer — TP/SL must react the instant a price crosses.
type TPSLEngine struct {
	log       *slog.Logger
	positions *position.Manager
	kernel    *execution.Kernel
	metrics   *metrics.Registry
}

// NewTPSLEngine creates a TP/SL engine.
func NewTPSLEngine(log *slog.Logger, positions *position.Manager, kernel *execution.Kernel) *TPSLEngine {
	return &TPSLEngine{log: log.With("component", "tpsl_engine"), positions: positions, kernel: kernel}
}

// SetMetrics wires the trigger-fire counter. Called once at startup.
func (e *TPSLEngine) SetMetrics(m *metrics.Registry) {
	e.metrics = m
}

// OnPrice is called from the priceengine.Subscriber that cmd/engine
// registers, and runs synchronously on the publisher's goroutine — each position's
// predicate check is O(1), so this never becomes the slow subscriber
// the Price Engine warns about.
func (e *TPSLEngine) OnPrice(p priceengine.Price) {
	for _, pos := range e.positions.BySymbol(p.Symbol) {
		reason, exitPrice, hit := evaluateTPSL(pos, p)
		if !hit {
			continue
		}
		e.closePosition(pos.ID, exitPrice, reason)
	}
}

// evaluateTPSL mirrors the LONG-uses-bid / SHORT-uses-ask rule: a LONG
// take-profit/stop-loss reads against the bid side it would actually
// exit on; a SHORT reads against the ask side.
func evaluateTPSL(pos position.Position, p priceengine.Price) (execution.CloseReason, money.Amount, bool) {
	if pos.Direction == position.Long {
		if pos.TakeProfit != nil && p.InternalBid.GreaterThanOrEqual(*pos.TakeProfit) {
			return execution.TakeProfit, *pos.TakeProfit, true
		}
		if pos.StopLoss != nil && p.InternalBid.LessThanOrEqual(*pos.StopLoss) {
			return execution.StopLoss, *pos.StopLoss, true
		}
		return "", money.Zero, false
	}

	if pos.TakeProfit != nil && p.InternalAsk.LessThanOrEqual(*pos.TakeProfit) {
		return execution.TakeProfit, *pos.TakeProfit, true
	}
	if pos.StopLoss != nil && p.InternalAsk.GreaterThanOrEqual(*pos.StopLoss) {
		return execution.StopLoss, *pos.StopLoss, true
	}
	return "", money.Zero, false
}

func (e *TPSLEngine) closePosition(positionID string, exitPrice money.Amount, reason execution.CloseReason) {
	ctx := context.Background()
	if _, err := e.kernel.Close(ctx, execution.CloseRequest{
		PositionID: positionID,
		ClosePrice: exitPrice,
		Reason:     reason,
		System:     true,
	}); err != nil {
		e.log.Warn("tp/sl close failed", "position_id", positionID, "reason", reason, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.TriggerFires.WithLabelValues("tpsl", string(reason)).Inc()
	}
}
