package trigger

import (
	"context"
	"log/slog"
	"time"

	"propengine/internal/execution"
	"propengine/internal/metrics"
	"propengine/internal/money"
	"propengine/internal/position"
	"propengine/internal/priceengine"
)

// liquidationWarnThreshold is the normalized distance-to-liquidation
// below which a one-time warning fires for a position.
var liquidationWarnThreshold = money.FromFloat(0.5)

// LiquidationEngine force-closes positions whose exit price has
// crossed their liquidation price, refusing to act on a stale price.
type LiquidationEngine struct {
	log       *slog.Logger
	positions *position.Manager
	kernel    *execution.Kernel
	metrics   *metrics.Registry
}

// NewLiquidationEngine creates a Liquidation engine.
func NewLiquidationEngine(log *slog.Logger, positions *position.Manager, kernel *execution.Kernel) *LiquidationEngine {
	return &LiquidationEngine{log: log.With("component", "liquidation_engine"), positions: positions, kernel: kernel}
}

// SetMetrics wires the trigger-fire counter. Called once at startup.
func (e *LiquidationEngine) SetMetrics(m *metrics.Registry) {
	e.metrics = m
}

// OnPrice is called from the priceengine.Subscriber that cmd/engine
// registers. A stale price
// never liquidates anything — no position with stale price may be
// closed by this engine.
func (e *LiquidationEngine) OnPrice(p priceengine.Price) {
	if p.IsStale(time.Now()) {
		return
	}

	for _, pos := range e.positions.BySymbol(p.Symbol) {
		exit := sideCorrectExit(pos.Direction, p)
		e.checkWarning(pos, exit)

		if liquidationHit(pos.Direction, exit, pos.LiquidationPrice) {
			e.liquidate(pos.ID, exit)
		}
	}
}

func sideCorrectExit(dir position.Direction, p priceengine.Price) money.Amount {
	if dir == position.Long {
		return p.InternalBid
	}
	return p.InternalAsk
}

func liquidationHit(dir position.Direction, exit, liquidation money.Amount) bool {
	if dir == position.Long {
		return exit.LessThanOrEqual(liquidation)
	}
	return exit.GreaterThanOrEqual(liquidation)
}

// checkWarning sets the position's once-per-position warning flag when
// the normalized distance to liquidation drops below 0.5, and clears
// nothing once set — the flag only ever needs to fire once.
func (e *LiquidationEngine) checkWarning(pos position.Position, exit money.Amount) {
	if pos.LiquidationWarned {
		return
	}

	var distance money.Amount
	denominator := pos.EntryPrice.Sub(pos.LiquidationPrice)
	if pos.Direction == position.Short {
		denominator = pos.LiquidationPrice.Sub(pos.EntryPrice)
	}
	if denominator.IsZero() {
		return
	}

	numerator := exit.Sub(pos.LiquidationPrice)
	if pos.Direction == position.Short {
		numerator = pos.LiquidationPrice.Sub(exit)
	}
	distance = money.MaxZero(numerator.Div(denominator))

	if distance.LessThan(liquidationWarnThreshold) {
		if err := e.positions.SetLiquidationWarned(pos.ID, true); err != nil {
			e.log.Warn("mark liquidation warning failed", "position_id", pos.ID, "error", err)
			return
		}
		e.log.Warn("position approaching liquidation", "position_id", pos.ID, "distance", distance.String())
	}
}

func (e *LiquidationEngine) liquidate(positionID string, exitPrice money.Amount) {
	ctx := context.Background()
	if _, err := e.kernel.Close(ctx, execution.CloseRequest{
		PositionID: positionID,
		ClosePrice: exitPrice,
		Reason:     execution.Liquidation,
		System:     true,
	}); err != nil {
		e.log.Warn("liquidation close failed", "position_id", positionID, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.TriggerFires.WithLabelValues("liquidation", "LIQUIDATION").Inc()
	}
}
