package trigger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"propengine/internal/account"
	"propengine/internal/execution"
	"propengine/internal/metrics"
	"propengine/internal/money"
	"propengine/internal/position"
)

// RiskBreachHeartbeat is how often every monitored account is
// recomputed regardless of price activity.
const RiskBreachHeartbeat = time.Second

// warnThreshold is 80% expressed as a fraction, the point at which
// a once-per-axis warning fires.
var warnThreshold = money.FromFloat(0.8)

// breachThreshold is 100% — the point at which an account is breached.
var breachThreshold = money.FromFloat(1.0)

// axis identifies which limit a warning/breach applies to.
type axis string

const (
	axisDailyLoss axis = "daily_loss"
	axisDrawdown  axis = "drawdown"
)

// BreachNotifier is notified when an account breaches, so the Session
// Gateway can push ACCOUNT_BREACHED to the owner. It is an interface
// rather than a concrete gateway dependency to avoid a cyclic import —
// the wiring root hands the gateway in as this interface.
type BreachNotifier interface {
	NotifyBreach(accountID string, closed execution.BatchCloseResult)
	NotifyRiskWarning(accountID string, axis string, pct money.Amount)
}

// RiskBreachEngine holds no shadow copy of account state; every
// evaluation reads live through account.Manager, per the design
// decision recorded in DESIGN.md.
type RiskBreachEngine struct {
	log       *slog.Logger
	accounts  *account.Manager
	positions *position.Manager
	kernel    *execution.Kernel
	notifier  BreachNotifier
	metrics   *metrics.Registry

	warnedMu sync.Mutex
	warned   map[string]map[axis]bool
}

// NewRiskBreachEngine creates a Risk-Breach engine.
func NewRiskBreachEngine(log *slog.Logger, accounts *account.Manager, positions *position.Manager, kernel *execution.Kernel, notifier BreachNotifier) *RiskBreachEngine {
	return &RiskBreachEngine{
		log:       log.With("component", "risk_breach_engine"),
		accounts:  accounts,
		positions: positions,
		kernel:    kernel,
		notifier:  notifier,
		warned:    make(map[string]map[axis]bool),
	}
}

// SetMetrics wires the trigger-fire counter. Called once at startup.
func (e *RiskBreachEngine) SetMetrics(m *metrics.Registry) {
	e.metrics = m
}

// OnPositionPriceUpdate recomputes risk for one account whenever a
// price update affects its open positions — wired in by whatever
// component (the Position Manager's price subscriber) knows which
// account a symbol update touched.
func (e *RiskBreachEngine) OnPositionPriceUpdate(accountID string) {
	e.evaluate(accountID)
}

// Run drives the 1 s heartbeat sweep across every monitored account.
func (e *RiskBreachEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(RiskBreachHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range e.accounts.Snapshot() {
				if !st.Status.AcceptsOrders() {
					continue
				}
				e.evaluate(st.AccountID)
			}
		}
	}
}

func (e *RiskBreachEngine) evaluate(accountID string) {
	st, err := e.accounts.Get(accountID)
	if err != nil {
		return
	}
	if !st.Status.AcceptsOrders() {
		return
	}

	dailyLossPct := DailyLossPct(st)
	drawdownPct := DrawdownPct(st)

	dailyLossLimitFrac := fractionOfLimit(dailyLossPct, st.DailyLossLimit, st.DailyStartingBalance)
	drawdownLimitFrac := fractionOfLimit(drawdownPct, st.MaxDrawdownLimit, st.StartingBalance)

	if dailyLossLimitFrac.GreaterThanOrEqual(breachThreshold) || drawdownLimitFrac.GreaterThanOrEqual(breachThreshold) {
		e.breach(accountID)
		return
	}

	e.maybeWarn(accountID, axisDailyLoss, dailyLossLimitFrac)
	e.maybeWarn(accountID, axisDrawdown, drawdownLimitFrac)
}

// DailyLossPct reports an account's today's-loss as a percentage of
// its start-of-day balance, the same figure evaluate checks against
// DailyLossLimit — exported for the risk-snapshot publisher, which
// reports it independently of whether any threshold was crossed.
func DailyLossPct(st account.State) money.Amount {
	if st.DailyStartingBalance.LessThanOrEqual(money.Zero) {
		return money.Zero
	}
	dailyLoss := money.MaxZero(st.DailyPnL.Neg())
	return dailyLoss.Div(st.DailyStartingBalance)
}

// DrawdownPct reports an account's drawdown from its starting balance
// as a percentage, the same figure evaluate checks against
// MaxDrawdownLimit.
func DrawdownPct(st account.State) money.Amount {
	if st.StartingBalance.LessThanOrEqual(money.Zero) {
		return money.Zero
	}
	drawdown := money.MaxZero(st.StartingBalance.Sub(st.Equity()))
	return drawdown.Div(st.StartingBalance)
}

// fractionOfLimit converts a percentage-of-balance figure into a
// fraction of its configured limit (also expressed as a money amount
// over the same base), so 80%/100% thresholds apply uniformly.
func fractionOfLimit(pct, limit, base money.Amount) money.Amount {
	if limit.LessThanOrEqual(money.Zero) || base.LessThanOrEqual(money.Zero) {
		return money.Zero
	}
	limitPct := limit.Div(base)
	if limitPct.LessThanOrEqual(money.Zero) {
		return money.Zero
	}
	return pct.Div(limitPct)
}

func (e *RiskBreachEngine) maybeWarn(accountID string, ax axis, fraction money.Amount) {
	if fraction.LessThan(warnThreshold) {
		return
	}

	e.warnedMu.Lock()
	if e.warned[accountID] == nil {
		e.warned[accountID] = make(map[axis]bool)
	}
	if e.warned[accountID][ax] {
		e.warnedMu.Unlock()
		return
	}
	e.warned[accountID][ax] = true
	e.warnedMu.Unlock()

	e.notifier.NotifyRiskWarning(accountID, string(ax), fraction)
}

func (e *RiskBreachEngine) breach(accountID string) {
	ctx := context.Background()

	if _, err := e.accounts.WithLock(ctx, accountID, execution.DefaultConfig().SystemSlotWait, func(st account.State) (account.State, error) {
		if !st.Status.AcceptsOrders() {
			return st, &alreadyHandled{}
		}
		st.Status = account.Breached
		return st, nil
	}); err != nil {
		if _, ok := err.(*alreadyHandled); ok {
			return
		}
		e.log.Warn("mark account breached failed", "account_id", accountID, "error", err)
		return
	}

	closed := e.kernel.BatchCloseForBreach(ctx, accountID)
	if e.metrics != nil {
		e.metrics.TriggerFires.WithLabelValues("risk_breach", "BREACH").Inc()
	}

	e.warnedMu.Lock()
	delete(e.warned, accountID)
	e.warnedMu.Unlock()

	e.log.Warn("account breached", "account_id", accountID, "closed", closed.ClosedCount, "skipped_stale", closed.SkippedStale, "total_pnl", closed.TotalPnL.String())
	e.notifier.NotifyBreach(accountID, closed)
}

// alreadyHandled signals WithLock to no-op without surfacing an error
// to the caller's logs.
type alreadyHandled struct{}

func (*alreadyHandled) Error() string { return "already handled" }
