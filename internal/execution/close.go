package execution

import (
	"context"
	"errors"
	"time"

	"propengine/internal/account"
	"propengine/internal/audit"
	"propengine/internal/money"
	"propengine/internal/position"
	"propengine/pkg/ids"
)

// CloseReason is drawn from the closed vocabulary a trade record
// stamps its close with.
type CloseReason string

const (
	Manual      CloseReason = "MANUAL"
	TakeProfit  CloseReason = "TAKE_PROFIT"
	StopLoss    CloseReason = "STOP_LOSS"
	Liquidation CloseReason = "LIQUIDATION"
	Breach      CloseReason = "BREACH"
)

// CloseRequest is the Close Executor's input.
type CloseRequest struct {
	PositionID       string
	ClosePrice       money.Amount
	Reason           CloseReason
	ExternalRefPrice *money.Amount
	CloseQuantity    *money.Amount // nil or >= size means full close

	System bool
}

// TradeRecord is the immutable receipt emitted on every close.
type TradeRecord struct {
	TradeID            string
	AccountID          string
	PositionID         string
	Symbol             string
	Direction          position.Direction
	QuantityClosed     money.Amount
	Leverage           int64
	EntryPrice         money.Amount
	EntryValue         money.Amount
	EntryFee           money.Amount
	ExitPrice          money.Amount
	ExitValue          money.Amount
	ExitFee            money.Amount
	Reason             CloseReason
	FundingFee         money.Amount
	GrossPnL           money.Amount
	TotalFees          money.Amount // exit fee only — entry fee was already debited at open, see DESIGN.md
	NetPnL             money.Amount
	DurationSeconds    float64
	ExternalEntryPrice *money.Amount
	ExternalExitPrice  *money.Amount
	ClosedAt           time.Time
}

// CloseResult is the Close Executor's successful output.
type CloseResult struct {
	Trade             TradeRecord
	ExecPrice         money.Amount
	ElapsedMs         float64
	RemainingPosition *position.Position // non-nil for a partial close
	Account           account.State
}

// Close runs the close/partial-close algorithm under the position's
// owning account's slot.
func (k *Kernel) Close(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	start := time.Now()

	pos, err := k.positions.Get(req.PositionID)
	if err != nil {
		return nil, newError(ReasonPositionNotFound, req.PositionID)
	}

	qtyClosed := pos.Size
	partial := false
	if req.CloseQuantity != nil && req.CloseQuantity.GreaterThan(money.Zero) && req.CloseQuantity.LessThan(pos.Size) {
		qtyClosed = *req.CloseQuantity
		partial = true
	}

	gross := grossPnL(pos.Direction, pos.EntryPrice, req.ClosePrice, qtyClosed)
	exitValue := qtyClosed.Mul(req.ClosePrice)
	exitFee := exitValue.Mul(money.BasisPoints(k.cfg.ExitFeeBps))

	fraction := qtyClosed.Div(pos.Size)
	fundingPortion := pos.AccumulatedFunding
	marginReleased := pos.Margin
	if partial {
		fundingPortion = pos.AccumulatedFunding.Mul(fraction)
		marginReleased = pos.Margin.Mul(fraction)
	}

	net := gross.Sub(exitFee).Sub(fundingPortion)

	wait := k.cfg.UserSlotWait
	if req.System {
		wait = k.cfg.SystemSlotWait
	}

	var settled account.State
	_, err = k.accounts.WithLock(ctx, pos.AccountID, wait, func(st account.State) (account.State, error) {
		st.Balance = st.Balance.Add(net)
		st.AvailableMargin = st.AvailableMargin.Add(marginReleased).Add(net)
		st.UsedMargin = money.MaxZero(st.UsedMargin.Sub(marginReleased))
		st.DailyPnL = st.DailyPnL.Add(net)
		st.CurrentProfit = st.CurrentProfit.Add(net)
		st.PeakBalance = money.Max(st.PeakBalance, st.Balance)
		if net.GreaterThanOrEqual(money.Zero) {
			st.WinningTrades++
		} else {
			st.LosingTrades++
		}
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

	var remaining *position.Position
	if partial {
		newSize := pos.Size.Sub(qtyClosed)
		remainingFraction := newSize.Div(pos.Size)
		updated, err := k.positions.Resize(req.PositionID, position.ResizeFields{
			Size:               newSize,
			EntryValue:         pos.EntryValue.Mul(remainingFraction),
			Margin:             pos.Margin.Sub(marginReleased),
			EntryFee:           pos.EntryFee.Mul(remainingFraction),
			AccumulatedFunding: pos.AccumulatedFunding.Sub(fundingPortion),
		})
		if err != nil {
			return nil, newError(ReasonInternal, err.Error())
		}
		remaining = &updated
	} else {
		if _, err := k.positions.Close(req.PositionID); err != nil {
			return nil, newError(ReasonInternal, err.Error())
		}
	}

	trade := TradeRecord{
		TradeID:            ids.NewTradeID(),
		AccountID:          pos.AccountID,
		PositionID:         pos.ID,
		Symbol:             pos.Symbol,
		Direction:          pos.Direction,
		QuantityClosed:     qtyClosed,
		Leverage:           pos.Leverage,
		EntryPrice:         pos.EntryPrice,
		EntryValue:         pos.EntryValue,
		EntryFee:           pos.EntryFee,
		ExitPrice:          req.ClosePrice,
		ExitValue:          exitValue,
		ExitFee:            exitFee,
		Reason:             req.Reason,
		FundingFee:         fundingPortion,
		GrossPnL:           gross,
		TotalFees:          exitFee,
		NetPnL:             net,
		DurationSeconds:    time.Since(pos.OpenedAt).Seconds(),
		ExternalEntryPrice: nil,
		ExternalExitPrice:  req.ExternalRefPrice,
		ClosedAt:           time.Now(),
	}

	eventType := audit.PositionClosed
	switch req.Reason {
	case TakeProfit:
		eventType = audit.TPTriggered
	case StopLoss:
		eventType = audit.SLTriggered
	case Liquidation:
		eventType = audit.LiquidationTrigger
	}
	k.auditLog.Append(pos.AccountID, eventType, map[string]any{
		"trade_id": trade.TradeID, "position_id": pos.ID, "reason": req.Reason,
		"net_pnl": net.String(), "exit_price": req.ClosePrice.String(),
	})

	if k.persister != nil {
		k.persister.PersistClose(trade, remaining)
	}

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000
	if k.metrics != nil {
		k.metrics.CloseLatencyMs.Observe(elapsedMs)
	}

	return &CloseResult{
		Trade:             trade,
		ExecPrice:         req.ClosePrice,
		ElapsedMs:         elapsedMs,
		RemainingPosition: remaining,
		Account:           settled,
	}, nil
}

func grossPnL(dir position.Direction, entry, exit, qty money.Amount) money.Amount {
	diff := exit.Sub(entry)
	if dir == position.Short {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// BatchCloseResult aggregates the outcome of closing every open
// position on an account in one pass.
type BatchCloseResult struct {
	ClosedCount  int
	TotalPnL     money.Amount
	SkippedStale int
}

// BatchCloseForBreach closes every open position on accountID with
// CloseReason Breach, refusing to close any position whose price is
// missing or stale (protecting the trader from a bad exit during a
// breach event) rather than force-closing it anyway.
func (k *Kernel) BatchCloseForBreach(ctx context.Context, accountID string) BatchCloseResult {
	result := BatchCloseResult{TotalPnL: money.Zero}
	for _, pos := range k.positions.ByAccount(accountID) {
		price, ok := k.prices.Get(pos.Symbol)
		if !ok || price.IsStale(time.Now()) {
			result.SkippedStale++
			continue
		}
		exitPrice := price.InternalBid
		if pos.Direction == position.Short {
			exitPrice = price.InternalAsk
		}

		res, err := k.Close(ctx, CloseRequest{
			PositionID: pos.ID,
			ClosePrice: exitPrice,
			Reason:     Breach,
			System:     true,
		})
		if err != nil {
			continue
		}
		result.ClosedCount++
		result.TotalPnL = result.TotalPnL.Add(res.Trade.NetPnL)
	}
	return result
}
