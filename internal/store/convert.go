package store

import (
	"propengine/internal/account"
	"propengine/internal/execution"
	"propengine/internal/money"
	"propengine/internal/orderbook"
	"propengine/internal/position"

	"github.com/shopspring/decimal"
)

func amt(a money.Amount) string { return a.String() }

func parseAmt(s string) money.Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return money.Zero
	}
	return d
}

func optAmt(a *money.Amount) *string {
	if a == nil {
		return nil
	}
	s := a.String()
	return &s
}

func accountToRecord(st account.State) AccountRecord {
	return AccountRecord{
		AccountID:            st.AccountID,
		OwnerID:              st.OwnerID,
		PlanID:               st.PlanID,
		AccountNumber:        st.AccountNumber,
		Type:                 string(st.Type),
		EvaluationStep:       st.EvaluationStep,
		Status:               string(st.Status),
		StartingBalance:      amt(st.StartingBalance),
		Balance:              amt(st.Balance),
		PeakBalance:          amt(st.PeakBalance),
		UsedMargin:           amt(st.UsedMargin),
		AvailableMargin:      amt(st.AvailableMargin),
		DailyStartingBalance: amt(st.DailyStartingBalance),
		DailyPnL:             amt(st.DailyPnL),
		CurrentProfit:        amt(st.CurrentProfit),
		DailyLossLimit:       amt(st.DailyLossLimit),
		MaxDrawdownLimit:     amt(st.MaxDrawdownLimit),
		ProfitTarget:         amt(st.ProfitTarget),
		MaxLeverage:          st.MaxLeverage,
		TotalTrades:          st.TotalTrades,
		WinningTrades:        st.WinningTrades,
		LosingTrades:         st.LosingTrades,
		TotalVolume:          amt(st.TotalVolume),
		TradingDays:          st.TradingDays,
		LastTradeAt:          st.LastTradeAt,
	}
}

func accountFromRecord(r AccountRecord) account.State {
	return account.State{
		AccountID:            r.AccountID,
		OwnerID:              r.OwnerID,
		PlanID:               r.PlanID,
		AccountNumber:        r.AccountNumber,
		Type:                 account.Type(r.Type),
		EvaluationStep:       r.EvaluationStep,
		Status:               account.Status(r.Status),
		StartingBalance:      parseAmt(r.StartingBalance),
		Balance:              parseAmt(r.Balance),
		PeakBalance:          parseAmt(r.PeakBalance),
		UsedMargin:           parseAmt(r.UsedMargin),
		AvailableMargin:      parseAmt(r.AvailableMargin),
		DailyStartingBalance: parseAmt(r.DailyStartingBalance),
		DailyPnL:             parseAmt(r.DailyPnL),
		CurrentProfit:        parseAmt(r.CurrentProfit),
		DailyLossLimit:       parseAmt(r.DailyLossLimit),
		MaxDrawdownLimit:     parseAmt(r.MaxDrawdownLimit),
		ProfitTarget:         parseAmt(r.ProfitTarget),
		MaxLeverage:          r.MaxLeverage,
		TotalTrades:          r.TotalTrades,
		WinningTrades:        r.WinningTrades,
		LosingTrades:         r.LosingTrades,
		TotalVolume:          parseAmt(r.TotalVolume),
		TradingDays:          r.TradingDays,
		LastTradeAt:          r.LastTradeAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func positionToRecord(p position.Position) PositionRecord {
	return PositionRecord{
		ID:                 p.ID,
		AccountID:          p.AccountID,
		Symbol:             p.Symbol,
		Direction:          string(p.Direction),
		Size:               amt(p.Size),
		EntryPrice:         amt(p.EntryPrice),
		EntryValue:         amt(p.EntryValue),
		Margin:             amt(p.Margin),
		EntryFee:           amt(p.EntryFee),
		AccumulatedFunding: amt(p.AccumulatedFunding),
		Leverage:           p.Leverage,
		LiquidationPrice:   amt(p.LiquidationPrice),
		TakeProfit:         optAmt(p.TakeProfit),
		StopLoss:           optAmt(p.StopLoss),
		OpenedAt:           p.OpenedAt,
	}
}

func orderToRecord(o orderbook.Order) OrderRecord {
	return OrderRecord{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		AccountID:      o.AccountID,
		Symbol:         o.Symbol,
		Direction:      string(o.Direction),
		Size:           amt(o.Size),
		LimitPrice:     amt(o.LimitPrice),
		ReservedMargin: amt(o.ReservedMargin),
		Leverage:       o.Leverage,
		CreatedAt:      o.CreatedAt,
		ExpiresAt:      o.ExpiresAt,
	}
}

func tradeToRecord(t execution.TradeRecord) TradeRecord {
	return TradeRecord{
		TradeID:         t.TradeID,
		AccountID:       t.AccountID,
		PositionID:      t.PositionID,
		Symbol:          t.Symbol,
		Direction:       string(t.Direction),
		QuantityClosed:  amt(t.QuantityClosed),
		Leverage:        t.Leverage,
		EntryPrice:      amt(t.EntryPrice),
		EntryValue:      amt(t.EntryValue),
		EntryFee:        amt(t.EntryFee),
		ExitPrice:       amt(t.ExitPrice),
		ExitValue:       amt(t.ExitValue),
		ExitFee:         amt(t.ExitFee),
		Reason:          string(t.Reason),
		FundingFee:      amt(t.FundingFee),
		GrossPnL:        amt(t.GrossPnL),
		TotalFees:       amt(t.TotalFees),
		NetPnL:          amt(t.NetPnL),
		DurationSeconds: t.DurationSeconds,
		ClosedAt:        t.ClosedAt,
	}
}

