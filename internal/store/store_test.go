package store

import (
	"testing"
	"time"

	"propengine/internal/account"
	"propengine/internal/money"
)

func TestAccountRecordRoundTrip(t *testing.T) {
	t.Parallel()

	st := account.State{
		AccountID:       "acct_1",
		OwnerID:         "owner_1",
		PlanID:          "plan_1",
		Type:            account.Funded,
		Status:          account.Active,
		Balance:         money.FromFloat(10250.55),
		PeakBalance:     money.FromFloat(10500),
		UsedMargin:      money.FromFloat(200),
		AvailableMargin: money.FromFloat(10050.55),
		MaxLeverage:     20,
		TotalTrades:     7,
		WinningTrades:   4,
		LosingTrades:    3,
		LastTradeAt:     time.Now().Truncate(time.Second),
	}

	rec := accountToRecord(st)
	got := accountFromRecord(rec)

	if got.AccountID != st.AccountID || got.OwnerID != st.OwnerID {
		t.Fatalf("identity fields not preserved: %+v", got)
	}
	if !got.Balance.Equal(st.Balance) {
		t.Errorf("Balance = %s, want %s", got.Balance, st.Balance)
	}
	if !got.AvailableMargin.Equal(st.AvailableMargin) {
		t.Errorf("AvailableMargin = %s, want %s", got.AvailableMargin, st.AvailableMargin)
	}
	if got.MaxLeverage != st.MaxLeverage {
		t.Errorf("MaxLeverage = %d, want %d", got.MaxLeverage, st.MaxLeverage)
	}
	if got.TotalTrades != st.TotalTrades || got.WinningTrades != st.WinningTrades {
		t.Errorf("trade counters not preserved: %+v", got)
	}
}

func TestAccountRecordRoundTripZeroAmounts(t *testing.T) {
	t.Parallel()

	st := account.State{AccountID: "acct_2", Status: account.PendingPayment}
	rec := accountToRecord(st)
	got := accountFromRecord(rec)

	if !got.Balance.Equal(money.Zero) {
		t.Errorf("Balance = %s, want zero", got.Balance)
	}
	if got.Status != account.PendingPayment {
		t.Errorf("Status = %s, want %s", got.Status, account.PendingPayment)
	}
}
