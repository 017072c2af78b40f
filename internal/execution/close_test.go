package execution

import (
	"context"
	"testing"

	"propengine/internal/account"
	"propengine/internal/money"
	"propengine/internal/position"
	"propengine/internal/priceengine"
)

func openTestPosition(t *testing.T, k *Kernel, prices *priceengine.Engine) string {
	t.Helper()
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))
	res, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Direction: position.Long,
		Type:      Market,
		Size:      money.FromInt(10),
		Leverage:  10,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return res.Position.ID
}

func TestCloseFullPositionReleasesMarginAndAppliesPnL(t *testing.T) {
	t.Parallel()
	k, accounts, prices := testKernel(t)
	posID := openTestPosition(t, k, prices)

	before, _ := accounts.Get("acc-1")

	res, err := k.Close(context.Background(), CloseRequest{
		PositionID: posID,
		ClosePrice: money.FromInt(110),
		Reason:     Manual,
	})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.RemainingPosition != nil {
		t.Error("expected a full close to leave no remaining position")
	}

	// gross = (110-100)*10 = 100, exit fee = 10*110*5bps = 0.55, net = 99.45
	wantNet := money.FromFloat(99.45)
	if !res.Trade.NetPnL.Equal(wantNet) {
		t.Errorf("NetPnL = %s, want %s", res.Trade.NetPnL, wantNet)
	}

	after, _ := accounts.Get("acc-1")
	if !after.UsedMargin.Equal(money.Zero) {
		t.Errorf("UsedMargin after full close = %s, want 0", after.UsedMargin)
	}
	if !after.Balance.Equal(before.Balance.Add(wantNet)) {
		t.Errorf("Balance after close = %s, want %s", after.Balance, before.Balance.Add(wantNet))
	}
}

func TestClosePartialLeavesRemainingPosition(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	posID := openTestPosition(t, k, prices)

	half := money.FromInt(5)
	res, err := k.Close(context.Background(), CloseRequest{
		PositionID:    posID,
		ClosePrice:    money.FromInt(110),
		Reason:        Manual,
		CloseQuantity: &half,
	})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.RemainingPosition == nil {
		t.Fatal("expected a remaining position for a partial close")
	}
	if !res.RemainingPosition.Size.Equal(money.FromInt(5)) {
		t.Errorf("remaining size = %s, want 5", res.RemainingPosition.Size)
	}
}

func TestCloseUnknownPosition(t *testing.T) {
	t.Parallel()
	k, _, _ := testKernel(t)

	_, err := k.Close(context.Background(), CloseRequest{
		PositionID: "missing",
		ClosePrice: money.FromInt(100),
		Reason:     Manual,
	})
	if ReasonOf(err) != ReasonPositionNotFound {
		t.Errorf("reason = %v, want PositionNotFound", ReasonOf(err))
	}
}

func TestBatchCloseForBreachClosesFreshlyQuotedPositions(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	openTestPosition(t, k, prices)

	// Open a second position on another freshly quoted symbol.
	prices.Publish("ETH-USD", money.FromInt(50), money.FromInt(50))
	_, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "ETH-USD",
		Direction: position.Long,
		Type:      Market,
		Size:      money.FromInt(1),
		Leverage:  10,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	result := k.BatchCloseForBreach(context.Background(), "acc-1")
	if result.ClosedCount != 2 {
		t.Errorf("ClosedCount = %d, want 2 (both symbols have a fresh quote)", result.ClosedCount)
	}
}

func TestCloseAtLossCountsLosingTrade(t *testing.T) {
	t.Parallel()
	k, accounts, prices := testKernel(t)
	posID := openTestPosition(t, k, prices)

	if _, err := k.Close(context.Background(), CloseRequest{
		PositionID: posID,
		ClosePrice: money.FromInt(90),
		Reason:     StopLoss,
	}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err := accounts.Get("acc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.LosingTrades != 1 {
		t.Errorf("LosingTrades = %d, want 1", st.LosingTrades)
	}
}
