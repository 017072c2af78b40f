package execution

import (
	"context"
	"testing"
	"time"

	"propengine/internal/account"
	"propengine/internal/audit"
	"propengine/internal/money"
	"propengine/internal/orderbook"
	"propengine/internal/position"
	"propengine/internal/priceengine"
)

func testKernel(t *testing.T) (*Kernel, *account.Manager, *priceengine.Engine) {
	t.Helper()
	prices := priceengine.New(0, nil)
	accounts := account.New()
	positions := position.New()
	orders := orderbook.New()
	auditLog := audit.New()

	accounts.Register(account.State{
		AccountID:   "acc-1",
		OwnerID:     "owner-1",
		Status:      account.Active,
		Balance:     money.FromInt(10000),
		MaxLeverage: 20,
	})

	k := New(DefaultConfig(), prices, accounts, positions, orders, auditLog)
	return k, accounts, prices
}

func TestOpenMarketOrderSucceeds(t *testing.T) {
	t.Parallel()
	k, accounts, prices := testKernel(t)
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
	if res.Position.Symbol != "BTC-USD" {
		t.Errorf("Symbol = %s, want BTC-USD", res.Position.Symbol)
	}

	st, _ := accounts.Get("acc-1")
	wantMargin := money.FromInt(100) // 10*100 / 10
	if !st.UsedMargin.Equal(wantMargin) {
		t.Errorf("UsedMargin = %s, want %s", st.UsedMargin, wantMargin)
	}
}

func TestOpenRejectsMissingPrice(t *testing.T) {
	t.Parallel()
	k, _, _ := testKernel(t)

	_, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Type:      Market,
		Size:      money.FromInt(1),
		Leverage:  10,
	})
	if ReasonOf(err) != ReasonPriceUnavailable {
		t.Errorf("reason = %v, want PriceUnavailable", ReasonOf(err))
	}
}

func TestOpenRejectsOwnerMismatch(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))

	_, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "intruder",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Type:      Market,
		Size:      money.FromInt(1),
		Leverage:  10,
	})
	if ReasonOf(err) != ReasonUnauthorized {
		t.Errorf("reason = %v, want Unauthorized", ReasonOf(err))
	}
}

func TestOpenRejectsInsufficientMargin(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))

	_, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Direction: position.Long,
		Type:      Market,
		Size:      money.FromInt(100000),
		Leverage:  10,
	})
	if ReasonOf(err) != ReasonInsufficientMargin {
		t.Errorf("reason = %v, want InsufficientMargin", ReasonOf(err))
	}
}

func TestOpenCapsLeverageAtAccountMax(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))

	res, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Type:      Market,
		Size:      money.FromInt(1),
		Leverage:  50, // account max is 20
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Position.Leverage != 20 {
		t.Errorf("Leverage = %d, want capped at 20", res.Position.Leverage)
	}
}

func TestOpenCapsLeverageAtSymbolMax(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))
	k.SymbolMaxLeverage = func(symbol string) (int64, bool) {
		if symbol == "BTC-USD" {
			return 5, true
		}
		return 0, false
	}

	res, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Type:      Market,
		Size:      money.FromInt(1),
		Leverage:  20, // account allows 20, symbol caps to 5
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.Position.Leverage != 5 {
		t.Errorf("Leverage = %d, want capped at symbol max 5", res.Position.Leverage)
	}
}

func TestOpenDedupesByClientOrderID(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))

	req := OpenRequest{
		OwnerID:       "owner-1",
		AccountID:     "acc-1",
		Symbol:        "BTC-USD",
		Type:          Market,
		Size:          money.FromInt(1),
		Leverage:      10,
		ClientOrderID: "client-abc",
	}

	first, err := k.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	second, err := k.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("Open (dedup): %v", err)
	}
	if first.Position.ID != second.Position.ID {
		t.Errorf("duplicate ClientOrderID produced a second position: %s vs %s", first.Position.ID, second.Position.ID)
	}
}

func TestOpenLimitOrderNotYetTriggered(t *testing.T) {
	t.Parallel()
	k, _, prices := testKernel(t)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))

	limitPrice := money.FromInt(50)
	_, err := k.Open(context.Background(), OpenRequest{
		OwnerID:    "owner-1",
		AccountID:  "acc-1",
		Symbol:     "BTC-USD",
		Direction:  position.Long,
		Type:       Limit,
		Size:       money.FromInt(1),
		Leverage:   10,
		LimitPrice: &limitPrice,
	})
	if ReasonOf(err) != ReasonLimitPriceNotMet {
		t.Errorf("reason = %v, want LimitPriceNotMet", ReasonOf(err))
	}
}

func TestOpenSystemRequestUsesSystemSlotWait(t *testing.T) {
	t.Parallel()
	k, accounts, prices := testKernel(t)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))

	release := make(chan struct{})
	holding := make(chan struct{})
	go accounts.WithLock(context.Background(), "acc-1", time.Second, func(st account.State) (account.State, error) {
		close(holding)
		<-release
		return st, nil
	})
	<-holding
	defer close(release)

	start := time.Now()
	_, err := k.Open(context.Background(), OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Type:      Market,
		Size:      money.FromInt(1),
		Leverage:  10,
		System:    true,
	})
	elapsed := time.Since(start)

	if ReasonOf(err) != ReasonAccountBusy {
		t.Fatalf("reason = %v, want AccountBusy", ReasonOf(err))
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("system request took %v, expected to fail fast under the shorter system slot wait", elapsed)
	}
}
