package trigger

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"propengine/internal/account"
	"propengine/internal/audit"
	"propengine/internal/execution"
	"propengine/internal/money"
	"propengine/internal/orderbook"
	"propengine/internal/position"
	"propengine/internal/priceengine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testFixture(t *testing.T) (*execution.Kernel, *account.Manager, *position.Manager, *priceengine.Engine) {
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

	k := execution.New(execution.DefaultConfig(), prices, accounts, positions, orders, auditLog)
	return k, accounts, positions, prices
}

func openLongPosition(t *testing.T, k *execution.Kernel, prices *priceengine.Engine, tp, sl *money.Amount) string {
	t.Helper()
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))
	res, err := k.Open(context.Background(), execution.OpenRequest{
		OwnerID:    "owner-1",
		AccountID:  "acc-1",
		Symbol:     "BTC-USD",
		Direction:  position.Long,
		Type:       execution.Market,
		Size:       money.FromInt(1),
		Leverage:   10,
		TakeProfit: tp,
		StopLoss:   sl,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return res.Position.ID
}

func TestTPSLClosesOnTakeProfit(t *testing.T) {
	t.Parallel()
	k, _, positions, prices := testFixture(t)
	tp := money.FromInt(110)
	posID := openLongPosition(t, k, prices, &tp, nil)

	engine := NewTPSLEngine(testLogger(), positions, k)
	prices.Publish("BTC-USD", money.FromInt(111), money.FromInt(111))
	engine.OnPrice(mustGetPrice(t, prices, "BTC-USD"))

	if _, err := positions.Get(posID); err != position.ErrNotFound {
		t.Errorf("expected position closed on take-profit, got err=%v", err)
	}
}

func TestTPSLClosesOnStopLoss(t *testing.T) {
	t.Parallel()
	k, _, positions, prices := testFixture(t)
	sl := money.FromInt(90)
	posID := openLongPosition(t, k, prices, nil, &sl)

	engine := NewTPSLEngine(testLogger(), positions, k)
	prices.Publish("BTC-USD", money.FromInt(89), money.FromInt(89))
	engine.OnPrice(mustGetPrice(t, prices, "BTC-USD"))

	if _, err := positions.Get(posID); err != position.ErrNotFound {
		t.Errorf("expected position closed on stop-loss, got err=%v", err)
	}
}

func TestTPSLIgnoresUntriggeredLevels(t *testing.T) {
	t.Parallel()
	k, _, positions, prices := testFixture(t)
	tp := money.FromInt(120)
	sl := money.FromInt(80)
	posID := openLongPosition(t, k, prices, &tp, &sl)

	engine := NewTPSLEngine(testLogger(), positions, k)
	prices.Publish("BTC-USD", money.FromInt(105), money.FromInt(105))
	engine.OnPrice(mustGetPrice(t, prices, "BTC-USD"))

	if _, err := positions.Get(posID); err != nil {
		t.Errorf("expected position to remain open, got err=%v", err)
	}
}

func mustGetPrice(t *testing.T, prices *priceengine.Engine, symbol string) priceengine.Price {
	t.Helper()
	p, ok := prices.Get(symbol)
	if !ok {
		t.Fatalf("no price published for %s", symbol)
	}
	return p
}
