package trigger

import (
	"context"
	"testing"
	"time"

	"propengine/internal/execution"
	"propengine/internal/money"
	"propengine/internal/position"
	"propengine/internal/priceengine"
)

func openLeveragedLongPosition(t *testing.T, k *execution.Kernel, prices *priceengine.Engine, leverage int64) string {
	t.Helper()
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(100))
	res, err := k.Open(context.Background(), execution.OpenRequest{
		OwnerID:   "owner-1",
		AccountID: "acc-1",
		Symbol:    "BTC-USD",
		Direction: position.Long,
		Type:      execution.Market,
		Size:      money.FromInt(1),
		Leverage:  leverage,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return res.Position.ID
}

func TestLiquidationClosesWhenPriceCrossesLiquidationPrice(t *testing.T) {
	t.Parallel()
	k, _, positions, prices := testFixture(t)
	posID := openLeveragedLongPosition(t, k, prices, 10) // liq price = 100 * (1 - 0.1 + 0.004) = 90.4

	engine := NewLiquidationEngine(testLogger(), positions, k)
	prices.Publish("BTC-USD", money.FromInt(85), money.FromInt(85))
	engine.OnPrice(mustGetPrice(t, prices, "BTC-USD"))

	if _, err := positions.Get(posID); err != position.ErrNotFound {
		t.Errorf("expected position to be liquidated, got err=%v", err)
	}
}

func TestLiquidationIgnoresStalePrice(t *testing.T) {
	t.Parallel()
	k, _, positions, prices := testFixture(t)
	posID := openLeveragedLongPosition(t, k, prices, 10)

	engine := NewLiquidationEngine(testLogger(), positions, k)
	p := mustGetPrice(t, prices, "BTC-USD")
	p.InternalBid = money.FromInt(1) // would liquidate if not for staleness
	p.InternalAsk = money.FromInt(1)
	p.Timestamp = time.Now().Add(-10 * time.Second)
	engine.OnPrice(p)

	if _, err := positions.Get(posID); err != nil {
		t.Errorf("expected position to remain open against a stale price, got err=%v", err)
	}
}

func TestLiquidationDoesNotCloseFarFromLiquidationPrice(t *testing.T) {
	t.Parallel()
	k, _, positions, prices := testFixture(t)
	posID := openLeveragedLongPosition(t, k, prices, 10)

	engine := NewLiquidationEngine(testLogger(), positions, k)
	prices.Publish("BTC-USD", money.FromInt(99), money.FromInt(99))
	engine.OnPrice(mustGetPrice(t, prices, "BTC-USD"))

	if _, err := positions.Get(posID); err != nil {
		t.Errorf("expected position to remain open, got err=%v", err)
	}
}

func TestLiquidationMarksWarningNearLiquidationPrice(t *testing.T) {
	t.Parallel()
	k, _, positions, prices := testFixture(t)
	posID := openLeveragedLongPosition(t, k, prices, 10)

	engine := NewLiquidationEngine(testLogger(), positions, k)
	// Distance to liquidation normalized below 0.5, but not yet crossed.
	prices.Publish("BTC-USD", money.FromInt(94), money.FromInt(94))
	engine.OnPrice(mustGetPrice(t, prices, "BTC-USD"))

	pos, err := positions.Get(posID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !pos.LiquidationWarned {
		t.Error("expected LiquidationWarned to be set near the liquidation price")
	}
}
