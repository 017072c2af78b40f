package marketfeed

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"propengine/internal/money"
	"propengine/internal/priceengine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSource struct {
	mu         sync.Mutex
	spot       []SpotQuote
	spotErr    error
	stats      []StatsQuote
	statsErr   error
	spotCalls  int
	statsCalls int
}

func (f *fakeSource) FetchSpot(ctx context.Context) ([]SpotQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spotCalls++
	if f.spotErr != nil {
		return nil, f.spotErr
	}
	return f.spot, nil
}

func (f *fakeSource) FetchStats(ctx context.Context) ([]StatsQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}

func TestRefreshSpotPublishesEveryQuote(t *testing.T) {
	t.Parallel()
	prices := priceengine.New(0, nil)
	source := &fakeSource{spot: []SpotQuote{
		{Symbol: "BTC-USD", Bid: money.FromInt(100), Ask: money.FromInt(101)},
		{Symbol: "ETH-USD", Bid: money.FromInt(10), Ask: money.FromInt(11)},
	}}
	f := New(testLogger(), source, prices)

	f.refreshSpot(context.Background())

	btc, ok := prices.Get("BTC-USD")
	if !ok {
		t.Fatal("expected BTC-USD price to be published")
	}
	if !btc.ExternalBid.Equal(money.FromInt(100)) {
		t.Errorf("ExternalBid = %s, want 100", btc.ExternalBid)
	}

	eth, ok := prices.Get("ETH-USD")
	if !ok {
		t.Fatal("expected ETH-USD price to be published")
	}
	if !eth.ExternalAsk.Equal(money.FromInt(11)) {
		t.Errorf("ExternalAsk = %s, want 11", eth.ExternalAsk)
	}
}

func TestRefreshSpotToleratesSourceError(t *testing.T) {
	t.Parallel()
	prices := priceengine.New(0, nil)
	source := &fakeSource{spotErr: errors.New("upstream down")}
	f := New(testLogger(), source, prices)

	f.refreshSpot(context.Background())

	if _, ok := prices.Get("BTC-USD"); ok {
		t.Error("expected no price to be published on a fetch error")
	}
}

func TestRefreshStatsMergesAuxFieldsOntoExistingQuote(t *testing.T) {
	t.Parallel()
	prices := priceengine.New(0, nil)
	prices.Publish("BTC-USD", money.FromInt(100), money.FromInt(101))

	source := &fakeSource{stats: []StatsQuote{
		{Symbol: "BTC-USD", Change24h: money.FromFloat(0.05), Volume24h: money.FromInt(1000)},
	}}
	f := New(testLogger(), source, prices)

	f.refreshStats(context.Background())

	p, ok := prices.Get("BTC-USD")
	if !ok {
		t.Fatal("expected BTC-USD price to still exist")
	}
	if !p.Change24h.Equal(money.FromFloat(0.05)) {
		t.Errorf("Change24h = %s, want 0.05", p.Change24h)
	}
	if !p.InternalBid.GreaterThan(money.Zero) {
		t.Error("expected the spread-adjusted internal bid to be preserved across the stats refresh")
	}
}

func TestRefreshStatsSkipsSymbolWithNoExistingQuote(t *testing.T) {
	t.Parallel()
	prices := priceengine.New(0, nil)
	source := &fakeSource{stats: []StatsQuote{
		{Symbol: "DOGE-USD", Change24h: money.FromFloat(0.1)},
	}}
	f := New(testLogger(), source, prices)

	f.refreshStats(context.Background())

	if _, ok := prices.Get("DOGE-USD"); ok {
		t.Error("expected a stats-only symbol with no prior spot quote to be skipped")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	prices := priceengine.New(0, nil)
	source := &fakeSource{spot: []SpotQuote{{Symbol: "BTC-USD", Bid: money.FromInt(100), Ask: money.FromInt(101)}}}
	f := New(testLogger(), source, prices)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
}
