// Package marketfeed ingests external quotes, 24-hour stats, and
// funding rates, and pushes them into the Price Engine. The quote
// source is pluggable behind the QuoteSource interface so the feed
// itself never depends on a specific upstream API.
package marketfeed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"propengine/internal/money"
	"propengine/internal/priceengine"
)

// SpotQuoteInterval is the spot bid/ask refresh cadence.
const SpotQuoteInterval = time.Second

// StatsInterval is the 24h-stats/funding-rate refresh cadence.
const StatsInterval = 30 * time.Second

// SpotQuote is one symbol's external bid/ask at a point in time.
type SpotQuote struct {
	Symbol string
	Bid    money.Amount
	Ask    money.Amount
}

// StatsQuote is one symbol's slower-moving 24h/funding attributes.
type StatsQuote struct {
	Symbol      string
	Change24h   money.Amount
	High24h     money.Amount
	Low24h      money.Amount
	Volume24h   money.Amount
	FundingRate money.Amount
}

// QuoteSource is the external market-data provider. Implementations
// wrap whatever transport (REST polling, a websocket feed) actually
// supplies prices; the feed only needs these two fetch calls.
type QuoteSource interface {
	FetchSpot(ctx context.Context) ([]SpotQuote, error)
	FetchStats(ctx context.Context) ([]StatsQuote, error)
}

// Feed runs the two periodic refresh tasks and publishes into a
// Price Engine. A transport failure on either task is logged and
// retried on the next tick — it never crashes the engine.
type Feed struct {
	log    *slog.Logger
	source QuoteSource
	prices *priceengine.Engine
}

// New creates a Feed.
func New(log *slog.Logger, source QuoteSource, prices *priceengine.Engine) *Feed {
	return &Feed{log: log.With("component", "market_feed"), source: source, prices: prices}
}

// Run blocks until ctx is cancelled, driving both refresh loops.
func (f *Feed) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.runSpot(ctx) }()
	go func() { defer wg.Done(); f.runStats(ctx) }()
	wg.Wait()
}

func (f *Feed) runSpot(ctx context.Context) {
	f.refreshSpot(ctx)

	ticker := time.NewTicker(SpotQuoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refreshSpot(ctx)
		}
	}
}

func (f *Feed) runStats(ctx context.Context) {
	f.refreshStats(ctx)

	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refreshStats(ctx)
		}
	}
}

func (f *Feed) refreshSpot(ctx context.Context) {
	quotes, err := f.source.FetchSpot(ctx)
	if err != nil {
		f.log.Warn("spot quote refresh failed", "error", err)
		return
	}
	for _, q := range quotes {
		f.prices.Publish(q.Symbol, q.Bid, q.Ask)
	}
}

func (f *Feed) refreshStats(ctx context.Context) {
	stats, err := f.source.FetchStats(ctx)
	if err != nil {
		f.log.Warn("24h stats refresh failed", "error", err)
		return
	}
	for _, s := range stats {
		price, ok := f.prices.Get(s.Symbol)
		if !ok {
			continue
		}
		f.prices.PublishAux(s.Symbol, price.ExternalBid, price.ExternalAsk, priceengine.AuxFields{
			Change24h:   s.Change24h,
			High24h:     s.High24h,
			Low24h:      s.Low24h,
			Volume24h:   s.Volume24h,
			FundingRate: s.FundingRate,
		})
	}
}
