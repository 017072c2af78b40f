package marketfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"propengine/internal/money"
)

// RESTSource is a QuoteSource backed by a plain resty-based REST
// polling client, pointed at whatever spot/stats endpoints the
// deployment's external feed exposes.
type RESTSource struct {
	client       *resty.Client
	spotPath     string
	statsPath    string
}

// NewRESTSource builds a RESTSource against baseURL.
func NewRESTSource(baseURL, spotPath, statsPath string) *RESTSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &RESTSource{client: client, spotPath: spotPath, statsPath: statsPath}
}

type spotQuoteDTO struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

type statsQuoteDTO struct {
	Symbol      string  `json:"symbol"`
	Change24h   float64 `json:"change24h"`
	High24h     float64 `json:"high24h"`
	Low24h      float64 `json:"low24h"`
	Volume24h   float64 `json:"volume24h"`
	FundingRate float64 `json:"fundingRate"`
}

// FetchSpot polls the spot-quote endpoint.
func (r *RESTSource) FetchSpot(ctx context.Context) ([]SpotQuote, error) {
	var dtos []spotQuoteDTO
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&dtos).
		Get(r.spotPath)
	if err != nil {
		return nil, fmt.Errorf("fetch spot quotes: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch spot quotes: status %d", resp.StatusCode())
	}

	out := make([]SpotQuote, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, SpotQuote{Symbol: d.Symbol, Bid: money.FromFloat(d.Bid), Ask: money.FromFloat(d.Ask)})
	}
	return out, nil
}

// FetchStats polls the 24h-stats/funding-rate endpoint.
func (r *RESTSource) FetchStats(ctx context.Context) ([]StatsQuote, error) {
	var dtos []statsQuoteDTO
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&dtos).
		Get(r.statsPath)
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch stats: status %d", resp.StatusCode())
	}

	out := make([]StatsQuote, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, StatsQuote{
			Symbol:      d.Symbol,
			Change24h:   money.FromFloat(d.Change24h),
			High24h:     money.FromFloat(d.High24h),
			Low24h:      money.FromFloat(d.Low24h),
			Volume24h:   money.FromFloat(d.Volume24h),
			FundingRate: money.FromFloat(d.FundingRate),
		})
	}
	return out, nil
}
