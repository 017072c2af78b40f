package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// riskSnapshotChannel is the pub/sub channel the engine's 1s
// risk-snapshot loop (cmd/engine) publishes computed risk metrics on,
// for any dashboard or alerting consumer subscribed to REDIS_URL.
const riskSnapshotChannel = "propengine:risk_snapshots"

// RiskSnapshot is the payload published once per second for every
// account held in memory.
type RiskSnapshot struct {
	AccountID       string    `json:"accountId"`
	Equity          string    `json:"equity"`
	DailyLossPct    string    `json:"dailyLossPct"`
	DrawdownPct     string    `json:"drawdownPct"`
	ComputedAt      time.Time `json:"computedAt"`
}

// RiskPublisher publishes transient risk snapshots to Redis. It is
// best-effort: a publish failure is logged, never returned to the
// caller, since a dropped snapshot does not affect correctness — the
// next heartbeat supersedes it within a second.
type RiskPublisher struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRiskPublisher parses redisURL and builds a RiskPublisher. A zero
// redisURL is valid — REDIS_URL is documented as optional — and
// Publish becomes a no-op.
func NewRiskPublisher(redisURL string, log *slog.Logger) (*RiskPublisher, error) {
	p := &RiskPublisher{log: log.With("component", "risk_publisher")}
	if redisURL == "" {
		return p, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	p.client = redis.NewClient(opts)
	return p, nil
}

// Publish sends one risk snapshot. No-op if REDIS_URL was not configured.
func (p *RiskPublisher) Publish(ctx context.Context, snap RiskSnapshot) {
	if p.client == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Error("marshal risk snapshot failed", "error", err)
		return
	}
	if err := p.client.Publish(ctx, riskSnapshotChannel, data).Err(); err != nil {
		p.log.Warn("publish risk snapshot failed", "account_id", snap.AccountID, "error", err)
	}
}

// Close closes the underlying Redis client, if one was configured.
func (p *RiskPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
