// propengine — the synchronous execution kernel for a proprietary-
// trading simulation platform.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	internal/priceengine       — publish/subscribe price cache, internal bid/ask derived from external quotes
//	internal/marketfeed        — pluggable external quote source driving the Price Engine
//	internal/account           — per-account mutual-exclusion slot model (balance, margin, status)
//	internal/position          — open-position book, mark-to-market, unrealized P&L
//	internal/orderbook         — resting limit orders awaiting a trigger price
//	internal/execution         — the Order Executor (open) and Close Executor (close/partial-close)
//	internal/trigger           — Limit-Fill, TP/SL, Liquidation, and Risk-Breach watchers
//	internal/gateway           — the websocket Session Gateway: protocol, auth, command dispatch
//	internal/audit             — hash-chained audit log
//	internal/store             — Postgres persistence, bounded write queues, Redis risk-snapshot publisher
//	internal/metrics           — Prometheus instrumentation
//	internal/httpapi           — /health, /metrics, /ws listeners
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"propengine/internal/account"
	"propengine/internal/audit"
	"propengine/internal/config"
	"propengine/internal/execution"
	"propengine/internal/gateway"
	"propengine/internal/httpapi"
	"propengine/internal/marketfeed"
	"propengine/internal/metrics"
	"propengine/internal/orderbook"
	"propengine/internal/position"
	"propengine/internal/priceengine"
	"propengine/internal/store"
	"propengine/internal/trigger"
)

// flushInterval is how often dirty account state is enqueued for
// persistence.
const flushInterval = 5 * time.Second

// reapInterval is how often stale account-slot locks are force-released.
const reapInterval = time.Second

// riskSnapshotInterval is how often every account's risk figures are
// published to Redis, independent of whether any threshold fired.
const riskSnapshotInterval = time.Second

// orderExpiryInterval is how often the resting-order book is swept for
// pending LIMIT orders whose expires-at has passed.
const orderExpiryInterval = 10 * time.Second

// orderExpiryReleaseWait bounds how long the expiry sweep waits for an
// account's slot when releasing an expired order's reserved margin.
const orderExpiryReleaseWait = 100 * time.Millisecond

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	reg := metrics.New(prometheus.DefaultRegisterer)

	db, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	db.SetMetrics(reg)

	marketPairs, err := db.LoadMarketPairs()
	if err != nil {
		logger.Error("failed to load market pairs", "error", err)
		os.Exit(1)
	}
	spreadOverrides := make(map[string]int64, len(marketPairs))
	symbolMaxLeverage := make(map[string]int64, len(marketPairs))
	symbolList := make([]string, 0, len(marketPairs))
	for _, mp := range marketPairs {
		spreadOverrides[mp.Symbol] = mp.SpreadBps
		symbolMaxLeverage[mp.Symbol] = mp.MaxLeverage
		symbolList = append(symbolList, mp.Symbol)
	}
	symbols := func() []string { return symbolList }
	symbolMaxLeverageLookup := func(symbol string) (int64, bool) {
		max, ok := symbolMaxLeverage[symbol]
		return max, ok
	}

	prices := priceengine.New(cfg.SpreadBpsDefault, spreadOverrides)
	positions := position.New()
	orders := orderbook.New()
	accounts := account.New()

	activeAccounts, err := db.LoadActiveAccounts()
	if err != nil {
		logger.Error("failed to load active accounts", "error", err)
		os.Exit(1)
	}
	for _, st := range activeAccounts {
		accounts.Register(st)
	}

	auditLog := audit.New()
	auditLog.Sink = db.PersistAuditEvent

	execCfg := execution.DefaultConfig()
	execCfg.EntryFeeBps = cfg.EntryFeeBps
	execCfg.ExitFeeBps = cfg.ExitFeeBps
	execCfg.MaintenanceMarginBps = cfg.MaintenanceMarginBps
	kernel := execution.New(execCfg, prices, accounts, positions, orders, auditLog)
	kernel.SetPersister(db)
	kernel.SetMetrics(reg)
	kernel.SymbolMaxLeverage = symbolMaxLeverageLookup

	hub := gateway.NewHub(logger)
	hub.Metrics = reg
	hub.OwnerLookup = func(accountID string) (string, bool) {
		st, err := accounts.Get(accountID)
		if err != nil {
			return "", false
		}
		return st.OwnerID, true
	}

	limitFill := trigger.NewLimitFillEngine(logger, prices, orders, accounts, kernel, symbols)
	limitFill.SetOrderPersister(db)
	limitFill.SetMetrics(reg)

	tpsl := trigger.NewTPSLEngine(logger, positions, kernel)
	tpsl.SetMetrics(reg)

	liquidation := trigger.NewLiquidationEngine(logger, positions, kernel)
	liquidation.SetMetrics(reg)

	riskBreach := trigger.NewRiskBreachEngine(logger, accounts, positions, kernel, hub)
	riskBreach.SetMetrics(reg)

	riskPublisher, err := store.NewRiskPublisher(cfg.RedisURL, logger)
	if err != nil {
		logger.Error("failed to build risk publisher", "error", err)
		os.Exit(1)
	}

	prices.Subscribe(func(p priceengine.Price) {
		onPriceUpdate(p, positions, accounts, liquidation, tpsl, riskBreach, hub)
	})

	feed := marketfeed.New(logger, marketfeed.NewRESTSource(cfg.MarketDataBaseURL, cfg.MarketDataSpotPath, cfg.MarketDataStatsPath), prices)

	auth := gateway.NewAuthenticator(cfg.JWTSecret)
	dispatcher := gateway.NewDispatcher(logger, hub, auth, kernel, accounts, positions, orders, db)
	dispatcher.SymbolMaxLeverage = symbolMaxLeverageLookup
	gwServer := gateway.NewServer(hub, dispatcher, logger)

	api := httpapi.New(cfg.WSPort, cfg.MetricsPort, gwServer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})

	go db.Run(stop)
	go feed.Run(ctx)
	go limitFill.Run(ctx)
	go riskBreach.Run(ctx)
	go gwServer.Run(stop)
	go runFlushLoop(stop, accounts, db)
	go runReapLoop(stop, accounts, logger)
	go runRiskSnapshotLoop(stop, accounts, riskPublisher)
	go runOrderExpiryLoop(stop, orders, accounts, db, logger)

	go func() {
		if err := api.Start(); err != nil {
			logger.Error("http api failed", "error", err)
		}
	}()

	logger.Info("propengine started",
		"ws_port", cfg.WSPort,
		"metrics_port", cfg.MetricsPort,
		"symbols", len(symbolList),
		"accounts_loaded", len(activeAccounts),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	close(stop)
	cancel()

	if err := api.Stop(); err != nil {
		logger.Error("failed to stop http api", "error", err)
	}
	db.FlushAccounts(accounts.DirtySnapshot())
	if err := riskPublisher.Close(); err != nil {
		logger.Error("failed to close risk publisher", "error", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
}

// onPriceUpdate is the Price Engine's single subscriber: it marks
// every affected position, patches the owning accounts' aggregated
// unrealized P&L, re-evaluates risk for those accounts, runs the
// liquidation and TP/SL predicates, and fans the price out to the
// gateway — in that order, so the trigger engines always see
// up-to-date marks.
func onPriceUpdate(
	p priceengine.Price,
	positions *position.Manager,
	accounts *account.Manager,
	liquidation *trigger.LiquidationEngine,
	tpsl *trigger.TPSLEngine,
	riskBreach *trigger.RiskBreachEngine,
	hub *gateway.Hub,
) {
	affected := make(map[string]bool)
	for _, pos := range positions.BySymbol(p.Symbol) {
		mark := p.InternalBid
		if pos.Direction == position.Short {
			mark = p.InternalAsk
		}
		if _, err := positions.UpdateMark(pos.ID, mark); err == nil {
			affected[pos.AccountID] = true
		}
	}

	for accountID := range affected {
		unrealized := positions.AccountUnrealizedPnL(accountID)
		if err := accounts.PatchUnrealized(accountID, unrealized); err != nil {
			continue
		}
		riskBreach.OnPositionPriceUpdate(accountID)
	}

	liquidation.OnPrice(p)
	tpsl.OnPrice(p)
	hub.BroadcastPrice(p)
}

func runFlushLoop(stop <-chan struct{}, accounts *account.Manager, db *store.Store) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			dirty := accounts.DirtySnapshot()
			db.FlushAccounts(dirty)
			for _, st := range dirty {
				accounts.MarkClean(st.AccountID)
			}
		}
	}
}

func runReapLoop(stop <-chan struct{}, accounts *account.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, id := range accounts.ReapStaleLocks() {
				logger.Warn("force-released stale account lock", "account_id", id)
			}
		}
	}
}

func runOrderExpiryLoop(stop <-chan struct{}, orders *orderbook.Book, accounts *account.Manager, db *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(orderExpiryInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, o := range orders.Expire(time.Now()) {
				if err := accounts.ReleaseReserved(ctx, o.AccountID, o.ReservedMargin, orderExpiryReleaseWait); err != nil {
					logger.Error("failed to release margin for expired order", "order_id", o.ID, "account_id", o.AccountID, "error", err)
				}
				db.PersistOrderRemoval(o.ID)
			}
		}
	}
}

func runRiskSnapshotLoop(stop <-chan struct{}, accounts *account.Manager, publisher *store.RiskPublisher) {
	ticker := time.NewTicker(riskSnapshotInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, st := range accounts.Snapshot() {
				publisher.Publish(ctx, store.RiskSnapshot{
					AccountID:    st.AccountID,
					Equity:       st.Equity().String(),
					DailyLossPct: trigger.DailyLossPct(st).String(),
					DrawdownPct:  trigger.DrawdownPct(st).String(),
					ComputedAt:   time.Now(),
				})
			}
		}
	}
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
