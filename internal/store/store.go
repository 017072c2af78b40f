// Package store is the gorm-backed Postgres persistence layer: it
// flushes dirty account state, open positions, pending orders, trade
// records, and audit events to durable storage, and reloads accounts
// on startup. Every write goes through a bounded, circuit-breaker-
// guarded queue (queue.go) rather than blocking its caller.
package store

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"propengine/internal/account"
	"propengine/internal/audit"
	"propengine/internal/execution"
	"propengine/internal/metrics"
	"propengine/internal/orderbook"
	"propengine/internal/position"
)

// queueMetricsInterval is how often Run samples queue depth and
// breaker state into the metrics registry.
const queueMetricsInterval = 5 * time.Second

// Store wraps a *gorm.DB and the bounded write queues sitting in
// front of it.
type Store struct {
	db  *gorm.DB
	log *slog.Logger

	closePersistQueue *Queue
	writePersistQueue *Queue // orders, positions, audit events

	metrics *metrics.Registry
}

// SetMetrics wires the queue-depth and circuit-breaker gauges. Called
// once at startup.
func (s *Store) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// Open connects to databaseURL and migrates the schema.
func Open(databaseURL string, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := db.AutoMigrate(
		&AccountRecord{}, &PositionRecord{}, &OrderRecord{},
		&TradeRecord{}, &AuditEventRecord{}, &MarketPairRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &Store{db: db, log: log.With("component", "store")}
	s.closePersistQueue = NewQueue("close-persist", 100, log, func(job func() error) error { return job() })
	s.writePersistQueue = NewQueue("write-persist", 100, log, func(job func() error) error { return job() })
	return s, nil
}

// Close stops both queues and closes the underlying connection pool.
func (s *Store) Close() error {
	s.closePersistQueue.Stop()
	s.writePersistQueue.Stop()
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("underlying db: %w", err)
	}
	return sqlDB.Close()
}

// Run starts both persistence queues' consumer loops and the queue-
// metrics sampler; it blocks until stop fires.
func (s *Store) Run(stop <-chan struct{}) {
	go s.closePersistQueue.Run(stop)
	go s.reportQueueMetrics(stop)
	s.writePersistQueue.Run(stop)
}

// reportQueueMetrics samples both queues' depth and breaker state into
// the metrics registry every queueMetricsInterval. A nil registry
// leaves this a no-op ticker.
func (s *Store) reportQueueMetrics(stop <-chan struct{}) {
	if s.metrics == nil {
		return
	}
	ticker := time.NewTicker(queueMetricsInterval)
	defer ticker.Stop()

	sample := func(q *Queue) {
		s.metrics.QueueDepth.WithLabelValues(q.name).Set(float64(q.Depth()))
		breakerOpen := float64(0)
		if q.BreakerOpen() {
			breakerOpen = 1
		}
		s.metrics.CircuitBreaker.WithLabelValues(q.name).Set(breakerOpen)
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample(s.closePersistQueue)
			sample(s.writePersistQueue)
		}
	}
}

// FlushAccount enqueues an account state upsert.
func (s *Store) FlushAccount(st account.State) {
	s.writePersistQueue.Enqueue(func() error { return s.upsertAccount(st) })
}

// FlushAccounts enqueues an upsert for every dirty account snapshot.
func (s *Store) FlushAccounts(states []account.State) {
	for _, st := range states {
		s.FlushAccount(st)
	}
}

// PersistOpen enqueues the position-insert a successful open produced.
func (s *Store) PersistOpen(pos position.Position) {
	s.writePersistQueue.Enqueue(func() error { return s.upsertPosition(pos) })
}

// PersistClose enqueues the trade-record insert and the position
// resize-or-removal a close produces, on the close-persist queue —
// kept separate from general writes so a close is never starved
// behind routine order/position churn.
func (s *Store) PersistClose(trade execution.TradeRecord, remaining *position.Position) {
	s.closePersistQueue.Enqueue(func() error {
		if err := s.insertTrade(trade); err != nil {
			return err
		}
		if remaining != nil {
			return s.upsertPosition(*remaining)
		}
		return s.deletePosition(trade.PositionID)
	})
}

// PersistOrder enqueues a pending-order upsert.
func (s *Store) PersistOrder(o orderbook.Order) {
	s.writePersistQueue.Enqueue(func() error { return s.upsertOrder(o) })
}

// PersistOrderRemoval enqueues an order deletion (fill or cancel). To
// keep foreign keys consistent, callers invoke PersistOpen before
// PersistOrderRemoval on a fill so the replacement position row
// exists before the order row that reserved its margin disappears.
func (s *Store) PersistOrderRemoval(orderID string) {
	s.writePersistQueue.Enqueue(func() error { return s.deleteOrder(orderID) })
}

// PersistAuditEvent enqueues one hash-chained audit event.
func (s *Store) PersistAuditEvent(evt audit.Event) {
	s.writePersistQueue.Enqueue(func() error { return s.insertAuditEvent(evt) })
}

// LoadActiveAccounts reloads every non-expired account on startup, for
// account.Manager.Register.
func (s *Store) LoadActiveAccounts() ([]account.State, error) {
	var rows []AccountRecord
	if err := s.db.Where("status <> ?", string(account.Expired)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	out := make([]account.State, 0, len(rows))
	for _, r := range rows {
		out = append(out, accountFromRecord(r))
	}
	return out, nil
}

// MarketPair is one row of the market_pairs table, loaded once at
// boot and cached by the Price Engine for the process lifetime.
type MarketPair struct {
	Symbol      string
	SpreadBps   int64
	MaxLeverage int64
	Enabled     bool
}

// LoadMarketPairs reads every enabled trading symbol at boot.
func (s *Store) LoadMarketPairs() ([]MarketPair, error) {
	var rows []MarketPairRecord
	if err := s.db.Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load market pairs: %w", err)
	}
	out := make([]MarketPair, 0, len(rows))
	for _, r := range rows {
		out = append(out, MarketPair{Symbol: r.Symbol, SpreadBps: r.SpreadBps, MaxLeverage: r.MaxLeverage, Enabled: r.Enabled})
	}
	return out, nil
}

func (s *Store) upsertAccount(st account.State) error {
	rec := accountToRecord(st)
	return s.db.Save(&rec).Error
}

func (s *Store) upsertPosition(p position.Position) error {
	rec := positionToRecord(p)
	return s.db.Save(&rec).Error
}

// deletePosition nullifies any orders.position_id referencing id before
// removing the position row, satisfying the FK contract without relying
// on ON DELETE SET NULL being present in every deployment's schema.
func (s *Store) deletePosition(id string) error {
	if err := s.db.Model(&OrderRecord{}).Where("position_id = ?", id).Update("position_id", nil).Error; err != nil {
		return err
	}
	return s.db.Delete(&PositionRecord{}, "id = ?", id).Error
}

func (s *Store) upsertOrder(o orderbook.Order) error {
	rec := orderToRecord(o)
	return s.db.Save(&rec).Error
}

func (s *Store) deleteOrder(id string) error {
	return s.db.Delete(&OrderRecord{}, "id = ?", id).Error
}

func (s *Store) insertTrade(t execution.TradeRecord) error {
	rec := tradeToRecord(t)
	return s.db.Create(&rec).Error
}

func (s *Store) insertAuditEvent(evt audit.Event) error {
	rec := AuditEventRecord{
		EventID:      evt.ID,
		AccountID:    evt.AccountID,
		EventType:    string(evt.Type),
		PayloadJSON:  string(evt.Payload),
		PreviousHash: evt.PreviousHash,
		Hash:         evt.Hash,
		Timestamp:    evt.Timestamp,
	}
	return s.db.Create(&rec).Error
}
