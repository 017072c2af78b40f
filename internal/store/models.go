package store

import "time"

// AccountRecord is the trading_accounts row a dirty account.State
// flushes to.
type AccountRecord struct {
	AccountID     string `gorm:"primaryKey;column:account_id"`
	OwnerID       string `gorm:"index;column:owner_id"`
	PlanID        string `gorm:"column:plan_id"`
	AccountNumber string `gorm:"column:account_number"`
	Type          string `gorm:"column:type"`
	EvaluationStep int   `gorm:"column:evaluation_step"`
	Status        string `gorm:"column:status"`

	StartingBalance      string `gorm:"type:varchar(64);column:starting_balance"`
	Balance              string `gorm:"type:varchar(64);column:balance"`
	PeakBalance          string `gorm:"type:varchar(64);column:peak_balance"`
	UsedMargin           string `gorm:"type:varchar(64);column:used_margin"`
	AvailableMargin      string `gorm:"type:varchar(64);column:available_margin"`
	DailyStartingBalance string `gorm:"type:varchar(64);column:daily_starting_balance"`
	DailyPnL             string `gorm:"type:varchar(64);column:daily_pnl"`
	CurrentProfit        string `gorm:"type:varchar(64);column:current_profit"`

	DailyLossLimit   string `gorm:"type:varchar(64);column:daily_loss_limit"`
	MaxDrawdownLimit string `gorm:"type:varchar(64);column:max_drawdown_limit"`
	ProfitTarget     string `gorm:"type:varchar(64);column:profit_target"`
	MaxLeverage      int64  `gorm:"column:max_leverage"`

	TotalTrades   int64  `gorm:"column:total_trades"`
	WinningTrades int64  `gorm:"column:winning_trades"`
	LosingTrades  int64  `gorm:"column:losing_trades"`
	TotalVolume   string `gorm:"type:varchar(64);column:total_volume"`
	TradingDays   int64  `gorm:"column:trading_days"`
	LastTradeAt   time.Time `gorm:"column:last_trade_at"`

	UpdatedAt time.Time `gorm:"autoUpdateTime;column:updated_at"`
}

// TableName pins the accounts table name.
func (AccountRecord) TableName() string { return "trading_accounts" }

// PositionRecord is the positions row an open position flushes to.
type PositionRecord struct {
	ID        string `gorm:"primaryKey;column:id"`
	AccountID string `gorm:"index;column:account_id"`
	Symbol    string `gorm:"column:symbol"`
	Direction string `gorm:"column:direction"`

	Size               string `gorm:"type:varchar(64);column:size"`
	EntryPrice         string `gorm:"type:varchar(64);column:entry_price"`
	EntryValue         string `gorm:"type:varchar(64);column:entry_value"`
	Margin             string `gorm:"type:varchar(64);column:margin"`
	EntryFee           string `gorm:"type:varchar(64);column:entry_fee"`
	AccumulatedFunding string `gorm:"type:varchar(64);column:accumulated_funding"`
	Leverage           int64  `gorm:"column:leverage"`
	LiquidationPrice   string `gorm:"type:varchar(64);column:liquidation_price"`

	TakeProfit *string `gorm:"type:varchar(64);column:take_profit"`
	StopLoss   *string `gorm:"type:varchar(64);column:stop_loss"`

	OpenedAt  time.Time `gorm:"column:opened_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;column:updated_at"`
}

func (PositionRecord) TableName() string { return "positions" }

// OrderRecord is the orders row a resting limit order flushes to.
type OrderRecord struct {
	ID            string  `gorm:"primaryKey;column:id"`
	ClientOrderID string  `gorm:"column:client_order_id"`
	AccountID     string  `gorm:"index;column:account_id"`
	// PositionID is set when a resting order is attached to an already-open
	// position (e.g. a TP/SL modification); nullified by deletePosition
	// before the referenced position row is removed, per the FK contract.
	PositionID *string `gorm:"index;column:position_id"`
	Symbol     string  `gorm:"column:symbol"`
	Direction  string  `gorm:"column:direction"`

	Size           string `gorm:"type:varchar(64);column:size"`
	LimitPrice     string `gorm:"type:varchar(64);column:limit_price"`
	ReservedMargin string `gorm:"type:varchar(64);column:reserved_margin"`
	Leverage       int64  `gorm:"column:leverage"`

	CreatedAt time.Time `gorm:"column:created_at"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

func (OrderRecord) TableName() string { return "orders" }

// TradeRecord is the trades row emitted by every Close Executor call.
type TradeRecord struct {
	TradeID        string `gorm:"primaryKey;column:trade_id"`
	AccountID      string `gorm:"index;column:account_id"`
	PositionID     string `gorm:"column:position_id"`
	Symbol         string `gorm:"column:symbol"`
	Direction      string `gorm:"column:direction"`
	QuantityClosed string `gorm:"type:varchar(64);column:quantity_closed"`
	Leverage       int64  `gorm:"column:leverage"`

	EntryPrice string `gorm:"type:varchar(64);column:entry_price"`
	EntryValue string `gorm:"type:varchar(64);column:entry_value"`
	EntryFee   string `gorm:"type:varchar(64);column:entry_fee"`
	ExitPrice  string `gorm:"type:varchar(64);column:exit_price"`
	ExitValue  string `gorm:"type:varchar(64);column:exit_value"`
	ExitFee    string `gorm:"type:varchar(64);column:exit_fee"`

	Reason          string  `gorm:"column:reason"`
	FundingFee      string  `gorm:"type:varchar(64);column:funding_fee"`
	GrossPnL        string  `gorm:"type:varchar(64);column:gross_pnl"`
	TotalFees       string  `gorm:"type:varchar(64);column:total_fees"`
	NetPnL          string  `gorm:"type:varchar(64);column:net_pnl"`
	DurationSeconds float64 `gorm:"column:duration_seconds"`

	ClosedAt time.Time `gorm:"column:closed_at"`
}

func (TradeRecord) TableName() string { return "trades" }

// AuditEventRecord is the audit_logs row one audit.Event flushes to.
type AuditEventRecord struct {
	EventID      string `gorm:"primaryKey;column:event_id"`
	AccountID    string `gorm:"index;column:account_id"`
	EventType    string `gorm:"column:event_type"`
	PayloadJSON  string `gorm:"type:text;column:payload_json"`
	PreviousHash string `gorm:"column:previous_hash"`
	Hash         string `gorm:"column:hash"`
	Timestamp    time.Time `gorm:"column:timestamp"`
}

func (AuditEventRecord) TableName() string { return "audit_logs" }

// MarketPairRecord is one tradable symbol's configuration, read once at
// boot and cached by the Price Engine for the lifetime of the process.
type MarketPairRecord struct {
	Symbol      string `gorm:"primaryKey;column:symbol"`
	SpreadBps   int64  `gorm:"column:spread_bps"`
	MaxLeverage int64  `gorm:"column:max_leverage"`
	Enabled     bool   `gorm:"column:enabled"`
}

func (MarketPairRecord) TableName() string { return "market_pairs" }
