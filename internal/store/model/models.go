package model

import (
	"gorm.io/datatypes"
)

// RunModel maps to 'backtest_runs' table.
type RunModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Label         string         `gorm:"column:label;index"`
	Status        string         `gorm:"column:status;index"`
	Message       string         `gorm:"column:message"`
	Symbol        string         `gorm:"column:symbol"`
	Timeframe     string         `gorm:"column:timeframe"`
	Profile       string         `gorm:"column:profile"`
	Bars          int            `gorm:"column:bars"`
	Trades        int            `gorm:"column:trades"`
	Filtered      int            `gorm:"column:filtered"`
	TotalPips     float64        `gorm:"column:total_pips"`
	WinRate       float64        `gorm:"column:win_rate"`
	MaxDrawdown   float64        `gorm:"column:max_drawdown"`
	ConfigJSON    datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON     datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
	CompletedUnix *int64         `gorm:"column:completed_at"`
}

func (RunModel) TableName() string { return "backtest_runs" }

// TradeModel maps to 'backtest_trades' table; exit columns are NULL for rejected attempts.
type TradeModel struct {
	ID           int64    `gorm:"column:id;primaryKey"`
	RunID        string   `gorm:"column:run_id;index:idx_trade_run,priority:1"`
	Seq          int      `gorm:"column:seq;index:idx_trade_run,priority:2"`
	Side         string   `gorm:"column:side"`
	EntryTimeMs  int64    `gorm:"column:entry_time"`
	EntryPrice   float64  `gorm:"column:entry_price"`
	InitialStop  float64  `gorm:"column:initial_stop"`
	StopDistance float64  `gorm:"column:stop_distance_pips"`
	ExitTimeMs   *int64   `gorm:"column:exit_time"`
	ExitPrice    *float64 `gorm:"column:exit_price"`
	FinalStop    *float64 `gorm:"column:final_stop"`
	Pips         *float64 `gorm:"column:pips"`
	Executed     bool     `gorm:"column:executed"`
	Reason       string   `gorm:"column:reason"`
}

func (TradeModel) TableName() string { return "backtest_trades" }
