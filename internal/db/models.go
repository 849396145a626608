// Package db defines the GORM-backed persistence layer for signals,
// trades, and market snapshots, grounded on
// ChoSanghyuk-blackholedex's internal/db/transaction_recorder.go
// (GORM model + dialect + AutoMigrate pattern) and the original's
// models/db_models.py table shapes.
package db

import "time"

// SignalRecord is the persisted row for a dispatched Signal. It has an
// optional 1:1 Trade (populated once the virtual position closes) and
// an optional 1:1 Snapshot captured at dispatch time.
type SignalRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Symbol      string    `gorm:"index;not null"`
	Side        string    `gorm:"not null"`
	EntryPrice  float64   `gorm:"not null"`
	TPPrice     float64   `gorm:"not null"`
	SLPrice     float64   `gorm:"not null"`
	SpikeRatio  float64
	CreatedAt   time.Time

	Trade    *TradeRecord    `gorm:"foreignKey:SignalID;references:ID;constraint:OnDelete:CASCADE"`
	Snapshot *MarketSnapshot `gorm:"foreignKey:SignalID;references:ID;constraint:OnDelete:CASCADE"`
}

func (SignalRecord) TableName() string { return "signals" }

// TradeRecord is the close-out row for a SignalRecord's virtual position.
type TradeRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SignalID    uint      `gorm:"uniqueIndex;not null"`
	CloseReason string    `gorm:"not null"` // TP, SL, TIMEOUT
	ClosePrice  float64   `gorm:"not null"`
	PnLPercent  float64   `gorm:"not null"`
	ClosedAt    time.Time
}

func (TradeRecord) TableName() string { return "trades" }

// MarketSnapshot captures the indicator state backing a SignalRecord
// at dispatch time, for later inspection.
type MarketSnapshot struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SignalID        uint   `gorm:"uniqueIndex;not null"`
	EMAFastValue    float64
	EMASlowValue    float64
	CurrentVolume   float64
	AvgVolume       float64
	CandleDataJSON  *string
}

func (MarketSnapshot) TableName() string { return "market_snapshots" }
