package models

import (
	"time"
)

// Candle представляет свечу
type Candle struct {
	Symbol    string    `json:"symbol,omitempty"`
	Interval  string    `json:"interval,omitempty"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time,omitempty"`
}

// Closes возвращает ряд цен закрытия
func Closes(candles []*Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// Signal тип торгового сигнала
type Signal string

const (
	SignalNone  Signal = "NONE"
	SignalLong  Signal = "LONG"
	SignalError Signal = "ERROR"
)

// Side направление позиции
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionStatus статус позиции
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// ExitReason причина закрытия позиции
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitTakeProfit ExitReason = "Take Profit"
	ExitStopLoss   ExitReason = "Stop Loss"
)

// IndicatorSnapshot значения индикаторов на последней свече окна
type IndicatorSnapshot struct {
	RSI               float64 `json:"rsi"`
	BBUpper           float64 `json:"bb_upper"`
	BBMiddle          float64 `json:"bb_middle"`
	BBLower           float64 `json:"bb_lower"`
	Price             float64 `json:"price"`
	DistanceFromLower float64 `json:"distance_from_bb_lower"`
}

// SignalDecision результат оценки одного символа
type SignalDecision struct {
	Symbol    string             `json:"symbol"`
	Signal    Signal             `json:"signal"`
	Reason    string             `json:"reason"`
	Snapshot  *IndicatorSnapshot `json:"snapshot,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// Position представляет позицию (открытую или закрытую)
type Position struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Side        Side           `json:"side"`
	Quantity    float64        `json:"quantity"`
	EntryPrice  float64        `json:"entry_price"`
	Leverage    int            `json:"leverage"`
	TradeVolume float64        `json:"trade_volume"`
	TakeProfit  float64        `json:"take_profit"`
	StopLoss    float64        `json:"stop_loss"`
	RSIAtEntry  float64        `json:"rsi_at_entry"`
	EntryTime   time.Time      `json:"entry_time"`
	Status      PositionStatus `json:"status"`
	ExitPrice   float64        `json:"exit_price,omitempty"`
	ExitTime    time.Time      `json:"exit_time,omitempty"`
	ExitReason  ExitReason     `json:"exit_reason,omitempty"`
	PnL         float64        `json:"pnl"`
	PnLPercent  float64        `json:"pnl_percent"`
}

// IsOpen сообщает, открыта ли позиция
func (p Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Trade закрытая позиция бэктеста
type Trade struct {
	Position
	DurationMinutes float64 `json:"duration_minutes"`
}

// NewTrade проецирует закрытую позицию в сделку
func NewTrade(p Position) Trade {
	return Trade{
		Position:        p,
		DurationMinutes: p.ExitTime.Sub(p.EntryTime).Minutes(),
	}
}
