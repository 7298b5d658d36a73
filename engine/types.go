package engine

import (
	"math"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// State is the simulator's explicit per-instrument state machine.
type State string

const (
	StateFlat  State = "flat"
	StateLong  State = "long"
	StateShort State = "short"
)

// Fill is one executed entry round of a position. Round 1 is the opening
// fill; later rounds only exist when pyramiding is configured.
type Fill struct {
	Round    int     `json:"round"`
	Index    int     `json:"index"`
	Time     string  `json:"time"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Fee      float64 `json:"fee"`
	Amount   float64 `json:"amount"`    // price * qty, before fees
	AvgPrice float64 `json:"avg_price"` // running breakeven after this fill
	DropPct  float64 `json:"drop_pct"`  // change vs previous fill price (rounds > 1)
}

// Position is the simulator-internal open trade. Exists only between an
// entry and its exit; the simulator never holds two at once.
type Position struct {
	Direction  Direction
	EntryIndex int
	EntryTime  time.Time
	Qty        float64
	Cost       float64 // cumulative spend including buy fees
	AvgPrice   float64
	Rounds     int
	Fills      []Fill
}

// ExitFees is the sell-side fee breakdown.
type ExitFees struct {
	Broker float64 `json:"broker"`
	SEC    float64 `json:"sec,omitempty"`
	TAF    float64 `json:"taf,omitempty"`
	Total  float64 `json:"total"`
}

// Trade is a closed position. Immutable once appended to the log.
type Trade struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	EntryIndex  int       `json:"entry_index"`
	EntryTime   string    `json:"entry_time"`
	EntryPrice  float64   `json:"entry_price"` // average over fills
	ExitIndex   int       `json:"exit_index"`
	ExitTime    string    `json:"exit_time"`
	ExitPrice   float64   `json:"exit_price"`
	Qty         float64   `json:"qty"`
	Rounds      int       `json:"rounds"`
	HoldingBars int       `json:"holding_bars"`
	GrossPnL    float64   `json:"gross_pnl"`
	NetPnL      float64   `json:"net_pnl"`
	ReturnPct   float64   `json:"return_pct"` // on invested capital of this trade
	ReasonExit  string    `json:"reason_exit"`
	Fills       []Fill    `json:"fills,omitempty"`
	ExitFees    ExitFees  `json:"exit_fees"`
}

// Candidate is one instrument flagged by a scan, with the indicator values
// that triggered it for audit.
type Candidate struct {
	Symbol   string             `json:"symbol"`
	Index    int                `json:"index"`
	Time     string             `json:"time"`
	Close    float64            `json:"close"`
	SortKey  float64            `json:"sort_key"`
	Snapshot map[string]float64 `json:"snapshot"`
}

// ScanError is a per-instrument failure collected alongside candidates.
// A scan never aborts because one instrument's data is bad.
type ScanError struct {
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"` // unavailable | corrupt
	Err    string `json:"err"`
}

// Metrics summarizes a trade log. All values are pure functions of the log.
type Metrics struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"-"` // +Inf when loss-free; see MarshalJSON
	MaxDrawdown  float64 `json:"max_drawdown"`
	Expectancy   float64 `json:"expectancy"`
}

// Report is the outcome of one backtest run.
type Report struct {
	Symbol  string  `json:"symbol"`
	Bars    int     `json:"bars"`
	Trades  []Trade `json:"trades"`
	Metrics Metrics `json:"metrics"`
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
