// Package types provides shared type definitions for the analytics backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action represents a trading signal direction.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is the result of querying a strategy at a point in time.
type Signal struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence,omitempty"`
}

// StrategyFunc is the pluggable strategy capability: given a symbol and a
// session date it produces a signal. How the signal is derived (indicators,
// patterns, fundamentals) is opaque to the engine.
type StrategyFunc func(symbol string, date time.Time) (Signal, error)

// ParamSet maps parameter names to concrete values, one per grid cell.
type ParamSet map[string]float64

// ParamGrid maps parameter names to the candidate values to search over.
type ParamGrid map[string][]float64

// StrategyFactory builds a strategy instance for one parameter combination.
type StrategyFactory func(params ParamSet) (StrategyFunc, error)

// PriceBar is a single OHLCV session bar, ordered chronologically.
type PriceBar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Trade is one executed order. SELL trades carry Profit and ReturnPct
// relative to the most recent open BUY; BUY trades never do.
type Trade struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Action     Action          `json:"action"`
	Date       time.Time       `json:"date"`
	Price      decimal.Decimal `json:"price"`
	Shares     int64           `json:"shares"`
	Cost       decimal.Decimal `json:"cost,omitempty"`
	Proceeds   decimal.Decimal `json:"proceeds,omitempty"`
	Commission decimal.Decimal `json:"commission"`
	Profit     decimal.Decimal `json:"profit,omitempty"`
	ReturnPct  float64         `json:"returnPct,omitempty"`
}

// EquityPoint is one mark-to-market portfolio valuation, appended per bar.
type EquityPoint struct {
	Date   time.Time       `json:"date"`
	Equity decimal.Decimal `json:"equity"`
}

// BacktestResult is the outcome of one engine run.
type BacktestResult struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	InitialCapital  decimal.Decimal `json:"initialCapital"`
	FinalValue      decimal.Decimal `json:"finalValue"`
	ReturnPct       float64         `json:"returnPct"`
	Trades          []Trade         `json:"trades"`
	TotalCommission decimal.Decimal `json:"totalCommission"`
	EquityCurve     []EquityPoint   `json:"equityCurve"`
	MaxDrawdown     float64         `json:"maxDrawdown"`
	Days            int             `json:"days"`
	StartedAt       time.Time       `json:"startedAt"`
	Duration        time.Duration   `json:"duration"`
}

// PerformanceSummary is the flat record of named metrics derived from a
// completed backtest. Percentages are expressed as percents, ratios as
// raw values.
type PerformanceSummary struct {
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	SharpeRatio      float64 `json:"sharpeRatio"`
	SortinoRatio     float64 `json:"sortinoRatio"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	WinRate          float64 `json:"winRate"`
	ProfitFactor     float64 `json:"profitFactor"`
	TotalTrades      int     `json:"totalTrades"`
	WinningTrades    int     `json:"winningTrades"`
	LosingTrades     int     `json:"losingTrades"`
	AvgWin           float64 `json:"avgWin"`
	AvgLoss          float64 `json:"avgLoss"`
	Expectancy       float64 `json:"expectancy"`
	Volatility       float64 `json:"volatility"`
}

// OptimizationScore is the outcome of evaluating one parameter combination.
type OptimizationScore struct {
	Parameters ParamSet            `json:"parameters"`
	Score      float64             `json:"score"`
	Summary    *PerformanceSummary `json:"summary"`
}

// OptimizationResult is the outcome of a full grid search.
type OptimizationResult struct {
	ID             string              `json:"id"`
	Metric         string              `json:"metric"`
	BestParameters ParamSet            `json:"bestParameters"`
	BestScore      float64             `json:"bestScore"`
	WorstScore     float64             `json:"worstScore"`
	AvgScore       float64             `json:"avgScore"`
	AllResults     []OptimizationScore `json:"allResults"`
	Iterations     int                 `json:"iterations"`
	Duration       time.Duration       `json:"duration"`
}

// WalkForwardWindow is one train/test step of a walk-forward validation.
type WalkForwardWindow struct {
	TrainStart     time.Time `json:"trainStart"`
	TrainEnd       time.Time `json:"trainEnd"`
	TestStart      time.Time `json:"testStart"`
	TestEnd        time.Time `json:"testEnd"`
	BestParameters ParamSet  `json:"bestParameters"`
	TrainScore     float64   `json:"trainScore"`
	TestScore      float64   `json:"testScore"`
}

// WalkForwardResult aggregates all walk-forward windows. OverfittingRatio
// is avg test score over avg train score; values near 1 indicate the
// optimized parameters generalize out of sample.
type WalkForwardResult struct {
	Metric           string              `json:"metric"`
	Windows          []WalkForwardWindow `json:"windows"`
	AvgTrainScore    float64             `json:"avgTrainScore"`
	AvgTestScore     float64             `json:"avgTestScore"`
	OverfittingRatio float64             `json:"overfittingRatio"`
}

// SignalRecord is one falsifiable directional prediction and its outcome.
// HOLD signals are never recorded.
type SignalRecord struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Signal         Action          `json:"signal"`
	SignalPrice    decimal.Decimal `json:"signalPrice"`
	ActualPrice    decimal.Decimal `json:"actualPrice"`
	PriceChangePct float64         `json:"priceChangePct"`
	Confidence     float64         `json:"confidence"`
	DaysForward    int             `json:"daysForward"`
	Strategy       string          `json:"strategy"`
	Sector         string          `json:"sector,omitempty"`
	Index          string          `json:"index,omitempty"`
	Correct        bool            `json:"correct"`
	RecordedAt     time.Time       `json:"recordedAt"`
}

// SectorResult is one completed backtest outcome tagged with its sector
// and index membership, fed into sector/index aggregation.
type SectorResult struct {
	Symbol   string  `json:"symbol"`
	Sector   string  `json:"sector"`
	Index    string  `json:"index"`
	Strategy string  `json:"strategy"`
	Return   float64 `json:"return"`
}
