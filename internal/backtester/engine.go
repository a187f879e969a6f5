// Package backtester provides the deterministic bar-by-bar trade simulator
// and its performance metrics.
package backtester

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/pkg/types"
	"github.com/ksfraser/stock-backtest/pkg/utils"
)

// Config holds the simulation cost model. Commission and slippage are
// symmetric rates applied at both entry and exit, always working against
// the trader: buy higher, sell lower, pay commission both ways.
type Config struct {
	InitialCapital decimal.Decimal
	Commission     decimal.Decimal
	Slippage       decimal.Decimal
}

// DefaultConfig returns the standard cost model.
func DefaultConfig() Config {
	return Config{
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       decimal.NewFromFloat(0.0005),
	}
}

// ConfigFromTypes converts the viper-level float configuration into the
// engine's decimal cost model, filling zero values with defaults.
func ConfigFromTypes(c types.EngineConfig) Config {
	cfg := DefaultConfig()
	if c.InitialCapital > 0 {
		cfg.InitialCapital = decimal.NewFromFloat(c.InitialCapital)
	}
	if c.Commission > 0 {
		cfg.Commission = decimal.NewFromFloat(c.Commission)
	}
	if c.Slippage > 0 {
		cfg.Slippage = decimal.NewFromFloat(c.Slippage)
	}
	return cfg
}

// Engine simulates a pluggable strategy against a historical price series.
// The position model is flat-or-long only: no shorting, no pyramiding, at
// most one open position at a time. An Engine is reusable sequentially
// across Run calls (all mutable state is reset at entry) but must not be
// shared concurrently.
type Engine struct {
	logger *zap.Logger
	config Config

	cash            decimal.Decimal
	shares          int64
	entryIdx        int
	trades          []types.Trade
	equityCurve     []types.EquityPoint
	totalCommission decimal.Decimal
}

// NewEngine creates a backtesting engine with the given cost model.
func NewEngine(logger *zap.Logger, config Config) *Engine {
	if config.InitialCapital.IsZero() {
		config = DefaultConfig()
	}
	return &Engine{
		logger: logger,
		config: config,
	}
}

// reset restores the engine to its initial FLAT state so results are
// independent of call order.
func (e *Engine) reset() {
	e.cash = e.config.InitialCapital
	e.shares = 0
	e.entryIdx = -1
	e.trades = e.trades[:0]
	e.equityCurve = e.equityCurve[:0]
	e.totalCommission = decimal.Zero
}

// Run executes the strategy over the full bar sequence and returns the
// completed result. Open positions are not auto-closed at the end; the
// final portfolio value is marked to market at the last bar's close.
func (e *Engine) Run(strategy types.StrategyFunc, symbol string, bars []types.PriceBar) (*types.BacktestResult, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is empty", ErrValidation)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: historical data is empty", ErrValidation)
	}

	start := time.Now()
	e.reset()

	for _, bar := range bars {
		signal, err := strategy(symbol, bar.Date)
		if err != nil {
			return nil, err
		}

		switch signal.Action {
		case types.ActionBuy:
			if e.shares == 0 {
				e.executeBuy(symbol, bar)
			}
		case types.ActionSell:
			if e.shares > 0 {
				e.executeSell(symbol, bar)
			}
		}

		equity := e.cash.Add(decimal.NewFromInt(e.shares).Mul(bar.Close))
		e.equityCurve = append(e.equityCurve, types.EquityPoint{
			Date:   bar.Date,
			Equity: equity,
		})
	}

	lastClose := bars[len(bars)-1].Close
	finalValue := e.cash.Add(decimal.NewFromInt(e.shares).Mul(lastClose))

	var m Metrics
	result := &types.BacktestResult{
		ID:              uuid.New().String(),
		Symbol:          symbol,
		InitialCapital:  e.config.InitialCapital,
		FinalValue:      finalValue,
		ReturnPct:       m.TotalReturn(e.config.InitialCapital.InexactFloat64(), finalValue.InexactFloat64()),
		Trades:          append([]types.Trade(nil), e.trades...),
		TotalCommission: e.totalCommission,
		EquityCurve:     append([]types.EquityPoint(nil), e.equityCurve...),
		MaxDrawdown:     m.MaxDrawdown(EquityValues(e.equityCurve)),
		Days:            len(bars),
		StartedAt:       start,
		Duration:        time.Since(start),
	}

	e.logger.Debug("backtest run complete",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(result.Trades)),
		zap.Float64("returnPct", result.ReturnPct),
	)

	return result, nil
}

// executeBuy opens a position at the bar's close. Slippage raises the fill
// price; commission is charged on the pre-trade cash balance before the
// share count is computed. Orders that cannot afford a single share are
// silently skipped.
func (e *Engine) executeBuy(symbol string, bar types.PriceBar) {
	price := bar.Close.Mul(decimal.NewFromInt(1).Add(e.config.Slippage))
	commission := e.cash.Mul(e.config.Commission)
	available := e.cash.Sub(commission)

	if !price.IsPositive() {
		return
	}
	shares := available.Div(price).Floor()
	if shares.IsZero() || shares.IsNegative() {
		e.logger.Debug("buy skipped, insufficient capital",
			zap.String("symbol", symbol),
			zap.String("price", price.String()),
			zap.String("cash", e.cash.String()),
		)
		return
	}

	cost := shares.Mul(price).Add(commission)
	e.cash = e.cash.Sub(cost)
	e.shares = shares.IntPart()
	e.totalCommission = e.totalCommission.Add(commission)
	e.entryIdx = len(e.trades)

	e.trades = append(e.trades, types.Trade{
		ID:         utils.GenerateTradeID(),
		Symbol:     symbol,
		Action:     types.ActionBuy,
		Date:       bar.Date,
		Price:      price,
		Shares:     e.shares,
		Cost:       cost,
		Commission: commission,
	})
}

// executeSell fully closes the open position at the bar's close. Slippage
// lowers the fill price; commission is charged on gross proceeds. Profit is
// measured against the matching BUY's total cost, return percent against
// its fill price.
func (e *Engine) executeSell(symbol string, bar types.PriceBar) {
	price := bar.Close.Mul(decimal.NewFromInt(1).Sub(e.config.Slippage))
	sharesDec := decimal.NewFromInt(e.shares)
	gross := sharesDec.Mul(price)
	commission := gross.Mul(e.config.Commission)
	net := gross.Sub(commission)

	entry := e.trades[e.entryIdx]
	profit := net.Sub(entry.Cost)
	returnPct := price.Sub(entry.Price).Div(entry.Price).InexactFloat64() * 100

	e.cash = e.cash.Add(net)
	e.totalCommission = e.totalCommission.Add(commission)
	e.shares = 0
	e.entryIdx = -1

	e.trades = append(e.trades, types.Trade{
		ID:         utils.GenerateTradeID(),
		Symbol:     symbol,
		Action:     types.ActionSell,
		Date:       bar.Date,
		Price:      price,
		Shares:     sharesDec.IntPart(),
		Proceeds:   net,
		Commission: commission,
		Profit:     profit,
		ReturnPct:  returnPct,
	})
}

// EquityValues flattens an equity curve into float64 values for the
// statistics kernels.
func EquityValues(curve []types.EquityPoint) []float64 {
	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.Equity.InexactFloat64()
	}
	return values
}
