package backtester

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ksfraser/stock-backtest/pkg/types"
)

// TradingDaysPerYear is the annualization base for Sharpe, Sortino and
// volatility.
const TradingDaysPerYear = 252

// Metric names accepted by the optimizer and comparator ranking.
const (
	MetricTotalReturn  = "total_return"
	MetricSharpeRatio  = "sharpe_ratio"
	MetricSortinoRatio = "sortino_ratio"
	MetricMaxDrawdown  = "max_drawdown"
	MetricWinRate      = "win_rate"
	MetricProfitFactor = "profit_factor"
)

// ValidMetrics lists the rankable metric names in display order.
var ValidMetrics = []string{
	MetricTotalReturn,
	MetricSharpeRatio,
	MetricSortinoRatio,
	MetricMaxDrawdown,
	MetricWinRate,
	MetricProfitFactor,
}

// Metrics computes return, risk and trade-quality statistics from completed
// simulation results. All functions are pure and degrade to zero rather
// than failing on empty input or zero denominators, so backtests with no
// trades never crash report generation.
type Metrics struct{}

// TotalReturn is the percent change from initial to final value.
func (Metrics) TotalReturn(initial, final float64) float64 {
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial * 100
}

// AnnualizedReturn converts a total return percent over the given number of
// days into a compound annual percent.
func (Metrics) AnnualizedReturn(totalReturnPct float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	years := float64(days) / 365
	return (math.Pow(1+totalReturnPct/100, 1/years) - 1) * 100
}

// SharpeRatio is the annualized excess return over the sample standard
// deviation of per-period returns. riskFreeRate is annual and converted to
// a daily rate.
func (Metrics) SharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	daily := riskFreeRate / TradingDaysPerYear
	return (mean - daily) / std * math.Sqrt(TradingDaysPerYear)
}

// SortinoRatio shares Sharpe's numerator but divides by the downside
// deviation: the squared deviations below target are summed over all
// periods and divided by the total sample count, not the count of downside
// periods. The asymmetry with Sharpe's sample stddev is intentional and
// kept for compatibility.
func (Metrics) SortinoRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	const target = 0.0
	var sumSquares float64
	for _, r := range returns {
		if r < target {
			d := r - target
			sumSquares += d * d
		}
	}
	downside := math.Sqrt(sumSquares / float64(len(returns)))
	if downside == 0 {
		return 0
	}
	daily := riskFreeRate / TradingDaysPerYear
	return (stat.Mean(returns, nil) - daily) / downside * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown returns the most negative percent decline from the running
// equity peak. The result is always <= 0, and 0 iff the curve never falls.
func (Metrics) MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (v - peak) / peak * 100
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// WinRate is the percentage of closed trades with positive profit.
func (Metrics) WinRate(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.Profit.IsPositive() {
			wins++
		}
	}
	return float64(wins) / float64(len(trades)) * 100
}

// ProfitFactor is gross profit over gross loss. Zero when no losses were
// recorded: "no losses" and "undefined" are deliberately conflated.
func (Metrics) ProfitFactor(trades []types.Trade) float64 {
	var wins, losses float64
	for _, t := range trades {
		p := t.Profit.InexactFloat64()
		if p > 0 {
			wins += p
		} else if p < 0 {
			losses += math.Abs(p)
		}
	}
	if losses == 0 {
		return 0
	}
	return wins / losses
}

// AverageWin is the mean profit of winning closed trades, 0 if none.
func (Metrics) AverageWin(trades []types.Trade) float64 {
	var sum float64
	count := 0
	for _, t := range trades {
		if p := t.Profit.InexactFloat64(); p > 0 {
			sum += p
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// AverageLoss is the mean profit of losing closed trades (a negative
// number), 0 if none.
func (Metrics) AverageLoss(trades []types.Trade) float64 {
	var sum float64
	count := 0
	for _, t := range trades {
		if p := t.Profit.InexactFloat64(); p < 0 {
			sum += p
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// RewardRiskRatio is the average win over the magnitude of the average
// loss.
func (m Metrics) RewardRiskRatio(trades []types.Trade) float64 {
	avgLoss := m.AverageLoss(trades)
	if avgLoss == 0 {
		return 0
	}
	return m.AverageWin(trades) / math.Abs(avgLoss)
}

// Volatility is the annualized sample standard deviation of per-period
// returns.
func (Metrics) Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	std := stat.StdDev(returns, nil)
	if math.IsNaN(std) {
		return 0
	}
	return std * math.Sqrt(TradingDaysPerYear)
}

// Expectancy is the probability-weighted net profit per closed trade:
// winRate*avgWin less lossRate*|avgLoss|, with rates as fractions.
func (m Metrics) Expectancy(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	winRate := m.WinRate(trades) / 100
	lossRate := 1 - winRate
	return winRate*m.AverageWin(trades) - lossRate*math.Abs(m.AverageLoss(trades))
}

// ClosedTrades filters a trade log down to the SELL trades, the only ones
// that carry realized profit and a per-trade return.
func ClosedTrades(trades []types.Trade) []types.Trade {
	closed := make([]types.Trade, 0, len(trades)/2)
	for _, t := range trades {
		if t.Action == types.ActionSell {
			closed = append(closed, t)
		}
	}
	return closed
}

// TradeReturns extracts the per-trade return percents of closed trades,
// the series Sharpe, Sortino and volatility are computed over.
func TradeReturns(trades []types.Trade) []float64 {
	closed := ClosedTrades(trades)
	returns := make([]float64, len(closed))
	for i, t := range closed {
		returns[i] = t.ReturnPct
	}
	return returns
}

// Summarize combines every metric into one PerformanceSummary for a
// completed backtest.
func (m Metrics) Summarize(result *types.BacktestResult, riskFreeRate float64) *types.PerformanceSummary {
	if result == nil {
		return &types.PerformanceSummary{}
	}

	closed := ClosedTrades(result.Trades)
	returns := TradeReturns(result.Trades)

	winning, losing := 0, 0
	for _, t := range closed {
		switch {
		case t.Profit.IsPositive():
			winning++
		case t.Profit.IsNegative():
			losing++
		}
	}

	return &types.PerformanceSummary{
		TotalReturn:      result.ReturnPct,
		AnnualizedReturn: m.AnnualizedReturn(result.ReturnPct, result.Days),
		SharpeRatio:      m.SharpeRatio(returns, riskFreeRate),
		SortinoRatio:     m.SortinoRatio(returns, riskFreeRate),
		MaxDrawdown:      result.MaxDrawdown,
		WinRate:          m.WinRate(closed),
		ProfitFactor:     m.ProfitFactor(closed),
		TotalTrades:      len(closed),
		WinningTrades:    winning,
		LosingTrades:     losing,
		AvgWin:           m.AverageWin(closed),
		AvgLoss:          m.AverageLoss(closed),
		Expectancy:       m.Expectancy(closed),
		Volatility:       m.Volatility(returns),
	}
}

// Score extracts the named metric's raw signed value from a summary.
// Ranking is always descending by raw value; because drawdowns are
// negative, that ordering already favors the least negative drawdown.
func Score(summary *types.PerformanceSummary, metric string) (float64, error) {
	switch metric {
	case MetricTotalReturn:
		return summary.TotalReturn, nil
	case MetricSharpeRatio:
		return summary.SharpeRatio, nil
	case MetricSortinoRatio:
		return summary.SortinoRatio, nil
	case MetricMaxDrawdown:
		return summary.MaxDrawdown, nil
	case MetricWinRate:
		return summary.WinRate, nil
	case MetricProfitFactor:
		return summary.ProfitFactor, nil
	default:
		return 0, fmt.Errorf("%w: unknown metric %q (valid: %v)", ErrValidation, metric, ValidMetrics)
	}
}

// ValidMetric reports whether the metric name is rankable.
func ValidMetric(metric string) bool {
	for _, m := range ValidMetrics {
		if m == metric {
			return true
		}
	}
	return false
}
