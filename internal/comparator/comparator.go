// Package comparator runs multiple strategies through identical backtests
// and ranks them by a chosen performance metric.
package comparator

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

// csvHeader is the fixed column set of the comparison export.
var csvHeader = []string{
	"Rank", "Strategy Name", "Total Return", "Annualized Return",
	"Sharpe Ratio", "Sortino Ratio", "Max Drawdown", "Win Rate",
	"Profit Factor", "Total Trades", "Winning Trades", "Losing Trades",
	"Avg Win", "Avg Loss", "Expectancy", "Volatility",
}

// StrategyPerformance pairs one strategy's backtest with its metrics.
type StrategyPerformance struct {
	Backtest *types.BacktestResult     `json:"backtest"`
	Summary  *types.PerformanceSummary `json:"summary"`
}

// RankedStrategy is one row of a ranked comparison, 1-based.
type RankedStrategy struct {
	Rank    int                       `json:"rank"`
	Name    string                    `json:"name"`
	Score   float64                   `json:"score"`
	Summary *types.PerformanceSummary `json:"summary"`
}

// Comparator evaluates candidate strategies on identical data. Strategies
// never interact or share state: each gets its own engine instance.
type Comparator struct {
	logger       *zap.Logger
	engineConfig backtester.Config
	riskFreeRate float64
	metrics      backtester.Metrics
}

// New creates a comparator.
func New(logger *zap.Logger, engineConfig backtester.Config, riskFreeRate float64) *Comparator {
	return &Comparator{
		logger:       logger,
		engineConfig: engineConfig,
		riskFreeRate: riskFreeRate,
	}
}

// Compare runs every named strategy independently and returns per-name
// backtest plus metrics.
func (c *Comparator) Compare(
	strategies map[string]types.StrategyFunc,
	symbol string,
	bars []types.PriceBar,
) (map[string]*StrategyPerformance, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies to compare", backtester.ErrValidation)
	}

	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]*StrategyPerformance, len(strategies))
	for _, name := range names {
		engine := backtester.NewEngine(c.logger, c.engineConfig)
		result, err := engine.Run(strategies[name], symbol, bars)
		if err != nil {
			return nil, err
		}
		results[name] = &StrategyPerformance{
			Backtest: result,
			Summary:  c.metrics.Summarize(result, c.riskFreeRate),
		}
		c.logger.Debug("strategy evaluated",
			zap.String("strategy", name),
			zap.String("symbol", symbol),
			zap.Float64("totalReturn", result.ReturnPct),
		)
	}

	return results, nil
}

// RankBy compares all strategies and sorts descending by the chosen
// metric's raw signed value, assigning 1-based ranks. Ties keep name
// order.
func (c *Comparator) RankBy(
	strategies map[string]types.StrategyFunc,
	symbol string,
	bars []types.PriceBar,
	metric string,
) ([]RankedStrategy, error) {
	if !backtester.ValidMetric(metric) {
		return nil, fmt.Errorf("%w: unknown metric %q (valid: %v)",
			backtester.ErrValidation, metric, backtester.ValidMetrics)
	}

	compared, err := c.Compare(strategies, symbol, bars)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedStrategy, 0, len(compared))
	for name, perf := range compared {
		score, err := backtester.Score(perf.Summary, metric)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, RankedStrategy{
			Name:    name,
			Score:   score,
			Summary: perf.Summary,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].Name < ranked[j].Name
		}
		return ranked[i].Score > ranked[j].Score
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	return ranked, nil
}

// GenerateReport renders a ranked comparison as a fixed-width text report.
func (c *Comparator) GenerateReport(ranked []RankedStrategy, symbol, metric string) string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)

	b.WriteString(rule + "\n")
	b.WriteString("STRATEGY COMPARISON REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Symbol: %s\n", symbol)
	fmt.Fprintf(&b, "Ranked by: %s\n", metric)
	fmt.Fprintf(&b, "Strategies evaluated: %d\n\n", len(ranked))

	fmt.Fprintf(&b, "%-4s %-24s %12s %10s %10s %10s\n",
		"Rank", "Strategy", "Return %", "Sharpe", "Max DD %", "Win %")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, r := range ranked {
		fmt.Fprintf(&b, "%-4d %-24s %12.2f %10.2f %10.2f %10.2f\n",
			r.Rank, r.Name,
			r.Summary.TotalReturn, r.Summary.SharpeRatio,
			r.Summary.MaxDrawdown, r.Summary.WinRate)
	}

	b.WriteString("\n")
	for _, r := range ranked {
		b.WriteString(strings.Repeat("-", 80) + "\n")
		fmt.Fprintf(&b, "#%d %s\n", r.Rank, r.Name)
		s := r.Summary
		fmt.Fprintf(&b, "  Total Return:      %10.2f%%   Annualized Return: %10.2f%%\n",
			s.TotalReturn, s.AnnualizedReturn)
		fmt.Fprintf(&b, "  Sharpe Ratio:      %10.2f    Sortino Ratio:     %10.2f\n",
			s.SharpeRatio, s.SortinoRatio)
		fmt.Fprintf(&b, "  Max Drawdown:      %10.2f%%   Volatility:        %10.2f\n",
			s.MaxDrawdown, s.Volatility)
		fmt.Fprintf(&b, "  Win Rate:          %10.2f%%   Profit Factor:     %10.2f\n",
			s.WinRate, s.ProfitFactor)
		fmt.Fprintf(&b, "  Trades: %d total, %d winning, %d losing\n",
			s.TotalTrades, s.WinningTrades, s.LosingTrades)
		fmt.Fprintf(&b, "  Avg Win: %.2f   Avg Loss: %.2f   Expectancy: %.2f\n",
			s.AvgWin, s.AvgLoss, s.Expectancy)
	}
	b.WriteString(rule + "\n")

	return b.String()
}

// ExportCSV renders a ranked comparison with the fixed column set, every
// numeric value rounded to two decimal places. Fields containing commas or
// quotes are quoted with internal quotes doubled, per RFC 4180.
func (c *Comparator) ExportCSV(ranked []RankedStrategy) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range ranked {
		s := r.Summary
		row := []string{
			strconv.Itoa(r.Rank),
			r.Name,
			f2(s.TotalReturn),
			f2(s.AnnualizedReturn),
			f2(s.SharpeRatio),
			f2(s.SortinoRatio),
			f2(s.MaxDrawdown),
			f2(s.WinRate),
			f2(s.ProfitFactor),
			strconv.Itoa(s.TotalTrades),
			strconv.Itoa(s.WinningTrades),
			strconv.Itoa(s.LosingTrades),
			f2(s.AvgWin),
			f2(s.AvgLoss),
			f2(s.Expectancy),
			f2(s.Volatility),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func f2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
