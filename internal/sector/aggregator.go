// Package sector aggregates backtest return outcomes by sector and index
// membership, with correlation and rotation analysis.
package sector

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ksfraser/stock-backtest/pkg/types"
)

// csvHeader is the fixed column set of the sector performance export.
var csvHeader = []string{
	"Sector", "Count", "Average Return", "Min Return", "Max Return", "Volatility",
}

// GroupStats aggregates the return outcomes of one sector or index group.
// Volatility is the population standard deviation and requires at least
// two observations; below that it is 0.
type GroupStats struct {
	Count       int     `json:"count"`
	TotalReturn float64 `json:"totalReturn"`
	AvgReturn   float64 `json:"avgReturn"`
	MinReturn   float64 `json:"minReturn"`
	MaxReturn   float64 `json:"maxReturn"`
	Volatility  float64 `json:"volatility"`
}

// RankedSector is one row of a sector ranking by average return.
type RankedSector struct {
	Sector string `json:"sector"`
	GroupStats
}

// Aggregator accumulates per-backtest return rows and serves grouped
// aggregates. It is independent of the engine.
type Aggregator struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	results []types.SectorResult
}

// NewAggregator creates a sector/index aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Record appends one completed backtest outcome.
func (a *Aggregator) Record(result types.SectorResult) {
	a.mu.Lock()
	a.results = append(a.results, result)
	a.mu.Unlock()

	a.logger.Debug("sector result recorded",
		zap.String("symbol", result.Symbol),
		zap.String("sector", result.Sector),
		zap.Float64("return", result.Return),
	)
}

// Results returns a copy of the accumulated rows.
func (a *Aggregator) Results() []types.SectorResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.SectorResult(nil), a.results...)
}

// SectorPerformance aggregates by sector, optionally filtered to one
// strategy (empty strategy means all).
func (a *Aggregator) SectorPerformance(strategy string) map[string]GroupStats {
	return a.groupStats(func(r types.SectorResult) string { return r.Sector }, strategy)
}

// IndexPerformance aggregates by index, optionally filtered to one
// strategy.
func (a *Aggregator) IndexPerformance(strategy string) map[string]GroupStats {
	return a.groupStats(func(r types.SectorResult) string { return r.Index }, strategy)
}

// SectorStrategyMatrix returns nested sector-by-strategy average returns.
func (a *Aggregator) SectorStrategyMatrix() map[string]map[string]float64 {
	return a.matrix(func(r types.SectorResult) string { return r.Sector })
}

// IndexStrategyMatrix returns nested index-by-strategy average returns.
func (a *Aggregator) IndexStrategyMatrix() map[string]map[string]float64 {
	return a.matrix(func(r types.SectorResult) string { return r.Index })
}

// BestSector returns the sector with the highest average return.
func (a *Aggregator) BestSector() (string, GroupStats, bool) {
	ranked := a.TopSectors(1)
	if len(ranked) == 0 {
		return "", GroupStats{}, false
	}
	return ranked[0].Sector, ranked[0].GroupStats, true
}

// WorstSector returns the sector with the lowest average return.
func (a *Aggregator) WorstSector() (string, GroupStats, bool) {
	ranked := a.rankedSectors()
	if len(ranked) == 0 {
		return "", GroupStats{}, false
	}
	last := ranked[len(ranked)-1]
	return last.Sector, last.GroupStats, true
}

// TopSectors returns the n sectors with the highest average return.
func (a *Aggregator) TopSectors(n int) []RankedSector {
	ranked := a.rankedSectors()
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Correlation computes the Pearson correlation coefficient between two
// sectors' return series, truncated to the shorter series. Observations
// are paired by insertion order, not time-aligned; this simplification is
// part of the contract. Fewer than two paired observations yields 0.
func (a *Aggregator) Correlation(sector1, sector2 string) float64 {
	r1 := a.sectorReturns(sector1)
	r2 := a.sectorReturns(sector2)

	n := len(r1)
	if len(r2) < n {
		n = len(r2)
	}
	if n < 2 {
		return 0
	}
	return stat.Correlation(r1[:n], r2[:n], nil)
}

// RotationReport renders sector performance and leadership as a
// fixed-width text report.
func (a *Aggregator) RotationReport() string {
	perf := a.SectorPerformance("")
	ranked := a.rankedSectors()

	var b strings.Builder
	rule := strings.Repeat("=", 80)

	b.WriteString(rule + "\n")
	b.WriteString("SECTOR ROTATION REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Sectors tracked: %d   Observations: %d\n\n", len(perf), len(a.Results()))

	fmt.Fprintf(&b, "%-24s %6s %12s %12s %12s %10s\n",
		"Sector", "Count", "Avg Ret %", "Min Ret %", "Max Ret %", "Vol")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, r := range ranked {
		fmt.Fprintf(&b, "%-24s %6d %12.2f %12.2f %12.2f %10.2f\n",
			r.Sector, r.Count, r.AvgReturn, r.MinReturn, r.MaxReturn, r.Volatility)
	}

	if best, stats, ok := a.BestSector(); ok {
		fmt.Fprintf(&b, "\nLeading sector: %s (%.2f%% avg over %d results)\n",
			best, stats.AvgReturn, stats.Count)
	}
	if worst, stats, ok := a.WorstSector(); ok {
		fmt.Fprintf(&b, "Lagging sector: %s (%.2f%% avg over %d results)\n",
			worst, stats.AvgReturn, stats.Count)
	}
	b.WriteString(rule + "\n")

	return b.String()
}

// ExportCSV renders per-sector aggregates with the fixed column set.
func (a *Aggregator) ExportCSV() (string, error) {
	ranked := a.rankedSectors()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range ranked {
		row := []string{
			r.Sector,
			strconv.Itoa(r.Count),
			strconv.FormatFloat(r.AvgReturn, 'f', 2, 64),
			strconv.FormatFloat(r.MinReturn, 'f', 2, 64),
			strconv.FormatFloat(r.MaxReturn, 'f', 2, 64),
			strconv.FormatFloat(r.Volatility, 'f', 2, 64),
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

func (a *Aggregator) rankedSectors() []RankedSector {
	perf := a.SectorPerformance("")
	ranked := make([]RankedSector, 0, len(perf))
	for sector, stats := range perf {
		ranked = append(ranked, RankedSector{Sector: sector, GroupStats: stats})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].AvgReturn == ranked[j].AvgReturn {
			return ranked[i].Sector < ranked[j].Sector
		}
		return ranked[i].AvgReturn > ranked[j].AvgReturn
	})
	return ranked
}

func (a *Aggregator) sectorReturns(sector string) []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var returns []float64
	for _, r := range a.results {
		if r.Sector == sector {
			returns = append(returns, r.Return)
		}
	}
	return returns
}

func (a *Aggregator) groupStats(key func(types.SectorResult) string, strategy string) map[string]GroupStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	buckets := make(map[string][]float64)
	for _, r := range a.results {
		if strategy != "" && r.Strategy != strategy {
			continue
		}
		if k := key(r); k != "" {
			buckets[k] = append(buckets[k], r.Return)
		}
	}

	out := make(map[string]GroupStats, len(buckets))
	for k, returns := range buckets {
		out[k] = statsOf(returns)
	}
	return out
}

func (a *Aggregator) matrix(key func(types.SectorResult) string) map[string]map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sums := make(map[string]map[string]float64)
	counts := make(map[string]map[string]int)
	for _, r := range a.results {
		k := key(r)
		if k == "" {
			continue
		}
		if sums[k] == nil {
			sums[k] = make(map[string]float64)
			counts[k] = make(map[string]int)
		}
		sums[k][r.Strategy] += r.Return
		counts[k][r.Strategy]++
	}

	out := make(map[string]map[string]float64, len(sums))
	for k, byStrategy := range sums {
		out[k] = make(map[string]float64, len(byStrategy))
		for s, sum := range byStrategy {
			out[k][s] = sum / float64(counts[k][s])
		}
	}
	return out
}

func statsOf(returns []float64) GroupStats {
	stats := GroupStats{Count: len(returns)}
	if len(returns) == 0 {
		return stats
	}

	stats.MinReturn = returns[0]
	stats.MaxReturn = returns[0]
	for _, r := range returns {
		stats.TotalReturn += r
		if r < stats.MinReturn {
			stats.MinReturn = r
		}
		if r > stats.MaxReturn {
			stats.MaxReturn = r
		}
	}
	stats.AvgReturn = stats.TotalReturn / float64(len(returns))
	if len(returns) >= 2 {
		stats.Volatility = stat.PopStdDev(returns, nil)
	}
	return stats
}
