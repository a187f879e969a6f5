// Package montecarlo estimates the robustness of a backtest by bootstrap
// resampling its closed-trade returns. Reordering and resampling the same
// trades shows how much of the observed outcome is sequencing luck.
package montecarlo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

// Config configures a simulation run.
type Config struct {
	Runs        int       // number of resampled sequences
	Seed        int64     // 0 seeds from the clock
	Percentiles []float64 // reported quantiles, fractions in (0, 1)
}

// DefaultConfig returns the standard simulation settings.
func DefaultConfig() Config {
	return Config{
		Runs:        1000,
		Percentiles: []float64{0.05, 0.25, 0.50, 0.75, 0.95},
	}
}

// Distribution summarizes the simulated outcomes of one statistic.
type Distribution struct {
	Mean        float64            `json:"mean"`
	StdDev      float64            `json:"stdDev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Percentiles map[string]float64 `json:"percentiles"`
}

// Result is the outcome of a full simulation.
type Result struct {
	Runs           int     `json:"runs"`
	Trades         int     `json:"trades"`
	ObservedReturn float64 `json:"observedReturn"`

	TotalReturn Distribution `json:"totalReturn"`
	MaxDrawdown Distribution `json:"maxDrawdown"`

	// ProbabilityOfLoss is the share of resampled sequences that ended
	// below the starting capital.
	ProbabilityOfLoss float64 `json:"probabilityOfLoss"`
}

// Simulator bootstraps trade-return sequences.
type Simulator struct {
	logger  *zap.Logger
	config  Config
	rng     *rand.Rand
	metrics backtester.Metrics
}

// New creates a simulator. A zero Runs or empty Percentiles falls back to
// the defaults.
func New(logger *zap.Logger, config Config) *Simulator {
	if config.Runs <= 0 {
		config.Runs = DefaultConfig().Runs
	}
	if len(config.Percentiles) == 0 {
		config.Percentiles = DefaultConfig().Percentiles
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Simulate resamples the closed-trade returns of a completed backtest with
// replacement, compounding each resampled sequence into an equity path.
// At least two closed trades are required for a meaningful resample.
func (s *Simulator) Simulate(result *types.BacktestResult) (*Result, error) {
	returns := backtester.TradeReturns(result.Trades)
	if len(returns) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 closed trades, have %d",
			backtester.ErrInsufficientData, len(returns))
	}

	totals := make([]float64, s.config.Runs)
	drawdowns := make([]float64, s.config.Runs)
	losses := 0

	for run := 0; run < s.config.Runs; run++ {
		equity := make([]float64, len(returns)+1)
		equity[0] = 100
		for i := range returns {
			r := returns[s.rng.Intn(len(returns))]
			equity[i+1] = equity[i] * (1 + r/100)
		}

		totals[run] = (equity[len(equity)-1] - equity[0]) / equity[0] * 100
		drawdowns[run] = s.metrics.MaxDrawdown(equity)
		if totals[run] < 0 {
			losses++
		}
	}

	out := &Result{
		Runs:              s.config.Runs,
		Trades:            len(returns),
		ObservedReturn:    compound(returns),
		TotalReturn:       s.distribution(totals),
		MaxDrawdown:       s.distribution(drawdowns),
		ProbabilityOfLoss: float64(losses) / float64(s.config.Runs),
	}

	s.logger.Info("monte carlo simulation complete",
		zap.String("symbol", result.Symbol),
		zap.Int("runs", out.Runs),
		zap.Int("trades", out.Trades),
		zap.Float64("probabilityOfLoss", out.ProbabilityOfLoss),
	)

	return out, nil
}

// compound chains per-trade percent returns into one total percent.
func compound(returns []float64) float64 {
	value := 1.0
	for _, r := range returns {
		value *= 1 + r/100
	}
	return (value - 1) * 100
}

func (s *Simulator) distribution(values []float64) Distribution {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if math.IsNaN(std) {
		std = 0
	}

	percentiles := make(map[string]float64, len(s.config.Percentiles))
	for _, p := range s.config.Percentiles {
		key := fmt.Sprintf("p%02.0f", p*100)
		percentiles[key] = stat.Quantile(p, stat.Empirical, sorted, nil)
	}

	return Distribution{
		Mean:        mean,
		StdDev:      std,
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Percentiles: percentiles,
	}
}
