// Package optimizer provides grid-search parameter optimization and
// walk-forward validation on top of the backtesting engine.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

// ProgressFunc is invoked after each evaluated combination.
type ProgressFunc func(completed, total int)

// Config configures optimizer execution. Workers bounds parallel grid
// evaluation; each parallel unit uses its own engine instance, so the
// observable result of a completed search is identical to a serial run.
type Config struct {
	Engine       backtester.Config
	RiskFreeRate float64
	Workers      int
	Progress     ProgressFunc
}

// Optimizer grid-searches a strategy's parameter space and estimates
// out-of-sample robustness via walk-forward validation.
type Optimizer struct {
	logger  *zap.Logger
	config  Config
	metrics backtester.Metrics
}

// New creates an optimizer.
func New(logger *zap.Logger, config Config) *Optimizer {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Optimizer{
		logger: logger,
		config: config,
	}
}

// Optimize evaluates every combination of the parameter grid and ranks the
// outcomes by the chosen metric, descending by raw signed value. Because
// drawdown values are negative, that uniform ordering already favors the
// least negative drawdown; no metric is sign-flipped.
func (o *Optimizer) Optimize(
	ctx context.Context,
	factory types.StrategyFactory,
	grid types.ParamGrid,
	symbol string,
	bars []types.PriceBar,
	metric string,
) (*types.OptimizationResult, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: parameter grid is empty", backtester.ErrValidation)
	}
	for name, values := range grid {
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: parameter %q has no values", backtester.ErrValidation, name)
		}
	}
	if !backtester.ValidMetric(metric) {
		return nil, fmt.Errorf("%w: unknown metric %q (valid: %v)",
			backtester.ErrValidation, metric, backtester.ValidMetrics)
	}

	combinations := Combinations(grid)
	start := time.Now()

	o.logger.Info("starting grid search",
		zap.String("symbol", symbol),
		zap.String("metric", metric),
		zap.Int("combinations", len(combinations)),
		zap.Int("workers", o.config.Workers),
	)

	scores := make([]types.OptimizationScore, len(combinations))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	sem := make(chan struct{}, o.config.Workers)

	for i, combo := range combinations {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		wg.Add(1)
		go func(idx int, params types.ParamSet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			score, err := o.evaluate(factory, params, symbol, bars, metric)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			scores[idx] = score
			done++
			if o.config.Progress != nil {
				o.config.Progress(done, len(combinations))
			}
		}(i, combo)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	var sum float64
	for _, s := range scores {
		sum += s.Score
	}

	result := &types.OptimizationResult{
		ID:             uuid.New().String(),
		Metric:         metric,
		BestParameters: scores[0].Parameters,
		BestScore:      scores[0].Score,
		WorstScore:     scores[len(scores)-1].Score,
		AvgScore:       sum / float64(len(scores)),
		AllResults:     scores,
		Iterations:     len(scores),
		Duration:       time.Since(start),
	}

	o.logger.Info("grid search complete",
		zap.String("symbol", symbol),
		zap.Float64("bestScore", result.BestScore),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// evaluate builds a strategy for one combination and scores one full run.
// Factory and strategy errors surface unwrapped.
func (o *Optimizer) evaluate(
	factory types.StrategyFactory,
	params types.ParamSet,
	symbol string,
	bars []types.PriceBar,
	metric string,
) (types.OptimizationScore, error) {
	strategy, err := factory(params)
	if err != nil {
		return types.OptimizationScore{}, err
	}

	engine := backtester.NewEngine(o.logger, o.config.Engine)
	result, err := engine.Run(strategy, symbol, bars)
	if err != nil {
		return types.OptimizationScore{}, err
	}

	summary := o.metrics.Summarize(result, o.config.RiskFreeRate)
	score, err := backtester.Score(summary, metric)
	if err != nil {
		return types.OptimizationScore{}, err
	}

	return types.OptimizationScore{
		Parameters: params,
		Score:      score,
		Summary:    summary,
	}, nil
}

// WalkForward slides a train/test window across the data: each step
// optimizes on the training slice, evaluates the winning parameters on the
// immediately following out-of-sample test slice, then advances by the test
// window. Training windows therefore overlap across steps while test
// windows never do.
func (o *Optimizer) WalkForward(
	ctx context.Context,
	factory types.StrategyFactory,
	grid types.ParamGrid,
	symbol string,
	bars []types.PriceBar,
	metric string,
	trainWindow, testWindow int,
) (*types.WalkForwardResult, error) {
	if trainWindow <= 0 || testWindow <= 0 {
		return nil, fmt.Errorf("%w: train and test windows must be positive", backtester.ErrValidation)
	}
	if len(bars) < trainWindow+testWindow {
		return nil, fmt.Errorf("%w: need at least %d bars, have %d",
			backtester.ErrInsufficientData, trainWindow+testWindow, len(bars))
	}

	o.logger.Info("starting walk-forward validation",
		zap.String("symbol", symbol),
		zap.Int("trainWindow", trainWindow),
		zap.Int("testWindow", testWindow),
		zap.Int("bars", len(bars)),
	)

	var windows []types.WalkForwardWindow
	var sumTrain, sumTest float64

	for pos := 0; pos+trainWindow+testWindow <= len(bars); pos += testWindow {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		trainBars := bars[pos : pos+trainWindow]
		testBars := bars[pos+trainWindow : pos+trainWindow+testWindow]

		opt, err := o.Optimize(ctx, factory, grid, symbol, trainBars, metric)
		if err != nil {
			return nil, err
		}

		testScore, err := o.evaluate(factory, opt.BestParameters, symbol, testBars, metric)
		if err != nil {
			return nil, err
		}

		window := types.WalkForwardWindow{
			TrainStart:     trainBars[0].Date,
			TrainEnd:       trainBars[len(trainBars)-1].Date,
			TestStart:      testBars[0].Date,
			TestEnd:        testBars[len(testBars)-1].Date,
			BestParameters: opt.BestParameters,
			TrainScore:     opt.BestScore,
			TestScore:      testScore.Score,
		}
		windows = append(windows, window)
		sumTrain += window.TrainScore
		sumTest += window.TestScore

		o.logger.Debug("walk-forward window complete",
			zap.Time("trainStart", window.TrainStart),
			zap.Time("testEnd", window.TestEnd),
			zap.Float64("trainScore", window.TrainScore),
			zap.Float64("testScore", window.TestScore),
		)
	}

	result := &types.WalkForwardResult{
		Metric:  metric,
		Windows: windows,
	}
	if n := float64(len(windows)); n > 0 {
		result.AvgTrainScore = sumTrain / n
		result.AvgTestScore = sumTest / n
	}
	if result.AvgTrainScore != 0 {
		result.OverfittingRatio = result.AvgTestScore / result.AvgTrainScore
	}

	o.logger.Info("walk-forward validation complete",
		zap.Int("windows", len(windows)),
		zap.Float64("avgTrainScore", result.AvgTrainScore),
		zap.Float64("avgTestScore", result.AvgTestScore),
		zap.Float64("overfittingRatio", result.OverfittingRatio),
	)

	return result, nil
}

// Combinations expands a parameter grid into its full cartesian product,
// one ParamSet per leaf. Parameter names are walked in sorted order so the
// enumeration is stable.
func Combinations(grid types.ParamGrid) []types.ParamSet {
	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	sort.Strings(names)

	return expand(grid, names, 0, make(types.ParamSet))
}

func expand(grid types.ParamGrid, names []string, idx int, current types.ParamSet) []types.ParamSet {
	if idx == len(names) {
		combo := make(types.ParamSet, len(current))
		for k, v := range current {
			combo[k] = v
		}
		return []types.ParamSet{combo}
	}

	var combos []types.ParamSet
	for _, v := range grid[names[idx]] {
		current[names[idx]] = v
		combos = append(combos, expand(grid, names, idx+1, current)...)
	}
	return combos
}
