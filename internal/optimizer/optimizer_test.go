package optimizer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/internal/optimizer"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

func testBars(closes ...float64) []types.PriceBar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.PriceBar, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		bars[i] = types.PriceBar{Date: start.AddDate(0, 0, i), Close: price, Open: price, High: price, Low: price}
	}
	return bars
}

func risingBars(n int) []types.PriceBar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return testBars(closes...)
}

// buyAtFactory builds strategies that buy at the bar index given by the
// buy_at parameter and then hold to the end. On rising data, earlier
// entries earn more.
func buyAtFactory(params types.ParamSet) (types.StrategyFunc, error) {
	buyAt := int(params["buy_at"])
	i := -1
	return func(symbol string, date time.Time) (types.Signal, error) {
		i++
		if i == buyAt {
			return types.Signal{Action: types.ActionBuy}, nil
		}
		return types.Signal{Action: types.ActionHold}, nil
	}, nil
}

func frictionlessConfig(workers int) optimizer.Config {
	return optimizer.Config{
		Engine: backtester.Config{
			InitialCapital: decimal.NewFromInt(10000),
			Commission:     decimal.Zero,
			Slippage:       decimal.Zero,
		},
		Workers: workers,
	}
}

func TestOptimizeRanksDescending(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), frictionlessConfig(4))
	grid := types.ParamGrid{"buy_at": {0, 5, 9}}

	result, err := opt.Optimize(context.Background(), buyAtFactory, grid, "TEST", risingBars(20), "total_return")
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if result.Iterations != 3 || len(result.AllResults) != 3 {
		t.Fatalf("Expected 3 evaluations, got %d/%d", result.Iterations, len(result.AllResults))
	}
	if got := result.BestParameters["buy_at"]; got != 0 {
		t.Errorf("Expected earliest entry to win, got buy_at=%f", got)
	}
	for i := 1; i < len(result.AllResults); i++ {
		if result.AllResults[i-1].Score < result.AllResults[i].Score {
			t.Errorf("Expected descending scores, got %f before %f",
				result.AllResults[i-1].Score, result.AllResults[i].Score)
		}
	}
	if result.BestScore < result.WorstScore {
		t.Errorf("Best score %f below worst %f", result.BestScore, result.WorstScore)
	}
	if result.AvgScore > result.BestScore || result.AvgScore < result.WorstScore {
		t.Errorf("Average %f outside [%f, %f]", result.AvgScore, result.WorstScore, result.BestScore)
	}
}

func TestOptimizeSerialAndParallelAgree(t *testing.T) {
	grid := types.ParamGrid{"buy_at": {0, 3, 6, 9}}
	bars := risingBars(15)

	serial, err := optimizer.New(zap.NewNop(), frictionlessConfig(1)).
		Optimize(context.Background(), buyAtFactory, grid, "TEST", bars, "total_return")
	if err != nil {
		t.Fatalf("Serial optimize failed: %v", err)
	}
	parallel, err := optimizer.New(zap.NewNop(), frictionlessConfig(8)).
		Optimize(context.Background(), buyAtFactory, grid, "TEST", bars, "total_return")
	if err != nil {
		t.Fatalf("Parallel optimize failed: %v", err)
	}

	if serial.BestScore != parallel.BestScore {
		t.Errorf("Expected identical best scores, got %f and %f", serial.BestScore, parallel.BestScore)
	}
	if serial.BestParameters["buy_at"] != parallel.BestParameters["buy_at"] {
		t.Errorf("Expected identical best parameters, got %v and %v",
			serial.BestParameters, parallel.BestParameters)
	}
}

func TestOptimizeMaxDrawdownFavorsLeastNegative(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), frictionlessConfig(1))
	// Entering before the crash suffers a deep drawdown; entering at
	// the trough never draws down.
	bars := testBars(100, 120, 60, 80, 100)
	grid := types.ParamGrid{"buy_at": {0, 2}}

	result, err := opt.Optimize(context.Background(), buyAtFactory, grid, "TEST", bars, "max_drawdown")
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}

	if got := result.BestParameters["buy_at"]; got != 2 {
		t.Errorf("Expected trough entry to win on drawdown, got buy_at=%f", got)
	}
	if result.BestScore != 0 {
		t.Errorf("Expected best drawdown 0, got %f", result.BestScore)
	}
	if result.WorstScore >= 0 {
		t.Errorf("Expected worst drawdown negative, got %f", result.WorstScore)
	}
}

func TestOptimizeValidation(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), frictionlessConfig(1))
	bars := risingBars(10)
	ctx := context.Background()

	if _, err := opt.Optimize(ctx, buyAtFactory, types.ParamGrid{}, "TEST", bars, "total_return"); !errors.Is(err, backtester.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty grid, got %v", err)
	}
	if _, err := opt.Optimize(ctx, buyAtFactory, types.ParamGrid{"buy_at": {}}, "TEST", bars, "total_return"); !errors.Is(err, backtester.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty value list, got %v", err)
	}
	if _, err := opt.Optimize(ctx, buyAtFactory, types.ParamGrid{"buy_at": {0}}, "TEST", bars, "alpha"); !errors.Is(err, backtester.ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown metric, got %v", err)
	}
}

func TestOptimizeFactoryErrorPropagates(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), frictionlessConfig(1))
	boom := errors.New("bad parameters")
	factory := func(params types.ParamSet) (types.StrategyFunc, error) {
		return nil, boom
	}

	_, err := opt.Optimize(context.Background(), factory, types.ParamGrid{"x": {1}}, "TEST", risingBars(10), "total_return")
	if !errors.Is(err, boom) {
		t.Errorf("Expected factory error to surface, got %v", err)
	}
}

func TestOptimizeCancelledContext(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), frictionlessConfig(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := opt.Optimize(ctx, buyAtFactory, types.ParamGrid{"buy_at": {0}}, "TEST", risingBars(10), "total_return")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestOptimizeReportsProgress(t *testing.T) {
	var calls int
	config := frictionlessConfig(1)
	config.Progress = func(completed, total int) {
		calls++
		if total != 3 {
			t.Errorf("Expected total 3, got %d", total)
		}
		if completed < 1 || completed > total {
			t.Errorf("Completed %d outside [1, %d]", completed, total)
		}
	}
	opt := optimizer.New(zap.NewNop(), config)

	_, err := opt.Optimize(context.Background(), buyAtFactory,
		types.ParamGrid{"buy_at": {0, 1, 2}}, "TEST", risingBars(10), "total_return")
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 progress calls, got %d", calls)
	}
}

func TestWalkForwardWindows(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), frictionlessConfig(2))
	bars := risingBars(100)
	grid := types.ParamGrid{"buy_at": {0, 5}}

	result, err := opt.WalkForward(context.Background(), buyAtFactory, grid, "TEST", bars, "total_return", 60, 20)
	if err != nil {
		t.Fatalf("WalkForward failed: %v", err)
	}

	// Positions 0 and 20 fit a 60+20 window in 100 bars; 40 does not.
	if len(result.Windows) != 2 {
		t.Fatalf("Expected 2 windows, got %d", len(result.Windows))
	}

	first, second := result.Windows[0], result.Windows[1]
	if !first.TrainStart.Equal(bars[0].Date) || !first.TrainEnd.Equal(bars[59].Date) {
		t.Errorf("First train window wrong: %s to %s", first.TrainStart, first.TrainEnd)
	}
	if !first.TestStart.Equal(bars[60].Date) || !first.TestEnd.Equal(bars[79].Date) {
		t.Errorf("First test window wrong: %s to %s", first.TestStart, first.TestEnd)
	}
	if !second.TestStart.Equal(bars[80].Date) || !second.TestEnd.Equal(bars[99].Date) {
		t.Errorf("Second test window wrong: %s to %s", second.TestStart, second.TestEnd)
	}
	if first.TestEnd.After(second.TestStart) {
		t.Error("Test windows must not overlap")
	}

	wantTrain := (first.TrainScore + second.TrainScore) / 2
	if result.AvgTrainScore != wantTrain {
		t.Errorf("Expected avg train score %f, got %f", wantTrain, result.AvgTrainScore)
	}
	if result.AvgTrainScore != 0 {
		want := result.AvgTestScore / result.AvgTrainScore
		if result.OverfittingRatio != want {
			t.Errorf("Expected overfitting ratio %f, got %f", want, result.OverfittingRatio)
		}
	}
}

func TestWalkForwardValidation(t *testing.T) {
	opt := optimizer.New(zap.NewNop(), frictionlessConfig(1))
	grid := types.ParamGrid{"buy_at": {0}}
	ctx := context.Background()

	if _, err := opt.WalkForward(ctx, buyAtFactory, grid, "TEST", risingBars(100), "total_return", 0, 20); !errors.Is(err, backtester.ErrValidation) {
		t.Errorf("Expected ErrValidation for zero train window, got %v", err)
	}
	if _, err := opt.WalkForward(ctx, buyAtFactory, grid, "TEST", risingBars(100), "total_return", 60, -1); !errors.Is(err, backtester.ErrValidation) {
		t.Errorf("Expected ErrValidation for negative test window, got %v", err)
	}
	if _, err := opt.WalkForward(ctx, buyAtFactory, grid, "TEST", risingBars(50), "total_return", 40, 20); !errors.Is(err, backtester.ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestCombinations(t *testing.T) {
	grid := types.ParamGrid{
		"fast": {5, 10},
		"slow": {20, 30, 40},
	}

	combos := optimizer.Combinations(grid)
	if len(combos) != 6 {
		t.Fatalf("Expected 6 combinations, got %d", len(combos))
	}

	seen := make(map[[2]float64]bool)
	for _, combo := range combos {
		if len(combo) != 2 {
			t.Errorf("Expected both parameters in combo, got %v", combo)
		}
		seen[[2]float64{combo["fast"], combo["slow"]}] = true
	}
	if len(seen) != 6 {
		t.Errorf("Expected 6 distinct combinations, got %d", len(seen))
	}
}
