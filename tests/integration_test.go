// Package integration_test provides end-to-end integration tests.
package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/internal/comparator"
	"github.com/ksfraser/stock-backtest/internal/data"
	"github.com/ksfraser/stock-backtest/internal/montecarlo"
	"github.com/ksfraser/stock-backtest/internal/optimizer"
	"github.com/ksfraser/stock-backtest/internal/sector"
	"github.com/ksfraser/stock-backtest/internal/signals"
	"github.com/ksfraser/stock-backtest/internal/strategy"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

// seedBars produces a deterministic wavy price series long enough for
// walk-forward validation.
func seedBars(n int) []types.PriceBar {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]types.PriceBar, n)
	for i := range bars {
		base := 100.0 + float64(i)*0.3
		if i%20 >= 10 {
			base -= 4
		}
		price := decimal.NewFromFloat(base)
		bars[i] = types.PriceBar{
			Date: start.AddDate(0, 0, i),
			Open: price, High: price, Low: price, Close: price,
			Volume: decimal.NewFromInt(10000),
		}
	}
	return bars
}

// TestFullAnalyticsWorkflow drives the complete pipeline: store bars, run a
// registered strategy through the engine, grid-search its parameters,
// validate walk-forward, compare against an alternative, bootstrap the
// winner and track its signals.
func TestFullAnalyticsWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger := zap.NewNop()
	store := data.NewStore(logger)
	if err := store.Put("WAVY", seedBars(200)); err != nil {
		t.Fatalf("seed bars: %v", err)
	}
	bars, _ := store.Get("WAVY")

	engineConfig := backtester.Config{
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.NewFromFloat(0.001),
		Slippage:       decimal.NewFromFloat(0.0005),
	}

	// Single run with the momentum strategy.
	factory, err := strategy.Factory("momentum", bars)
	if err != nil {
		t.Fatalf("build factory: %v", err)
	}
	strat, err := factory(types.ParamSet{"lookback": 5})
	if err != nil {
		t.Fatalf("build strategy: %v", err)
	}

	engine := backtester.NewEngine(logger, engineConfig)
	result, err := engine.Run(strat, "WAVY", bars)
	if err != nil {
		t.Fatalf("backtest failed: %v", err)
	}
	if len(result.EquityCurve) != len(bars) {
		t.Errorf("Expected %d equity points, got %d", len(bars), len(result.EquityCurve))
	}
	if len(result.Trades) == 0 {
		t.Fatal("Expected the momentum strategy to trade on wavy data")
	}

	var m backtester.Metrics
	summary := m.Summarize(result, 2.0)
	if summary.TotalTrades == 0 {
		t.Error("Expected closed trades in the summary")
	}

	// Grid search over lookbacks.
	opt := optimizer.New(logger, optimizer.Config{
		Engine:       engineConfig,
		RiskFreeRate: 2.0,
		Workers:      4,
	})
	grid := types.ParamGrid{"lookback": {2, 5, 10, 20}}
	optResult, err := opt.Optimize(context.Background(), factory, grid, "WAVY", bars, "total_return")
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if optResult.Iterations != 4 {
		t.Errorf("Expected 4 iterations, got %d", optResult.Iterations)
	}

	// Walk-forward with the same grid.
	wf, err := opt.WalkForward(context.Background(), factory, grid, "WAVY", bars, "total_return", 100, 40)
	if err != nil {
		t.Fatalf("walk-forward failed: %v", err)
	}
	if len(wf.Windows) != 2 {
		t.Errorf("Expected 2 walk-forward windows over 200 bars, got %d", len(wf.Windows))
	}

	// Compare the tuned momentum against an SMA crossover.
	smaFactory, err := strategy.Factory("sma_crossover", bars)
	if err != nil {
		t.Fatalf("build sma factory: %v", err)
	}
	sma, err := smaFactory(types.ParamSet{"fast_period": 5, "slow_period": 15})
	if err != nil {
		t.Fatalf("build sma strategy: %v", err)
	}
	tuned, err := factory(optResult.BestParameters)
	if err != nil {
		t.Fatalf("build tuned strategy: %v", err)
	}

	comp := comparator.New(logger, engineConfig, 2.0)
	ranked, err := comp.RankBy(map[string]types.StrategyFunc{
		"momentum_tuned": tuned,
		"sma_crossover":  sma,
	}, "WAVY", bars, "total_return")
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Rank != 1 {
		t.Fatalf("Unexpected ranking: %+v", ranked)
	}

	// Bootstrap the observed trade log.
	if summary.TotalTrades >= 2 {
		sim, err := montecarlo.New(logger, montecarlo.Config{Runs: 300, Seed: 1}).Simulate(result)
		if err != nil {
			t.Fatalf("simulate failed: %v", err)
		}
		if sim.Runs != 300 {
			t.Errorf("Expected 300 runs, got %d", sim.Runs)
		}
	}

	// Track per-trade directional outcomes.
	tracker := signals.NewTracker(logger)
	closed := backtester.ClosedTrades(result.Trades)
	for _, trade := range closed {
		tracker.Record("WAVY", types.ActionBuy, trade.Price,
			trade.Price.Add(decimal.NewFromFloat(trade.ReturnPct)), 0.8, 5, "momentum", "Tech", "SP500")
	}
	if got := tracker.OverallAccuracy().Total; got != len(closed) {
		t.Errorf("Expected %d tracked signals, got %d", len(closed), got)
	}

	// Aggregate sector outcomes from the comparison.
	agg := sector.NewAggregator(logger)
	for _, r := range ranked {
		agg.Record(types.SectorResult{
			Symbol:   "WAVY",
			Sector:   "Tech",
			Index:    "SP500",
			Strategy: r.Name,
			Return:   r.Summary.TotalReturn,
		})
	}
	perf := agg.SectorPerformance("")
	if perf["Tech"].Count != 2 {
		t.Errorf("Expected 2 sector observations, got %d", perf["Tech"].Count)
	}
}
