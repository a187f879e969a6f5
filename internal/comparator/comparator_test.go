package comparator_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/internal/comparator"
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

func hold(symbol string, date time.Time) (types.Signal, error) {
	return types.Signal{Action: types.ActionHold}, nil
}

// buyAndHold enters on the first call and holds to the end.
func buyAndHold() types.StrategyFunc {
	entered := false
	return func(symbol string, date time.Time) (types.Signal, error) {
		if !entered {
			entered = true
			return types.Signal{Action: types.ActionBuy}, nil
		}
		return types.Signal{Action: types.ActionHold}, nil
	}
}

func newComparator() *comparator.Comparator {
	config := backtester.Config{
		InitialCapital: decimal.NewFromInt(10000),
		Commission:     decimal.Zero,
		Slippage:       decimal.Zero,
	}
	return comparator.New(zap.NewNop(), config, 0)
}

func TestCompare(t *testing.T) {
	c := newComparator()
	strategies := map[string]types.StrategyFunc{
		"buy_and_hold": buyAndHold(),
		"idle":         hold,
	}

	results, err := c.Compare(strategies, "TEST", testBars(100, 110, 120))
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results["buy_and_hold"].Summary.TotalReturn != 20 {
		t.Errorf("Expected buy_and_hold return 20, got %f", results["buy_and_hold"].Summary.TotalReturn)
	}
	if results["idle"].Summary.TotalReturn != 0 {
		t.Errorf("Expected idle return 0, got %f", results["idle"].Summary.TotalReturn)
	}
	if results["idle"].Summary.TotalTrades != 0 {
		t.Errorf("Expected idle to have no trades, got %d", results["idle"].Summary.TotalTrades)
	}
}

func TestCompareValidation(t *testing.T) {
	c := newComparator()
	if _, err := c.Compare(nil, "TEST", testBars(100)); !errors.Is(err, backtester.ErrValidation) {
		t.Errorf("Expected ErrValidation for no strategies, got %v", err)
	}
}

func TestRankBy(t *testing.T) {
	c := newComparator()
	strategies := map[string]types.StrategyFunc{
		"winner": buyAndHold(),
		"idle":   hold,
	}

	ranked, err := c.RankBy(strategies, "TEST", testBars(100, 110, 120), "total_return")
	if err != nil {
		t.Fatalf("RankBy failed: %v", err)
	}

	if len(ranked) != 2 {
		t.Fatalf("Expected 2 ranked strategies, got %d", len(ranked))
	}
	if ranked[0].Name != "winner" || ranked[0].Rank != 1 {
		t.Errorf("Expected winner at rank 1, got %s at rank %d", ranked[0].Name, ranked[0].Rank)
	}
	if ranked[1].Name != "idle" || ranked[1].Rank != 2 {
		t.Errorf("Expected idle at rank 2, got %s at rank %d", ranked[1].Name, ranked[1].Rank)
	}
}

func TestRankByTiesBreakAlphabetically(t *testing.T) {
	c := newComparator()
	strategies := map[string]types.StrategyFunc{
		"zeta":  hold,
		"alpha": hold,
	}

	ranked, err := c.RankBy(strategies, "TEST", testBars(100, 110), "total_return")
	if err != nil {
		t.Fatalf("RankBy failed: %v", err)
	}
	if ranked[0].Name != "alpha" || ranked[1].Name != "zeta" {
		t.Errorf("Expected alphabetical tie-break, got %s then %s", ranked[0].Name, ranked[1].Name)
	}
}

func TestRankByUnknownMetric(t *testing.T) {
	c := newComparator()
	strategies := map[string]types.StrategyFunc{"idle": hold}

	if _, err := c.RankBy(strategies, "TEST", testBars(100), "alpha"); !errors.Is(err, backtester.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestGenerateReport(t *testing.T) {
	c := newComparator()
	strategies := map[string]types.StrategyFunc{
		"buy_and_hold": buyAndHold(),
		"idle":         hold,
	}

	ranked, err := c.RankBy(strategies, "TEST", testBars(100, 110, 120), "total_return")
	if err != nil {
		t.Fatalf("RankBy failed: %v", err)
	}

	report := c.GenerateReport(ranked, "TEST", "total_return")
	for _, want := range []string{
		"STRATEGY COMPARISON REPORT",
		"Symbol: TEST",
		"Ranked by: total_return",
		"buy_and_hold",
		"idle",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("Report missing %q", want)
		}
	}
}

func TestExportCSV(t *testing.T) {
	c := newComparator()
	strategies := map[string]types.StrategyFunc{
		"buy_and_hold": buyAndHold(),
		"momentum, fast": hold,
	}

	ranked, err := c.RankBy(strategies, "TEST", testBars(100, 110, 120), "total_return")
	if err != nil {
		t.Fatalf("RankBy failed: %v", err)
	}

	out, err := c.ExportCSV(ranked)
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "Rank,Strategy Name,Total Return") {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	// Names containing commas are quoted per RFC 4180.
	if !strings.Contains(out, `"momentum, fast"`) {
		t.Errorf("Expected quoted strategy name, got:\n%s", out)
	}
	// Numeric fields carry two decimal places.
	if !strings.Contains(out, "20.00") {
		t.Errorf("Expected 20.00 total return in:\n%s", out)
	}
}
