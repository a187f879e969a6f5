// Package signals tracks directional signal predictions against actual
// outcomes and computes accuracy broken out by strategy, symbol, sector,
// index, timeframe and confidence.
package signals

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/pkg/types"
	"github.com/ksfraser/stock-backtest/pkg/utils"
)

// HighConfidenceThreshold splits signals into high and low confidence
// buckets for the detailed statistics.
const HighConfidenceThreshold = 0.70

// csvHeader is the fixed column set of the signal log export.
var csvHeader = []string{
	"Symbol", "Signal", "Signal Price", "Actual Price", "Price Change %",
	"Confidence", "Days Forward", "Strategy", "Sector", "Index", "Correct",
}

// Accuracy holds the hit counts of one signal grouping.
type Accuracy struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// DaysForwardAccuracy is one timeframe bucket, sorted ascending by days.
type DaysForwardAccuracy struct {
	DaysForward int `json:"daysForward"`
	Accuracy
}

// DetailedStats is the full accuracy breakdown. ConfidenceCorrelation is
// simply high-confidence accuracy minus low-confidence accuracy, a crude
// proxy rather than a statistical correlation coefficient.
type DetailedStats struct {
	Total                  int     `json:"total"`
	Correct                int     `json:"correct"`
	Incorrect              int     `json:"incorrect"`
	Accuracy               float64 `json:"accuracy"`
	AvgMoveCorrect         float64 `json:"avgMoveCorrect"`
	AvgMoveIncorrect       float64 `json:"avgMoveIncorrect"`
	HighConfidenceAccuracy float64 `json:"highConfidenceAccuracy"`
	LowConfidenceAccuracy  float64 `json:"lowConfidenceAccuracy"`
	ConfidenceCorrelation  float64 `json:"confidenceCorrelation"`
}

// Tracker records directional predictions and their outcomes. It is
// independent of the backtesting engine.
type Tracker struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	signals []types.SignalRecord
}

// NewTracker creates a signal accuracy tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Record stores one prediction and judges it against the actual price.
// BUY is correct iff the price rose, SELL iff it fell; a flat price counts
// as incorrect either way. HOLD signals carry no falsifiable prediction
// and are dropped.
func (t *Tracker) Record(
	symbol string,
	signal types.Action,
	signalPrice, actualPrice decimal.Decimal,
	confidence float64,
	daysForward int,
	strategy, sector, index string,
) *types.SignalRecord {
	if signal == types.ActionHold {
		return nil
	}

	correct := false
	switch signal {
	case types.ActionBuy:
		correct = actualPrice.GreaterThan(signalPrice)
	case types.ActionSell:
		correct = actualPrice.LessThan(signalPrice)
	}

	changePct := 0.0
	if !signalPrice.IsZero() {
		changePct = actualPrice.Sub(signalPrice).Div(signalPrice).InexactFloat64() * 100
	}

	record := types.SignalRecord{
		ID:             utils.GenerateSignalID(),
		Symbol:         utils.FormatSymbol(symbol),
		Signal:         signal,
		SignalPrice:    signalPrice,
		ActualPrice:    actualPrice,
		PriceChangePct: changePct,
		Confidence:     confidence,
		DaysForward:    daysForward,
		Strategy:       strategy,
		Sector:         sector,
		Index:          index,
		Correct:        correct,
		RecordedAt:     time.Now(),
	}

	t.mu.Lock()
	t.signals = append(t.signals, record)
	t.mu.Unlock()

	t.logger.Debug("signal recorded",
		zap.String("symbol", record.Symbol),
		zap.String("signal", string(signal)),
		zap.Bool("correct", correct),
	)

	return &record
}

// Signals returns a copy of the recorded signal log.
func (t *Tracker) Signals() []types.SignalRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.SignalRecord(nil), t.signals...)
}

// OverallAccuracy is the hit rate across every recorded signal.
func (t *Tracker) OverallAccuracy() Accuracy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return accuracyOf(t.signals)
}

// AccuracyByStrategy groups accuracy by originating strategy.
func (t *Tracker) AccuracyByStrategy() map[string]Accuracy {
	return t.groupBy(func(s types.SignalRecord) (string, bool) {
		return s.Strategy, true
	})
}

// AccuracyBySymbol groups accuracy by symbol.
func (t *Tracker) AccuracyBySymbol() map[string]Accuracy {
	return t.groupBy(func(s types.SignalRecord) (string, bool) {
		return s.Symbol, true
	})
}

// AccuracyBySector groups accuracy by sector, excluding signals without
// one.
func (t *Tracker) AccuracyBySector() map[string]Accuracy {
	return t.groupBy(func(s types.SignalRecord) (string, bool) {
		return s.Sector, s.Sector != ""
	})
}

// AccuracyByIndex groups accuracy by index membership, excluding signals
// without one.
func (t *Tracker) AccuracyByIndex() map[string]Accuracy {
	return t.groupBy(func(s types.SignalRecord) (string, bool) {
		return s.Index, s.Index != ""
	})
}

// AccuracyByDaysForward groups accuracy by prediction horizon, sorted
// ascending by days.
func (t *Tracker) AccuracyByDaysForward() []DaysForwardAccuracy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	buckets := make(map[int][]types.SignalRecord)
	for _, s := range t.signals {
		buckets[s.DaysForward] = append(buckets[s.DaysForward], s)
	}

	days := make([]int, 0, len(buckets))
	for d := range buckets {
		days = append(days, d)
	}
	sort.Ints(days)

	out := make([]DaysForwardAccuracy, 0, len(days))
	for _, d := range days {
		out = append(out, DaysForwardAccuracy{
			DaysForward: d,
			Accuracy:    accuracyOf(buckets[d]),
		})
	}
	return out
}

// DetailedStats computes the full breakdown: counts, mean absolute price
// move for correct versus incorrect predictions, and the accuracy split at
// the fixed confidence threshold.
func (t *Tracker) DetailedStats() DetailedStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stats DetailedStats
	stats.Total = len(t.signals)
	if stats.Total == 0 {
		return stats
	}

	var moveCorrect, moveIncorrect float64
	var high, low []types.SignalRecord
	for _, s := range t.signals {
		if s.Correct {
			stats.Correct++
			moveCorrect += math.Abs(s.PriceChangePct)
		} else {
			moveIncorrect += math.Abs(s.PriceChangePct)
		}
		if s.Confidence >= HighConfidenceThreshold {
			high = append(high, s)
		} else {
			low = append(low, s)
		}
	}
	stats.Incorrect = stats.Total - stats.Correct
	stats.Accuracy = float64(stats.Correct) / float64(stats.Total) * 100
	if stats.Correct > 0 {
		stats.AvgMoveCorrect = moveCorrect / float64(stats.Correct)
	}
	if stats.Incorrect > 0 {
		stats.AvgMoveIncorrect = moveIncorrect / float64(stats.Incorrect)
	}
	stats.HighConfidenceAccuracy = accuracyOf(high).Accuracy
	stats.LowConfidenceAccuracy = accuracyOf(low).Accuracy
	stats.ConfidenceCorrelation = stats.HighConfidenceAccuracy - stats.LowConfidenceAccuracy

	return stats
}

// ExportCSV renders the signal log with its fixed column set.
func (t *Tracker) ExportCSV() (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range t.signals {
		row := []string{
			s.Symbol,
			string(s.Signal),
			s.SignalPrice.StringFixed(2),
			s.ActualPrice.StringFixed(2),
			strconv.FormatFloat(s.PriceChangePct, 'f', 2, 64),
			strconv.FormatFloat(s.Confidence, 'f', 2, 64),
			strconv.Itoa(s.DaysForward),
			s.Strategy,
			s.Sector,
			s.Index,
			strconv.FormatBool(s.Correct),
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

// Report renders the accuracy breakdown as a fixed-width text report.
func (t *Tracker) Report() string {
	stats := t.DetailedStats()
	byStrategy := t.AccuracyByStrategy()
	byDays := t.AccuracyByDaysForward()

	var b strings.Builder
	rule := strings.Repeat("=", 80)

	b.WriteString(rule + "\n")
	b.WriteString("SIGNAL ACCURACY REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Signals recorded: %d   Correct: %d   Incorrect: %d   Accuracy: %.2f%%\n",
		stats.Total, stats.Correct, stats.Incorrect, stats.Accuracy)
	fmt.Fprintf(&b, "Avg |move| when correct: %.2f%%   when incorrect: %.2f%%\n",
		stats.AvgMoveCorrect, stats.AvgMoveIncorrect)
	fmt.Fprintf(&b, "High-confidence (>= %.2f) accuracy: %.2f%%   Low-confidence: %.2f%%   Spread: %.2f\n\n",
		HighConfidenceThreshold, stats.HighConfidenceAccuracy,
		stats.LowConfidenceAccuracy, stats.ConfidenceCorrelation)

	b.WriteString("By strategy\n")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	names := make([]string, 0, len(byStrategy))
	for name := range byStrategy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := byStrategy[name]
		fmt.Fprintf(&b, "%-32s %6d signals %8.2f%%\n", name, a.Total, a.Accuracy)
	}

	b.WriteString("\nBy horizon\n")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, d := range byDays {
		fmt.Fprintf(&b, "%3d days forward %6d signals %8.2f%%\n", d.DaysForward, d.Total, d.Accuracy.Accuracy)
	}
	b.WriteString(rule + "\n")

	return b.String()
}

func (t *Tracker) groupBy(key func(types.SignalRecord) (string, bool)) map[string]Accuracy {
	t.mu.RLock()
	defer t.mu.RUnlock()

	buckets := make(map[string][]types.SignalRecord)
	for _, s := range t.signals {
		if k, ok := key(s); ok {
			buckets[k] = append(buckets[k], s)
		}
	}

	out := make(map[string]Accuracy, len(buckets))
	for k, group := range buckets {
		out[k] = accuracyOf(group)
	}
	return out
}

func accuracyOf(group []types.SignalRecord) Accuracy {
	a := Accuracy{Total: len(group)}
	for _, s := range group {
		if s.Correct {
			a.Correct++
		}
	}
	if a.Total > 0 {
		a.Accuracy = float64(a.Correct) / float64(a.Total) * 100
	}
	return a
}
