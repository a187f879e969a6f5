// Package data provides in-memory historical bar storage and CSV loading.
package data

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/pkg/types"
	"github.com/ksfraser/stock-backtest/pkg/utils"
)

// csvBar is the on-disk CSV row shape for historical bars.
type csvBar struct {
	Date   string  `csv:"date"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// Store holds historical bar series per symbol. Bars are kept sorted
// chronologically.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	bars   map[string][]types.PriceBar
}

// NewStore creates an empty bar store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		bars:   make(map[string][]types.PriceBar),
	}
}

// Put replaces the bar series for a symbol, sorting it chronologically.
func (s *Store) Put(symbol string, bars []types.PriceBar) error {
	symbol = utils.FormatSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if len(bars) == 0 {
		return fmt.Errorf("no bars for %s", symbol)
	}

	sorted := append([]types.PriceBar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	s.mu.Lock()
	s.bars[symbol] = sorted
	s.mu.Unlock()

	s.logger.Info("bars stored",
		zap.String("symbol", symbol),
		zap.Int("bars", len(sorted)),
		zap.Time("start", sorted[0].Date),
		zap.Time("end", sorted[len(sorted)-1].Date),
	)
	return nil
}

// Get returns the bar series for a symbol.
func (s *Store) Get(symbol string) ([]types.PriceBar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars, ok := s.bars[utils.FormatSymbol(symbol)]
	return bars, ok
}

// Symbols lists the stored symbols, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.bars))
	for symbol := range s.bars {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// LoadCSV reads a bar series for a symbol from a CSV file with
// date,open,high,low,close,volume columns.
func (s *Store) LoadCSV(symbol, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []csvBar
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	bars := make([]types.PriceBar, 0, len(rows))
	for i, row := range rows {
		date, err := parseDate(row.Date)
		if err != nil {
			return fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		bars = append(bars, types.PriceBar{
			Date:   date,
			Open:   decimal.NewFromFloat(row.Open),
			High:   decimal.NewFromFloat(row.High),
			Low:    decimal.NewFromFloat(row.Low),
			Close:  decimal.NewFromFloat(row.Close),
			Volume: decimal.NewFromFloat(row.Volume),
		})
	}

	return s.Put(symbol, bars)
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}
