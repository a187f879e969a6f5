package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/internal/montecarlo"
	"github.com/ksfraser/stock-backtest/internal/strategy"
	"github.com/ksfraser/stock-backtest/internal/workers"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

// batchRequest runs one strategy across many symbols in parallel.
type batchRequest struct {
	Strategy   string         `json:"strategy"`
	Parameters types.ParamSet `json:"parameters,omitempty"`
	Symbols    []string       `json:"symbols,omitempty"` // empty means every stored symbol
}

// batchEntry is the per-symbol outcome of a batch run.
type batchEntry struct {
	Symbol  string                    `json:"symbol"`
	Error   string                    `json:"error,omitempty"`
	Summary *types.PerformanceSummary `json:"summary,omitempty"`
}

// monteCarloRequest backtests one symbol and bootstraps its trade returns.
type monteCarloRequest struct {
	Symbol     string         `json:"symbol"`
	Strategy   string         `json:"strategy"`
	Parameters types.ParamSet `json:"parameters,omitempty"`
	Runs       int            `json:"runs,omitempty"`
	Seed       int64          `json:"seed,omitempty"`
}

func (s *Server) handleBatchBacktest(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.store.Symbols()
	}
	if len(symbols) == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no symbols to backtest"})
		return
	}

	entries := make([]batchEntry, len(symbols))
	var mu sync.Mutex

	pool := workers.NewPool(s.logger, "batch-backtest", s.config.Optimizer.ParallelWorkers, len(symbols))
	for i, symbol := range symbols {
		i, symbol := i, symbol
		err := pool.Submit(r.Context(), workers.TaskFunc(func() error {
			entry := s.runOne(symbol, req.Strategy, req.Parameters)
			mu.Lock()
			entries[i] = entry
			mu.Unlock()
			if entry.Error != "" {
				return fmt.Errorf("%s: %s", symbol, entry.Error)
			}
			return nil
		}))
		if err != nil {
			pool.Close()
			s.writeError(w, err)
			return
		}
	}
	pool.Close()

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.Summary == nil) != (b.Summary == nil) {
			return a.Summary != nil
		}
		if a.Summary != nil && a.Summary.TotalReturn != b.Summary.TotalReturn {
			return a.Summary.TotalReturn > b.Summary.TotalReturn
		}
		return a.Symbol < b.Symbol
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"strategy":  req.Strategy,
		"symbols":   len(symbols),
		"completed": pool.Completed(),
		"failed":    pool.Failed(),
		"results":   entries,
	})
}

// runOne executes a single symbol's backtest for a batch, mapping failures
// into the entry instead of aborting the batch.
func (s *Server) runOne(symbol, strategyName string, params types.ParamSet) batchEntry {
	entry := batchEntry{Symbol: symbol}

	bars, ok := s.store.Get(symbol)
	if !ok {
		entry.Error = fmt.Sprintf("no bars for %s", symbol)
		return entry
	}
	strat, err := s.buildStrategy(strategyName, params, bars)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	start := time.Now()
	engine := backtester.NewEngine(s.logger, s.engineCfg)
	result, err := engine.Run(strat, symbol, bars)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	s.prom.backtestsTotal.Inc()
	s.prom.backtestDuration.Observe(time.Since(start).Seconds())

	entry.Summary = s.metrics.Summarize(result, s.config.Engine.RiskFreeRate)
	return entry
}

func (s *Server) handleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req monteCarloRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	bars, ok := s.store.Get(req.Symbol)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no bars for %s", req.Symbol)})
		return
	}
	strat, err := s.buildStrategy(req.Strategy, req.Parameters, bars)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	engine := backtester.NewEngine(s.logger, s.engineCfg)
	result, err := engine.Run(strat, req.Symbol, bars)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.prom.backtestsTotal.Inc()

	config := montecarlo.DefaultConfig()
	if req.Runs > 0 {
		config.Runs = req.Runs
	}
	config.Seed = req.Seed

	sim, err := montecarlo.New(s.logger, config).Simulate(result)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     req.Symbol,
		"strategy":   req.Strategy,
		"simulation": sim,
	})
}

// strategyNames lists the registered strategies for discovery.
func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(strategy.Registry))
	for name := range strategy.Registry {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		def := strategy.Registry[name]
		out = append(out, map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"defaults":    def.Defaults,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"strategies": out})
}
