package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/internal/optimizer"
	"github.com/ksfraser/stock-backtest/internal/strategy"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

// backtestRequest drives a single engine run against stored bars.
type backtestRequest struct {
	Symbol     string         `json:"symbol"`
	Strategy   string         `json:"strategy"`
	Parameters types.ParamSet `json:"parameters,omitempty"`
	Sector     string         `json:"sector,omitempty"`
	Index      string         `json:"index,omitempty"`
}

// compareRequest ranks several strategies on identical data.
type compareRequest struct {
	Symbol     string                    `json:"symbol"`
	Metric     string                    `json:"metric"`
	Strategies map[string]types.ParamSet `json:"strategies"`
}

// optimizeRequest grid-searches one strategy's parameter space.
type optimizeRequest struct {
	Symbol      string          `json:"symbol"`
	Strategy    string          `json:"strategy"`
	Grid        types.ParamGrid `json:"grid"`
	Metric      string          `json:"metric"`
	TrainWindow int             `json:"trainWindow,omitempty"`
	TestWindow  int             `json:"testWindow,omitempty"`
}

// signalRequest records one directional prediction and its outcome.
type signalRequest struct {
	Symbol      string  `json:"symbol"`
	Signal      string  `json:"signal"`
	SignalPrice float64 `json:"signalPrice"`
	ActualPrice float64 `json:"actualPrice"`
	Confidence  float64 `json:"confidence"`
	DaysForward int     `json:"daysForward"`
	Strategy    string  `json:"strategy"`
	Sector      string  `json:"sector,omitempty"`
	Index       string  `json:"index,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"symbols": s.store.Symbols()})
}

func (s *Server) handleUploadBars(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var payload struct {
		Bars []types.PriceBar `json:"bars"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if err := s.store.Put(symbol, payload.Bars); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"symbol": symbol, "bars": len(payload.Bars)})
}

func (s *Server) handleGetBars(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	bars, ok := s.store.Get(symbol)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no bars for %s", symbol)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "bars": bars})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
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

	start := time.Now()
	engine := backtester.NewEngine(s.logger, s.engineCfg)
	result, err := engine.Run(strat, req.Symbol, bars)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.prom.backtestsTotal.Inc()
	s.prom.backtestDuration.Observe(time.Since(start).Seconds())

	summary := s.metrics.Summarize(result, s.config.Engine.RiskFreeRate)

	if req.Sector != "" || req.Index != "" {
		s.sectors.Record(types.SectorResult{
			Symbol:   req.Symbol,
			Sector:   req.Sector,
			Index:    req.Index,
			Strategy: req.Strategy,
			Return:   result.ReturnPct,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"backtest": result,
		"summary":  summary,
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	bars, ok := s.store.Get(req.Symbol)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no bars for %s", req.Symbol)})
		return
	}

	strategies := make(map[string]types.StrategyFunc, len(req.Strategies))
	for name, params := range req.Strategies {
		strat, err := s.buildStrategy(name, params, bars)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		strategies[name] = strat
	}

	ranked, err := s.comparator.RankBy(strategies, req.Symbol, bars, req.Metric)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.prom.backtestsTotal.Add(float64(len(strategies)))

	switch r.URL.Query().Get("format") {
	case "csv":
		body, err := s.comparator.ExportCSV(ranked)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeCSV(w, "comparison.csv", body)
	case "report":
		s.writeText(w, s.comparator.GenerateReport(ranked, req.Symbol, req.Metric))
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"ranking": ranked})
	}
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	bars, ok := s.store.Get(req.Symbol)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no bars for %s", req.Symbol)})
		return
	}
	opt, factory, err := s.buildOptimizer(req, bars)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := opt.Optimize(r.Context(), factory, req.Grid, req.Symbol, bars, req.Metric)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.prom.optimizationsTotal.Inc()

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWalkForward(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	bars, ok := s.store.Get(req.Symbol)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no bars for %s", req.Symbol)})
		return
	}
	opt, factory, err := s.buildOptimizer(req, bars)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := opt.WalkForward(r.Context(), factory, req.Grid, req.Symbol, bars,
		req.Metric, req.TrainWindow, req.TestWindow)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.prom.optimizationsTotal.Inc()

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecordSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	record := s.tracker.Record(
		req.Symbol,
		types.Action(req.Signal),
		decimal.NewFromFloat(req.SignalPrice),
		decimal.NewFromFloat(req.ActualPrice),
		req.Confidence,
		req.DaysForward,
		req.Strategy,
		req.Sector,
		req.Index,
	)
	if record == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "hold signals are not recorded"})
		return
	}
	s.prom.signalsTotal.Inc()
	s.writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleSignalStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"overall":       s.tracker.OverallAccuracy(),
		"detailed":      s.tracker.DetailedStats(),
		"byStrategy":    s.tracker.AccuracyByStrategy(),
		"bySymbol":      s.tracker.AccuracyBySymbol(),
		"bySector":      s.tracker.AccuracyBySector(),
		"byIndex":       s.tracker.AccuracyByIndex(),
		"byDaysForward": s.tracker.AccuracyByDaysForward(),
	})
}

func (s *Server) handleSignalReport(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, s.tracker.Report())
}

func (s *Server) handleSignalsCSV(w http.ResponseWriter, r *http.Request) {
	body, err := s.tracker.ExportCSV()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeCSV(w, "signals.csv", body)
}

func (s *Server) handleRecordSector(w http.ResponseWriter, r *http.Request) {
	var result types.SectorResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.sectors.Record(result)
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleSectorPerformance(w http.ResponseWriter, r *http.Request) {
	strategyFilter := r.URL.Query().Get("strategy")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sectors":        s.sectors.SectorPerformance(strategyFilter),
		"indexes":        s.sectors.IndexPerformance(strategyFilter),
		"sectorStrategy": s.sectors.SectorStrategyMatrix(),
		"indexStrategy":  s.sectors.IndexStrategyMatrix(),
	})
}

func (s *Server) handleSectorCorrelation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sector1, sector2 := q.Get("sector1"), q.Get("sector2")
	if sector1 == "" || sector2 == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sector1 and sector2 are required"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sector1":     sector1,
		"sector2":     sector2,
		"correlation": s.sectors.Correlation(sector1, sector2),
	})
}

func (s *Server) handleSectorReport(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, s.sectors.RotationReport())
}

func (s *Server) handleSectorsCSV(w http.ResponseWriter, r *http.Request) {
	body, err := s.sectors.ExportCSV()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeCSV(w, "sectors.csv", body)
}

func (s *Server) buildStrategy(name string, params types.ParamSet, bars []types.PriceBar) (types.StrategyFunc, error) {
	factory, err := strategy.Factory(name, bars)
	if err != nil {
		return nil, err
	}
	return factory(params)
}

func (s *Server) buildOptimizer(req optimizeRequest, bars []types.PriceBar) (*optimizer.Optimizer, types.StrategyFactory, error) {
	factory, err := strategy.Factory(req.Strategy, bars)
	if err != nil {
		return nil, nil, err
	}

	opt := optimizer.New(s.logger, optimizer.Config{
		Engine:       s.engineCfg,
		RiskFreeRate: s.config.Engine.RiskFreeRate,
		Workers:      s.config.Optimizer.ParallelWorkers,
		Progress: func(completed, total int) {
			s.broadcast(progressEvent{
				Type:      "optimization_progress",
				Symbol:    req.Symbol,
				Strategy:  req.Strategy,
				Completed: completed,
				Total:     total,
			})
		},
	})
	s.logger.Info("optimization requested",
		zap.String("symbol", req.Symbol),
		zap.String("strategy", req.Strategy),
		zap.String("metric", req.Metric),
	)
	return opt, factory, nil
}
