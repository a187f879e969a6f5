// Package api provides the HTTP and WebSocket server exposing the
// backtesting and analytics core.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ksfraser/stock-backtest/internal/backtester"
	"github.com/ksfraser/stock-backtest/internal/comparator"
	"github.com/ksfraser/stock-backtest/internal/data"
	"github.com/ksfraser/stock-backtest/internal/sector"
	"github.com/ksfraser/stock-backtest/internal/signals"
	"github.com/ksfraser/stock-backtest/pkg/types"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*client

	store      *data.Store
	tracker    *signals.Tracker
	sectors    *sector.Aggregator
	comparator *comparator.Comparator
	engineCfg  backtester.Config
	metrics    backtester.Metrics
	prom       *promMetrics
}

// NewServer creates an API server around the analytics components.
func NewServer(
	logger *zap.Logger,
	config *types.Config,
	store *data.Store,
	tracker *signals.Tracker,
	sectors *sector.Aggregator,
) *Server {
	engineCfg := backtester.ConfigFromTypes(config.Engine)
	s := &Server{
		logger:     logger,
		config:     config,
		router:     mux.NewRouter(),
		clients:    make(map[string]*client),
		store:      store,
		tracker:    tracker,
		sectors:    sectors,
		comparator: comparator.New(logger, engineCfg, config.Engine.RiskFreeRate),
		engineCfg:  engineCfg,
		prom:       newPromMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)

	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/bars/{symbol}", s.handleUploadBars).Methods("POST")
	s.router.HandleFunc("/api/v1/data/bars/{symbol}", s.handleGetBars).Methods("GET")

	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/batch", s.handleBatchBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/montecarlo", s.handleMonteCarlo).Methods("POST")
	s.router.HandleFunc("/api/v1/compare", s.handleCompare).Methods("POST")
	s.router.HandleFunc("/api/v1/optimize", s.handleOptimize).Methods("POST")
	s.router.HandleFunc("/api/v1/walkforward", s.handleWalkForward).Methods("POST")

	s.router.HandleFunc("/api/v1/signals/record", s.handleRecordSignal).Methods("POST")
	s.router.HandleFunc("/api/v1/signals/stats", s.handleSignalStats).Methods("GET")
	s.router.HandleFunc("/api/v1/signals/report", s.handleSignalReport).Methods("GET")
	s.router.HandleFunc("/api/v1/signals/csv", s.handleSignalsCSV).Methods("GET")

	s.router.HandleFunc("/api/v1/sectors/record", s.handleRecordSector).Methods("POST")
	s.router.HandleFunc("/api/v1/sectors/performance", s.handleSectorPerformance).Methods("GET")
	s.router.HandleFunc("/api/v1/sectors/correlation", s.handleSectorCorrelation).Methods("GET")
	s.router.HandleFunc("/api/v1/sectors/report", s.handleSectorReport).Methods("GET")
	s.router.HandleFunc("/api/v1/sectors/csv", s.handleSectorsCSV).Methods("GET")

	if s.config.Server.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.prom.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	s.router.HandleFunc(s.config.Server.WebSocketPath, s.handleWebSocket)
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server, closing websocket clients first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, backtester.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, backtester.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeCSV(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}

func (s *Server) writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}
