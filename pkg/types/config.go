// Package types provides configuration types for the analytics backend.
package types

import "time"

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
}

// ServerConfig configures the HTTP/WebSocket API server.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	WebSocketPath string        `mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// EngineConfig configures backtest simulation costs. Commission and
// slippage are symmetric rates applied at both entry and exit, always
// working against the trader.
type EngineConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	Commission     float64 `mapstructure:"commission"`
	Slippage       float64 `mapstructure:"slippage"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
}

// OptimizerConfig configures grid-search execution.
type OptimizerConfig struct {
	ParallelWorkers int `mapstructure:"parallel_workers"`
}
