// Package config loads application configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ksfraser/stock-backtest/pkg/types"
)

// Load reads configuration from the given file (optional) plus environment
// variables prefixed with BACKTEST_, applying defaults for everything
// unset.
func Load(path string) (*types.Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("engine.initial_capital", 10000.0)
	v.SetDefault("engine.commission", 0.001)
	v.SetDefault("engine.slippage", 0.0005)
	v.SetDefault("engine.risk_free_rate", 0.0)

	v.SetDefault("optimizer.parallel_workers", 1)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
