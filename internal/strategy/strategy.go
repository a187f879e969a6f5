// Package strategy provides reference trading strategies and a registry so
// the API server and tests have concrete strategies to drive the engine
// with. The engine itself only sees the StrategyFunc capability.
package strategy

import (
	"fmt"
	"time"

	"github.com/ksfraser/stock-backtest/pkg/types"
)

// Definition describes one registered strategy: its default parameters and
// a builder that closes over the historical bars. Strategies only look at
// bars up to and including the queried date, never ahead.
type Definition struct {
	Name        string
	Description string
	Defaults    types.ParamSet
	Build       func(bars []types.PriceBar, params types.ParamSet) (types.StrategyFunc, error)
}

// Registry holds the built-in strategies by name.
var Registry = map[string]Definition{
	"sma_crossover": {
		Name:        "sma_crossover",
		Description: "buy when the fast SMA is above the slow SMA, sell when below",
		Defaults:    types.ParamSet{"fast_period": 10, "slow_period": 30},
		Build:       SMACrossover,
	},
	"momentum": {
		Name:        "momentum",
		Description: "buy when the close exceeds the close lookback bars ago, sell when below",
		Defaults:    types.ParamSet{"lookback": 20},
		Build:       Momentum,
	},
}

// Get returns a registered strategy definition.
func Get(name string) (Definition, error) {
	def, ok := Registry[name]
	if !ok {
		return Definition{}, fmt.Errorf("unknown strategy %q", name)
	}
	return def, nil
}

// Factory returns a StrategyFactory for a registered strategy over fixed
// bars, suitable for the optimizer's per-combination builds.
func Factory(name string, bars []types.PriceBar) (types.StrategyFactory, error) {
	def, err := Get(name)
	if err != nil {
		return nil, err
	}
	return func(params types.ParamSet) (types.StrategyFunc, error) {
		merged := make(types.ParamSet, len(def.Defaults))
		for k, v := range def.Defaults {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}
		return def.Build(bars, merged)
	}, nil
}

// SMACrossover signals BUY while the fast simple moving average is above
// the slow one and SELL while below, HOLD until both windows are filled.
func SMACrossover(bars []types.PriceBar, params types.ParamSet) (types.StrategyFunc, error) {
	fast := int(params["fast_period"])
	slow := int(params["slow_period"])
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("sma_crossover: periods must be positive, got fast=%d slow=%d", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("sma_crossover: fast period %d must be below slow period %d", fast, slow)
	}

	closes, byDate := closeSeries(bars)

	return func(symbol string, date time.Time) (types.Signal, error) {
		idx, ok := byDate[date.Format("2006-01-02")]
		if !ok || idx+1 < slow {
			return types.Signal{Action: types.ActionHold}, nil
		}
		fastSMA := mean(closes[idx+1-fast : idx+1])
		slowSMA := mean(closes[idx+1-slow : idx+1])
		switch {
		case fastSMA > slowSMA:
			return types.Signal{Action: types.ActionBuy}, nil
		case fastSMA < slowSMA:
			return types.Signal{Action: types.ActionSell}, nil
		default:
			return types.Signal{Action: types.ActionHold}, nil
		}
	}, nil
}

// Momentum signals BUY when the close is above the close lookback bars ago
// and SELL when below.
func Momentum(bars []types.PriceBar, params types.ParamSet) (types.StrategyFunc, error) {
	lookback := int(params["lookback"])
	if lookback <= 0 {
		return nil, fmt.Errorf("momentum: lookback must be positive, got %d", lookback)
	}

	closes, byDate := closeSeries(bars)

	return func(symbol string, date time.Time) (types.Signal, error) {
		idx, ok := byDate[date.Format("2006-01-02")]
		if !ok || idx < lookback {
			return types.Signal{Action: types.ActionHold}, nil
		}
		switch {
		case closes[idx] > closes[idx-lookback]:
			return types.Signal{Action: types.ActionBuy}, nil
		case closes[idx] < closes[idx-lookback]:
			return types.Signal{Action: types.ActionSell}, nil
		default:
			return types.Signal{Action: types.ActionHold}, nil
		}
	}, nil
}

func closeSeries(bars []types.PriceBar) ([]float64, map[string]int) {
	closes := make([]float64, len(bars))
	byDate := make(map[string]int, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close.InexactFloat64()
		byDate[bar.Date.Format("2006-01-02")] = i
	}
	return closes, byDate
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
