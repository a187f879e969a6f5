package backtester

import "errors"

// Sentinel errors for the analytics core. Strategy and factory errors are
// never wrapped in these: a caller-supplied strategy's error surfaces
// directly to the optimizer/comparator caller.
var (
	// ErrValidation covers empty symbols, empty historical data, empty
	// parameter grids and unknown ranking metrics.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientData is returned when a walk-forward window exceeds
	// the available bars.
	ErrInsufficientData = errors.New("insufficient data")
)
