package utils_test

import (
	"strings"
	"testing"

	"github.com/ksfraser/stock-backtest/pkg/utils"
)

func TestGenerateID(t *testing.T) {
	id1 := utils.GenerateID("test")
	id2 := utils.GenerateID("test")

	if id1 == id2 {
		t.Error("Expected unique IDs")
	}
	if !strings.HasPrefix(id1, "test_") {
		t.Errorf("Expected test_ prefix, got %s", id1)
	}
	if strings.Contains(utils.GenerateID(""), "_") {
		t.Error("Expected no separator without prefix")
	}
	if !strings.HasPrefix(utils.GenerateTradeID(), "trd_") {
		t.Error("Expected trd_ prefix")
	}
	if !strings.HasPrefix(utils.GenerateSignalID(), "sig_") {
		t.Error("Expected sig_ prefix")
	}
}

func TestFormatSymbol(t *testing.T) {
	cases := map[string]string{
		" aapl ":  "AAPL",
		"MSFT":    "MSFT",
		"brk.b":   "BRK.B",
		"  xom\t": "XOM",
	}
	for in, want := range cases {
		if got := utils.FormatSymbol(in); got != want {
			t.Errorf("FormatSymbol(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestRound2(t *testing.T) {
	cases := map[float64]float64{
		1.234:  1.23,
		1.236:  1.24,
		-2.346: -2.35,
		0:      0,
	}
	for in, want := range cases {
		if got := utils.Round2(in); got != want {
			t.Errorf("Round2(%f): expected %f, got %f", in, want, got)
		}
	}
}
