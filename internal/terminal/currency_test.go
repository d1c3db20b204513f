package terminal_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/VaXeS13/MP-sub001/internal/terminal"
)

func TestCurrencyNumeric(t *testing.T) {
	require.Equal(t, 985, terminal.CurrencyNumeric("PLN"))
	require.Equal(t, 978, terminal.CurrencyNumeric("EUR"))
	require.Equal(t, 840, terminal.CurrencyNumeric("USD"))
	require.Equal(t, 826, terminal.CurrencyNumeric("GBP"))
	require.Equal(t, 985, terminal.CurrencyNumeric("pln"))
}

func TestCurrencyNumericUnknownFallsBackToEUR(t *testing.T) {
	require.Equal(t, 978, terminal.CurrencyNumeric("XXX"))
	require.Equal(t, 978, terminal.CurrencyNumeric(""))
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(10000), terminal.MinorUnits(decimal.RequireFromString("100.00"), "PLN"))
	require.Equal(t, int64(999), terminal.MinorUnits(decimal.RequireFromString("9.99"), "EUR"))
	require.Equal(t, int64(100), terminal.MinorUnits(decimal.RequireFromString("100"), "JPY"))
}

func TestFromMinorUnits(t *testing.T) {
	require.True(t, decimal.RequireFromString("100.00").Equal(terminal.FromMinorUnits(10000, "PLN")))
	require.True(t, decimal.RequireFromString("100").Equal(terminal.FromMinorUnits(100, "JPY")))
}

func TestMaskPAN(t *testing.T) {
	require.Equal(t, "****1234", terminal.MaskPAN("4111111111111234"))
	require.Equal(t, "****", terminal.MaskPAN("123"))
}
