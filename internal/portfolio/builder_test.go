package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// TestBuildNAVConsistency verifies the invariant
// NAV = cash + Σ(quantity × price) and that weights are value fractions.
func TestBuildNAVConsistency(t *testing.T) {
	balances := map[string]decimal.Decimal{
		"USDT": d("250"),
		"BTC":  d("0.5"),
		"ETH":  d("2"),
	}
	prices := map[string]decimal.Decimal{
		"BTCUSDT": d("1000"),
		"ETHUSDT": d("125"),
	}

	snapshot, err := Build(balances, prices, "USDT")
	require.NoError(t, err)

	// NAV = 250 + 0.5*1000 + 2*125 = 1000
	assert.True(t, snapshot.NAVUSD.Equal(d("1000")), "NAV = %s", snapshot.NAVUSD)
	assert.True(t, snapshot.CashUSD.Equal(d("250")))
	assert.True(t, snapshot.CurrentWeights["BTCUSDT"].Equal(d("0.5")))
	assert.True(t, snapshot.CurrentWeights["ETHUSDT"].Equal(d("0.25")))

	// Weights plus the cash fraction must reassemble the whole NAV.
	total := snapshot.CashUSD.Div(snapshot.NAVUSD)
	for _, w := range snapshot.CurrentWeights {
		total = total.Add(w)
	}
	assert.True(t, total.Equal(d("1")), "weights + cash fraction = %s", total)
}

// TestBuildMissingPriceFails verifies that a held position without a live
// price aborts the build instead of being valued at zero.
func TestBuildMissingPriceFails(t *testing.T) {
	balances := map[string]decimal.Decimal{
		"USDT": d("100"),
		"SOL":  d("3"),
	}

	snapshot, err := Build(balances, map[string]decimal.Decimal{}, "USDT")
	require.Nil(t, snapshot)

	var priceErr *PriceMissingError
	require.ErrorAs(t, err, &priceErr)
	assert.Equal(t, "SOLUSDT", priceErr.Symbol)
}

// TestBuildIgnoresZeroBalances verifies that zero and dust-free balances do
// not require prices and do not appear as positions.
func TestBuildIgnoresZeroBalances(t *testing.T) {
	balances := map[string]decimal.Decimal{
		"USDT": d("100"),
		"BTC":  decimal.Zero,
	}

	snapshot, err := Build(balances, map[string]decimal.Decimal{}, "USDT")
	require.NoError(t, err)
	assert.Empty(t, snapshot.Positions)
	assert.True(t, snapshot.NAVUSD.Equal(d("100")))
}

// TestBuildCashOnly verifies the all-cash portfolio shape.
func TestBuildCashOnly(t *testing.T) {
	snapshot, err := Build(map[string]decimal.Decimal{"USDT": d("500")}, nil, "USDT")
	require.NoError(t, err)
	assert.True(t, snapshot.NAVUSD.Equal(d("500")))
	assert.Empty(t, snapshot.CurrentWeights)
}
