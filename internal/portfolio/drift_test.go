package portfolio

import (
	"testing"

	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(nav string, weights map[string]string) *models.PortfolioSnapshot {
	s := &models.PortfolioSnapshot{
		NAVUSD:         d(nav),
		CurrentWeights: make(map[string]decimal.Decimal),
	}
	for symbol, w := range weights {
		s.CurrentWeights[symbol] = d(w)
	}
	return s
}

// TestAnalyzeToleranceSuppression verifies that drift inside the tolerance
// band produces no record.
func TestAnalyzeToleranceSuppression(t *testing.T) {
	targets := models.TargetWeightMap{"BTCUSDT": d("0.50")}
	snapshot := snapshotWith("1000", map[string]string{"BTCUSDT": "0.49"})

	records := Analyze(targets, snapshot, d("0.02"))
	assert.Empty(t, records)

	// The same drift with a tighter band must surface.
	records = Analyze(targets, snapshot, d("0.005"))
	require.Len(t, records, 1)
	assert.True(t, records[0].DriftUSD.Equal(d("10")), "drift = %s", records[0].DriftUSD)
}

// TestAnalyzeExitNeverSuppressed verifies that a full exit is emitted even
// when the position is smaller than the tolerance band. An asset dropped
// from the target set must not linger indefinitely.
func TestAnalyzeExitNeverSuppressed(t *testing.T) {
	targets := models.TargetWeightMap{}
	snapshot := snapshotWith("10000", map[string]string{"SOLUSDT": "0.01"})

	records := Analyze(targets, snapshot, d("0.05"))
	require.Len(t, records, 1)
	assert.Equal(t, "SOLUSDT", records[0].Symbol)
	assert.True(t, records[0].DriftUSD.Equal(d("-100")))
}

// TestAnalyzeEntryNeverSuppressed verifies the symmetric case for a brand
// new position below the tolerance band.
func TestAnalyzeEntryNeverSuppressed(t *testing.T) {
	targets := models.TargetWeightMap{"DOGEUSDT": d("0.01")}
	snapshot := snapshotWith("10000", nil)

	records := Analyze(targets, snapshot, d("0.05"))
	require.Len(t, records, 1)
	assert.Equal(t, "DOGEUSDT", records[0].Symbol)
	assert.True(t, records[0].DriftUSD.Equal(d("100")))
}

// TestAnalyzeOrdering verifies records come out ordered by absolute drift
// descending with symbol as the tiebreaker.
func TestAnalyzeOrdering(t *testing.T) {
	targets := models.TargetWeightMap{
		"BTCUSDT": d("0.6"),
		"ETHUSDT": d("0.1"),
	}
	snapshot := snapshotWith("1000", map[string]string{
		"ETHUSDT": "0.3",
		"XRPUSDT": "0.2",
	})

	records := Analyze(targets, snapshot, d("0.01"))
	require.Len(t, records, 3)
	assert.Equal(t, "BTCUSDT", records[0].Symbol) // +600
	assert.Equal(t, "ETHUSDT", records[1].Symbol) // -200
	assert.Equal(t, "XRPUSDT", records[2].Symbol) // -200, tie broken by symbol
}
