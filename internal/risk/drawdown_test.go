package risk

import (
	"testing"

	"binance-rebalance-bot-go/internal/audit"
	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func defaultParams() Params {
	return Params{
		MaxDrawdown:      d("0.30"),
		ScalingThreshold: d("0.10"),
		MinScale:         d("0.40"),
		Recovery:         d("0.15"),
	}
}

func newGuard(repo audit.Repository) *Guard {
	return NewGuard(repo, defaultParams(), zap.NewNop().Sugar())
}

// TestAssessDisabledWhenMaxDrawdownZero verifies the guard is a no-op with a
// zero threshold: full scale, never halted, nothing persisted.
func TestAssessDisabledWhenMaxDrawdownZero(t *testing.T) {
	repo := audit.NewMemoryRepository()
	guard := NewGuard(repo, Params{}, zap.NewNop().Sugar())

	decision, err := guard.Assess(d("1000"))
	require.NoError(t, err)
	assert.False(t, decision.Halted)
	assert.True(t, decision.WeightScale.Equal(decimal.NewFromInt(1)))

	state, err := repo.LoadRiskState()
	require.NoError(t, err)
	assert.Nil(t, state)
}

// TestAssessTracksPeak verifies the peak only ratchets upward.
func TestAssessTracksPeak(t *testing.T) {
	repo := audit.NewMemoryRepository()
	guard := newGuard(repo)

	decision, err := guard.Assess(d("1000"))
	require.NoError(t, err)
	assert.True(t, decision.PeakNAVUSD.Equal(d("1000")))

	decision, err = guard.Assess(d("1200"))
	require.NoError(t, err)
	assert.True(t, decision.PeakNAVUSD.Equal(d("1200")))

	decision, err = guard.Assess(d("1100"))
	require.NoError(t, err)
	assert.True(t, decision.PeakNAVUSD.Equal(d("1200")), "peak must not fall")
	assert.True(t, decision.Drawdown.Round(4).Equal(d("0.0833")), "drawdown = %s", decision.Drawdown)
}

// TestAssessLinearScaling verifies the scale interpolates linearly between
// the scaling threshold and the halt threshold.
func TestAssessLinearScaling(t *testing.T) {
	repo := audit.NewMemoryRepository()
	guard := newGuard(repo)

	_, err := guard.Assess(d("1000"))
	require.NoError(t, err)

	// 5% drawdown: below the threshold, no scaling.
	decision, err := guard.Assess(d("950"))
	require.NoError(t, err)
	assert.True(t, decision.WeightScale.Equal(decimal.NewFromInt(1)))

	// 20% drawdown: halfway through [0.10, 0.30], scale halfway to 0.40.
	decision, err = guard.Assess(d("800"))
	require.NoError(t, err)
	assert.True(t, decision.WeightScale.Equal(d("0.7")), "scale = %s", decision.WeightScale)
}

// TestAssessHaltAndRecovery verifies the halt latches at max drawdown and
// releases only once the drawdown shrinks past the recovery level.
func TestAssessHaltAndRecovery(t *testing.T) {
	repo := audit.NewMemoryRepository()
	guard := newGuard(repo)

	_, err := guard.Assess(d("1000"))
	require.NoError(t, err)

	decision, err := guard.Assess(d("650")) // 35% drawdown
	require.NoError(t, err)
	assert.True(t, decision.Halted)

	// Partial recovery to 20% drawdown: still above recovery, stays halted.
	decision, err = guard.Assess(d("800"))
	require.NoError(t, err)
	assert.True(t, decision.Halted)

	// 10% drawdown is inside the recovery level, halt releases.
	decision, err = guard.Assess(d("900"))
	require.NoError(t, err)
	assert.False(t, decision.Halted)
}

// TestAssessStateSurvivesRestart verifies the peak and halt flag persist
// through a new guard on the same repository.
func TestAssessStateSurvivesRestart(t *testing.T) {
	repo := audit.NewMemoryRepository()

	_, err := newGuard(repo).Assess(d("1000"))
	require.NoError(t, err)
	decision, err := newGuard(repo).Assess(d("650"))
	require.NoError(t, err)
	require.True(t, decision.Halted)

	// A fresh guard must still see the halt and the old peak.
	decision, err = newGuard(repo).Assess(d("700"))
	require.NoError(t, err)
	assert.True(t, decision.Halted)
	assert.True(t, decision.PeakNAVUSD.Equal(d("1000")))
}

// TestScaleWeights verifies scaled weights shrink proportionally and a unit
// scale returns the map untouched.
func TestScaleWeights(t *testing.T) {
	targets := models.TargetWeightMap{
		"BTCUSDT": d("0.6"),
		"ETHUSDT": d("0.3"),
	}

	same := ScaleWeights(targets, decimal.NewFromInt(1))
	assert.True(t, same["BTCUSDT"].Equal(d("0.6")))

	scaled := ScaleWeights(targets, d("0.5"))
	assert.True(t, scaled["BTCUSDT"].Equal(d("0.3")))
	assert.True(t, scaled["ETHUSDT"].Equal(d("0.15")))
	// The original map must not be mutated.
	assert.True(t, targets["BTCUSDT"].Equal(d("0.6")))
}
