package audit

import (
	"fmt"
	"testing"
	"time"

	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(id string, startedAt time.Time) *models.RebalanceCycleRun {
	return &models.RebalanceCycleRun{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(30 * time.Second),
		Mode:       models.ModeLive,
		TargetWeights: models.TargetWeightMap{
			"BTCUSDT": decimal.RequireFromString("0.6"),
		},
		Outcome: models.OutcomeCompleted,
	}
}

// repositories under test: the durable BadgerDB one and the in-memory one
// must behave identically.
func repositories(t *testing.T) map[string]Repository {
	badgerRepo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { badgerRepo.Close() })

	return map[string]Repository{
		"badger": badgerRepo,
		"memory": NewMemoryRepository(),
	}
}

// TestCycleRunsNewestFirst verifies the audit trail returns runs in reverse
// chronological order and honors the limit.
func TestCycleRunsNewestFirst(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				run := sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))
				require.NoError(t, repo.SaveCycleRun(run))
			}

			runs, err := repo.ListRecentRuns(3)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "run-4", runs[0].ID)
			assert.Equal(t, "run-3", runs[1].ID)
			assert.Equal(t, "run-2", runs[2].ID)

			// Payload survives the round trip.
			assert.True(t, runs[0].TargetWeights["BTCUSDT"].Equal(decimal.RequireFromString("0.6")))
			assert.Equal(t, models.OutcomeCompleted, runs[0].Outcome)
		})
	}
}

// TestListRecentRunsEmpty verifies an empty trail and a non-positive limit
// both yield nothing.
func TestListRecentRunsEmpty(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			runs, err := repo.ListRecentRuns(10)
			require.NoError(t, err)
			assert.Empty(t, runs)

			runs, err = repo.ListRecentRuns(0)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

// TestRiskStateRoundTrip verifies risk state load/save semantics including
// the (nil, nil) no-state contract.
func TestRiskStateRoundTrip(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			state, err := repo.LoadRiskState()
			require.NoError(t, err)
			assert.Nil(t, state, "fresh repository must report no state")

			saved := &models.RiskState{
				PeakNAVUSD: decimal.RequireFromString("123456.78"),
				Halted:     true,
				UpdatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			}
			require.NoError(t, repo.SaveRiskState(saved))

			loaded, err := repo.LoadRiskState()
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.True(t, loaded.PeakNAVUSD.Equal(saved.PeakNAVUSD))
			assert.True(t, loaded.Halted)
		})
	}
}
