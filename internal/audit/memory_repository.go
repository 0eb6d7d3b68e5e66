package audit

import (
	"sync"

	"binance-rebalance-bot-go/internal/models"
)

// memoryRepository is an in-memory Repository used by validate mode and
// tests, where opening a database on disk is unwanted.
type memoryRepository struct {
	mu        sync.Mutex
	runs      []*models.RebalanceCycleRun
	riskState *models.RiskState
}

// NewMemoryRepository creates a Repository that keeps everything in memory.
func NewMemoryRepository() Repository {
	return &memoryRepository{}
}

func (r *memoryRepository) SaveCycleRun(run *models.RebalanceCycleRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *memoryRepository) ListRecentRuns(limit int) ([]*models.RebalanceCycleRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		return nil, nil
	}
	var runs []*models.RebalanceCycleRun
	for i := len(r.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, r.runs[i])
	}
	return runs, nil
}

func (r *memoryRepository) LoadRiskState() (*models.RiskState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.riskState, nil
}

func (r *memoryRepository) SaveRiskState(state *models.RiskState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := *state
	r.riskState = &st
	return nil
}

func (r *memoryRepository) Close() error {
	return nil
}
