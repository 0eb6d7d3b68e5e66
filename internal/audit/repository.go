package audit

import "binance-rebalance-bot-go/internal/models"

// Repository defines the interface for the audit trail and durable bot state.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type Repository interface {
	// SaveCycleRun appends a finished rebalance cycle to the audit trail.
	SaveCycleRun(run *models.RebalanceCycleRun) error

	// ListRecentRuns returns up to limit of the most recent cycle runs,
	// newest first.
	ListRecentRuns(limit int) ([]*models.RebalanceCycleRun, error)

	// LoadRiskState loads the persisted risk state.
	// If no state is found, it should return (nil, nil).
	LoadRiskState() (*models.RiskState, error)

	// SaveRiskState atomically saves the risk state.
	SaveRiskState(state *models.RiskState) error

	// Close gracefully closes the connection to the database.
	Close() error
}
