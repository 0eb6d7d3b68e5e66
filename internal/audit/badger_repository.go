package audit

import (
	"encoding/json"
	"errors"
	"fmt"

	"binance-rebalance-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the Repository.
type badgerRepository struct {
	db           *badger.DB
	riskStateKey []byte
}

// cyclePrefix keys are zero-padded unix nanos so that Badger's
// lexicographic iteration order matches chronological order.
const cyclePrefix = "cycle/"

// NewBadgerRepository creates and returns a new repository instance connected
// to a BadgerDB database.
func NewBadgerRepository(dbPath string) (Repository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would interleave with ours; errors are still
	// returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:           db,
		riskStateKey: []byte("risk_state"),
	}, nil
}

// SaveCycleRun appends a finished rebalance cycle to the audit trail.
// Records are never updated or deleted.
func (r *badgerRepository) SaveCycleRun(run *models.RebalanceCycleRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	key := []byte(fmt.Sprintf("%s%020d", cyclePrefix, run.StartedAt.UnixNano()))
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// ListRecentRuns returns up to limit of the most recent cycle runs, newest first.
func (r *badgerRepository) ListRecentRuns(limit int) ([]*models.RebalanceCycleRun, error) {
	if limit <= 0 {
		return nil, nil
	}

	var runs []*models.RebalanceCycleRun
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(cyclePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the whole prefix range first.
		seek := append([]byte(cyclePrefix), 0xFF)
		for it.Seek(seek); it.Valid() && len(runs) < limit; it.Next() {
			var run models.RebalanceCycleRun
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				return err
			}
			runs = append(runs, &run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// LoadRiskState loads the persisted risk state.
// If the state key is not found, it returns (nil, nil) to indicate no state
// is present.
func (r *badgerRepository) LoadRiskState() (*models.RiskState, error) {
	var state models.RiskState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.riskStateKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("risk state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // Expected "no state found" case.
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveRiskState atomically saves the risk state.
func (r *badgerRepository) SaveRiskState(state *models.RiskState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.riskStateKey, data)
	})
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
