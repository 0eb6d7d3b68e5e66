package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"binance-rebalance-bot-go/internal/audit"
	"binance-rebalance-bot-go/internal/exchange"
	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() *models.Config {
	retries := 1
	return &models.Config{
		QuoteCurrency:            "USDT",
		TopN:                     2,
		CashBuffer:               d("0.05"),
		LiquidityFloor:           d("100000"),
		LookbackDays:             3,
		UniverseCap:              50,
		Weighting:                "proportional",
		Tolerance:                d("0.02"),
		MinNotional:              d("10"),
		MaxSlippage:              d("0.01"),
		RebalanceIntervalMinutes: 60,
		RetryAttempts:            &retries,
		RetryInitialDelayMs:      1,
		RequestTimeoutSec:        5,
	}
}

// testExchange preloads a two-asset bull market over a cash-only account.
func testExchange() *exchange.SimExchange {
	sim := exchange.NewSimExchange()
	sim.Snapshot = &models.MarketSnapshot{
		FetchedAt: time.Now(),
		Quotes: []models.AssetQuote{
			{Symbol: "BTCUSDT", QuoteCurrency: "USDT", Price: d("110"), PriceLookback: d("100"), Volume24hUSD: d("500000")},
			{Symbol: "ETHUSDT", QuoteCurrency: "USDT", Price: d("105"), PriceLookback: d("100"), Volume24hUSD: d("200000")},
		},
	}
	sim.Balances["USDT"] = d("1000")
	sim.Prices["BTCUSDT"] = d("110")
	sim.Prices["ETHUSDT"] = d("105")
	sim.Rules["BTCUSDT"] = models.SymbolRules{StepSize: d("0.0001"), TickSize: d("0.01")}
	sim.Rules["ETHUSDT"] = models.SymbolRules{StepSize: d("0.001"), TickSize: d("0.01")}
	return sim
}

func newScheduler(cfg *models.Config, sim *exchange.SimExchange) *Scheduler {
	return New(cfg, sim, audit.NewMemoryRepository(), zap.NewNop().Sugar())
}

// TestRunOnceFullCycle verifies the whole pipeline end to end: a cash-only
// account gets rebalanced into the two momentum leaders and the cycle is
// recorded in the audit trail.
func TestRunOnceFullCycle(t *testing.T) {
	sim := testExchange()
	repo := audit.NewMemoryRepository()
	sched := New(testConfig(), sim, repo, zap.NewNop().Sugar())

	run, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.ModeLive, run.Mode)
	assert.Equal(t, models.OutcomeCompleted, run.Outcome)
	require.Len(t, run.TargetWeights, 2)
	require.Len(t, run.Results, 2)
	for _, res := range run.Results {
		assert.Equal(t, models.ExecutionFilled, res.Status)
	}

	// Both buys actually landed on the exchange.
	require.Len(t, sim.Submissions, 2)
	for _, intent := range sim.Submissions {
		assert.Equal(t, models.Buy, intent.Side)
	}

	// The audit trail holds exactly this run.
	runs, err := repo.ListRecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, run.ID, sched.LastRun().ID)
}

// TestRunOnceDryRun verifies dry-run cycles plan but never submit.
func TestRunOnceDryRun(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	sim := testExchange()

	run, err := newScheduler(cfg, sim).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ModeDryRun, run.Mode)
	assert.Equal(t, models.OutcomeCompleted, run.Outcome)
	require.Len(t, run.Results, 2)
	for _, res := range run.Results {
		assert.Equal(t, models.ExecutionSkipped, res.Status)
	}
	assert.Empty(t, sim.Submissions)
	// The account is untouched.
	assert.True(t, sim.Balances["USDT"].Equal(d("1000")))
}

// TestRunOnceNoopWhenNoTargets verifies an all-cash portfolio with an empty
// target set finishes as a NOOP.
func TestRunOnceNoopWhenNoTargets(t *testing.T) {
	sim := testExchange()
	sim.Snapshot = &models.MarketSnapshot{} // nothing survives selection

	run, err := newScheduler(testConfig(), sim).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoop, run.Outcome)
	assert.Empty(t, run.Intents)
	assert.Empty(t, sim.Submissions)
}

// TestRunOnceAbortsOnSnapshotFailure verifies a market data failure aborts
// the cycle without any order activity.
func TestRunOnceAbortsOnSnapshotFailure(t *testing.T) {
	sim := testExchange()
	sim.SnapshotErr = errors.New("upstream down")

	run, err := newScheduler(testConfig(), sim).RunOnce(context.Background())
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, models.OutcomeAborted, run.Outcome)
	assert.NotEmpty(t, run.Err)
	assert.Empty(t, sim.Submissions)
}

// TestRunOncePartialOnOrderFailure verifies one failing order degrades the
// outcome to PARTIAL while the other order still executes.
func TestRunOncePartialOnOrderFailure(t *testing.T) {
	sim := testExchange()
	sim.FailPlaceOrder("BTCUSDT", &models.Error{Code: -2010, Msg: "insufficient balance"})

	run, err := newScheduler(testConfig(), sim).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePartial, run.Outcome)
	require.Len(t, sim.Submissions, 1)
	assert.Equal(t, "ETHUSDT", sim.Submissions[0].Symbol)
}

// TestRunOnceHaltsOnDrawdown verifies the drawdown guard aborts the cycle
// once NAV falls past the halt threshold.
func TestRunOnceHaltsOnDrawdown(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDrawdown = d("0.30")
	cfg.DrawdownScalingThreshold = d("0.10")
	cfg.DrawdownMinScale = d("0.40")
	cfg.DrawdownRecovery = d("0.15")

	sim := testExchange()
	repo := audit.NewMemoryRepository()
	// Previous life saw a much higher NAV: current 1000 is a 50% drawdown.
	require.NoError(t, repo.SaveRiskState(&models.RiskState{PeakNAVUSD: d("2000")}))

	run, err := New(cfg, sim, repo, zap.NewNop().Sugar()).RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.OutcomeAborted, run.Outcome)
	assert.Empty(t, sim.Submissions)
}

// TestRunOnceRejectsOverlap verifies a second cycle cannot start while one
// is marked in flight.
func TestRunOnceRejectsOverlap(t *testing.T) {
	sched := newScheduler(testConfig(), testExchange())
	sched.cycleRunning.Store(true)

	_, err := sched.RunOnce(context.Background())
	assert.Error(t, err)
}

// TestSchedulerStatesAndStop verifies the IDLE -> RUNNING -> STOPPED walk and
// that a cancelled context stops the loop.
func TestSchedulerStatesAndStop(t *testing.T) {
	sched := newScheduler(testConfig(), testExchange())
	assert.Equal(t, StateIdle, sched.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	// Wait for the immediate first cycle to finish and the state to settle
	// back between cycles.
	require.Eventually(t, func() bool {
		return sched.LastRun() != nil && sched.State() == StateIdle
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.Equal(t, StateStopped, sched.State())
}

// slowExchange stretches every snapshot fetch so a cycle can outlast the
// rebalance interval.
type slowExchange struct {
	*exchange.SimExchange
	delay time.Duration
}

func (s *slowExchange) GetMarketSnapshot(ctx context.Context, filter exchange.SnapshotFilter) (*models.MarketSnapshot, error) {
	time.Sleep(s.delay)
	return s.SimExchange.GetMarketSnapshot(ctx, filter)
}

// TestRunDropsOverlappingTicks verifies a tick that fires while a cycle is
// still running is discarded, not queued: every follow-up cycle starts at a
// later tick instead of back-to-back with the previous cycle's end.
func TestRunDropsOverlappingTicks(t *testing.T) {
	slow := &slowExchange{SimExchange: testExchange(), delay: 200 * time.Millisecond}
	repo := audit.NewMemoryRepository()
	sched := New(testConfig(), slow, repo, zap.NewNop().Sugar())
	sched.interval = 150 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	err := sched.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	runs, err := repo.ListRecentRuns(10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(runs), 2)
	// ListRecentRuns is newest-first; runs[i+1] finished before runs[i]
	// started, and the tick buffered during runs[i+1] never ran.
	for i := 0; i < len(runs)-1; i++ {
		gap := runs[i].StartedAt.Sub(runs[i+1].FinishedAt)
		assert.GreaterOrEqual(t, gap, 50*time.Millisecond,
			"cycle %s started %s after the previous one finished", runs[i].ID, gap)
	}
}

// TestRunStopsOnAuthError verifies an authentication failure is fatal to the
// continuous loop, not just to the cycle.
func TestRunStopsOnAuthError(t *testing.T) {
	sim := testExchange()
	sim.FailPlaceOrder("BTCUSDT", &models.Error{Code: -2014, Msg: "bad api key"})

	err := newScheduler(testConfig(), sim).Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

// TestValidateChecksConnectivityAndCredentials verifies validate mode probes
// both the public and the signed endpoint, submits nothing, and leaves an
// audit record of its own.
func TestValidateChecksConnectivityAndCredentials(t *testing.T) {
	sim := testExchange()
	repo := audit.NewMemoryRepository()
	sched := New(testConfig(), sim, repo, zap.NewNop().Sugar())

	require.NoError(t, sched.Validate(context.Background()))
	assert.Empty(t, sim.Submissions)

	runs, err := repo.ListRecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.ModeValidate, runs[0].Mode)
	assert.Equal(t, models.OutcomeCompleted, runs[0].Outcome)

	sim.PingErr = errors.New("no route")
	assert.Error(t, sched.Validate(context.Background()))

	runs, err = repo.ListRecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.OutcomeAborted, runs[0].Outcome)
	assert.NotEmpty(t, runs[0].Err)
}
