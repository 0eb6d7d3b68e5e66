package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"binance-rebalance-bot-go/internal/audit"
	"binance-rebalance-bot-go/internal/exchange"
	"binance-rebalance-bot-go/internal/executor"
	"binance-rebalance-bot-go/internal/models"
	"binance-rebalance-bot-go/internal/planner"
	"binance-rebalance-bot-go/internal/portfolio"
	"binance-rebalance-bot-go/internal/reporter"
	"binance-rebalance-bot-go/internal/risk"
	"binance-rebalance-bot-go/internal/selector"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State 定义了调度器的生命周期状态
type State string

const (
	StateIdle    State = "IDLE"    // 无周期在运行, 等待触发
	StateRunning State = "RUNNING" // 周期执行中, 此时到来的触发被丢弃
	StateStopped State = "STOPPED" // 终态, 不再触发任何周期
)

// Scheduler 驱动再平衡周期: 按固定间隔触发, 周期之间不共享任何状态,
// 审计记录和运行标志除外。上一个周期未结束时到来的触发被丢弃而不是排队,
// 避免基于过期快照交易。
type Scheduler struct {
	cfg      *models.Config
	exchange exchange.Exchange
	selector *selector.Selector
	executor *executor.Coordinator
	guard    *risk.Guard
	repo     audit.Repository
	reporter *reporter.Reporter
	logger   *zap.SugaredLogger

	interval time.Duration

	state        atomic.Value // State
	cycleRunning atomic.Bool

	mu      sync.Mutex
	lastRun *models.RebalanceCycleRun
}

// New 创建调度器并装配整个周期流水线
func New(cfg *models.Config, ex exchange.Exchange, repo audit.Repository, logger *zap.SugaredLogger) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		exchange: ex,
		selector: selector.New(selector.FromName(cfg.Weighting)),
		executor: executor.New(ex, cfg.RetryCount(), cfg.RetryInitialDelayMs,
			time.Duration(cfg.RequestTimeoutSec)*time.Second, logger),
		guard: risk.NewGuard(repo, risk.Params{
			MaxDrawdown:      cfg.MaxDrawdown,
			ScalingThreshold: cfg.DrawdownScalingThreshold,
			MinScale:         cfg.DrawdownMinScale,
			Recovery:         cfg.DrawdownRecovery,
		}, logger),
		repo:     repo,
		reporter: reporter.New(logger),
		logger:   logger,
		interval: time.Duration(cfg.RebalanceIntervalMinutes) * time.Minute,
	}
	s.state.Store(StateIdle)
	return s
}

// State 返回调度器当前状态
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// LastRun 返回最近一次完成的周期记录, 尚无周期时返回 nil
func (s *Scheduler) LastRun() *models.RebalanceCycleRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Run 以配置的间隔连续运行, 启动后立即执行第一个周期。
// 周期在独立的 goroutine 中执行, 周期耗时超过间隔时,
// 间隔内的 tick 被 trigger 的运行标志当场丢弃, 不会积压到周期结束后补跑。
// ctx 取消后停止触发新周期, 等待在途周期结束再返回。
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.state.Store(StateStopped)
	s.logger.Infof("调度器启动, 周期间隔 %s", s.interval)

	fatal := make(chan error, 1)
	var wg sync.WaitGroup
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.trigger(ctx); err != nil {
				select {
				case fatal <- err:
				default:
				}
			}
		}()
	}

	launch()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("调度器收到停止信号")
			wg.Wait()
			return ctx.Err()
		case err := <-fatal:
			wg.Wait()
			return err
		case <-ticker.C:
			launch()
		}
	}
}

// trigger 尝试触发一个周期, 上一个周期仍在运行时直接丢弃本次触发。
// 返回非空错误仅发生在认证失败时, 调度器应就此停止。
func (s *Scheduler) trigger(ctx context.Context) error {
	if !s.cycleRunning.CompareAndSwap(false, true) {
		s.logger.Warn("上一个周期尚未结束, 丢弃本次触发")
		return nil
	}
	s.state.Store(StateRunning)
	defer func() {
		s.state.Store(StateIdle)
		s.cycleRunning.Store(false)
	}()

	run, fatal := s.runCycle(ctx)
	s.finishRun(run)
	if fatal != nil {
		s.logger.Errorf("致命错误, 调度器停止: %v", fatal)
	}
	return fatal
}

// RunOnce 执行单个周期后返回其审计记录
func (s *Scheduler) RunOnce(ctx context.Context) (*models.RebalanceCycleRun, error) {
	if !s.cycleRunning.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("已有周期在运行")
	}
	s.state.Store(StateRunning)
	defer func() {
		s.state.Store(StateIdle)
		s.cycleRunning.Store(false)
	}()

	run, fatal := s.runCycle(ctx)
	s.finishRun(run)
	if fatal != nil {
		return run, fatal
	}
	if run.Err != "" {
		return run, fmt.Errorf("周期 %s 中止: %s", run.ID, run.Err)
	}
	return run, nil
}

// Validate 只做连通性与凭证校验: ping 加一次需要签名的余额查询, 不产生交易。
// 校验同样作为一条审计记录落库, 审计链里能看到每次启动前的检查结果。
func (s *Scheduler) Validate(ctx context.Context) error {
	run := &models.RebalanceCycleRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Mode:      models.ModeValidate,
	}

	callCtx, cancel := s.callContext(ctx)
	err := s.exchange.Ping(callCtx)
	cancel()
	if err != nil {
		err = fmt.Errorf("连通性检查失败: %w", err)
		s.finishRun(abort(run, err))
		return err
	}

	callCtx, cancel = s.callContext(ctx)
	balances, err := s.exchange.GetBalances(callCtx)
	cancel()
	if err != nil {
		err = fmt.Errorf("凭证校验失败: %w", err)
		s.finishRun(abort(run, err))
		return err
	}

	run.Outcome = models.OutcomeCompleted
	s.finishRun(run)
	s.logger.Infof("校验通过: 账户可访问, 共 %d 项非零余额", len(balances))
	return nil
}

// finishRun 持久化并报告周期结果
func (s *Scheduler) finishRun(run *models.RebalanceCycleRun) {
	run.FinishedAt = time.Now()

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()

	if err := s.repo.SaveCycleRun(run); err != nil {
		s.logger.Errorf("保存周期审计记录失败 %s: %v", run.ID, err)
	}
	s.reporter.CycleSummary(run)
}

// runCycle 执行一个完整的再平衡周期。
// 阶段失败只中止本周期, 调度器继续等待下一次触发;
// 唯一的例外是认证失败, 通过第二个返回值上抛并停止调度器。
func (s *Scheduler) runCycle(ctx context.Context) (*models.RebalanceCycleRun, error) {
	cycleStart := time.Now()
	run := &models.RebalanceCycleRun{
		ID:        uuid.NewString(),
		StartedAt: cycleStart,
		Mode:      models.ModeLive,
	}
	if s.cfg.DryRun {
		run.Mode = models.ModeDryRun
	}
	s.logger.Infof("周期 %s 开始 [%s]", run.ID, run.Mode)

	// 行情快照
	callCtx, cancel := s.callContext(ctx)
	snapshot, err := s.exchange.GetMarketSnapshot(callCtx, exchange.SnapshotFilter{
		QuoteCurrency:  s.cfg.QuoteCurrency,
		LookbackDays:   s.cfg.LookbackDays,
		MinQuoteVolume: s.cfg.LiquidityFloor,
		MaxAssets:      s.cfg.UniverseCap,
	})
	cancel()
	if err != nil {
		return abort(run, fmt.Errorf("获取行情快照失败: %w", err)), nil
	}

	// 目标权重
	targets := s.selector.Select(snapshot, selector.Params{
		TopN:           s.cfg.TopN,
		CashBuffer:     s.cfg.CashBuffer,
		LiquidityFloor: s.cfg.LiquidityFloor,
	})
	run.TargetWeights = targets

	// 账户状态
	callCtx, cancel = s.callContext(ctx)
	balances, err := s.exchange.GetBalances(callCtx)
	cancel()
	if err != nil {
		if exchange.IsAuthError(err) {
			return abort(run, fmt.Errorf("获取账户余额失败: %w", err)), err
		}
		return abort(run, fmt.Errorf("获取账户余额失败: %w", err)), nil
	}

	symbols := s.priceSymbols(balances, targets)
	callCtx, cancel = s.callContext(ctx)
	prices, err := s.exchange.GetPrices(callCtx, symbols)
	cancel()
	if err != nil {
		return abort(run, fmt.Errorf("获取价格失败: %w", err)), nil
	}

	snapshotPf, err := portfolio.Build(balances, prices, s.cfg.QuoteCurrency)
	if err != nil {
		return abort(run, fmt.Errorf("构建组合快照失败: %w", err)), nil
	}
	s.reporter.PortfolioSummary(snapshotPf)

	// 回撤风控
	decision, err := s.guard.Assess(snapshotPf.NAVUSD)
	if err != nil {
		return abort(run, fmt.Errorf("风控状态读取失败: %w", err)), nil
	}
	if decision.Halted {
		return abort(run, fmt.Errorf("回撤 %s 触发熔断, 暂停再平衡", decision.Drawdown.Round(4))), nil
	}
	targets = risk.ScaleWeights(targets, decision.WeightScale)
	run.TargetWeights = targets

	// 偏离分析
	drifts := portfolio.Analyze(targets, snapshotPf, s.cfg.Tolerance)
	run.Drifts = drifts
	if len(drifts) == 0 {
		s.logger.Infof("周期 %s: 组合在容忍带内, 无需交易", run.ID)
		run.Outcome = models.OutcomeNoop
		return run, nil
	}

	// 交易规则与订单计划
	callCtx, cancel = s.callContext(ctx)
	rules, err := s.exchange.GetSymbolRules(callCtx, driftSymbols(drifts))
	cancel()
	if err != nil {
		return abort(run, fmt.Errorf("获取交易规则失败: %w", err)), nil
	}

	intents, skips := planner.Plan(drifts, snapshotPf, prices, rules, cycleStart, planner.Params{
		MinNotional: s.cfg.MinNotional,
		MaxSlippage: s.cfg.MaxSlippage,
		CashBuffer:  s.cfg.CashBuffer,
	})
	run.Intents = intents
	run.PlanSkips = skips
	if len(intents) == 0 {
		s.logger.Infof("周期 %s: 所有偏离都低于可执行门槛", run.ID)
		run.Outcome = models.OutcomeNoop
		return run, nil
	}

	// 执行
	results, execErr := s.executor.Execute(ctx, intents, s.cfg.DryRun)
	run.Results = results
	run.Outcome = outcomeOf(intents, results)
	if execErr != nil {
		run.Err = execErr.Error()
		if run.Outcome == models.OutcomeCompleted {
			run.Outcome = models.OutcomePartial
		}
		if exchange.IsAuthError(execErr) {
			return run, execErr
		}
	}
	return run, nil
}

// callContext 给单次网络调用套上配置的超时
func (s *Scheduler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(s.cfg.RequestTimeoutSec)*time.Second)
}

// priceSymbols 汇总估值需要的全部交易对: 持仓资产加目标资产
func (s *Scheduler) priceSymbols(balances map[string]decimal.Decimal, targets models.TargetWeightMap) []string {
	seen := make(map[string]struct{})
	var symbols []string
	add := func(symbol string) {
		if _, ok := seen[symbol]; !ok {
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	for asset := range balances {
		if asset != s.cfg.QuoteCurrency {
			add(asset + s.cfg.QuoteCurrency)
		}
	}
	for symbol := range targets {
		add(symbol)
	}
	return symbols
}

func driftSymbols(drifts []models.DriftRecord) []string {
	symbols := make([]string, 0, len(drifts))
	for _, d := range drifts {
		symbols = append(symbols, d.Symbol)
	}
	return symbols
}

// outcomeOf 汇总执行结果: 全部成交 (或干跑跳过) 记为完成, 否则记为部分完成
func outcomeOf(intents []models.OrderIntent, results []models.ExecutionResult) models.CycleOutcome {
	if len(results) < len(intents) {
		return models.OutcomePartial
	}
	for _, res := range results {
		if res.Status == models.ExecutionRejected || res.Status == models.ExecutionFailed {
			return models.OutcomePartial
		}
	}
	return models.OutcomeCompleted
}

func abort(run *models.RebalanceCycleRun, err error) *models.RebalanceCycleRun {
	run.Outcome = models.OutcomeAborted
	run.Err = err.Error()
	return run
}
