package executor

import (
	"context"
	"fmt"
	"time"

	"binance-rebalance-bot-go/internal/exchange"
	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SlippageExceededError 表示提交前的实时价格已越过订单意图的限价,
// 该意图被直接拒绝而不是悄悄缩水。
type SlippageExceededError struct {
	Symbol string
	Limit  decimal.Decimal
	Live   decimal.Decimal
}

func (e *SlippageExceededError) Error() string {
	return fmt.Sprintf("滑点超限 %s: 实时价 %s 已越过限价 %s", e.Symbol, e.Live, e.Limit)
}

// Coordinator 按计划器给定的顺序逐笔提交订单意图。
//
// 周期内严格串行提交 —— 不并发下单, 限制部分成交相互作用的最坏情况,
// 也让幂等键空间保持简单。取消信号只在两次提交之间生效,
// 在途订单总是允许完成或失败。
type Coordinator struct {
	exchange          exchange.Exchange
	retryAttempts     int
	retryInitialDelay time.Duration
	requestTimeout    time.Duration
	logger            *zap.SugaredLogger
}

// New 创建执行协调器。requestTimeout 限制每一次交易所调用,
// 外层 ctx 只负责提交间隙的取消, 挂死的对端不能卡住整个周期。
func New(ex exchange.Exchange, retryAttempts, retryInitialDelayMs int, requestTimeout time.Duration, logger *zap.SugaredLogger) *Coordinator {
	if retryAttempts < 0 {
		retryAttempts = 0
	}
	if retryInitialDelayMs <= 0 {
		retryInitialDelayMs = 500
	}
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	return &Coordinator{
		exchange:          ex,
		retryAttempts:     retryAttempts,
		retryInitialDelay: time.Duration(retryInitialDelayMs) * time.Millisecond,
		requestTimeout:    requestTimeout,
		logger:            logger,
	}
}

// Execute 顺序执行所有订单意图并返回每笔的执行结果。
//
// 错误收容策略:
//   - 瞬时错误 (超时/限频) 指数退避重试, 耗尽后标记 FAILED, 继续下一笔
//   - 永久错误 (余额不足/无效下单) 立即标记 REJECTED, 不重试, 继续下一笔
//   - 认证错误是唯一逃逸到调度器的错误, 剩余意图不再提交
//
// 干跑模式不发出任何网络请求, 每笔意图记录为 SKIPPED 并附带拟执行的数量价格。
func (c *Coordinator) Execute(ctx context.Context, intents []models.OrderIntent, dryRun bool) ([]models.ExecutionResult, error) {
	results := make([]models.ExecutionResult, 0, len(intents))

	for _, intent := range intents {
		// 取消只在提交间隙生效
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if dryRun {
			c.logger.Infof("[干跑] %s %s 数量 %s @ 限价 %s (金额 %s)",
				intent.Side, intent.Symbol, intent.Quantity, intent.LimitPrice, intent.NotionalUSD)
			results = append(results, models.ExecutionResult{
				Intent:         intent,
				Status:         models.ExecutionSkipped,
				FilledQuantity: intent.Quantity,
				FilledPrice:    intent.ReferencePrice,
				Reason:         "dry_run",
				Timestamp:      time.Now(),
			})
			continue
		}

		result, err := c.submitWithRetry(ctx, intent)
		results = append(results, result)
		if err != nil {
			// 认证失败无法靠重试或跳过恢复, 中止剩余计划
			return results, err
		}
	}
	return results, nil
}

// submitWithRetry 提交单笔意图。第二个返回值仅在致命错误时非空。
func (c *Coordinator) submitWithRetry(ctx context.Context, intent models.OrderIntent) (models.ExecutionResult, error) {
	// 提交前滑点校验: 实时价已越过限价的意图不值得发给交易所。
	// 价格获取失败时跳过校验, 由限价单本身兜底。
	if live, err := c.getPrice(ctx, intent.Symbol); err == nil {
		crossed := (intent.Side == models.Buy && live.GreaterThan(intent.LimitPrice)) ||
			(intent.Side == models.Sell && live.LessThan(intent.LimitPrice))
		if crossed {
			slipErr := &SlippageExceededError{Symbol: intent.Symbol, Limit: intent.LimitPrice, Live: live}
			c.logger.Warnf("拒绝订单: %v", slipErr)
			return rejected(intent, slipErr.Error()), nil
		}
	}

	delay := c.retryInitialDelay
	var lastErr error

	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warnf("第 %d 次重试 %s %s (幂等键 %s): %v",
				attempt, intent.Side, intent.Symbol, intent.IdempotencyKey, lastErr)
			if err := sleepCtx(ctx, delay); err != nil {
				return failed(intent, lastErr), nil
			}
			delay *= 2
		}

		ack, err := c.placeOrder(ctx, intent)
		if err == nil {
			return fromAck(intent, ack), nil
		}

		if exchange.IsAuthError(err) {
			return failed(intent, err), err
		}
		if !exchange.IsTransient(err) {
			c.logger.Warnf("订单被拒绝 %s %s: %v", intent.Side, intent.Symbol, err)
			return rejected(intent, err.Error()), nil
		}

		lastErr = err
		// 超时后的提交可能已经落地: 用幂等键回查,
		// 查到即视为同一订单, 不再重复提交
		if ack, qerr := c.queryOrder(ctx, intent.Symbol, intent.IdempotencyKey); qerr == nil && ack != nil {
			c.logger.Infof("超时的提交已落地 %s (orderId=%d)", intent.IdempotencyKey, ack.OrderID)
			return fromAck(intent, ack), nil
		}
	}

	c.logger.Errorf("重试耗尽, 标记失败 %s %s: %v", intent.Side, intent.Symbol, lastErr)
	return failed(intent, lastErr), nil
}

// 每次交易所调用都套上独立的超时, go-binance 默认的 http.Client 没有超时

func (c *Coordinator) getPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.exchange.GetPrice(callCtx, symbol)
}

func (c *Coordinator) placeOrder(ctx context.Context, intent models.OrderIntent) (*models.OrderAck, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.exchange.PlaceOrder(callCtx, intent)
}

func (c *Coordinator) queryOrder(ctx context.Context, symbol, clientID string) (*models.OrderAck, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	return c.exchange.GetOrderByClientID(callCtx, symbol, clientID)
}

// fromAck 把交易所回执转换为执行结果。IOC 限价单零成交视为失败。
func fromAck(intent models.OrderIntent, ack *models.OrderAck) models.ExecutionResult {
	result := models.ExecutionResult{
		Intent:    intent,
		OrderID:   ack.OrderID,
		Timestamp: time.Now(),
	}
	if ack.ExecutedQuantity.IsPositive() {
		result.Status = models.ExecutionFilled
		result.FilledQuantity = ack.ExecutedQuantity
		result.FilledPrice = ack.AvgFillPrice
	} else {
		result.Status = models.ExecutionFailed
		result.Reason = fmt.Sprintf("订单未成交 (状态 %s)", ack.Status)
	}
	return result
}

func rejected(intent models.OrderIntent, reason string) models.ExecutionResult {
	return models.ExecutionResult{
		Intent:    intent,
		Status:    models.ExecutionRejected,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func failed(intent models.OrderIntent, err error) models.ExecutionResult {
	reason := "重试耗尽"
	if err != nil {
		reason = err.Error()
	}
	return models.ExecutionResult{
		Intent:    intent,
		Status:    models.ExecutionFailed,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
