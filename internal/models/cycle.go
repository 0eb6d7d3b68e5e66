package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// TargetWeightMap 是选币器输出的目标权重表 (交易对 -> 权重)。
// 未出现的交易对的目标权重隐式为零；权重之和 ≤ 1 - cash_buffer。
type TargetWeightMap map[string]decimal.Decimal

// Sum 返回所有目标权重之和
func (m TargetWeightMap) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, w := range m {
		total = total.Add(w)
	}
	return total
}

// DriftRecord 记录单个资产的目标与当前权重之差。
// 每个周期重新计算，绝不跨周期保留。
type DriftRecord struct {
	Symbol        string          `json:"symbol"`
	TargetWeight  decimal.Decimal `json:"target_weight"`
	CurrentWeight decimal.Decimal `json:"current_weight"`
	DriftUSD      decimal.Decimal `json:"drift_usd"` // (target - current) × NAV, 带符号
}

// OrderIntent 是计划器产出的一笔待执行交易。
// 它只属于创建它的那个周期，幂等键在周期内唯一。
type OrderIntent struct {
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	NotionalUSD    decimal.Decimal `json:"notional_usd"`    // 订单金额 (计价货币)
	Quantity       decimal.Decimal `json:"quantity"`        // 向下取整到步长后的数量
	ReferencePrice decimal.Decimal `json:"reference_price"` // 计划时使用的快照价格
	LimitPrice     decimal.Decimal `json:"limit_price"`     // 滑点约束下的限价
	IdempotencyKey string          `json:"idempotency_key"` // 提交给交易所的 clientOrderId
}

// OrderAck 是交易所对一次下单请求的回执
type OrderAck struct {
	OrderID          int64           `json:"order_id"`
	ClientOrderID    string          `json:"client_order_id"`
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	Status           string          `json:"status"` // 交易所订单状态, e.g., "FILLED"
	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
	AvgFillPrice     decimal.Decimal `json:"avg_fill_price"`
}

// ExecutionStatus 定义了单笔订单意图的最终执行状态
type ExecutionStatus string

const (
	ExecutionFilled   ExecutionStatus = "FILLED"   // 已成交 (含部分成交)
	ExecutionRejected ExecutionStatus = "REJECTED" // 被永久性错误拒绝, 未重试
	ExecutionFailed   ExecutionStatus = "FAILED"   // 瞬时错误重试耗尽
	ExecutionSkipped  ExecutionStatus = "SKIPPED"  // 干跑模式, 未发出网络请求
)

// ExecutionResult 记录一笔订单意图的执行结果
type ExecutionResult struct {
	Intent         OrderIntent     `json:"intent"`
	Status         ExecutionStatus `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	OrderID        int64           `json:"order_id,omitempty"`
	Reason         string          `json:"reason,omitempty"` // 被拒绝/失败时的原因, 用于审计
	Timestamp      time.Time       `json:"timestamp"`
}

// PlanSkip 记录一条在计划阶段就被丢弃的漂移 (金额过小、缺价格等),
// 留在审计记录里以便事后重建每笔交易被跳过的原因
type PlanSkip struct {
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	NotionalUSD decimal.Decimal `json:"notional_usd"`
	Reason      string          `json:"reason"`
}

// CycleMode 定义了一个周期的运行模式
type CycleMode string

const (
	ModeLive     CycleMode = "LIVE"
	ModeDryRun   CycleMode = "DRY_RUN"
	ModeValidate CycleMode = "VALIDATE"
)

// CycleOutcome 定义了一个周期的最终结果
type CycleOutcome string

const (
	OutcomeCompleted CycleOutcome = "COMPLETED" // 全部订单意图执行完毕
	OutcomePartial   CycleOutcome = "PARTIAL"   // 部分订单失败或被拒绝
	OutcomeAborted   CycleOutcome = "ABORTED"   // 周期在执行前被中止 (行情/NAV不可用或回撤保护)
	OutcomeNoop      CycleOutcome = "NOOP"      // 组合已在容忍带内, 无需交易
)

// RebalanceCycleRun 是一个周期的完整审计记录, 只追加, 由调度器持有。
// 除该记录和调度器的运行标志外, 任何实体都不跨周期保留。
type RebalanceCycleRun struct {
	ID            string            `json:"id"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Mode          CycleMode         `json:"mode"`
	TargetWeights TargetWeightMap   `json:"target_weights,omitempty"`
	Drifts        []DriftRecord     `json:"drifts,omitempty"`
	Intents       []OrderIntent     `json:"intents,omitempty"`
	PlanSkips     []PlanSkip        `json:"plan_skips,omitempty"`
	Results       []ExecutionResult `json:"results,omitempty"`
	Outcome       CycleOutcome      `json:"outcome"`
	Err           string            `json:"error,omitempty"` // 周期级错误信息 (中止原因)
}
