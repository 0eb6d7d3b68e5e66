package risk

import (
	"time"

	"binance-rebalance-bot-go/internal/audit"
	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Params 是回撤风控参数。MaxDrawdown 为零时整个风控关闭。
type Params struct {
	MaxDrawdown      decimal.Decimal // 熔断阈值, 如 0.25
	ScalingThreshold decimal.Decimal // 开始缩减仓位的回撤, 如 0.10
	MinScale         decimal.Decimal // 缩减下限, 如 0.3
	Recovery         decimal.Decimal // 熔断解除需要回撤缩小到的水平, 如 0.15
}

// Decision 是单个周期的风控裁决
type Decision struct {
	Halted      bool            // 熔断中: 本周期不执行再平衡买入
	WeightScale decimal.Decimal // 目标权重缩放系数, (0,1]
	Drawdown    decimal.Decimal // 当前相对净值高点的回撤
	PeakNAVUSD  decimal.Decimal
}

// Guard 跟踪净值高点并在深度回撤时缩减或熔断再平衡。
// 净值高点跨进程持久化, 重启不会重置回撤计算。
type Guard struct {
	repo   audit.Repository
	params Params
	logger *zap.SugaredLogger
}

// NewGuard 创建回撤风控
func NewGuard(repo audit.Repository, params Params, logger *zap.SugaredLogger) *Guard {
	return &Guard{repo: repo, params: params, logger: logger}
}

var one = decimal.NewFromInt(1)

// Assess 用本周期净值更新高点并给出裁决。
//
// 回撤 = (高点 - 当前净值) / 高点。回撤在 ScalingThreshold 与 MaxDrawdown
// 之间时, 权重系数从 1 线性降到 MinScale; 达到 MaxDrawdown 触发熔断,
// 回撤缩小到 Recovery 以下才解除。熔断状态同样持久化。
func (g *Guard) Assess(navUSD decimal.Decimal) (Decision, error) {
	if g.params.MaxDrawdown.IsZero() {
		return Decision{WeightScale: one, PeakNAVUSD: navUSD}, nil
	}

	state, err := g.repo.LoadRiskState()
	if err != nil {
		return Decision{}, err
	}
	if state == nil {
		state = &models.RiskState{PeakNAVUSD: navUSD}
	}
	if navUSD.GreaterThan(state.PeakNAVUSD) {
		state.PeakNAVUSD = navUSD
	}

	drawdown := decimal.Zero
	if state.PeakNAVUSD.IsPositive() {
		drawdown = state.PeakNAVUSD.Sub(navUSD).Div(state.PeakNAVUSD)
	}

	if state.Halted {
		if drawdown.LessThanOrEqual(g.params.Recovery) {
			state.Halted = false
			g.logger.Infof("回撤恢复到 %s, 熔断解除", drawdown.Round(4))
		}
	} else if drawdown.GreaterThanOrEqual(g.params.MaxDrawdown) {
		state.Halted = true
		g.logger.Warnf("回撤 %s 达到熔断阈值 %s, 暂停再平衡", drawdown.Round(4), g.params.MaxDrawdown)
	}

	state.UpdatedAt = time.Now()
	if err := g.repo.SaveRiskState(state); err != nil {
		return Decision{}, err
	}

	return Decision{
		Halted:      state.Halted,
		WeightScale: g.weightScale(drawdown),
		Drawdown:    drawdown,
		PeakNAVUSD:  state.PeakNAVUSD,
	}, nil
}

// weightScale 计算线性缩放系数
func (g *Guard) weightScale(drawdown decimal.Decimal) decimal.Decimal {
	if drawdown.LessThanOrEqual(g.params.ScalingThreshold) {
		return one
	}
	if drawdown.GreaterThanOrEqual(g.params.MaxDrawdown) {
		return g.params.MinScale
	}
	span := g.params.MaxDrawdown.Sub(g.params.ScalingThreshold)
	if span.IsZero() {
		return g.params.MinScale
	}
	progress := drawdown.Sub(g.params.ScalingThreshold).Div(span)
	return one.Sub(progress.Mul(one.Sub(g.params.MinScale)))
}

// ScaleWeights 把裁决的缩放系数套用到目标权重上, 缩减出来的部分留作现金。
// 系数为 1 时原样返回。
func ScaleWeights(targets models.TargetWeightMap, scale decimal.Decimal) models.TargetWeightMap {
	if scale.Equal(one) {
		return targets
	}
	scaled := make(models.TargetWeightMap, len(targets))
	for symbol, weight := range targets {
		scaled[symbol] = weight.Mul(scale)
	}
	return scaled
}
