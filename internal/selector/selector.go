package selector

import (
	"sort"

	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Params 是选币器的输入参数, 全部来自不可变配置
type Params struct {
	TopN           int
	CashBuffer     decimal.Decimal
	LiquidityFloor decimal.Decimal
}

// ScoredAsset 是通过流动性过滤并完成打分的候选资产
type ScoredAsset struct {
	Symbol string
	Score  decimal.Decimal
}

// Weighting 决定得分如何转换为目标权重。
// 打分公式固定 (成交额 × 动量), 但从得分到权重的映射是可插拔的策略。
type Weighting interface {
	// Distribute 把可分配比例 allocatable 按策略分给候选资产。
	// 输入按得分降序排列, 输出权重之和等于 allocatable。
	Distribute(picks []ScoredAsset, allocatable decimal.Decimal) models.TargetWeightMap
}

// Selector 把行情快照转换为目标权重表。
// 纯函数: 相同快照与参数必然产生逐位相同的结果。
type Selector struct {
	weighting Weighting
}

// New 创建一个使用给定权重策略的选币器
func New(weighting Weighting) *Selector {
	return &Selector{weighting: weighting}
}

// Select 执行选币:
//  1. 过滤24小时成交额低于流动性门槛的资产
//  2. 动量 = (现价 - 回看价) / 回看价, 得分 = 成交额 × 动量
//  3. 按得分降序排序, 同分按符号名升序 (确定性要求)
//  4. 取前 TopN 个, 再剔除得分非正的资产
//  5. 幸存集合为空时返回空表 (100% 现金)
//  6. 按权重策略把 (1 - CashBuffer) 分配给幸存资产
func (s *Selector) Select(snapshot *models.MarketSnapshot, params Params) models.TargetWeightMap {
	var scored []ScoredAsset
	for _, q := range snapshot.Quotes {
		if q.Volume24hUSD.LessThan(params.LiquidityFloor) {
			continue
		}
		if !q.PriceLookback.IsPositive() {
			continue
		}
		momentum := q.Price.Sub(q.PriceLookback).Div(q.PriceLookback)
		scored = append(scored, ScoredAsset{
			Symbol: q.Symbol,
			Score:  q.Volume24hUSD.Mul(momentum),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if !scored[i].Score.Equal(scored[j].Score) {
			return scored[i].Score.GreaterThan(scored[j].Score)
		}
		return scored[i].Symbol < scored[j].Symbol
	})

	if len(scored) > params.TopN {
		scored = scored[:params.TopN]
	}

	// 得分非正说明资产横盘或下跌, 即使排进前N也不持有
	picks := scored[:0]
	for _, a := range scored {
		if a.Score.IsPositive() {
			picks = append(picks, a)
		}
	}
	if len(picks) == 0 {
		return models.TargetWeightMap{}
	}

	allocatable := decimal.NewFromInt(1).Sub(params.CashBuffer)
	return s.weighting.Distribute(picks, allocatable)
}

// ProportionalWeighting 按得分占比分配权重: weight = score/Σscore × allocatable
type ProportionalWeighting struct{}

// Distribute 实现 Weighting 接口
func (ProportionalWeighting) Distribute(picks []ScoredAsset, allocatable decimal.Decimal) models.TargetWeightMap {
	total := decimal.Zero
	for _, a := range picks {
		total = total.Add(a.Score)
	}
	weights := make(models.TargetWeightMap, len(picks))
	for _, a := range picks {
		weights[a.Symbol] = a.Score.Div(total).Mul(allocatable)
	}
	return weights
}

// RankWeighting 按名次分配权重, 第i名 (从0起) 得 (n-i)/Σ(1..n) × allocatable。
// 相比按得分占比, 它对极端得分不敏感。
type RankWeighting struct{}

// Distribute 实现 Weighting 接口
func (RankWeighting) Distribute(picks []ScoredAsset, allocatable decimal.Decimal) models.TargetWeightMap {
	n := int64(len(picks))
	denominator := decimal.NewFromInt(n * (n + 1) / 2)
	weights := make(models.TargetWeightMap, len(picks))
	for i, a := range picks {
		numerator := decimal.NewFromInt(n - int64(i))
		weights[a.Symbol] = numerator.Div(denominator).Mul(allocatable)
	}
	return weights
}

// FromName 按配置名返回权重策略, 未知名字回落到按得分占比
func FromName(name string) Weighting {
	if name == "rank" {
		return RankWeighting{}
	}
	return ProportionalWeighting{}
}
