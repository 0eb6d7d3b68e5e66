package planner

import (
	"fmt"
	"time"

	"binance-rebalance-bot-go/internal/models"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// Params 是计划器的输入参数, 全部来自不可变配置
type Params struct {
	MinNotional decimal.Decimal
	MaxSlippage decimal.Decimal
	CashBuffer  decimal.Decimal
}

// Plan 把漂移记录转换为可执行的订单意图序列。
//
// 规则:
//   - target > current 为买入, 否则卖出
//   - 金额 = min(|drift_usd|, 可用约束): 卖出不超过持仓市值,
//     买入不超过卖出释放后的可用现金 (扣除现金缓冲)
//   - 数量 = 金额/价格, 向步长【向下】取整 —— 绝不向上, 防止超支或超卖
//   - 取整后金额低于最小下单额 (配置值与交易所 NOTIONAL 规则的较大者)
//     的记录被丢弃, 本周期内不再重试
//   - 限价是最差可接受成交价: 买入为 价格 × (1 + MaxSlippage),
//     卖出为 价格 × (1 - MaxSlippage), 越过限价的执行在提交前被拒绝
//
// 顺序不变量: 所有卖单排在所有买单之前以先释放现金;
// 每侧内部保持漂移金额降序。
// 幂等键在这里生成, 周期时间戳 + 符号 + 方向, 只属于本周期。
func Plan(records []models.DriftRecord, snapshot *models.PortfolioSnapshot, prices map[string]decimal.Decimal, rules map[string]models.SymbolRules, cycleStart time.Time, params Params) ([]models.OrderIntent, []models.PlanSkip) {
	var sells, buys []models.OrderIntent
	var skips []models.PlanSkip

	one := decimal.NewFromInt(1)
	keyPrefix := "reb-" + string(base62.FormatInt(cycleStart.Unix()))

	// 卖单先计划: 释放的现金决定买单的可用额度
	sellProceeds := decimal.Zero
	for _, r := range records {
		if r.DriftUSD.Sign() >= 0 {
			continue
		}
		price, ok := prices[r.Symbol]
		if !ok || !price.IsPositive() {
			skips = append(skips, skip(r.Symbol, models.Sell, decimal.Zero, "无可用价格"))
			continue
		}

		notional := r.DriftUSD.Abs()
		quantity := notional.Div(price)
		if held, ok := snapshot.Positions[r.Symbol]; ok && quantity.GreaterThan(held) {
			quantity = held
		}
		quantity = roundToStep(quantity, rules[r.Symbol].StepSize)
		effective := quantity.Mul(price)
		if effective.LessThan(minNotional(params, rules[r.Symbol])) {
			skips = append(skips, skip(r.Symbol, models.Sell, effective, "金额低于最小下单额"))
			continue
		}

		sellProceeds = sellProceeds.Add(effective)
		sells = append(sells, models.OrderIntent{
			Symbol:         r.Symbol,
			Side:           models.Sell,
			NotionalUSD:    effective,
			Quantity:       quantity,
			ReferencePrice: price,
			LimitPrice:     ceilToStep(price.Mul(one.Sub(params.MaxSlippage)), rules[r.Symbol].TickSize),
			IdempotencyKey: fmt.Sprintf("%s-%s-%s", keyPrefix, r.Symbol, models.Sell),
		})
	}

	// 可花费现金 = 现有现金 + 卖出释放 - 现金缓冲保留额
	reserve := params.CashBuffer.Mul(snapshot.NAVUSD)
	spendable := snapshot.CashUSD.Add(sellProceeds).Sub(reserve)
	if spendable.IsNegative() {
		spendable = decimal.Zero
	}

	for _, r := range records {
		if r.DriftUSD.Sign() <= 0 {
			continue
		}
		price, ok := prices[r.Symbol]
		if !ok || !price.IsPositive() {
			skips = append(skips, skip(r.Symbol, models.Buy, decimal.Zero, "无可用价格"))
			continue
		}

		notional := r.DriftUSD
		if notional.GreaterThan(spendable) {
			notional = spendable
		}
		quantity := roundToStep(notional.Div(price), rules[r.Symbol].StepSize)
		effective := quantity.Mul(price)
		if effective.LessThan(minNotional(params, rules[r.Symbol])) {
			skips = append(skips, skip(r.Symbol, models.Buy, effective, "金额低于最小下单额"))
			continue
		}

		spendable = spendable.Sub(effective)
		buys = append(buys, models.OrderIntent{
			Symbol:         r.Symbol,
			Side:           models.Buy,
			NotionalUSD:    effective,
			Quantity:       quantity,
			ReferencePrice: price,
			LimitPrice:     roundToStep(price.Mul(one.Add(params.MaxSlippage)), rules[r.Symbol].TickSize),
			IdempotencyKey: fmt.Sprintf("%s-%s-%s", keyPrefix, r.Symbol, models.Buy),
		})
	}

	return append(sells, buys...), skips
}

// minNotional 取配置下限与交易所 NOTIONAL 规则中的较大者
func minNotional(params Params, rules models.SymbolRules) decimal.Decimal {
	if rules.MinNotional.GreaterThan(params.MinNotional) {
		return rules.MinNotional
	}
	return params.MinNotional
}

func skip(symbol string, side models.Side, notional decimal.Decimal, reason string) models.PlanSkip {
	return models.PlanSkip{Symbol: symbol, Side: side, NotionalUSD: notional, Reason: reason}
}

// roundToStep 把数值向零取整到给定步长。步长为零时保守截断到8位小数。
func roundToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value.Truncate(8)
	}
	return value.Div(step).Floor().Mul(step)
}

// ceilToStep 把数值向上取整到给定步长, 用于卖出限价, 保证取整后仍不低于滑点下界
func ceilToStep(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Ceil().Mul(step)
}
