package portfolio

import (
	"sort"

	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Analyze 对比目标权重与当前权重, 产出需要纠正的漂移记录。
//
// 产出规则: |target - current| > tolerance 时产出; 此外完整建仓
// (target>0, current=0) 与完整清仓 (target=0, current>0) 无视容忍带
// 必须产出 —— 被移出目标集合的资产若因容忍带一直留着仓位是不可接受的。
//
// 排序: 按 |drift_usd| 降序, 同值按符号名升序。金额最大的纠正排在
// 最前面, 周期若在执行中途被打断, 影响最大的再平衡已经完成。
func Analyze(targets models.TargetWeightMap, snapshot *models.PortfolioSnapshot, tolerance decimal.Decimal) []models.DriftRecord {
	symbols := make(map[string]bool, len(targets)+len(snapshot.CurrentWeights))
	for s := range targets {
		symbols[s] = true
	}
	for s := range snapshot.CurrentWeights {
		symbols[s] = true
	}

	var records []models.DriftRecord
	for symbol := range symbols {
		target := targets[symbol]
		current := snapshot.CurrentWeights[symbol]
		diff := target.Sub(current)

		entering := target.IsPositive() && current.IsZero()
		exiting := target.IsZero() && current.IsPositive()
		if diff.Abs().LessThanOrEqual(tolerance) && !entering && !exiting {
			continue
		}

		records = append(records, models.DriftRecord{
			Symbol:        symbol,
			TargetWeight:  target,
			CurrentWeight: current,
			DriftUSD:      diff.Mul(snapshot.NAVUSD),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		abs1, abs2 := records[i].DriftUSD.Abs(), records[j].DriftUSD.Abs()
		if !abs1.Equal(abs2) {
			return abs1.GreaterThan(abs2)
		}
		return records[i].Symbol < records[j].Symbol
	})
	return records
}
