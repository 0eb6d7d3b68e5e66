package reporter

import (
	"sort"

	"binance-rebalance-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// Reporter 把周期结果渲染成可读的表格并写入日志
type Reporter struct {
	logger *zap.SugaredLogger
}

// New 创建报告器
func New(logger *zap.SugaredLogger) *Reporter {
	return &Reporter{logger: logger}
}

// PortfolioSummary 打印当前组合的持仓与权重概览
func (r *Reporter) PortfolioSummary(snapshot *models.PortfolioSnapshot) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("当前组合")
	t.AppendHeader(table.Row{"交易对", "数量", "市值 (USD)", "权重"})

	symbols := make([]string, 0, len(snapshot.Positions))
	for symbol := range snapshot.Positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		weight := snapshot.CurrentWeights[symbol]
		t.AppendRow(table.Row{
			symbol,
			snapshot.Positions[symbol].String(),
			weight.Mul(snapshot.NAVUSD).Round(2).String(),
			weight.Round(4).String(),
		})
	}
	t.AppendFooter(table.Row{"现金", "", snapshot.CashUSD.Round(2).String(), ""})
	t.AppendFooter(table.Row{"净值", "", snapshot.NAVUSD.Round(2).String(), "1.0000"})

	r.logger.Infof("组合概览:\n%s", t.Render())
}

// CycleSummary 打印一次再平衡周期的目标权重、偏离与执行明细
func (r *Reporter) CycleSummary(run *models.RebalanceCycleRun) {
	r.logger.Infof("周期 %s [%s] 结果: %s, 目标 %d 个, 偏离 %d 个, 订单 %d 笔",
		run.ID, run.Mode, run.Outcome, len(run.TargetWeights), len(run.Drifts), len(run.Intents))

	if len(run.Drifts) > 0 {
		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.SetTitle("权重偏离")
		t.AppendHeader(table.Row{"交易对", "目标权重", "当前权重", "偏离金额 (USD)"})
		for _, d := range run.Drifts {
			t.AppendRow(table.Row{
				d.Symbol,
				d.TargetWeight.Round(4).String(),
				d.CurrentWeight.Round(4).String(),
				d.DriftUSD.Round(2).String(),
			})
		}
		r.logger.Infof("偏离明细:\n%s", t.Render())
	}

	for _, skip := range run.PlanSkips {
		r.logger.Infof("跳过 %s %s (金额 %s): %s",
			skip.Side, skip.Symbol, skip.NotionalUSD.Round(2), skip.Reason)
	}

	if len(run.Results) > 0 {
		t := table.NewWriter()
		t.SetStyle(table.StyleLight)
		t.SetTitle("执行结果")
		t.AppendHeader(table.Row{"交易对", "方向", "状态", "成交数量", "成交均价", "备注"})
		for _, res := range run.Results {
			t.AppendRow(table.Row{
				res.Intent.Symbol,
				res.Intent.Side,
				res.Status,
				res.FilledQuantity.String(),
				res.FilledPrice.String(),
				res.Reason,
			})
		}
		r.logger.Infof("执行明细:\n%s", t.Render())
	}

	if run.Err != "" {
		r.logger.Warnf("周期 %s 异常: %s", run.ID, run.Err)
	}
}
