package portfolio

import (
	"fmt"

	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// PriceMissingError 表示持有非零仓位的资产缺少实时价格。
// NAV 无法计算时整个周期必须中止, 绝不把仓位按零价值处理。
type PriceMissingError struct {
	Symbol string
}

func (e *PriceMissingError) Error() string {
	return fmt.Sprintf("持仓 %s 缺少实时价格, 无法计算NAV", e.Symbol)
}

// Build 把账户余额与实时价格聚合为组合状态。纯聚合, 无副作用。
// balances 以资产计 (如 "BTC"), 价格与权重以交易对计 (如 "BTCUSDT"),
// quoteCurrency 的余额即为现金。
func Build(balances map[string]decimal.Decimal, prices map[string]decimal.Decimal, quoteCurrency string) (*models.PortfolioSnapshot, error) {
	snapshot := &models.PortfolioSnapshot{
		CashUSD:        balances[quoteCurrency],
		Positions:      make(map[string]decimal.Decimal),
		CurrentWeights: make(map[string]decimal.Decimal),
	}

	nav := snapshot.CashUSD
	values := make(map[string]decimal.Decimal)
	for asset, qty := range balances {
		if asset == quoteCurrency || !qty.IsPositive() {
			continue
		}
		symbol := asset + quoteCurrency
		price, ok := prices[symbol]
		if !ok || !price.IsPositive() {
			return nil, &PriceMissingError{Symbol: symbol}
		}
		value := qty.Mul(price)
		snapshot.Positions[symbol] = qty
		values[symbol] = value
		nav = nav.Add(value)
	}

	snapshot.NAVUSD = nav
	if nav.IsPositive() {
		for symbol, value := range values {
			snapshot.CurrentWeights[symbol] = value.Div(nav)
		}
	}
	return snapshot, nil
}
