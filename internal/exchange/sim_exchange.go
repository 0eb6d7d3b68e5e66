package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// SimExchange 实现了 Exchange 接口, 用固定的行情与余额模拟交易所行为。
// 它是测试与演练的夹具: 订单按限价立即全部成交, 幂等键重复提交
// 返回首次提交的回执而不是产生第二笔成交。
type SimExchange struct {
	mu sync.Mutex

	QuoteAsset string
	Snapshot   *models.MarketSnapshot
	Balances   map[string]decimal.Decimal
	Prices     map[string]decimal.Decimal
	Rules      map[string]models.SymbolRules

	// 故障注入: 交易对 -> 队列中的错误按次返回, 耗尽后恢复正常
	placeFailures map[string][]error
	SnapshotErr   error
	PingErr       error

	orders      map[string]*models.OrderAck // clientOrderID -> 回执
	Submissions []models.OrderIntent        // 按提交顺序记录的所有实际落地订单
	nextOrderID int64
}

// NewSimExchange 创建一个空的模拟交易所
func NewSimExchange() *SimExchange {
	return &SimExchange{
		QuoteAsset:    "USDT",
		Balances:      make(map[string]decimal.Decimal),
		Prices:        make(map[string]decimal.Decimal),
		Rules:         make(map[string]models.SymbolRules),
		placeFailures: make(map[string][]error),
		orders:        make(map[string]*models.OrderAck),
		nextOrderID:   1,
	}
}

// FailPlaceOrder 注入下单故障, 对该交易对的后续提交依次返回给定错误
func (e *SimExchange) FailPlaceOrder(symbol string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.placeFailures[symbol] = append(e.placeFailures[symbol], errs...)
}

// Ping 检查连通性
func (e *SimExchange) Ping(ctx context.Context) error {
	return e.PingErr
}

// GetMarketSnapshot 返回预置的行情快照
func (e *SimExchange) GetMarketSnapshot(ctx context.Context, filter SnapshotFilter) (*models.MarketSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.SnapshotErr != nil {
		return nil, &MarketDataError{Op: "sim", Err: e.SnapshotErr}
	}
	if e.Snapshot == nil {
		return &models.MarketSnapshot{}, nil
	}
	snapshot := &models.MarketSnapshot{FetchedAt: e.Snapshot.FetchedAt}
	snapshot.Quotes = append(snapshot.Quotes, e.Snapshot.Quotes...)
	return snapshot, nil
}

// GetBalances 返回预置的余额副本
func (e *SimExchange) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	balances := make(map[string]decimal.Decimal, len(e.Balances))
	for asset, qty := range e.Balances {
		if qty.IsPositive() {
			balances[asset] = qty
		}
	}
	return balances, nil
}

// GetPrice 返回预置价格
func (e *SimExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.Prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("模拟交易所无 %s 的价格", symbol)
	}
	return price, nil
}

// GetPrices 批量返回预置价格, 缺失的交易对直接省略
func (e *SimExchange) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if price, ok := e.Prices[s]; ok {
			result[s] = price
		}
	}
	return result, nil
}

// GetSymbolRules 返回预置的精度规则, 未配置的交易对返回零值规则
func (e *SimExchange) GetSymbolRules(ctx context.Context, symbols []string) (map[string]models.SymbolRules, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rules := make(map[string]models.SymbolRules, len(symbols))
	for _, s := range symbols {
		rules[s] = e.Rules[s]
	}
	return rules, nil
}

// PlaceOrder 模拟下单。幂等键已存在时返回原回执, 不产生第二笔成交;
// 否则按限价全部成交并更新余额。
func (e *SimExchange) PlaceOrder(ctx context.Context, intent models.OrderIntent) (*models.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if queue := e.placeFailures[intent.Symbol]; len(queue) > 0 {
		err := queue[0]
		e.placeFailures[intent.Symbol] = queue[1:]
		return nil, err
	}

	if ack, ok := e.orders[intent.IdempotencyKey]; ok {
		return ack, nil
	}

	base := strings.TrimSuffix(intent.Symbol, e.QuoteAsset)
	notional := intent.Quantity.Mul(intent.LimitPrice)
	if intent.Side == models.Buy {
		e.Balances[e.QuoteAsset] = e.Balances[e.QuoteAsset].Sub(notional)
		e.Balances[base] = e.Balances[base].Add(intent.Quantity)
	} else {
		e.Balances[base] = e.Balances[base].Sub(intent.Quantity)
		e.Balances[e.QuoteAsset] = e.Balances[e.QuoteAsset].Add(notional)
	}

	ack := &models.OrderAck{
		OrderID:          e.nextOrderID,
		ClientOrderID:    intent.IdempotencyKey,
		Symbol:           intent.Symbol,
		Side:             intent.Side,
		Status:           "FILLED",
		ExecutedQuantity: intent.Quantity,
		AvgFillPrice:     intent.LimitPrice,
	}
	e.nextOrderID++
	e.orders[intent.IdempotencyKey] = ack
	e.Submissions = append(e.Submissions, intent)
	return ack, nil
}

// GetOrderByClientID 按幂等键查询订单, 未找到时返回 (nil, nil)
func (e *SimExchange) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*models.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ack, ok := e.orders[clientOrderID]; ok {
		return ack, nil
	}
	return nil, nil
}
