package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"binance-rebalance-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 每个交易对的回看价都需要一次K线请求, 用限流器避免触发 -1003
const klineRequestsPerSecond = 10

// LiveExchange 基于币安现货 REST API 实现 Exchange 接口。
// 下单走限价 IOC, 限价由计划器按滑点上限推导, 未成交部分自动作废。
type LiveExchange struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewLiveExchange 创建一个新的 LiveExchange 实例
func NewLiveExchange(apiKey, secretKey, baseURL string, isTestnet bool, logger *zap.Logger) *LiveExchange {
	binance.UseTestnet = isTestnet
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &LiveExchange{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(klineRequestsPerSecond), 1),
		logger:  logger,
	}
}

// Ping 检查与币安的连通性
func (e *LiveExchange) Ping(ctx context.Context) error {
	return e.client.NewPingService().Do(ctx)
}

// GetMarketSnapshot 获取一个周期的行情快照。
// 先用24小时行情按计价货币和成交额做粗筛, 再逐个拉取日K线得到回看价。
// K线不足回看窗口的交易对 (新上市) 会被跳过。
func (e *LiveExchange) GetMarketSnapshot(ctx context.Context, filter SnapshotFilter) (*models.MarketSnapshot, error) {
	stats, err := e.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, &MarketDataError{Op: "ticker24h", Err: err}
	}

	type candidate struct {
		symbol string
		price  decimal.Decimal
		volume decimal.Decimal
	}
	var candidates []candidate
	for _, s := range stats {
		if !strings.HasSuffix(s.Symbol, filter.QuoteCurrency) {
			continue
		}
		price, err1 := decimal.NewFromString(s.LastPrice)
		volume, err2 := decimal.NewFromString(s.QuoteVolume)
		if err1 != nil || err2 != nil || price.IsZero() {
			continue
		}
		if volume.LessThan(filter.MinQuoteVolume) {
			continue
		}
		candidates = append(candidates, candidate{symbol: s.Symbol, price: price, volume: volume})
	}

	// 成交额降序, 同额按符号名升序保证确定性
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].volume.Equal(candidates[j].volume) {
			return candidates[i].volume.GreaterThan(candidates[j].volume)
		}
		return candidates[i].symbol < candidates[j].symbol
	})
	if filter.MaxAssets > 0 && len(candidates) > filter.MaxAssets {
		candidates = candidates[:filter.MaxAssets]
	}

	snapshot := &models.MarketSnapshot{FetchedAt: time.Now()}
	for _, c := range candidates {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, &MarketDataError{Op: "klines", Err: err}
		}
		lookback, err := e.lookbackClose(ctx, c.symbol, filter.LookbackDays)
		if err != nil {
			var apiErr *common.APIError
			if errors.As(err, &apiErr) && !transientCodes[apiErr.Code] {
				// 个别交易对的K线问题不拖垮整个快照
				e.logger.Warn("跳过无法获取K线的交易对",
					zap.String("symbol", c.symbol), zap.Error(err))
				continue
			}
			return nil, &MarketDataError{Op: "klines", Err: err}
		}
		if lookback.IsZero() {
			continue // 历史不足回看窗口
		}
		snapshot.Quotes = append(snapshot.Quotes, models.AssetQuote{
			Symbol:        c.symbol,
			Base:          strings.TrimSuffix(c.symbol, filter.QuoteCurrency),
			QuoteCurrency: filter.QuoteCurrency,
			Price:         c.price,
			Volume24hUSD:  c.volume,
			PriceLookback: lookback,
		})
	}

	e.logger.Info("行情快照获取完成",
		zap.Int("candidates", len(candidates)),
		zap.Int("quotes", len(snapshot.Quotes)))
	return snapshot, nil
}

// lookbackClose 返回 lookbackDays 天前那根日K线的收盘价。
// 历史不足时返回零值, 由调用方跳过该交易对。
func (e *LiveExchange) lookbackClose(ctx context.Context, symbol string, lookbackDays int) (decimal.Decimal, error) {
	klines, err := e.client.NewKlinesService().
		Symbol(symbol).
		Interval("1d").
		Limit(lookbackDays + 1).
		Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(klines) < lookbackDays+1 {
		return decimal.Zero, nil
	}
	// K线按时间升序返回, 最后一根是未收盘的当日K线
	return decimal.NewFromString(klines[len(klines)-1-lookbackDays].Close)
}

// GetBalances 返回账户中所有非零可用余额
func (e *LiveExchange) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal)
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("解析余额失败 %s: %w", b.Asset, err)
		}
		if free.IsPositive() {
			balances[b.Asset] = free
		}
	}
	return balances, nil
}

// GetPrice 获取单个交易对的最新价格
func (e *LiveExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("交易所未返回 %s 的价格", symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}

// GetPrices 批量获取最新价格
func (e *LiveExchange) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	prices, err := e.client.NewListPricesService().Symbols(symbols).Do(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("解析价格失败 %s: %w", p.Symbol, err)
		}
		result[p.Symbol] = price
	}
	return result, nil
}

// GetSymbolRules 获取交易对的下单精度规则 (LOT_SIZE / PRICE_FILTER)
func (e *LiveExchange) GetSymbolRules(ctx context.Context, symbols []string) (map[string]models.SymbolRules, error) {
	if len(symbols) == 0 {
		return map[string]models.SymbolRules{}, nil
	}
	info, err := e.client.NewExchangeInfoService().Symbols(symbols...).Do(ctx)
	if err != nil {
		return nil, err
	}

	rules := make(map[string]models.SymbolRules, len(info.Symbols))
	for _, s := range info.Symbols {
		var r models.SymbolRules
		if f := s.LotSizeFilter(); f != nil {
			if step, err := decimal.NewFromString(f.StepSize); err == nil {
				r.StepSize = step
			}
		}
		if f := s.PriceFilter(); f != nil {
			if tick, err := decimal.NewFromString(f.TickSize); err == nil {
				r.TickSize = tick
			}
		}
		if f := s.NotionalFilter(); f != nil {
			if minNotional, err := decimal.NewFromString(f.MinNotional); err == nil {
				r.MinNotional = minNotional
			}
		}
		rules[s.Symbol] = r
	}
	return rules, nil
}

// PlaceOrder 以限价 IOC 提交订单, 幂等键作为 clientOrderId。
// 限价本身给出了滑点上限, 未成交部分由交易所直接作废。
func (e *LiveExchange) PlaceOrder(ctx context.Context, intent models.OrderIntent) (*models.OrderAck, error) {
	resp, err := e.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(binance.SideType(intent.Side)).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeIOC).
		Quantity(intent.Quantity.String()).
		Price(intent.LimitPrice.String()).
		NewClientOrderID(intent.IdempotencyKey).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	executed, _ := decimal.NewFromString(resp.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	return &models.OrderAck{
		OrderID:          resp.OrderID,
		ClientOrderID:    resp.ClientOrderID,
		Symbol:           resp.Symbol,
		Side:             models.Side(resp.Side),
		Status:           string(resp.Status),
		ExecutedQuantity: executed,
		AvgFillPrice:     avgFillPrice(cumQuote, executed),
	}, nil
}

// GetOrderByClientID 按幂等键查询订单。订单不存在时返回 (nil, nil),
// 调用方据此判断此前的超时提交是否已经落地。
func (e *LiveExchange) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*models.OrderAck, error) {
	order, err := e.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2013 { // Order does not exist
			return nil, nil
		}
		return nil, err
	}

	executed, _ := decimal.NewFromString(order.ExecutedQuantity)
	cumQuote, _ := decimal.NewFromString(order.CummulativeQuoteQuantity)
	return &models.OrderAck{
		OrderID:          order.OrderID,
		ClientOrderID:    order.ClientOrderID,
		Symbol:           order.Symbol,
		Side:             models.Side(order.Side),
		Status:           string(order.Status),
		ExecutedQuantity: executed,
		AvgFillPrice:     avgFillPrice(cumQuote, executed),
	}, nil
}

func avgFillPrice(cumQuote, executed decimal.Decimal) decimal.Decimal {
	if executed.IsZero() {
		return decimal.Zero
	}
	return cumQuote.Div(executed)
}
