package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"

	"binance-rebalance-bot-go/internal/models"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

// SnapshotFilter 限定行情快照的范围。
// MinQuoteVolume/MaxAssets 用于在快照阶段控制K线请求的数量,
// 选币器仍会按自己的流动性门槛再次过滤。
type SnapshotFilter struct {
	QuoteCurrency  string
	LookbackDays   int
	MinQuoteVolume decimal.Decimal
	MaxAssets      int
}

// Exchange 定义了再平衡核心所需的全部交易所能力。
// 实盘、测试夹具实现均满足该接口, 使核心逻辑与传输层解耦。
type Exchange interface {
	// Ping 检查连通性, 用于 VALIDATE 模式
	Ping(ctx context.Context) error
	// GetMarketSnapshot 获取一个周期使用的行情快照
	GetMarketSnapshot(ctx context.Context, filter SnapshotFilter) (*models.MarketSnapshot, error)
	// GetBalances 返回非零余额 (资产 -> 可用数量)
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	// GetPrice 获取单个交易对的最新价格
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetPrices 批量获取最新价格
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	// GetSymbolRules 获取下单精度规则
	GetSymbolRules(ctx context.Context, symbols []string) (map[string]models.SymbolRules, error)
	// PlaceOrder 以幂等键提交订单; 相同 IdempotencyKey 的重复提交
	// 必须被识别为同一订单而不是重复下单
	PlaceOrder(ctx context.Context, intent models.OrderIntent) (*models.OrderAck, error)
	// GetOrderByClientID 按幂等键查询订单, 未找到时返回 (nil, nil)
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*models.OrderAck, error)
}

// MarketDataError 表示行情快照或价格获取失败。
// 该错误中止整个周期, 下一个周期照常调度。
type MarketDataError struct {
	Op  string
	Err error
}

func (e *MarketDataError) Error() string {
	return fmt.Sprintf("行情数据获取失败 (%s): %v", e.Op, e.Err)
}

func (e *MarketDataError) Unwrap() error { return e.Err }

// 币安错误码分类。瞬时错误重试, 认证错误致命, 其余视为永久性拒绝。
var transientCodes = map[int64]bool{
	-1001: true, // DISCONNECTED
	-1003: true, // TOO_MANY_REQUESTS
	-1007: true, // TIMEOUT
	-1021: true, // INVALID_TIMESTAMP (recvWindow之外, 重试通常可恢复)
}

var authCodes = map[int64]bool{
	-1022: true, // INVALID_SIGNATURE
	-2008: true, // BAD_API_ID
	-2014: true, // BAD_API_KEY_FMT
	-2015: true, // REJECTED_MBX_KEY
}

// IsTransient 判断错误是否为可重试的瞬时错误 (超时、限频、网络抖动)
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.Code]
	}
	var modelErr *models.Error
	if errors.As(err, &modelErr) {
		return transientCodes[int64(modelErr.Code)]
	}
	return false
}

// IsAuthError 判断错误是否为认证失败。认证失败是致命错误,
// 调度器收到后进入 STOPPED 状态。
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return authCodes[apiErr.Code]
	}
	var modelErr *models.Error
	if errors.As(err, &modelErr) {
		return authCodes[int64(modelErr.Code)]
	}
	return false
}
