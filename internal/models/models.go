package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config 结构体定义了再平衡机器人的所有配置参数
type Config struct {
	IsTestnet bool   `json:"is_testnet"` // 是否使用测试网
	DBPath    string `json:"db_path"`    // 审计数据库文件路径
	BaseURL   string `json:"base_url,omitempty"`

	QuoteCurrency string `json:"quote_currency"` // 计价货币, 如 "USDT"

	// 选币参数
	TopN           int             `json:"top_n"`                  // 每个周期最多选择的资产数量
	CashBuffer     decimal.Decimal `json:"cash_buffer"`            // 保留为现金的 NAV 比例
	LiquidityFloor decimal.Decimal `json:"liquidity_floor"`        // 入选所需的最小24小时成交额 (USD)
	LookbackDays   int             `json:"lookback_days"`          // 动量信号的回看天数
	UniverseCap    int             `json:"universe_cap,omitempty"` // 快照包含的最大候选数量 (限制K线请求数)
	Weighting      string          `json:"weighting,omitempty"`    // 权重分配方式: "proportional" 或 "rank"

	// 再平衡参数
	Tolerance                decimal.Decimal `json:"tolerance"`                  // 单资产漂移容忍带
	MinNotional              decimal.Decimal `json:"min_notional"`               // 最小下单金额 (USD)
	MaxSlippage              decimal.Decimal `json:"max_slippage"`               // 允许的最大滑点比例
	RebalanceIntervalMinutes int             `json:"rebalance_interval_minutes"` // 周期间隔 (分钟)
	DryRun                   bool            `json:"dry_run"`                    // 干跑模式下不提交真实订单

	// 回撤控制参数 (MaxDrawdown 为 0 表示关闭)
	MaxDrawdown              decimal.Decimal `json:"max_drawdown,omitempty"`               // 超过该回撤后暂停交易
	DrawdownScalingThreshold decimal.Decimal `json:"drawdown_scaling_threshold,omitempty"` // 开始缩减仓位的回撤水平
	DrawdownMinScale         decimal.Decimal `json:"drawdown_min_scale,omitempty"`         // 仓位缩减系数的下限
	DrawdownRecovery         decimal.Decimal `json:"drawdown_recovery,omitempty"`          // 恢复正常交易所需的净值/峰值比例

	// 执行参数
	RetryAttempts       *int      `json:"retry_attempts"`         // 下单失败时的重试次数, 显式 0 表示不重试, 缺省为 3
	RetryInitialDelayMs int       `json:"retry_initial_delay_ms"` // 重试前的初始延迟毫秒数
	RequestTimeoutSec   int       `json:"request_timeout_sec"`    // 单次网络请求的超时秒数
	LogConfig           LogConfig `json:"log"`                    // 日志配置
}

// RetryCount 返回下单失败时的重试次数。
// 未配置时默认重试 3 次, 显式配置为 0 则不重试。
func (c *Config) RetryCount() int {
	if c.RetryAttempts == nil {
		return 3
	}
	return *c.RetryAttempts
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// AssetQuote 描述快照中单个交易对的行情
type AssetQuote struct {
	Symbol        string          `json:"symbol"`         // 交易对, 如 "BTCUSDT"
	Base          string          `json:"base"`           // 基础资产, 如 "BTC"
	QuoteCurrency string          `json:"quote_currency"` // 计价货币
	Price         decimal.Decimal `json:"price"`          // 当前价格
	Volume24hUSD  decimal.Decimal `json:"volume_24h_usd"` // 24小时成交额 (计价货币计)
	PriceLookback decimal.Decimal `json:"price_lookback"` // 回看窗口起点的收盘价
}

// MarketSnapshot 是一个周期内使用的行情快照，获取后不可变
type MarketSnapshot struct {
	FetchedAt time.Time    `json:"fetched_at"`
	Quotes    []AssetQuote `json:"quotes"`
}

// PortfolioSnapshot 描述一个周期开始时的组合状态。
// 不变量: NAVUSD = CashUSD + Σ(持仓数量 × 价格)
type PortfolioSnapshot struct {
	NAVUSD         decimal.Decimal            `json:"nav_usd"`
	CashUSD        decimal.Decimal            `json:"cash_usd"`
	Positions      map[string]decimal.Decimal `json:"positions"`       // 交易对 -> 持仓数量
	CurrentWeights map[string]decimal.Decimal `json:"current_weights"` // 交易对 -> 当前权重
}

// SymbolRules 保存交易所对单个交易对的下单规则
type SymbolRules struct {
	StepSize    decimal.Decimal `json:"step_size"`    // 数量步长 (LOT_SIZE)
	TickSize    decimal.Decimal `json:"tick_size"`    // 价格步长 (PRICE_FILTER)
	MinNotional decimal.Decimal `json:"min_notional"` // 交易所最小下单金额 (NOTIONAL)
}

// Error 定义了币安API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
