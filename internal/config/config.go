package config

import (
	"encoding/json"
	"fmt"
	"os"

	"binance-rebalance-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// ConfigurationError 表示配置缺失或参数越界, 属于致命错误,
// 调度器在任何周期开始前就会因此停止。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("配置无效: %s: %s", e.Field, e.Reason)
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := &models.Config{}
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	applyDefaults(config)
	return config, nil
}

// applyDefaults 填充未配置字段的默认值。
// retry_attempts 的缺省由 Config.RetryCount 处理, 以便区分显式配置的 0。
func applyDefaults(cfg *models.Config) {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = 3
	}
	if cfg.UniverseCap == 0 {
		cfg.UniverseCap = 50
	}
	if cfg.Weighting == "" {
		cfg.Weighting = "proportional"
	}
	if cfg.RebalanceIntervalMinutes == 0 {
		cfg.RebalanceIntervalMinutes = 60
	}
	if cfg.RetryInitialDelayMs == 0 {
		cfg.RetryInitialDelayMs = 500
	}
	if cfg.RequestTimeoutSec == 0 {
		cfg.RequestTimeoutSec = 15
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/rebalance_audit"
	}
}

// Validate 校验所有参数范围。任何一项不通过都返回 ConfigurationError。
func Validate(cfg *models.Config) error {
	one := decimal.NewFromInt(1)

	if cfg.TopN <= 0 {
		return &ConfigurationError{Field: "top_n", Reason: "必须大于0"}
	}
	if cfg.CashBuffer.IsNegative() || cfg.CashBuffer.GreaterThanOrEqual(one) {
		return &ConfigurationError{Field: "cash_buffer", Reason: "必须位于 [0, 1) 区间"}
	}
	if cfg.Tolerance.IsNegative() {
		return &ConfigurationError{Field: "tolerance", Reason: "不能为负"}
	}
	if cfg.LiquidityFloor.IsNegative() {
		return &ConfigurationError{Field: "liquidity_floor", Reason: "不能为负"}
	}
	if cfg.MinNotional.IsNegative() {
		return &ConfigurationError{Field: "min_notional", Reason: "不能为负"}
	}
	if cfg.MaxSlippage.IsNegative() || cfg.MaxSlippage.GreaterThanOrEqual(one) {
		return &ConfigurationError{Field: "max_slippage", Reason: "必须位于 [0, 1) 区间"}
	}
	if cfg.LookbackDays <= 0 {
		return &ConfigurationError{Field: "lookback_days", Reason: "必须大于0"}
	}
	if cfg.RebalanceIntervalMinutes <= 0 {
		return &ConfigurationError{Field: "rebalance_interval_minutes", Reason: "必须大于0"}
	}
	if cfg.RetryAttempts != nil && *cfg.RetryAttempts < 0 {
		return &ConfigurationError{Field: "retry_attempts", Reason: "不能为负"}
	}
	if cfg.Weighting != "proportional" && cfg.Weighting != "rank" {
		return &ConfigurationError{Field: "weighting", Reason: "只支持 proportional 或 rank"}
	}
	if cfg.MaxDrawdown.IsNegative() || cfg.MaxDrawdown.GreaterThanOrEqual(one) {
		return &ConfigurationError{Field: "max_drawdown", Reason: "必须位于 [0, 1) 区间"}
	}
	if !cfg.MaxDrawdown.IsZero() {
		if cfg.DrawdownScalingThreshold.IsNegative() || cfg.DrawdownScalingThreshold.GreaterThan(cfg.MaxDrawdown) {
			return &ConfigurationError{Field: "drawdown_scaling_threshold", Reason: "必须位于 [0, max_drawdown] 区间"}
		}
		if cfg.DrawdownMinScale.IsNegative() || cfg.DrawdownMinScale.GreaterThan(one) {
			return &ConfigurationError{Field: "drawdown_min_scale", Reason: "必须位于 [0, 1] 区间"}
		}
		if cfg.DrawdownRecovery.IsNegative() || cfg.DrawdownRecovery.GreaterThan(one) {
			return &ConfigurationError{Field: "drawdown_recovery", Reason: "必须位于 [0, 1] 区间"}
		}
	}
	return nil
}

// ValidateCredentials 检查实盘交易所需的环境变量。
// 干跑模式下允许缺失密钥。
func ValidateCredentials(apiKey, secretKey string, dryRun bool) error {
	if dryRun {
		return nil
	}
	if apiKey == "" {
		return &ConfigurationError{Field: "BINANCE_API_KEY", Reason: "实盘模式下必须设置"}
	}
	if secretKey == "" {
		return &ConfigurationError{Field: "BINANCE_SECRET_KEY", Reason: "实盘模式下必须设置"}
	}
	return nil
}
