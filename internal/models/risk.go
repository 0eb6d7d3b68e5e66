package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState 是跨周期持久化的风控状态
type RiskState struct {
	PeakNAVUSD decimal.Decimal `json:"peak_nav_usd"` // 历史净值高点
	Halted     bool            `json:"halted"`       // 是否处于回撤熔断中
	UpdatedAt  time.Time       `json:"updated_at"`
}
