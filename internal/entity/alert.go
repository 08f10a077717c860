package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type AlertDirection string

const (
	DirectionLong  AlertDirection = "LONG"  // 价格上涨到目标价及以上时触发
	DirectionShort AlertDirection = "SHORT" // 价格下跌到目标价及以下时触发
)

func (d AlertDirection) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "PENDING"
	AlertStatusTriggered AlertStatus = "TRIGGERED"
	AlertStatusExecuted  AlertStatus = "EXECUTED"
	AlertStatusCancelled AlertStatus = "CANCELLED"
	AlertStatusExpired   AlertStatus = "EXPIRED"
)

// Terminal 终态不允许再发生任何状态变化
func (s AlertStatus) Terminal() bool {
	switch s {
	case AlertStatusExecuted, AlertStatusCancelled, AlertStatusExpired:
		return true
	default:
		return false
	}
}

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusPending, AlertStatusTriggered, AlertStatusExecuted, AlertStatusCancelled, AlertStatusExpired:
		return true
	default:
		return false
	}
}

// Alert 价格提醒
type Alert struct {
	Id          int64           `gorm:"primaryKey;autoIncrement"`
	Symbol      string          `gorm:"index;not null"`
	TargetPrice decimal.Decimal `gorm:"type:decimal(32,12);not null"`
	Direction   AlertDirection  `gorm:"type:varchar(8);not null"`
	Status      AlertStatus     `gorm:"type:varchar(16);index;not null"`
	Notes       string
	TradeId     string

	// 接近目标价通知去重: NearNotified 表示当前 episode 已通知, 价格回落到阈值以下后 NearEpisode+1 重新武装
	NearNotified bool `gorm:"not null;default:false"`
	NearEpisode  int  `gorm:"not null;default:0"`

	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	TriggeredAt *time.Time `gorm:"index"`
	ExecutedAt  *time.Time
	CancelledAt *time.Time
	// LastTriggeredAt 从 TRIGGERED 取消时保留的触发时间, triggered_at 只对当前仍为 TRIGGERED 的提醒有值
	LastTriggeredAt *time.Time
}
