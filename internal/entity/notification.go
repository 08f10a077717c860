package entity

import "time"

// NotificationLog 每个渠道的一次投递尝试
type NotificationLog struct {
	Id        int64  `gorm:"primaryKey;autoIncrement"`
	AlertId   int64  `gorm:"index:alert_kind_idx"`
	Kind      string `gorm:"index:alert_kind_idx"`
	Episode   int
	Channel   string
	Success   bool
	Error     string
	CreatedAt time.Time `gorm:"index"`
}
