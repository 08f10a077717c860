package notification

import (
	"context"
	"errors"
	"time"

	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/shopspring/decimal"
)

var ErrNotConfigured = errors.New("notification channel not configured")

type EventKind string

const (
	EventTriggered        EventKind = "triggered"
	EventNearTarget       EventKind = "near_target"
	EventPositionDetected EventKind = "position_detected"
	EventExpired          EventKind = "expired"
)

// Event 提醒状态变化或接近目标价时发出的通知事件
type Event struct {
	Kind         EventKind
	Alert        entity.Alert
	CurrentPrice decimal.Decimal
	Progress     float64
	Position     *exchange.Position
	Timestamp    time.Time
}

// Channel 单个通知渠道, 未配置的渠道 Configured 返回 false 并被跳过
type Channel interface {
	Name() string
	Configured() bool
	Send(ctx context.Context, msg Message) error
}

// Result 单个渠道的投递结果
type Result struct {
	Channel   string
	Delivered bool
	Skipped   bool
	Err       error
}
