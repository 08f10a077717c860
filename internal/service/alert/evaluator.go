package alert

import (
	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/pkg/decimalx"
	"github.com/shopspring/decimal"
)

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Evaluation 一次价格判定结果
type Evaluation struct {
	// PriceAvailable 为 false 表示本轮没有可用价格, 调用方应跳过该提醒
	PriceAvailable bool
	Triggered      bool
	// Progress 接近目标价的程度, 范围 [0, 100], 恰好触达目标价时为 100
	Progress float64
}

// NearTarget 未触发但进度达到阈值
func (e Evaluation) NearTarget(thresholdPercent float64) bool {
	return e.PriceAvailable && !e.Triggered && e.Progress >= thresholdPercent
}

// Evaluate 判断当前价格是否满足提醒条件
//
// LONG:  current >= target 触发, progress = current / target
// SHORT: current <= target 触发, progress = target / current
func Evaluate(direction entity.AlertDirection, target, current decimal.Decimal) Evaluation {
	if current.LessThanOrEqual(zero) || target.LessThanOrEqual(zero) {
		return Evaluation{}
	}

	var (
		triggered bool
		progress  decimal.Decimal
	)
	switch direction {
	case entity.DirectionLong:
		triggered = current.GreaterThanOrEqual(target)
		progress = decimalx.PercentOf(current, target)
	case entity.DirectionShort:
		triggered = current.LessThanOrEqual(target)
		progress = decimalx.PercentOf(target, current)
	default:
		return Evaluation{}
	}

	return Evaluation{
		PriceAvailable: true,
		Triggered:      triggered,
		Progress:       decimalx.Clamp(progress, zero, hundred).InexactFloat64(),
	}
}
