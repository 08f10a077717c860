package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
	PositionSideBoth  PositionSide = "BOTH" // 单向持仓模式
)

// Position 交易所当前持仓, Quantity 带符号: 正数多头, 负数空头
type Position struct {
	Symbol       string
	PositionSide PositionSide
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	MarkPrice    decimal.Decimal
}

func (p Position) IsOpen() bool {
	return !p.Quantity.IsZero()
}

// IsLong 双向持仓模式以 PositionSide 为准, 单向持仓模式看数量符号
func (p Position) IsLong() bool {
	switch p.PositionSide {
	case PositionSideLong:
		return true
	case PositionSideShort:
		return false
	default:
		return p.Quantity.IsPositive()
	}
}

type PositionService interface {
	// GetActivePositions 获取所有数量不为 0 的持仓
	GetActivePositions(ctx context.Context) ([]Position, error)
}
