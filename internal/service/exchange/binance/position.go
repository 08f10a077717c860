package binance

import (
	"context"
	"fmt"

	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

var _ exchange.PositionService = (*PositionService)(nil)

type PositionService struct {
	cli *futures.Client
}

// NewPositionService 创建持仓服务
func NewPositionService(cli *futures.Client) *PositionService {
	return &PositionService{cli: cli}
}

// GetActivePositions 获取所有持仓
// notice: 币安会返回数量为 0 的仓位, 需要过滤掉
func (p *PositionService) GetActivePositions(ctx context.Context) ([]exchange.Position, error) {
	binancePositions, err := p.cli.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]exchange.Position, 0, len(binancePositions))
	for _, v := range binancePositions {
		position, err := convertPosition(v)
		if err != nil {
			return nil, fmt.Errorf("convert position %s: %w", v.Symbol, err)
		}
		if !position.IsOpen() {
			continue
		}
		positions = append(positions, position)
	}
	return positions, nil
}

func convertPosition(v *futures.PositionRisk) (exchange.Position, error) {
	quantity, err := decimal.NewFromString(v.PositionAmt)
	if err != nil {
		return exchange.Position{}, err
	}
	entry, err := parseOrZero(v.EntryPrice)
	if err != nil {
		return exchange.Position{}, err
	}
	mark, err := parseOrZero(v.MarkPrice)
	if err != nil {
		return exchange.Position{}, err
	}
	return exchange.Position{
		Symbol:       v.Symbol,
		PositionSide: exchange.PositionSide(v.PositionSide),
		Quantity:     quantity,
		EntryPrice:   entry,
		MarkPrice:    mark,
	}, nil
}

func parseOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
