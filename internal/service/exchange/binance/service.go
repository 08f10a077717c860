package binance

import (
	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/adshao/go-binance/v2/futures"
)

var _ exchange.Service = (*Service)(nil)

// Service 币安 U 本位合约价格源, 每个实例持有自己的 client, 测试网与实盘可以并存
type Service struct {
	*MarketService
	*PositionService
}

func NewService(cli *futures.Client) *Service {
	return &Service{
		MarketService:   NewMarketService(cli),
		PositionService: NewPositionService(cli),
	}
}
