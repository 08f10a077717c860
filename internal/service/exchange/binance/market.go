package binance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var _ exchange.MarketService = (*MarketService)(nil)

type MarketService struct {
	cli *futures.Client
}

// NewMarketService 创建市场数据服务
func NewMarketService(cli *futures.Client) *MarketService {
	return &MarketService{cli: cli}
}

// BatchPrices 一次拉取全部合约最新价, 只返回请求的交易对
func (m *MarketService) BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	all, err := m.cli.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, err
	}
	wanted := lo.SliceToMap(symbols, func(item string) (string, struct{}) {
		return item, struct{}{}
	})

	res := make(map[string]decimal.Decimal, len(symbols))
	for _, item := range all {
		if _, ok := wanted[item.Symbol]; !ok {
			continue
		}
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			slog.Warn("fail to parse price", "symbol", item.Symbol, "price", item.Price, "error", err)
			continue
		}
		res[item.Symbol] = price
	}
	return res, nil
}

func (m *MarketService) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := m.cli.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("symbol %s not found", symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}
