package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TradingPair 交易对
type TradingPair struct {
	Base  string
	Quote string
}

func SplitSymbol(s string) (string, string) {
	s = strings.ToUpper(s)
	// 常见 Quote 列表
	quotes := []string{"USDT", "BUSD", "USDC", "BTC", "ETH"}
	for _, q := range quotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	// fallback
	return s, ""
}

func ParseTradingPair(s string) TradingPair {
	base, quote := SplitSymbol(s)
	return TradingPair{Base: base, Quote: quote}
}

func (s TradingPair) IsZero() bool {
	return s.Base == "" || s.Quote == ""
}

func (s TradingPair) ToSlashString() string {
	return fmt.Sprintf("%s/%s", s.Base, s.Quote)
}

// NormalizeSymbol BTC/USDT, btcusdt -> BTCUSDT
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}

// BatchPriceService 一次请求获取多个交易对最新价格
// 无法定价的交易对直接从结果中省略, 只有整体失败时才返回 error
type BatchPriceService interface {
	BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// TickerService 单个交易对最新价格
type TickerService interface {
	Ticker(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type MarketService interface {
	BatchPriceService
	TickerService
}

// Service 价格源, 提供行情与持仓
type Service interface {
	MarketService
	PositionService
}
