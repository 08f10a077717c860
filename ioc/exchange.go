package ioc

import (
	"fmt"
	"log/slog"

	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/KNICEX/price-sentinel/internal/service/exchange/binance"
	"github.com/KNICEX/price-sentinel/internal/service/exchange/memory"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// InitPriceSource cex.driver: binance(默认) | memory
func InitPriceSource() exchange.Service {
	driver := viper.GetString("cex.driver")
	switch driver {
	case "", "binance":
		return binance.NewService(InitBinanceCli())
	case "memory":
		return initMemoryExchange(viper.GetStringMapString("cex.memory.prices"))
	default:
		panic(fmt.Errorf("unknown cex driver %q", driver))
	}
}

func initMemoryExchange(prices map[string]string) *memory.Exchange {
	ex := memory.NewExchange()
	for symbol, raw := range prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			panic(fmt.Errorf("invalid memory price for %s: %w", symbol, err))
		}
		ex.SetPrice(exchange.NormalizeSymbol(symbol), price)
	}
	slog.Warn("using in-memory price source", "symbols", len(prices))
	return ex
}
