package ioc

import (
	"github.com/KNICEX/price-sentinel/internal/service/exchange/binance"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/spf13/viper"
)

// InitBinanceCli 密钥逐个读取, 以便 SENTINEL_CEX_BINANCE_API_KEY 等环境变量覆盖
func InitBinanceCli() *futures.Client {
	return binance.NewFuturesClient(
		viper.GetString("cex.binance.api_key"),
		viper.GetString("cex.binance.api_secret"),
		viper.GetBool("cex.binance.testnet"),
	)
}
