package binance

import (
	"github.com/adshao/go-binance/v2/futures"
)

const testnetBaseURL = "https://testnet.binancefuture.com"

// NewFuturesClient 创建合约 client, testnet 只作用于当前实例, 不修改 futures.UseTestnet
func NewFuturesClient(apiKey, apiSecret string, testnet bool) *futures.Client {
	cli := futures.NewClient(apiKey, apiSecret)
	if testnet {
		cli.BaseURL = testnetBaseURL
	}
	return cli
}
