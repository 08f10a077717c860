package binance

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrices = `[
	{"symbol":"BTCUSDT","price":"50000.10","time":1700000000000},
	{"symbol":"ETHUSDT","price":"3100","time":1700000000000},
	{"symbol":"XRPUSDT","price":"0.5123","time":1700000000000}
]`

func TestMarketService_BatchPrices(t *testing.T) {
	f := &fakeFutures{prices: testPrices}
	svc := NewMarketService(newTestClient(t, f))

	prices, err := svc.BatchPrices(context.Background(), []string{"BTCUSDT", "XRPUSDT", "DOGEUSDT"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, decimal.RequireFromString("50000.10").Equal(prices["BTCUSDT"]))
	assert.True(t, decimal.RequireFromString("0.5123").Equal(prices["XRPUSDT"]))
	_, ok := prices["DOGEUSDT"]
	assert.False(t, ok)
	assert.Equal(t, int64(1), f.priceHits.Load())
}

func TestMarketService_BatchPricesError(t *testing.T) {
	f := &fakeFutures{prices: testPrices, priceStatus: http.StatusTooManyRequests}
	svc := NewMarketService(newTestClient(t, f))

	_, err := svc.BatchPrices(context.Background(), []string{"BTCUSDT"})
	require.Error(t, err)
}

func TestMarketService_Ticker(t *testing.T) {
	f := &fakeFutures{prices: testPrices}
	svc := NewMarketService(newTestClient(t, f))

	price, err := svc.Ticker(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3100).Equal(price))

	_, err = svc.Ticker(context.Background(), "NOPEUSDT")
	require.Error(t, err)
}

func TestNewFuturesClient_Testnet(t *testing.T) {
	live := NewFuturesClient("k", "s", false)
	testnet := NewFuturesClient("k", "s", true)
	assert.Equal(t, testnetBaseURL, testnet.BaseURL)
	assert.NotEqual(t, testnetBaseURL, live.BaseURL)
}
