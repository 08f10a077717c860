package binance

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
)

// fakeFutures 模拟币安合约 REST 接口
type fakeFutures struct {
	prices      string
	positions   string
	priceStatus int
	priceHits   atomic.Int64
}

func (f *fakeFutures) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/ticker/price"):
		f.priceHits.Add(1)
		if f.priceStatus != 0 {
			w.WriteHeader(f.priceStatus)
			_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
			return
		}
		if symbol := r.URL.Query().Get("symbol"); symbol != "" {
			if !strings.Contains(f.prices, `"`+symbol+`"`) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
				return
			}
			_, _ = w.Write([]byte(`{"symbol":"` + symbol + `","price":"` + priceOf(f.prices, symbol) + `","time":1700000000000}`))
			return
		}
		_, _ = w.Write([]byte(f.prices))
	case strings.HasSuffix(r.URL.Path, "/positionRisk"):
		_, _ = w.Write([]byte(f.positions))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// priceOf 从测试用的价格 JSON 中取出某个交易对价格
func priceOf(prices, symbol string) string {
	idx := strings.Index(prices, `"`+symbol+`"`)
	rest := prices[idx:]
	start := strings.Index(rest, `"price":"`) + len(`"price":"`)
	end := strings.Index(rest[start:], `"`)
	return rest[start : start+end]
}

func newTestClient(t *testing.T, f *fakeFutures) *futures.Client {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	cli := NewFuturesClient("key", "secret", false)
	cli.BaseURL = srv.URL
	return cli
}
