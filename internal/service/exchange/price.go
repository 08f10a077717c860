package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// PriceFetcher 优先批量获取价格, 批量接口不可用时降级为有并发上限的逐个查询
type PriceFetcher struct {
	batch       BatchPriceService
	ticker      TickerService
	concurrency func() int
}

type PriceFetcherOption func(f *PriceFetcher)

// WithConcurrency 降级查询的并发上限, 每次调用时读取
func WithConcurrency(fn func() int) PriceFetcherOption {
	return func(f *PriceFetcher) {
		f.concurrency = fn
	}
}

// NewPriceFetcher batch 可以为 nil, 此时总是逐个查询
func NewPriceFetcher(batch BatchPriceService, ticker TickerService, opts ...PriceFetcherOption) *PriceFetcher {
	f := &PriceFetcher{
		batch:  batch,
		ticker: ticker,
		concurrency: func() int {
			return 8
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *PriceFetcher) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	symbols = lo.Uniq(symbols)
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	if f.batch != nil {
		prices, err := f.batch.BatchPrices(ctx, symbols)
		if err == nil {
			return prices, nil
		}
		if f.ticker == nil {
			return nil, fmt.Errorf("batch prices: %w", err)
		}
		slog.Warn("batch price request failed, fallback to per-symbol ticker", "symbols", len(symbols), "error", err)
	}
	if f.ticker == nil {
		return nil, errors.New("no price service configured")
	}
	return f.fanOut(ctx, symbols)
}

func (f *PriceFetcher) fanOut(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	limit := f.concurrency()
	if limit <= 0 {
		limit = 1
	}

	var (
		mu       sync.Mutex
		prices   = make(map[string]decimal.Decimal, len(symbols))
		failures int
		lastErr  error
	)
	var eg errgroup.Group
	eg.SetLimit(limit)
	for _, symbol := range symbols {
		eg.Go(func() error {
			price, err := f.ticker.Ticker(ctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastErr = err
				slog.Warn("failed to get symbol price", "symbol", symbol, "error", err)
				return nil
			}
			prices[symbol] = price
			return nil
		})
	}
	_ = eg.Wait()

	if failures == len(symbols) {
		return nil, fmt.Errorf("all %d ticker requests failed: %w", failures, lastErr)
	}
	return prices, nil
}
