package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/shopspring/decimal"
)

var _ exchange.Service = (*Exchange)(nil)

// Exchange 内存交易所, 价格与持仓由调用方设置（用于测试与 paper 模式）
type Exchange struct {
	mu          sync.RWMutex
	prices      map[string]decimal.Decimal
	positions   []exchange.Position
	batchErr    error
	tickerErr   map[string]error
	positionErr error

	batchCalls  int
	tickerCalls int
}

// NewExchange 创建内存交易所
func NewExchange() *Exchange {
	return &Exchange{
		prices:    make(map[string]decimal.Decimal),
		tickerErr: make(map[string]error),
	}
}

// SetPrice 设置交易对最新价格
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// ClearPrices 清空所有价格, 模拟行情中断
func (e *Exchange) ClearPrices() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices = make(map[string]decimal.Decimal)
}

// SetPositions 覆盖当前持仓
func (e *Exchange) SetPositions(positions ...exchange.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions = append([]exchange.Position(nil), positions...)
}

// FailBatch 批量接口返回 err, nil 表示恢复
func (e *Exchange) FailBatch(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchErr = err
}

// FailTicker 单个交易对查询返回 err, nil 表示恢复
func (e *Exchange) FailTicker(symbol string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.tickerErr, symbol)
		return
	}
	e.tickerErr[symbol] = err
}

// FailPositions 持仓接口返回 err, nil 表示恢复
func (e *Exchange) FailPositions(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positionErr = err
}

func (e *Exchange) BatchCalls() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.batchCalls
}

func (e *Exchange) TickerCalls() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickerCalls
}

func (e *Exchange) BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchCalls++
	if e.batchErr != nil {
		return nil, e.batchErr
	}
	res := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := e.prices[s]; ok {
			res[s] = p
		}
	}
	return res, nil
}

func (e *Exchange) Ticker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickerCalls++
	if err, ok := e.tickerErr[symbol]; ok {
		return decimal.Zero, err
	}
	p, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("symbol %s not found", symbol)
	}
	return p, nil
}

func (e *Exchange) GetActivePositions(ctx context.Context) ([]exchange.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.positionErr != nil {
		return nil, e.positionErr
	}
	res := make([]exchange.Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.IsOpen() {
			res = append(res, p)
		}
	}
	return res, nil
}
