package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/KNICEX/price-sentinel/internal/service/notification"
	"github.com/shopspring/decimal"
)

// Notifier 事件投递, 投递失败只记录日志, 不影响已经提交的状态变化
type Notifier interface {
	Dispatch(ctx context.Context, evt notification.Event) []notification.Result
}

// PriceFetcher 批量获取价格, 缺失的交易对不出现在结果中
type PriceFetcher interface {
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// ScanResult 一轮价格扫描的统计
type ScanResult struct {
	Scanned      int
	Skipped      int
	Triggered    int
	NearNotified int
	Rearmed      int
	Failed       int
	Interrupted  bool
}

type ReconcileResult struct {
	Candidates  int
	Executed    int
	Failed      int
	Interrupted bool
}

type SweepResult struct {
	Candidates  int
	Expired     int
	Failed      int
	Interrupted bool
}

type options struct {
	now          func() time.Time
	alertTimeout time.Duration
}

type Option func(o *options)

// WithClock 用于计算对账窗口与过期阈值
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithAlertTimeout 单个提醒处理（状态写入 + 通知）的最长耗时
func WithAlertTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.alertTimeout = timeout
	}
}

func newOptions(opts []Option) options {
	o := options{
		now: func() time.Time {
			return time.Now().UTC()
		},
		alertTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// detach 进程退出时让正在处理的提醒完成写入和通知, 不被取消打断
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func recoverAsError(err *error) {
	if rec := recover(); rec != nil {
		*err = fmt.Errorf("panic: %v", rec)
	}
}
