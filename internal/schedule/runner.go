package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status 任务最近一次运行情况
type Status struct {
	Name       string    `json:"name"`
	Runs       int64     `json:"runs"`
	Failures   int64     `json:"failures"`
	LastStart  time.Time `json:"last_start"`
	LastFinish time.Time `json:"last_finish"`
	LastError  string    `json:"last_error,omitempty"`
	Running    bool      `json:"running"`
}

// Runner 固定延迟调度: 上一轮结束后等待 interval 再开始下一轮, 同一任务的轮次从不重叠
type Runner struct {
	task     Task
	interval func() time.Duration

	mu     sync.RWMutex
	status Status
}

// NewRunner interval 每轮读取一次, 支持热更新
func NewRunner(task Task, interval func() time.Duration) *Runner {
	return &Runner{
		task:     task,
		interval: interval,
		status:   Status{Name: task.Name()},
	}
}

// Start 阻塞运行直到 ctx 取消, 任务错误或 panic 不会终止循环
func (r *Runner) Start(ctx context.Context) error {
	slog.Info("task runner started", "task", r.task.Name())
	for {
		if ctx.Err() != nil {
			slog.Info("task runner stopped", "task", r.task.Name())
			return nil
		}
		r.runOnce(ctx)

		delay := r.interval()
		if delay <= 0 {
			delay = time.Second
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("task runner stopped", "task", r.task.Name())
			return nil
		case <-timer.C:
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	r.mu.Lock()
	r.status.Running = true
	r.status.LastStart = time.Now()
	r.mu.Unlock()

	err := r.safeRun(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Running = false
	r.status.Runs++
	r.status.LastFinish = time.Now()
	r.status.LastError = ""
	if err != nil {
		r.status.Failures++
		r.status.LastError = err.Error()
		slog.Error("task run failed", "task", r.task.Name(), "error", err)
	}
}

func (r *Runner) safeRun(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panic: %v", rec)
		}
	}()
	return r.task.Run(ctx)
}

func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}
