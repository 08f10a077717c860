package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/repo"
)

var ErrInvalidTransition = errors.New("invalid alert transition")

// transitions 合法的状态迁移, 生命周期单调, 不存在回退
var transitions = map[entity.AlertStatus][]entity.AlertStatus{
	entity.AlertStatusPending:   {entity.AlertStatusTriggered, entity.AlertStatusExpired, entity.AlertStatusCancelled},
	entity.AlertStatusTriggered: {entity.AlertStatusExecuted, entity.AlertStatusCancelled},
}

func CanTransition(from, to entity.AlertStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transitioner 通过 compare-and-set 推进提醒状态
// 另一个循环已经推进过的提醒返回 applied=false, 不视为错误
type Transitioner struct {
	repo repo.AlertRepo
	now  func() time.Time
}

type TransitionerOption func(t *Transitioner)

func WithClock(now func() time.Time) TransitionerOption {
	return func(t *Transitioner) {
		t.now = now
	}
}

func NewTransitioner(repo repo.AlertRepo, opts ...TransitionerOption) *Transitioner {
	t := &Transitioner{
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Trigger PENDING -> TRIGGERED, 设置 triggered_at
func (t *Transitioner) Trigger(ctx context.Context, alert entity.Alert) (entity.Alert, bool, error) {
	return t.apply(ctx, alert, entity.AlertStatusPending, entity.AlertStatusTriggered)
}

// Execute TRIGGERED -> EXECUTED, 设置 executed_at
func (t *Transitioner) Execute(ctx context.Context, alert entity.Alert) (entity.Alert, bool, error) {
	return t.apply(ctx, alert, entity.AlertStatusTriggered, entity.AlertStatusExecuted)
}

// Expire PENDING -> EXPIRED
func (t *Transitioner) Expire(ctx context.Context, alert entity.Alert) (entity.Alert, bool, error) {
	return t.apply(ctx, alert, entity.AlertStatusPending, entity.AlertStatusExpired)
}

// Cancel PENDING/TRIGGERED -> CANCELLED, 以提醒当前状态作为期望状态
// 从 TRIGGERED 取消时 triggered_at 移入 last_triggered_at
func (t *Transitioner) Cancel(ctx context.Context, alert entity.Alert) (entity.Alert, bool, error) {
	return t.apply(ctx, alert, alert.Status, entity.AlertStatusCancelled)
}

func (t *Transitioner) apply(ctx context.Context, alert entity.Alert, from, to entity.AlertStatus) (entity.Alert, bool, error) {
	if !CanTransition(from, to) {
		return alert, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	// 内存中的状态已经不是期望状态, 说明已被推进过
	if alert.Status != from {
		return alert, false, nil
	}

	at := t.now()
	ok, err := t.repo.CompareAndSetStatus(ctx, alert.Id, from, to, at)
	if err != nil {
		return alert, false, fmt.Errorf("compare and set alert %d status %s -> %s: %w", alert.Id, from, to, err)
	}
	if !ok {
		return alert, false, nil
	}

	alert.Status = to
	switch to {
	case entity.AlertStatusTriggered:
		alert.TriggeredAt = &at
		alert.NearNotified = false
	case entity.AlertStatusExecuted:
		alert.ExecutedAt = &at
	case entity.AlertStatusCancelled:
		alert.CancelledAt = &at
		if from == entity.AlertStatusTriggered {
			alert.LastTriggeredAt, alert.TriggeredAt = alert.TriggeredAt, nil
		}
	}
	return alert, true, nil
}
