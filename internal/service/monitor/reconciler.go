package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KNICEX/price-sentinel/internal/config"
	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/service/alert"
	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/KNICEX/price-sentinel/internal/service/notification"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// PositionReconciler 已触发的提醒出现对应持仓后标记为已执行
// 超出对账窗口的 TRIGGERED 提醒保持原状, 不会被自动过期
type PositionReconciler struct {
	repo         repo.AlertRepo
	transitioner *alert.Transitioner
	positions    exchange.PositionService
	notifier     Notifier
	settings     config.Provider
	opts         options
}

func NewPositionReconciler(repo repo.AlertRepo, transitioner *alert.Transitioner, positions exchange.PositionService,
	notifier Notifier, settings config.Provider, opts ...Option) *PositionReconciler {
	return &PositionReconciler{
		repo:         repo,
		transitioner: transitioner,
		positions:    positions,
		notifier:     notifier,
		settings:     settings,
		opts:         newOptions(opts),
	}
}

func (r *PositionReconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	s := r.settings.Settings()
	logger := slog.With("task", "position_reconciler", "cycle_id", uuid.NewString())

	since := r.opts.now().Add(-s.ReconcileWindow)
	candidates, err := r.repo.FindTriggeredSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("load triggered alerts: %w", err)
	}
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		logger.Debug("no triggered alerts to reconcile", "since", since)
		return res, nil
	}

	positions, err := r.positions.GetActivePositions(ctx)
	if err != nil {
		return res, fmt.Errorf("get active positions: %w", err)
	}
	open := lo.GroupBy(lo.Filter(positions, func(p exchange.Position, _ int) bool {
		return p.IsOpen()
	}), func(p exchange.Position) string {
		return p.Symbol
	})

	for _, a := range candidates {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		held, ok := open[a.Symbol]
		if !ok {
			continue
		}
		pos := pickPosition(held, a.Direction)
		executed, err := r.execute(ctx, logger, a, pos)
		if err != nil {
			logger.Error("failed to execute alert", "alert_id", a.Id, "symbol", a.Symbol, "error", err)
			res.Failed++
			continue
		}
		if executed {
			res.Executed++
		}
	}

	logger.Info("position reconcile finished", "candidates", res.Candidates, "positions", len(positions),
		"executed", res.Executed, "failed", res.Failed, "interrupted", res.Interrupted)
	return res, nil
}

func (r *PositionReconciler) execute(parent context.Context, logger *slog.Logger, a entity.Alert, pos exchange.Position) (executed bool, err error) {
	defer recoverAsError(&err)
	ctx, cancel := detach(parent, r.opts.alertTimeout)
	defer cancel()

	updated, applied, err := r.transitioner.Execute(ctx, a)
	if err != nil {
		return false, err
	}
	if !applied {
		logger.Debug("alert already transitioned", "alert_id", a.Id)
		return false, nil
	}
	logger.Info("position detected, alert executed", "alert_id", a.Id, "symbol", a.Symbol,
		"quantity", pos.Quantity, "entry_price", pos.EntryPrice)
	r.notifier.Dispatch(ctx, notification.Event{
		Kind:         notification.EventPositionDetected,
		Alert:        updated,
		CurrentPrice: pos.MarkPrice,
		Position:     &pos,
		Timestamp:    *updated.ExecutedAt,
	})
	return true, nil
}

// pickPosition 双向持仓时优先选择与提醒方向一致的持仓
func pickPosition(held []exchange.Position, direction entity.AlertDirection) exchange.Position {
	match, ok := lo.Find(held, func(p exchange.Position) bool {
		return p.IsLong() == (direction == entity.DirectionLong)
	})
	if ok {
		return match
	}
	return held[0]
}
