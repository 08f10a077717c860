package monitor

import (
	"context"

	"github.com/KNICEX/price-sentinel/internal/schedule"
)

type alertMonitorTask struct {
	monitor *AlertMonitor
}

func NewAlertMonitorTask(monitor *AlertMonitor) schedule.Task {
	return &alertMonitorTask{monitor: monitor}
}

func (t *alertMonitorTask) Run(ctx context.Context) error {
	_, err := t.monitor.Scan(ctx)
	return err
}

func (t *alertMonitorTask) Name() string {
	return "alert monitor"
}

type reconcileTask struct {
	reconciler *PositionReconciler
}

func NewPositionReconcileTask(reconciler *PositionReconciler) schedule.Task {
	return &reconcileTask{reconciler: reconciler}
}

func (t *reconcileTask) Run(ctx context.Context) error {
	_, err := t.reconciler.Reconcile(ctx)
	return err
}

func (t *reconcileTask) Name() string {
	return "position reconciler"
}

type sweepTask struct {
	sweeper *ExpirySweeper
}

func NewExpirySweepTask(sweeper *ExpirySweeper) schedule.Task {
	return &sweepTask{sweeper: sweeper}
}

func (t *sweepTask) Run(ctx context.Context) error {
	_, err := t.sweeper.Sweep(ctx)
	return err
}

func (t *sweepTask) Name() string {
	return "expiry sweeper"
}
