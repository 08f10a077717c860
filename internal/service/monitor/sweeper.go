package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KNICEX/price-sentinel/internal/config"
	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/service/alert"
	"github.com/KNICEX/price-sentinel/internal/service/notification"
	"github.com/google/uuid"
)

// ExpirySweeper 创建超过 default_expiry_hours 仍未触发的提醒标记为 EXPIRED
type ExpirySweeper struct {
	repo         repo.AlertRepo
	transitioner *alert.Transitioner
	notifier     Notifier
	settings     config.Provider
	opts         options
}

func NewExpirySweeper(repo repo.AlertRepo, transitioner *alert.Transitioner, notifier Notifier,
	settings config.Provider, opts ...Option) *ExpirySweeper {
	return &ExpirySweeper{
		repo:         repo,
		transitioner: transitioner,
		notifier:     notifier,
		settings:     settings,
		opts:         newOptions(opts),
	}
}

func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	st := s.settings.Settings()
	logger := slog.With("task", "expiry_sweeper", "cycle_id", uuid.NewString())
	if st.ExpiryHours == 0 {
		logger.Debug("expiry disabled")
		return res, nil
	}

	before := s.opts.now().Add(-time.Duration(st.ExpiryHours) * time.Hour)
	alerts, err := s.repo.FindPendingCreatedBefore(ctx, before)
	if err != nil {
		return res, fmt.Errorf("load stale pending alerts: %w", err)
	}
	res.Candidates = len(alerts)

	for _, a := range alerts {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		expired, err := s.expire(ctx, logger, a)
		if err != nil {
			logger.Error("failed to expire alert", "alert_id", a.Id, "symbol", a.Symbol, "error", err)
			res.Failed++
			continue
		}
		if expired {
			res.Expired++
		}
	}

	if res.Candidates > 0 {
		logger.Info("expiry sweep finished", "candidates", res.Candidates, "expired", res.Expired,
			"failed", res.Failed, "interrupted", res.Interrupted)
	}
	return res, nil
}

func (s *ExpirySweeper) expire(parent context.Context, logger *slog.Logger, a entity.Alert) (expired bool, err error) {
	defer recoverAsError(&err)
	ctx, cancel := detach(parent, s.opts.alertTimeout)
	defer cancel()

	updated, applied, err := s.transitioner.Expire(ctx, a)
	if err != nil {
		return false, err
	}
	if !applied {
		logger.Debug("alert already transitioned", "alert_id", a.Id)
		return false, nil
	}
	logger.Info("alert expired", "alert_id", a.Id, "symbol", a.Symbol, "created_at", a.CreatedAt)
	s.notifier.Dispatch(ctx, notification.Event{
		Kind:      notification.EventExpired,
		Alert:     updated,
		Timestamp: s.opts.now(),
	})
	return true, nil
}
