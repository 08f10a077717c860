package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KNICEX/price-sentinel/internal/config"
	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/service/alert"
	"github.com/KNICEX/price-sentinel/internal/service/notification"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type scanOutcome int

const (
	outcomeNone scanOutcome = iota
	outcomeTriggered
	outcomeNearNotified
	outcomeRearmed
)

// AlertMonitor 扫描所有 PENDING 提醒, 触发或接近目标价时推进状态并发送通知
type AlertMonitor struct {
	repo         repo.AlertRepo
	transitioner *alert.Transitioner
	prices       PriceFetcher
	notifier     Notifier
	settings     config.Provider
	opts         options
}

func NewAlertMonitor(repo repo.AlertRepo, transitioner *alert.Transitioner, prices PriceFetcher,
	notifier Notifier, settings config.Provider, opts ...Option) *AlertMonitor {
	return &AlertMonitor{
		repo:         repo,
		transitioner: transitioner,
		prices:       prices,
		notifier:     notifier,
		settings:     settings,
		opts:         newOptions(opts),
	}
}

// Scan 执行一轮扫描
// 价格获取失败时本轮不评估任何提醒; 单个提醒出错只记录日志, 不中断本轮
func (m *AlertMonitor) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	s := m.settings.Settings()
	logger := slog.With("task", "alert_monitor", "cycle_id", uuid.NewString())

	alerts, err := m.repo.FindByStatus(ctx, entity.AlertStatusPending)
	if err != nil {
		return res, fmt.Errorf("load pending alerts: %w", err)
	}
	if len(alerts) == 0 {
		logger.Debug("no pending alerts")
		return res, nil
	}

	symbols := lo.Uniq(lo.Map(alerts, func(a entity.Alert, _ int) string {
		return a.Symbol
	}))
	prices, err := m.prices.Prices(ctx, symbols)
	if err != nil {
		return res, fmt.Errorf("fetch prices for %d symbols: %w", len(symbols), err)
	}

	for _, a := range alerts {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		res.Scanned++

		price, ok := prices[a.Symbol]
		if !ok || !price.IsPositive() {
			logger.Info("skip alert without price", "alert_id", a.Id, "symbol", a.Symbol)
			res.Skipped++
			continue
		}

		outcome, err := m.evaluate(ctx, logger, s, a, price)
		if err != nil {
			logger.Error("failed to evaluate alert", "alert_id", a.Id, "symbol", a.Symbol, "error", err)
			res.Failed++
			continue
		}
		switch outcome {
		case outcomeTriggered:
			res.Triggered++
		case outcomeNearNotified:
			res.NearNotified++
		case outcomeRearmed:
			res.Rearmed++
		}
	}

	logger.Info("alert scan finished", "pending", len(alerts), "symbols", len(symbols), "priced", len(prices),
		"scanned", res.Scanned, "skipped", res.Skipped, "triggered", res.Triggered,
		"near_notified", res.NearNotified, "failed", res.Failed, "interrupted", res.Interrupted)
	return res, nil
}

func (m *AlertMonitor) evaluate(parent context.Context, logger *slog.Logger, s config.Settings,
	a entity.Alert, price decimal.Decimal) (outcome scanOutcome, err error) {
	defer recoverAsError(&err)
	ctx, cancel := detach(parent, m.opts.alertTimeout)
	defer cancel()

	ev := alert.Evaluate(a.Direction, a.TargetPrice, price)
	if !ev.PriceAvailable {
		logger.Info("skip alert that cannot be evaluated", "alert_id", a.Id, "symbol", a.Symbol,
			"direction", a.Direction, "target", a.TargetPrice)
		return outcomeNone, nil
	}

	if ev.Triggered {
		updated, applied, err := m.transitioner.Trigger(ctx, a)
		if err != nil {
			return outcomeNone, err
		}
		if !applied {
			logger.Debug("alert already transitioned", "alert_id", a.Id)
			return outcomeNone, nil
		}
		logger.Info("alert triggered", "alert_id", a.Id, "symbol", a.Symbol, "direction", a.Direction,
			"target", a.TargetPrice, "price", price)
		m.notifier.Dispatch(ctx, notification.Event{
			Kind:         notification.EventTriggered,
			Alert:        updated,
			CurrentPrice: price,
			Progress:     ev.Progress,
			Timestamp:    *updated.TriggeredAt,
		})
		return outcomeTriggered, nil
	}

	if ev.NearTarget(s.NearTargetPercent) {
		// 关闭接近通知时不占用本次 episode, 重新开启后仍可通知
		if a.NearNotified || !s.Notify.OnNearPrice {
			return outcomeNone, nil
		}
		claimed, err := m.repo.MarkNearNotified(ctx, a.Id)
		if err != nil {
			return outcomeNone, fmt.Errorf("mark near notified: %w", err)
		}
		if !claimed {
			logger.Debug("near target already notified", "alert_id", a.Id)
			return outcomeNone, nil
		}
		a.NearNotified = true
		logger.Info("alert near target", "alert_id", a.Id, "symbol", a.Symbol, "progress", ev.Progress,
			"episode", a.NearEpisode)
		m.notifier.Dispatch(ctx, notification.Event{
			Kind:         notification.EventNearTarget,
			Alert:        a,
			CurrentPrice: price,
			Progress:     ev.Progress,
			Timestamp:    m.opts.now(),
		})
		return outcomeNearNotified, nil
	}

	if a.NearNotified {
		rearmed, err := m.repo.RearmNear(ctx, a.Id)
		if err != nil {
			return outcomeNone, fmt.Errorf("rearm near target: %w", err)
		}
		if rearmed {
			logger.Info("near target re-armed", "alert_id", a.Id, "progress", ev.Progress)
			return outcomeRearmed, nil
		}
	}
	return outcomeNone, nil
}
