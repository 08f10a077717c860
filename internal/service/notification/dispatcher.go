package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KNICEX/price-sentinel/internal/config"
	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/repo"
	"golang.org/x/sync/errgroup"
)

// Dispatcher 将事件并发投递到所有已配置的渠道
// 单个渠道失败不影响其他渠道, 也不会回滚已经持久化的状态变化
type Dispatcher struct {
	channels []Channel
	settings config.Provider
	logs     repo.NotificationLogRepo
	timeout  time.Duration
}

type DispatcherOption func(d *Dispatcher)

// WithNotificationLog 记录每个渠道的投递结果
func WithNotificationLog(logs repo.NotificationLogRepo) DispatcherOption {
	return func(d *Dispatcher) {
		d.logs = logs
	}
}

func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func NewDispatcher(settings config.Provider, channels []Channel, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		channels: channels,
		settings: settings,
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) []Result {
	s := d.settings.Settings()
	if !kindEnabled(s.Notify, evt.Kind) {
		slog.Debug("notification kind disabled", "kind", evt.Kind, "alert_id", evt.Alert.Id)
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	msg := BuildMessage(evt)

	results := make([]Result, len(d.channels))
	var eg errgroup.Group
	for i, ch := range d.channels {
		results[i].Channel = ch.Name()
		if !ch.Configured() || !s.Notify.ChannelEnabled(ch.Name()) {
			results[i].Skipped = true
			continue
		}
		eg.Go(func() error {
			results[i].Err = d.send(ctx, ch, msg)
			results[i].Delivered = results[i].Err == nil
			if results[i].Err != nil {
				slog.Error("failed to send notification", "channel", ch.Name(), "kind", evt.Kind,
					"alert_id", evt.Alert.Id, "symbol", evt.Alert.Symbol, "error", results[i].Err)
			} else {
				slog.Info("notification sent", "channel", ch.Name(), "kind", evt.Kind,
					"alert_id", evt.Alert.Id, "symbol", evt.Alert.Symbol)
			}
			return nil
		})
	}
	_ = eg.Wait()

	d.record(ctx, evt, results)
	return results
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, msg Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("channel %s panic: %v", ch.Name(), rec)
		}
	}()
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return ch.Send(sendCtx, msg)
}

func (d *Dispatcher) record(ctx context.Context, evt Event, results []Result) {
	if d.logs == nil {
		return
	}
	for _, res := range results {
		if res.Skipped {
			continue
		}
		log := entity.NotificationLog{
			AlertId:   evt.Alert.Id,
			Kind:      string(evt.Kind),
			Episode:   evt.Alert.NearEpisode,
			Channel:   res.Channel,
			Success:   res.Delivered,
			CreatedAt: evt.Timestamp,
		}
		if res.Err != nil {
			log.Error = res.Err.Error()
		}
		if err := d.logs.Create(ctx, log); err != nil {
			slog.Warn("failed to save notification log", "alert_id", evt.Alert.Id, "channel", res.Channel, "error", err)
		}
	}
}

func kindEnabled(n config.NotifySettings, kind EventKind) bool {
	switch kind {
	case EventTriggered:
		return n.OnTrigger
	case EventNearTarget:
		return n.OnNearPrice
	case EventPositionDetected:
		return n.OnPositionDetected
	case EventExpired:
		return n.OnExpiry
	default:
		return false
	}
}
