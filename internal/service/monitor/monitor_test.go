package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KNICEX/price-sentinel/internal/config"
	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/service/alert"
	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/KNICEX/price-sentinel/internal/service/exchange/memory"
	"github.com/KNICEX/price-sentinel/internal/service/notification"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	events  []notification.Event
	panicOn func(evt notification.Event) bool
}

func (n *recordingNotifier) Dispatch(ctx context.Context, evt notification.Event) []notification.Result {
	if n.panicOn != nil && n.panicOn(evt) {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) byKind(kind notification.EventKind) []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var res []notification.Event
	for _, evt := range n.events {
		if evt.Kind == kind {
			res = append(res, evt)
		}
	}
	return res
}

type mutableSettings struct {
	mu sync.Mutex
	s  config.Settings
}

func (m *mutableSettings) Settings() config.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

func (m *mutableSettings) update(fn func(s *config.Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.s)
}

type fixture struct {
	ctx        context.Context
	repo       repo.AlertRepo
	exchange   *memory.Exchange
	notifier   *recordingNotifier
	settings   *mutableSettings
	monitor    *AlertMonitor
	reconciler *PositionReconciler
	sweeper    *ExpirySweeper
}

func newFixture(t *testing.T) *fixture {
	db, err := repo.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, repo.InitTables(db))

	f := &fixture{
		ctx:      context.Background(),
		repo:     repo.NewAlertRepo(db),
		exchange: memory.NewExchange(),
		notifier: &recordingNotifier{},
		settings: &mutableSettings{s: config.DefaultSettings()},
	}
	transitioner := alert.NewTransitioner(f.repo)
	prices := exchange.NewPriceFetcher(f.exchange, f.exchange)
	f.monitor = NewAlertMonitor(f.repo, transitioner, prices, f.notifier, f.settings)
	f.reconciler = NewPositionReconciler(f.repo, transitioner, f.exchange, f.notifier, f.settings)
	f.sweeper = NewExpirySweeper(f.repo, transitioner, f.notifier, f.settings)
	return f
}

func (f *fixture) createAlert(t *testing.T, symbol, target string, direction entity.AlertDirection, createdAt time.Time) int64 {
	id, err := f.repo.Create(f.ctx, entity.Alert{
		Symbol:      symbol,
		TargetPrice: decimal.RequireFromString(target),
		Direction:   direction,
		CreatedAt:   createdAt,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) triggeredAt(t *testing.T, symbol string, at time.Time) int64 {
	id := f.createAlert(t, symbol, "0.5", entity.DirectionLong, at.Add(-time.Minute))
	ok, err := f.repo.CompareAndSetStatus(f.ctx, id, entity.AlertStatusPending, entity.AlertStatusTriggered, at)
	require.NoError(t, err)
	require.True(t, ok)
	return id
}

func (f *fixture) alert(t *testing.T, id int64) entity.Alert {
	a, err := f.repo.FindById(f.ctx, id)
	require.NoError(t, err)
	return a
}

func TestScan_TriggersLongAlertAtTarget(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, time.Time{})
	f.exchange.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	res, err := f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)

	a := f.alert(t, id)
	assert.Equal(t, entity.AlertStatusTriggered, a.Status)
	require.NotNil(t, a.TriggeredAt)

	events := f.notifier.byKind(notification.EventTriggered)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].Alert.Id)
	assert.True(t, events[0].CurrentPrice.Equal(decimal.NewFromInt(50000)))
	assert.InDelta(t, 100, events[0].Progress, 1e-9)

	// 已触发的提醒不再参与扫描
	res, err = f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Len(t, f.notifier.byKind(notification.EventTriggered), 1)
}

type countingChannel struct {
	name string
	mu   sync.Mutex
	sent int
	err  error
}

func (c *countingChannel) Name() string     { return c.name }
func (c *countingChannel) Configured() bool { return true }
func (c *countingChannel) Send(ctx context.Context, msg notification.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return c.err
}

func TestScan_OneAttemptPerConfiguredChannel(t *testing.T) {
	f := newFixture(t)
	tg := &countingChannel{name: "telegram", err: errors.New("telegram down")}
	dc := &countingChannel{name: "discord"}
	unconfigured := notification.NewDiscord("", notification.NewWebhookClient(time.Second))
	dispatcher := notification.NewDispatcher(f.settings, []notification.Channel{tg, dc, unconfigured})
	m := NewAlertMonitor(f.repo, alert.NewTransitioner(f.repo), exchange.NewPriceFetcher(f.exchange, f.exchange), dispatcher, f.settings)

	id := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, time.Time{})
	f.exchange.SetPrice("BTCUSDT", decimal.NewFromInt(50100))

	res, err := m.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 1, tg.sent)
	assert.Equal(t, 1, dc.sent)
	// 通知失败不回滚状态
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, id).Status)
}

func TestScan_NearTargetNotifiedOncePerEpisode(t *testing.T) {
	f := newFixture(t)
	id := f.createAlert(t, "ETHUSDT", "3000", entity.DirectionShort, time.Time{})
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(3100))

	res, err := f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NearNotified)
	assert.Equal(t, entity.AlertStatusPending, f.alert(t, id).Status)

	near := f.notifier.byKind(notification.EventNearTarget)
	require.Len(t, near, 1)
	assert.InDelta(t, 96.77, near[0].Progress, 0.01)
	assert.Equal(t, 0, near[0].Alert.NearEpisode)

	// 同样的价格, 不重复通知
	res, err = f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.NearNotified)
	assert.Len(t, f.notifier.byKind(notification.EventNearTarget), 1)

	// 回落到阈值以下重新武装
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(3500))
	res, err = f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rearmed)
	a := f.alert(t, id)
	assert.False(t, a.NearNotified)
	assert.Equal(t, 1, a.NearEpisode)

	// 再次接近, 新的 episode 再通知一次
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(3050))
	_, err = f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	near = f.notifier.byKind(notification.EventNearTarget)
	require.Len(t, near, 2)
	assert.Equal(t, 1, near[1].Alert.NearEpisode)

	// 触发后不会再发接近通知
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(2990))
	res, err = f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	a = f.alert(t, id)
	assert.Equal(t, entity.AlertStatusTriggered, a.Status)
	assert.False(t, a.NearNotified)
	assert.Len(t, f.notifier.byKind(notification.EventNearTarget), 2)
}

func TestScan_NearTargetDisabledKeepsEpisode(t *testing.T) {
	f := newFixture(t)
	f.settings.update(func(s *config.Settings) { s.Notify.OnNearPrice = false })
	id := f.createAlert(t, "ETHUSDT", "3000", entity.DirectionShort, time.Time{})
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(3100))

	_, err := f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.byKind(notification.EventNearTarget))
	assert.False(t, f.alert(t, id).NearNotified)

	f.settings.update(func(s *config.Settings) { s.Notify.OnNearPrice = true })
	_, err = f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Len(t, f.notifier.byKind(notification.EventNearTarget), 1)
}

func TestScan_NearTargetThresholdFromSettings(t *testing.T) {
	f := newFixture(t)
	f.settings.update(func(s *config.Settings) { s.NearTargetPercent = 98 })
	f.createAlert(t, "ETHUSDT", "3000", entity.DirectionShort, time.Time{})
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(3100))

	_, err := f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.byKind(notification.EventNearTarget))
}

func TestScan_PriceOutageThenRecovery(t *testing.T) {
	f := newFixture(t)
	btc := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, time.Time{})
	eth := f.createAlert(t, "ETHUSDT", "3000", entity.DirectionShort, time.Time{})

	// 批量接口正常但返回空结果
	res, err := f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Triggered)

	// 批量与逐个查询全部失败
	f.exchange.FailBatch(errors.New("batch down"))
	f.exchange.FailTicker("BTCUSDT", errors.New("ticker down"))
	f.exchange.FailTicker("ETHUSDT", errors.New("ticker down"))
	_, err = f.monitor.Scan(f.ctx)
	require.Error(t, err)

	assert.Equal(t, entity.AlertStatusPending, f.alert(t, btc).Status)
	assert.Equal(t, entity.AlertStatusPending, f.alert(t, eth).Status)
	assert.Empty(t, f.notifier.events)

	f.exchange.FailBatch(nil)
	f.exchange.FailTicker("BTCUSDT", nil)
	f.exchange.FailTicker("ETHUSDT", nil)
	f.exchange.SetPrice("BTCUSDT", decimal.NewFromInt(51000))
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(2900))

	res, err = f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Triggered)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, btc).Status)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, eth).Status)
}

func TestScan_PartialPrices(t *testing.T) {
	f := newFixture(t)
	btc := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, time.Time{})
	sol := f.createAlert(t, "SOLUSDT", "100", entity.DirectionLong, time.Time{})
	f.exchange.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	f.exchange.SetPrice("SOLUSDT", decimal.Zero)

	res, err := f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, btc).Status)
	assert.Equal(t, entity.AlertStatusPending, f.alert(t, sol).Status)
}

func TestScan_AlertFailureDoesNotAbortCycle(t *testing.T) {
	f := newFixture(t)
	f.notifier.panicOn = func(evt notification.Event) bool {
		return evt.Alert.Symbol == "BTCUSDT"
	}
	btc := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, time.Time{})
	eth := f.createAlert(t, "ETHUSDT", "3000", entity.DirectionLong, time.Time{})
	f.exchange.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(3000))

	res, err := f.monitor.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, btc).Status)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, eth).Status)
}

func TestScan_StopsBetweenAlertsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	first := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, time.Time{})
	second := f.createAlert(t, "ETHUSDT", "3000", entity.DirectionLong, time.Time{})
	f.exchange.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	f.exchange.SetPrice("ETHUSDT", decimal.NewFromInt(3000))
	f.notifier.panicOn = func(evt notification.Event) bool {
		cancel()
		return false
	}

	res, err := f.monitor.Scan(ctx)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, first).Status)
	assert.Equal(t, entity.AlertStatusPending, f.alert(t, second).Status)
	assert.Len(t, f.notifier.byKind(notification.EventTriggered), 1)
}

func TestReconcile_PromotesRecentTriggeredAlerts(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	recent := f.triggeredAt(t, "XRPUSDT", now.Add(-time.Hour))
	stale := f.triggeredAt(t, "XRPUSDT", now.Add(-30*time.Hour))
	unmatched := f.triggeredAt(t, "BTCUSDT", now.Add(-time.Hour))
	f.exchange.SetPositions(
		exchange.Position{Symbol: "XRPUSDT", PositionSide: exchange.PositionSideLong, Quantity: decimal.NewFromInt(100),
			EntryPrice: decimal.RequireFromString("0.52"), MarkPrice: decimal.RequireFromString("0.53")},
		exchange.Position{Symbol: "BTCUSDT", Quantity: decimal.Zero},
	)

	res, err := f.reconciler.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Executed)

	a := f.alert(t, recent)
	assert.Equal(t, entity.AlertStatusExecuted, a.Status)
	require.NotNil(t, a.ExecutedAt)
	// 窗口外的 TRIGGERED 提醒保持原状
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, stale).Status)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, unmatched).Status)

	events := f.notifier.byKind(notification.EventPositionDetected)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Position)
	assert.True(t, events[0].CurrentPrice.Equal(decimal.RequireFromString("0.53")))

	// 幂等
	res, err = f.reconciler.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Executed)
	assert.Len(t, f.notifier.byKind(notification.EventPositionDetected), 1)
}

func TestReconcile_PositionFeedFailure(t *testing.T) {
	f := newFixture(t)
	f.exchange.FailPositions(errors.New("position api down"))

	// 没有候选提醒时不请求持仓
	_, err := f.reconciler.Reconcile(f.ctx)
	require.NoError(t, err)

	id := f.triggeredAt(t, "XRPUSDT", time.Now().UTC().Add(-time.Hour))
	_, err = f.reconciler.Reconcile(f.ctx)
	require.Error(t, err)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, id).Status)

	f.exchange.FailPositions(nil)
	f.exchange.SetPositions(exchange.Position{Symbol: "XRPUSDT", Quantity: decimal.NewFromInt(-50)})
	res, err := f.reconciler.Reconcile(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)
}

func TestPickPosition(t *testing.T) {
	long := exchange.Position{Symbol: "BTCUSDT", PositionSide: exchange.PositionSideLong, Quantity: decimal.NewFromInt(1)}
	short := exchange.Position{Symbol: "BTCUSDT", PositionSide: exchange.PositionSideShort, Quantity: decimal.NewFromInt(-2)}

	assert.Equal(t, long, pickPosition([]exchange.Position{short, long}, entity.DirectionLong))
	assert.Equal(t, short, pickPosition([]exchange.Position{long, short}, entity.DirectionShort))
	assert.Equal(t, long, pickPosition([]exchange.Position{long}, entity.DirectionShort))

	// 双向持仓模式下部分接口返回的空头数量为正数, 以 PositionSide 为准
	hedgeShort := exchange.Position{Symbol: "BTCUSDT", PositionSide: exchange.PositionSideShort, Quantity: decimal.NewFromInt(3)}
	assert.Equal(t, hedgeShort, pickPosition([]exchange.Position{long, hedgeShort}, entity.DirectionShort))
	assert.Equal(t, long, pickPosition([]exchange.Position{hedgeShort, long}, entity.DirectionLong))

	oneWay := exchange.Position{Symbol: "BTCUSDT", PositionSide: exchange.PositionSideBoth, Quantity: decimal.NewFromInt(-1)}
	assert.Equal(t, oneWay, pickPosition([]exchange.Position{long, oneWay}, entity.DirectionShort))
}

func TestSweep_ExpiresStalePendingAlerts(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	stale := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, now.Add(-25*time.Hour))
	fresh := f.createAlert(t, "ETHUSDT", "3000", entity.DirectionLong, now.Add(-time.Hour))
	staleTriggered := f.triggeredAt(t, "XRPUSDT", now.Add(-40*time.Hour))

	res, err := f.sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	assert.Equal(t, entity.AlertStatusExpired, f.alert(t, stale).Status)
	assert.Equal(t, entity.AlertStatusPending, f.alert(t, fresh).Status)
	assert.Equal(t, entity.AlertStatusTriggered, f.alert(t, staleTriggered).Status)
	assert.Len(t, f.notifier.byKind(notification.EventExpired), 1)

	res, err = f.sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
}

func TestSweep_UsesSettingsAndClock(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, created)
	clock := created.Add(5 * time.Hour)
	sweeper := NewExpirySweeper(f.repo, alert.NewTransitioner(f.repo), f.notifier, f.settings,
		WithClock(func() time.Time { return clock }))

	f.settings.update(func(s *config.Settings) { s.ExpiryHours = 0 })
	res, err := sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)

	f.settings.update(func(s *config.Settings) { s.ExpiryHours = 6 })
	res, err = sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)

	f.settings.update(func(s *config.Settings) { s.ExpiryHours = 4 })
	res, err = sweeper.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, entity.AlertStatusExpired, f.alert(t, id).Status)
}

func TestTasks(t *testing.T) {
	f := newFixture(t)
	f.createAlert(t, "BTCUSDT", "50000", entity.DirectionLong, time.Time{})
	f.exchange.FailBatch(errors.New("batch down"))
	f.exchange.FailTicker("BTCUSDT", errors.New("ticker down"))

	scan := NewAlertMonitorTask(f.monitor)
	assert.Equal(t, "alert monitor", scan.Name())
	assert.Error(t, scan.Run(f.ctx))

	assert.NoError(t, NewPositionReconcileTask(f.reconciler).Run(f.ctx))
	assert.NoError(t, NewExpirySweepTask(f.sweeper).Run(f.ctx))
}
