package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings 每轮循环开始时读取的运行时配置, 支持热更新
type Settings struct {
	ScanInterval      time.Duration
	ReconcileInterval time.Duration
	SweepInterval     time.Duration
	ReconcileWindow   time.Duration
	ExpiryHours       int
	NearTargetPercent float64
	FetchConcurrency  int
	Notify            NotifySettings
}

type NotifySettings struct {
	OnTrigger          bool
	OnNearPrice        bool
	OnPositionDetected bool
	OnExpiry           bool
	// 渠道开关, key 为渠道名称, 缺省视为开启
	Channels map[string]bool
}

func (n NotifySettings) ChannelEnabled(name string) bool {
	enabled, ok := n.Channels[name]
	return !ok || enabled
}

func DefaultSettings() Settings {
	return Settings{
		ScanInterval:      30 * time.Second,
		ReconcileInterval: 60 * time.Second,
		SweepInterval:     5 * time.Minute,
		ReconcileWindow:   24 * time.Hour,
		ExpiryHours:       24,
		NearTargetPercent: 95,
		FetchConcurrency:  8,
		Notify: NotifySettings{
			OnTrigger:          true,
			OnNearPrice:        true,
			OnPositionDetected: true,
			OnExpiry:           false,
		},
	}
}

type Provider interface {
	Settings() Settings
}

// StaticProvider 固定配置, 主要用于测试
type StaticProvider Settings

func (p StaticProvider) Settings() Settings {
	return Settings(p)
}

// SetDefaults 注册运行时配置默认值
func SetDefaults(v *viper.Viper) {
	def := DefaultSettings()
	v.SetDefault("monitor.scan_interval", def.ScanInterval)
	v.SetDefault("monitor.reconcile_interval", def.ReconcileInterval)
	v.SetDefault("monitor.sweep_interval", def.SweepInterval)
	v.SetDefault("monitor.reconcile_window", def.ReconcileWindow)
	v.SetDefault("monitor.default_expiry_hours", def.ExpiryHours)
	v.SetDefault("monitor.near_target_percent", def.NearTargetPercent)
	v.SetDefault("monitor.fetch_concurrency", def.FetchConcurrency)
	v.SetDefault("notify.on_trigger", def.Notify.OnTrigger)
	v.SetDefault("notify.on_near_price", def.Notify.OnNearPrice)
	v.SetDefault("notify.on_position_detected", def.Notify.OnPositionDetected)
	v.SetDefault("notify.on_expiry", def.Notify.OnExpiry)
	v.SetDefault("notify.telegram.enabled", true)
	v.SetDefault("notify.discord.enabled", true)
	v.SetDefault("notify.console.enabled", false)
}

// Load 从 viper 解析运行时配置, 非法值回退到默认值
func Load(v *viper.Viper) Settings {
	def := DefaultSettings()
	s := Settings{
		ScanInterval:      positiveDuration(v, "monitor.scan_interval", def.ScanInterval),
		ReconcileInterval: positiveDuration(v, "monitor.reconcile_interval", def.ReconcileInterval),
		SweepInterval:     positiveDuration(v, "monitor.sweep_interval", def.SweepInterval),
		ReconcileWindow:   positiveDuration(v, "monitor.reconcile_window", def.ReconcileWindow),
		ExpiryHours:       v.GetInt("monitor.default_expiry_hours"),
		NearTargetPercent: v.GetFloat64("monitor.near_target_percent"),
		FetchConcurrency:  v.GetInt("monitor.fetch_concurrency"),
		Notify: NotifySettings{
			OnTrigger:          v.GetBool("notify.on_trigger"),
			OnNearPrice:        v.GetBool("notify.on_near_price"),
			OnPositionDetected: v.GetBool("notify.on_position_detected"),
			OnExpiry:           v.GetBool("notify.on_expiry"),
			Channels: map[string]bool{
				"telegram": v.GetBool("notify.telegram.enabled"),
				"discord":  v.GetBool("notify.discord.enabled"),
				"console":  v.GetBool("notify.console.enabled"),
			},
		},
	}
	// 0 表示关闭过期清理
	if s.ExpiryHours < 0 {
		slog.Warn("invalid config value, fallback to default", "key", "monitor.default_expiry_hours", "value", s.ExpiryHours)
		s.ExpiryHours = def.ExpiryHours
	}
	if s.NearTargetPercent <= 0 || s.NearTargetPercent > 100 {
		slog.Warn("invalid config value, fallback to default", "key", "monitor.near_target_percent", "value", s.NearTargetPercent)
		s.NearTargetPercent = def.NearTargetPercent
	}
	if s.FetchConcurrency <= 0 {
		slog.Warn("invalid config value, fallback to default", "key", "monitor.fetch_concurrency", "value", s.FetchConcurrency)
		s.FetchConcurrency = def.FetchConcurrency
	}
	return s
}

func positiveDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d := v.GetDuration(key)
	if d <= 0 {
		slog.Warn("invalid config value, fallback to default", "key", key, "value", d)
		return def
	}
	return d
}

// ViperProvider 监听配置文件变更, 保存最近一次合法的配置快照
type ViperProvider struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur Settings
}

// NewViperProvider 创建热更新配置, 配置文件存在时开始监听
func NewViperProvider(v *viper.Viper) *ViperProvider {
	SetDefaults(v)
	p := &ViperProvider{v: v, cur: Load(v)}
	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(evt fsnotify.Event) {
			p.Reload(evt.Name)
		})
		v.WatchConfig()
	}
	return p
}

// Reload 重新解析配置
func (p *ViperProvider) Reload(source string) {
	s := Load(p.v)
	p.mu.Lock()
	p.cur = s
	p.mu.Unlock()
	slog.Info("runtime config reloaded", "source", source,
		"scan_interval", s.ScanInterval, "reconcile_interval", s.ReconcileInterval,
		"expiry_hours", s.ExpiryHours, "near_target_percent", s.NearTargetPercent)
}

func (p *ViperProvider) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.cur
	s.Notify.Channels = make(map[string]bool, len(p.cur.Notify.Channels))
	for k, v := range p.cur.Notify.Channels {
		s.Notify.Channels[k] = v
	}
	return s
}
