package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/schedule"
	"github.com/KNICEX/price-sentinel/internal/service/alert"
	"github.com/KNICEX/price-sentinel/internal/service/exchange"
	"github.com/KNICEX/price-sentinel/internal/service/monitor"
	"github.com/KNICEX/price-sentinel/internal/web"
	"github.com/KNICEX/price-sentinel/ioc"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func initViper() {
	// --config=./config/xxx.yaml
	file := pflag.String("config", "./config/config.yaml", "specify config file")
	pflag.Parse()

	viper.SetEnvPrefix("SENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigFile(*file)
	if err := viper.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(*file); statErr == nil {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
		// 没有配置文件时只使用默认值和环境变量
		viper.SetConfigFile("")
		slog.Warn("config file not found, using defaults and environment", "file", *file)
	}
}

func main() {
	initViper()
	ioc.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := ioc.InitRuntimeConfig()
	db := ioc.InitDB(ctx)
	alertRepo := repo.NewAlertRepo(db)
	notificationLogs := repo.NewNotificationLogRepo(db)
	notifier := ioc.InitNotifier(settings, notificationLogs)
	source := ioc.InitPriceSource()
	transitioner := alert.NewTransitioner(alertRepo)

	prices := exchange.NewPriceFetcher(source, source, exchange.WithConcurrency(func() int {
		return settings.Settings().FetchConcurrency
	}))

	runners := []*schedule.Runner{
		schedule.NewRunner(
			monitor.NewAlertMonitorTask(monitor.NewAlertMonitor(alertRepo, transitioner, prices, notifier, settings)),
			func() time.Duration { return settings.Settings().ScanInterval },
		),
		schedule.NewRunner(
			monitor.NewPositionReconcileTask(monitor.NewPositionReconciler(alertRepo, transitioner, source, notifier, settings)),
			func() time.Duration { return settings.Settings().ReconcileInterval },
		),
		schedule.NewRunner(
			monitor.NewExpirySweepTask(monitor.NewExpirySweeper(alertRepo, transitioner, notifier, settings)),
			func() time.Duration { return settings.Settings().SweepInterval },
		),
	}

	reporters := make([]web.StatusReporter, 0, len(runners))
	for _, r := range runners {
		reporters = append(reporters, r)
	}
	server, err := web.NewServer(web.ServerConfig{
		Addr:         viper.GetString("http.addr"),
		Alerts:       alertRepo,
		Transitioner: transitioner,
		Runners:      reporters,

		Notifications: notificationLogs,
		Prices:        prices,
	})
	if err != nil {
		panic(err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		eg.Go(func() error {
			return r.Start(ctx)
		})
	}
	eg.Go(func() error {
		return server.Start(ctx)
	})

	slog.Info("price sentinel started", "http_addr", server.Addr())
	if err := eg.Wait(); err != nil {
		slog.Error("price sentinel exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("price sentinel stopped")
}
