package ioc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/jpillora/backoff"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// InitDB 启动时数据库不可用会按退避策略重试, 超过次数后退出
func InitDB(ctx context.Context) *gorm.DB {
	type Config struct {
		DSN         string        `mapstructure:"dsn"`
		MaxAttempts int           `mapstructure:"max_attempts"`
		MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	}
	cfg := Config{
		DSN:         "price-sentinel.db",
		MaxAttempts: 8,
		MaxBackoff:  30 * time.Second,
	}
	if err := viper.UnmarshalKey("db", &cfg); err != nil {
		panic(err)
	}

	if dir := filepath.Dir(cfg.DSN); !strings.HasPrefix(cfg.DSN, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			panic(err)
		}
	}

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	db, err := openWithRetry(ctx, b, cfg.MaxAttempts, func() (*gorm.DB, error) {
		db, err := repo.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err = repo.InitTables(db); err != nil {
			return nil, fmt.Errorf("init tables: %w", err)
		}
		return db, nil
	})
	if err != nil {
		panic(err)
	}
	return db
}

func openWithRetry(ctx context.Context, b *backoff.Backoff, maxAttempts int, open func() (*gorm.DB, error)) (*gorm.DB, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for {
		db, err := open()
		if err == nil {
			return db, nil
		}
		attempt := int(b.Attempt()) + 1
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("open database after %d attempts: %w", attempt, err)
		}
		wait := b.Duration()
		slog.Warn("database unavailable, retrying", "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
