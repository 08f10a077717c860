package ioc

import (
	"time"

	"github.com/KNICEX/price-sentinel/internal/config"
	"github.com/KNICEX/price-sentinel/internal/repo"
	"github.com/KNICEX/price-sentinel/internal/service/notification"
	"github.com/spf13/viper"
)

// InitChannels 未配置的渠道同样注册, 由 Configured 决定是否跳过
func InitChannels() []notification.Channel {
	type Config struct {
		Timeout  time.Duration `mapstructure:"timeout"`
		Telegram struct {
			BotToken string `mapstructure:"bot_token"`
			ChatId   string `mapstructure:"chat_id"`
			BaseURL  string `mapstructure:"base_url"`
		} `mapstructure:"telegram"`
		Discord struct {
			WebhookURL string `mapstructure:"webhook_url"`
		} `mapstructure:"discord"`
	}
	cfg := Config{Timeout: 10 * time.Second}
	if err := viper.UnmarshalKey("notify", &cfg); err != nil {
		panic(err)
	}

	// 密钥允许通过环境变量覆盖
	cfg.Telegram.BotToken = viper.GetString("notify.telegram.bot_token")
	cfg.Telegram.ChatId = viper.GetString("notify.telegram.chat_id")
	cfg.Discord.WebhookURL = viper.GetString("notify.discord.webhook_url")

	webhook := notification.NewWebhookClient(cfg.Timeout)
	var tgOpts []notification.TelegramOption
	if cfg.Telegram.BaseURL != "" {
		tgOpts = append(tgOpts, notification.WithTelegramBaseURL(cfg.Telegram.BaseURL))
	}
	return []notification.Channel{
		notification.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatId, webhook, tgOpts...),
		notification.NewDiscord(cfg.Discord.WebhookURL, webhook),
		notification.NewConsole(),
	}
}

func InitNotifier(settings config.Provider, logs repo.NotificationLogRepo) *notification.Dispatcher {
	timeout := viper.GetDuration("notify.timeout")
	opts := []notification.DispatcherOption{notification.WithNotificationLog(logs)}
	if timeout > 0 {
		opts = append(opts, notification.WithSendTimeout(timeout))
	}
	return notification.NewDispatcher(settings, InitChannels(), opts...)
}
