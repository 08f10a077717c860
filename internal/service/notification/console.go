package notification

import (
	"context"
	"log/slog"
)

var _ Channel = consoleChannel{}

type consoleChannel struct{}

// NewConsole 把消息写到日志, 未配置任何外部渠道时用于本地调试
func NewConsole() Channel {
	return consoleChannel{}
}

func (consoleChannel) Name() string {
	return "console"
}

func (consoleChannel) Configured() bool {
	return true
}

func (consoleChannel) Send(ctx context.Context, msg Message) error {
	slog.Info("notification", "channel", "console", "message", msg.RenderText())
	return nil
}
