package notification

import (
	"context"
	"strings"
)

var _ Channel = (*Discord)(nil)

// Discord webhook 推送 markdown 消息
type Discord struct {
	webhookURL string
	username   string
	webhook    *WebhookClient
}

func NewDiscord(webhookURL string, webhook *WebhookClient) *Discord {
	return &Discord{
		webhookURL: strings.TrimSpace(webhookURL),
		username:   "Price Sentinel",
		webhook:    webhook,
	}
}

func (d *Discord) Name() string {
	return "discord"
}

func (d *Discord) Configured() bool {
	return d.webhookURL != ""
}

func (d *Discord) Send(ctx context.Context, msg Message) error {
	if !d.Configured() {
		return ErrNotConfigured
	}
	return d.webhook.PostJSON(ctx, d.webhookURL, map[string]any{
		"content":  msg.RenderMarkdown(),
		"username": d.username,
	})
}
