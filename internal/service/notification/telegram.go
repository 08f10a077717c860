package notification

import (
	"context"
	"fmt"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

var _ Channel = (*Telegram)(nil)

// Telegram 通过 Bot API sendMessage 推送 HTML 消息
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	webhook  *WebhookClient
}

type TelegramOption func(t *Telegram)

// WithTelegramBaseURL 替换 Bot API 地址
func WithTelegramBaseURL(url string) TelegramOption {
	return func(t *Telegram) {
		t.baseURL = strings.TrimRight(url, "/")
	}
}

func NewTelegram(botToken, chatID string, webhook *WebhookClient, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		botToken: strings.TrimSpace(botToken),
		chatID:   strings.TrimSpace(chatID),
		baseURL:  telegramAPI,
		webhook:  webhook,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Configured() bool {
	return t.botToken != "" && t.chatID != ""
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	return t.webhook.PostJSON(ctx, url, map[string]any{
		"chat_id":                  t.chatID,
		"text":                     msg.RenderHTML(),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}
