package notification

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KNICEX/price-sentinel/internal/entity"
	"github.com/KNICEX/price-sentinel/internal/service/exchange"
)

// 各渠道单条消息字符上限
const (
	TelegramMaxLen = 4096
	DiscordMaxLen  = 2000
)

const ellipsis = "…"

// Line 一行 "标签: 值", Strong 表示值需要加粗
type Line struct {
	Label  string
	Value  string
	Strong bool
}

// Message 与渠道无关的结构化消息, 由渠道决定渲染格式
type Message struct {
	Icon      string
	Title     string
	Lines     []Line
	Note      string
	Footer    string
	Timestamp time.Time
}

// RenderHTML Telegram parse_mode=HTML
func (m Message) RenderHTML() string {
	return m.render(func(s string) string {
		return "<b>" + html.EscapeString(s) + "</b>"
	}, html.EscapeString, TelegramMaxLen)
}

// RenderMarkdown Discord markdown
func (m Message) RenderMarkdown() string {
	return m.render(func(s string) string {
		return "**" + s + "**"
	}, func(s string) string { return s }, DiscordMaxLen)
}

// RenderText 纯文本, 用于日志
func (m Message) RenderText() string {
	plain := func(s string) string { return s }
	return m.render(plain, plain, 0)
}

// render 超出 limit 时只截断 Note, 标题、字段、时间和 footer 始终保留.
// 截断发生在转义之前并按 rune 计算, 不会切开实体或多字节字符.
func (m Message) render(bold, escape func(string) string, limit int) string {
	note := []rune(strings.TrimSpace(m.Note))
	body := m.compose(bold, escape, string(note))
	if limit <= 0 || utf8.RuneCountInString(body) <= limit {
		return body
	}
	withPrefix := func(k int) string {
		prefix := strings.TrimSpace(string(note[:k]))
		if prefix == "" {
			return m.compose(bold, escape, "")
		}
		return m.compose(bold, escape, prefix+ellipsis)
	}
	// 二分查找能放下的最长 Note 前缀
	lo, hi := 0, len(note)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if utf8.RuneCountInString(withPrefix(mid)) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return withPrefix(lo)
}

func (m Message) compose(bold, escape func(string) string, note string) string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(bold(header))
		b.WriteString("\n\n")
	}
	for _, line := range m.Lines {
		value := escape(line.Value)
		if line.Strong {
			value = bold(line.Value)
		}
		b.WriteString(escape(line.Label))
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	if note != "" {
		b.WriteString("\n")
		b.WriteString(escape(note))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("\n")
		b.WriteString(escape("Time: " + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")))
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString("\n")
		b.WriteString(escape(footer))
	}
	return strings.TrimSpace(b.String())
}

const footer = "price-sentinel"

// BuildMessage 根据事件类型生成消息内容
func BuildMessage(evt Event) Message {
	a := evt.Alert
	msg := Message{
		Footer:    footer,
		Timestamp: evt.Timestamp,
	}
	current := "n/a"
	if !evt.CurrentPrice.IsZero() {
		current = evt.CurrentPrice.String()
	}
	base := []Line{
		{Label: "Symbol", Value: a.Symbol, Strong: true},
		{Label: "Pair", Value: pairLabel(a.Symbol)},
		{Label: "Direction", Value: string(a.Direction)},
		{Label: "Current price", Value: current, Strong: true},
		{Label: "Target price", Value: a.TargetPrice.String(), Strong: true},
	}

	switch evt.Kind {
	case EventTriggered:
		msg.Icon, msg.Title = directionIcon(a.Direction, "🟢📈", "🔴📉"), "ALERT TRIGGERED"
		msg.Lines = base
		if a.Direction == entity.DirectionLong {
			msg.Note = "Price rose to the target level."
		} else {
			msg.Note = "Price fell to the target level."
		}
		if notes := strings.TrimSpace(a.Notes); notes != "" {
			msg.Note += "\n" + notes
		}
	case EventNearTarget:
		msg.Icon, msg.Title = directionIcon(a.Direction, "🟡📈", "🟡📉"), "PRICE NEAR TARGET"
		msg.Lines = append(base, Line{Label: "Progress", Value: fmt.Sprintf("%.1f%%", evt.Progress), Strong: true})
	case EventPositionDetected:
		msg.Icon, msg.Title = "✅", "POSITION DETECTED"
		msg.Lines = base
		if evt.Position != nil {
			msg.Lines = append(msg.Lines,
				Line{Label: "Entry price", Value: evt.Position.EntryPrice.String()},
				Line{Label: "Size", Value: evt.Position.Quantity.String()},
			)
			if side := evt.Position.PositionSide; side != "" && side != exchange.PositionSideBoth {
				msg.Lines = append(msg.Lines, Line{Label: "Side", Value: string(side)})
			}
		}
		msg.Note = fmt.Sprintf("Alert #%d executed.", a.Id)
	case EventExpired:
		msg.Icon, msg.Title = "⌛", "ALERT EXPIRED"
		msg.Lines = base
		msg.Note = fmt.Sprintf("Alert #%d expired without reaching its target.", a.Id)
	default:
		msg.Title = string(evt.Kind)
		msg.Lines = base
	}
	return msg
}

func directionIcon(d entity.AlertDirection, long, short string) string {
	if d == entity.DirectionLong {
		return long
	}
	return short
}

// pairLabel BTCUSDT -> BTC/USDT, 无法识别计价币种时原样返回
func pairLabel(symbol string) string {
	pair := exchange.ParseTradingPair(symbol)
	if pair.IsZero() {
		return symbol
	}
	return pair.ToSlashString()
}
