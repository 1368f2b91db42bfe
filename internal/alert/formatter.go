// Package alert turns correlation groups into delivery-ready payloads and
// hands them to the configured sink.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

// Payload is a formatted alert ready for delivery. Text is Telegram
// MarkdownV2 with all dynamic content already escaped.
type Payload struct {
	Group *models.CorrelationGroup
	Text  string
}

// EmojiSource resolves a category name to its display emoji.
type EmojiSource interface {
	Emoji(category string) string
}

// Formatter renders correlation groups. It is pure: rendering the same
// group twice yields the same payload.
type Formatter struct {
	emojis EmojiSource
}

// NewFormatter builds a formatter. emojis may be nil; theme alerts then use
// a neutral marker.
func NewFormatter(emojis EmojiSource) *Formatter {
	return &Formatter{emojis: emojis}
}

// Format renders one group into a payload.
func (f *Formatter) Format(g *models.CorrelationGroup) Payload {
	var b strings.Builder

	if g.Scope == models.ScopeTheme {
		emoji := "📊"
		if f.emojis != nil {
			emoji = f.emojis.Emoji(g.Key)
		}
		fmt.Fprintf(&b, "%s *THEME CONFLUENCE DETECTED* %s\n\n", emoji, emoji)
		fmt.Fprintf(&b, "*Theme:* %s\n", esc(g.Key))
		fmt.Fprintf(&b, "*Tokens:* %s\n", esc(strings.Join(g.Instruments(), ", ")))
	} else {
		fmt.Fprintf(&b, "%s *CONFLUENCE DETECTED* 🎯\n\n", actionEmoji(g.Trigger.Action))
		fmt.Fprintf(&b, "*Token:* %s\n", esc(g.Key))
	}

	window := g.WindowEnd.Sub(g.WindowStart)
	fmt.Fprintf(&b, "*Accounts:* %d within %s\n\n", len(g.Participants), esc(humanDuration(window)))

	fmt.Fprintf(&b, "*Trigger:*\n")
	fmt.Fprintf(&b, "• %s: %s %s %s\n\n",
		esc(g.Trigger.AccountName), esc(string(g.Trigger.Action)),
		esc(g.Trigger.Instrument), esc(usd(g.Trigger.Notional)))

	fmt.Fprintf(&b, "*Participants:*\n")
	for i, p := range g.Participants {
		timing := "just now"
		if d := g.Trigger.Timestamp.Sub(p.Timestamp); d >= time.Minute {
			timing = fmt.Sprintf("%dm ago", int(d.Minutes()))
		}
		fmt.Fprintf(&b, "%d\\. %s: %s %s %s \\(%s\\)\n",
			i+1, esc(p.AccountName), esc(string(p.Action)), esc(p.Instrument),
			esc(usd(p.Notional)), esc(timing))
	}

	fmt.Fprintf(&b, "\n*Total value:* %s\n", esc(usd(g.TotalValue)))
	fmt.Fprintf(&b, "*Detected:* %s", esc(g.DetectedAt.Format("15:04:05")))

	return Payload{Group: g, Text: b.String()}
}

func actionEmoji(a models.Action) string {
	switch a {
	case models.ActionOpen:
		return "🟢"
	case models.ActionClose:
		return "🔴"
	default:
		return "📈"
	}
}

// usd renders a notional as $N with thousands separators, no cents.
func usd(v decimal.Decimal) string {
	s := v.Round(0).StringFixed(0)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := "$" + strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}

func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm", int(d.Round(time.Minute).Minutes()))
}

// esc escapes special characters for Telegram MarkdownV2.
func esc(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
