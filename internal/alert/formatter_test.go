package alert

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

type staticEmojis map[string]string

func (s staticEmojis) Emoji(category string) string {
	if e, ok := s[category]; ok {
		return e
	}
	return "📊"
}

func groupFixture(scope models.Scope, key string) *models.CorrelationGroup {
	now := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	first := models.TradeEvent{
		Account: "0xaa", AccountName: "Vault A", Instrument: "ARKM",
		Action: models.ActionOpen, SizeDelta: decimal.NewFromInt(100),
		Notional: decimal.NewFromInt(5000), Timestamp: now.Add(-3 * time.Minute), SnapshotAt: now.Add(-3 * time.Minute),
	}
	trigger := models.TradeEvent{
		Account: "0xbb", AccountName: "Vault B", Instrument: "FET",
		Action: models.ActionIncrease, SizeDelta: decimal.NewFromInt(50),
		Notional: decimal.NewFromInt(2500), Timestamp: now, SnapshotAt: now,
	}
	return &models.CorrelationGroup{
		ID:           "group-1",
		Scope:        scope,
		Key:          key,
		Trigger:      trigger,
		Participants: []models.TradeEvent{first, trigger},
		WindowStart:  first.Timestamp,
		WindowEnd:    trigger.Timestamp,
		TotalValue:   decimal.NewFromInt(7500),
		DetectedAt:   now,
	}
}

func TestFormatInstrumentGroup(t *testing.T) {
	f := NewFormatter(nil)
	g := groupFixture(models.ScopeInstrument, "ETH")
	g.Trigger.Action = models.ActionOpen

	p := f.Format(g)
	if p.Group != g {
		t.Error("Expected payload to reference the group")
	}
	if !strings.Contains(p.Text, "*CONFLUENCE DETECTED*") {
		t.Errorf("Expected instrument header, got:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "🟢") {
		t.Error("Expected OPEN trigger emoji")
	}
	if !strings.Contains(p.Text, "*Token:* ETH") {
		t.Errorf("Expected token line, got:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "$7,500") {
		t.Errorf("Expected formatted total value, got:\n%s", p.Text)
	}
	if strings.Contains(p.Text, "THEME") {
		t.Error("Instrument group must not use the theme header")
	}
}

func TestFormatThemeGroup(t *testing.T) {
	f := NewFormatter(staticEmojis{"AI": "🤖"})
	p := f.Format(groupFixture(models.ScopeTheme, "AI"))

	if !strings.Contains(p.Text, "*THEME CONFLUENCE DETECTED*") {
		t.Errorf("Expected theme header, got:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "🤖") {
		t.Error("Expected category emoji in header")
	}
	if !strings.Contains(p.Text, "ARKM, FET") {
		t.Errorf("Expected distinct instruments listed, got:\n%s", p.Text)
	}
}

func TestFormatParticipantTiming(t *testing.T) {
	f := NewFormatter(nil)
	p := f.Format(groupFixture(models.ScopeInstrument, "ETH"))

	if !strings.Contains(p.Text, "3m ago") {
		t.Errorf("Expected relative timing for the earlier participant, got:\n%s", p.Text)
	}
	if !strings.Contains(p.Text, "just now") {
		t.Errorf("Expected the trigger participant marked as just now, got:\n%s", p.Text)
	}
}

func TestFormatIsDeterministic(t *testing.T) {
	f := NewFormatter(nil)
	g := groupFixture(models.ScopeInstrument, "ETH")
	if f.Format(g).Text != f.Format(g).Text {
		t.Error("Expected formatting to be pure")
	}
}

func TestUSDFormatting(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0"},
		{999, "$999"},
		{1000, "$1,000"},
		{1234567, "$1,234,567"},
		{2500.4, "$2,500"},
		{-12000, "-$12,000"},
	}
	for _, tt := range tests {
		if got := usd(decimal.NewFromFloat(tt.in)); got != tt.want {
			t.Errorf("usd(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeMarkdownSpecials(t *testing.T) {
	in := "A_B*C[D]E(F)G.H!I-J"
	out := esc(in)
	for _, ch := range []string{`\_`, `\*`, `\[`, `\]`, `\(`, `\)`, `\.`, `\!`, `\-`} {
		if !strings.Contains(out, ch) {
			t.Errorf("Expected %s in escaped output %q", ch, out)
		}
	}
}
