package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid lowercase", "0x1234567890abcdef1234567890abcdef12345678", false},
		{"valid mixed case", "0x1234567890ABCDEF1234567890abcdef12345678", false},
		{"missing prefix", "1234567890abcdef1234567890abcdef1234567890", true},
		{"too short", "0x1234", true},
		{"too long", "0x1234567890abcdef1234567890abcdef123456789a0", true},
		{"non-hex characters", "0x1234567890abcdef1234567890abcdef1234567g", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error for %q", tt.addr)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected %q to be valid, got %v", tt.addr, err)
			}
		})
	}
}

func TestTrackedAccountValidate(t *testing.T) {
	valid := TrackedAccount{
		Address: "0x1234567890abcdef1234567890abcdef12345678",
		Name:    "Main Vault",
		Kind:    KindVault,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid account, got %v", err)
	}

	noName := valid
	noName.Name = ""
	if err := noName.Validate(); err == nil {
		t.Error("Expected an error for a nameless account")
	}

	badKind := valid
	badKind.Kind = "broker"
	if err := badKind.Validate(); err == nil {
		t.Error("Expected an error for an unknown kind")
	}
}

func TestByInstrumentCollapsesDuplicates(t *testing.T) {
	snap := PositionSnapshot{
		Account:   "0x1234567890abcdef1234567890abcdef12345678",
		Timestamp: time.Now(),
		Positions: []Position{
			{Instrument: "ETH", Size: decimal.NewFromInt(1)},
			{Instrument: "BTC", Size: decimal.NewFromInt(2)},
			{Instrument: "ETH", Size: decimal.NewFromInt(3)},
			{Instrument: "", Size: decimal.NewFromInt(9)},
		},
	}

	m := snap.ByInstrument()
	if len(m) != 2 {
		t.Fatalf("Expected 2 instruments, got %d", len(m))
	}
	if !m["ETH"].Size.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected the last ETH row to win, got %s", m["ETH"].Size)
	}
}

func TestTradeEventValidate(t *testing.T) {
	valid := TradeEvent{
		Account:    "0x1234567890abcdef1234567890abcdef12345678",
		Instrument: "ETH",
		Action:     ActionOpen,
		Notional:   decimal.NewFromInt(1000),
		Timestamp:  time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid event, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*TradeEvent)
	}{
		{"empty account", func(e *TradeEvent) { e.Account = "" }},
		{"empty instrument", func(e *TradeEvent) { e.Instrument = "" }},
		{"unknown action", func(e *TradeEvent) { e.Action = "HOLD" }},
		{"negative notional", func(e *TradeEvent) { e.Notional = decimal.NewFromInt(-1) }},
		{"zero timestamp", func(e *TradeEvent) { e.Timestamp = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			if err := ev.Validate(); err == nil {
				t.Error("Expected a validation error")
			}
		})
	}
}
