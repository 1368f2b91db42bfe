package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Action classifies how a position changed between two snapshots.
type Action string

const (
	ActionOpen     Action = "OPEN"
	ActionIncrease Action = "INCREASE"
	ActionDecrease Action = "DECREASE"
	ActionClose    Action = "CLOSE"
)

// Scope identifies which correlation dimension a key belongs to.
type Scope string

const (
	ScopeInstrument Scope = "instrument"
	ScopeTheme      Scope = "theme"
)

// TradeEvent is one normalized position change for one (account, instrument)
// pair, produced by the differ. Immutable once created. Category is empty for
// instruments outside the theme table.
type TradeEvent struct {
	Account     string          `json:"account"`
	AccountName string          `json:"account_name"`
	Instrument  string          `json:"instrument"`
	Category    string          `json:"category,omitempty"`
	Action      Action          `json:"action"`
	SizeDelta   decimal.Decimal `json:"size_delta"`
	Notional    decimal.Decimal `json:"notional"`
	Timestamp   time.Time       `json:"timestamp"`
	SnapshotAt  time.Time       `json:"snapshot_at"`
}

// Validate rejects events that must never reach a window store.
func (e *TradeEvent) Validate() error {
	if e.Account == "" {
		return errors.New("trade event account must not be empty")
	}
	if e.Instrument == "" {
		return errors.New("trade event instrument must not be empty")
	}
	switch e.Action {
	case ActionOpen, ActionIncrease, ActionDecrease, ActionClose:
	default:
		return errors.New("trade event action is unknown")
	}
	if e.Notional.IsNegative() {
		return errors.New("trade event notional must not be negative")
	}
	if e.Timestamp.IsZero() {
		return errors.New("trade event timestamp must be set")
	}
	return nil
}

// CorrelationGroup is the terminal output of the detector: several distinct
// accounts producing matching events for one scope key within one window.
// Immutable once built; a later crossing produces a new group.
type CorrelationGroup struct {
	ID           string          `json:"id"`
	Scope        Scope           `json:"scope"`
	Key          string          `json:"key"`
	Trigger      TradeEvent      `json:"trigger"`
	Participants []TradeEvent    `json:"participants"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
	TotalValue   decimal.Decimal `json:"total_value"`
	DetectedAt   time.Time       `json:"detected_at"`
}

// Instruments returns the distinct instruments contributed by participants,
// in participant order. For instrument-scoped groups this is a single entry.
func (g *CorrelationGroup) Instruments() []string {
	seen := make(map[string]bool, len(g.Participants))
	var out []string
	for _, p := range g.Participants {
		if !seen[p.Instrument] {
			seen[p.Instrument] = true
			out = append(out, p.Instrument)
		}
	}
	return out
}
