// Package models defines the core domain entities: tracked accounts,
// position snapshots, trade events, and correlation groups.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes the two kinds of tracked exchange accounts.
type AccountKind string

const (
	KindVault  AccountKind = "vault"
	KindWallet AccountKind = "wallet"
)

// TrackedAccount is an exchange account under observation. Identity is the
// lowercased address and is immutable; the account contributes events only
// while Active.
type TrackedAccount struct {
	Address             string      `json:"address"`
	Name                string      `json:"name"`
	Kind                AccountKind `json:"kind"`
	Active              bool        `json:"active"`
	LastChecked         time.Time   `json:"last_checked"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	CreatedAt           time.Time   `json:"created_at"`
}

// Validate checks account field constraints.
func (a *TrackedAccount) Validate() error {
	if err := ValidateAddress(a.Address); err != nil {
		return err
	}
	if a.Name == "" {
		return errors.New("account name must not be empty")
	}
	if a.Kind != KindVault && a.Kind != KindWallet {
		return fmt.Errorf("unknown account kind: %q", a.Kind)
	}
	return nil
}

// ValidateAddress checks the 0x-prefixed 40-hex-digit address format.
func ValidateAddress(addr string) error {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return errors.New("address must be 0x followed by 40 hex characters")
	}
	for _, c := range addr[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return errors.New("address must be 0x followed by 40 hex characters")
		}
	}
	return nil
}

// Position is a single open position within a snapshot. Size is signed:
// positive for long, negative for short.
type Position struct {
	Instrument string          `json:"instrument"`
	Size       decimal.Decimal `json:"size"`
	Notional   decimal.Decimal `json:"notional"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// PositionSnapshot is the full position set of one account at one
// exchange-reported instant. Snapshots are never mutated after receipt.
type PositionSnapshot struct {
	Account   string     `json:"account"`
	Timestamp time.Time  `json:"timestamp"`
	Positions []Position `json:"positions"`
}

// ByInstrument folds the position list into a map keyed by instrument id.
// Duplicate instrument rows collapse to the last occurrence.
func (s *PositionSnapshot) ByInstrument() map[string]Position {
	out := make(map[string]Position, len(s.Positions))
	for _, p := range s.Positions {
		if p.Instrument == "" {
			continue
		}
		out[p.Instrument] = p
	}
	return out
}
