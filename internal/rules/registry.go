// Package rules holds the mutable detection configuration. Reads are
// lock-free snapshots; writes validate, persist, then publish atomically, so
// the detector never observes a partially-updated rule set.
package rules

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Validation bounds for operator-settable values.
var (
	ErrCountTooLow   = errors.New("confluence count must be at least 2")
	ErrWindowTooLow  = errors.New("time window must be at least 60s")
	ErrNegativeValue = errors.New("min trade value must not be negative")
)

// Scoped are the per-dimension detection rules, applied independently to
// instrument-level and theme-level correlation.
type Scoped struct {
	ConfluenceCount int           `json:"confluence_count"`
	Window          time.Duration `json:"window"`
	Enabled         bool          `json:"enabled"`
}

func (s Scoped) validate() error {
	if s.ConfluenceCount < 2 {
		return fmt.Errorf("%w: got %d", ErrCountTooLow, s.ConfluenceCount)
	}
	if s.Window < time.Minute {
		return fmt.Errorf("%w: got %s", ErrWindowTooLow, s.Window)
	}
	return nil
}

// Rules is one immutable committed rule set.
type Rules struct {
	Instrument    Scoped          `json:"instrument"`
	Theme         Scoped          `json:"theme"`
	MinTradeValue decimal.Decimal `json:"min_trade_value"`
}

// Validate checks every bound; callers get the first violation.
func (r Rules) Validate() error {
	if err := r.Instrument.validate(); err != nil {
		return fmt.Errorf("instrument rules: %w", err)
	}
	if err := r.Theme.validate(); err != nil {
		return fmt.Errorf("theme rules: %w", err)
	}
	if r.MinTradeValue.IsNegative() {
		return ErrNegativeValue
	}
	return nil
}

// Defaults mirrors the shipped configuration: 2 accounts within 10 minutes
// per instrument, 2 accounts within 15 minutes per theme, $1000 floor.
func Defaults() Rules {
	return Rules{
		Instrument:    Scoped{ConfluenceCount: 2, Window: 10 * time.Minute, Enabled: true},
		Theme:         Scoped{ConfluenceCount: 2, Window: 15 * time.Minute, Enabled: true},
		MinTradeValue: decimal.NewFromInt(1000),
	}
}

// Store persists committed rule sets across restarts.
type Store interface {
	SaveRules(r Rules) error
	LoadRules() (*Rules, error) // nil, nil when nothing persisted yet
}

// Registry is the shared-read, single-writer rule registry.
type Registry struct {
	current atomic.Pointer[Rules]
	writeMu sync.Mutex
	store   Store
}

// NewRegistry builds a registry seeded from the store, falling back to
// defaults (and persisting them) when the store is empty. Store may be nil
// for tests.
func NewRegistry(store Store) (*Registry, error) {
	reg := &Registry{store: store}
	initial := Defaults()
	if store != nil {
		persisted, err := store.LoadRules()
		if err != nil {
			return nil, fmt.Errorf("failed to load persisted rules: %w", err)
		}
		if persisted != nil {
			if err := persisted.Validate(); err != nil {
				return nil, fmt.Errorf("persisted rules are invalid: %w", err)
			}
			initial = *persisted
		} else if err := store.SaveRules(initial); err != nil {
			return nil, fmt.Errorf("failed to persist default rules: %w", err)
		}
	}
	reg.current.Store(&initial)
	return reg, nil
}

// Current returns the latest committed rule set. The returned value is a
// consistent snapshot and safe to read without further synchronization.
func (reg *Registry) Current() Rules {
	return *reg.current.Load()
}

// Update validates and commits a whole rule set. On validation or
// persistence failure the prior rules stay in effect.
func (reg *Registry) Update(r Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	reg.writeMu.Lock()
	defer reg.writeMu.Unlock()
	if reg.store != nil {
		if err := reg.store.SaveRules(r); err != nil {
			return fmt.Errorf("failed to persist rules: %w", err)
		}
	}
	reg.current.Store(&r)
	return nil
}

// Modify applies fn to a copy of the current rules and commits the result,
// serialized against concurrent writers.
func (reg *Registry) Modify(fn func(*Rules)) error {
	reg.writeMu.Lock()
	defer reg.writeMu.Unlock()
	next := *reg.current.Load()
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if reg.store != nil {
		if err := reg.store.SaveRules(next); err != nil {
			return fmt.Errorf("failed to persist rules: %w", err)
		}
	}
	reg.current.Store(&next)
	return nil
}
