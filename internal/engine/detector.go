package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

// emission remembers the last group emitted per scope key, for cooldown.
type emission struct {
	at           time.Time
	participants map[string]bool
}

// Detector evaluates the live window of one scope dimension after every
// insert and decides whether a correlation group crosses the configured
// threshold. One detector instance serves one scope (instrument or theme).
type Detector struct {
	scope models.Scope

	mu   sync.Mutex
	last map[string]emission
}

// NewDetector builds a detector for one scope dimension.
func NewDetector(scope models.Scope) *Detector {
	return &Detector{scope: scope, last: make(map[string]emission)}
}

// Evaluate reduces live entries to the latest event per distinct account,
// compares the distinct-account count to threshold, and applies the cooldown:
// an unchanged participant set that already produced a group within the last
// window is suppressed. trigger is the event whose insertion prompted this
// evaluation. Returns nil when no group is emitted.
func (d *Detector) Evaluate(key string, live []WindowEntry, trigger models.TradeEvent, threshold int, window time.Duration, now time.Time) *models.CorrelationGroup {
	reduced := latestPerAccount(live)
	if len(reduced) < threshold {
		return nil
	}

	accounts := make(map[string]bool, len(reduced))
	for _, e := range reduced {
		accounts[e.Event.Account] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.last[key]; ok && now.Sub(prev.at) < window && sameAccounts(prev.participants, accounts) {
		return nil
	}
	d.last[key] = emission{at: now, participants: accounts}

	participants := make([]models.TradeEvent, 0, len(reduced))
	total := decimal.Zero
	windowStart := reduced[0].Event.Timestamp
	for _, e := range reduced {
		participants = append(participants, e.Event)
		total = total.Add(e.Event.Notional)
		if e.Event.Timestamp.Before(windowStart) {
			windowStart = e.Event.Timestamp
		}
	}

	return &models.CorrelationGroup{
		ID:           uuid.New().String(),
		Scope:        d.scope,
		Key:          key,
		Trigger:      trigger,
		Participants: participants,
		WindowStart:  windowStart,
		WindowEnd:    trigger.Timestamp,
		TotalValue:   total,
		DetectedAt:   now,
	}
}

// Forget clears the cooldown record for a scope key. Used when rules change
// in a way that should allow immediate re-evaluation.
func (d *Detector) Forget(key string) {
	d.mu.Lock()
	delete(d.last, key)
	d.mu.Unlock()
}

// latestPerAccount keeps, for each account, its most recent entry; ties on
// timestamp fall back to the insertion sequence. The result is ordered by
// (timestamp, seq) ascending.
func latestPerAccount(live []WindowEntry) []WindowEntry {
	best := make(map[string]WindowEntry, len(live))
	for _, e := range live {
		cur, ok := best[e.Event.Account]
		if !ok || newer(e, cur) {
			best[e.Event.Account] = e
		}
	}
	out := make([]WindowEntry, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Event.Timestamp.Equal(out[j].Event.Timestamp) {
			return out[i].Event.Timestamp.Before(out[j].Event.Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func newer(a, b WindowEntry) bool {
	if !a.Event.Timestamp.Equal(b.Event.Timestamp) {
		return a.Event.Timestamp.After(b.Event.Timestamp)
	}
	return a.Seq > b.Seq
}

func sameAccounts(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
