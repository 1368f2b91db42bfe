// Package engine implements the confluence correlation core: snapshot
// diffing, sliding event windows, and threshold detection with cooldown.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

// Differ turns consecutive position snapshots of one account into discrete
// trade events.
type Differ struct {
	now func() time.Time
}

// NewDiffer builds a differ stamping events with wall-clock time. A nil
// clock defaults to time.Now.
func NewDiffer(clock func() time.Time) *Differ {
	if clock == nil {
		clock = time.Now
	}
	return &Differ{now: clock}
}

// Diff compares prev and cur and returns one event per changed instrument.
//
// A nil prev means the account was just subscribed: the snapshot becomes the
// baseline and no events are emitted. Size comparison is exact decimal
// arithmetic; unchanged sizes produce nothing. A size change that crosses
// zero is reported as a single OPEN on the new side (delta and notional from
// the new position); only landing exactly at zero is a CLOSE.
//
// The result carries at most one event per (account, instrument) pair by
// construction; events are ordered by instrument for determinism.
func (d *Differ) Diff(account *models.TrackedAccount, prev, cur *models.PositionSnapshot) []models.TradeEvent {
	if prev == nil || cur == nil {
		return nil
	}

	before := prev.ByInstrument()
	after := cur.ByInstrument()

	instruments := make([]string, 0, len(before)+len(after))
	seen := make(map[string]bool, len(before)+len(after))
	for inst := range after {
		instruments = append(instruments, inst)
		seen[inst] = true
	}
	for inst := range before {
		if !seen[inst] {
			instruments = append(instruments, inst)
		}
	}
	sort.Strings(instruments)

	now := d.now()
	var events []models.TradeEvent
	emitted := make(map[string]bool, len(instruments))

	for _, inst := range instruments {
		oldPos, hadOld := before[inst]
		newPos, hasNew := after[inst]

		oldSize := decimal.Zero
		if hadOld {
			oldSize = oldPos.Size
		}
		newSize := decimal.Zero
		if hasNew {
			newSize = newPos.Size
		}
		if oldSize.Equal(newSize) {
			continue
		}

		ev := models.TradeEvent{
			Account:     account.Address,
			AccountName: account.Name,
			Instrument:  inst,
			Action:      classify(oldSize, newSize),
			SizeDelta:   newSize.Sub(oldSize),
			Timestamp:   now,
			SnapshotAt:  cur.Timestamp,
		}
		if hasNew && ev.Action != models.ActionClose {
			ev.Notional = newPos.Notional
		} else {
			// A close always settles to zero notional.
			ev.Notional = decimal.Zero
		}
		if ev.Action == models.ActionOpen && hadOld {
			// Sign flip: the new exposure is the reportable fact.
			ev.SizeDelta = newSize
		}

		if emitted[inst] {
			// One event per (account, instrument) per run is a structural
			// invariant; a duplicate here is a logic defect, not bad data.
			panic(fmt.Sprintf("engine: duplicate trade event for %s/%s in one diff", account.Address, inst))
		}
		emitted[inst] = true
		events = append(events, ev)
	}
	return events
}

// classify maps an old/new signed size pair to an action. oldSize and
// newSize are known to differ.
func classify(oldSize, newSize decimal.Decimal) models.Action {
	switch {
	case oldSize.IsZero():
		return models.ActionOpen
	case newSize.IsZero():
		return models.ActionClose
	case oldSize.Sign() != newSize.Sign():
		// Crossed zero without pausing there: treat as an OPEN on the new side.
		return models.ActionOpen
	case newSize.Abs().GreaterThan(oldSize.Abs()):
		return models.ActionIncrease
	default:
		return models.ActionDecrease
	}
}
