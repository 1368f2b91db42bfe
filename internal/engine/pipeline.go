package engine

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwo-labs/vaultwatch/internal/models"
	"github.com/jwo-labs/vaultwatch/internal/rules"
)

// Classifier resolves an instrument to its thematic category.
type Classifier interface {
	Classify(instrument string) (string, bool)
}

// RuleSource yields the current committed rule set. Reads must be
// snapshot-consistent.
type RuleSource interface {
	Current() rules.Rules
}

// Recorder persists accepted trade events. Persistence failures are logged,
// never fatal: history is an audit trail, not detection state.
type Recorder interface {
	InsertTradeEvent(ev *models.TradeEvent) error
}

// stripe count for per-scope-key serialization. Keys hash onto a fixed set
// of locks so memory stays bounded at high scope cardinality.
const lockStripes = 64

type stripedLocks [lockStripes]sync.Mutex

func (s *stripedLocks) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &s[h.Sum32()%lockStripes]
	m.Lock()
	return m
}

// Pipeline connects the differ to the two window/detector pairs: every
// account snapshot pair is diffed, events are filtered and classified, then
// inserted into the instrument-level and theme-level windows where each
// insert is immediately evaluated. Insert-then-evaluate is atomic per scope
// key; distinct keys proceed in parallel.
type Pipeline struct {
	differ     *Differ
	classifier Classifier
	rules      RuleSource
	recorder   Recorder
	now        func() time.Time

	instrumentWindows *WindowStore
	instrumentLocks   stripedLocks
	instrumentDet     *Detector

	themeWindows *WindowStore
	themeLocks   stripedLocks
	themeDet     *Detector
}

// NewPipeline wires the correlation core. recorder may be nil; a nil clock
// defaults to time.Now. The same clock stamps events and drives eviction.
func NewPipeline(classifier Classifier, ruleSource RuleSource, recorder Recorder, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		differ:            NewDiffer(clock),
		classifier:        classifier,
		rules:             ruleSource,
		recorder:          recorder,
		now:               clock,
		instrumentWindows: NewWindowStore(),
		instrumentDet:     NewDetector(models.ScopeInstrument),
		themeWindows:      NewWindowStore(),
		themeDet:          NewDetector(models.ScopeTheme),
	}
}

// Ingest diffs one account's snapshot pair and runs every resulting event
// through both correlation dimensions, returning the groups emitted by this
// batch. A nil prev establishes the baseline and yields nothing.
func (p *Pipeline) Ingest(account *models.TrackedAccount, prev, cur *models.PositionSnapshot) []*models.CorrelationGroup {
	events := p.differ.Diff(account, prev, cur)
	if len(events) == 0 {
		return nil
	}

	r := p.rules.Current()
	var groups []*models.CorrelationGroup
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			log.Warn().Err(err).Str("account", account.Address).Str("instrument", ev.Instrument).
				Msg("dropping malformed trade event")
			continue
		}
		if ev.Notional.LessThan(r.MinTradeValue) {
			log.Debug().Str("account", account.Name).Str("instrument", ev.Instrument).
				Stringer("notional", ev.Notional).Msg("trade below minimum value, skipped")
			continue
		}

		if category, ok := p.classifier.Classify(ev.Instrument); ok {
			ev.Category = category
		}

		log.Info().Str("account", account.Name).Str("instrument", ev.Instrument).
			Str("action", string(ev.Action)).Stringer("notional", ev.Notional).
			Msg("trade event")

		if p.recorder != nil {
			if err := p.recorder.InsertTradeEvent(&ev); err != nil {
				log.Warn().Err(err).Str("instrument", ev.Instrument).Msg("failed to persist trade event")
			}
		}

		if r.Instrument.Enabled {
			if g := p.processScope(p.instrumentWindows, &p.instrumentLocks, p.instrumentDet,
				ev.Instrument, ev, r.Instrument); g != nil {
				groups = append(groups, g)
			}
		}
		if r.Theme.Enabled && ev.Category != "" {
			if g := p.processScope(p.themeWindows, &p.themeLocks, p.themeDet,
				ev.Category, ev, r.Theme); g != nil {
				groups = append(groups, g)
			}
		}
	}
	return groups
}

func (p *Pipeline) processScope(store *WindowStore, locks *stripedLocks, det *Detector,
	key string, ev models.TradeEvent, scoped rules.Scoped) *models.CorrelationGroup {
	now := p.now()
	m := locks.lock(key)
	defer m.Unlock()
	live := store.Insert(key, ev, now, scoped.Window)
	return det.Evaluate(key, live, ev, scoped.ConfluenceCount, scoped.Window, now)
}

// Sweep evicts expired entries and drops empty scope keys in both window
// stores. The poller runs it once per cycle.
func (p *Pipeline) Sweep() {
	r := p.rules.Current()
	now := p.now()
	p.instrumentWindows.Sweep(now, r.Instrument.Window)
	p.themeWindows.Sweep(now, r.Theme.Window)
}

// LiveScopes reports the number of indexed instrument and theme scope keys.
func (p *Pipeline) LiveScopes() (instruments, themes int) {
	return p.instrumentWindows.Scopes(), p.themeWindows.Scopes()
}
