package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

// WindowEntry wraps a trade event with an insertion sequence number. The
// sequence breaks ties between events sharing a timestamp and orders entries
// within a window.
type WindowEntry struct {
	Event models.TradeEvent
	Seq   uint64
}

type scopeBuffer struct {
	mu      sync.Mutex
	entries []WindowEntry
}

// WindowStore keeps, per scope key, the recent events inside the active time
// window. Buffers are locked per scope key, so inserts into distinct keys
// proceed in parallel; only index lookup takes the store-wide lock. Scope
// keys with no live entries are dropped by Sweep, so memory tracks live
// scopes rather than ever-seen ones.
type WindowStore struct {
	mu     sync.RWMutex
	scopes map[string]*scopeBuffer
	seq    atomic.Uint64
}

// NewWindowStore builds an empty store.
func NewWindowStore() *WindowStore {
	return &WindowStore{scopes: make(map[string]*scopeBuffer)}
}

func (w *WindowStore) buffer(key string) *scopeBuffer {
	w.mu.RLock()
	buf := w.scopes[key]
	w.mu.RUnlock()
	if buf != nil {
		return buf
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if buf = w.scopes[key]; buf == nil {
		buf = &scopeBuffer{}
		w.scopes[key] = buf
	}
	return buf
}

// Insert evicts entries older than now-window from the key's buffer, appends
// the event, and returns a copy of the live set in insertion order.
func (w *WindowStore) Insert(key string, ev models.TradeEvent, now time.Time, window time.Duration) []WindowEntry {
	buf := w.buffer(key)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	buf.entries = evict(buf.entries, now, window)
	buf.entries = append(buf.entries, WindowEntry{Event: ev, Seq: w.seq.Add(1)})

	live := make([]WindowEntry, len(buf.entries))
	copy(live, buf.entries)
	return live
}

// Sweep evicts expired entries across all scope keys and removes empty
// scopes from the index. Called periodically so idle scopes do not hold the
// last stale entry forever.
func (w *WindowStore) Sweep(now time.Time, window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, buf := range w.scopes {
		buf.mu.Lock()
		buf.entries = evict(buf.entries, now, window)
		empty := len(buf.entries) == 0
		buf.mu.Unlock()
		if empty {
			delete(w.scopes, key)
		}
	}
}

// Scopes returns the number of scope keys currently indexed.
func (w *WindowStore) Scopes() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.scopes)
}

// evict drops entries whose event timestamp is at or beyond the window edge.
// Entries are timestamp-ordered, so a prefix cut suffices.
func evict(entries []WindowEntry, now time.Time, window time.Duration) []WindowEntry {
	cutoff := now.Add(-window)
	i := 0
	for i < len(entries) && !entries[i].Event.Timestamp.After(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	kept := make([]WindowEntry, len(entries)-i)
	copy(kept, entries[i:])
	return kept
}
