package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

func entry(account string, ts time.Time, seq uint64, notional float64) WindowEntry {
	return WindowEntry{
		Event: models.TradeEvent{
			Account:     account,
			AccountName: account,
			Instrument:  "ETH",
			Action:      models.ActionOpen,
			SizeDelta:   decimal.NewFromInt(1),
			Notional:    decimal.NewFromFloat(notional),
			Timestamp:   ts,
			SnapshotAt:  ts,
		},
		Seq: seq,
	}
}

func TestDetectorBelowThresholdEmitsNothing(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()
	live := []WindowEntry{entry("a", now, 1, 5000)}

	g := d.Evaluate("ETH", live, live[0].Event, 2, 10*time.Minute, now)
	if g != nil {
		t.Errorf("Expected no group with 1 of 2 required accounts, got %+v", g)
	}
}

func TestDetectorEmitsAtThreshold(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()
	live := []WindowEntry{
		entry("a", now.Add(-3*time.Minute), 1, 5000),
		entry("b", now, 2, 2000),
	}

	g := d.Evaluate("ETH", live, live[1].Event, 2, 10*time.Minute, now)
	if g == nil {
		t.Fatal("Expected a group at threshold")
	}
	if g.Scope != models.ScopeInstrument || g.Key != "ETH" {
		t.Errorf("Expected instrument/ETH group, got %s/%s", g.Scope, g.Key)
	}
	if len(g.Participants) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(g.Participants))
	}
	if !g.TotalValue.Equal(decimal.NewFromInt(7000)) {
		t.Errorf("Expected total value 7000, got %s", g.TotalValue)
	}
	if !g.WindowStart.Equal(now.Add(-3 * time.Minute)) {
		t.Errorf("Expected window start at oldest participant, got %v", g.WindowStart)
	}
	if !g.WindowEnd.Equal(now) {
		t.Errorf("Expected window end at trigger timestamp, got %v", g.WindowEnd)
	}
	if g.ID == "" {
		t.Error("Expected a non-empty group ID")
	}
}

func TestDetectorLatestEventPerAccountWins(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()

	// Account a traded twice; only its latest event may participate.
	live := []WindowEntry{
		entry("a", now.Add(-8*time.Minute), 1, 1000),
		entry("a", now.Add(-2*time.Minute), 2, 9000),
		entry("b", now, 3, 2000),
	}

	g := d.Evaluate("ETH", live, live[2].Event, 2, 10*time.Minute, now)
	if g == nil {
		t.Fatal("Expected a group")
	}
	if len(g.Participants) != 2 {
		t.Fatalf("Expected 2 participants after per-account reduction, got %d", len(g.Participants))
	}
	if !g.TotalValue.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("Expected total 11000 using a's latest trade, got %s", g.TotalValue)
	}
}

func TestDetectorTimestampTieBreaksOnSeq(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()

	live := []WindowEntry{
		entry("a", now, 1, 1000),
		entry("a", now, 2, 3000), // same timestamp, later insert
		entry("b", now, 3, 2000),
	}

	g := d.Evaluate("ETH", live, live[2].Event, 2, 10*time.Minute, now)
	if g == nil {
		t.Fatal("Expected a group")
	}
	if !g.TotalValue.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected the later insert to win the tie, total 5000, got %s", g.TotalValue)
	}
}

// ─── Cooldown ────────────────────────────────────────────────────────────────

func TestDetectorCooldownSuppressesSameParticipants(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()
	window := 10 * time.Minute
	live := []WindowEntry{
		entry("a", now.Add(-time.Minute), 1, 5000),
		entry("b", now, 2, 2000),
	}

	if g := d.Evaluate("ETH", live, live[1].Event, 2, window, now); g == nil {
		t.Fatal("Expected first evaluation to emit")
	}

	// Same accounts again inside the window: suppressed.
	later := now.Add(2 * time.Minute)
	live = append(live, entry("a", later, 3, 4000))
	if g := d.Evaluate("ETH", live, live[2].Event, 2, window, later); g != nil {
		t.Error("Expected cooldown to suppress re-emission for unchanged participants")
	}

	// After the window passes, the same set may fire again.
	afterCooldown := now.Add(window + time.Minute)
	live = []WindowEntry{
		entry("a", afterCooldown.Add(-time.Minute), 4, 5000),
		entry("b", afterCooldown, 5, 2000),
	}
	if g := d.Evaluate("ETH", live, live[1].Event, 2, window, afterCooldown); g == nil {
		t.Error("Expected re-emission once the cooldown window elapsed")
	}
}

func TestDetectorNewParticipantBypassesCooldown(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()
	window := 10 * time.Minute
	live := []WindowEntry{
		entry("a", now.Add(-time.Minute), 1, 5000),
		entry("b", now, 2, 2000),
	}
	if g := d.Evaluate("ETH", live, live[1].Event, 2, window, now); g == nil {
		t.Fatal("Expected first evaluation to emit")
	}

	// A third distinct account joins: the set changed, emit immediately.
	later := now.Add(time.Minute)
	live = append(live, entry("c", later, 3, 3000))
	g := d.Evaluate("ETH", live, live[2].Event, 2, window, later)
	if g == nil {
		t.Fatal("Expected a changed participant set to bypass the cooldown")
	}
	if len(g.Participants) != 3 {
		t.Errorf("Expected 3 participants, got %d", len(g.Participants))
	}
}

func TestDetectorForgetClearsCooldown(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()
	window := 10 * time.Minute
	live := []WindowEntry{
		entry("a", now.Add(-time.Minute), 1, 5000),
		entry("b", now, 2, 2000),
	}
	if g := d.Evaluate("ETH", live, live[1].Event, 2, window, now); g == nil {
		t.Fatal("Expected first evaluation to emit")
	}

	d.Forget("ETH")

	later := now.Add(time.Minute)
	if g := d.Evaluate("ETH", live, live[1].Event, 2, window, later); g == nil {
		t.Error("Expected emission after Forget cleared the cooldown record")
	}
}

func TestDetectorParticipantsOrderedByTime(t *testing.T) {
	d := NewDetector(models.ScopeInstrument)
	now := time.Now()
	live := []WindowEntry{
		entry("c", now, 3, 1000),
		entry("a", now.Add(-5*time.Minute), 1, 1000),
		entry("b", now.Add(-2*time.Minute), 2, 1000),
	}

	g := d.Evaluate("ETH", live, live[0].Event, 3, 10*time.Minute, now)
	if g == nil {
		t.Fatal("Expected a group")
	}
	wantOrder := []string{"a", "b", "c"}
	for i, account := range wantOrder {
		if g.Participants[i].Account != account {
			t.Errorf("Expected participant %d to be %s, got %s", i, account, g.Participants[i].Account)
		}
	}
}
