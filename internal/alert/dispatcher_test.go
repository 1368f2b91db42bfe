package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

type fakeSink struct {
	delivered []Payload
	err       error
}

func (f *fakeSink) Deliver(_ context.Context, p Payload) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, p)
	return nil
}

type fakeHistory struct {
	recorded int
	err      error
}

func (f *fakeHistory) InsertAlert(_ *models.CorrelationGroup, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.recorded++
	return nil
}

func TestDispatchDeliversAndRecords(t *testing.T) {
	sink := &fakeSink{}
	history := &fakeHistory{}
	d := NewDispatcher(NewFormatter(nil), sink, history)

	d.Dispatch(context.Background(), groupFixture(models.ScopeInstrument, "ETH"))

	if len(sink.delivered) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(sink.delivered))
	}
	if history.recorded != 1 {
		t.Errorf("Expected 1 recorded alert, got %d", history.recorded)
	}
	if sink.delivered[0].Text == "" {
		t.Error("Expected a formatted payload")
	}
}

func TestDispatchHistoryFailureStillDelivers(t *testing.T) {
	sink := &fakeSink{}
	history := &fakeHistory{err: errors.New("db locked")}
	d := NewDispatcher(NewFormatter(nil), sink, history)

	d.Dispatch(context.Background(), groupFixture(models.ScopeInstrument, "ETH"))
	if len(sink.delivered) != 1 {
		t.Errorf("Expected delivery despite history failure, got %d", len(sink.delivered))
	}
}

func TestDispatchNilSinkAndHistory(t *testing.T) {
	d := NewDispatcher(NewFormatter(nil), nil, nil)
	// Must not panic.
	d.Dispatch(context.Background(), groupFixture(models.ScopeTheme, "AI"))
}

func TestDispatchSinkFailureDoesNotPanic(t *testing.T) {
	d := NewDispatcher(NewFormatter(nil), &fakeSink{err: errors.New("telegram down")}, &fakeHistory{})
	d.Dispatch(context.Background(), groupFixture(models.ScopeInstrument, "ETH"))
}
