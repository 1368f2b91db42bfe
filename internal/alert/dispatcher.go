package alert

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/jwo-labs/vaultwatch/internal/models"
)

// Sink delivers a formatted payload to its destination.
type Sink interface {
	Deliver(ctx context.Context, p Payload) error
}

// History records delivered alerts.
type History interface {
	InsertAlert(g *models.CorrelationGroup, payload string) error
}

// Dispatcher formats groups, records them, and pushes them to the sink.
// Delivery failures are logged and never propagate back to detection.
type Dispatcher struct {
	formatter *Formatter
	sink      Sink
	history   History
}

// NewDispatcher builds a dispatcher. sink and history may each be nil, in
// which case that step is skipped.
func NewDispatcher(formatter *Formatter, sink Sink, history History) *Dispatcher {
	return &Dispatcher{formatter: formatter, sink: sink, history: history}
}

// Dispatch handles one detected group end to end.
func (d *Dispatcher) Dispatch(ctx context.Context, g *models.CorrelationGroup) {
	p := d.formatter.Format(g)

	if d.history != nil {
		if err := d.history.InsertAlert(g, p.Text); err != nil {
			log.Warn().Err(err).Str("group", g.ID).Msg("failed to record alert")
		}
	}

	if d.sink != nil {
		if err := d.sink.Deliver(ctx, p); err != nil {
			log.Error().Err(err).Str("group", g.ID).Str("key", g.Key).Msg("failed to deliver alert")
			return
		}
	}

	log.Info().
		Str("group", g.ID).
		Str("scope", string(g.Scope)).
		Str("key", g.Key).
		Int("participants", len(g.Participants)).
		Msg("alert dispatched")
}
