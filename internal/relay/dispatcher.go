package relay

import (
	"context"

	"pepitobot/internal/stream"
	logx "pepitobot/pkg/logx"
)

// Dispatcher drains the stream channel and routes domain events to the
// engine. Events of any other kind are counted and dropped.
type Dispatcher struct {
	log    logx.Logger
	engine *Engine
}

func NewDispatcher(engine *Engine, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{log: log, engine: engine}
}

// Run consumes events until ctx is canceled or in is closed. Delivery of one
// event completes before the next is read; the stream client blocks in the
// meantime, which is acceptable for this event rate.
func (d *Dispatcher) Run(ctx context.Context, in <-chan stream.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if ev.Event != stream.EventDomain {
				d.log.Debug("event ignored", logx.String("event", ev.Event))
				continue
			}
			d.engine.Deliver(ctx, ev)
		}
	}
}
