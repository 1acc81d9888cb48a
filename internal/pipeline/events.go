// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"sync/atomic"

	"kws/internal/actuation"
	"kws/internal/inference"
	"kws/internal/log"
	"kws/internal/transport"
)

const eventQueue = 64

// eventPump moves events off the inference and actuation goroutines so a
// slow transport never delays them.
type eventPump struct {
	out     transport.Transport
	queue   chan transport.Event
	dropped atomic.Uint64
}

func newEventPump(out transport.Transport, size int) *eventPump {
	return &eventPump{out: out, queue: make(chan transport.Event, size)}
}

// publish never blocks; events are dropped when the queue is full.
func (e *eventPump) publish(ev transport.Event) {
	select {
	case e.queue <- ev:
	default:
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warnf("Pipeline: event queue full, %d events dropped", n)
		}
	}
}

func (e *eventPump) run(ctx context.Context) {
	for {
		select {
		case ev := <-e.queue:
			if err := e.out.Send(ev); err != nil {
				log.Warnf("Pipeline: send %s event: %v", ev.Type, err)
			}
		case <-ctx.Done():
			// Flush what is already queued.
			for {
				select {
				case ev := <-e.queue:
					_ = e.out.Send(ev)
				default:
					return
				}
			}
		}
	}
}

func decisionEvent(s inference.Snapshot, flags actuation.Flags) transport.Event {
	ev := transport.Event{
		Type:  transport.EventDecision,
		At:    s.At,
		Cycle: s.Cycle,
		Label: s.Decision.Label,
		Score: s.Decision.Score,
	}
	if s.Decision.Set != 0 {
		ev.Set = flags.Format(s.Decision.Set)
	}
	if s.Decision.Clear != 0 {
		ev.Clear = flags.Format(s.Decision.Clear)
	}
	return ev
}

func transitionEvent(tr actuation.Transition) transport.Event {
	return transport.Event{
		Type:    transport.EventTransition,
		At:      tr.At,
		From:    tr.From.String(),
		To:      tr.To.String(),
		Outcome: string(tr.Outcome),
		Channel: tr.Channel,
	}
}
