// SPDX-License-Identifier: MIT
//
// Package transport publishes pipeline events and scores to the outside
// world.
package transport

import (
	"errors"
	"time"
)

// Transport defines a generic interface for sending events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// ScoreProvider exposes the latest classifier scores without allocating.
type ScoreProvider interface {
	// ScoresInto copies scores into dst and returns the inference cycle they
	// belong to and how many were written.
	ScoresInto(dst []float32) (cycle uint64, n int)
}

// EventType names the kind of Event.
type EventType string

const (
	EventDecision   EventType = "decision"
	EventTransition EventType = "transition"
)

// Event is the JSON document sent to event transports.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	// Decision fields.
	Cycle uint64  `json:"cycle,omitempty"`
	Label string  `json:"label,omitempty"`
	Score float64 `json:"score,omitempty"`
	Set   string  `json:"set,omitempty"`
	Clear string  `json:"clear,omitempty"`

	// Transition fields.
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// Fanout sends to every transport in order and joins their errors.
type Fanout []Transport

// Send implements Transport.
func (f Fanout) Send(data any) error {
	var errs []error
	for _, t := range f {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every transport.
func (f Fanout) Close() error {
	var errs []error
	for _, t := range f {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Fanout(nil)
