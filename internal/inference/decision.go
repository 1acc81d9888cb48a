// SPDX-License-Identifier: MIT
//
// Package inference runs the consumer side of the pipeline: it waits for
// completed windows, classifies them and turns results into event flags.
package inference

import (
	"fmt"

	"kws/internal/actuation"
	"kws/internal/classifier"
)

// Binding ties a channel to the labels that switch it.
type Binding struct {
	Channel  string
	OnLabel  string
	OffLabel string
}

// Table is the fixed label to event lookup.
type Table struct {
	flags     actuation.Flags
	wakeLabel string
	minScore  float64
	on        map[string]int
	off       map[string]int
}

// NewTable validates bindings against flags. Labels not bound here, and
// winning scores below minScore, clear every channel's On and Off.
func NewTable(flags actuation.Flags, wakeLabel string, bindings []Binding, minScore float64) (*Table, error) {
	t := &Table{
		flags:     flags,
		wakeLabel: wakeLabel,
		minScore:  minScore,
		on:        make(map[string]int, len(bindings)),
		off:       make(map[string]int, len(bindings)),
	}

	for _, b := range bindings {
		idx := flags.Index(b.Channel)
		if idx < 0 {
			return nil, fmt.Errorf("inference: binding for unknown channel %q", b.Channel)
		}
		if b.OnLabel == b.OffLabel {
			return nil, fmt.Errorf("inference: channel %q uses %q for both on and off", b.Channel, b.OnLabel)
		}
		for _, label := range []string{b.OnLabel, b.OffLabel} {
			if label == "" || label == wakeLabel || t.bound(label) {
				return nil, fmt.Errorf("inference: label %q for channel %q is empty or already bound", label, b.Channel)
			}
		}
		t.on[b.OnLabel] = idx
		t.off[b.OffLabel] = idx
	}
	return t, nil
}

func (t *Table) bound(label string) bool {
	_, on := t.on[label]
	_, off := t.off[label]
	return on || off
}

// Flags returns the flag layout the table was built for.
func (t *Table) Flags() actuation.Flags {
	return t.flags
}

// Decision is the flag change derived from one result.
type Decision struct {
	Label string         `json:"label"`
	Score float64        `json:"score"`
	Set   actuation.Bits `json:"set"`
	Clear actuation.Bits `json:"clear"`
}

// Apply clears then sets the decision's bits. Both are idempotent.
func (d Decision) Apply(g *actuation.EventGroup) {
	if d.Clear != 0 {
		g.Clear(d.Clear)
	}
	if d.Set != 0 {
		g.Set(d.Set)
	}
}

// Argmax returns the index of the highest score. Scanning starts at index 0
// with a score of 0 and only a strictly greater score replaces the best, so
// ties go to the first label. It returns -1 for an empty result.
func Argmax(res classifier.Result) int {
	if len(res.Predictions) == 0 {
		return -1
	}
	best, bestScore := 0, 0.0
	for i, p := range res.Predictions {
		if p.Score > bestScore {
			best, bestScore = i, p.Score
		}
	}
	return best
}

// Decide maps a result to a flag change. It is a pure function of its
// inputs.
func Decide(res classifier.Result, t *Table) Decision {
	idx := Argmax(res)
	if idx < 0 {
		return Decision{Clear: t.flags.OnOff()}
	}
	p := res.Predictions[idx]
	d := Decision{Label: p.Label, Score: p.Score}

	if p.Score < t.minScore {
		d.Clear = t.flags.OnOff()
		return d
	}

	if ch, ok := t.on[p.Label]; ok {
		d.Set, d.Clear = t.flags.On(ch), t.flags.Off(ch)
		return d
	}
	if ch, ok := t.off[p.Label]; ok {
		d.Set, d.Clear = t.flags.Off(ch), t.flags.On(ch)
		return d
	}
	if p.Label == t.wakeLabel {
		d.Set = actuation.Wake
		return d
	}

	d.Clear = t.flags.OnOff()
	return d
}
