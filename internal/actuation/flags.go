// SPDX-License-Identifier: MIT
//
// Package actuation turns event flags raised by the inference loop into
// time-bounded output changes. The controller waits in Idle for a wake
// event, then polls the flags for a short decision window.
package actuation

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Bits is a set of event flags.
type Bits uint32

// Wake opens a decision window.
const Wake Bits = 1 << 0

// maxChannels is how many On/Off pairs fit beside Wake.
const maxChannels = 15

// EventGroup is a mutex-protected bit set with set, clear, peek and
// wait-with-clear. Waiters are woken by closing the changed channel, which
// is replaced on every change.
type EventGroup struct {
	mu      sync.Mutex
	bits    Bits
	changed chan struct{}
}

// NewEventGroup returns an empty group.
func NewEventGroup() *EventGroup {
	return &EventGroup{changed: make(chan struct{})}
}

// Set raises b and returns the resulting bits. Setting bits that are
// already set is a no-op.
func (g *EventGroup) Set(b Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bits|b != g.bits {
		g.bits |= b
		close(g.changed)
		g.changed = make(chan struct{})
	}
	return g.bits
}

// Clear lowers b and returns the bits as they were before.
func (g *EventGroup) Clear(b Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.bits
	g.bits &^= b
	return prev
}

// Get returns the current bits without changing them.
func (g *EventGroup) Get() Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// Wait blocks until any bit in mask is set or ctx ends. It returns the bits
// as they were when the wait was satisfied; with clear, the mask bits are
// lowered in the same critical section.
func (g *EventGroup) Wait(ctx context.Context, mask Bits, clear bool) (Bits, error) {
	for {
		g.mu.Lock()
		bits := g.bits
		if bits&mask != 0 {
			if clear {
				g.bits &^= mask
			}
			g.mu.Unlock()
			return bits, nil
		}
		changed := g.changed
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Flags maps controlled channels onto bits: Wake is bit 0 and channel i
// owns On at bit 1+2i and Off at bit 2+2i.
type Flags struct {
	channels []string
}

// NewFlags lays out bits for the named channels.
func NewFlags(channels ...string) (Flags, error) {
	if len(channels) == 0 {
		return Flags{}, fmt.Errorf("actuation: at least one channel is required")
	}
	if len(channels) > maxChannels {
		return Flags{}, fmt.Errorf("actuation: %d channels exceed the limit of %d", len(channels), maxChannels)
	}
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if ch == "" || seen[ch] {
			return Flags{}, fmt.Errorf("actuation: channel name %q is empty or repeated", ch)
		}
		seen[ch] = true
	}
	return Flags{channels: append([]string(nil), channels...)}, nil
}

// Channels returns the channel names in bit order.
func (f Flags) Channels() []string {
	return f.channels
}

// Index returns the position of channel name, or -1.
func (f Flags) Index(name string) int {
	for i, ch := range f.channels {
		if ch == name {
			return i
		}
	}
	return -1
}

// On returns the turn-on bit of channel i.
func (f Flags) On(i int) Bits {
	return 1 << (1 + 2*i)
}

// Off returns the turn-off bit of channel i.
func (f Flags) Off(i int) Bits {
	return 1 << (2 + 2*i)
}

// OnOff returns every channel's On and Off bits.
func (f Flags) OnOff() Bits {
	var b Bits
	for i := range f.channels {
		b |= f.On(i) | f.Off(i)
	}
	return b
}

// Mask is what the controller waits on while Idle.
func (f Flags) Mask() Bits {
	return Wake | f.OnOff()
}

// Format renders b using channel names, e.g. "wake|door.on".
func (f Flags) Format(b Bits) string {
	if b == 0 {
		return "none"
	}
	var parts []string
	if b&Wake != 0 {
		parts = append(parts, "wake")
	}
	for i, ch := range f.channels {
		if b&f.On(i) != 0 {
			parts = append(parts, ch+".on")
		}
		if b&f.Off(i) != 0 {
			parts = append(parts, ch+".off")
		}
	}
	if extra := b &^ f.Mask(); extra != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(extra)))
	}
	return strings.Join(parts, "|")
}
