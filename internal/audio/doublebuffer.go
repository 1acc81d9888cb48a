// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotReady is returned by Consume when no completed window is pending.
	ErrNotReady = errors.New("audio: no window ready")

	// ErrWindowSize is returned when the window buffers cannot be sized.
	ErrWindowSize = errors.New("audio: invalid window size")
)

// MaxWindowSamples bounds a single slot so a bad configuration fails at
// startup instead of exhausting memory.
const MaxWindowSamples = 1 << 20

type slot int

const (
	slotA slot = iota
	slotB
)

func (s slot) other() slot {
	if s == slotA {
		return slotB
	}
	return slotA
}

// DoubleBuffer accumulates captured samples into one of two equally sized
// slots. When the write slot fills, the slots swap roles and the completed
// one becomes the stable slot handed to the consumer.
//
// Thread Safety:
//   - Single writer (capture goroutine) calls Append.
//   - Single reader (inference loop) calls IsReady, Consume and Wait.
//   - selector, fill and ready change together under mu; a reader never
//     sees a half-flipped state.
type DoubleBuffer struct {
	slots [2][]int16

	mu       sync.Mutex
	selector slot // Current write slot.
	fill     int  // Samples written into the write slot.
	ready    bool // Stable slot holds a completed, unconsumed window.

	readyCh chan struct{} // Capacity 1, signalled on every flip.

	flips    atomic.Uint64 // Completed windows since creation.
	overruns atomic.Uint64 // Windows overwritten before being consumed.

	onOverrun func(total uint64)
}

// NewDoubleBuffer allocates both slots for windows of the given length.
// Any failure here is fatal to pipeline startup.
func NewDoubleBuffer(windowSamples int) (*DoubleBuffer, error) {
	if windowSamples <= 0 || windowSamples > MaxWindowSamples {
		return nil, fmt.Errorf("%w: %d samples (max %d)", ErrWindowSize, windowSamples, MaxWindowSamples)
	}

	return &DoubleBuffer{
		slots: [2][]int16{
			make([]int16, windowSamples),
			make([]int16, windowSamples),
		},
		readyCh: make(chan struct{}, 1),
	}, nil
}

// OnOverrun registers a callback invoked from the capture goroutine, outside
// the buffer lock, whenever a completed window overwrites an unread one.
// Must be set before capture starts.
func (b *DoubleBuffer) OnOverrun(fn func(total uint64)) {
	b.onOverrun = fn
}

// WindowSamples returns the capacity of each slot.
func (b *DoubleBuffer) WindowSamples() int {
	return len(b.slots[slotA])
}

func (b *DoubleBuffer) writeSlot() []int16 {
	return b.slots[b.selector]
}

func (b *DoubleBuffer) stableSlot() []int16 {
	return b.slots[b.selector.other()]
}

// Append copies samples into the write slot, flipping slots each time a
// window completes. Capture never blocks on the consumer: completing a window
// while the previous one is still unread counts an overrun and the unread
// window is lost.
//
// Performance Critical (Hot Path):
//   - No allocations
//   - One lock acquisition per chunk
func (b *DoubleBuffer) Append(samples []int16) {
	var overran uint64

	b.mu.Lock()
	for len(samples) > 0 {
		dst := b.writeSlot()[b.fill:]
		n := copy(dst, samples)
		samples = samples[n:]
		b.fill += n

		if b.fill == len(b.writeSlot()) {
			if b.ready {
				overran = b.overruns.Add(1)
			}
			b.selector = b.selector.other()
			b.fill = 0
			b.ready = true
			b.flips.Add(1)

			select {
			case b.readyCh <- struct{}{}:
			default:
			}
		}
	}
	b.mu.Unlock()

	if overran > 0 && b.onOverrun != nil {
		b.onOverrun(overran)
	}
}

// IsReady reports whether a completed window is waiting, without consuming it.
func (b *DoubleBuffer) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Consume clears the ready flag and returns a read-only view of the stable
// slot. Calling it while nothing is ready is a protocol error: it returns
// ErrNotReady and a zero Window.
func (b *DoubleBuffer) Consume() (Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready {
		return Window{}, ErrNotReady
	}
	b.ready = false

	return Window{
		samples:    b.stableSlot(),
		generation: b.flips.Load(),
		owner:      b,
	}, nil
}

// Wait blocks until a window is ready and consumes it, or until ctx ends.
func (b *DoubleBuffer) Wait(ctx context.Context) (Window, error) {
	for {
		if w, err := b.Consume(); err == nil {
			return w, nil
		}

		select {
		case <-b.readyCh:
		case <-ctx.Done():
			return Window{}, ctx.Err()
		}
	}
}

// Fill returns how many samples the current write slot holds.
func (b *DoubleBuffer) Fill() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fill
}

// Flips returns the number of windows completed so far.
func (b *DoubleBuffer) Flips() uint64 {
	return b.flips.Load()
}

// Overruns returns the number of windows lost to a slow consumer.
func (b *DoubleBuffer) Overruns() uint64 {
	return b.overruns.Load()
}

// Window is a read-only view of a completed window. It stays valid until
// capture fills the other slot and flips back onto this one; Stale reports
// when that has happened.
type Window struct {
	samples    []int16
	generation uint64
	owner      *DoubleBuffer
}

// Len returns the number of samples in the window.
func (w Window) Len() int {
	return len(w.samples)
}

// Valid reports whether the window came from a successful Consume.
func (w Window) Valid() bool {
	return w.owner != nil
}

// At returns sample i.
func (w Window) At(i int) int16 {
	return w.samples[i]
}

// ReadFloat converts len(out) samples starting at offset into out. Samples
// are cast, not normalized.
func (w Window) ReadFloat(offset int, out []float32) error {
	if offset < 0 || offset+len(out) > len(w.samples) {
		return fmt.Errorf("audio: read [%d:%d] outside window of %d samples", offset, offset+len(out), len(w.samples))
	}
	for i, s := range w.samples[offset : offset+len(out)] {
		out[i] = float32(s)
	}
	return nil
}

// Stale reports whether capture has started overwriting this window.
func (w Window) Stale() bool {
	if w.owner == nil {
		return true
	}
	return w.owner.flips.Load() > w.generation
}
