// SPDX-License-Identifier: MIT
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"kws/internal/actuation"
	"kws/internal/audio"
	"kws/internal/classifier"
	"kws/internal/log"
	"kws/internal/observe"
)

// CycleConfig tunes the consumer loop.
type CycleConfig struct {
	ReadyTimeout time.Duration
	Threshold    int // Cycles before decisions are applied (0 = classifier window count).
}

// Snapshot is the outcome of the most recent cycle.
type Snapshot struct {
	Cycle    uint64            `json:"cycle"`
	At       time.Time         `json:"at"`
	Result   classifier.Result `json:"result"`
	Decided  bool              `json:"decided"`
	Decision Decision          `json:"decision"`
}

// Cycle waits for completed windows, classifies them and applies the
// resulting flag changes.
//
// Thread Safety:
//   - Step and Run must be called from a single goroutine.
//   - Latest, ScoresInto and the counters may be called from any goroutine.
type Cycle struct {
	buf       *audio.DoubleBuffer
	clf       classifier.Classifier
	table     *Table
	group     *actuation.EventGroup
	timeout   time.Duration
	threshold int

	count int // Cycles since start, saturates at threshold.

	metrics    *observe.Metrics
	onDecision func(Snapshot)

	latest         atomic.Pointer[Snapshot]
	cycles         atomic.Uint64
	lateEntries    atomic.Uint64
	classifyErrors atomic.Uint64
	staleWindows   atomic.Uint64
}

// NewCycle wires the consumer loop.
func NewCycle(buf *audio.DoubleBuffer, clf classifier.Classifier, table *Table, group *actuation.EventGroup, cfg CycleConfig) (*Cycle, error) {
	if buf == nil || clf == nil || table == nil || group == nil {
		return nil, errors.New("inference: cycle needs a buffer, classifier, table and event group")
	}
	if cfg.ReadyTimeout <= 0 {
		return nil, fmt.Errorf("inference: invalid ready timeout %v", cfg.ReadyTimeout)
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = clf.WindowCount()
	}
	if threshold < 1 {
		threshold = 1
	}

	return &Cycle{
		buf:       buf,
		clf:       clf,
		table:     table,
		group:     group,
		timeout:   cfg.ReadyTimeout,
		threshold: threshold,
	}, nil
}

// SetMetrics attaches telemetry. Must be called before Run.
func (c *Cycle) SetMetrics(m *observe.Metrics) {
	c.metrics = m
}

// OnDecision registers a hook called from the cycle goroutine each time a
// decision is applied. Must be called before Run.
func (c *Cycle) OnDecision(fn func(Snapshot)) {
	c.onDecision = fn
}

// Threshold returns the number of cycles before decisions are applied.
func (c *Cycle) Threshold() int {
	return c.threshold
}

// Run calls Step until ctx ends.
func (c *Cycle) Run(ctx context.Context) error {
	log.Debugf("Inference: started (threshold=%d ready_timeout=%v)", c.threshold, c.timeout)
	defer log.Debugf("Inference: stopped after %d cycles", c.cycles.Load())

	for {
		if err := c.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step runs one cycle: wait for a window, classify it, and once the
// threshold is reached apply the decision. A classification failure is
// logged and skipped; only ctx ending returns an error.
func (c *Cycle) Step(ctx context.Context) error {
	if c.buf.IsReady() {
		// A window completed while the previous one was being classified.
		c.lateEntries.Add(1)
		log.Warnf("Inference: sample buffer overrun, decrease slices per model window")
	}

	w, err := c.waitWindow(ctx)
	if err != nil {
		return err
	}
	n := c.cycles.Add(1)

	sig := classifier.Signal{TotalLength: w.Len(), GetData: w.ReadFloat}
	start := time.Now()
	res, err := c.clf.Classify(sig)
	c.metrics.RecordClassify(time.Since(start), err)

	if w.Stale() {
		c.staleWindows.Add(1)
		c.metrics.RecordStale()
		log.Warnf("Inference: window overwritten during classification (cycle %d)", n)
	}

	if err != nil {
		c.classifyErrors.Add(1)
		log.Errorf("Inference: classify failed (cycle %d): %v", n, err)
		return nil
	}

	snap := &Snapshot{Cycle: n, At: time.Now(), Result: res}

	if c.count < c.threshold {
		c.count++
	}
	if c.count >= c.threshold {
		d := Decide(res, c.table)
		d.Apply(c.group)
		c.metrics.RecordDecision(d.Label)
		snap.Decided, snap.Decision = true, d

		if d.Set != 0 {
			log.Infof("Inference: %s (%.2f) -> %s", d.Label, d.Score, c.table.flags.Format(d.Set))
		} else {
			log.Debugf("Inference: %s (%.2f)", d.Label, d.Score)
		}
	}

	c.latest.Store(snap)
	if snap.Decided && c.onDecision != nil {
		c.onDecision(*snap)
	}
	return nil
}

// waitWindow blocks for the next window, warning each time the ready
// timeout passes without one.
func (c *Cycle) waitWindow(ctx context.Context) (audio.Window, error) {
	for {
		wctx, cancel := context.WithTimeout(ctx, c.timeout)
		w, err := c.buf.Wait(wctx)
		cancel()
		if err == nil {
			return w, nil
		}
		if ctx.Err() != nil {
			return audio.Window{}, ctx.Err()
		}
		log.Warnf("Inference: no audio window within %v", c.timeout)
	}
}

// Latest returns the most recent snapshot, or false before the first cycle.
func (c *Cycle) Latest() (Snapshot, bool) {
	s := c.latest.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// ScoresInto copies the latest scores, in label order, into dst and returns
// the cycle they belong to and how many were written.
//
// Performance Critical (Hot Path):
//   - No allocations
func (c *Cycle) ScoresInto(dst []float32) (uint64, int) {
	s := c.latest.Load()
	if s == nil {
		return 0, 0
	}
	n := min(len(dst), len(s.Result.Predictions))
	for i := range n {
		dst[i] = float32(s.Result.Predictions[i].Score)
	}
	return s.Cycle, n
}

// Cycles returns the number of windows consumed.
func (c *Cycle) Cycles() uint64 { return c.cycles.Load() }

// LateEntries returns how often a window was already waiting on entry.
func (c *Cycle) LateEntries() uint64 { return c.lateEntries.Load() }

// ClassifyErrors returns the number of failed classifications.
func (c *Cycle) ClassifyErrors() uint64 { return c.classifyErrors.Load() }

// StaleWindows returns how many windows were overwritten while in use.
func (c *Cycle) StaleWindows() uint64 { return c.staleWindows.Load() }
