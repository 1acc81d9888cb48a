// SPDX-License-Identifier: MIT
//
// Package pipeline owns the shared state of the keyword spotter and runs its
// goroutines: capture, inference, actuation and event delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"kws/internal/actuation"
	"kws/internal/audio"
	"kws/internal/classifier"
	"kws/internal/inference"
	"kws/internal/log"
	"kws/internal/observe"
	"kws/internal/transport"
	"kws/internal/transport/udp"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// overrunLogInterval limits how often a run of overruns is logged; every
// overrun is still counted.
const overrunLogInterval = 5 * time.Second

// errSourceDone ends the group once a finite source has been drained.
var errSourceDone = errors.New("pipeline: source exhausted")

// Options sizes and tunes the pipeline.
type Options struct {
	WindowSamples int
	Capture       audio.CaptureConfig
	Cycle         inference.CycleConfig
	Controller    actuation.ControllerConfig

	WakeLabel string
	Bindings  []inference.Binding
	MinScore  float64

	// ExitOnSourceEnd stops the pipeline after the source reports io.EOF,
	// the last window has been classified and the controller is idle again.
	ExitOnSourceEnd bool
	// Linger is how long to keep running after the last window so a pending
	// wake can open its decision window.
	Linger time.Duration
}

// Deps are the collaborators the pipeline drives. Source, Classifier,
// Standby and Outputs are required; the rest may be nil.
type Deps struct {
	Source     audio.SampleSource
	Classifier classifier.Classifier
	Standby    actuation.Output
	Outputs    []actuation.Output // One per binding, in binding order.
	Notifier   actuation.Notifier
	Events     transport.Transport
	Recorder   *audio.Recorder
	Metrics    *observe.Metrics
	Closers    []io.Closer // Closed by Close, in reverse order.
}

// Pipeline is the single owner of the double buffer and the event group.
// Components receive references to them at construction and nothing else
// reaches them through globals.
type Pipeline struct {
	opts Options

	Buffer     *audio.DoubleBuffer
	Group      *actuation.EventGroup
	Flags      actuation.Flags
	Capture    *audio.CaptureTask
	Cycle      *inference.Cycle
	Controller *actuation.Controller
	Standby    actuation.Output
	Outputs    []actuation.Output

	classifier classifier.Classifier
	events     *eventPump
	publisher  *udp.UDPPublisher
	metrics    *observe.Metrics
	closers    []io.Closer
	startedAt  atomic.Int64
}

// New allocates the shared state and wires the components. Allocation
// failures here are fatal to startup.
func New(opts Options, deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Classifier == nil || deps.Standby == nil {
		return nil, errors.New("pipeline: source, classifier and standby output are required")
	}

	channels := make([]string, len(opts.Bindings))
	for i, b := range opts.Bindings {
		channels[i] = b.Channel
	}
	flags, err := actuation.NewFlags(channels...)
	if err != nil {
		return nil, err
	}
	if len(deps.Outputs) != len(channels) {
		return nil, fmt.Errorf("pipeline: %d outputs for %d channels", len(deps.Outputs), len(channels))
	}

	table, err := inference.NewTable(flags, opts.WakeLabel, opts.Bindings, opts.MinScore)
	if err != nil {
		return nil, err
	}

	buf, err := audio.NewDoubleBuffer(opts.WindowSamples)
	if err != nil {
		return nil, fmt.Errorf("pipeline: allocate sample buffer: %w", err)
	}
	group := actuation.NewEventGroup()

	capture, err := audio.NewCaptureTask(deps.Source, buf, opts.Capture)
	if err != nil {
		return nil, err
	}
	cycle, err := inference.NewCycle(buf, deps.Classifier, table, group, opts.Cycle)
	if err != nil {
		return nil, err
	}
	ctrl, err := actuation.NewController(group, flags, deps.Standby, deps.Outputs, deps.Notifier, opts.Controller)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		opts:       opts,
		Buffer:     buf,
		Group:      group,
		Flags:      flags,
		Capture:    capture,
		Cycle:      cycle,
		Controller: ctrl,
		Standby:    deps.Standby,
		Outputs:    deps.Outputs,
		classifier: deps.Classifier,
		metrics:    deps.Metrics,
		closers:    deps.Closers,
	}

	overrunLog := rate.Sometimes{First: 1, Interval: overrunLogInterval}
	buf.OnOverrun(func(total uint64) {
		deps.Metrics.RecordOverrun()
		overrunLog.Do(func() {
			log.Warnf("Pipeline: window overrun, inference is falling behind capture (total %d)", total)
		})
	})
	capture.SetMetrics(deps.Metrics)
	if deps.Recorder != nil {
		capture.SetRecorder(deps.Recorder)
	}
	cycle.SetMetrics(deps.Metrics)
	ctrl.SetMetrics(deps.Metrics)

	if deps.Events != nil {
		p.events = newEventPump(deps.Events, eventQueue)
		// Repeated decisions for the same label are not re-sent unless they
		// set a flag.
		var last string
		cycle.OnDecision(func(s inference.Snapshot) {
			if s.Decision.Set == 0 && s.Decision.Label == last {
				return
			}
			last = s.Decision.Label
			p.events.publish(decisionEvent(s, flags))
		})
		ctrl.OnTransition(func(tr actuation.Transition) {
			p.events.publish(transitionEvent(tr))
		})
	}

	return p, nil
}

// SetExitOnSourceEnd makes Run return once a finite source is drained,
// lingering for linger after the last window. Must be called before Run.
func (p *Pipeline) SetExitOnSourceEnd(linger time.Duration) {
	p.opts.ExitOnSourceEnd = true
	p.opts.Linger = linger
}

// Labels returns the classifier labels in score order.
func (p *Pipeline) Labels() []string {
	return p.classifier.Labels()
}

// Run starts every goroutine and blocks until ctx ends, a component fails
// or, with ExitOnSourceEnd, the source has been drained.
func (p *Pipeline) Run(ctx context.Context) error {
	p.startedAt.Store(time.Now().UnixNano())
	p.logSummary()

	if p.publisher != nil {
		p.publisher.Start()
		defer p.publisher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.Capture.Run(gctx); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		if p.opts.ExitOnSourceEnd && gctx.Err() == nil {
			p.drain(gctx)
			return errSourceDone
		}
		return nil
	})
	g.Go(func() error {
		return p.Cycle.Run(gctx)
	})
	g.Go(func() error {
		return p.Controller.Run(gctx)
	})
	if p.events != nil {
		g.Go(func() error {
			p.events.run(gctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, errSourceDone) {
		return nil
	}
	return err
}

// drain waits until every completed window has been classified, lingers so
// a final wake can be acted on, then waits for the controller to go idle.
func (p *Pipeline) drain(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	wait := func(done func() bool) bool {
		for !done() {
			select {
			case <-ctx.Done():
				return false
			case <-ticker.C:
			}
		}
		return true
	}

	// Windows lost to overruns are never classified.
	caughtUp := func() bool {
		return p.Cycle.Cycles()+p.Buffer.Overruns() >= p.Buffer.Flips()
	}
	if !wait(caughtUp) {
		return
	}

	if p.opts.Linger > 0 {
		t := time.NewTimer(p.opts.Linger)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}

	wait(func() bool { return p.Controller.State() == actuation.Idle })
	log.Infof("Pipeline: source drained after %d windows", p.Buffer.Flips())
}

func (p *Pipeline) logSummary() {
	rate := p.opts.Controller
	log.Infof("Inferencing settings:")
	log.Infof("\twindow: %d samples, chunk: %d samples, gain: x%d",
		p.opts.WindowSamples, p.opts.Capture.ChunkSamples, p.opts.Capture.Gain)
	log.Infof("\tslices per model window: %d, decision threshold: %d cycles",
		p.classifier.WindowCount(), p.Cycle.Threshold())
	log.Infof("\tlabels: %v", p.classifier.Labels())
	log.Infof("\tactuation: window %v, poll %v, settle %v", rate.Window, rate.PollInterval, rate.SettleDelay)
}

// Close releases everything registered as a closer, newest first.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Status is a point-in-time view for monitors.
type Status struct {
	Uptime      time.Duration
	State       actuation.State
	Activations uint64
	Flags       string

	Reads      uint64
	ReadFaults uint64
	Peak       int32
	Fill       int
	Windows    uint64
	Overruns   uint64

	Cycles         uint64
	LateEntries    uint64
	StaleWindows   uint64
	ClassifyErrors uint64

	Latest    inference.Snapshot
	HasLatest bool
}

// Status gathers counters from every component. Safe from any goroutine.
func (p *Pipeline) Status() Status {
	s := Status{
		State:          p.Controller.State(),
		Activations:    p.Controller.Activations(),
		Flags:          p.Flags.Format(p.Group.Get()),
		Reads:          p.Capture.Reads(),
		ReadFaults:     p.Capture.ReadFaults(),
		Peak:           p.Capture.Peak(),
		Fill:           p.Buffer.Fill(),
		Windows:        p.Buffer.Flips(),
		Overruns:       p.Buffer.Overruns(),
		Cycles:         p.Cycle.Cycles(),
		LateEntries:    p.Cycle.LateEntries(),
		StaleWindows:   p.Cycle.StaleWindows(),
		ClassifyErrors: p.Cycle.ClassifyErrors(),
	}
	if started := p.startedAt.Load(); started != 0 {
		s.Uptime = time.Since(time.Unix(0, started))
	}
	s.Latest, s.HasLatest = p.Cycle.Latest()
	return s
}
