// SPDX-License-Identifier: MIT
package actuation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"kws/internal/log"
	"kws/internal/observe"
)

// State of the controller.
type State int32

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Outcome says how a decision window ended.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeOn        Outcome = "on"
	OutcomeOff       Outcome = "off"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// Transition is reported on every state change.
type Transition struct {
	From    State
	To      State
	Outcome Outcome // Set when leaving Active.
	Channel string  // Channel acted on, if any.
	At      time.Time
}

// ControllerConfig holds the decision window timings and the standby
// polarity.
type ControllerConfig struct {
	Window       time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration
	StandbyAwake Level // Standby line level while Active.
}

// Controller is the Idle/Active state machine.
//
// Thread Safety:
//   - Run must be called once, from a single goroutine.
//   - State and Activations may be called from any goroutine.
type Controller struct {
	cfg      ControllerConfig
	group    *EventGroup
	flags    Flags
	standby  Output
	outputs  []Output
	notifier Notifier

	metrics      *observe.Metrics
	onTransition func(Transition)

	state       atomic.Int32
	activations atomic.Uint64
}

// NewController wires the controller. outputs holds one line per channel in
// flags order; notifier may be nil.
func NewController(group *EventGroup, flags Flags, standby Output, outputs []Output, notifier Notifier, cfg ControllerConfig) (*Controller, error) {
	if group == nil {
		return nil, errors.New("actuation: controller needs an event group")
	}
	if standby == nil {
		return nil, errors.New("actuation: controller needs a standby output")
	}
	if len(outputs) != len(flags.Channels()) {
		return nil, fmt.Errorf("actuation: %d outputs for %d channels", len(outputs), len(flags.Channels()))
	}
	if cfg.Window <= 0 || cfg.PollInterval <= 0 || cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("actuation: invalid timings window=%v poll=%v settle=%v", cfg.Window, cfg.PollInterval, cfg.SettleDelay)
	}

	return &Controller{
		cfg:      cfg,
		group:    group,
		flags:    flags,
		standby:  standby,
		outputs:  outputs,
		notifier: notifier,
	}, nil
}

// SetMetrics attaches telemetry. Must be called before Run.
func (c *Controller) SetMetrics(m *observe.Metrics) {
	c.metrics = m
}

// OnTransition registers a hook called from the controller goroutine on
// every state change. Must be called before Run.
func (c *Controller) OnTransition(fn func(Transition)) {
	c.onTransition = fn
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Activations returns how many decision windows have been opened.
func (c *Controller) Activations() uint64 {
	return c.activations.Load()
}

// Run drives the state machine until ctx ends. The only indefinite wait is
// the Idle wait on the flag group.
func (c *Controller) Run(ctx context.Context) error {
	asleep := c.cfg.StandbyAwake.Invert()
	c.setLine(c.standby, "standby", asleep)

	for {
		bits, err := c.group.Wait(ctx, c.flags.Mask(), true)
		if err != nil {
			return nil
		}

		if bits&Wake == 0 {
			log.Debugf("Actuation: ignoring %s while idle", c.flags.Format(bits))
			continue
		}

		c.activate(ctx)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// activate runs one decision window. Standby is always restored on return.
func (c *Controller) activate(ctx context.Context) {
	c.activations.Add(1)
	c.transition(Idle, Active, OutcomeNone, "")
	c.metrics.RecordActivation()
	c.setLine(c.standby, "standby", c.cfg.StandbyAwake)
	log.Infof("Actuation: awake, listening for %v", c.cfg.Window)

	outcome, channel := c.decide(ctx)

	c.setLine(c.standby, "standby", c.cfg.StandbyAwake.Invert())
	c.metrics.RecordOutcome(string(outcome), channel)
	c.transition(Active, Idle, outcome, channel)
	log.Infof("Actuation: back to idle (%s)", outcome)
}

// decide polls the flags immediately and then every poll interval until a
// channel is switched or the window elapses.
func (c *Controller) decide(ctx context.Context) (Outcome, string) {
	deadline := time.NewTimer(c.cfg.Window)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if outcome, channel := c.check(ctx); outcome != OutcomeNone {
			return outcome, channel
		}

		select {
		case <-ctx.Done():
			return OutcomeCancelled, ""
		case <-deadline.C:
			return OutcomeTimeout, ""
		case <-ticker.C:
		}
	}
}

// check peeks the flags without clearing them. Every channel is scanned for
// On before any is scanned for Off; within a pass channels go in order.
func (c *Controller) check(ctx context.Context) (Outcome, string) {
	bits := c.group.Get()
	channels := c.flags.Channels()

	for i, name := range channels {
		if bits&c.flags.On(i) == 0 {
			continue
		}
		c.setLine(c.outputs[i], name, High)
		if c.notifier != nil {
			if err := c.notifier.Notify(ctx, name); err != nil {
				log.Warnf("Actuation: notify %s failed: %v", name, err)
			}
		}
		c.settle(ctx)
		return OutcomeOn, name
	}

	for i, name := range channels {
		if bits&c.flags.Off(i) != 0 {
			// The output is left as is; turning off only ends the window.
			c.settle(ctx)
			return OutcomeOff, name
		}
	}
	return OutcomeNone, ""
}

func (c *Controller) settle(ctx context.Context) {
	if c.cfg.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(c.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (c *Controller) setLine(o Output, name string, l Level) {
	if err := o.Set(l); err != nil {
		log.Errorf("Actuation: set %s %s: %v", name, l, err)
	}
}

// transition runs the hook before publishing the new state, so anyone who
// observes the state has also seen its event.
func (c *Controller) transition(from, to State, outcome Outcome, channel string) {
	if c.onTransition != nil {
		c.onTransition(Transition{From: from, To: to, Outcome: outcome, Channel: channel, At: time.Now()})
	}
	c.state.Store(int32(to))
}
