// SPDX-License-Identifier: MIT
// Package observe holds the OpenTelemetry instruments the pipeline reports
// into. A nil *Metrics is valid and records nothing, so components can be
// built without telemetry in tests.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all kws metrics.
const meterName = "kws"

// Metrics holds every instrument used by the pipeline.
type Metrics struct {
	CapturedSamples metric.Int64Counter
	ReadFaults      metric.Int64Counter // attribute "kind": error, partial, timeout
	InputPeak       metric.Int64Gauge   // Absolute peak of the last gained chunk.

	Windows  metric.Int64Counter
	Overruns metric.Int64Counter

	Cycles             metric.Int64Counter
	ClassifyErrors     metric.Int64Counter
	ClassifyDuration   metric.Float64Histogram
	Decisions          metric.Int64Counter // attribute "label"
	StaleWindows       metric.Int64Counter
	ActivationsStarted metric.Int64Counter
	ActivationOutcomes metric.Int64Counter // attributes "outcome", "channel"
	Active             metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates all instruments from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.CapturedSamples, "kws.capture.samples", "Samples appended to the double buffer."},
		{&met.ReadFaults, "kws.capture.read_faults", "Failed, short or timed out source reads."},
		{&met.Windows, "kws.buffer.windows", "Windows completed by capture."},
		{&met.Overruns, "kws.buffer.overruns", "Windows overwritten before the consumer read them."},
		{&met.Cycles, "kws.inference.cycles", "Successful classification cycles."},
		{&met.ClassifyErrors, "kws.inference.classify_errors", "Classifier calls that returned an error."},
		{&met.Decisions, "kws.inference.decisions", "Decisions applied to the event flags, by winning label."},
		{&met.StaleWindows, "kws.inference.stale_windows", "Windows overwritten while being classified."},
		{&met.ActivationsStarted, "kws.actuation.activations", "Wake events that opened a decision window."},
		{&met.ActivationOutcomes, "kws.actuation.outcomes", "How decision windows ended."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ClassifyDuration, err = m.Float64Histogram("kws.inference.classify.duration",
		metric.WithDescription("Latency of one classifier call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.InputPeak, err = m.Int64Gauge("kws.capture.peak",
		metric.WithDescription("Absolute peak amplitude of the last captured chunk after gain."),
	); err != nil {
		return nil, err
	}

	if met.Active, err = m.Int64UpDownCounter("kws.actuation.active",
		metric.WithDescription("1 while the controller is inside a decision window."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordSamples counts appended samples and completed windows.
func (m *Metrics) RecordSamples(n int, windows int) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.CapturedSamples.Add(ctx, int64(n))
	if windows > 0 {
		m.Windows.Add(ctx, int64(windows))
	}
}

// RecordPeak stores the input level of the last chunk.
func (m *Metrics) RecordPeak(peak int32) {
	if m == nil {
		return
	}
	m.InputPeak.Record(context.Background(), int64(peak))
}

// RecordReadFault counts a failed or short read.
func (m *Metrics) RecordReadFault(kind string) {
	if m == nil {
		return
	}
	m.ReadFaults.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordOverrun counts a lost window.
func (m *Metrics) RecordOverrun() {
	if m == nil {
		return
	}
	m.Overruns.Add(context.Background(), 1)
}

// RecordClassify records one classifier call.
func (m *Metrics) RecordClassify(d time.Duration, err error) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.ClassifyDuration.Record(ctx, d.Seconds())
	if err != nil {
		m.ClassifyErrors.Add(ctx, 1)
		return
	}
	m.Cycles.Add(ctx, 1)
}

// RecordStale counts a window overwritten during classification.
func (m *Metrics) RecordStale() {
	if m == nil {
		return
	}
	m.StaleWindows.Add(context.Background(), 1)
}

// RecordDecision counts an applied decision.
func (m *Metrics) RecordDecision(label string) {
	if m == nil {
		return
	}
	m.Decisions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("label", label)))
}

// RecordActivation tracks entry into a decision window.
func (m *Metrics) RecordActivation() {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.ActivationsStarted.Add(ctx, 1)
	m.Active.Add(ctx, 1)
}

// RecordOutcome tracks how a decision window ended.
func (m *Metrics) RecordOutcome(outcome, channel string) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.Active.Add(ctx, -1)
	m.ActivationOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("channel", channel),
	))
}
