// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"kws/internal/log"
	"kws/internal/observe"
)

// CaptureConfig sizes and tunes a CaptureTask.
type CaptureConfig struct {
	ChunkSamples int
	Gain         int
	ReadTimeout  time.Duration
}

// CaptureTask reads fixed-size chunks from a SampleSource, applies gain and
// appends them to a DoubleBuffer. It runs on its own goroutine and never
// waits on the consumer.
type CaptureTask struct {
	source  SampleSource
	buffer  *DoubleBuffer
	gain    int
	timeout time.Duration

	chunk []int16 // Reused for every read.

	recording atomic.Bool
	recorder  *Recorder
	metrics   *observe.Metrics

	reads      atomic.Uint64
	readFaults atomic.Uint64
	peak       atomic.Int32 // Of the last pushed chunk, after gain.
}

// NewCaptureTask validates the configuration and pre-allocates the read buffer.
func NewCaptureTask(src SampleSource, buf *DoubleBuffer, cfg CaptureConfig) (*CaptureTask, error) {
	if src == nil {
		return nil, errors.New("audio: capture needs a sample source")
	}
	if buf == nil {
		return nil, errors.New("audio: capture needs a double buffer")
	}
	if cfg.ChunkSamples <= 0 {
		return nil, fmt.Errorf("audio: invalid chunk size %d", cfg.ChunkSamples)
	}
	if cfg.Gain < 1 {
		return nil, fmt.Errorf("audio: invalid gain %d", cfg.Gain)
	}
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("audio: invalid read timeout %v", cfg.ReadTimeout)
	}

	t := &CaptureTask{
		source:  src,
		buffer:  buf,
		gain:    cfg.Gain,
		timeout: cfg.ReadTimeout,
		chunk:   make([]int16, cfg.ChunkSamples),
	}
	t.recording.Store(true)
	return t, nil
}

// SetRecorder tees every gained chunk into rec. Must be called before Run.
func (t *CaptureTask) SetRecorder(rec *Recorder) {
	t.recorder = rec
}

// SetMetrics attaches telemetry. Must be called before Run.
func (t *CaptureTask) SetMetrics(m *observe.Metrics) {
	t.metrics = m
}

// Recording reports whether the capture loop is still meant to run.
func (t *CaptureTask) Recording() bool {
	return t.recording.Load()
}

// Stop asks the loop to exit after the read in progress.
func (t *CaptureTask) Stop() {
	t.recording.Store(false)
}

// Reads returns the number of source reads attempted.
func (t *CaptureTask) Reads() uint64 {
	return t.reads.Load()
}

// ReadFaults returns the number of failed or short reads.
func (t *CaptureTask) ReadFaults() uint64 {
	return t.readFaults.Load()
}

// Peak returns the absolute peak amplitude of the last chunk appended.
func (t *CaptureTask) Peak() int32 {
	return t.peak.Load()
}

// Run loops until Stop is called, ctx is cancelled or the source reports
// io.EOF. Read errors other than EOF are logged and retried; a partial read
// appends only the samples that arrived.
func (t *CaptureTask) Run(ctx context.Context) error {
	log.Debugf("Capture: started (chunk=%d gain=%d timeout=%v)", len(t.chunk), t.gain, t.timeout)
	defer log.Debugf("Capture: stopped after %d reads", t.reads.Load())

	for t.recording.Load() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := t.source.Read(t.chunk, t.timeout)
		t.reads.Add(1)

		switch {
		case errors.Is(err, io.EOF):
			if n > 0 {
				t.push(t.chunk[:n])
			}
			log.Infof("Capture: source exhausted")
			t.recording.Store(false)
			return nil
		case errors.Is(err, ErrReadTimeout):
			t.fault("timeout")
			log.Warnf("Capture: read timed out after %v", t.timeout)
			if n == 0 {
				continue
			}
		case err != nil:
			t.fault("error")
			log.Warnf("Capture: read failed: %v", err)
			if n == 0 {
				continue
			}
		case n < len(t.chunk):
			t.fault("partial")
			log.Debugf("Capture: partial read %d/%d samples", n, len(t.chunk))
		}

		t.push(t.chunk[:n])
	}

	return nil
}

func (t *CaptureTask) fault(kind string) {
	t.readFaults.Add(1)
	t.metrics.RecordReadFault(kind)
}

func (t *CaptureTask) push(samples []int16) {
	if len(samples) == 0 {
		return
	}
	ApplyGain(samples, t.gain)
	peak := Peak(samples)
	t.peak.Store(peak)
	t.metrics.RecordPeak(peak)

	if t.recorder != nil {
		if err := t.recorder.Write(samples); err != nil {
			log.Warnf("Capture: recorder write failed, disabling recording: %v", err)
			t.recorder = nil
		}
	}

	before := t.buffer.Flips()
	t.buffer.Append(samples)
	t.metrics.RecordSamples(len(samples), int(t.buffer.Flips()-before))
}
