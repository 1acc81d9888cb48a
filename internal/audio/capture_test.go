// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kws/internal/audiotest"
)

func newTestCapture(t *testing.T, src SampleSource, buf *DoubleBuffer) *CaptureTask {
	t.Helper()
	task, err := NewCaptureTask(src, buf, CaptureConfig{
		ChunkSamples: testChunk,
		Gain:         8,
		ReadTimeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCaptureTask: %v", err)
	}
	return task
}

func TestNewCaptureTaskValidation(t *testing.T) {
	buf := newTestBuffer(t, testWindow)
	src := audiotest.NewScriptedSource()

	tests := []struct {
		name string
		src  SampleSource
		buf  *DoubleBuffer
		cfg  CaptureConfig
	}{
		{"No source", nil, buf, CaptureConfig{ChunkSamples: 1, Gain: 1, ReadTimeout: time.Millisecond}},
		{"No buffer", src, nil, CaptureConfig{ChunkSamples: 1, Gain: 1, ReadTimeout: time.Millisecond}},
		{"Zero chunk", src, buf, CaptureConfig{ChunkSamples: 0, Gain: 1, ReadTimeout: time.Millisecond}},
		{"Zero gain", src, buf, CaptureConfig{ChunkSamples: 1, Gain: 0, ReadTimeout: time.Millisecond}},
		{"Zero timeout", src, buf, CaptureConfig{ChunkSamples: 1, Gain: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCaptureTask(tt.src, tt.buf, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCaptureFillsWindows(t *testing.T) {
	steps := make([]audiotest.Step, 10)
	for i := range steps {
		steps[i] = audiotest.Step{N: testChunk}
	}
	src := audiotest.NewScriptedSource(steps...)
	buf := newTestBuffer(t, testWindow)
	task := newTestCapture(t, src, buf)

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if buf.Flips() != 2 {
		t.Errorf("Flips() = %d, want 2", buf.Flips())
	}
	if buf.Fill() != 10*testChunk-2*testWindow {
		t.Errorf("Fill() = %d, want %d", buf.Fill(), 10*testChunk-2*testWindow)
	}
	if task.Recording() {
		t.Error("task still recording after source EOF")
	}
	if task.ReadFaults() != 0 {
		t.Errorf("ReadFaults() = %d, want 0", task.ReadFaults())
	}
}

func TestCaptureAppliesGain(t *testing.T) {
	samples := make([]int16, testChunk)
	for i := range samples {
		samples[i] = 100
	}
	samples[0] = 5000

	src := audiotest.NewScriptedSource(
		audiotest.Step{Samples: samples},
		audiotest.Step{Samples: samples},
		audiotest.Step{Samples: samples},
		audiotest.Step{Samples: samples},
	)
	buf := newTestBuffer(t, testWindow)
	task := newTestCapture(t, src, buf)
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.Peak() != 32767 {
		t.Errorf("Peak = %d, want the saturated level 32767", task.Peak())
	}

	w, err := buf.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if w.At(0) != 32767 {
		t.Errorf("saturated sample = %d, want 32767", w.At(0))
	}
	if w.At(1) != 800 {
		t.Errorf("gained sample = %d, want 800", w.At(1))
	}
}

func TestCaptureShortAndFailedReads(t *testing.T) {
	boom := errors.New("i2s fault")
	src := audiotest.NewScriptedSource(
		audiotest.Step{N: testChunk},
		audiotest.Step{N: 0, Err: boom},
		audiotest.Step{N: 0, Err: ErrReadTimeout},
		audiotest.Step{N: 100},
		audiotest.Step{N: testChunk},
	)
	buf := newTestBuffer(t, testWindow)
	task := newTestCapture(t, src, buf)

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Only samples that arrived are appended.
	if want := 2*testChunk + 100; buf.Fill() != want {
		t.Errorf("Fill() = %d, want %d", buf.Fill(), want)
	}
	if task.ReadFaults() != 3 {
		t.Errorf("ReadFaults() = %d, want 3", task.ReadFaults())
	}
	if task.Reads() != 6 {
		t.Errorf("Reads() = %d, want 6 (five steps plus EOF)", task.Reads())
	}
}

func TestCaptureStop(t *testing.T) {
	steps := make([]audiotest.Step, 1000)
	for i := range steps {
		steps[i] = audiotest.Step{N: testChunk, Delay: time.Millisecond}
	}
	src := audiotest.NewScriptedSource(steps...)
	task := newTestCapture(t, src, newTestBuffer(t, testWindow))

	done := make(chan error, 1)
	go func() { done <- task.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	task.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("capture did not stop")
	}
	if src.Reads() >= len(steps) {
		t.Error("capture consumed the whole script despite Stop")
	}
}

func TestCaptureContextCancel(t *testing.T) {
	steps := make([]audiotest.Step, 1000)
	for i := range steps {
		steps[i] = audiotest.Step{N: testChunk, Delay: time.Millisecond}
	}
	task := newTestCapture(t, audiotest.NewScriptedSource(steps...), newTestBuffer(t, testWindow))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := task.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestCaptureTeesToRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.wav")
	rec, err := NewRecorder(path, 16000, 16, testChunk)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	src := audiotest.NewScriptedSource(
		audiotest.Step{Samples: audiotest.SineWave(testChunk, 16000, 440)},
		audiotest.Step{N: 500},
	)
	task := newTestCapture(t, src, newTestBuffer(t, testWindow))
	task.SetRecorder(rec)

	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.Frames() != testChunk+500 {
		t.Errorf("recorded %d frames, want %d", rec.Frames(), testChunk+500)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
