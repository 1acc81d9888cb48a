// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kws/internal/audiotest"
)

const (
	testWindow = 4000
	testChunk  = 1024
)

func newTestBuffer(t *testing.T, n int) *DoubleBuffer {
	t.Helper()
	b, err := NewDoubleBuffer(n)
	if err != nil {
		t.Fatalf("NewDoubleBuffer(%d): %v", n, err)
	}
	return b
}

func TestNewDoubleBufferSize(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantErr bool
	}{
		{"Zero", 0, true},
		{"Negative", -1, true},
		{"One", 1, false},
		{"Default", testWindow, false},
		{"Max", MaxWindowSamples, false},
		{"Above max", MaxWindowSamples + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewDoubleBuffer(tt.n)
			if tt.wantErr {
				if !errors.Is(err, ErrWindowSize) {
					t.Errorf("err = %v, want ErrWindowSize", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b.WindowSamples() != tt.n {
				t.Errorf("WindowSamples() = %d, want %d", b.WindowSamples(), tt.n)
			}
		})
	}
}

func TestDoubleBufferFlipCount(t *testing.T) {
	tests := []struct {
		name      string
		chunks    int
		wantFlips uint64
		wantFill  int
	}{
		{"Partial window", 3, 0, 3 * testChunk},
		{"One window", 4, 1, 4*testChunk - testWindow},
		{"Ten chunks", 10, 2, 10*testChunk - 2*testWindow},
		{"Exact multiple", 125, 32, 0},
	}

	chunk := make([]int16, testChunk)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuffer(t, testWindow)
			for range tt.chunks {
				b.Append(chunk)
				if b.Fill() >= testWindow {
					t.Fatalf("fill %d reached window size", b.Fill())
				}
			}
			if b.Flips() != tt.wantFlips {
				t.Errorf("Flips() = %d, want %d", b.Flips(), tt.wantFlips)
			}
			if b.Fill() != tt.wantFill {
				t.Errorf("Fill() = %d, want %d", b.Fill(), tt.wantFill)
			}
		})
	}
}

func TestDoubleBufferPreservesOrder(t *testing.T) {
	b := newTestBuffer(t, testWindow)
	ramp := audiotest.Ramp(2 * testWindow)

	for off := 0; off < len(ramp); off += testChunk {
		b.Append(ramp[off:min(off+testChunk, len(ramp))])
		if b.IsReady() {
			break
		}
	}

	w, err := b.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if w.Len() != testWindow {
		t.Fatalf("Len() = %d, want %d", w.Len(), testWindow)
	}
	for i := range w.Len() {
		if w.At(i) != int16(i) {
			t.Fatalf("sample %d = %d, want %d", i, w.At(i), i)
		}
	}

	// The overflow of the completing chunk starts the next window.
	if want := 4*testChunk - testWindow; b.Fill() != want {
		t.Errorf("Fill() = %d, want %d", b.Fill(), want)
	}
}

func TestDoubleBufferConsumeNotReady(t *testing.T) {
	b := newTestBuffer(t, 8)

	w, err := b.Consume()
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
	if w.Valid() {
		t.Error("window from failed Consume should be invalid")
	}

	b.Append(make([]int16, 8))
	if _, err := b.Consume(); err != nil {
		t.Fatalf("Consume after full window: %v", err)
	}
	if b.IsReady() {
		t.Error("IsReady() should be false after Consume")
	}
	if _, err := b.Consume(); !errors.Is(err, ErrNotReady) {
		t.Errorf("second Consume err = %v, want ErrNotReady", err)
	}
}

func TestDoubleBufferOverrun(t *testing.T) {
	b := newTestBuffer(t, 4)

	var reported []uint64
	b.OnOverrun(func(total uint64) { reported = append(reported, total) })

	b.Append([]int16{1, 1, 1, 1})
	if b.Overruns() != 0 {
		t.Fatalf("Overruns() = %d after first window", b.Overruns())
	}

	b.Append([]int16{2, 2, 2, 2})
	b.Append([]int16{3, 3, 3, 3})
	if b.Overruns() != 2 {
		t.Fatalf("Overruns() = %d, want 2", b.Overruns())
	}
	if len(reported) != 2 || reported[1] != 2 {
		t.Errorf("callback totals = %v, want [1 2]", reported)
	}

	w, err := b.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if w.At(0) != 3 {
		t.Errorf("consumer got window %d, want the latest (3)", w.At(0))
	}
}

func TestWindowStale(t *testing.T) {
	b := newTestBuffer(t, 4)
	b.Append([]int16{1, 2, 3, 4})

	w, err := b.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if w.Stale() {
		t.Fatal("fresh window reported stale")
	}

	b.Append([]int16{5, 6})
	if w.Stale() {
		t.Error("window stale before capture flipped back onto it")
	}

	b.Append([]int16{7, 8})
	if !w.Stale() {
		t.Error("window not stale after capture flipped onto it")
	}

	if !(Window{}).Stale() {
		t.Error("zero window should be stale")
	}
}

func TestWindowReadFloat(t *testing.T) {
	b := newTestBuffer(t, 4)
	b.Append([]int16{-32768, -1, 0, 32767})
	w, err := b.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	tests := []struct {
		name    string
		offset  int
		n       int
		want    []float32
		wantErr bool
	}{
		{"Whole", 0, 4, []float32{-32768, -1, 0, 32767}, false},
		{"Tail", 2, 2, []float32{0, 32767}, false},
		{"Empty", 4, 0, []float32{}, false},
		{"Negative offset", -1, 1, nil, true},
		{"Past end", 3, 2, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, tt.n)
			err := w.ReadFloat(tt.offset, out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i := range tt.want {
				if out[i] != tt.want[i] {
					t.Errorf("out[%d] = %v, want %v", i, out[i], tt.want[i])
				}
			}
		})
	}
}

func TestDoubleBufferWait(t *testing.T) {
	b := newTestBuffer(t, testWindow)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait on empty buffer err = %v, want deadline", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]int16, testChunk)
		for range 4 {
			b.Append(chunk)
			time.Sleep(time.Millisecond)
		}
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	w, err := b.Wait(ctx2)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if w.Len() != testWindow {
		t.Errorf("Len() = %d, want %d", w.Len(), testWindow)
	}
	wg.Wait()
}

func TestDoubleBufferConcurrentFlipsMatchConsumes(t *testing.T) {
	const windows = 200
	b := newTestBuffer(t, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		chunk := make([]int16, 16)
		for b.Flips() < windows {
			b.Append(chunk)
		}
	}()

	var consumed uint64
	for {
		select {
		case <-done:
			for b.IsReady() {
				if _, err := b.Consume(); err == nil {
					consumed++
				}
			}
			if got := consumed + b.Overruns(); got != b.Flips() {
				t.Errorf("consumed(%d) + overruns(%d) = %d, want flips %d",
					consumed, b.Overruns(), got, b.Flips())
			}
			return
		default:
		}
		waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Millisecond)
		if _, err := b.Wait(waitCtx); err == nil {
			consumed++
		}
		waitCancel()
	}
}

func TestAppendHotPathAllocations(t *testing.T) {
	b := newTestBuffer(t, testWindow)
	chunk := make([]int16, testChunk)

	allocs := testing.AllocsPerRun(100, func() {
		b.Append(chunk)
	})
	if allocs > 0 {
		t.Errorf("Append allocated %.1f times per call, want 0", allocs)
	}
}

func BenchmarkAppendHotPath(b *testing.B) {
	buf, err := NewDoubleBuffer(testWindow)
	if err != nil {
		b.Fatal(err)
	}
	chunk := audiotest.SineWave(testChunk, 16000, 440)

	b.ReportAllocs()
	for b.Loop() {
		buf.Append(chunk)
	}
}
