// SPDX-License-Identifier: MIT
package classifier

import (
	"testing"

	"kws/internal/audiotest"
)

const (
	testFFTSize    = 512
	testSampleRate = 16000
)

func toFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s)
	}
	return out
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"Hann", Hann, false},
		{"hanning", Hann, false},
		{"", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"blackmannuttall", BlackmanNuttall, false},
		{"bartlettHann", BartlettHann, false},
		{"hamming", Hamming, false},
		{"lanczos", Lanczos, false},
		{"nuttall", Nuttall, false},
		{"kaiser", Hann, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseWindowFunc(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestWindowFuncStringRoundTrip(t *testing.T) {
	for w := BartlettHann; w <= Nuttall; w++ {
		got, err := ParseWindowFunc(w.String())
		if err != nil || got != w {
			t.Errorf("ParseWindowFunc(%q) = (%v, %v), want %v", w.String(), got, err, w)
		}
	}
	if s := WindowFunc(42).String(); s != "WindowFunc(42)" {
		t.Errorf("String() = %q", s)
	}
}

func TestNewSpectrumValidation(t *testing.T) {
	if _, err := newSpectrum(500, testSampleRate, Hann); err == nil {
		t.Error("expected error for non power of two size")
	}
	if _, err := newSpectrum(testFFTSize, 0, Hann); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestSpectrumPeakBin(t *testing.T) {
	spec, err := newSpectrum(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatalf("newSpectrum: %v", err)
	}

	// 1 kHz lands exactly on bin 32 with 31.25 Hz resolution.
	mag := spec.compute(toFloat(audiotest.SineWave(testFFTSize, testSampleRate, 1000)))

	peak := 0
	for i := range mag {
		if mag[i] > mag[peak] {
			peak = i
		}
	}
	if peak != 32 {
		t.Errorf("peak bin = %d, want 32", peak)
	}
	if f := spec.binFrequency(peak); f != 1000 {
		t.Errorf("binFrequency(%d) = %v, want 1000", peak, f)
	}
	if f := spec.binFrequency(-1); f != 0 {
		t.Errorf("binFrequency(-1) = %v, want 0", f)
	}
}

func TestSpectrumZeroPads(t *testing.T) {
	spec, err := newSpectrum(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatalf("newSpectrum: %v", err)
	}
	mag := spec.compute(nil)
	for i, m := range mag {
		if m != 0 {
			t.Fatalf("bin %d = %v for empty input, want 0", i, m)
		}
	}
}

func TestSpectrumHotPath(t *testing.T) {
	spec, err := newSpectrum(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatalf("newSpectrum: %v", err)
	}
	frame := toFloat(audiotest.ComplexWave(testFFTSize, testSampleRate))

	spec.compute(frame)
	allocs := testing.AllocsPerRun(100, func() {
		spec.compute(frame)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in spectrum hot path, got %.1f", allocs)
	}
}

func BenchmarkSpectrum(b *testing.B) {
	spec, err := newSpectrum(testFFTSize, testSampleRate, Hann)
	if err != nil {
		b.Fatal(err)
	}
	frame := toFloat(audiotest.ComplexWave(testFFTSize, testSampleRate))

	b.ReportAllocs()
	for b.Loop() {
		spec.compute(frame)
	}
}
