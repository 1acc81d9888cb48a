// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrNotWAV is returned when a file lacks a valid RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a valid WAV file")

// DecodeWAV reads a PCM WAV file, downmixes it to mono, converts it to int16
// and resamples it to sampleRate when the file's rate differs.
func DecodeWAV(path string, sampleRate int) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}

	mono := downmix(buf.Data, channels, bitDepth)

	srcRate := buf.Format.SampleRate
	if srcRate == sampleRate || len(mono) == 0 {
		return mono, nil
	}
	return Resample(mono, srcRate, sampleRate)
}

// downmix averages interleaved frames into mono int16.
func downmix(data []int, channels, bitDepth int) []int16 {
	shift := bitDepth - 16
	frames := len(data) / channels
	out := make([]int16, frames)

	for i := range frames {
		var sum int
		for c := range channels {
			sum += data[i*channels+c]
		}
		v := sum / channels
		switch {
		case bitDepth == 8:
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		out[i] = clampInt16(v)
	}
	return out
}

// Resample converts mono int16 audio between sample rates.
func Resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler %d->%d: %w", fromRate, toRate, err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	out := make([]int16, len(output))
	for i, s := range output {
		out[i] = clampInt16(int(math.Round(s * 32767.0)))
	}
	return out, nil
}

func clampInt16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// MemorySource replays a fixed sample slice as a SampleSource. With pacing
// enabled each Read sleeps for the chunk's real-time duration, so the
// pipeline sees the same cadence as a live microphone.
type MemorySource struct {
	samples    []int16
	pos        int
	sampleRate int
	realtime   bool
}

// NewMemorySource wraps samples recorded at sampleRate.
func NewMemorySource(samples []int16, sampleRate int, realtime bool) *MemorySource {
	return &MemorySource{samples: samples, sampleRate: sampleRate, realtime: realtime}
}

// OpenWAVSource decodes path and wraps it in a MemorySource.
func OpenWAVSource(path string, sampleRate int, realtime bool) (*MemorySource, error) {
	samples, err := DecodeWAV(path, sampleRate)
	if err != nil {
		return nil, err
	}
	return NewMemorySource(samples, sampleRate, realtime), nil
}

// Read implements SampleSource. The final chunk may be short and is returned
// together with io.EOF.
func (s *MemorySource) Read(buf []int16, _ time.Duration) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}

	n := copy(buf, s.samples[s.pos:])
	s.pos += n

	if s.realtime && s.sampleRate > 0 {
		time.Sleep(time.Duration(n) * time.Second / time.Duration(s.sampleRate))
	}

	if s.pos >= len(s.samples) {
		return n, io.EOF
	}
	return n, nil
}

// Len returns the total number of samples.
func (s *MemorySource) Len() int {
	return len(s.samples)
}

// Samples returns the underlying slice.
func (s *MemorySource) Samples() []int16 {
	return s.samples
}
