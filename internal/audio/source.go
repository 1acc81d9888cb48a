// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"time"
)

// ErrReadTimeout is returned by a SampleSource when no samples arrived
// within the requested timeout.
var ErrReadTimeout = errors.New("audio: read timed out")

// SampleSource delivers raw audio in fixed-size bursts.
//
// Read fills buf with up to len(buf) samples, blocking at most timeout, and
// returns how many were written. A short read returns n < len(buf) and a nil
// error. Finite sources return io.EOF once exhausted.
type SampleSource interface {
	Read(buf []int16, timeout time.Duration) (int, error)
}
