// SPDX-License-Identifier: MIT
//
// Package classifier defines the boundary between the audio pipeline and a
// keyword model, and ships a small reference model so the daemon runs
// without an external inference engine.
package classifier

import (
	"errors"
)

// ErrSignal is returned when the signal cannot be read or does not match
// the shape the classifier was first used with.
var ErrSignal = errors.New("classifier: bad signal")

// Signal is a lazily read view over one window of audio. GetData fills out
// with samples starting at offset.
type Signal struct {
	TotalLength int
	GetData     func(offset int, out []float32) error
}

// Prediction is one label and its score in [0, 1].
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result holds one score per label, in label order.
type Result struct {
	Predictions []Prediction `json:"predictions"`
}

// Classifier scores windows of audio.
type Classifier interface {
	// Classify scores one window. Implementations may keep state across calls.
	Classify(sig Signal) (Result, error)
	// WindowCount is the number of consecutive windows one decision spans.
	WindowCount() int
	// Labels returns the labels in prediction order.
	Labels() []string
}

// Model scores a complete model window.
type Model interface {
	Labels() []string
	Predict(samples []float32) ([]float64, error)
}
