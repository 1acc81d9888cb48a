// SPDX-License-Identifier: MIT
package classifier

import (
	"errors"
	"fmt"
)

// Continuous adapts a Model that needs a long window to a stream of short
// slices. It keeps the last N slices as the model window, shifting one slice
// in per call, and optionally averages the last N score vectors with a
// moving-average filter. N is also the WindowCount: a decision is only
// meaningful once N slices have been seen.
//
// Thread Safety:
//   - Not safe for concurrent use; owned by the inference loop.
type Continuous struct {
	model     Model
	slices    int
	smoothing bool

	sliceLen int
	slice    []float32 // Incoming slice, read before the window shifts.
	window   []float32

	history [][]float64 // Ring of the last N score vectors.
	next    int
	filled  int
}

var _ Classifier = (*Continuous)(nil)

// NewContinuous wraps model so each call sees the last slices windows.
func NewContinuous(model Model, slices int, smoothing bool) (*Continuous, error) {
	if model == nil {
		return nil, errors.New("classifier: nil model")
	}
	if slices < 1 {
		return nil, fmt.Errorf("classifier: slices per window must be at least 1, got %d", slices)
	}

	labels := len(model.Labels())
	history := make([][]float64, slices)
	for i := range history {
		history[i] = make([]float64, labels)
	}

	return &Continuous{
		model:     model,
		slices:    slices,
		smoothing: smoothing,
		history:   history,
	}, nil
}

// WindowCount implements Classifier.
func (c *Continuous) WindowCount() int {
	return c.slices
}

// Labels implements Classifier.
func (c *Continuous) Labels() []string {
	return c.model.Labels()
}

// Reset forgets all buffered slices and scores.
func (c *Continuous) Reset() {
	clear(c.window)
	for _, h := range c.history {
		clear(h)
	}
	c.next = 0
	c.filled = 0
}

// Classify implements Classifier. The first call fixes the slice length.
func (c *Continuous) Classify(sig Signal) (Result, error) {
	if sig.GetData == nil || sig.TotalLength <= 0 {
		return Result{}, fmt.Errorf("%w: empty signal", ErrSignal)
	}

	if c.window == nil {
		c.sliceLen = sig.TotalLength
		c.slice = make([]float32, c.sliceLen)
		c.window = make([]float32, c.sliceLen*c.slices)
	} else if sig.TotalLength != c.sliceLen {
		return Result{}, fmt.Errorf("%w: slice of %d samples, expected %d", ErrSignal, sig.TotalLength, c.sliceLen)
	}

	// A failed read leaves the model window untouched.
	if err := sig.GetData(0, c.slice); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSignal, err)
	}
	copy(c.window, c.window[c.sliceLen:])
	copy(c.window[len(c.window)-c.sliceLen:], c.slice)

	scores, err := c.model.Predict(c.window)
	if err != nil {
		return Result{}, fmt.Errorf("classifier: predict: %w", err)
	}

	labels := c.model.Labels()
	if len(scores) != len(labels) {
		return Result{}, fmt.Errorf("classifier: model returned %d scores for %d labels", len(scores), len(labels))
	}

	copy(c.history[c.next], scores)
	c.next = (c.next + 1) % c.slices
	c.filled = min(c.filled+1, c.slices)

	res := Result{Predictions: make([]Prediction, len(labels))}
	for i, label := range labels {
		res.Predictions[i] = Prediction{Label: label, Score: scores[i]}
	}

	if c.smoothing {
		for i := range res.Predictions {
			var sum float64
			for _, h := range c.history[:c.filled] {
				sum += h[i]
			}
			res.Predictions[i].Score = sum / float64(c.filled)
		}
	}

	return res, nil
}
