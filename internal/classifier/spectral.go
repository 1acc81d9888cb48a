// SPDX-License-Identifier: MIT
package classifier

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// SpectralModel is a nearest-centroid model over band-energy features.
// Scores are a softmax over negative distances to each label centroid.
type SpectralModel struct {
	templates   *Templates
	extractor   *FeatureExtractor
	temperature float64
	labels      []string
	distances   []float64
}

var _ Model = (*SpectralModel)(nil)

// NewSpectralModel builds a model from enrolled templates. temperature
// controls how peaked the scores are; values <= 0 use 1.
func NewSpectralModel(t *Templates, temperature float64) (*SpectralModel, error) {
	if t == nil || len(t.Labels) == 0 {
		return nil, errors.New("classifier: templates contain no labels")
	}
	cfg, err := t.FeatureConfig()
	if err != nil {
		return nil, err
	}
	extractor, err := NewFeatureExtractor(cfg)
	if err != nil {
		return nil, err
	}
	if temperature <= 0 {
		temperature = 1
	}

	return &SpectralModel{
		templates:   t,
		extractor:   extractor,
		temperature: temperature,
		labels:      t.Names(),
		distances:   make([]float64, len(t.Labels)),
	}, nil
}

// Labels implements Model.
func (m *SpectralModel) Labels() []string {
	return m.labels
}

// Predict implements Model.
func (m *SpectralModel) Predict(samples []float32) ([]float64, error) {
	features := m.extractor.Extract(samples)

	for i, tpl := range m.templates.Labels {
		m.distances[i] = floats.Distance(features, tpl.Centroid, 2)
	}

	return softmaxNegative(m.distances, m.temperature), nil
}

// softmaxNegative maps distances to scores that sum to one, nearest highest.
func softmaxNegative(distances []float64, temperature float64) []float64 {
	scores := make([]float64, len(distances))
	if len(distances) == 0 {
		return scores
	}

	minD := distances[0]
	for _, d := range distances[1:] {
		minD = min(minD, d)
	}

	var sum float64
	for i, d := range distances {
		scores[i] = math.Exp(-(d - minD) / temperature)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
	return scores
}
