// SPDX-License-Identifier: MIT
package classifier

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Template is the enrolled centroid of one label.
type Template struct {
	Label    string    `yaml:"label"`
	Centroid []float64 `yaml:"centroid"`
	Count    int       `yaml:"count"` // Clips averaged into the centroid.
}

// Templates is the on-disk reference model: the feature settings it was
// enrolled with and one centroid per label.
type Templates struct {
	SampleRate float64    `yaml:"sample_rate"`
	FFTSize    int        `yaml:"fft_size"`
	Bands      int        `yaml:"bands"`
	Window     string     `yaml:"window"`
	Labels     []Template `yaml:"labels"`
}

// NewTemplates returns an empty template set for the given features.
func NewTemplates(cfg FeatureConfig) *Templates {
	return &Templates{
		SampleRate: cfg.SampleRate,
		FFTSize:    cfg.FFTSize,
		Bands:      cfg.Bands,
		Window:     cfg.Window.String(),
	}
}

// LoadTemplates reads a templates file.
func LoadTemplates(path string) (*Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}

	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("invalid templates %s: %w", path, err)
	}
	return &t, nil
}

// Save writes the templates to path.
func (t *Templates) Save(path string) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FeatureConfig returns the feature settings the templates were built with.
func (t *Templates) FeatureConfig() (FeatureConfig, error) {
	w, err := ParseWindowFunc(t.Window)
	if err != nil {
		return FeatureConfig{}, err
	}
	return FeatureConfig{
		SampleRate: t.SampleRate,
		FFTSize:    t.FFTSize,
		Bands:      t.Bands,
		Window:     w,
	}, nil
}

// Names returns the labels in file order.
func (t *Templates) Names() []string {
	names := make([]string, len(t.Labels))
	for i, l := range t.Labels {
		names[i] = l.Label
	}
	return names
}

// Add folds one feature vector into the running mean of label, creating
// the label if needed.
func (t *Templates) Add(label string, features []float64) error {
	if len(features) != t.Bands {
		return fmt.Errorf("feature vector has %d bands, templates use %d", len(features), t.Bands)
	}

	for i := range t.Labels {
		tpl := &t.Labels[i]
		if tpl.Label != label {
			continue
		}
		tpl.Count++
		for j, f := range features {
			tpl.Centroid[j] += (f - tpl.Centroid[j]) / float64(tpl.Count)
		}
		return nil
	}

	t.Labels = append(t.Labels, Template{
		Label:    label,
		Centroid: append([]float64(nil), features...),
		Count:    1,
	})
	return nil
}

func (t *Templates) validate() error {
	if len(t.Labels) == 0 {
		return errors.New("no labels")
	}
	seen := make(map[string]bool, len(t.Labels))
	for _, l := range t.Labels {
		if l.Label == "" {
			return errors.New("template without a label")
		}
		if seen[l.Label] {
			return fmt.Errorf("label %q appears twice", l.Label)
		}
		seen[l.Label] = true
		if len(l.Centroid) != t.Bands {
			return fmt.Errorf("label %q has %d bands, want %d", l.Label, len(l.Centroid), t.Bands)
		}
	}
	return nil
}
