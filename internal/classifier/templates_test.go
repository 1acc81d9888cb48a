// SPDX-License-Identifier: MIT
package classifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTemplatesAddRunningMean(t *testing.T) {
	cfg := testFeatureConfig()
	cfg.Bands = 2
	tpl := NewTemplates(cfg)

	steps := []struct {
		label string
		vec   []float64
	}{
		{"wake", []float64{1, 0}},
		{"wake", []float64{0, 1}},
		{"noise", []float64{2, 2}},
		{"wake", []float64{2, 2}},
	}
	for _, s := range steps {
		if err := tpl.Add(s.label, s.vec); err != nil {
			t.Fatalf("Add(%s): %v", s.label, err)
		}
	}

	if got := tpl.Names(); len(got) != 2 || got[0] != "wake" || got[1] != "noise" {
		t.Fatalf("Names() = %v, want [wake noise]", got)
	}
	wake := tpl.Labels[0]
	if wake.Count != 3 {
		t.Errorf("wake count = %d, want 3", wake.Count)
	}
	if wake.Centroid[0] != 1 || wake.Centroid[1] != 1 {
		t.Errorf("wake centroid = %v, want [1 1]", wake.Centroid)
	}

	if err := tpl.Add("wake", []float64{1}); err == nil {
		t.Error("expected error for wrong vector length")
	}
}

func TestTemplatesAddCopiesInput(t *testing.T) {
	cfg := testFeatureConfig()
	cfg.Bands = 1
	tpl := NewTemplates(cfg)

	vec := []float64{5}
	if err := tpl.Add("x", vec); err != nil {
		t.Fatal(err)
	}
	vec[0] = 9
	if tpl.Labels[0].Centroid[0] != 5 {
		t.Error("template aliases caller's slice")
	}
}

func TestTemplatesSaveLoad(t *testing.T) {
	cfg := testFeatureConfig()
	cfg.Bands = 3
	cfg.Window = Hamming
	tpl := NewTemplates(cfg)
	if err := tpl.Add("light-on", []float64{0.1, 0.2, 0.3}); err != nil {
		t.Fatal(err)
	}
	if err := tpl.Add("noise", []float64{-0.1, 0, 0.1}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := tpl.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	gotCfg, err := got.FeatureConfig()
	if err != nil {
		t.Fatalf("FeatureConfig: %v", err)
	}
	if gotCfg != cfg {
		t.Errorf("FeatureConfig() = %+v, want %+v", gotCfg, cfg)
	}
	if got.Labels[0].Label != "light-on" || got.Labels[0].Centroid[2] != 0.3 {
		t.Errorf("first template = %+v", got.Labels[0])
	}
}

func TestLoadTemplatesErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"Bad YAML", "labels: [", "failed to parse"},
		{"No labels", "bands: 2\nlabels: []\n", "no labels"},
		{"Empty label", "bands: 1\nlabels:\n  - label: \"\"\n    centroid: [1]\n", "without a label"},
		{"Duplicate", "bands: 1\nlabels:\n  - {label: a, centroid: [1]}\n  - {label: a, centroid: [2]}\n", "appears twice"},
		{"Wrong length", "bands: 2\nlabels:\n  - {label: a, centroid: [1]}\n", "has 1 bands"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "t.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadTemplates(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
