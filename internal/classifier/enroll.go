// SPDX-License-Identifier: MIT
package classifier

import (
	"errors"
	"fmt"
)

// Enroll extracts features from each clip and folds them into label's
// centroid in t.
func Enroll(t *Templates, label string, clips ...[]int16) error {
	if label == "" {
		return errors.New("classifier: enroll needs a label")
	}
	cfg, err := t.FeatureConfig()
	if err != nil {
		return err
	}
	extractor, err := NewFeatureExtractor(cfg)
	if err != nil {
		return err
	}

	var buf []float32
	for i, clip := range clips {
		if len(clip) == 0 {
			return fmt.Errorf("classifier: clip %d is empty", i)
		}
		if cap(buf) < len(clip) {
			buf = make([]float32, len(clip))
		}
		buf = buf[:len(clip)]
		for j, s := range clip {
			buf[j] = float32(s)
		}
		if err := t.Add(label, extractor.Extract(buf)); err != nil {
			return err
		}
	}
	return nil
}
