// SPDX-License-Identifier: MIT
//go:build !linux

package actuation

import "errors"

// LineOutput is only available on Linux.
type LineOutput struct{}

// OpenLineOutput always fails off Linux.
func OpenLineOutput(spec string, _ Level) (*LineOutput, error) {
	if _, _, err := ParseLineSpec(spec); err != nil {
		return nil, err
	}
	return nil, errors.New("actuation: GPIO character devices need linux")
}

// Set implements Output.
func (o *LineOutput) Set(Level) error {
	return errors.New("actuation: GPIO character devices need linux")
}

// Close implements io.Closer.
func (o *LineOutput) Close() error {
	return nil
}
