// SPDX-License-Identifier: MIT
//go:build linux

package actuation

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// consumer labels requested lines in gpioinfo.
const consumer = "kws"

// gpioLine is the part of *gpiocdev.Line an output needs.
type gpioLine interface {
	SetValue(value int) error
	Close() error
}

// requestLine is swapped in tests.
var requestLine = func(chip string, offset, initial int) (gpioLine, error) {
	return gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer(consumer))
}

// LineOutput drives a GPIO line through the character device interface.
type LineOutput struct {
	spec string

	mu   sync.Mutex
	line gpioLine
}

// OpenLineOutput requests the line named by spec (see ParseLineSpec) as an
// output at the initial level.
func OpenLineOutput(spec string, initial Level) (*LineOutput, error) {
	chip, offset, err := ParseLineSpec(spec)
	if err != nil {
		return nil, err
	}
	line, err := requestLine(chip, offset, levelValue(initial))
	if err != nil {
		return nil, fmt.Errorf("actuation: request GPIO %s: %w", spec, err)
	}
	return &LineOutput{spec: spec, line: line}, nil
}

// Set implements Output.
func (o *LineOutput) Set(l Level) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.line == nil {
		return fmt.Errorf("actuation: GPIO %s is released", o.spec)
	}
	if err := o.line.SetValue(levelValue(l)); err != nil {
		return fmt.Errorf("actuation: set GPIO %s: %w", o.spec, err)
	}
	return nil
}

// Close releases the line.
func (o *LineOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.line == nil {
		return nil
	}
	err := o.line.Close()
	o.line = nil
	return err
}

func levelValue(l Level) int {
	if l == High {
		return 1
	}
	return 0
}
