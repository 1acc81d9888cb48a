// SPDX-License-Identifier: MIT
package actuation

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"kws/internal/log"
)

// Level is the state of a binary output line.
type Level int

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Invert returns the opposite level.
func (l Level) Invert() Level {
	if l == High {
		return Low
	}
	return High
}

// Output is a binary line such as a relay, LED or standby indicator.
type Output interface {
	Set(Level) error
}

// MemoryOutput records its level and history. Used for simulation and tests.
type MemoryOutput struct {
	name string

	mu      sync.Mutex
	level   Level
	history []Level
}

// NewMemoryOutput returns a named output at the given initial level.
func NewMemoryOutput(name string, initial Level) *MemoryOutput {
	return &MemoryOutput{name: name, level: initial}
}

// Set implements Output.
func (o *MemoryOutput) Set(l Level) error {
	o.mu.Lock()
	changed := o.level != l
	o.level = l
	o.history = append(o.history, l)
	o.mu.Unlock()

	if changed {
		log.Debugf("Output %s: %s", o.name, l)
	}
	return nil
}

// Level returns the current level.
func (o *MemoryOutput) Level() Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

// History returns every level written, in order.
func (o *MemoryOutput) History() []Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Level(nil), o.history...)
}

// Name returns the output name.
func (o *MemoryOutput) Name() string {
	return o.name
}

// FileOutput drives a line exposed as a value file, such as a legacy sysfs
// GPIO "value" node, by writing "1" or "0". Prefer LineOutput where the GPIO
// character device is available.
type FileOutput struct {
	path string
	mu   sync.Mutex
}

// NewFileOutput checks that path is writable.
func NewFileOutput(path string) (*FileOutput, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("actuation: open output %s: %w", path, err)
	}
	f.Close()
	return &FileOutput{path: path}, nil
}

// Set implements Output.
func (o *FileOutput) Set(l Level) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	value := []byte("0")
	if l == High {
		value = []byte("1")
	}
	if err := os.WriteFile(o.path, value, 0); err != nil {
		return fmt.Errorf("actuation: write %s: %w", o.path, err)
	}
	return nil
}

// DefaultChip is the GPIO character device used when a line spec names only
// an offset.
const DefaultChip = "gpiochip0"

// ParseLineSpec splits "gpiochip0:17" into chip and offset. A bare offset
// selects DefaultChip.
func ParseLineSpec(spec string) (chip string, offset int, err error) {
	chip, num, found := strings.Cut(spec, ":")
	if !found {
		chip, num = DefaultChip, spec
	}
	offset, err = strconv.Atoi(num)
	if err != nil || chip == "" || offset < 0 {
		return "", 0, fmt.Errorf("actuation: invalid GPIO line %q, want chip:offset", spec)
	}
	return chip, offset, nil
}
