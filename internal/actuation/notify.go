// SPDX-License-Identifier: MIT
package actuation

import (
	"context"
	"errors"
	"io"
	"sync"
)

// NotifyByte is the single informational byte sent when a channel turns on.
const NotifyByte = '1'

// Notifier tells an external party that channel was switched on.
type Notifier interface {
	Notify(ctx context.Context, channel string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, channel string) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, channel string) error {
	return f(ctx, channel)
}

// WriterNotifier writes NotifyByte to a serial line or any other writer.
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier wraps w.
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

// Notify implements Notifier.
func (n *WriterNotifier) Notify(_ context.Context, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.w.Write([]byte{NotifyByte})
	return err
}

// MultiNotifier notifies every member and joins their errors.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, channel string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, channel); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
