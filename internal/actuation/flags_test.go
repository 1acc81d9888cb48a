// SPDX-License-Identifier: MIT
package actuation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testFlags(t *testing.T) Flags {
	t.Helper()
	f, err := NewFlags("light", "door")
	if err != nil {
		t.Fatalf("NewFlags: %v", err)
	}
	return f
}

func TestFlagsLayout(t *testing.T) {
	f := testFlags(t)

	seen := Wake
	for i := range f.Channels() {
		for _, b := range []Bits{f.On(i), f.Off(i)} {
			if seen&b != 0 {
				t.Fatalf("bit %b reused", b)
			}
			seen |= b
		}
	}
	if f.Mask() != seen {
		t.Errorf("Mask() = %b, want %b", f.Mask(), seen)
	}
	if f.OnOff()&Wake != 0 {
		t.Error("OnOff() includes Wake")
	}
	if f.Index("door") != 1 || f.Index("fan") != -1 {
		t.Errorf("Index: door=%d fan=%d", f.Index("door"), f.Index("fan"))
	}
}

func TestNewFlagsErrors(t *testing.T) {
	tests := []struct {
		name     string
		channels []string
	}{
		{"None", nil},
		{"Empty name", []string{""}},
		{"Repeated", []string{"a", "a"}},
		{"Too many", make([]string, maxChannels+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFlags(tt.channels...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFlagsFormat(t *testing.T) {
	f := testFlags(t)
	tests := []struct {
		bits Bits
		want string
	}{
		{0, "none"},
		{Wake, "wake"},
		{Wake | f.On(1), "wake|door.on"},
		{f.Off(0) | f.On(1), "light.off|door.on"},
		{1 << 20, "0x100000"},
	}
	for _, tt := range tests {
		if got := f.Format(tt.bits); got != tt.want {
			t.Errorf("Format(%b) = %q, want %q", tt.bits, got, tt.want)
		}
	}
}

func TestEventGroupSetClearIdempotent(t *testing.T) {
	g := NewEventGroup()

	if got := g.Set(Wake); got != Wake {
		t.Errorf("Set = %b, want %b", got, Wake)
	}
	if got := g.Set(Wake); got != Wake {
		t.Errorf("second Set = %b, want %b", got, Wake)
	}
	if got := g.Clear(Wake | 1<<3); got != Wake {
		t.Errorf("Clear returned %b, want previous %b", got, Wake)
	}
	if got := g.Clear(Wake); got != 0 {
		t.Errorf("second Clear returned %b, want 0", got)
	}
	if g.Get() != 0 {
		t.Errorf("Get() = %b, want 0", g.Get())
	}
}

func TestEventGroupWaitClearsMask(t *testing.T) {
	g := NewEventGroup()
	const other Bits = 1 << 10
	g.Set(Wake | 1<<1 | other)

	bits, err := g.Wait(context.Background(), Wake|1<<1, true)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if bits != Wake|1<<1|other {
		t.Errorf("Wait returned %b, want the bits before clearing", bits)
	}
	if g.Get() != other {
		t.Errorf("after Wait bits = %b, want only %b", g.Get(), other)
	}
}

func TestEventGroupWaitPeek(t *testing.T) {
	g := NewEventGroup()
	g.Set(Wake)
	if _, err := g.Wait(context.Background(), Wake, false); err != nil {
		t.Fatal(err)
	}
	if g.Get() != Wake {
		t.Error("Wait without clear lowered bits")
	}
}

func TestEventGroupWaitBlocksUntilSet(t *testing.T) {
	g := NewEventGroup()

	var wg sync.WaitGroup
	wg.Add(1)
	var got Bits
	go func() {
		defer wg.Done()
		got, _ = g.Wait(context.Background(), Wake, true)
	}()

	time.Sleep(10 * time.Millisecond)
	g.Set(1 << 5) // Outside the mask; must not release the waiter.
	time.Sleep(10 * time.Millisecond)
	g.Set(Wake)
	wg.Wait()

	if got&Wake == 0 {
		t.Errorf("waiter released with %b", got)
	}
	if g.Get() != 1<<5 {
		t.Errorf("bits = %b, want %b", g.Get(), Bits(1<<5))
	}
}

func TestEventGroupWaitCancel(t *testing.T) {
	g := NewEventGroup()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := g.Wait(ctx, Wake, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
