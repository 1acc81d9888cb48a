// SPDX-License-Identifier: MIT
package actuation

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the UART speed of the notification line.
const DefaultBaudRate = 115200

// openPort is swapped in tests.
var openPort = func(path string, mode *serial.Mode) (io.WriteCloser, error) {
	return serial.Open(path, mode)
}

// OpenSerialNotifier opens a serial port at baud 8N1 and returns a notifier
// writing to it together with the port to close. baud <= 0 uses
// DefaultBaudRate.
func OpenSerialNotifier(path string, baud int) (*WriterNotifier, io.Closer, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := openPort(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("actuation: open serial %s at %d baud: %w", path, baud, err)
	}
	return NewWriterNotifier(port), port, nil
}
