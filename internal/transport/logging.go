// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	"kws/internal/log"
)

// LoggingTransport implements the Transport interface by logging data.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Debugf("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs data as JSON at debug level.
func (lt *LoggingTransport) Send(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		log.Debugf("Transport: event (%T): %+v (marshal error: %v)", data, data, err)
		return nil
	}
	log.Debugf("Transport: event %s", b)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
