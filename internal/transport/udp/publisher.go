// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "kws/internal/log"
	"kws/internal/transport"
)

// HeaderSize is the fixed part of a score packet.
const HeaderSize = 4 + 8 + 8 + 2

// UDPPublisher periodically fetches the latest classifier scores, packs them
// into a binary packet and sends it with a UDPSender. It runs in a separate
// goroutine managed by Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender
	scores   transport.ScoreProvider
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	sequenceNum uint32
	lastCycle   uint64

	// Pre-allocated buffers for buildAndSendPacket.
	scoreBuffer  []float32
	packetBuffer []byte
}

// NewUDPPublisher creates a publisher for up to maxScores scores per
// packet. If interval is invalid (<= 0), it defaults to 250ms.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, scores transport.ScoreProvider, maxScores int) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if scores == nil {
		return nil, errors.New("UDPPublisher: score provider cannot be nil")
	}
	if maxScores <= 0 || maxScores > math.MaxUint16 {
		return nil, fmt.Errorf("UDPPublisher: invalid score count %d", maxScores)
	}

	if interval <= 0 {
		interval = 250 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	applog.Infof("UDPPublisher: Initializing (Interval: %s, Labels: %d)", interval, maxScores)

	return &UDPPublisher{
		sender:       sender,
		scores:       scores,
		interval:     interval,
		scoreBuffer:  make([]float32, maxScores),
		packetBuffer: make([]byte, 0, HeaderSize+4*maxScores),
	}, nil
}

// Start begins the periodic publishing process. Subsequent calls are no-ops
// while running.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to
// exit. It is safe to call Stop multiple times.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("UDPPublisher: Publisher goroutine finished.")
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Cycle             | uint64         | 8            | Inference cycle         |
| Score Count       | uint16         | 2            | Number of floats (N)    |
| Scores            | []float32      | N * 4        | Scores in label order   |
+-----------------------------------------------------------------------------+
*/

// buildAndSendPacket runs on each tick. Nothing is sent until the first
// inference cycle has produced scores, and a cycle is only sent once.
//
// Performance Critical (Hot Path):
//   - No allocations
func (p *UDPPublisher) buildAndSendPacket() {
	cycle, n := p.scores.ScoresInto(p.scoreBuffer)
	if n == 0 || cycle == p.lastCycle {
		return
	}
	p.lastCycle = cycle

	p.sequenceNum++
	buf := p.packetBuffer[:0]
	buf = binary.BigEndian.AppendUint32(buf, p.sequenceNum)
	buf = binary.BigEndian.AppendUint64(buf, uint64(time.Now().UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, cycle)
	buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	for _, v := range p.scoreBuffer[:n] {
		buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
	}
	p.packetBuffer = buf

	if err := p.sender.Send(buf); err == nil {
		applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(buf))
	}
}

// Packet is a decoded score packet.
type Packet struct {
	Sequence  uint32
	Timestamp time.Time
	Cycle     uint64
	Scores    []float32
}

// DecodePacket parses a score packet.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("udp: packet of %d bytes shorter than header", len(b))
	}
	p := Packet{
		Sequence:  binary.BigEndian.Uint32(b[0:]),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(b[4:]))),
		Cycle:     binary.BigEndian.Uint64(b[12:]),
	}
	n := int(binary.BigEndian.Uint16(b[20:]))
	if len(b) != HeaderSize+4*n {
		return Packet{}, fmt.Errorf("udp: packet of %d bytes does not hold %d scores", len(b), n)
	}
	p.Scores = make([]float32, n)
	for i := range n {
		p.Scores[i] = math.Float32frombits(binary.BigEndian.Uint32(b[HeaderSize+4*i:]))
	}
	return p, nil
}

// Close implements io.Closer by stopping the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
