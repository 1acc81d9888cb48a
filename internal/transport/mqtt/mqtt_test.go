// SPDX-License-Identifier: MIT
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"kws/internal/transport"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pending() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return false }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	token        func() paho.Token
	messages     []message
	disconnected int
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, qos: qos, payload: payload.([]byte)})
	if c.token != nil {
		return c.token()
	}
	return completed(nil)
}

func (c *fakeClient) Disconnect(uint) { c.disconnected++ }

func testConfig() Config {
	return Config{
		Broker:      "localhost:1883",
		ClientID:    "test",
		NotifyTopic: "kws/notify",
		EventsTopic: "kws/events",
		QoS:         1,
	}
}

func TestNotifyPublishesByte(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(testConfig(), c)

	if err := p.Notify(context.Background(), "door"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(c.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(c.messages))
	}
	m := c.messages[0]
	if m.topic != "kws/notify/door" || m.qos != 1 || string(m.payload) != "1" {
		t.Errorf("message = %+v", m)
	}
	if p.Published() != 1 {
		t.Errorf("Published = %d, want 1", p.Published())
	}
}

func TestSendPublishesJSON(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(testConfig(), c)

	ev := transport.Event{Type: transport.EventDecision, Cycle: 3, Label: "wake", Score: 0.9}
	if err := p.Send(ev); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got transport.Event
	if err := json.Unmarshal(c.messages[0].payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if c.messages[0].topic != "kws/events" || got.Label != "wake" || got.Cycle != 3 {
		t.Errorf("topic=%s event=%+v", c.messages[0].topic, got)
	}
}

func TestPublishFailures(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		token     func() paho.Token
		ctxDone   bool
	}{
		{"not connected", false, nil, false},
		{"broker error", true, func() paho.Token { return completed(errors.New("refused")) }, false},
		{"context cancelled", true, func() paho.Token { return pending() }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeClient{connected: tt.connected, token: tt.token}
			p := newPublisher(testConfig(), c)

			ctx, cancel := context.WithCancel(context.Background())
			if tt.ctxDone {
				cancel()
			}
			defer cancel()

			if err := p.Notify(ctx, "light"); err == nil {
				t.Error("expected error")
			}
			if p.Failed() != 1 {
				t.Errorf("Failed = %d, want 1", p.Failed())
			}
		})
	}
}

func TestEmptyTopicsDisablePublishing(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(Config{Broker: "localhost:1883"}, c)

	if err := p.Notify(context.Background(), "door"); err != nil {
		t.Errorf("Notify: %v", err)
	}
	if err := p.Send(transport.Event{}); err != nil {
		t.Errorf("Send: %v", err)
	}
	if len(c.messages) != 0 {
		t.Errorf("published %d messages, want 0", len(c.messages))
	}
}

func TestCloseDisconnectsOnce(t *testing.T) {
	c := &fakeClient{connected: true}
	p := newPublisher(testConfig(), c)

	p.Close()
	p.Close()
	if c.disconnected != 1 {
		t.Errorf("Disconnect called %d times, want 1", c.disconnected)
	}
}

func TestDialRequiresBroker(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Error("expected error")
	}
}
