// SPDX-License-Identifier: MIT
//
// Package mqtt publishes turn-on notifications and pipeline events to an
// MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kws/internal/actuation"
	"kws/internal/log"
	"kws/internal/transport"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Config selects the broker and topics.
type Config struct {
	Broker      string // host:port
	ClientID    string // Generated when empty.
	NotifyTopic string // Notifications go to NotifyTopic/<channel>.
	EventsTopic string
	QoS         byte
}

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

// Publisher is both an actuation.Notifier and an event Transport.
type Publisher struct {
	cfg    Config
	client client

	closeOnce sync.Once
	published atomic.Uint64
	failed    atomic.Uint64
}

// Dial connects to the broker with auto-reconnect enabled.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker address is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "kws-" + uuid.NewString()
	}

	opts := paho.NewClientOptions()
	opts.AddBroker("tcp://" + cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Infof("MQTT: connected to %s as %s", cfg.Broker, cfg.ClientID)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warnf("MQTT: connection to %s lost, reconnecting: %v", cfg.Broker, err)
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	if err := wait(ctx, token, connectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.Broker, err)
	}

	return newPublisher(cfg, c), nil
}

func newPublisher(cfg Config, c client) *Publisher {
	return &Publisher{cfg: cfg, client: c}
}

// Notify publishes the one-byte turn-on notification for channel.
func (p *Publisher) Notify(ctx context.Context, channel string) error {
	if p.cfg.NotifyTopic == "" {
		return nil
	}
	return p.publish(ctx, p.cfg.NotifyTopic+"/"+channel, []byte{actuation.NotifyByte})
}

// Send publishes data as JSON on the events topic.
func (p *Publisher) Send(data any) error {
	if p.cfg.EventsTopic == "" {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("mqtt: marshal event: %w", err)
	}
	return p.publish(context.Background(), p.cfg.EventsTopic, payload)
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnected() {
		p.failed.Add(1)
		return errors.New("mqtt: not connected")
	}

	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	if err := wait(ctx, token, publishTimeout); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}

	p.published.Add(1)
	log.Debugf("MQTT: published %d bytes to %s", len(payload), topic)
	return nil
}

// Published returns the number of successful publishes.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Failed returns the number of failed publishes.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.client.Disconnect(250)
	})
	return nil
}

// wait blocks on token until it completes, timeout passes or ctx ends.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ actuation.Notifier  = (*Publisher)(nil)
	_ transport.Transport = (*Publisher)(nil)
)
