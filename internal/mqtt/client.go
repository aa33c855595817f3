// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqtt publishes telemetry readings and access events to a broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Thermoquad/coffer/internal/config"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

const (
	publishTimeout = 5 * time.Second
	queueSize      = 64

	statusOnline  = "online"
	statusOffline = "offline"
)

// AccessEvent is the JSON payload published for every access decision.
type AccessEvent struct {
	DeviceID       string    `json:"device_id"`
	Kind           string    `json:"kind"`
	Phase          string    `json:"phase"`
	FailedAttempts int       `json:"failed_attempts"`
	Timestamp      time.Time `json:"timestamp"`
}

// Topics for one device.
type Topics struct {
	Telemetry string
	Events    string
	Status    string
}

// TopicsFor builds the topic set under prefix.
func TopicsFor(prefix, deviceID string) Topics {
	base := fmt.Sprintf("%s/%s", prefix, deviceID)
	return Topics{
		Telemetry: base + "/telemetry",
		Events:    base + "/events",
		Status:    base + "/status",
	}
}

type message struct {
	topic    string
	retained bool // status only; readings and events are not retained
	payload  []byte
}

// Client wraps a paho client. Publish* calls only enqueue; Run drains the
// queue so the control loop never waits on the broker.
type Client struct {
	client    mqtt.Client
	cfg       config.Config
	topics    Topics
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	queue    chan message
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient configures the paho client. It does not connect.
func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.MQTTBroker == "" {
		return nil, fmt.Errorf("mqtt broker not configured")
	}
	c := &Client{
		cfg:    cfg,
		topics: TopicsFor(cfg.MQTTTopic, cfg.DeviceID),
		logger: logger.With("component", "mqtt"),
		queue:  make(chan message, queueSize),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Retained "offline" replaces "online" if the safe drops off the network.
	opts.SetWill(c.topics.Status, statusOffline, 1, true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// handleConnect runs on every (re)connect. The retained "online" status goes
// through the queue so paho's callback goroutine never waits on a publish.
func (c *Client) handleConnect() {
	c.setConnected(true)
	c.logger.Info("mqtt connected", "broker", c.cfg.MQTTBroker, "port", c.cfg.MQTTPort)
	c.enqueue(message{topic: c.topics.Status, retained: true, payload: []byte(statusOnline)})
}

// Topics returns the topic set in use.
func (c *Client) Topics() Topics {
	return c.topics
}

// Connect waits for the initial connection, honouring ctx and Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// PublishReading queues a CBOR-encoded reading. Invalid readings are skipped.
// Matches the shape of telemetry.LinkConfig.OnPoll.
func (c *Client) PublishReading(r telemetry.Reading, _ []telemetry.ValidationError) {
	if !r.Valid {
		return
	}
	data, err := telemetry.EncodeCBOR(r)
	if err != nil {
		c.logger.Error("failed to encode reading", "error", err)
		return
	}
	c.enqueue(message{topic: c.topics.Telemetry, payload: data})
}

// PublishEvent queues a JSON access event. Matches access.Observer.
func (c *Client) PublishEvent(e access.Event) {
	data, err := EncodeEvent(c.cfg.DeviceID, e)
	if err != nil {
		c.logger.Error("failed to encode event", "error", err)
		return
	}
	c.enqueue(message{topic: c.topics.Events, payload: data})
}

// EncodeEvent builds the JSON payload for e.
func EncodeEvent(deviceID string, e access.Event) ([]byte, error) {
	ts := e.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(AccessEvent{
		DeviceID:       deviceID,
		Kind:           string(e.Kind),
		Phase:          e.Phase.String(),
		FailedAttempts: e.FailedAttempts,
		Timestamp:      ts.UTC(),
	})
}

func (c *Client) enqueue(m message) {
	select {
	case c.queue <- m:
	default:
		c.logger.Warn("mqtt queue full, dropping message", "topic", m.topic)
	}
}

// Run publishes queued messages until ctx is cancelled or Disconnect is
// called. Messages queued while disconnected are dropped.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case m := <-c.queue:
			if err := c.publish(m); err != nil {
				c.logger.Debug("publish failed", "topic", m.topic, "error", err)
			}
		}
	}
}

func (c *Client) publish(m message) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	token := c.client.Publish(m.topic, 1, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", m.topic)
	}
	if token.Error() != nil {
		c.logger.Error("failed to publish", "topic", m.topic, "error", token.Error())
		return fmt.Errorf("publish: %w", token.Error())
	}

	c.logger.Debug("published", "topic", m.topic, "bytes", len(m.payload))
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the connection. Idempotent.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		if c.IsConnected() {
			t := c.client.Publish(c.topics.Status, 1, true, statusOffline)
			t.WaitTimeout(time.Second)
		}
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
