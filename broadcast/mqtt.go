package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Server      string // host:port
	TLS         bool
	Auth        string // user:password
	TopicPrefix string
	ClientID    string
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each event to <prefix>/<kind>/<mmsi>.
type MQTT struct {
	client  publisher
	prefix  string
	timeout time.Duration
	close   func()
}

// DialMQTT connects to the broker.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	scheme := "tcp://"
	if cfg.TLS {
		scheme = "ssl://"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "aisguard"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(scheme + cfg.Server).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if user, pass, ok := strings.Cut(cfg.Auth, ":"); ok {
		opts.SetUsername(user).SetPassword(pass)
	}

	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("broadcast: mqtt connect %s: %w", cfg.Server, tok.Error())
	}
	m := newMQTT(client, cfg.TopicPrefix)
	m.close = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(client publisher, prefix string) *MQTT {
	if prefix == "" {
		prefix = "aisguard"
	}
	return &MQTT{client: client, prefix: strings.TrimRight(prefix, "/"), timeout: 5 * time.Second}
}

func (m *MQTT) Name() string { return "mqtt" }

// Topic returns the topic an event is published to.
func (m *MQTT) Topic(e Event) string {
	return fmt.Sprintf("%s/%s/%d", m.prefix, e.Kind, e.MMSI)
}

// Send publishes every event with QoS 0 and waits for each token.
func (m *MQTT) Send(events []Event) error {
	var errs []error
	for _, e := range events {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s %d: %w", e.Kind, e.MMSI, err))
			continue
		}
		tok := m.client.Publish(m.Topic(e), 0, false, payload)
		if !tok.WaitTimeout(m.timeout) {
			errs = append(errs, fmt.Errorf("publish %s: timeout", m.Topic(e)))
			continue
		}
		if err := tok.Error(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", m.Topic(e), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("broadcast: mqtt: %w", errors.Join(errs...))
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.close != nil {
		m.close()
	}
}
