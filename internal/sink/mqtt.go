package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"ublox-bridge/internal/gps"
)

type MQTTConfig struct {
	Broker          string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	ClientID        string
	Timeout         time.Duration
}

// MQTT publishes the snapshot as one retained JSON document and announces
// each numeric field through Home Assistant MQTT discovery.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu         sync.Mutex
	discovered map[string]bool
	published  uint64
	lastErr    string
}

type MQTTStats struct {
	Connected  bool   `json:"connected"`
	Published  uint64 `json:"published"`
	Discovered int    `json:"discovered"`
	LastError  string `json:"last_error,omitempty"`
}

func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ublox_gps"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ublox-bridge-" + uuid.NewString()[:8]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetWill(cfg.TopicPrefix+"/availability", "offline", 1, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	m := newMQTT(cfg, nil)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("mqtt: connected to %s as %s", cfg.Broker, cfg.ClientID)
		// Brokers may have lost retained discovery; announce again.
		m.mu.Lock()
		m.discovered = make(map[string]bool)
		m.mu.Unlock()
		c.Publish(cfg.TopicPrefix+"/availability", 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
	})
	m.client = mqtt.NewClient(opts)
	return m
}

func newMQTT(cfg MQTTConfig, client mqtt.Client) *MQTT {
	return &MQTT{cfg: cfg, client: client, discovered: make(map[string]bool)}
}

// Connect starts the connection. With connect-retry enabled paho keeps
// trying in the background, so a timeout here is not fatal.
func (m *MQTT) Connect(ctx context.Context) error {
	tok := m.client.Connect()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.cfg.Timeout):
		return fmt.Errorf("mqtt: connect to %s: still trying after %s", m.cfg.Broker, m.cfg.Timeout)
	}
}

func (m *MQTT) StateTopic() string { return m.cfg.TopicPrefix + "/state" }

// Publish sends discovery for new numeric fields and then the retained
// state document.
func (m *MQTT) Publish(snap gps.Snapshot) error {
	for _, key := range NumericKeys(snap) {
		m.mu.Lock()
		done := m.discovered[key]
		m.mu.Unlock()
		if done {
			continue
		}
		payload, err := json.Marshal(m.discovery(key))
		if err != nil {
			return m.fail(err)
		}
		if err := m.send(m.discoveryTopic(key), payload); err != nil {
			return m.fail(err)
		}
		m.mu.Lock()
		m.discovered[key] = true
		m.mu.Unlock()
	}

	payload, err := json.Marshal(stateDocument(snap))
	if err != nil {
		return m.fail(fmt.Errorf("mqtt: encode state: %w", err))
	}
	if err := m.send(m.StateTopic(), payload); err != nil {
		return m.fail(err)
	}
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
	return nil
}

func (m *MQTT) send(topic string, payload []byte) error {
	tok := m.client.Publish(topic, 0, true, payload)
	if !tok.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("mqtt: publish %s timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) discoveryTopic(key string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", m.cfg.DiscoveryPrefix, m.cfg.TopicPrefix, key)
}

func (m *MQTT) discovery(key string) map[string]any {
	d := map[string]any{
		"name":               strings.ReplaceAll(key, "_", " "),
		"unique_id":          m.cfg.TopicPrefix + "_" + key,
		"state_topic":        m.StateTopic(),
		"availability_topic": m.cfg.TopicPrefix + "/availability",
		"value_template":     "{{ value_json." + key + " }}",
		"device": map[string]any{
			"identifiers":  []string{"ublox_gps_rtk"},
			"name":         "u-blox GPS RTK",
			"manufacturer": "u-blox",
		},
	}
	if unit := unitFor(key); unit != "" {
		d["unit_of_measurement"] = unit
	}
	return d
}

func (m *MQTT) fail(err error) error {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
	return err
}

func (m *MQTT) Stats() MQTTStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MQTTStats{
		Connected:  m.client != nil && m.client.IsConnectionOpen(),
		Published:  m.published,
		Discovered: len(m.discovered),
		LastError:  m.lastErr,
	}
}

func (m *MQTT) Close() {
	if m.client == nil {
		return
	}
	if m.client.IsConnected() {
		tok := m.client.Publish(m.cfg.TopicPrefix+"/availability", 1, true, "offline")
		tok.WaitTimeout(m.cfg.Timeout)
	}
	m.client.Disconnect(250)
}

// NumericKeys returns the sorted snapshot keys holding numbers.
func NumericKeys(snap gps.Snapshot) []string {
	var keys []string
	for k, v := range snap {
		switch v.(type) {
		case float64, float32, int, int64, uint64:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// stateDocument drops the per-satellite list, which is too large to
// republish every interval.
func stateDocument(snap gps.Snapshot) map[string]any {
	out := make(map[string]any, len(snap))
	for k, v := range snap {
		if k == "sat_list" {
			continue
		}
		out[k] = v
	}
	return out
}

func unitFor(key string) string {
	switch {
	case strings.HasSuffix(key, "accuracy"), strings.HasSuffix(key, "altitude"),
		strings.HasSuffix(key, "height"), key == "height_ellipsoid", key == "cov_horizontal_std":
		return "m"
	case strings.HasSuffix(key, "speed"), strings.HasPrefix(key, "velocity_"):
		return "m/s"
	case strings.HasSuffix(key, "heading"), strings.HasSuffix(key, "latitude"), strings.HasSuffix(key, "longitude"):
		return "°"
	case strings.HasPrefix(key, "fusion_gyro_"):
		return "°/s"
	case strings.HasPrefix(key, "fusion_accel_"):
		return "m/s²"
	case strings.HasSuffix(key, "ttff"), strings.HasSuffix(key, "uptime"), strings.HasSuffix(key, "_age"):
		return "s"
	}
	return ""
}
