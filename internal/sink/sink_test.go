package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ublox-bridge/internal/gps"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes; unused Client methods panic through the
// nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.msgs = append(f.msgs, message{topic: topic, retained: retained, payload: b})
	return doneToken{err: f.err}
}

func (f *fakeClient) IsConnectionOpen() bool { return true }

func (f *fakeClient) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.msgs...)
}

func testSnapshot() gps.Snapshot {
	return gps.Snapshot{
		"latitude":         48.1173,
		"satellites_used":  24,
		"fix_type":         "3D Fix + RTK Fixed",
		"carrier_solution": "fixed",
		"gnss_fix_ok":      true,
		"timestamp":        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"sat_list":         []int{1, 2, 3},
	}
}

func TestNumericKeys(t *testing.T) {
	assert.Equal(t, []string{"latitude", "satellites_used"}, NumericKeys(testSnapshot()))
	assert.Empty(t, NumericKeys(gps.Snapshot{"fix_type": "No Fix"}))
}

func TestMQTT_PublishDiscoveryOnce(t *testing.T) {
	fc := &fakeClient{}
	m := newMQTT(MQTTConfig{TopicPrefix: "ublox_gps", DiscoveryPrefix: "homeassistant", Timeout: time.Second}, fc)

	require.NoError(t, m.Publish(testSnapshot()))
	msgs := fc.messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, "homeassistant/sensor/ublox_gps/latitude/config", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	var disc map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].payload, &disc))
	assert.Equal(t, "ublox_gps/state", disc["state_topic"])
	assert.Equal(t, "{{ value_json.latitude }}", disc["value_template"])
	assert.Equal(t, "ublox_gps_latitude", disc["unique_id"])
	assert.Equal(t, "°", disc["unit_of_measurement"])

	assert.Equal(t, "homeassistant/sensor/ublox_gps/satellites_used/config", msgs[1].topic)

	state := msgs[2]
	assert.Equal(t, "ublox_gps/state", state.topic)
	assert.True(t, state.retained)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(state.payload, &doc))
	assert.Equal(t, "3D Fix + RTK Fixed", doc["fix_type"])
	assert.Equal(t, 24.0, doc["satellites_used"])
	assert.NotContains(t, doc, "sat_list")

	// Second publish only sends state.
	require.NoError(t, m.Publish(testSnapshot()))
	assert.Len(t, fc.messages(), 4)

	st := m.Stats()
	assert.Equal(t, uint64(2), st.Published)
	assert.Equal(t, 2, st.Discovered)
	assert.True(t, st.Connected)
}

func TestMQTT_PublishError(t *testing.T) {
	fc := &fakeClient{err: errors.New("not connected")}
	m := newMQTT(MQTTConfig{TopicPrefix: "p", DiscoveryPrefix: "d", Timeout: time.Second}, fc)
	err := m.Publish(gps.Snapshot{"pdop": 1.2})
	require.Error(t, err)
	assert.Contains(t, m.Stats().LastError, "not connected")
	assert.Zero(t, m.Stats().Discovered)
}

func TestUnitFor(t *testing.T) {
	assert.Equal(t, "m", unitFor("hp_horizontal_accuracy"))
	assert.Equal(t, "m/s", unitFor("hnr_speed"))
	assert.Equal(t, "°/s", unitFor("fusion_gyro_z"))
	assert.Equal(t, "s", unitFor("fusion_valid_age"))
	assert.Equal(t, "", unitFor("pdop"))
}

func TestPoint(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := Point(testSnapshot(), now)
	require.NotNil(t, p)
	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, now, p.Time())

	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, "3D Fix + RTK Fixed", tags["fix_type"])
	assert.Equal(t, "fixed", tags["carrier_solution"])

	line := write.PointToLineProtocol(p, time.Second)
	assert.Contains(t, line, "latitude=48.1173")
	assert.Contains(t, line, "satellites_used=24i")
	assert.NotContains(t, line, "gnss_fix_ok")

	assert.Nil(t, Point(gps.Snapshot{"fix_type": "No Fix"}, now))
}

func TestInflux_WritesToServer(t *testing.T) {
	var (
		mu    sync.Mutex
		body  string
		query string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ix, err := NewInflux(InfluxConfig{URL: srv.URL, Token: "t", Org: "home", Bucket: "gnss"})
	require.NoError(t, err)
	defer ix.Close()

	require.NoError(t, ix.Write(context.Background(), testSnapshot(), time.Unix(1700000000, 0)))
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(body, "gnss,"), body)
	assert.Contains(t, query, "org=home")
	assert.Contains(t, query, "bucket=gnss")
	assert.Equal(t, uint64(1), ix.Stats().Points)
}

func TestInflux_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unauthorized","message":"bad token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	ix, err := NewInflux(InfluxConfig{URL: srv.URL, Token: "bad", Org: "o", Bucket: "b"})
	require.NoError(t, err)
	defer ix.Close()

	require.Error(t, ix.Write(context.Background(), testSnapshot(), time.Now()))
	assert.NotEmpty(t, ix.Stats().LastError)
	assert.Zero(t, ix.Stats().Points)
}

func TestNewInflux_Validation(t *testing.T) {
	_, err := NewInflux(InfluxConfig{URL: "http://x"})
	assert.Error(t, err)
}
