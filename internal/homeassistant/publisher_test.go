package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ublox-bridge/internal/gps"
)

type recorded struct {
	path  string
	auth  string
	ctype string
	body  map[string]any
}

func newServer(t *testing.T, status int) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reqs = append(reqs, recorded{
			path:  r.URL.Path,
			auth:  r.Header.Get("Authorization"),
			ctype: r.Header.Get("Content-Type"),
			body:  body,
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("{}"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func fixedNow() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

func rtkSnapshot() gps.Snapshot {
	return gps.Snapshot{
		"latitude":            48.1173,
		"longitude":           11.516667,
		"altitude":            545.44,
		"horizontal_accuracy": 0.01449,
		"fix_type":            "3D Fix + RTK Fixed",
		"satellites_used":     24,
		"speed":               1.2345,
		"heading":             90.04,
		"pdop":                1.234,
	}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{URL: "http://supervisor/core"})
	assert.Error(t, err)
	_, err = New(Config{Token: "x"})
	assert.Error(t, err)
}

func TestUpdates_RTKSnapshot(t *testing.T) {
	ups := Updates(rtkSnapshot(), Links{GPSConnected: true, NTRIPEnabled: true, NTRIPConnected: true, RTCMDataRateBPS: 1599.6})
	byID := map[string]Update{}
	for _, u := range ups {
		byID[u.EntityID] = u
	}
	require.Len(t, byID, len(Entities))

	tr := byID[TrackerID]
	assert.Equal(t, "home", tr.State)
	assert.Equal(t, 48.1173, tr.Attributes["latitude"])
	assert.Equal(t, 0.01, tr.Attributes["gps_accuracy"])
	assert.Equal(t, "gps", tr.Attributes["source_type"])

	assert.Equal(t, "3D Fix + RTK Fixed", byID[FixTypeID].State)
	assert.Equal(t, 24, byID[SatellitesID].State)
	assert.Equal(t, 1.4, byID[AccuracyID].State)
	assert.Equal(t, 545.4, byID[AltitudeID].State)
	assert.Equal(t, 1.23, byID[SpeedID].State)
	assert.Equal(t, 90.0, byID[HeadingID].State)
	assert.Equal(t, 1.23, byID[PDOPID].State)
	assert.Equal(t, "on", byID[GPSConnectedID].State)
	assert.Equal(t, "on", byID[NTRIPConnectedID].State)
	assert.Equal(t, 1600.0, byID[RTCMRateID].State)
}

func TestUpdates_EmptySnapshot(t *testing.T) {
	ups := Updates(gps.Snapshot{}, Links{})
	require.Len(t, ups, 1)
	assert.Equal(t, GPSConnectedID, ups[0].EntityID)
	assert.Equal(t, "off", ups[0].State)
}

func TestPublish_PostsStates(t *testing.T) {
	srv, reqs := newServer(t, http.StatusOK)
	p, err := New(Config{URL: srv.URL + "/", Token: "tok", Now: fixedNow})
	require.NoError(t, err)

	snap := gps.Snapshot{"fix_type": "3D Fix", "altitude": 12.34}
	require.NoError(t, p.Publish(context.Background(), snap, Links{GPSConnected: true}))

	got := reqs()
	require.Len(t, got, 3)
	for _, r := range got {
		assert.True(t, strings.HasPrefix(r.path, "/api/states/"), r.path)
		assert.Equal(t, "Bearer tok", r.auth)
		assert.Equal(t, "application/json", r.ctype)
	}

	fix := got[0]
	assert.Equal(t, "/api/states/"+FixTypeID, fix.path)
	assert.Equal(t, "3D Fix", fix.body["state"])
	attrs := fix.body["attributes"].(map[string]any)
	assert.Equal(t, "GPS Fix Type", attrs["friendly_name"])
	assert.Equal(t, "mdi:satellite-variant", attrs["icon"])
	assert.Equal(t, "2024-05-01T10:00:00Z", attrs["last_updated"])
	assert.NotContains(t, attrs, "unit_of_measurement")

	alt := got[1]
	assert.Equal(t, "/api/states/"+AltitudeID, alt.path)
	assert.Equal(t, 12.3, alt.body["state"])
	altAttrs := alt.body["attributes"].(map[string]any)
	assert.Equal(t, "m", altAttrs["unit_of_measurement"])
	assert.Equal(t, "distance", altAttrs["device_class"])

	assert.Equal(t, uint64(3), p.Stats().Posts)
}

func TestInitialize_SetsUnknown(t *testing.T) {
	srv, reqs := newServer(t, http.StatusCreated)
	p, err := New(Config{URL: srv.URL, Token: "tok", Now: fixedNow})
	require.NoError(t, err)
	require.NoError(t, p.Initialize(context.Background()))

	got := reqs()
	require.Len(t, got, len(Entities))
	for _, r := range got {
		assert.Equal(t, "unknown", r.body["state"])
	}
}

func TestPublish_ErrorStatusCounted(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized)
	p, err := New(Config{URL: srv.URL, Token: "bad", Now: fixedNow})
	require.NoError(t, err)

	err = p.Publish(context.Background(), gps.Snapshot{}, Links{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	st := p.Stats()
	assert.Equal(t, uint64(1), st.Failures)
	assert.Zero(t, st.Posts)
	assert.NotEmpty(t, st.LastError)
}
