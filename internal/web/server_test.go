package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ublox-bridge/internal/geo"
	"ublox-bridge/internal/gps"
	"ublox-bridge/internal/ntrip"
	"ublox-bridge/internal/rtcm"
)

func testSources(now time.Time) Sources {
	return Sources{
		GPS: func() gps.Status {
			return gps.Status{
				State:       gps.StateReady.String(),
				Liveness:    "ok",
				Messages:    map[string]uint64{"NAV-PVT": 100},
				LastDataUTC: now.Format(time.RFC3339),
			}
		},
		Snapshot: func() gps.Snapshot {
			return gps.Snapshot{
				"fix_type":            "3D Fix + RTK Fixed",
				"latitude":            48.1173,
				"longitude":           11.5167,
				"horizontal_accuracy": 0.014,
				"satellites_used":     24,
			}
		},
		RTCM: func() rtcm.Summary {
			return rtcm.Summary{Statistics: rtcm.Statistics{Total: 10, Valid: 10, LastMessage: now}}
		},
		NTRIP: func() ntrip.Snapshot {
			return ntrip.Snapshot{State: "connected", Connected: true, Chunks: 10, LastDataUTC: now.Format(time.RFC3339)}
		},
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus(testSources(time.Now().UTC()))
	ts := httptest.NewServer(Handler(st, Options{}))
	defer ts.Close()

	var snap StatusSnapshot
	getJSON(t, ts.URL+"/api/status", &snap)
	if snap.Service != "ublox-bridge" {
		t.Fatalf("service=%q", snap.Service)
	}
	if snap.Position.FixType != "3D Fix + RTK Fixed" || !snap.Position.RTK {
		t.Fatalf("position=%+v", snap.Position)
	}
	if snap.Position.AccuracyCM == nil || *snap.Position.AccuracyCM < 1.39 || *snap.Position.AccuracyCM > 1.41 {
		t.Fatalf("accuracy_cm=%v", snap.Position.AccuracyCM)
	}
	if snap.Position.LatDMS == "" {
		t.Fatalf("expected DMS latitude")
	}
	if snap.GPS == nil || snap.NTRIP == nil || snap.RTCM == nil {
		t.Fatalf("missing component blocks: %+v", snap)
	}
	if snap.Health.Overall != geo.Healthy {
		t.Fatalf("health=%+v", snap.Health)
	}
	if len(snap.Health.Checks) != 3 {
		t.Fatalf("checks=%+v", snap.Health.Checks)
	}
}

func TestAPIStatus_NoSources(t *testing.T) {
	st := NewStatus(Sources{})
	ts := httptest.NewServer(Handler(st, Options{}))
	defer ts.Close()

	var snap StatusSnapshot
	getJSON(t, ts.URL+"/api/status", &snap)
	if snap.GPS != nil || snap.NTRIP != nil || snap.RTCM != nil {
		t.Fatalf("unexpected component blocks: %+v", snap)
	}
	if snap.Health.Overall != geo.Offline {
		t.Fatalf("overall=%s", snap.Health.Overall)
	}
}

func TestHealth_StaleReceiverWarns(t *testing.T) {
	now := time.Now().UTC()
	src := testSources(now)
	src.GPS = func() gps.Status {
		return gps.Status{
			State:       gps.StateReady.String(),
			Liveness:    "stale",
			Messages:    map[string]uint64{"NAV-PVT": 100},
			LastDataUTC: now.Add(-20 * time.Second).Format(time.RFC3339),
		}
	}
	snap := NewStatus(src).Snapshot(now)
	if snap.Health.Checks[0].Component != "gps" || snap.Health.Checks[0].Status != geo.Warning {
		t.Fatalf("gps check=%+v", snap.Health.Checks[0])
	}
	if snap.Health.Overall != geo.Warning {
		t.Fatalf("overall=%s", snap.Health.Overall)
	}
}

func TestAPISnapshotAndRTCM(t *testing.T) {
	reset := 0
	st := NewStatus(testSources(time.Now().UTC()))
	ts := httptest.NewServer(Handler(st, Options{ResetRTCM: func() { reset++ }}))
	defer ts.Close()

	var snap map[string]any
	getJSON(t, ts.URL+"/api/snapshot", &snap)
	if snap["satellites_used"] != 24.0 {
		t.Fatalf("snapshot=%v", snap)
	}

	var sum rtcm.Summary
	getJSON(t, ts.URL+"/api/rtcm", &sum)
	if sum.Valid != 10 {
		t.Fatalf("summary=%+v", sum)
	}

	resp, err := http.Get(ts.URL + "/api/rtcm/reset")
	if err != nil {
		t.Fatalf("get reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET reset status=%d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/rtcm/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("post reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || reset != 1 {
		t.Fatalf("status=%d reset=%d", resp.StatusCode, reset)
	}
}

func TestAPIRTCM_Disabled(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(Sources{}), Options{}))
	defer ts.Close()

	for _, path := range []string{"/api/rtcm", "/api/snapshot"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Fatalf("%s: expected an error status", path)
		}
	}
}

func TestAPILogs(t *testing.T) {
	logs := NewLogBuffer(10)
	_, _ = logs.Write([]byte("gps: opened\nntrip: connected\npartial"))

	ts := httptest.NewServer(Handler(NewStatus(Sources{}), Options{Logs: logs}))
	defer ts.Close()

	var out LogsResponse
	getJSON(t, ts.URL+"/api/logs?n=1", &out)
	if len(out.Lines) != 1 || out.Lines[0] != "ntrip: connected" {
		t.Fatalf("lines=%v", out.Lines)
	}

	resp, err := http.Get(ts.URL + "/api/logs?format=text")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "gps: opened\nntrip: connected\n" {
		t.Fatalf("text=%q", string(b))
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(Sources{}), Options{}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status=%d", resp2.StatusCode)
	}
}

func TestLiveStream(t *testing.T) {
	live := NewBroadcaster()
	live.Publish(LiveUpdate{Snapshot: gps.Snapshot{"fix_type": "3D Fix"}})

	ts := httptest.NewServer(Handler(NewStatus(Sources{}), Options{Live: live}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first LiveUpdate
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.Snapshot["fix_type"] != "3D Fix" {
		t.Fatalf("first=%+v", first)
	}

	live.Publish(LiveUpdate{Snapshot: gps.Snapshot{"fix_type": "3D Fix + RTK Float"}})
	var second LiveUpdate
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.Snapshot["fix_type"] != "3D Fix + RTK Float" {
		t.Fatalf("second=%+v", second)
	}
}

func TestBroadcaster_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	id, ch := b.Subscribe(1)
	b.Publish(LiveUpdate{TimeUTC: "a"})
	b.Publish(LiveUpdate{TimeUTC: "b"})
	if got := <-ch; got.TimeUTC != "a" {
		t.Fatalf("got %q", got.TimeUTC)
	}
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers=%d", b.Subscribers())
	}
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", b.Subscribers())
	}
}

func TestLogBuffer_ReassemblesLinesAndFilters(t *testing.T) {
	logs := NewLogBuffer(3)
	_, _ = logs.Write([]byte("2024/05/01 12:00:00 gps: op"))
	_, _ = logs.Write([]byte("ened\n2024/05/01 12:00:01 ntrip: connected\n"))
	_, _ = logs.Write([]byte("2024/05/01 12:00:02 gps: ready\n\n2024/05/01 12:00:03 rtcm: filtering\n"))

	lines, dropped := logs.Snapshot(10, "")
	if len(lines) != 3 || dropped != 1 {
		t.Fatalf("lines=%v dropped=%d", lines, dropped)
	}
	if lines[0] != "2024/05/01 12:00:01 ntrip: connected" {
		t.Fatalf("oldest=%q", lines[0])
	}

	gpsLines, _ := logs.Snapshot(10, "gps")
	if len(gpsLines) != 1 || gpsLines[0] != "2024/05/01 12:00:02 gps: ready" {
		t.Fatalf("gps lines=%v", gpsLines)
	}
	none, _ := logs.Snapshot(10, "mqtt")
	if none == nil || len(none) != 0 {
		t.Fatalf("mqtt lines=%v", none)
	}
}

func TestAPILogs_BadTail(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus(Sources{}), Options{Logs: NewLogBuffer(10)}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
}

func TestAPIAbout(t *testing.T) {
	src := testSources(time.Now().UTC())
	gpsStatus := src.GPS
	src.GPS = func() gps.Status {
		st := gpsStatus()
		st.Device = "/dev/ttyACM0"
		st.Baud = 38400
		return st
	}
	snapshot := src.Snapshot
	src.Snapshot = func() gps.Snapshot {
		snap := snapshot()
		snap["receiver_module"] = "ZED-F9P"
		snap["receiver_firmware"] = "HPG 1.32"
		return snap
	}
	ts := httptest.NewServer(Handler(NewStatus(src), Options{}))
	defer ts.Close()

	var about AboutResponse
	getJSON(t, ts.URL+"/api/about", &about)
	if about.Service != "ublox-bridge" || about.GoVersion == "" {
		t.Fatalf("about=%+v", about)
	}
	if about.Receiver == nil || about.Receiver.Module != "ZED-F9P" || about.Receiver.Firmware != "HPG 1.32" {
		t.Fatalf("receiver=%+v", about.Receiver)
	}
	if about.Receiver.Device != "/dev/ttyACM0" || about.Receiver.Baud != 38400 {
		t.Fatalf("receiver=%+v", about.Receiver)
	}

	ts2 := httptest.NewServer(Handler(NewStatus(Sources{}), Options{}))
	defer ts2.Close()
	var bare AboutResponse
	getJSON(t, ts2.URL+"/api/about", &bare)
	if bare.Receiver != nil {
		t.Fatalf("receiver=%+v", bare.Receiver)
	}
}
