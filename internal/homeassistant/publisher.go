// Package homeassistant mirrors receiver state into Home Assistant entities
// through the core REST API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"ublox-bridge/internal/gps"
)

// Entity describes one Home Assistant entity and its static attributes.
type Entity struct {
	ID          string
	Name        string
	Icon        string
	DeviceClass string
	Unit        string
}

const (
	TrackerID        = "device_tracker.ublox_gps"
	FixTypeID        = "sensor.ublox_gps_fix_type"
	SatellitesID     = "sensor.ublox_gps_satellites"
	AccuracyID       = "sensor.ublox_gps_accuracy"
	AltitudeID       = "sensor.ublox_gps_altitude"
	SpeedID          = "sensor.ublox_gps_speed"
	HeadingID        = "sensor.ublox_gps_heading"
	PDOPID           = "sensor.ublox_gps_pdop"
	GPSConnectedID   = "binary_sensor.ublox_gps_connected"
	NTRIPConnectedID = "binary_sensor.ublox_ntrip_connected"
	RTCMRateID       = "sensor.ublox_rtcm_data_rate"
)

var Entities = []Entity{
	{ID: TrackerID, Name: "u-blox GPS Location", Icon: "mdi:crosshairs-gps"},
	{ID: FixTypeID, Name: "GPS Fix Type", Icon: "mdi:satellite-variant"},
	{ID: SatellitesID, Name: "GPS Satellites", Icon: "mdi:satellite", Unit: "satellites"},
	{ID: AccuracyID, Name: "GPS Horizontal Accuracy", Icon: "mdi:target", DeviceClass: "distance", Unit: "cm"},
	{ID: AltitudeID, Name: "GPS Altitude", Icon: "mdi:altimeter", DeviceClass: "distance", Unit: "m"},
	{ID: SpeedID, Name: "GPS Speed", Icon: "mdi:speedometer", DeviceClass: "speed", Unit: "m/s"},
	{ID: HeadingID, Name: "GPS Heading", Icon: "mdi:compass", Unit: "°"},
	{ID: PDOPID, Name: "GPS PDOP", Icon: "mdi:chart-bell-curve"},
	{ID: GPSConnectedID, Name: "GPS Device Connected", Icon: "mdi:connection", DeviceClass: "connectivity"},
	{ID: NTRIPConnectedID, Name: "NTRIP Connected", Icon: "mdi:wifi", DeviceClass: "connectivity"},
	{ID: RTCMRateID, Name: "RTCM Data Rate", Icon: "mdi:swap-vertical", DeviceClass: "data_rate", Unit: "bit/s"},
}

func entity(id string) Entity {
	for _, e := range Entities {
		if e.ID == id {
			return e
		}
	}
	return Entity{ID: id, Name: id}
}

// Links is the connectivity state published alongside the snapshot.
type Links struct {
	GPSConnected    bool
	NTRIPConnected  bool
	NTRIPEnabled    bool
	RTCMDataRateBPS float64
}

// Update is one state write.
type Update struct {
	EntityID   string
	State      any
	Attributes map[string]any
}

type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
	Client  *http.Client
	Now     func() time.Time
}

type Stats struct {
	Posts       uint64 `json:"posts"`
	Failures    uint64 `json:"failures"`
	LastError   string `json:"last_error,omitempty"`
	LastPostUTC string `json:"last_post_utc,omitempty"`
}

type Publisher struct {
	cfg    Config
	client *http.Client

	mu    sync.Mutex
	stats Stats
}

func New(cfg Config) (*Publisher, error) {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" {
		return nil, fmt.Errorf("homeassistant url is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("homeassistant token is required (set SUPERVISOR_TOKEN or homeassistant_token)")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Publisher{cfg: cfg, client: client}, nil
}

// Initialize sets every entity to "unknown" so they exist before the first
// fix.
func (p *Publisher) Initialize(ctx context.Context) error {
	var errs []error
	for _, e := range Entities {
		if err := p.post(ctx, Update{EntityID: e.ID, State: "unknown"}); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		log.Printf("homeassistant: %d entities initialized", len(Entities))
	}
	return errors.Join(errs...)
}

// Publish writes every entity the snapshot has data for.
func (p *Publisher) Publish(ctx context.Context, snap gps.Snapshot, links Links) error {
	var errs []error
	for _, u := range Updates(snap, links) {
		if err := p.post(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Updates maps a snapshot to entity writes. Missing fields produce no
// update.
func Updates(snap gps.Snapshot, links Links) []Update {
	var out []Update
	lat, okLat := snap.Float("latitude")
	lon, okLon := snap.Float("longitude")
	if okLat && okLon {
		attrs := map[string]any{
			"latitude":    lat,
			"longitude":   lon,
			"source_type": "gps",
		}
		if acc, ok := snap.Float("horizontal_accuracy"); ok {
			attrs["gps_accuracy"] = round(acc, 2)
		}
		if alt, ok := snap.Float("altitude"); ok {
			attrs["altitude"] = round(alt, 2)
		}
		out = append(out, Update{EntityID: TrackerID, State: "home", Attributes: attrs})
	}
	if fix, ok := snap.Text("fix_type"); ok {
		out = append(out, Update{EntityID: FixTypeID, State: fix})
	}
	if n, ok := snap.Int("satellites_used"); ok {
		out = append(out, Update{EntityID: SatellitesID, State: n})
	}
	if acc, ok := snap.Float("horizontal_accuracy"); ok {
		out = append(out, Update{EntityID: AccuracyID, State: round(acc*100, 1)})
	}
	if alt, ok := snap.Float("altitude"); ok {
		out = append(out, Update{EntityID: AltitudeID, State: round(alt, 1)})
	}
	if v, ok := snap.Float("speed"); ok {
		out = append(out, Update{EntityID: SpeedID, State: round(v, 2)})
	}
	if v, ok := snap.Float("heading"); ok {
		out = append(out, Update{EntityID: HeadingID, State: round(v, 1)})
	}
	if v, ok := snap.Float("pdop"); ok {
		out = append(out, Update{EntityID: PDOPID, State: round(v, 2)})
	}
	out = append(out, Update{EntityID: GPSConnectedID, State: onOff(links.GPSConnected)})
	if links.NTRIPEnabled {
		out = append(out,
			Update{EntityID: NTRIPConnectedID, State: onOff(links.NTRIPConnected)},
			Update{EntityID: RTCMRateID, State: round(links.RTCMDataRateBPS, 0)},
		)
	}
	return out
}

func (p *Publisher) post(ctx context.Context, u Update) error {
	e := entity(u.EntityID)
	attrs := map[string]any{
		"friendly_name": e.Name,
		"icon":          e.Icon,
		"last_updated":  p.cfg.Now().UTC().Format(time.RFC3339),
	}
	if e.DeviceClass != "" {
		attrs["device_class"] = e.DeviceClass
	}
	if e.Unit != "" {
		attrs["unit_of_measurement"] = e.Unit
	}
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	body, err := json.Marshal(map[string]any{"state": u.State, "attributes": attrs})
	if err != nil {
		return p.failed(fmt.Errorf("homeassistant: encode %s: %w", u.EntityID, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL+"/api/states/"+u.EntityID, bytes.NewReader(body))
	if err != nil {
		return p.failed(fmt.Errorf("homeassistant: %s: %w", u.EntityID, err))
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return p.failed(fmt.Errorf("homeassistant: %s: %w", u.EntityID, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return p.failed(fmt.Errorf("homeassistant: %s: status %d: %s", u.EntityID, resp.StatusCode, strings.TrimSpace(string(msg))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	p.mu.Lock()
	p.stats.Posts++
	p.stats.LastPostUTC = p.cfg.Now().UTC().Format(time.RFC3339)
	p.mu.Unlock()
	return nil
}

func (p *Publisher) failed(err error) error {
	p.mu.Lock()
	p.stats.Failures++
	p.stats.LastError = err.Error()
	p.mu.Unlock()
	return err
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func round(v float64, places int) float64 {
	s := math.Pow(10, float64(places))
	return math.Round(v*s) / s
}
