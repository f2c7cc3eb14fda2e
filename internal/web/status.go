package web

import (
	"sync/atomic"
	"time"

	"ublox-bridge/internal/geo"
	"ublox-bridge/internal/gps"
	"ublox-bridge/internal/ntrip"
	"ublox-bridge/internal/rtcm"
)

// Sources are the component views the status endpoints read. Nil sources
// are reported as absent.
type Sources struct {
	GPS         func() gps.Status
	Snapshot    func() gps.Snapshot
	RTCM        func() rtcm.Summary
	NTRIP       func() ntrip.Snapshot
	Publishers  func() map[string]any
	Performance func() geo.PerformanceSummary
}

type Status struct {
	startUnixNano int64
	src           atomic.Value // Sources
	limits        geo.HealthLimits
}

func NewStatus(src Sources) *Status {
	s := &Status{limits: geo.DefaultHealthLimits}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.src.Store(src)
	return s
}

// SetSources swaps the component views, for example after the runtime has
// been rebuilt.
func (s *Status) SetSources(src Sources) { s.src.Store(src) }

func (s *Status) Sources() Sources { return s.src.Load().(Sources) }

// Position is the location block of the status document.
type Position struct {
	FixType     string   `json:"fix_type,omitempty"`
	Description string   `json:"fix_description,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	LatDMS      string   `json:"latitude_dms,omitempty"`
	LonDMS      string   `json:"longitude_dms,omitempty"`
	AccuracyCM  *float64 `json:"accuracy_cm,omitempty"`
	Category    string   `json:"accuracy_category,omitempty"`
	Satellites  *int     `json:"satellites_used,omitempty"`
	RTK         bool     `json:"rtk"`
}

type HealthReport struct {
	Overall geo.HealthStatus  `json:"overall"`
	Checks  []geo.HealthCheck `json:"checks"`
}

type StatusSnapshot struct {
	Service     string                  `json:"service"`
	NowUTC      string                  `json:"now_utc"`
	UptimeSec   int64                   `json:"uptime_sec"`
	Uptime      string                  `json:"uptime"`
	Position    Position                `json:"position"`
	GPS         *gps.Status             `json:"gps,omitempty"`
	NTRIP       *ntrip.Snapshot         `json:"ntrip,omitempty"`
	RTCM        *rtcm.Summary           `json:"rtcm,omitempty"`
	Publishers  map[string]any          `json:"publishers,omitempty"`
	Performance *geo.PerformanceSummary `json:"performance,omitempty"`
	Health      HealthReport            `json:"health"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	uptime := nowUTC.Sub(start)
	src := s.Sources()

	snap := StatusSnapshot{
		Service:   serviceName,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    geo.FormatDuration(uptime.Seconds()),
	}
	if src.Snapshot != nil {
		snap.Position = positionOf(src.Snapshot())
	}
	if src.GPS != nil {
		st := src.GPS()
		snap.GPS = &st
	}
	if src.NTRIP != nil {
		st := src.NTRIP()
		snap.NTRIP = &st
	}
	if src.RTCM != nil {
		st := src.RTCM()
		snap.RTCM = &st
	}
	if src.Publishers != nil {
		snap.Publishers = src.Publishers()
	}
	if src.Performance != nil {
		p := src.Performance()
		snap.Performance = &p
	}
	snap.Health = s.health(snap, nowUTC)
	return snap
}

func (s *Status) health(snap StatusSnapshot, now time.Time) HealthReport {
	var checks []geo.HealthCheck
	if snap.GPS != nil {
		checks = append(checks, geo.Health(gpsHealth(*snap.GPS), s.limits, now))
	}
	if snap.NTRIP != nil {
		checks = append(checks, geo.Health(ntripHealth(*snap.NTRIP), s.limits, now))
	}
	if snap.RTCM != nil {
		checks = append(checks, geo.Health(rtcmHealth(*snap.RTCM), s.limits, now))
	}
	return HealthReport{Overall: geo.Overall(checks), Checks: checks}
}

func gpsHealth(st gps.Status) geo.HealthInput {
	in := geo.HealthInput{
		Component: "gps",
		Running:   st.State == gps.StateReady.String(),
		Errors:    st.DecodeErrors + st.ValidationErrors + st.Scan.ChecksumErrors,
		Liveness:  st.Liveness,
	}
	for _, n := range st.Messages {
		in.Operations += n
	}
	in.Operations += st.DecodeErrors + st.Scan.ChecksumErrors
	in.LastActivity = parseUTC(st.LastDataUTC)
	return in
}

func ntripHealth(st ntrip.Snapshot) geo.HealthInput {
	return geo.HealthInput{
		Component:    "ntrip",
		Running:      st.State != "stopped" && st.State != "",
		LastActivity: parseUTC(st.LastDataUTC),
		Operations:   st.Chunks + st.Reconnects,
		Errors:       st.Reconnects,
	}
}

func rtcmHealth(st rtcm.Summary) geo.HealthInput {
	return geo.HealthInput{
		Component:    "rtcm",
		Running:      st.Total > 0,
		LastActivity: st.LastMessage,
		Operations:   st.Total + st.CRCErrors + st.Malformed,
		Errors:       st.Invalid + st.CRCErrors + st.Malformed,
	}
}

func positionOf(snap gps.Snapshot) Position {
	var p Position
	if label, ok := snap.Text("fix_type"); ok {
		p.FixType = label
		p.Description = geo.FixDescription(label)
		p.RTK = geo.IsRTK(label)
	}
	lat, okLat := snap.Float("latitude")
	lon, okLon := snap.Float("longitude")
	if okLat && okLon && geo.ValidCoordinates(lat, lon) {
		p.Latitude, p.Longitude = &lat, &lon
		p.LatDMS, p.LonDMS = geo.FormatCoordinates(lat, lon, 3)
	}
	if acc, ok := snap.Float("horizontal_accuracy"); ok {
		cm := acc * 100
		p.AccuracyCM = &cm
		p.Category = geo.AccuracyCategory(cm)
	}
	if n, ok := snap.Int("satellites_used"); ok {
		p.Satellites = &n
	}
	return p
}

func parseUTC(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
