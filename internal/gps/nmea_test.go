package gps

import (
	"fmt"
	"math"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestDecodeNMEA_GGA(t *testing.T) {
	line := nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,4,08,0.9,545.4,M,46.9,M,1.0,0000")
	msg, err := decodeNMEA(line)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	gga, ok := msg.(GGA)
	if !ok {
		t.Fatalf("expected GGA, got %T", msg)
	}
	if gga.Identity() != "NMEA-GGA" {
		t.Fatalf("identity=%q", gga.Identity())
	}

	f := ggaFields(gga)
	if f["nmea_fix_quality"] != "RTK Fixed" {
		t.Fatalf("fix quality=%v", f["nmea_fix_quality"])
	}
	if f["nmea_satellites_used"] != 8 {
		t.Fatalf("satellites=%v", f["nmea_satellites_used"])
	}
	if f["nmea_talker"] != "GN" {
		t.Fatalf("talker=%v", f["nmea_talker"])
	}
	lat, _ := f["nmea_latitude"].(float64)
	if math.Abs(lat-48.1173) > 1e-4 {
		t.Fatalf("lat=%v", lat)
	}
	alt, _ := f["nmea_altitude"].(float64)
	if math.Abs(alt-545.4) > 1e-6 {
		t.Fatalf("alt=%v", alt)
	}
}

func TestGGAFields_NoFixOmitsPosition(t *testing.T) {
	f := ggaFields(GGA{nmea.GGA{FixQuality: "0", NumSatellites: 0, HDOP: 99.99}})
	if f["nmea_fix_quality"] != "Invalid" {
		t.Fatalf("fix quality=%v", f["nmea_fix_quality"])
	}
	if _, ok := f["nmea_latitude"]; ok {
		t.Fatalf("expected no latitude for quality 0")
	}
	if _, ok := f["nmea_utc_time"]; ok {
		t.Fatalf("expected no time without a valid time field")
	}
}

func TestDecodeNMEA_ChecksumMismatch(t *testing.T) {
	good := nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	bad := good[:len(good)-2] + "00"
	if _, err := decodeNMEA(bad); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeNMEA_GSA(t *testing.T) {
	line := nmeaLine("GNGSA,A,3,02,05,12,15,,,,,,,,,1.8,0.9,1.5")
	msg, err := decodeNMEA(line)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	f := gsaFields(msg.(GSA))
	if f["nmea_fix_mode"] != "3D Fix" {
		t.Fatalf("fix mode=%v", f["nmea_fix_mode"])
	}
	if f["nmea_active_satellites"] != 4 {
		t.Fatalf("active=%v", f["nmea_active_satellites"])
	}
	if pdop, _ := f["nmea_pdop"].(float64); math.Abs(pdop-1.8) > 1e-9 {
		t.Fatalf("pdop=%v", pdop)
	}
}

func TestDecodeNMEA_UnknownTypeIsNotAnError(t *testing.T) {
	msg, err := decodeNMEA(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	u, ok := msg.(UnknownSentence)
	if !ok || u.Type != "RMC" || u.Talker != "GP" {
		t.Fatalf("got %#v", msg)
	}

	msg, err = decodeNMEA(nmeaLine("PUBX,00,123519"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if msg.Identity() != "NMEA-PUBX" {
		t.Fatalf("identity=%q", msg.Identity())
	}
}

func TestDecodeNMEA_MalformedAddress(t *testing.T) {
	if _, err := decodeNMEA("$G*00"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestHandler_GGAUpdatesNMEAGroup(t *testing.T) {
	st := NewStore()
	h := NewHandler(st)
	msg, err := decodeNMEA(nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := h.Apply(msg, now); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snap := st.Snapshot()
	if ts, ok := snap.Time("nmea_timestamp"); !ok || !ts.Equal(now) {
		t.Fatalf("nmea_timestamp=%v", snap["nmea_timestamp"])
	}
	if _, ok := snap["timestamp"]; ok {
		t.Fatalf("base timestamp must not be touched by NMEA")
	}
	if hdop, ok := snap.Float("nmea_hdop"); !ok || math.Abs(hdop-0.9) > 1e-9 {
		t.Fatalf("hdop=%v", snap["nmea_hdop"])
	}
}
