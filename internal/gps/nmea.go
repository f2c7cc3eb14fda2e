package gps

import (
	"fmt"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// GGA wraps a parsed $xxGGA position fix sentence.
type GGA struct{ nmea.GGA }

func (GGA) Identity() string { return "NMEA-GGA" }

// GSA wraps a parsed $xxGSA DOP and active satellites sentence.
type GSA struct{ nmea.GSA }

func (GSA) Identity() string { return "NMEA-GSA" }

// UnknownSentence is a well-framed sentence of a type we do not decode.
type UnknownSentence struct {
	Talker string
	Type   string
}

func (u UnknownSentence) Identity() string { return "NMEA-" + u.Type }

// sentenceType splits the address field into talker and type. Proprietary
// sentences ($PUBX, ...) have no talker.
func sentenceType(line string) (talker, typ string, ok bool) {
	if !strings.HasPrefix(line, "$") {
		return "", "", false
	}
	addr := line[1:]
	if i := strings.IndexAny(addr, ",*"); i >= 0 {
		addr = addr[:i]
	}
	switch {
	case len(addr) < 3:
		return "", "", false
	case addr[0] == 'P':
		return "", strings.ToUpper(addr), true
	case len(addr) == 5:
		return strings.ToUpper(addr[:2]), strings.ToUpper(addr[2:]), true
	}
	return "", strings.ToUpper(addr), true
}

func decodeNMEA(line string) (Message, error) {
	talker, typ, ok := sentenceType(line)
	if !ok {
		return nil, fmt.Errorf("nmea: malformed address field in %q", line)
	}
	if typ != nmea.TypeGGA && typ != nmea.TypeGSA {
		return UnknownSentence{Talker: talker, Type: typ}, nil
	}

	s, err := nmea.Parse(line)
	if err != nil {
		return nil, err
	}
	switch v := s.(type) {
	case nmea.GGA:
		return GGA{v}, nil
	case nmea.GSA:
		return GSA{v}, nil
	}
	return UnknownSentence{Talker: talker, Type: typ}, nil
}

var ggaQuality = map[string]string{
	"0": "Invalid",
	"1": "GPS",
	"2": "DGPS",
	"3": "PPS",
	"4": "RTK Fixed",
	"5": "RTK Float",
	"6": "Dead Reckoning",
	"7": "Manual",
	"8": "Simulation",
}

func ggaQualityLabel(q string) string {
	if l, ok := ggaQuality[q]; ok {
		return l
	}
	return "Unknown (" + q + ")"
}

func ggaFields(m GGA) map[string]any {
	f := map[string]any{
		"nmea_fix_quality":     ggaQualityLabel(m.FixQuality),
		"nmea_satellites_used": int(m.NumSatellites),
		"nmea_hdop":            m.HDOP,
		"nmea_talker":          m.TalkerID(),
	}
	if m.Time.Valid {
		f["nmea_utc_time"] = m.Time.String()
	}
	// Quality 0 sentences carry empty position fields.
	if m.FixQuality != "0" && m.FixQuality != "" {
		f["nmea_latitude"] = m.Latitude
		f["nmea_longitude"] = m.Longitude
		f["nmea_altitude"] = m.Altitude
		f["nmea_geoid_separation"] = m.Separation
	}
	return f
}

var gsaFixMode = map[string]string{"1": "No Fix", "2": "2D Fix", "3": "3D Fix"}

func gsaFields(m GSA) map[string]any {
	active := 0
	for _, sv := range m.SV {
		if strings.TrimSpace(sv) != "" {
			active++
		}
	}
	mode, ok := gsaFixMode[m.FixType]
	if !ok {
		mode = "Unknown"
	}
	return map[string]any{
		"nmea_pdop":              m.PDOP,
		"nmea_hdop":              m.HDOP,
		"nmea_vdop":              m.VDOP,
		"nmea_fix_mode":          mode,
		"nmea_active_satellites": active,
	}
}
