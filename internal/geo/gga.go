package geo

import (
	"fmt"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// GGA quality indicators.
const (
	QualityInvalid   = 0
	QualityGPS       = 1
	QualityDGPS      = 2
	QualityRTKFixed  = 4
	QualityRTKFloat  = 5
	QualityEstimated = 6
)

// Position is the rover state needed for a GGA sentence.
type Position struct {
	Time        time.Time
	Latitude    float64
	Longitude   float64
	AltitudeMSL float64
	GeoidSep    float64
	Quality     int
	NumSV       int
	HDOP        float64
}

// QualityFromFix maps a fix label (and differential flag) to a GGA
// quality indicator.
func QualityFromFix(label string, diff bool) int {
	switch {
	case strings.Contains(label, "RTK Fixed"):
		return QualityRTKFixed
	case strings.Contains(label, "RTK Float"):
		return QualityRTKFloat
	case label == "Dead Reckoning Only":
		return QualityEstimated
	case label == "2D Fix", label == "3D Fix", label == "GNSS + Dead Reckoning":
		if diff {
			return QualityDGPS
		}
		return QualityGPS
	}
	return QualityInvalid
}

// GGA builds a $GPGGA sentence without the trailing CRLF.
func GGA(p Position) string {
	t := p.Time.UTC()
	body := fmt.Sprintf("GPGGA,%02d%02d%02d.%02d,%s,%s,%d,%02d,%.1f,%.3f,M,%.3f,M,,",
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e7,
		ggaCoord(p.Latitude, Latitude), ggaCoord(p.Longitude, Longitude),
		p.Quality, p.NumSV, p.HDOP, p.AltitudeMSL, p.GeoidSep)
	return "$" + body + "*" + nmea.Checksum(body)
}

// ggaCoord renders ddmm.mmmmmm,N or dddmm.mmmmmm,E.
func ggaCoord(v float64, axis Axis) string {
	a := math.Abs(v)
	d := math.Floor(a)
	m := (a - d) * 60
	if math.Round(m*1e6) >= 60e6 {
		m = 0
		d++
	}
	width := "%02d%09.6f,%s"
	if axis == Longitude {
		width = "%03d%09.6f,%s"
	}
	return fmt.Sprintf(width, int(d), m, hemisphere(v, axis))
}
