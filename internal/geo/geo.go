// Package geo holds coordinate helpers shared by the publishers and the
// NTRIP position upload.
package geo

import (
	"fmt"
	"math"
	"strings"
)

// EarthRadiusM is the mean Earth radius used by Distance.
const EarthRadiusM = 6371000.0

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

// Distance is the great-circle (haversine) distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := rad(lat1), rad(lat2)
	dlat := p2 - p1
	dlon := rad(lon2 - lon1)
	a := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	return 2 * math.Asin(math.Sqrt(math.Min(1, a))) * EarthRadiusM
}

// Bearing is the initial course from point 1 to point 2, in [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	p1, p2 := rad(lat1), rad(lat2)
	dlon := rad(lon2 - lon1)
	y := math.Sin(dlon) * math.Cos(p2)
	x := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dlon)
	b := math.Mod(deg(math.Atan2(y, x))+360, 360)
	if b >= 360 {
		b = 0
	}
	return b
}

// ValidCoordinates reports whether lat/lon are finite and in range.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

type Axis int

const (
	Latitude Axis = iota
	Longitude
)

// FormatDMS renders decimal degrees as 48°07'02.28"N.
func FormatDMS(v float64, axis Axis) string {
	a := math.Abs(v)
	d := math.Floor(a)
	mf := (a - d) * 60
	m := math.Floor(mf)
	s := (mf - m) * 60
	// Rounding to hundredths can carry into the next minute.
	if math.Round(s*100) >= 6000 {
		s = 0
		m++
		if m >= 60 {
			m = 0
			d++
		}
	}
	return fmt.Sprintf("%d°%02d'%05.2f\"%s", int(d), int(m), s, hemisphere(v, axis))
}

// FormatCoordinates renders a position as "48.117300°N", "11.516667°E".
func FormatCoordinates(lat, lon float64, precision int) (string, string) {
	if precision < 0 {
		precision = 6
	}
	return fmt.Sprintf("%.*f°%s", precision, math.Abs(lat), hemisphere(lat, Latitude)),
		fmt.Sprintf("%.*f°%s", precision, math.Abs(lon), hemisphere(lon, Longitude))
}

func hemisphere(v float64, axis Axis) string {
	if axis == Longitude {
		if v < 0 {
			return "W"
		}
		return "E"
	}
	if v < 0 {
		return "S"
	}
	return "N"
}

// AccuracyCategory buckets a horizontal accuracy in centimeters.
func AccuracyCategory(cm float64) string {
	switch {
	case cm <= 5:
		return "Excellent (RTK)"
	case cm <= 50:
		return "Very Good"
	case cm <= 200:
		return "Good"
	case cm <= 500:
		return "Fair"
	}
	return "Poor"
}

// IsRTK reports whether a fix label carries a float or fixed carrier
// solution, e.g. "3D Fix + RTK Fixed".
func IsRTK(label string) bool {
	return strings.Contains(label, "RTK Float") || strings.Contains(label, "RTK Fixed")
}

// FixDescription is a longer form of a fix label for display.
func FixDescription(label string) string {
	switch {
	case strings.Contains(label, "RTK Fixed"):
		return "RTK fixed solution (highest accuracy)"
	case strings.Contains(label, "RTK Float"):
		return "RTK float solution"
	}
	switch label {
	case "No Fix":
		return "No GPS signal"
	case "Dead Reckoning Only":
		return "Dead reckoning only"
	case "2D Fix":
		return "2D position fix"
	case "3D Fix":
		return "3D position fix"
	case "GNSS + Dead Reckoning":
		return "Combined GNSS and dead reckoning"
	case "Time Only Fix":
		return "Time-only fix"
	}
	return "Unknown fix type: " + label
}

// ConstellationForSvID maps an NMEA satellite number to its system.
func ConstellationForSvID(id int) string {
	switch {
	case id >= 1 && id <= 32:
		return "GPS"
	case id >= 65 && id <= 96:
		return "GLONASS"
	case id >= 120 && id <= 163:
		return "SBAS"
	case id >= 173 && id <= 182:
		return "IMES"
	case id >= 193 && id <= 202:
		return "QZSS"
	case id >= 211 && id <= 246:
		return "Galileo"
	case id >= 301 && id <= 336:
		return "BeiDou"
	}
	return "Unknown"
}

// FormatDuration renders seconds as 12.5s, 3.2m or 1.5h.
func FormatDuration(seconds float64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.1fm", seconds/60)
	}
	return fmt.Sprintf("%.1fh", seconds/3600)
}
