package gps

import (
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"ublox-bridge/internal/ubx"
)

var debugLogging atomic.Bool

// SetDebug enables per-message debug logging.
func SetDebug(on bool) { debugLogging.Store(on) }

func debugf(format string, args ...any) {
	if debugLogging.Load() {
		log.Printf("gps: "+format, args...)
	}
}

// Field groups. Each group stamps its own timestamp field.
const (
	GroupBase     = ""
	GroupHP       = "hp"
	GroupStatus   = "status"
	GroupHNR      = "hnr"
	GroupFusion   = "fusion"
	GroupSat      = "sat"
	GroupCov      = "cov"
	GroupReceiver = "receiver"
	GroupNMEA     = "nmea"
)

// Handler folds decoded messages into a Store. It is owned by the read loop.
type Handler struct {
	store *Store

	// OnAck receives ACK-ACK and ACK-NAK records.
	OnAck func(ubx.Ack)

	lastFusionValid time.Time
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Apply updates the store from msg. A *DataValidationError means msg was
// dropped.
func (h *Handler) Apply(msg Message, now time.Time) error {
	switch m := msg.(type) {
	case ubx.NavPVT:
		return h.navPVT(m, now)
	case ubx.NavHPPOSLLH:
		return h.hpposllh(m, now)
	case ubx.NavStatus:
		h.store.Update(GroupStatus, navStatusFields(m), now)
	case ubx.HNRPVT:
		return h.hnrPVT(m, now)
	case ubx.ESFIns:
		h.store.Update(GroupFusion, h.esfInsFields(m, now), now)
	case ubx.ESFStatus:
		h.store.Update(GroupFusion, map[string]any{
			"fusion_mode":    m.FusionModeLabel(),
			"fusion_sensors": int(m.NumSens),
		}, now)
	case ubx.NavSat:
		h.store.Update(GroupSat, navSatFields(m), now)
	case ubx.NavCov:
		if !m.PosCovValid && !m.VelCovValid {
			return &DataValidationError{Identity: m.Identity(), Reason: "no valid covariance"}
		}
		h.store.Update(GroupCov, navCovFields(m), now)
	case ubx.MonVer:
		h.store.Update(GroupReceiver, map[string]any{
			"receiver_sw_version": m.SWVersion,
			"receiver_hw_version": m.HWVersion,
			"receiver_module":     m.Module(),
			"receiver_firmware":   m.Firmware(),
		}, now)
	case ubx.Ack:
		if h.OnAck != nil {
			h.OnAck(m)
		}
	case GGA:
		if m.FixQuality != "0" && !validCoordinates(m.Latitude, m.Longitude) {
			return &DataValidationError{Identity: m.Identity(), Reason: fmt.Sprintf("coordinates out of range lat=%f lon=%f", m.Latitude, m.Longitude)}
		}
		h.store.Update(GroupNMEA, ggaFields(m), now)
	case GSA:
		h.store.Update(GroupNMEA, gsaFields(m), now)
	case Unknown:
		debugf("ignoring %s (%d bytes)", m.Identity(), m.Len)
	case UnknownSentence:
		debugf("ignoring %s", m.Identity())
	default:
		return fmt.Errorf("no handler for %s", msg.Identity())
	}
	return nil
}

func validCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 && !math.IsNaN(lat) && !math.IsNaN(lon)
}

// hasPosition is true for fix types that carry a usable position.
func hasPosition(fixType uint8) bool {
	return fixType >= ubx.FixDeadReckon && fixType <= ubx.FixGNSSDeadRec
}

func (h *Handler) navPVT(m ubx.NavPVT, now time.Time) error {
	f := map[string]any{
		"fix_type":         m.FixLabel(),
		"fix_type_code":    int(m.FixType),
		"carrier_solution": ubx.CarrierLabel(m.CarrSoln()),
		"gnss_fix_ok":      m.GNSSFixOK(),
		"diff_soln":        m.DiffSoln(),
		"satellites_used":  int(m.NumSV),
		"pdop":             m.PDOPValue(),
		"itow":             int(m.ITOW),
	}
	if t, ok := m.UTC(); ok {
		f["utc_time"] = t
	}
	if hasPosition(m.FixType) {
		lat, lon := m.LatDeg(), m.LonDeg()
		if !validCoordinates(lat, lon) {
			return &DataValidationError{Identity: m.Identity(), Reason: fmt.Sprintf("coordinates out of range lat=%f lon=%f", lat, lon)}
		}
		f["latitude"] = lat
		f["longitude"] = lon
		f["altitude"] = m.HMSLM()
		f["height_ellipsoid"] = m.HeightM()
		f["horizontal_accuracy"] = m.HAccM()
		f["vertical_accuracy"] = m.VAccM()
		f["speed"] = m.GroundSpeedMS()
		f["heading"] = m.HeadingDeg()
		f["velocity_north"] = float64(m.VelN) / 1000
		f["velocity_east"] = float64(m.VelE) / 1000
		f["velocity_down"] = float64(m.VelD) / 1000
		f["speed_accuracy"] = float64(m.SAcc) / 1000
		f["heading_accuracy"] = float64(m.HeadAcc) * 1e-5
	}
	h.store.Update(GroupBase, f, now)
	return nil
}

func (h *Handler) hpposllh(m ubx.NavHPPOSLLH, now time.Time) error {
	if m.InvalidLLH() {
		return &DataValidationError{Identity: m.Identity(), Reason: "invalid llh flag set"}
	}
	lat, lon := m.LatDeg(), m.LonDeg()
	if !validCoordinates(lat, lon) {
		return &DataValidationError{Identity: m.Identity(), Reason: fmt.Sprintf("coordinates out of range lat=%f lon=%f", lat, lon)}
	}
	h.store.Update(GroupHP, map[string]any{
		"hp_latitude":            lat,
		"hp_longitude":           lon,
		"hp_height":              m.HeightM(),
		"hp_altitude":            m.HMSLM(),
		"hp_horizontal_accuracy": m.HAccM(),
		"hp_vertical_accuracy":   m.VAccM(),
	}, now)
	return nil
}

func navStatusFields(m ubx.NavStatus) map[string]any {
	return map[string]any{
		"status_fix_type":         ubx.FixLabel(m.GPSFix, m.CarrSoln()),
		"status_fix_ok":           m.FixOK(),
		"status_diff_soln":        m.DiffSoln(),
		"status_diff_corr":        m.DiffCorr(),
		"status_week_valid":       m.WKNSet(),
		"status_tow_valid":        m.TOWSet(),
		"status_carrier_solution": ubx.CarrierLabel(m.CarrSoln()),
		"status_ttff":             m.TTFFSeconds(),
		"status_uptime":           m.UptimeSeconds(),
	}
}

func (h *Handler) hnrPVT(m ubx.HNRPVT, now time.Time) error {
	f := map[string]any{
		"hnr_fix_type": m.FixLabel(),
	}
	if hasPosition(m.GPSFix) {
		lat, lon := m.LatDeg(), m.LonDeg()
		if !validCoordinates(lat, lon) {
			return &DataValidationError{Identity: m.Identity(), Reason: fmt.Sprintf("coordinates out of range lat=%f lon=%f", lat, lon)}
		}
		f["hnr_latitude"] = lat
		f["hnr_longitude"] = lon
		f["hnr_altitude"] = m.HMSLM()
		f["hnr_speed"] = m.GroundSpeedMS()
		f["hnr_heading"] = m.HeadingDeg()
		f["hnr_vehicle_heading"] = m.VehicleHeadDeg()
		f["hnr_horizontal_accuracy"] = m.HAccM()
	}
	h.store.Update(GroupHNR, f, now)
	return nil
}

func (h *Handler) esfInsFields(m ubx.ESFIns, now time.Time) map[string]any {
	gx, gy, gz := m.AngRateDegS()
	ax, ay, az := m.AccelMS2()
	f := map[string]any{
		"fusion_gyro_x":  gx,
		"fusion_gyro_y":  gy,
		"fusion_gyro_z":  gz,
		"fusion_accel_x": ax,
		"fusion_accel_y": ay,
		"fusion_accel_z": az,
		"fusion_valid":   m.AllValid(),
	}
	if m.AllValid() {
		h.lastFusionValid = now
	}
	// Seconds since the last sample with every axis valid.
	if !h.lastFusionValid.IsZero() {
		f["fusion_valid_age"] = now.Sub(h.lastFusionValid).Seconds()
	}
	return f
}

func navSatFields(m ubx.NavSat) map[string]any {
	var used, tracked, cnoSum, cnoMax int
	perSystem := make(map[string]int)
	for _, s := range m.Sats {
		perSystem[ubx.Constellation(s.GNSSID).String()]++
		if s.Used {
			used++
		}
		if s.CNo > 0 {
			tracked++
			cnoSum += int(s.CNo)
			if int(s.CNo) > cnoMax {
				cnoMax = int(s.CNo)
			}
		}
	}
	f := map[string]any{
		"satellites_in_view": len(m.Sats),
		"sat_used":           used,
		"sat_tracked":        tracked,
		"sat_cno_max":        cnoMax,
		"sat_constellations": perSystem,
		"sat_list":           m.Sats,
	}
	if tracked > 0 {
		f["sat_cno_avg"] = float64(cnoSum) / float64(tracked)
	}
	return f
}

func navCovFields(m ubx.NavCov) map[string]any {
	f := map[string]any{}
	if m.PosCovValid {
		f["cov_pos_nn"] = float64(m.PosNN)
		f["cov_pos_ne"] = float64(m.PosNE)
		f["cov_pos_nd"] = float64(m.PosND)
		f["cov_pos_ee"] = float64(m.PosEE)
		f["cov_pos_ed"] = float64(m.PosED)
		f["cov_pos_dd"] = float64(m.PosDD)
		f["cov_horizontal_std"] = math.Sqrt(math.Max(0, float64(m.PosNN)+float64(m.PosEE)))
	}
	if m.VelCovValid {
		f["cov_vel_nn"] = float64(m.VelNN)
		f["cov_vel_ne"] = float64(m.VelNE)
		f["cov_vel_nd"] = float64(m.VelND)
		f["cov_vel_ee"] = float64(m.VelEE)
		f["cov_vel_ed"] = float64(m.VelED)
		f["cov_vel_dd"] = float64(m.VelDD)
	}
	return f
}
