package ubx

import (
	"encoding/binary"
	"time"
)

// NavPVT is UBX-NAV-PVT: navigation position velocity time solution.
type NavPVT struct {
	ITOW    uint32
	Year    uint16
	Month   uint8
	Day     uint8
	Hour    uint8
	Min     uint8
	Sec     uint8
	Valid   uint8
	TAcc    uint32
	Nano    int32
	FixType uint8
	Flags   uint8
	Flags2  uint8
	NumSV   uint8
	Lon     int32 // 1e-7 deg
	Lat     int32 // 1e-7 deg
	Height  int32 // mm above ellipsoid
	HMSL    int32 // mm above mean sea level
	HAcc    uint32
	VAcc    uint32
	VelN    int32 // mm/s
	VelE    int32
	VelD    int32
	GSpeed  int32 // mm/s
	HeadMot int32 // 1e-5 deg
	SAcc    uint32
	HeadAcc uint32
	PDOP    uint16 // 0.01
	Flags3  uint16
	HeadVeh int32
	MagDec  int16
	MagAcc  uint16
}

const navPVTLen = 92

func DecodeNavPVT(p []byte) (NavPVT, error) {
	if err := need(p, navPVTLen, "NAV-PVT"); err != nil {
		return NavPVT{}, err
	}
	return NavPVT{
		ITOW:    u32(p, 0),
		Year:    u16(p, 4),
		Month:   p[6],
		Day:     p[7],
		Hour:    p[8],
		Min:     p[9],
		Sec:     p[10],
		Valid:   p[11],
		TAcc:    u32(p, 12),
		Nano:    i32(p, 16),
		FixType: p[20],
		Flags:   p[21],
		Flags2:  p[22],
		NumSV:   p[23],
		Lon:     i32(p, 24),
		Lat:     i32(p, 28),
		Height:  i32(p, 32),
		HMSL:    i32(p, 36),
		HAcc:    u32(p, 40),
		VAcc:    u32(p, 44),
		VelN:    i32(p, 48),
		VelE:    i32(p, 52),
		VelD:    i32(p, 56),
		GSpeed:  i32(p, 60),
		HeadMot: i32(p, 64),
		SAcc:    u32(p, 68),
		HeadAcc: u32(p, 72),
		PDOP:    u16(p, 76),
		Flags3:  u16(p, 78),
		HeadVeh: i32(p, 84),
		MagDec:  i16(p, 88),
		MagAcc:  u16(p, 90),
	}, nil
}

// MarshalBinary encodes the payload (without framing).
func (m NavPVT) MarshalBinary() ([]byte, error) {
	p := make([]byte, navPVTLen)
	le := binary.LittleEndian
	le.PutUint32(p[0:], m.ITOW)
	le.PutUint16(p[4:], m.Year)
	p[6], p[7], p[8], p[9], p[10], p[11] = m.Month, m.Day, m.Hour, m.Min, m.Sec, m.Valid
	le.PutUint32(p[12:], m.TAcc)
	le.PutUint32(p[16:], uint32(m.Nano))
	p[20], p[21], p[22], p[23] = m.FixType, m.Flags, m.Flags2, m.NumSV
	le.PutUint32(p[24:], uint32(m.Lon))
	le.PutUint32(p[28:], uint32(m.Lat))
	le.PutUint32(p[32:], uint32(m.Height))
	le.PutUint32(p[36:], uint32(m.HMSL))
	le.PutUint32(p[40:], m.HAcc)
	le.PutUint32(p[44:], m.VAcc)
	le.PutUint32(p[48:], uint32(m.VelN))
	le.PutUint32(p[52:], uint32(m.VelE))
	le.PutUint32(p[56:], uint32(m.VelD))
	le.PutUint32(p[60:], uint32(m.GSpeed))
	le.PutUint32(p[64:], uint32(m.HeadMot))
	le.PutUint32(p[68:], m.SAcc)
	le.PutUint32(p[72:], m.HeadAcc)
	le.PutUint16(p[76:], m.PDOP)
	le.PutUint16(p[78:], m.Flags3)
	le.PutUint32(p[84:], uint32(m.HeadVeh))
	le.PutUint16(p[88:], uint16(m.MagDec))
	le.PutUint16(p[90:], m.MagAcc)
	return p, nil
}

func (m NavPVT) LatDeg() float64        { return float64(m.Lat) * 1e-7 }
func (m NavPVT) LonDeg() float64        { return float64(m.Lon) * 1e-7 }
func (m NavPVT) HeightM() float64       { return float64(m.Height) / 1000 }
func (m NavPVT) HMSLM() float64         { return float64(m.HMSL) / 1000 }
func (m NavPVT) HAccM() float64         { return float64(m.HAcc) / 1000 }
func (m NavPVT) VAccM() float64         { return float64(m.VAcc) / 1000 }
func (m NavPVT) GroundSpeedMS() float64 { return float64(m.GSpeed) / 1000 }
func (m NavPVT) HeadingDeg() float64    { return float64(m.HeadMot) * 1e-5 }
func (m NavPVT) PDOPValue() float64     { return float64(m.PDOP) * 0.01 }

// GNSSFixOK reports flags bit 0.
func (m NavPVT) GNSSFixOK() bool { return m.Flags&0x01 != 0 }

// DiffSoln reports whether differential corrections were applied.
func (m NavPVT) DiffSoln() bool { return m.Flags&0x02 != 0 }

// CarrSoln is the carrier phase range solution status (flags bits 6-7).
func (m NavPVT) CarrSoln() uint8 { return (m.Flags >> 6) & 0x03 }

// FixLabel returns the display label including any RTK qualifier.
func (m NavPVT) FixLabel() string { return FixLabel(m.FixType, m.CarrSoln()) }

// UTC returns the solution time when date and time are flagged valid.
func (m NavPVT) UTC() (time.Time, bool) {
	if m.Valid&0x03 != 0x03 {
		return time.Time{}, false
	}
	t := time.Date(int(m.Year), time.Month(m.Month), int(m.Day), int(m.Hour), int(m.Min), int(m.Sec), 0, time.UTC)
	return t.Add(time.Duration(m.Nano)), true
}

// NavHPPOSLLH is UBX-NAV-HPPOSLLH: high precision geodetic position.
type NavHPPOSLLH struct {
	Version  uint8
	Flags    uint8
	ITOW     uint32
	Lon      int32 // 1e-7 deg
	Lat      int32
	Height   int32 // mm
	HMSL     int32
	LonHp    int8 // 1e-9 deg
	LatHp    int8
	HeightHp int8 // 0.1 mm
	HMSLHp   int8
	HAcc     uint32 // 0.1 mm
	VAcc     uint32
}

const navHPPOSLLHLen = 36

func DecodeNavHPPOSLLH(p []byte) (NavHPPOSLLH, error) {
	if err := need(p, navHPPOSLLHLen, "NAV-HPPOSLLH"); err != nil {
		return NavHPPOSLLH{}, err
	}
	return NavHPPOSLLH{
		Version:  p[0],
		Flags:    p[3],
		ITOW:     u32(p, 4),
		Lon:      i32(p, 8),
		Lat:      i32(p, 12),
		Height:   i32(p, 16),
		HMSL:     i32(p, 20),
		LonHp:    int8(p[24]),
		LatHp:    int8(p[25]),
		HeightHp: int8(p[26]),
		HMSLHp:   int8(p[27]),
		HAcc:     u32(p, 28),
		VAcc:     u32(p, 32),
	}, nil
}

func (m NavHPPOSLLH) MarshalBinary() ([]byte, error) {
	p := make([]byte, navHPPOSLLHLen)
	le := binary.LittleEndian
	p[0], p[3] = m.Version, m.Flags
	le.PutUint32(p[4:], m.ITOW)
	le.PutUint32(p[8:], uint32(m.Lon))
	le.PutUint32(p[12:], uint32(m.Lat))
	le.PutUint32(p[16:], uint32(m.Height))
	le.PutUint32(p[20:], uint32(m.HMSL))
	p[24], p[25], p[26], p[27] = byte(m.LonHp), byte(m.LatHp), byte(m.HeightHp), byte(m.HMSLHp)
	le.PutUint32(p[28:], m.HAcc)
	le.PutUint32(p[32:], m.VAcc)
	return p, nil
}

// InvalidLLH reports flags bit 0.
func (m NavHPPOSLLH) InvalidLLH() bool { return m.Flags&0x01 != 0 }

func (m NavHPPOSLLH) LatDeg() float64 { return float64(m.Lat)*1e-7 + float64(m.LatHp)*1e-9 }
func (m NavHPPOSLLH) LonDeg() float64 { return float64(m.Lon)*1e-7 + float64(m.LonHp)*1e-9 }

// HeightM adds the 0.1 mm component after scaling the mm value.
func (m NavHPPOSLLH) HeightM() float64 { return float64(m.Height)/1000 + float64(m.HeightHp)/10000 }
func (m NavHPPOSLLH) HMSLM() float64   { return float64(m.HMSL)/1000 + float64(m.HMSLHp)/10000 }
func (m NavHPPOSLLH) HAccM() float64   { return float64(m.HAcc) / 10000 }
func (m NavHPPOSLLH) VAccM() float64   { return float64(m.VAcc) / 10000 }

// NavStatus is UBX-NAV-STATUS: receiver navigation status.
type NavStatus struct {
	ITOW    uint32
	GPSFix  uint8
	Flags   uint8
	FixStat uint8
	Flags2  uint8
	TTFF    uint32 // ms
	MSSS    uint32 // ms since startup
}

func DecodeNavStatus(p []byte) (NavStatus, error) {
	if err := need(p, 16, "NAV-STATUS"); err != nil {
		return NavStatus{}, err
	}
	return NavStatus{
		ITOW:    u32(p, 0),
		GPSFix:  p[4],
		Flags:   p[5],
		FixStat: p[6],
		Flags2:  p[7],
		TTFF:    u32(p, 8),
		MSSS:    u32(p, 12),
	}, nil
}

func (m NavStatus) FixOK() bool    { return m.Flags&0x01 != 0 }
func (m NavStatus) DiffSoln() bool { return m.Flags&0x02 != 0 }
func (m NavStatus) WKNSet() bool   { return m.Flags&0x04 != 0 }
func (m NavStatus) TOWSet() bool   { return m.Flags&0x08 != 0 }

// DiffCorr reports whether differential corrections are available.
func (m NavStatus) DiffCorr() bool { return m.FixStat&0x01 != 0 }

// CarrSoln is flags2 bits 6-7.
func (m NavStatus) CarrSoln() uint8 { return (m.Flags2 >> 6) & 0x03 }

func (m NavStatus) TTFFSeconds() float64   { return float64(m.TTFF) / 1000 }
func (m NavStatus) UptimeSeconds() float64 { return float64(m.MSSS) / 1000 }

// SatInfo is one repeated block of UBX-NAV-SAT.
type SatInfo struct {
	GNSSID  uint8   `json:"gnss_id"`
	SvID    uint8   `json:"sv_id"`
	CNo     uint8   `json:"cno"`       // dBHz
	Elev    int8    `json:"elevation"` // deg
	Azim    int16   `json:"azimuth"`   // deg
	PrRes   float64 `json:"pr_res"`    // m
	Quality uint8   `json:"quality"`
	Used    bool    `json:"used"`
	Health  uint8   `json:"health"`
}

// NavSat is UBX-NAV-SAT: satellite information.
type NavSat struct {
	ITOW    uint32
	Version uint8
	Sats    []SatInfo
}

func DecodeNavSat(p []byte) (NavSat, error) {
	if err := need(p, 8, "NAV-SAT"); err != nil {
		return NavSat{}, err
	}
	n := int(p[5])
	if err := need(p, 8+12*n, "NAV-SAT"); err != nil {
		return NavSat{}, err
	}
	out := NavSat{ITOW: u32(p, 0), Version: p[4], Sats: make([]SatInfo, 0, n)}
	for i := 0; i < n; i++ {
		b := p[8+12*i:]
		flags := u32(b, 8)
		out.Sats = append(out.Sats, SatInfo{
			GNSSID:  b[0],
			SvID:    b[1],
			CNo:     b[2],
			Elev:    int8(b[3]),
			Azim:    i16(b, 4),
			PrRes:   float64(i16(b, 6)) / 10,
			Quality: uint8(flags & 0x07),
			Used:    flags&0x08 != 0,
			Health:  uint8((flags >> 4) & 0x03),
		})
	}
	return out, nil
}

// NavCov is UBX-NAV-COV: position and velocity covariance in NED (m^2, m^2/s^2).
type NavCov struct {
	ITOW        uint32
	Version     uint8
	PosCovValid bool
	VelCovValid bool
	PosNN       float32
	PosNE       float32
	PosND       float32
	PosEE       float32
	PosED       float32
	PosDD       float32
	VelNN       float32
	VelNE       float32
	VelND       float32
	VelEE       float32
	VelED       float32
	VelDD       float32
}

func DecodeNavCov(p []byte) (NavCov, error) {
	if err := need(p, 64, "NAV-COV"); err != nil {
		return NavCov{}, err
	}
	return NavCov{
		ITOW:        u32(p, 0),
		Version:     p[4],
		PosCovValid: p[5] != 0,
		VelCovValid: p[6] != 0,
		PosNN:       f32(p, 16),
		PosNE:       f32(p, 20),
		PosND:       f32(p, 24),
		PosEE:       f32(p, 28),
		PosED:       f32(p, 32),
		PosDD:       f32(p, 36),
		VelNN:       f32(p, 40),
		VelNE:       f32(p, 44),
		VelND:       f32(p, 48),
		VelEE:       f32(p, 52),
		VelED:       f32(p, 56),
		VelDD:       f32(p, 60),
	}, nil
}
