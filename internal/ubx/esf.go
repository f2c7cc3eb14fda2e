package ubx

import "encoding/binary"

// HNRPVT is UBX-HNR-PVT: high rate output of the PVT solution (ZED-F9R).
type HNRPVT struct {
	ITOW    uint32
	Year    uint16
	Month   uint8
	Day     uint8
	Hour    uint8
	Min     uint8
	Sec     uint8
	Valid   uint8
	Nano    int32
	GPSFix  uint8
	Flags   uint8
	Lon     int32 // 1e-7 deg
	Lat     int32
	Height  int32 // mm
	HMSL    int32
	GSpeed  int32 // mm/s
	Speed   int32 // mm/s, 3D
	HeadMot int32 // 1e-5 deg
	HeadVeh int32 // 1e-5 deg
	HAcc    uint32
	VAcc    uint32
	SAcc    uint32
	HeadAcc uint32
}

const hnrPVTLen = 72

func DecodeHNRPVT(p []byte) (HNRPVT, error) {
	if err := need(p, hnrPVTLen, "HNR-PVT"); err != nil {
		return HNRPVT{}, err
	}
	return HNRPVT{
		ITOW:    u32(p, 0),
		Year:    u16(p, 4),
		Month:   p[6],
		Day:     p[7],
		Hour:    p[8],
		Min:     p[9],
		Sec:     p[10],
		Valid:   p[11],
		Nano:    i32(p, 12),
		GPSFix:  p[16],
		Flags:   p[17],
		Lon:     i32(p, 20),
		Lat:     i32(p, 24),
		Height:  i32(p, 28),
		HMSL:    i32(p, 32),
		GSpeed:  i32(p, 36),
		Speed:   i32(p, 40),
		HeadMot: i32(p, 44),
		HeadVeh: i32(p, 48),
		HAcc:    u32(p, 52),
		VAcc:    u32(p, 56),
		SAcc:    u32(p, 60),
		HeadAcc: u32(p, 64),
	}, nil
}

func (m HNRPVT) MarshalBinary() ([]byte, error) {
	p := make([]byte, hnrPVTLen)
	le := binary.LittleEndian
	le.PutUint32(p[0:], m.ITOW)
	le.PutUint16(p[4:], m.Year)
	p[6], p[7], p[8], p[9], p[10], p[11] = m.Month, m.Day, m.Hour, m.Min, m.Sec, m.Valid
	le.PutUint32(p[12:], uint32(m.Nano))
	p[16], p[17] = m.GPSFix, m.Flags
	le.PutUint32(p[20:], uint32(m.Lon))
	le.PutUint32(p[24:], uint32(m.Lat))
	le.PutUint32(p[28:], uint32(m.Height))
	le.PutUint32(p[32:], uint32(m.HMSL))
	le.PutUint32(p[36:], uint32(m.GSpeed))
	le.PutUint32(p[40:], uint32(m.Speed))
	le.PutUint32(p[44:], uint32(m.HeadMot))
	le.PutUint32(p[48:], uint32(m.HeadVeh))
	le.PutUint32(p[52:], m.HAcc)
	le.PutUint32(p[56:], m.VAcc)
	le.PutUint32(p[60:], m.SAcc)
	le.PutUint32(p[64:], m.HeadAcc)
	return p, nil
}

func (m HNRPVT) LatDeg() float64         { return float64(m.Lat) * 1e-7 }
func (m HNRPVT) LonDeg() float64         { return float64(m.Lon) * 1e-7 }
func (m HNRPVT) HMSLM() float64          { return float64(m.HMSL) / 1000 }
func (m HNRPVT) GroundSpeedMS() float64  { return float64(m.GSpeed) / 1000 }
func (m HNRPVT) HeadingDeg() float64     { return float64(m.HeadMot) * 1e-5 }
func (m HNRPVT) VehicleHeadDeg() float64 { return float64(m.HeadVeh) * 1e-5 }
func (m HNRPVT) HAccM() float64          { return float64(m.HAcc) / 1000 }

// FixLabel uses the plain fix label; HNR-PVT carries no carrier solution.
func (m HNRPVT) FixLabel() string { return FixLabel(m.GPSFix, 0) }

// ESFIns is UBX-ESF-INS: vehicle dynamics from sensor fusion.
type ESFIns struct {
	Bitfield0 uint32
	ITOW      uint32
	XAngRate  int32 // 1e-3 deg/s
	YAngRate  int32
	ZAngRate  int32
	XAccel    int32 // 1e-2 m/s^2
	YAccel    int32
	ZAccel    int32
}

func DecodeESFIns(p []byte) (ESFIns, error) {
	if err := need(p, 36, "ESF-INS"); err != nil {
		return ESFIns{}, err
	}
	return ESFIns{
		Bitfield0: u32(p, 0),
		ITOW:      u32(p, 8),
		XAngRate:  i32(p, 12),
		YAngRate:  i32(p, 16),
		ZAngRate:  i32(p, 20),
		XAccel:    i32(p, 24),
		YAccel:    i32(p, 28),
		ZAccel:    i32(p, 32),
	}, nil
}

func (m ESFIns) MarshalBinary() ([]byte, error) {
	p := make([]byte, 36)
	le := binary.LittleEndian
	le.PutUint32(p[0:], m.Bitfield0)
	le.PutUint32(p[8:], m.ITOW)
	le.PutUint32(p[12:], uint32(m.XAngRate))
	le.PutUint32(p[16:], uint32(m.YAngRate))
	le.PutUint32(p[20:], uint32(m.ZAngRate))
	le.PutUint32(p[24:], uint32(m.XAccel))
	le.PutUint32(p[28:], uint32(m.YAccel))
	le.PutUint32(p[32:], uint32(m.ZAccel))
	return p, nil
}

// AllValid reports whether every angular rate and acceleration axis is flagged valid.
func (m ESFIns) AllValid() bool {
	const mask = 0x3F << 8
	return m.Bitfield0&mask == mask
}

func (m ESFIns) AngRateDegS() (x, y, z float64) {
	return float64(m.XAngRate) * 1e-3, float64(m.YAngRate) * 1e-3, float64(m.ZAngRate) * 1e-3
}

func (m ESFIns) AccelMS2() (x, y, z float64) {
	return float64(m.XAccel) * 1e-2, float64(m.YAccel) * 1e-2, float64(m.ZAccel) * 1e-2
}

// ESFStatus is UBX-ESF-STATUS: external sensor fusion status.
type ESFStatus struct {
	ITOW       uint32
	Version    uint8
	FusionMode uint8
	NumSens    uint8
}

func DecodeESFStatus(p []byte) (ESFStatus, error) {
	if err := need(p, 16, "ESF-STATUS"); err != nil {
		return ESFStatus{}, err
	}
	return ESFStatus{
		ITOW:       u32(p, 0),
		Version:    p[4],
		FusionMode: p[12],
		NumSens:    p[15],
	}, nil
}

var fusionModes = [...]string{"Initializing", "Fusion", "Suspended", "Disabled"}

func (m ESFStatus) FusionModeLabel() string {
	if int(m.FusionMode) < len(fusionModes) {
		return fusionModes[m.FusionMode]
	}
	return "Unknown"
}
