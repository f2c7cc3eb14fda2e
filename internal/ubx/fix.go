package ubx

import (
	"bytes"
	"fmt"
	"strings"
)

// Fix type codes reported in NAV-PVT, NAV-STATUS and HNR-PVT.
const (
	FixNone        uint8 = 0
	FixDeadReckon  uint8 = 1
	Fix2D          uint8 = 2
	Fix3D          uint8 = 3
	FixGNSSDeadRec uint8 = 4
	FixTimeOnly    uint8 = 5
)

// Carrier solution states (NAV-PVT flags bits 6-7).
const (
	CarrNone  uint8 = 0
	CarrFloat uint8 = 1
	CarrFixed uint8 = 2
)

var fixLabels = [...]string{
	"No Fix",
	"Dead Reckoning Only",
	"2D Fix",
	"3D Fix",
	"GNSS + Dead Reckoning",
	"Time Only Fix",
}

// FixLabel renders a fix type. Only 3D and GNSS+DR fixes carry an RTK
// qualifier.
func FixLabel(fixType, carrSoln uint8) string {
	if int(fixType) >= len(fixLabels) {
		return fmt.Sprintf("Unknown (%d)", fixType)
	}
	label := fixLabels[fixType]
	if fixType != Fix3D && fixType != FixGNSSDeadRec {
		return label
	}
	switch carrSoln {
	case CarrFloat:
		return label + " + RTK Float"
	case CarrFixed:
		return label + " + RTK Fixed"
	}
	return label
}

// CarrierLabel names a carrier solution state.
func CarrierLabel(carrSoln uint8) string {
	switch carrSoln {
	case CarrFloat:
		return "float"
	case CarrFixed:
		return "fixed"
	}
	return "none"
}

// Ack is the payload of ACK-ACK and ACK-NAK.
type Ack struct {
	OK    bool
	Class byte
	ID    byte
}

// Key returns the acknowledged message.
func (a Ack) Key() Key { return Key{Class: a.Class, ID: a.ID} }

func DecodeAck(id byte, p []byte) (Ack, error) {
	if err := need(p, 2, "ACK"); err != nil {
		return Ack{}, err
	}
	return Ack{OK: id == IDAckAck, Class: p[0], ID: p[1]}, nil
}

// MonVer is UBX-MON-VER: receiver and software version.
type MonVer struct {
	SWVersion  string
	HWVersion  string
	Extensions []string
}

func DecodeMonVer(p []byte) (MonVer, error) {
	if err := need(p, 40, "MON-VER"); err != nil {
		return MonVer{}, err
	}
	out := MonVer{
		SWVersion: cstring(p[0:30]),
		HWVersion: cstring(p[30:40]),
	}
	for off := 40; off+30 <= len(p); off += 30 {
		if s := cstring(p[off : off+30]); s != "" {
			out.Extensions = append(out.Extensions, s)
		}
	}
	return out, nil
}

// Module returns the MOD= extension value (for example "ZED-F9P").
func (m MonVer) Module() string {
	for _, e := range m.Extensions {
		if v, ok := strings.CutPrefix(e, "MOD="); ok {
			return v
		}
	}
	return ""
}

// Firmware returns the FWVER= extension value.
func (m MonVer) Firmware() string {
	for _, e := range m.Extensions {
		if v, ok := strings.CutPrefix(e, "FWVER="); ok {
			return v
		}
	}
	return ""
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
