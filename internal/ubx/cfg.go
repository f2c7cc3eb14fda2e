package ubx

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// CfgMsg sets the output rate of class/id on the port the command arrives on.
// Rate is in navigation solutions; 0 disables the message.
func CfgMsg(class, id, rate byte) []byte {
	return Encode(ClassCFG, IDCfgMsg, []byte{class, id, rate})
}

// CfgRate sets the measurement period and the number of measurements per
// navigation solution. Time reference is GPS time.
func CfgRate(measMs, navRate uint16) []byte {
	p := make([]byte, 6)
	binary.LittleEndian.PutUint16(p[0:], measMs)
	binary.LittleEndian.PutUint16(p[2:], navRate)
	binary.LittleEndian.PutUint16(p[4:], 1)
	return Encode(ClassCFG, IDCfgRate, p)
}

// MeasPeriodMs converts an update rate in Hz to CFG-RATE measRate.
func MeasPeriodMs(hz int) uint16 {
	if hz <= 0 {
		hz = 1
	}
	return uint16(1000 / hz)
}

// CfgNav5Dynamic applies only the dynamic platform model (mask bit 0).
func CfgNav5Dynamic(model uint8) []byte {
	p := make([]byte, 36)
	binary.LittleEndian.PutUint16(p[0:], 0x0001)
	p[2] = model
	return Encode(ClassCFG, IDCfgNav5, p)
}

// CfgHNR sets the high navigation rate in Hz.
func CfgHNR(rateHz uint8) []byte {
	return Encode(ClassCFG, IDCfgHNR, []byte{rateHz, 0, 0, 0})
}

// SaveMasks are the CFG-CFG section masks.
type SaveMasks struct {
	Clear  uint32
	Save   uint32
	Load   uint32
	Device uint8
}

// CfgCfg builds the clear/save/load command including the device mask.
func CfgCfg(m SaveMasks) []byte {
	p := make([]byte, 13)
	binary.LittleEndian.PutUint32(p[0:], m.Clear)
	binary.LittleEndian.PutUint32(p[4:], m.Save)
	binary.LittleEndian.PutUint32(p[8:], m.Load)
	p[12] = m.Device
	return Encode(ClassCFG, IDCfgCfg, p)
}

// CfgRst resets the receiver. navBbrMask 0xFFFF is a cold start; resetMode
// 0x02 is a controlled GNSS-only software reset.
func CfgRst(navBbrMask uint16, resetMode uint8) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint16(p[0:], navBbrMask)
	p[2] = resetMode
	return Encode(ClassCFG, IDCfgRst, p)
}

// Dynamic platform models for CFG-NAV5 and CFG-NAVSPG-DYNMODEL.
var dynamicModels = map[string]uint8{
	"portable":   0,
	"stationary": 2,
	"pedestrian": 3,
	"automotive": 4,
	"sea":        5,
	"airborne1g": 6,
	"airborne2g": 7,
	"airborne4g": 8,
	"wrist":      9,
}

// DynamicModelAutomotive is used when a model name is not recognised.
const DynamicModelAutomotive uint8 = 4

// DynamicModelCode maps a model name to its code. ok is false when the name
// was unknown and the automotive fallback was returned.
func DynamicModelCode(name string) (code uint8, ok bool) {
	code, ok = dynamicModels[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return DynamicModelAutomotive, false
	}
	return code, true
}

// DynamicModels lists the accepted model names.
func DynamicModels() []string {
	out := make([]string, 0, len(dynamicModels))
	for k := range dynamicModels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Constellation is a GNSS system in CFG-GNSS.
type Constellation uint8

const (
	GPS Constellation = iota
	SBAS
	Galileo
	BeiDou
	IMES
	QZSS
	GLONASS
)

func (c Constellation) String() string {
	switch c {
	case GPS:
		return "GPS"
	case SBAS:
		return "SBAS"
	case Galileo:
		return "GALILEO"
	case BeiDou:
		return "BEIDOU"
	case IMES:
		return "IMES"
	case QZSS:
		return "QZSS"
	case GLONASS:
		return "GLONASS"
	}
	return fmt.Sprintf("GNSS(%d)", uint8(c))
}

type gnssBlock struct {
	id      Constellation
	resTrk  uint8
	maxTrk  uint8
	sigMask uint8
}

// Block order and signal masks for the F9 series (L1 + L2/E5b/B2I).
var gnssBlocks = []gnssBlock{
	{GPS, 8, 16, 0x11},
	{SBAS, 3, 3, 0x01},
	{Galileo, 4, 8, 0x21},
	{BeiDou, 8, 16, 0x11},
	{QZSS, 0, 3, 0x11},
	{GLONASS, 8, 14, 0x11},
}

// ParseConstellations reads a "+"- or ","-separated list such as
// "GPS+GLONASS+GALILEO+BEIDOU".
func ParseConstellations(s string) (map[Constellation]bool, error) {
	out := make(map[Constellation]bool)
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' || r == ' ' }) {
		switch strings.ToUpper(part) {
		case "GPS":
			out[GPS] = true
		case "SBAS":
			out[SBAS] = true
		case "GALILEO", "GAL":
			out[Galileo] = true
		case "BEIDOU", "BDS":
			out[BeiDou] = true
		case "QZSS":
			out[QZSS] = true
		case "GLONASS", "GLO":
			out[GLONASS] = true
		default:
			return nil, fmt.Errorf("unknown constellation %q", part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no constellations in %q", s)
	}
	return out, nil
}

// CfgGNSS enables the given systems and disables the rest in one message.
func CfgGNSS(enabled map[Constellation]bool) []byte {
	p := make([]byte, 4, 4+8*len(gnssBlocks))
	p[0] = 0    // msgVer
	p[1] = 0    // numTrkChHw, read-only
	p[2] = 0xFF // numTrkChUse: all available
	p[3] = byte(len(gnssBlocks))
	for _, b := range gnssBlocks {
		flags := uint32(b.sigMask) << 16
		if enabled[b.id] {
			flags |= 0x01
		}
		p = append(p, byte(b.id), b.resTrk, b.maxTrk, 0)
		p = binary.LittleEndian.AppendUint32(p, flags)
	}
	return Encode(ClassCFG, IDCfgGNSS, p)
}

// Configuration layers for CFG-VALSET.
const (
	LayerRAM   uint8 = 0x01
	LayerBBR   uint8 = 0x02
	LayerFlash uint8 = 0x04
)

// Configuration item keys used by the configurator.
const (
	KeySFCoreUseSF      uint32 = 0x10080001
	KeySFIMUAutoMntAlg  uint32 = 0x10060027
	KeyNavSpgDynModel   uint32 = 0x20110021
	KeyRateMeas         uint32 = 0x30210001
	KeyI2COutProtNMEA   uint32 = 0x10720002
	KeyUART1OutProtNMEA uint32 = 0x10740002
	KeyUSBOutProtNMEA   uint32 = 0x10780002
)

// KeyValue is one CFG-VALSET item. The encoded value width comes from the
// key's size field (bits 28-30).
type KeyValue struct {
	Key   uint32
	Value uint64
}

func valueSize(key uint32) int {
	switch (key >> 28) & 0x07 {
	case 1, 2:
		return 1
	case 3:
		return 2
	case 4:
		return 4
	case 5:
		return 8
	}
	return 0
}

// ValSet builds a CFG-VALSET message applying items to the given layers.
func ValSet(layers uint8, items ...KeyValue) ([]byte, error) {
	p := []byte{0, layers, 0, 0}
	for _, it := range items {
		n := valueSize(it.Key)
		if n == 0 {
			return nil, fmt.Errorf("ubx: key 0x%08X has no value size", it.Key)
		}
		p = binary.LittleEndian.AppendUint32(p, it.Key)
		var v [8]byte
		binary.LittleEndian.PutUint64(v[:], it.Value)
		p = append(p, v[:n]...)
	}
	return Encode(ClassCFG, IDCfgValset, p), nil
}
