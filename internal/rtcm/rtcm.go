// Package rtcm parses RTCM 3 correction frames, checks and filters them, and
// keeps statistics over the stream.
//
// Transport frame layout:
//
//	D3 | 6 reserved bits + 10-bit length | payload (length bytes) | CRC-24Q (3 bytes)
//
// The first 12 bits of the payload are the message type; for most messages
// the next 12 bits are the reference station id.
package rtcm

import (
	"fmt"
	"time"
)

const (
	Preamble   = 0xD3
	HeaderLen  = 3
	CRCLen     = 3
	MaxPayload = 1023

	MinType = 1000
	MaxType = 4095
)

// DefaultAllowlist is the set of messages a ZED-F9P/F9R rover needs for RTK.
var DefaultAllowlist = []int{1005, 1077, 1087, 1097, 1127}

// Message is one parsed correction frame.
type Message struct {
	Type       int
	StationID  int
	HasStation bool
	Payload    []byte
	CRC        uint32
	ReceivedAt time.Time
}

// Len is the declared payload length.
func (m Message) Len() int { return len(m.Payload) }

// Frame re-serializes the message into its transport frame.
func (m Message) Frame() []byte {
	n := len(m.Payload)
	out := make([]byte, 0, HeaderLen+n+CRCLen)
	out = append(out, Preamble, byte(n>>8)&0x03, byte(n))
	out = append(out, m.Payload...)
	return append(out, byte(m.CRC>>16), byte(m.CRC>>8), byte(m.CRC))
}

// Encode frames payload and appends its CRC.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("rtcm: payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	n := len(payload)
	out := make([]byte, 0, HeaderLen+n+CRCLen)
	out = append(out, Preamble, byte(n>>8)&0x03, byte(n))
	out = append(out, payload...)
	crc := CRC24Q(out)
	return append(out, byte(crc>>16), byte(crc>>8), byte(crc)), nil
}

// messageType reads the 12-bit type from the start of a payload.
func messageType(p []byte) int {
	return int(p[0])<<4 | int(p[1])>>4
}

// stationID reads the 12 bits following the message type.
func stationID(p []byte) int {
	return int(p[1]&0x0F)<<8 | int(p[2])
}

var descriptions = map[int]string{
	1001: "L1-Only GPS RTK Observables",
	1002: "Extended L1-Only GPS RTK Observables",
	1003: "L1&L2 GPS RTK Observables",
	1004: "Extended L1&L2 GPS RTK Observables",
	1005: "Stationary RTK Reference Station ARP",
	1006: "Stationary RTK Reference Station ARP with Antenna Height",
	1007: "Antenna Descriptor",
	1008: "Antenna Descriptor and Serial Number",
	1012: "Extended L1&L2 GLONASS RTK Observables",
	1019: "GPS Ephemerides",
	1020: "GLONASS Ephemerides",
	1033: "Receiver and Antenna Descriptors",
	1042: "BeiDou Ephemerides",
	1045: "Galileo F/NAV Ephemerides",
	1046: "Galileo I/NAV Ephemerides",
	1074: "GPS MSM4 - Full Pseudoranges and PhaseRanges plus CNR",
	1077: "GPS MSM7 - Full Pseudoranges and PhaseRanges plus CNR",
	1084: "GLONASS MSM4 - Full Pseudoranges and PhaseRanges plus CNR",
	1087: "GLONASS MSM7 - Full Pseudoranges and PhaseRanges plus CNR",
	1094: "Galileo MSM4 - Full Pseudoranges and PhaseRanges plus CNR",
	1097: "Galileo MSM7 - Full Pseudoranges and PhaseRanges plus CNR",
	1124: "BeiDou MSM4 - Full Pseudoranges and PhaseRanges plus CNR",
	1127: "BeiDou MSM7 - Full Pseudoranges and PhaseRanges plus CNR",
	1230: "GLONASS L1 and L2 Code-Phase Biases",
	4072: "u-blox Proprietary (Reference Station PVT)",
}

// Describe returns a human-readable name for a message type.
func Describe(msgType int) string {
	if d, ok := descriptions[msgType]; ok {
		return d
	}
	return fmt.Sprintf("Unknown RTCM-%d", msgType)
}
