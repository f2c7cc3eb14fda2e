// Package ubx implements the u-blox UBX binary protocol: framing, checksums,
// typed payload decoders and the CFG messages used to configure ZED-F9x
// receivers.
package ubx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	Sync1 = 0xB5
	Sync2 = 0x62

	// HeaderLen covers sync, class, id and the 2-byte length.
	HeaderLen = 6
	// Overhead is header plus the 2-byte checksum.
	Overhead = HeaderLen + 2

	// MaxPayload bounds the declared length of inbound frames. The largest
	// message we enable (NAV-SAT with 255 satellites) is 3068 bytes.
	MaxPayload = 4096
)

// Message classes.
const (
	ClassNAV byte = 0x01
	ClassACK byte = 0x05
	ClassCFG byte = 0x06
	ClassMON byte = 0x0A
	ClassESF byte = 0x10
	ClassHNR byte = 0x28
)

// Message ids, grouped by class.
const (
	IDNavStatus   byte = 0x03
	IDNavPVT      byte = 0x07
	IDNavHPPOSLLH byte = 0x14
	IDNavSat      byte = 0x35
	IDNavCov      byte = 0x36

	IDAckNak byte = 0x00
	IDAckAck byte = 0x01

	IDCfgMsg    byte = 0x01
	IDCfgRst    byte = 0x04
	IDCfgRate   byte = 0x08
	IDCfgCfg    byte = 0x09
	IDCfgNav5   byte = 0x24
	IDCfgGNSS   byte = 0x3E
	IDCfgHNR    byte = 0x5C
	IDCfgValset byte = 0x8A

	IDMonVer byte = 0x04

	IDEsfStatus byte = 0x10
	IDEsfIns    byte = 0x15

	IDHnrPVT byte = 0x00
)

// ErrShortPayload is returned by decoders when the payload is shorter than
// the fixed part of the message.
var ErrShortPayload = errors.New("ubx: payload too short")

// Key identifies a message by class and id.
type Key struct {
	Class byte
	ID    byte
}

func (k Key) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("UBX-0x%02X-0x%02X", k.Class, k.ID)
}

var names = map[Key]string{
	{ClassNAV, IDNavStatus}:   "NAV-STATUS",
	{ClassNAV, IDNavPVT}:      "NAV-PVT",
	{ClassNAV, IDNavHPPOSLLH}: "NAV-HPPOSLLH",
	{ClassNAV, IDNavSat}:      "NAV-SAT",
	{ClassNAV, IDNavCov}:      "NAV-COV",
	{ClassACK, IDAckNak}:      "ACK-NAK",
	{ClassACK, IDAckAck}:      "ACK-ACK",
	{ClassCFG, IDCfgMsg}:      "CFG-MSG",
	{ClassCFG, IDCfgRst}:      "CFG-RST",
	{ClassCFG, IDCfgRate}:     "CFG-RATE",
	{ClassCFG, IDCfgCfg}:      "CFG-CFG",
	{ClassCFG, IDCfgNav5}:     "CFG-NAV5",
	{ClassCFG, IDCfgGNSS}:     "CFG-GNSS",
	{ClassCFG, IDCfgHNR}:      "CFG-HNR",
	{ClassCFG, IDCfgValset}:   "CFG-VALSET",
	{ClassMON, IDMonVer}:      "MON-VER",
	{ClassESF, IDEsfStatus}:   "ESF-STATUS",
	{ClassESF, IDEsfIns}:      "ESF-INS",
	{ClassHNR, IDHnrPVT}:      "HNR-PVT",
}

// Checksum computes the 8-bit Fletcher checksum over class, id, length and
// payload.
func Checksum(data []byte) (ckA, ckB byte) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// Encode builds a complete frame including sync bytes and checksum.
func Encode(class, id byte, payload []byte) []byte {
	out := make([]byte, 0, Overhead+len(payload))
	out = append(out, Sync1, Sync2, class, id)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	ckA, ckB := Checksum(out[2:])
	return append(out, ckA, ckB)
}

// Poll builds a zero-length poll request for class/id.
func Poll(class, id byte) []byte {
	return Encode(class, id, nil)
}

// VerifyFrame reports whether b is exactly one well-formed frame.
func VerifyFrame(b []byte) bool {
	if len(b) < Overhead || b[0] != Sync1 || b[1] != Sync2 {
		return false
	}
	n := int(binary.LittleEndian.Uint16(b[4:6]))
	if len(b) != Overhead+n {
		return false
	}
	ckA, ckB := Checksum(b[2 : HeaderLen+n])
	return ckA == b[HeaderLen+n] && ckB == b[HeaderLen+n+1]
}

func u16(b []byte, off int) uint16 { return binary.LittleEndian.Uint16(b[off:]) }
func u32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
func i16(b []byte, off int) int16  { return int16(u16(b, off)) }
func i32(b []byte, off int) int32  { return int32(u32(b, off)) }

func f32(b []byte, off int) float32 {
	return math.Float32frombits(u32(b, off))
}

func need(p []byte, n int, what string) error {
	if len(p) < n {
		return fmt.Errorf("%w: %s has %d bytes, want %d", ErrShortPayload, what, len(p), n)
	}
	return nil
}
