package gps

import (
	"fmt"

	"ublox-bridge/internal/ubx"
)

// Message is a decoded frame. Concrete types are the ubx records
// (ubx.NavPVT, ubx.NavHPPOSLLH, ubx.NavStatus, ubx.HNRPVT, ubx.ESFIns,
// ubx.ESFStatus, ubx.NavSat, ubx.NavCov, ubx.Ack, ubx.MonVer), the NMEA
// wrappers GGA and GSA, and the Unknown / UnknownSentence arms.
type Message interface {
	Identity() string
}

// Unknown is a valid UBX frame whose class/id has no decoder.
type Unknown struct {
	Class byte
	ID    byte
	Len   int
}

func (u Unknown) Identity() string { return ubx.Key{Class: u.Class, ID: u.ID}.String() }

// Decode maps a frame to its typed record. Errors are per-message and never
// fatal to the caller's loop.
func Decode(f Frame) (Message, error) {
	switch f.Protocol {
	case ProtoUBX:
		return decodeUBX(f)
	case ProtoNMEA:
		return decodeNMEA(f.Sentence)
	}
	return nil, fmt.Errorf("decode: unknown protocol %d", f.Protocol)
}

func decodeUBX(f Frame) (Message, error) {
	p := f.Payload
	switch (ubx.Key{Class: f.Class, ID: f.ID}) {
	case ubx.Key{Class: ubx.ClassNAV, ID: ubx.IDNavPVT}:
		return ubx.DecodeNavPVT(p)
	case ubx.Key{Class: ubx.ClassNAV, ID: ubx.IDNavHPPOSLLH}:
		return ubx.DecodeNavHPPOSLLH(p)
	case ubx.Key{Class: ubx.ClassNAV, ID: ubx.IDNavStatus}:
		return ubx.DecodeNavStatus(p)
	case ubx.Key{Class: ubx.ClassNAV, ID: ubx.IDNavSat}:
		return ubx.DecodeNavSat(p)
	case ubx.Key{Class: ubx.ClassNAV, ID: ubx.IDNavCov}:
		return ubx.DecodeNavCov(p)
	case ubx.Key{Class: ubx.ClassHNR, ID: ubx.IDHnrPVT}:
		return ubx.DecodeHNRPVT(p)
	case ubx.Key{Class: ubx.ClassESF, ID: ubx.IDEsfIns}:
		return ubx.DecodeESFIns(p)
	case ubx.Key{Class: ubx.ClassESF, ID: ubx.IDEsfStatus}:
		return ubx.DecodeESFStatus(p)
	case ubx.Key{Class: ubx.ClassACK, ID: ubx.IDAckAck}, ubx.Key{Class: ubx.ClassACK, ID: ubx.IDAckNak}:
		return ubx.DecodeAck(f.ID, p)
	case ubx.Key{Class: ubx.ClassMON, ID: ubx.IDMonVer}:
		return ubx.DecodeMonVer(p)
	}
	return Unknown{Class: f.Class, ID: f.ID, Len: len(p)}, nil
}
