package gps

import (
	"bytes"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"ublox-bridge/internal/ubx"
)

// Protocol tags a Frame with the wire protocol it was framed from.
type Protocol uint8

const (
	ProtoUBX Protocol = iota + 1
	ProtoNMEA
)

func (p Protocol) String() string {
	switch p {
	case ProtoUBX:
		return "ubx"
	case ProtoNMEA:
		return "nmea"
	}
	return "unknown"
}

// Frame is one complete protocol unit. UBX frames carry class, id, payload
// and checksum; NMEA frames carry the sentence text without CR/LF.
type Frame struct {
	Protocol Protocol
	Class    byte
	ID       byte
	Payload  []byte
	Checksum uint16 // ckA | ckB<<8
	Sentence string
	Raw      []byte
}

// Identity is the class/id name for UBX frames and "NMEA-<type>" otherwise.
func (f Frame) Identity() string {
	if f.Protocol == ProtoUBX {
		return ubx.Key{Class: f.Class, ID: f.ID}.String()
	}
	if _, typ, ok := sentenceType(f.Sentence); ok {
		return "NMEA-" + typ
	}
	return "NMEA"
}

// Len is the number of wire bytes the frame occupied.
func (f Frame) Len() int { return len(f.Raw) }

const (
	// DefaultMaxBuffer bounds the carry-over buffer of a Scanner.
	DefaultMaxBuffer = 8 * 1024

	// maxSentence bounds an NMEA line including '$' and CR/LF. Standard
	// sentences are 82 bytes; u-blox proprietary ones run longer.
	maxSentence = 256
)

// ScanStats counts Scanner activity. Values only grow.
type ScanStats struct {
	Bytes          uint64 `json:"bytes"`
	UBXFrames      uint64 `json:"ubx_frames"`
	NMEASentences  uint64 `json:"nmea_sentences"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Oversized      uint64 `json:"oversized"`
	Discarded      uint64 `json:"discarded_bytes"`
	Truncations    uint64 `json:"truncations"`
}

type scanCounters struct {
	bytes, ubx, nmea, checksum, oversized, discarded, truncations atomic.Uint64
}

// Scanner splits an interleaved UBX/NMEA byte stream into frames. Feed is
// not safe for concurrent use; Stats may be called from any goroutine.
type Scanner struct {
	buf []byte
	r   int
	max int

	c scanCounters
}

func NewScanner(maxBuffer int) *Scanner {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Scanner{max: maxBuffer, buf: make([]byte, 0, 1024)}
}

func (s *Scanner) Stats() ScanStats {
	return ScanStats{
		Bytes:          s.c.bytes.Load(),
		UBXFrames:      s.c.ubx.Load(),
		NMEASentences:  s.c.nmea.Load(),
		ChecksumErrors: s.c.checksum.Load(),
		Oversized:      s.c.oversized.Load(),
		Discarded:      s.c.discarded.Load(),
		Truncations:    s.c.truncations.Load(),
	}
}

// Buffered returns the number of bytes held for the next Feed.
func (s *Scanner) Buffered() int { return len(s.buf) - s.r }

// Feed appends p and returns every frame completed by it, in stream order.
// Incomplete candidates stay buffered.
func (s *Scanner) Feed(p []byte) []Frame {
	s.c.bytes.Add(uint64(len(p)))
	s.buf = append(s.buf, p...)

	var out []Frame
	for {
		f, ok := s.next()
		if !ok {
			break
		}
		out = append(out, f)
	}

	if s.r > 0 {
		n := copy(s.buf, s.buf[s.r:])
		s.buf = s.buf[:n]
		s.r = 0
	}
	if len(s.buf) > s.max {
		keep := s.max / 8
		s.c.truncations.Add(1)
		s.c.discarded.Add(uint64(len(s.buf) - keep))
		n := copy(s.buf, s.buf[len(s.buf)-keep:])
		s.buf = s.buf[:n]
	}
	return out
}

type scanResult int

const (
	scanNeedMore scanResult = iota
	scanFrame
	scanReject
)

var ubxSync = []byte{ubx.Sync1, ubx.Sync2}

func (s *Scanner) next() (Frame, bool) {
	for {
		b := s.buf[s.r:]
		iu := bytes.Index(b, ubxSync)
		in := bytes.IndexByte(b, '$')

		start := -1
		switch {
		case iu >= 0 && in >= 0:
			start = min(iu, in)
		case iu >= 0:
			start = iu
		case in >= 0:
			start = in
		}
		if start < 0 {
			// Keep a trailing first sync byte; its partner may be in the next read.
			keep := 0
			if len(b) > 0 && b[len(b)-1] == ubx.Sync1 {
				keep = 1
			}
			s.skip(len(b) - keep)
			return Frame{}, false
		}
		if start > 0 {
			s.skip(start)
			continue
		}

		var (
			f   Frame
			res scanResult
		)
		if s.buf[s.r] == ubx.Sync1 {
			f, res = s.scanUBX()
		} else {
			f, res = s.scanNMEA()
		}
		switch res {
		case scanFrame:
			return f, true
		case scanNeedMore:
			return Frame{}, false
		}
	}
}

func (s *Scanner) skip(n int) {
	if n <= 0 {
		return
	}
	s.r += n
	s.c.discarded.Add(uint64(n))
}

func (s *Scanner) scanUBX() (Frame, scanResult) {
	b := s.buf[s.r:]
	if len(b) < ubx.HeaderLen {
		return Frame{}, scanNeedMore
	}
	n := int(binary.LittleEndian.Uint16(b[4:6]))
	if n > ubx.MaxPayload {
		s.c.oversized.Add(1)
		s.skip(2)
		return Frame{}, scanReject
	}
	total := ubx.Overhead + n
	if len(b) < total {
		return Frame{}, scanNeedMore
	}
	ckA, ckB := ubx.Checksum(b[2 : ubx.HeaderLen+n])
	if ckA != b[ubx.HeaderLen+n] || ckB != b[ubx.HeaderLen+n+1] {
		s.c.checksum.Add(1)
		s.skip(2)
		return Frame{}, scanReject
	}

	raw := append([]byte(nil), b[:total]...)
	s.r += total
	s.c.ubx.Add(1)
	return Frame{
		Protocol: ProtoUBX,
		Class:    raw[2],
		ID:       raw[3],
		Payload:  raw[ubx.HeaderLen : ubx.HeaderLen+n],
		Checksum: uint16(ckA) | uint16(ckB)<<8,
		Raw:      raw,
	}, scanFrame
}

func (s *Scanner) scanNMEA() (Frame, scanResult) {
	b := s.buf[s.r:]
	end := -1
	for i := 1; i < len(b) && i < maxSentence; i++ {
		if b[i] == '\n' {
			end = i
			break
		}
		if b[i] == '$' || (b[i] == ubx.Sync1 && i+1 < len(b) && b[i+1] == ubx.Sync2) {
			// Another frame started before this line terminated.
			s.skip(1)
			return Frame{}, scanReject
		}
	}
	if end < 0 {
		if len(b) >= maxSentence {
			s.skip(1)
			return Frame{}, scanReject
		}
		return Frame{}, scanNeedMore
	}

	raw := append([]byte(nil), b[:end+1]...)
	s.r += end + 1
	s.c.nmea.Add(1)
	return Frame{
		Protocol: ProtoNMEA,
		Sentence: asciiString(bytes.TrimRight(raw, "\r\n")),
		Raw:      raw,
	}, scanFrame
}

// asciiString decodes b as ASCII, replacing any byte outside it.
func asciiString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
		} else {
			sb.WriteRune(utf8.RuneError)
		}
	}
	return sb.String()
}
