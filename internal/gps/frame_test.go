package gps

import (
	"bytes"
	"strings"
	"testing"

	"ublox-bridge/internal/ubx"
)

func identities(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Identity())
	}
	return out
}

func mixedStream(t *testing.T) ([]byte, []string) {
	t.Helper()
	var b bytes.Buffer
	b.WriteString(nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,4,08,0.9,545.4,M,46.9,M,1.0,0000") + "\r\n")
	b.Write(pvtFrame(t, rtkFixedPVT()))
	b.Write(encodeMsg(t, ubx.ClassNAV, ubx.IDNavHPPOSLLH, ubx.NavHPPOSLLH{Lat: 481173000, Lon: 115166667}))
	b.WriteString(nmeaLine("GNGSA,A,3,02,05,12,15,,,,,,,,,1.8,0.9,1.5") + "\r\n")
	b.Write(ubx.Encode(ubx.ClassACK, ubx.IDAckAck, []byte{ubx.ClassCFG, ubx.IDCfgMsg}))
	return b.Bytes(), []string{"NMEA-GGA", "NAV-PVT", "NAV-HPPOSLLH", "NMEA-GSA", "ACK-ACK"}
}

func TestScanner_WholeStream(t *testing.T) {
	stream, want := mixedStream(t)
	s := NewScanner(0)
	got := identities(s.Feed(stream))
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v want %v", got, want)
	}
	if s.Buffered() != 0 {
		t.Fatalf("buffered=%d", s.Buffered())
	}
	st := s.Stats()
	if st.UBXFrames != 3 || st.NMEASentences != 2 || st.ChecksumErrors != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestScanner_EverySplitPoint(t *testing.T) {
	stream, want := mixedStream(t)
	for cut := 1; cut < len(stream); cut++ {
		s := NewScanner(0)
		got := identities(s.Feed(stream[:cut]))
		got = append(got, identities(s.Feed(stream[cut:]))...)
		if strings.Join(got, " ") != strings.Join(want, " ") {
			t.Fatalf("cut=%d: got %v want %v", cut, got, want)
		}
	}
}

func TestScanner_ByteAtATime(t *testing.T) {
	stream, want := mixedStream(t)
	s := NewScanner(0)
	var frames []Frame
	for i := range stream {
		frames = append(frames, s.Feed(stream[i:i+1])...)
	}
	if got := identities(frames); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("got %v want %v", got, want)
	}
	// Raw bytes of every frame concatenate back to the input.
	var joined []byte
	for _, f := range frames {
		joined = append(joined, f.Raw...)
	}
	if !bytes.Equal(joined, stream) {
		t.Fatalf("raw bytes do not reassemble the stream")
	}
}

func TestScanner_UBXFrameFields(t *testing.T) {
	raw := ubx.Encode(ubx.ClassACK, ubx.IDAckNak, []byte{ubx.ClassCFG, ubx.IDCfgRate})
	frames := NewScanner(0).Feed(raw)
	if len(frames) != 1 {
		t.Fatalf("frames=%d", len(frames))
	}
	f := frames[0]
	if f.Protocol != ProtoUBX || f.Class != ubx.ClassACK || f.ID != ubx.IDAckNak {
		t.Fatalf("frame=%+v", f)
	}
	if !bytes.Equal(f.Payload, []byte{ubx.ClassCFG, ubx.IDCfgRate}) {
		t.Fatalf("payload=% X", f.Payload)
	}
	want := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	if f.Checksum != want || f.Len() != len(raw) {
		t.Fatalf("checksum=%04X len=%d", f.Checksum, f.Len())
	}
}

func TestScanner_ResyncAfterChecksumError(t *testing.T) {
	bad := ubx.Encode(ubx.ClassNAV, ubx.IDNavPVT, make([]byte, 92))
	bad[len(bad)-1] ^= 0xFF
	good := ubx.Encode(ubx.ClassACK, ubx.IDAckAck, []byte{ubx.ClassCFG, ubx.IDCfgMsg})

	s := NewScanner(0)
	frames := s.Feed(append(bad, good...))
	if len(frames) != 1 || frames[0].Identity() != "ACK-ACK" {
		t.Fatalf("got %v", identities(frames))
	}
	if s.Stats().ChecksumErrors != 1 {
		t.Fatalf("checksum errors=%d", s.Stats().ChecksumErrors)
	}
}

func TestScanner_OversizedLengthRejected(t *testing.T) {
	junk := []byte{ubx.Sync1, ubx.Sync2, 0x01, 0x07, 0xFF, 0xFF}
	good := ubx.Encode(ubx.ClassACK, ubx.IDAckAck, []byte{ubx.ClassCFG, ubx.IDCfgMsg})

	s := NewScanner(0)
	frames := s.Feed(append(junk, good...))
	if len(frames) != 1 {
		t.Fatalf("got %v", identities(frames))
	}
	if s.Stats().Oversized != 1 {
		t.Fatalf("oversized=%d", s.Stats().Oversized)
	}
}

func TestScanner_SentenceInterruptedByUBX(t *testing.T) {
	good := ubx.Encode(ubx.ClassACK, ubx.IDAckAck, []byte{ubx.ClassCFG, ubx.IDCfgMsg})
	var b []byte
	b = append(b, "$GNGGA,1235"...)
	b = append(b, good...)
	b = append(b, "\r\n"...)

	frames := NewScanner(0).Feed(b)
	if len(frames) != 1 || frames[0].Protocol != ProtoUBX {
		t.Fatalf("got %v", identities(frames))
	}
}

func TestScanner_SentenceRestartedByDollar(t *testing.T) {
	line := nmeaLine("GNGSA,A,3,02,05,12,15,,,,,,,,,1.8,0.9,1.5")
	frames := NewScanner(0).Feed([]byte("$GNGGA,12" + line + "\r\n"))
	if len(frames) != 1 || frames[0].Sentence != line {
		t.Fatalf("got %+v", frames)
	}
}

func TestScanner_OverlongSentenceRejected(t *testing.T) {
	long := "$GPTXT," + strings.Repeat("x", 400) + "\r\n"
	line := nmeaLine("GNGSA,A,3,02,05,12,15,,,,,,,,,1.8,0.9,1.5")
	frames := NewScanner(0).Feed([]byte(long + line + "\r\n"))
	if len(frames) != 1 || frames[0].Sentence != line {
		t.Fatalf("got %v", identities(frames))
	}
}

func TestScanner_NonASCIIReplaced(t *testing.T) {
	frames := NewScanner(0).Feed([]byte("$GPTXT,\xffok*00\r\n"))
	if len(frames) != 1 {
		t.Fatalf("frames=%d", len(frames))
	}
	if frames[0].Sentence != "$GPTXT,\uFFFDok*00" {
		t.Fatalf("sentence=%q", frames[0].Sentence)
	}
}

func TestScanner_KeepsTrailingSyncByte(t *testing.T) {
	good := ubx.Encode(ubx.ClassACK, ubx.IDAckAck, []byte{ubx.ClassCFG, ubx.IDCfgMsg})
	s := NewScanner(0)
	if frames := s.Feed(append([]byte("noise"), good[0])); len(frames) != 0 {
		t.Fatalf("unexpected frames")
	}
	if s.Buffered() != 1 {
		t.Fatalf("buffered=%d", s.Buffered())
	}
	frames := s.Feed(good[1:])
	if len(frames) != 1 || frames[0].Identity() != "ACK-ACK" {
		t.Fatalf("got %v", identities(frames))
	}
}

func TestScanner_BoundedBuffer(t *testing.T) {
	s := NewScanner(64)
	// A header that announces a large payload never completes here.
	head := []byte{ubx.Sync1, ubx.Sync2, 0x01, 0x07, 0xA0, 0x0F}
	s.Feed(append(head, make([]byte, 100)...))
	if s.Buffered() > 64 {
		t.Fatalf("buffered=%d exceeds bound", s.Buffered())
	}
	if s.Stats().Truncations != 1 {
		t.Fatalf("truncations=%d", s.Stats().Truncations)
	}

	good := ubx.Encode(ubx.ClassACK, ubx.IDAckAck, []byte{ubx.ClassCFG, ubx.IDCfgMsg})
	frames := s.Feed(good)
	if len(frames) != 1 {
		t.Fatalf("scanner did not recover: %v", identities(frames))
	}
}
