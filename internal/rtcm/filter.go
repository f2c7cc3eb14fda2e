package rtcm

import (
	"bytes"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var debugLogging atomic.Bool

// SetDebug enables per-message debug logging.
func SetDebug(on bool) { debugLogging.Store(on) }

func debugf(format string, args ...any) {
	if debugLogging.Load() {
		log.Printf("rtcm: "+format, args...)
	}
}

const (
	DefaultMaxAge = 30 * time.Second
	rateWindow    = 10 * time.Second
)

type Config struct {
	// Filtering drops valid messages whose type is not in Allowlist.
	Filtering bool
	// Validation rejects out-of-range types and messages older than MaxAge.
	Validation bool
	// CRCCheck verifies the CRC-24Q of every frame before parsing it.
	CRCCheck bool

	Allowlist []int
	MaxAge    time.Duration

	Now func() time.Time
}

// DefaultConfig enables filtering, validation and CRC checks with the
// default allowlist.
func DefaultConfig() Config {
	return Config{
		Filtering:  true,
		Validation: true,
		CRCCheck:   true,
		Allowlist:  append([]int(nil), DefaultAllowlist...),
		MaxAge:     DefaultMaxAge,
	}
}

// Statistics describes the stream since construction or the last reset.
// Total is always Valid + Invalid + Filtered.
type Statistics struct {
	Total    uint64 `json:"total_messages"`
	Valid    uint64 `json:"valid_messages"`
	Invalid  uint64 `json:"invalid_messages"`
	Filtered uint64 `json:"filtered_messages"`

	CRCErrors      uint64 `json:"crc_errors"`
	Malformed      uint64 `json:"malformed_headers"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
	ForwardedBytes uint64 `json:"forwarded_bytes"`

	// MessageCounts counts forwarded messages per type; SeenTypes counts
	// every parsed message per type.
	MessageCounts map[int]uint64 `json:"message_counts"`
	SeenTypes     map[int]uint64 `json:"seen_types"`

	LastMessage time.Time `json:"last_message_time"`
	DataRateBPS float64   `json:"data_rate_bps"`
}

func (s Statistics) clone() Statistics {
	out := s
	out.MessageCounts = make(map[int]uint64, len(s.MessageCounts))
	for k, v := range s.MessageCounts {
		out.MessageCounts[k] = v
	}
	out.SeenTypes = make(map[int]uint64, len(s.SeenTypes))
	for k, v := range s.SeenTypes {
		out.SeenTypes[k] = v
	}
	return out
}

type rateSample struct {
	at    time.Time
	bytes int
}

// Filter is the correction stream filter. Process carries incomplete frames
// over to the next call. All methods are safe for concurrent use.
type Filter struct {
	cfg     Config
	allowed map[int]bool

	mu    sync.Mutex
	buf   []byte
	stats Statistics
	rate  []rateSample
}

func NewFilter(cfg Config) *Filter {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.Allowlist == nil {
		cfg.Allowlist = append([]int(nil), DefaultAllowlist...)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	f := &Filter{cfg: cfg, allowed: make(map[int]bool, len(cfg.Allowlist))}
	for _, t := range cfg.Allowlist {
		f.allowed[t] = true
	}
	f.stats = newStatistics()
	if cfg.Filtering {
		log.Printf("rtcm: filtering enabled for message types %v", f.Allowlist())
	}
	return f
}

func newStatistics() Statistics {
	return Statistics{MessageCounts: make(map[int]uint64), SeenTypes: make(map[int]uint64)}
}

// Allowlist returns the configured message types in ascending order.
func (f *Filter) Allowlist() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.allowed))
	for t := range f.allowed {
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

// SetAllowlist replaces the filtering switch and allowlist. Frames already
// carried over are judged by the new list.
func (f *Filter) SetAllowlist(filtering bool, types []int) {
	allowed := make(map[int]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	f.mu.Lock()
	f.cfg.Filtering = filtering
	f.cfg.Allowlist = append([]int(nil), types...)
	f.allowed = allowed
	f.mu.Unlock()
	if filtering {
		log.Printf("rtcm: filtering enabled for message types %v", f.Allowlist())
	} else {
		log.Printf("rtcm: filtering disabled")
	}
}

// Process is ProcessAt with the current time.
func (f *Filter) Process(data []byte) ([]byte, Statistics) {
	return f.ProcessAt(data, f.cfg.Now())
}

// ProcessAt parses data that arrived at receivedAt and returns the frames
// that passed, in stream order, with a copy of the statistics.
func (f *Filter) ProcessAt(data []byte, receivedAt time.Time) ([]byte, Statistics) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return nil, f.stats.clone()
	}
	f.buf = append(f.buf, data...)

	var out []byte
	parsed := 0
	r := 0
	for len(f.buf)-r >= HeaderLen {
		b := f.buf[r:]
		i := bytes.IndexByte(b, Preamble)
		if i < 0 {
			f.stats.DiscardedBytes += uint64(len(b))
			r = len(f.buf)
			break
		}
		if i > 0 {
			f.stats.DiscardedBytes += uint64(i)
			r += i
			continue
		}
		if b[1]&0xFC != 0 {
			// Reserved bits must be zero.
			f.stats.Malformed++
			f.stats.DiscardedBytes++
			r++
			continue
		}
		n := int(b[1]&0x03)<<8 | int(b[2])
		total := HeaderLen + n + CRCLen
		if len(b) < total {
			break
		}
		crc := uint32(b[HeaderLen+n])<<16 | uint32(b[HeaderLen+n+1])<<8 | uint32(b[HeaderLen+n+2])
		if f.cfg.CRCCheck && CRC24Q(b[:HeaderLen+n]) != crc {
			f.stats.CRCErrors++
			f.stats.DiscardedBytes++
			r++
			continue
		}
		if n < 2 {
			// Too short to carry a message type.
			f.stats.Malformed++
			f.stats.DiscardedBytes++
			r++
			continue
		}

		m := Message{
			Type:       messageType(b[HeaderLen:]),
			Payload:    append([]byte(nil), b[HeaderLen:HeaderLen+n]...),
			CRC:        crc,
			ReceivedAt: receivedAt,
		}
		if n >= 3 {
			m.StationID = stationID(b[HeaderLen:])
			m.HasStation = true
		}
		r += total
		parsed++
		if frame, ok := f.accept(m); ok {
			out = append(out, frame...)
		}
	}

	if r > 0 {
		k := copy(f.buf, f.buf[r:])
		f.buf = f.buf[:k]
	}

	if parsed > 0 {
		f.stats.LastMessage = receivedAt
		f.updateRate(receivedAt, len(data))
	}
	return out, f.stats.clone()
}

func (f *Filter) accept(m Message) ([]byte, bool) {
	f.stats.Total++
	f.stats.SeenTypes[m.Type]++

	if f.cfg.Validation {
		if reason := f.invalid(m); reason != "" {
			f.stats.Invalid++
			debugf("invalid RTCM-%d: %s", m.Type, reason)
			return nil, false
		}
	}
	if f.cfg.Filtering && !f.allowed[m.Type] {
		f.stats.Filtered++
		debugf("filtered RTCM-%d", m.Type)
		return nil, false
	}

	frame := m.Frame()
	f.stats.Valid++
	f.stats.MessageCounts[m.Type]++
	f.stats.ForwardedBytes += uint64(len(frame))
	debugf("passed RTCM-%d (%d bytes)", m.Type, m.Len())
	return frame, true
}

func (f *Filter) invalid(m Message) string {
	switch {
	case m.Type < MinType || m.Type > MaxType:
		return "type out of range"
	case m.Len() > MaxPayload:
		return "length out of range"
	case f.cfg.Now().Sub(m.ReceivedAt) > f.cfg.MaxAge:
		return "too old"
	}
	return ""
}

// updateRate keeps samples inside the trailing window and derives bits per
// second from them. A single sample leaves the previous rate in place.
func (f *Filter) updateRate(now time.Time, n int) {
	f.rate = append(f.rate, rateSample{at: now, bytes: n})
	cutoff := now.Add(-rateWindow)
	keep := f.rate[:0]
	for _, s := range f.rate {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	f.rate = keep
	if len(f.rate) < 2 {
		return
	}
	span := f.rate[len(f.rate)-1].at.Sub(f.rate[0].at).Seconds()
	if span <= 0 {
		return
	}
	total := 0
	for _, s := range f.rate {
		total += s.bytes
	}
	f.stats.DataRateBPS = float64(total*8) / span
}

// Statistics returns a copy of the current statistics.
func (f *Filter) Statistics() Statistics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats.clone()
}

// Buffered is the number of bytes carried over to the next call.
func (f *Filter) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// ResetStatistics zeroes every counter and the data-rate window. Carried
// over bytes are kept.
func (f *Filter) ResetStatistics() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = newStatistics()
	f.rate = nil
	log.Printf("rtcm: statistics reset")
}

// TypeCount is one row of Summary.TopTypes.
type TypeCount struct {
	Type        int    `json:"type"`
	Count       uint64 `json:"count"`
	Description string `json:"description"`
}

type Summary struct {
	Statistics
	SuccessRate  float64     `json:"success_rate"`
	FilterRate   float64     `json:"filter_rate"`
	DataRateKbps float64     `json:"data_rate_kbps"`
	TopTypes     []TypeCount `json:"top_types"`
	Allowlist    []int       `json:"filtered_message_types"`
	Supported    []int       `json:"supported_messages"`
}

// Summary adds derived rates and the most frequent forwarded types.
func (f *Filter) Summary() Summary {
	st := f.Statistics()
	s := Summary{
		Statistics:   st,
		DataRateKbps: st.DataRateBPS / 1000,
		Allowlist:    f.Allowlist(),
		Supported:    append([]int(nil), DefaultAllowlist...),
	}
	if st.Total > 0 {
		s.SuccessRate = float64(st.Valid) / float64(st.Total) * 100
		s.FilterRate = float64(st.Filtered) / float64(st.Total) * 100
	}
	for t, c := range st.MessageCounts {
		s.TopTypes = append(s.TopTypes, TypeCount{Type: t, Count: c, Description: Describe(t)})
	}
	sort.Slice(s.TopTypes, func(i, j int) bool {
		if s.TopTypes[i].Count != s.TopTypes[j].Count {
			return s.TopTypes[i].Count > s.TopTypes[j].Count
		}
		return s.TopTypes[i].Type < s.TopTypes[j].Type
	})
	if len(s.TopTypes) > 10 {
		s.TopTypes = s.TopTypes[:10]
	}
	return s
}
