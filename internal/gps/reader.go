package gps

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Liveness is the receiver data-flow state seen by a FrameReader.
type Liveness int

const (
	LivenessOK Liveness = iota
	// LivenessStale means no bytes arrived for ReaderConfig.StaleAfter.
	LivenessStale
	// LivenessPoll means the silence passed ReaderConfig.PollAfter; the
	// owner should poke the receiver. It repeats every PollAfter.
	LivenessPoll
)

func (l Liveness) String() string {
	switch l {
	case LivenessOK:
		return "ok"
	case LivenessStale:
		return "stale"
	case LivenessPoll:
		return "poll"
	}
	return "unknown"
}

type ReaderConfig struct {
	// ReadSize is the size of each read call. Default 1024.
	ReadSize int
	// MaxBuffer bounds the scanner carry-over. Default DefaultMaxBuffer.
	MaxBuffer int

	// IdleBackoff is the first pause after an empty read; it doubles up to
	// MaxIdleBackoff. Defaults 5ms and 100ms.
	IdleBackoff    time.Duration
	MaxIdleBackoff time.Duration

	// StaleAfter and PollAfter are the liveness thresholds. Defaults 10s and 30s.
	StaleAfter time.Duration
	PollAfter  time.Duration

	// StopOnEOF ends the sequence at io.EOF. Serial ports report an expired
	// VTIME read as EOF, so live sources leave this false.
	StopOnEOF bool

	OnLiveness func(state Liveness, silence time.Duration)
	// OnChunk sees every non-empty read before framing.
	OnChunk func(b []byte)

	Now func() time.Time
}

func (c *ReaderConfig) withDefaults() {
	if c.ReadSize <= 0 {
		c.ReadSize = 1024
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 5 * time.Millisecond
	}
	if c.MaxIdleBackoff <= 0 {
		c.MaxIdleBackoff = 100 * time.Millisecond
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Second
	}
	if c.PollAfter <= 0 {
		c.PollAfter = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// FrameReader turns a byte source into a sequence of frames. Successive Next
// calls walk the sequence; it cannot be rewound.
type FrameReader struct {
	src  io.Reader
	cfg  ReaderConfig
	scan *Scanner
	rbuf []byte

	pending []Frame

	lastData time.Time
	lastPoll time.Time
	liveness Liveness
	backoff  time.Duration
}

func NewFrameReader(src io.Reader, cfg ReaderConfig) *FrameReader {
	cfg.withDefaults()
	return &FrameReader{
		src:      src,
		cfg:      cfg,
		scan:     NewScanner(cfg.MaxBuffer),
		rbuf:     make([]byte, cfg.ReadSize),
		lastData: cfg.Now(),
		backoff:  cfg.IdleBackoff,
	}
}

// Scanner exposes framing statistics.
func (r *FrameReader) Scanner() *Scanner { return r.scan }

// Next returns the next complete frame. It returns ctx.Err() once ctx is
// done, io.EOF when StopOnEOF is set and the source is exhausted, and a
// *ConnectionError for any other read failure.
func (r *FrameReader) Next(ctx context.Context) (Frame, error) {
	for {
		if len(r.pending) > 0 {
			f := r.pending[0]
			r.pending = r.pending[1:]
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		n, err := r.src.Read(r.rbuf)
		now := r.cfg.Now()
		if n > 0 {
			r.gotData(now)
			chunk := r.rbuf[:n]
			if r.cfg.OnChunk != nil {
				r.cfg.OnChunk(chunk)
			}
			r.pending = append(r.pending[:0], r.scan.Feed(chunk)...)
			continue
		}
		if err != nil && !r.idleError(err) {
			if errors.Is(err, io.EOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, &ConnectionError{Op: "read", Err: err}
		}

		r.checkLiveness(now)
		if err := r.sleep(ctx); err != nil {
			return Frame{}, err
		}
	}
}

func (r *FrameReader) idleError(err error) bool {
	if errors.Is(err, io.EOF) {
		return !r.cfg.StopOnEOF
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (r *FrameReader) gotData(now time.Time) {
	r.lastData = now
	r.backoff = r.cfg.IdleBackoff
	if r.liveness != LivenessOK {
		r.setLiveness(LivenessOK, 0)
	}
}

func (r *FrameReader) checkLiveness(now time.Time) {
	silence := now.Sub(r.lastData)
	switch {
	case silence >= r.cfg.PollAfter:
		if r.liveness != LivenessPoll || now.Sub(r.lastPoll) >= r.cfg.PollAfter {
			r.lastPoll = now
			r.setLiveness(LivenessPoll, silence)
		}
	case silence >= r.cfg.StaleAfter:
		if r.liveness == LivenessOK {
			r.setLiveness(LivenessStale, silence)
		}
	}
}

func (r *FrameReader) setLiveness(l Liveness, silence time.Duration) {
	r.liveness = l
	if r.cfg.OnLiveness != nil {
		r.cfg.OnLiveness(l, silence)
	}
}

func (r *FrameReader) sleep(ctx context.Context) error {
	d := r.backoff
	if r.backoff < r.cfg.MaxIdleBackoff {
		r.backoff *= 2
		if r.backoff > r.cfg.MaxIdleBackoff {
			r.backoff = r.cfg.MaxIdleBackoff
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
