package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sleeper waits between records. Tests substitute a recorder.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play invokes cb for each chunk, honouring the recorded gaps scaled by
// speed (2.0 halves every wait). START markers reset the origin.
func Play(ctx context.Context, records []Record, speed float64, loop bool, sleeper Sleeper, cb func(chunk []byte) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}

	for {
		var (
			origin, lastAt time.Duration
			haveLast       bool
		)
		for _, r := range records {
			if r.Chunk == nil {
				origin, lastAt, haveLast = r.At, 0, false
				continue
			}
			at := max(r.At-origin, 0)
			if haveLast {
				if wait := time.Duration(float64(max(at-lastAt, 0)) / speed); wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}
			if err := cb(r.Chunk); err != nil {
				return err
			}
			lastAt, haveLast = at, true
		}
		if !loop {
			return nil
		}
	}
}

// Source is an io.Reader over captured chunks. Each Read returns at most one
// chunk, so framing sees the same read boundaries as the live port did.
// Timing is not reproduced; use Play for that.
type Source struct {
	records []Record
	i       int
	rest    []byte
}

func NewSource(records []Record) *Source {
	return &Source{records: records}
}

func (s *Source) Read(p []byte) (int, error) {
	for len(s.rest) == 0 {
		if s.i >= len(s.records) {
			return 0, io.EOF
		}
		s.rest = s.records[s.i].Chunk
		s.i++
	}
	n := copy(p, s.rest)
	s.rest = s.rest[n:]
	return n, nil
}
