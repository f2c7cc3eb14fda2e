package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ublox-bridge/internal/replay"
	"ublox-bridge/internal/ubx"
)

// Config controls the receiver service.
type Config struct {
	Device string
	Baud   int

	// Configure runs the Configurator before telemetry is consumed.
	Configure    bool
	Configurator ConfiguratorOptions

	Reader ReaderConfig

	// RecordPath, when set, captures every raw read for later replay.
	RecordPath string

	// Open replaces OpenSerial, for replay sources and tests.
	Open func(device string, baud int) (io.ReadWriteCloser, error)
}

// Status is a diagnostic snapshot. Reading it never blocks the read loop
// for longer than a counter update.
type Status struct {
	SessionID string `json:"session_id"`
	Device    string `json:"device"`
	Baud      int    `json:"baud"`
	State     string `json:"state"`
	Liveness  string `json:"liveness"`

	StartedUTC  string  `json:"started_utc,omitempty"`
	LastDataUTC string  `json:"last_data_utc,omitempty"`
	DataAgeSec  float64 `json:"data_age_sec,omitempty"`

	Scan             ScanStats         `json:"scan"`
	Messages         map[string]uint64 `json:"messages"`
	DecodeErrors     uint64            `json:"decode_errors"`
	ValidationErrors uint64            `json:"validation_errors"`
	Unknown          uint64            `json:"unknown"`
	Polls            uint64            `json:"polls"`

	Configurator ConfiguratorStats `json:"configurator"`

	CorrectionBytes  uint64 `json:"correction_bytes"`
	CorrectionWrites uint64 `json:"correction_writes"`

	LastError string `json:"last_error,omitempty"`
}

// Service owns the serial port: it configures the receiver, runs the read
// loop, and accepts correction data for the same outbound channel.
type Service struct {
	cfg   Config
	id    string
	store *Store
	out   *frameWriter

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	cfgr    *Configurator
	scan    *Scanner
	fatal   error
	started time.Time

	statsMu        sync.Mutex
	messages       map[string]uint64
	liveness       Liveness
	lastData       time.Time
	lastErr        string
	decodeErrs     uint64
	validationErrs uint64
	unknown        uint64

	polls      atomic.Uint64
	corrBytes  atomic.Uint64
	corrWrites atomic.Uint64
}

func New(cfg Config) *Service {
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 38400
	}
	s := &Service{
		cfg:      cfg,
		id:       uuid.NewString(),
		store:    NewStore(),
		out:      &frameWriter{},
		messages: make(map[string]uint64),
	}
	s.cfgr = NewConfigurator(s.out, cfg.Configurator)
	return s
}

// Store returns the receiver state store. It outlives reconnects.
func (s *Service) Store() *Store { return s.store }

func (s *Service) Snapshot() Snapshot { return s.store.Snapshot() }

// Start opens the port and launches the configure-then-read task. A failed
// open is returned as *ConnectionError. Start may be called again once Done
// is closed.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	device := strings.TrimSpace(s.cfg.Device)
	baud := s.cfg.Baud

	s.cfgr = NewConfigurator(s.out, s.cfg.Configurator)
	s.fatal = nil

	port, err := s.cfg.Open(device, baud)
	if err != nil {
		cerr := &ConnectionError{Op: "open", Device: device, Err: err}
		s.cfgr.Fail(cerr)
		s.setError(cerr.Error())
		return cerr
	}
	s.out.attach(port)
	s.cfgr.SetConnected()

	var rec *replay.Writer
	if p := strings.TrimSpace(s.cfg.RecordPath); p != "" {
		rec, err = replay.CreateWriter(p)
		if err != nil {
			log.Printf("gps: capture disabled: %v", err)
			rec = nil
		}
	}

	rcfg := s.cfg.Reader
	userChunk := rcfg.OnChunk
	rcfg.OnChunk = func(b []byte) {
		if rec != nil {
			if err := rec.WriteChunk(time.Now(), b); err != nil {
				log.Printf("gps: capture write failed: %v", err)
				rec = nil
			}
		}
		if userChunk != nil {
			userChunk(b)
		}
	}
	userLive := rcfg.OnLiveness
	rcfg.OnLiveness = func(l Liveness, silence time.Duration) {
		s.onLiveness(l, silence)
		if userLive != nil {
			userLive(l, silence)
		}
	}
	reader := NewFrameReader(port, rcfg)
	s.scan = reader.Scanner()

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = time.Now()
	done := s.done
	cfgr := s.cfgr

	handler := NewHandler(s.store)
	handler.OnAck = cfgr.HandleAck

	log.Printf("gps: opened device=%s baud=%d session=%s", device, baud, s.id)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer func() {
			// The loop has exited; nothing reads from port anymore.
			s.out.detach()
			_ = port.Close()
			if rec != nil {
				_ = rec.Close()
			}
			s.mu.Lock()
			s.cancel = nil
			s.mu.Unlock()
			cancel()
		}()
		s.run(childCtx, cfgr, reader, handler)
	}()
	return nil
}

func (s *Service) run(ctx context.Context, cfgr *Configurator, reader *FrameReader, handler *Handler) {
	if s.cfg.Configure {
		if err := cfgr.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(err)
			return
		}
	} else {
		cfgr.MarkReady()
	}

	for {
		f, err := reader.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				log.Printf("gps: source exhausted")
			default:
				s.fail(err)
			}
			return
		}
		s.handleFrame(handler, f, time.Now())
	}
}

func (s *Service) handleFrame(h *Handler, f Frame, now time.Time) {
	msg, err := Decode(f)
	if err != nil {
		s.statsMu.Lock()
		s.decodeErrs++
		s.lastErr = fmt.Sprintf("decode %s: %v", f.Identity(), err)
		s.statsMu.Unlock()
		debugf("decode %s failed: %v", f.Identity(), err)
		return
	}

	s.statsMu.Lock()
	s.lastData = now
	s.messages[msg.Identity()]++
	switch msg.(type) {
	case Unknown, UnknownSentence:
		s.unknown++
	}
	s.statsMu.Unlock()

	if err := h.Apply(msg, now); err != nil {
		var verr *DataValidationError
		s.statsMu.Lock()
		if errors.As(err, &verr) {
			s.validationErrs++
		}
		s.lastErr = err.Error()
		s.statsMu.Unlock()
		debugf("dropped %s: %v", msg.Identity(), err)
	}
}

func (s *Service) onLiveness(l Liveness, silence time.Duration) {
	s.statsMu.Lock()
	s.liveness = l
	s.statsMu.Unlock()

	switch l {
	case LivenessOK:
		log.Printf("gps: data flowing again")
	case LivenessStale:
		log.Printf("gps: no data for %s", silence.Round(time.Second))
	case LivenessPoll:
		log.Printf("gps: no data for %s, polling NAV-PVT", silence.Round(time.Second))
		if _, err := s.out.Write(ubx.Poll(ubx.ClassNAV, ubx.IDNavPVT)); err != nil {
			log.Printf("gps: poll failed: %v", err)
			return
		}
		s.polls.Add(1)
	}
}

func (s *Service) fail(err error) {
	log.Printf("gps: stopped: %v", err)
	s.mu.Lock()
	s.fatal = err
	cfgr := s.cfgr
	s.mu.Unlock()
	cfgr.Fail(err)
	s.setError(err.Error())
}

// WriteCorrections forwards correction bytes to the receiver. Writes never
// interleave with configuration frames. A failed write is a lost connection.
func (s *Service) WriteCorrections(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if _, err := s.out.Write(b); err != nil {
		if errors.Is(err, errNotConnected) {
			return err
		}
		cerr := &ConnectionError{Op: "write", Device: s.cfg.Device, Err: err}
		s.fail(cerr)
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return cerr
	}
	s.corrBytes.Add(uint64(len(b)))
	s.corrWrites.Add(1)
	return nil
}

// Done is closed when the current run ends. It is nil before Start.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err is the fatal error that ended the last run, if any.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Close cancels the run and waits for the read task to exit. The task
// closes the port itself after it has stopped reading.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) Status() Status {
	s.mu.Lock()
	cfgr := s.cfgr
	scan := s.scan
	started := s.started
	s.mu.Unlock()

	st := Status{
		SessionID:        s.id,
		Device:           s.cfg.Device,
		Baud:             s.cfg.Baud,
		Polls:            s.polls.Load(),
		CorrectionBytes:  s.corrBytes.Load(),
		CorrectionWrites: s.corrWrites.Load(),
	}
	if cfgr != nil {
		st.Configurator = cfgr.Stats()
		st.State = st.Configurator.State
	}
	if scan != nil {
		st.Scan = scan.Stats()
	}
	if !started.IsZero() {
		st.StartedUTC = started.UTC().Format(time.RFC3339)
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st.Liveness = s.liveness.String()
	st.Messages = make(map[string]uint64, len(s.messages))
	for k, v := range s.messages {
		st.Messages[k] = v
	}
	st.DecodeErrors = s.decodeErrs
	st.ValidationErrors = s.validationErrs
	st.Unknown = s.unknown
	st.LastError = s.lastErr
	if !s.lastData.IsZero() {
		st.LastDataUTC = s.lastData.UTC().Format(time.RFC3339)
		st.DataAgeSec = time.Since(s.lastData).Seconds()
	}
	return st
}

func (s *Service) setError(msg string) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.lastErr = msg
}

var errNotConnected = errors.New("gps: serial port not open")

// frameWriter serializes whole-frame writes to the port.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (fw *frameWriter) attach(w io.Writer) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.w = w
}

func (fw *frameWriter) detach() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.w = nil
}

func (fw *frameWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.w == nil {
		return 0, errNotConnected
	}
	return fw.w.Write(p)
}
