package ntrip

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const userAgent = "NTRIP ublox-bridge/1.0"

var (
	ErrUnauthorized        = errors.New("ntrip: authentication failed, check username/password")
	ErrMountpointNotFound  = errors.New("ntrip: mountpoint not found")
	errUnexpectedResponse  = errors.New("ntrip: unexpected response")
	errSourceTableResponse = errors.New("ntrip: caster answered with a source table")
)

// StatusError is a non-200 caster response that is not an auth or
// mountpoint failure.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ntrip: caster returned %d %s", e.Code, e.Status)
}

type Config struct {
	Host       string
	Port       int
	Mountpoint string
	Username   string
	Password   string

	// GGAInterval > 0 uploads GGA() to the caster at that period. VRS
	// mountpoints need the rover position to build corrections.
	GGAInterval time.Duration
	GGA         func() string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	DialTimeout       time.Duration

	// ReadTimeout bounds a single read; a silent caster is reconnected.
	ReadTimeout time.Duration

	// StaleAfter is how long without data before Connected reports false.
	StaleAfter time.Duration

	ChunkSize int
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Client struct {
	cfg Config

	started atomic.Bool
	closed  atomic.Bool

	mu         sync.RWMutex
	state      string
	lastErr    string
	lastData   time.Time
	bytes      uint64
	chunks     uint64
	reconnects uint64
	ggaSent    uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type Snapshot struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Mountpoint    string `json:"mountpoint"`
	State         string `json:"state"`
	Connected     bool   `json:"connected"`
	LastError     string `json:"last_error,omitempty"`
	LastDataUTC   string `json:"last_data_utc,omitempty"`
	BytesReceived uint64 `json:"bytes_received"`
	Chunks        uint64 `json:"chunks"`
	Reconnects    uint64 `json:"reconnects"`
	GGASent       uint64 `json:"gga_sent"`
}

func NewClient(cfg Config) (*Client, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Mountpoint = strings.Trim(strings.TrimSpace(cfg.Mountpoint), "/")
	if cfg.Host == "" {
		return nil, fmt.Errorf("ntrip host is required")
	}
	if cfg.Mountpoint == "" {
		return nil, fmt.Errorf("ntrip mountpoint is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 2101
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 60 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	return &Client{cfg: cfg, state: "stopped", done: make(chan struct{})}, nil
}

// Start runs the client in the background until ctx is cancelled or Close
// is called. onData receives each chunk read from the caster; the slice is
// not reused.
func (c *Client) Start(ctx context.Context, onData func([]byte)) error {
	if c == nil {
		return fmt.Errorf("ntrip client is nil")
	}
	if c.closed.Load() {
		return fmt.Errorf("ntrip client is closed")
	}
	if onData == nil {
		return fmt.Errorf("ntrip onData is nil")
	}
	if c.started.Swap(true) {
		return fmt.Errorf("ntrip client already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		defer close(c.done)
		_ = c.Run(runCtx, onData)
	}()
	return nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.closed.Swap(true) {
		return
	}
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Run connects and streams until ctx is done, reconnecting with a linear
// backoff capped at MaxReconnectDelay. It always returns ctx.Err().
func (c *Client) Run(ctx context.Context, onData func([]byte)) error {
	attempt := 0
	listed := false
	for {
		if ctx.Err() != nil {
			c.setState("stopped", "")
			return ctx.Err()
		}

		c.setState("connecting", "")
		got, err := c.stream(ctx, onData)
		if ctx.Err() != nil {
			c.setState("stopped", "")
			return ctx.Err()
		}
		if got {
			attempt = 0
		}
		attempt++

		msg := "stream ended"
		if err != nil {
			msg = err.Error()
		}
		c.setState("disconnected", msg)
		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()

		if errors.Is(err, ErrMountpointNotFound) && !listed {
			listed = true
			c.logMountpoints(ctx)
		}

		delay := c.backoff(attempt)
		log.Printf("ntrip: %s, retrying in %s", msg, delay)
		if !sleepCtx(ctx, delay) {
			c.setState("stopped", "")
			return ctx.Err()
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectDelay * time.Duration(attempt)
	if d > c.cfg.MaxReconnectDelay || d <= 0 {
		d = c.cfg.MaxReconnectDelay
	}
	return d
}

// stream runs one connection. got reports whether any data arrived.
func (c *Client) stream(ctx context.Context, onData func([]byte)) (got bool, err error) {
	conn, body, err := c.open(ctx, "/"+c.cfg.Mountpoint)
	if err != nil {
		return false, err
	}
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	c.setState("connected", "")
	log.Printf("ntrip: connected to %s/%s", c.cfg.addr(), c.cfg.Mountpoint)

	if c.cfg.GGAInterval > 0 && c.cfg.GGA != nil {
		go c.uploadGGA(connCtx, conn)
	}

	buf := make([]byte, c.cfg.ChunkSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		n, rerr := body.Read(buf)
		if n > 0 {
			got = true
			chunk := append([]byte(nil), buf[:n]...)
			c.mu.Lock()
			c.lastData = time.Now()
			c.bytes += uint64(n)
			c.chunks++
			c.mu.Unlock()
			onData(chunk)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return got, nil
			}
			return got, rerr
		}
	}
}

func (c *Client) uploadGGA(ctx context.Context, conn net.Conn) {
	send := func() {
		s := strings.TrimSpace(c.cfg.GGA())
		if s == "" {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.DialTimeout))
		if _, err := io.WriteString(conn, s+"\r\n"); err != nil {
			log.Printf("ntrip: gga upload failed: %v", err)
			return
		}
		c.mu.Lock()
		c.ggaSent++
		c.mu.Unlock()
	}
	send()
	t := time.NewTicker(c.cfg.GGAInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			send()
		}
	}
}

// open dials the caster, sends the request for path, and returns a reader
// positioned at the start of the body.
func (c *Client) open(ctx context.Context, path string) (net.Conn, io.Reader, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		return nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	_ = conn.SetDeadline(time.Now().Add(c.cfg.ReadTimeout))
	if _, err := io.WriteString(conn, c.request(path)); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ntrip: send request: %w", err)
	}
	body, err := readResponse(bufio.NewReader(conn), path == "/")
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, body, nil
}

func (c *Client) request(path string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", c.cfg.addr())
	b.WriteString("Ntrip-Version: Ntrip/2.0\r\n")
	fmt.Fprintf(&b, "User-Agent: %s\r\n", userAgent)
	b.WriteString("Accept: */*\r\n")
	b.WriteString("Connection: close\r\n")
	if c.cfg.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("\r\n")
	return b.String()
}

// readResponse accepts NTRIP v1 ("ICY 200 OK", "SOURCETABLE 200 OK") and
// v2 (HTTP/1.x) status lines. wantTable selects whether a source table
// reply is success.
func readResponse(br *bufio.Reader, wantTable bool) (io.Reader, error) {
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("ntrip: read status: %w", err)
	}
	proto, rest, _ := strings.Cut(line, " ")
	codeText, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeText)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errUnexpectedResponse, line)
	}

	switch {
	case proto == "ICY":
		if code != 200 {
			return nil, statusErr(code, reason)
		}
		if wantTable {
			return nil, fmt.Errorf("%w: %q", errUnexpectedResponse, line)
		}
		// Some v1 casters send a blank line before the stream.
		if br.Buffered() >= 2 {
			if b, _ := br.Peek(2); string(b) == "\r\n" {
				_, _ = br.Discard(2)
			}
		}
		return br, nil
	case proto == "SOURCETABLE":
		if code != 200 {
			return nil, statusErr(code, reason)
		}
		if _, err := tp.ReadMIMEHeader(); err != nil {
			return nil, fmt.Errorf("ntrip: read headers: %w", err)
		}
		if !wantTable {
			// v1 casters answer an unknown mountpoint with the table.
			return nil, fmt.Errorf("%w (%v)", ErrMountpointNotFound, errSourceTableResponse)
		}
		return br, nil
	case strings.HasPrefix(proto, "HTTP/"):
		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			return nil, fmt.Errorf("ntrip: read headers: %w", err)
		}
		if code != 200 {
			return nil, statusErr(code, reason)
		}
		if !wantTable && strings.HasPrefix(strings.ToLower(hdr.Get("Content-Type")), "gnss/sourcetable") {
			return nil, fmt.Errorf("%w (%v)", ErrMountpointNotFound, errSourceTableResponse)
		}
		if strings.EqualFold(strings.TrimSpace(hdr.Get("Transfer-Encoding")), "chunked") {
			return httputil.NewChunkedReader(br), nil
		}
		return br, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnexpectedResponse, line)
}

func statusErr(code int, reason string) error {
	switch code {
	case 401:
		return ErrUnauthorized
	case 404:
		return ErrMountpointNotFound
	}
	return &StatusError{Code: code, Status: reason}
}

func (c *Client) logMountpoints(ctx context.Context) {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()
	streams, err := c.SourceTable(lctx)
	if err != nil {
		log.Printf("ntrip: source table unavailable: %v", err)
		return
	}
	names := make([]string, 0, len(streams))
	for _, s := range streams {
		names = append(names, s.Mountpoint)
	}
	log.Printf("ntrip: mountpoint %q not offered; caster has %s", c.cfg.Mountpoint, strings.Join(names, ", "))
}

func (c *Client) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Snapshot{
		Host:          c.cfg.Host,
		Port:          c.cfg.Port,
		Mountpoint:    c.cfg.Mountpoint,
		State:         c.state,
		LastError:     c.lastErr,
		BytesReceived: c.bytes,
		Chunks:        c.chunks,
		Reconnects:    c.reconnects,
		GGASent:       c.ggaSent,
	}
	if !c.lastData.IsZero() {
		out.LastDataUTC = c.lastData.UTC().Format(time.RFC3339Nano)
		out.Connected = c.state == "connected" && time.Since(c.lastData) < c.cfg.StaleAfter
	}
	return out
}

// Connected is true while the stream is open and data arrived recently.
func (c *Client) Connected() bool {
	return c.Snapshot().Connected
}

func (c *Client) setState(state string, lastErr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	if lastErr != "" {
		c.lastErr = lastErr
	} else if state == "connected" || state == "stopped" {
		c.lastErr = ""
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
