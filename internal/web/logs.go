package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogTail = 200
	maxLogTail     = 5000
	maxLogLine     = 64 * 1024
)

// LogBuffer keeps the most recent process log lines. Install it with
// log.SetOutput(io.MultiWriter(os.Stderr, buf)).
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write splits p into lines. A trailing fragment waits for its newline.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		if len(b.partial) > 0 {
			b.partial = append(b.partial, rest[:i]...)
			b.appendLineLocked(string(b.partial))
			b.partial = b.partial[:0]
		} else {
			b.appendLineLocked(string(rest[:i]))
		}
		rest = rest[i+1:]
	}
	b.partial = append(b.partial, rest...)
	if len(b.partial) > maxLogLine {
		b.appendLineLocked(string(b.partial))
		b.partial = b.partial[:0]
	}
	return len(p), nil
}

func (b *LogBuffer) appendLineLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		over := len(b.lines) - b.max
		b.lines = b.lines[over:]
		b.dropped += uint64(over)
	}
}

type LogsResponse struct {
	NowUTC    string   `json:"now_utc"`
	Dropped   uint64   `json:"dropped"`
	Component string   `json:"component,omitempty"`
	Lines     []string `json:"lines"`
}

// Snapshot returns up to tail of the newest lines. A non-empty component
// keeps only lines logged with that prefix ("gps", "ntrip", "rtcm", ...).
func (b *LogBuffer) Snapshot(tail int, component string) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tail <= 0 {
		tail = defaultLogTail
	}
	marker := ""
	if component != "" {
		marker = component + ": "
	}
	for i := len(b.lines) - 1; i >= 0 && len(lines) < tail; i-- {
		if marker != "" && !strings.Contains(b.lines[i], marker) {
			continue
		}
		lines = append(lines, b.lines[i])
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, b.dropped
}

func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}

		q := r.URL.Query()
		tail := defaultLogTail
		s := strings.TrimSpace(q.Get("tail"))
		if s == "" {
			s = strings.TrimSpace(q.Get("n"))
		}
		if s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > maxLogTail {
				http.Error(w, fmt.Sprintf("tail must be an integer in [1,%d]", maxLogTail), http.StatusBadRequest)
				return
			}
			tail = v
		}
		component := strings.ToLower(strings.TrimSpace(q.Get("component")))

		lines, dropped := b.Snapshot(tail, component)

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = fmt.Fprintln(w, line)
			}
			return
		}

		writeJSON(w, LogsResponse{
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			Dropped:   dropped,
			Component: component,
			Lines:     lines,
		})
	})
}
