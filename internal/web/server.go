// Package web serves the bridge's HTTP API: status and snapshot documents,
// correction statistics, logs, settings, Prometheus metrics, and a live
// websocket stream of receiver snapshots.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

const serviceName = "ublox-bridge"

var debugLogging atomic.Bool

// SetDebug enables per-connection debug logging.
func SetDebug(on bool) { debugLogging.Store(on) }

func debugf(format string, args ...any) {
	if debugLogging.Load() {
		log.Printf("web: "+format, args...)
	}
}

// Options are the optional parts of the API. Nil members disable their
// routes.
type Options struct {
	Settings *SettingsStore
	Logs     *LogBuffer
	Live     *Broadcaster
	Metrics  http.Handler
	// ResetRTCM clears the correction statistics.
	ResetRTCM func()
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func Handler(status *Status, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()).Health)
	})

	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		src := status.Sources()
		if src.Snapshot == nil {
			http.Error(w, "receiver unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, src.Snapshot())
	})

	mux.HandleFunc("/api/rtcm", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		src := status.Sources()
		if src.RTCM == nil {
			http.Error(w, "corrections disabled", http.StatusNotFound)
			return
		}
		writeJSON(w, src.RTCM())
	})

	mux.HandleFunc("/api/rtcm/reset", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		if opts.ResetRTCM == nil {
			http.Error(w, "corrections disabled", http.StatusNotFound)
			return
		}
		opts.ResetRTCM()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	if opts.Settings != nil {
		mux.Handle("/api/settings", opts.Settings.Handler())
	}
	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	if opts.Live != nil {
		mux.Handle("/api/ws", LiveHandler(opts.Live))
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	mux.Handle("/api/about", AboutHandler(status))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allow(w, r, http.MethodGet) {
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>u-blox bridge</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>u-blox bridge</h1>")
		_, _ = fmt.Fprintf(w, "<p>API: <a href=\"/api/status\">/api/status</a> <a href=\"/api/snapshot\">/api/snapshot</a> <a href=\"/api/rtcm\">/api/rtcm</a> <a href=\"/api/logs?format=text\">/api/logs</a></p>")
		_, _ = fmt.Fprintf(w, "<pre>fix=%s\nhealth=%s\nuptime=%s</pre>", snap.Position.FixType, snap.Health.Overall, snap.Uptime)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("web: listening on %s", listenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
