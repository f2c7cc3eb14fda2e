package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ublox-bridge/internal/config"
)

// LiveSettingKeys are the settings the running bridge can change without a
// restart. Every other settings key is rejected with 409.
var LiveSettingKeys = []string{
	"rtcm_filtering_enabled",
	"rtcm_message_filter",
	"publish_interval",
	"debug_logging",
}

// SettingsPayload is the live-adjustable view of the configuration.
type SettingsPayload struct {
	RTCMFilteringEnabled bool   `json:"rtcm_filtering_enabled"`
	RTCMMessageFilter    []int  `json:"rtcm_message_filter"`
	PublishInterval      string `json:"publish_interval"`
	DebugLogging         bool   `json:"debug_logging"`
}

func settingsOf(cfg config.Config) SettingsPayload {
	return SettingsPayload{
		RTCMFilteringEnabled: cfg.RTCMFilteringEnabled,
		RTCMMessageFilter:    append([]int{}, cfg.RTCMMessageFilter...),
		PublishInterval:      cfg.PublishInterval.Std().String(),
		DebugLogging:         cfg.DebugLogging,
	}
}

// settingsError carries the HTTP status a rejected patch maps to.
type settingsError struct {
	code int
	msg  string
}

func (e *settingsError) Error() string { return e.msg }

func badPatch(format string, args ...any) error {
	return &settingsError{code: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func isLiveKey(key string) bool {
	for _, k := range LiveSettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

// patch is a decoded POST body: raw values keyed by setting, in body order.
type patch struct {
	keys   []string
	values map[string]json.RawMessage
}

// decodePatch reads one JSON object of live settings. Any subset of the
// live keys is accepted; duplicates, nulls and trailing data are not.
func decodePatch(body []byte) (patch, error) {
	p := patch{values: make(map[string]json.RawMessage)}
	dec := json.NewDecoder(bytes.NewReader(body))

	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return p, badPatch("invalid json: expected object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return p, badPatch("invalid json: %v", err)
		}
		key, _ := tok.(string)
		switch {
		case isLiveKey(key):
		case config.IsKey(key):
			return p, &settingsError{code: http.StatusConflict, msg: fmt.Sprintf("%s requires restart", key)}
		default:
			return p, badPatch("unknown key %q", key)
		}
		if _, dup := p.values[key]; dup {
			return p, badPatch("duplicate key %q", key)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return p, badPatch("invalid json: %v", err)
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return p, badPatch("%q cannot be null", key)
		}
		p.keys = append(p.keys, key)
		p.values[key] = raw
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return p, badPatch("invalid json: expected end of object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return p, badPatch("invalid json: trailing data")
	}
	if len(p.keys) == 0 {
		return p, badPatch("no settings given")
	}
	return p, nil
}

// apply writes the patch onto cfg and checks the result.
func (p patch) apply(cfg *config.Config) error {
	for _, key := range p.keys {
		if err := config.Set(cfg, key, p.values[key]); err != nil {
			return badPatch("invalid %v", err)
		}
	}
	if cfg.RTCMFilteringEnabled && len(cfg.RTCMMessageFilter) == 0 {
		return badPatch("rtcm_message_filter must be non-empty while filtering is enabled")
	}
	if err := config.DefaultAndValidate(cfg); err != nil {
		return badPatch("invalid settings: %v", err)
	}
	return nil
}

// SettingsStore serves /api/settings over the settings file at ConfigPath.
type SettingsStore struct {
	ConfigPath string
	// Apply makes a validated config effective. When it fails nothing is
	// saved.
	Apply func(cfg config.Config) error
}

func (s SettingsStore) load() (config.Config, error) {
	return config.LoadFile(s.ConfigPath)
}

// save replaces the settings file through a temp file in the same
// directory, so a crash leaves either the old or the new file.
func (s SettingsStore) save(cfg config.Config) error {
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.ConfigPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.ConfigPath)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = tmp.Write(b)
	if err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmpPath, s.ConfigPath)
}

// update loads the file, applies the patch, makes it effective and saves
// it. A failed save rolls the running bridge back to the previous values.
func (s SettingsStore) update(body []byte) (config.Config, error) {
	p, err := decodePatch(body)
	if err != nil {
		return config.Config{}, err
	}
	prev, err := s.load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load failed: %w", err)
	}
	next := prev
	next.RTCMMessageFilter = append([]int(nil), prev.RTCMMessageFilter...)
	if err := p.apply(&next); err != nil {
		return config.Config{}, err
	}
	if s.Apply != nil {
		if err := s.Apply(next); err != nil {
			return config.Config{}, badPatch("apply failed: %v", err)
		}
	}
	if err := s.save(next); err != nil {
		if s.Apply != nil {
			_ = s.Apply(prev)
		}
		return config.Config{}, fmt.Errorf("save failed: %w", err)
	}
	return next, nil
}

func (s SettingsStore) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			cfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, settingsOf(cfg))

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<10))
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			cfg, err := s.update(body)
			if err != nil {
				code := http.StatusInternalServerError
				var serr *settingsError
				if errors.As(err, &serr) {
					code = serr.code
				}
				http.Error(w, err.Error(), code)
				return
			}
			log.Printf("web: settings updated")
			writeJSON(w, settingsOf(cfg))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}
