package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	t.Setenv("SUPERVISOR_TOKEN", "")
	path := writeTempConfig(t, "cfg.yaml", "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPSDevice != "/dev/ttyACM0" || cfg.GPSBaudrate != 38400 {
		t.Fatalf("device=%q baud=%d", cfg.GPSDevice, cfg.GPSBaudrate)
	}
	if !cfg.RTCMFilteringEnabled || !cfg.RTCMValidationEnabled || !cfg.SaveConfiguration || !cfg.HomeAssistantEnabled {
		t.Fatalf("boolean defaults not applied: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.RTCMMessageFilter, []int{1005, 1077, 1087, 1097, 1127}) {
		t.Fatalf("rtcm_message_filter=%v", cfg.RTCMMessageFilter)
	}
	if cfg.RTCMMaxMessageAge.Std() != 30*time.Second {
		t.Fatalf("rtcm_max_message_age=%s", cfg.RTCMMaxMessageAge.Std())
	}
	if cfg.SaveSaveMask != 0x1F || cfg.SaveDeviceMask != 0x17 || cfg.SaveClearMask != 0 {
		t.Fatalf("save masks clear=%#x save=%#x device=%#x", cfg.SaveClearMask, cfg.SaveSaveMask, cfg.SaveDeviceMask)
	}
}

func TestLoad_OptionsJSON(t *testing.T) {
	path := writeTempConfig(t, "options.json", `{
  "gps_device": "/dev/ttyUSB1",
  "gps_baudrate": 115200,
  "device_type": "zed-f9r",
  "dead_reckoning_enabled": true,
  "rtcm_filtering_enabled": false,
  "rtcm_message_filter": [1005, 1230],
  "publish_interval": 5,
  "ntrip_gga_interval": "10s"
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GPSDevice != "/dev/ttyUSB1" || cfg.GPSBaudrate != 115200 {
		t.Fatalf("device=%q baud=%d", cfg.GPSDevice, cfg.GPSBaudrate)
	}
	if cfg.DeviceType != "ZED-F9R" || !cfg.DeadReckoningEnabled {
		t.Fatalf("device_type=%q dr=%v", cfg.DeviceType, cfg.DeadReckoningEnabled)
	}
	if cfg.RTCMFilteringEnabled {
		t.Fatalf("rtcm_filtering_enabled should be false")
	}
	if !reflect.DeepEqual(cfg.RTCMMessageFilter, []int{1005, 1230}) {
		t.Fatalf("rtcm_message_filter=%v", cfg.RTCMMessageFilter)
	}
	if cfg.PublishInterval.Std() != 5*time.Second {
		t.Fatalf("publish_interval=%s", cfg.PublishInterval.Std())
	}
	if cfg.NTRIPGGAInterval.Std() != 10*time.Second {
		t.Fatalf("ntrip_gga_interval=%s", cfg.NTRIPGGAInterval.Std())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeTempConfig(t, "cfg.yaml", "publish_interval: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefaultAndValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"baud", func(c *Config) { c.GPSBaudrate = 12345 }, "gps_baudrate must be one of [4800 9600 19200 38400 57600 115200 230400 460800 921600]"},
		{"device type", func(c *Config) { c.DeviceType = "NEO-M8N" }, "device_type must be ZED-F9P or ZED-F9R"},
		{"update rate", func(c *Config) { c.UpdateRateHz = 40 }, "update_rate_hz must be within 1..25"},
		{"hnr rate", func(c *Config) { c.HNRRateHz = 31 }, "hnr_rate_hz must be within 1..30"},
		{"rtcm filter", func(c *Config) { c.RTCMMessageFilter = []int{1005, 999} }, "rtcm_message_filter entries must be within 1000..4095"},
		{"ntrip host", func(c *Config) { c.NTRIPEnabled = true; c.NTRIPMountpoint = "MOUNT" }, "ntrip_host is required when ntrip_enabled is true"},
		{"ntrip mount", func(c *Config) { c.NTRIPEnabled = true; c.NTRIPHost = "caster.example.com"; c.NTRIPMountpoint = "/" }, "ntrip_mountpoint is required when ntrip_enabled is true"},
		{"stale order", func(c *Config) { c.StalePollAfter = Duration(5 * time.Second) }, "stale_poll_after must not be shorter than stale_warning_after"},
		{"publish interval", func(c *Config) { c.PublishInterval = Duration(10 * time.Millisecond) }, "publish_interval must be >= 100ms"},
		{"influx org", func(c *Config) { c.InfluxEnabled = true }, "influx_org is required when influx_enabled is true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mod(&cfg)
			requireErrEq(t, DefaultAndValidate(&cfg), tc.want)
		})
	}
}

func TestDefaultAndValidate_UnknownModelAndConstellation(t *testing.T) {
	cfg := Defaults()
	cfg.DynamicModel = "submarine"
	if err := DefaultAndValidate(&cfg); err == nil {
		t.Fatalf("expected dynamic_model error")
	}
	cfg = Defaults()
	cfg.Constellation = "GPS+NAVIC"
	if err := DefaultAndValidate(&cfg); err == nil {
		t.Fatalf("expected constellation error")
	}
}

func TestDefaultAndValidate_ZeroConfig(t *testing.T) {
	var cfg Config
	if err := DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	if cfg.WebListen != ":8099" || cfg.PublishInterval.Std() != time.Second || cfg.NTRIPPort != 2101 {
		t.Fatalf("defaults not filled: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"UBLOX_GPS_DEVICE":          "/dev/ttyAMA0",
		"UBLOX_GPS_BAUDRATE":        "921600",
		"UBLOX_NTRIP_ENABLED":       "true",
		"UBLOX_NTRIP_PASSWORD":      "1234",
		"UBLOX_RTCM_MESSAGE_FILTER": "[1077, 1087]",
		"UBLOX_PUBLISH_INTERVAL":    "2s",
		"SUPERVISOR_TOKEN":          "abc",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Defaults()
	if err := ApplyEnv(&cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.GPSDevice != "/dev/ttyAMA0" || cfg.GPSBaudrate != 921600 || !cfg.NTRIPEnabled {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.NTRIPPassword != "1234" {
		t.Fatalf("ntrip_password=%q", cfg.NTRIPPassword)
	}
	if !reflect.DeepEqual(cfg.RTCMMessageFilter, []int{1077, 1087}) {
		t.Fatalf("rtcm_message_filter=%v", cfg.RTCMMessageFilter)
	}
	if cfg.PublishInterval.Std() != 2*time.Second {
		t.Fatalf("publish_interval=%s", cfg.PublishInterval.Std())
	}
	if cfg.HomeAssistantToken != "abc" {
		t.Fatalf("homeassistant_token=%q", cfg.HomeAssistantToken)
	}
}

func TestApplyEnv_ExplicitTokenWins(t *testing.T) {
	cfg := Defaults()
	cfg.HomeAssistantToken = "from-file"
	lookup := func(k string) (string, bool) {
		if k == "SUPERVISOR_TOKEN" {
			return "from-env", true
		}
		return "", false
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.HomeAssistantToken != "from-file" {
		t.Fatalf("homeassistant_token=%q", cfg.HomeAssistantToken)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Defaults()
	lookup := func(k string) (string, bool) {
		if k == "UBLOX_GPS_BAUDRATE" {
			return "fast", true
		}
		return "", false
	}
	if err := ApplyEnv(&cfg, lookup); err == nil {
		t.Fatalf("expected error")
	}
	if err := ApplyEnv(&cfg, noEnv); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
}

func TestLoadFile_IgnoresEnvironment(t *testing.T) {
	t.Setenv("SUPERVISOR_TOKEN", "from-env")
	t.Setenv("UBLOX_GPS_DEVICE", "/dev/ttyUSB9")
	path := writeTempConfig(t, "cfg.yaml", "gps_baudrate: 115200\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.GPSBaudrate != 115200 {
		t.Fatalf("baud=%d", cfg.GPSBaudrate)
	}
	if cfg.GPSDevice != "/dev/ttyACM0" {
		t.Fatalf("device=%q", cfg.GPSDevice)
	}
	if cfg.HomeAssistantToken != "" {
		t.Fatalf("token leaked from environment: %q", cfg.HomeAssistantToken)
	}

	full, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if full.GPSDevice != "/dev/ttyUSB9" || full.HomeAssistantToken != "from-env" {
		t.Fatalf("device=%q token=%q", full.GPSDevice, full.HomeAssistantToken)
	}
}

func TestKeysAndSet(t *testing.T) {
	keys := Keys()
	if len(keys) == 0 || keys[0] != "gps_device" {
		t.Fatalf("keys=%v", keys)
	}
	if !IsKey("rtcm_message_filter") || IsKey("nope") || IsKey("") {
		t.Fatalf("IsKey mismatch")
	}

	cfg := Defaults()
	if err := Set(&cfg, "rtcm_message_filter", []byte("[1230, 1005]")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if !reflect.DeepEqual(cfg.RTCMMessageFilter, []int{1230, 1005}) {
		t.Fatalf("rtcm_message_filter=%v", cfg.RTCMMessageFilter)
	}
	if err := Set(&cfg, "publish_interval", []byte("5")); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if cfg.PublishInterval.Std() != 5*time.Second {
		t.Fatalf("publish_interval=%s", cfg.PublishInterval.Std())
	}
	if err := Set(&cfg, "debug_logging", []byte(`"yes"`)); err == nil {
		t.Fatalf("expected type error for quoted bool")
	}
	if err := Set(&cfg, "nope", []byte("1")); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
