// Package config loads the flat ublox-bridge settings file.
//
// The file is YAML; JSON is a subset, so the add-on options.json loads
// through the same path. Every key can be overridden from the environment
// as UBLOX_<KEY>, for example UBLOX_GPS_DEVICE=/dev/ttyUSB0.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ublox-bridge/internal/ubx"
)

// Duration accepts either a Go duration string ("30s") or a number of
// seconds, which is what the add-on options UI produces.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	switch n.Tag {
	case "!!null":
		return nil
	case "!!int", "!!float":
		var secs float64
		if err := n.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q", n.Value)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

type Config struct {
	GPSDevice   string `yaml:"gps_device"`
	GPSBaudrate int    `yaml:"gps_baudrate"`
	DeviceType  string `yaml:"device_type"`

	UpdateRateHz  int    `yaml:"update_rate_hz"`
	Constellation string `yaml:"constellation"`
	DynamicModel  string `yaml:"dynamic_model"`

	DeadReckoningEnabled bool `yaml:"dead_reckoning_enabled"`
	HighRatePositioning  bool `yaml:"high_rate_positioning"`
	HNRRateHz            int  `yaml:"hnr_rate_hz"`
	SensorFusionEnabled  bool `yaml:"sensor_fusion_enabled"`
	SatelliteInfoEnabled bool `yaml:"satellite_info_enabled"`
	CovarianceEnabled    bool `yaml:"covariance_enabled"`
	DisableNMEAOutput    bool `yaml:"disable_nmea_output"`

	SaveConfiguration bool   `yaml:"save_configuration"`
	SaveClearMask     uint32 `yaml:"save_clear_mask"`
	SaveSaveMask      uint32 `yaml:"save_save_mask"`
	SaveLoadMask      uint32 `yaml:"save_load_mask"`
	SaveDeviceMask    uint8  `yaml:"save_device_mask"`

	StaleWarningAfter Duration `yaml:"stale_warning_after"`
	StalePollAfter    Duration `yaml:"stale_poll_after"`
	RecordPath        string   `yaml:"record_path"`

	NTRIPEnabled     bool     `yaml:"ntrip_enabled"`
	NTRIPHost        string   `yaml:"ntrip_host"`
	NTRIPPort        int      `yaml:"ntrip_port"`
	NTRIPMountpoint  string   `yaml:"ntrip_mountpoint"`
	NTRIPUsername    string   `yaml:"ntrip_username"`
	NTRIPPassword    string   `yaml:"ntrip_password"`
	NTRIPGGAInterval Duration `yaml:"ntrip_gga_interval"`

	RTCMFilteringEnabled  bool     `yaml:"rtcm_filtering_enabled"`
	RTCMValidationEnabled bool     `yaml:"rtcm_validation_enabled"`
	RTCMCRCCheck          bool     `yaml:"rtcm_crc_check"`
	RTCMMessageFilter     []int    `yaml:"rtcm_message_filter"`
	RTCMMaxMessageAge     Duration `yaml:"rtcm_max_message_age"`

	HomeAssistantEnabled bool     `yaml:"homeassistant_enabled"`
	HomeAssistantURL     string   `yaml:"homeassistant_url"`
	HomeAssistantToken   string   `yaml:"homeassistant_token"`
	PublishInterval      Duration `yaml:"publish_interval"`

	MQTTEnabled         bool   `yaml:"mqtt_enabled"`
	MQTTBroker          string `yaml:"mqtt_broker"`
	MQTTUsername        string `yaml:"mqtt_username"`
	MQTTPassword        string `yaml:"mqtt_password"`
	MQTTTopicPrefix     string `yaml:"mqtt_topic_prefix"`
	MQTTDiscoveryPrefix string `yaml:"mqtt_discovery_prefix"`

	InfluxEnabled bool   `yaml:"influx_enabled"`
	InfluxURL     string `yaml:"influx_url"`
	InfluxToken   string `yaml:"influx_token"`
	InfluxOrg     string `yaml:"influx_org"`
	InfluxBucket  string `yaml:"influx_bucket"`

	WebListen    string `yaml:"web_listen"`
	DebugLogging bool   `yaml:"debug_logging"`
}

// Defaults returns a Config with every key at its default. Load decodes the
// file on top of it, so keys absent from the file keep these values.
func Defaults() Config {
	return Config{
		GPSDevice:             "/dev/ttyACM0",
		GPSBaudrate:           38400,
		DeviceType:            "ZED-F9P",
		UpdateRateHz:          1,
		Constellation:         "GPS+GLONASS+GALILEO+BEIDOU",
		DynamicModel:          "automotive",
		HNRRateHz:             10,
		SaveConfiguration:     true,
		SaveSaveMask:          0x1F,
		SaveDeviceMask:        0x17,
		StaleWarningAfter:     Duration(10 * time.Second),
		StalePollAfter:        Duration(30 * time.Second),
		NTRIPPort:             2101,
		RTCMFilteringEnabled:  true,
		RTCMValidationEnabled: true,
		RTCMCRCCheck:          true,
		RTCMMessageFilter:     []int{1005, 1077, 1087, 1097, 1127},
		RTCMMaxMessageAge:     Duration(30 * time.Second),
		HomeAssistantEnabled:  true,
		HomeAssistantURL:      "http://supervisor/core",
		PublishInterval:       Duration(time.Second),
		MQTTBroker:            "tcp://localhost:1883",
		MQTTTopicPrefix:       "ublox_gps",
		MQTTDiscoveryPrefix:   "homeassistant",
		InfluxURL:             "http://localhost:8086",
		InfluxBucket:          "gnss",
		WebListen:             ":8099",
	}
}

// Load reads path (optional; "" means defaults only), applies environment
// overrides, then fills defaults and validates.
func Load(path string) (Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile is Load without environment overrides. It is what the settings
// API reads and rewrites, so secrets injected through the environment never
// reach the file.
func LoadFile(path string) (Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// EnvPrefix prefixes the environment override of every key.
const EnvPrefix = "UBLOX_"

// Keys lists every settings key in declaration order.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	out := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key := yamlKey(t.Field(i)); key != "" {
			out = append(out, key)
		}
	}
	return out
}

// IsKey reports whether key names a settings field.
func IsKey(key string) bool {
	_, ok := fieldByKey(&Config{}, key)
	return ok
}

// Set decodes raw, a YAML or JSON value, into the field named key.
func Set(cfg *Config, key string, raw []byte) error {
	f, ok := fieldByKey(cfg, key)
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	next := reflect.New(f.Type())
	if err := yaml.Unmarshal(raw, next.Interface()); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	f.Set(next.Elem())
	return nil
}

func yamlKey(sf reflect.StructField) string {
	key := strings.Split(sf.Tag.Get("yaml"), ",")[0]
	if key == "-" {
		return ""
	}
	return key
}

func fieldByKey(cfg *Config, key string) (reflect.Value, bool) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if yamlKey(t.Field(i)) == key && key != "" {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// ApplyEnv overrides fields from UBLOX_<KEY> variables. Values are parsed
// as YAML into the field's type, except strings which are taken verbatim.
// SUPERVISOR_TOKEN fills an empty homeassistant_token.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, key := range Keys() {
		name := EnvPrefix + strings.ToUpper(key)
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		f, _ := fieldByKey(cfg, key)
		if f.Kind() == reflect.String {
			f.SetString(raw)
			continue
		}
		if err := Set(cfg, key, []byte(raw)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.HomeAssistantToken == "" {
		if tok, ok := lookup("SUPERVISOR_TOKEN"); ok {
			cfg.HomeAssistantToken = strings.TrimSpace(tok)
		}
	}
	return nil
}

var validBaudrates = []int{4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// DefaultAndValidate fills zero values with defaults and checks ranges.
// Booleans are left alone; use Defaults for their default values.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	d := Defaults()

	cfg.GPSDevice = strings.TrimSpace(cfg.GPSDevice)
	if cfg.GPSDevice == "" {
		cfg.GPSDevice = d.GPSDevice
	}
	if cfg.GPSBaudrate == 0 {
		cfg.GPSBaudrate = d.GPSBaudrate
	}
	if !containsInt(validBaudrates, cfg.GPSBaudrate) {
		return fmt.Errorf("gps_baudrate must be one of %v", validBaudrates)
	}

	cfg.DeviceType = strings.ToUpper(strings.TrimSpace(cfg.DeviceType))
	switch cfg.DeviceType {
	case "":
		cfg.DeviceType = d.DeviceType
	case "ZED-F9P", "ZED-F9R":
	default:
		return fmt.Errorf("device_type must be ZED-F9P or ZED-F9R")
	}

	if cfg.UpdateRateHz == 0 {
		cfg.UpdateRateHz = d.UpdateRateHz
	}
	if cfg.UpdateRateHz < 1 || cfg.UpdateRateHz > 25 {
		return fmt.Errorf("update_rate_hz must be within 1..25")
	}
	if cfg.HNRRateHz == 0 {
		cfg.HNRRateHz = d.HNRRateHz
	}
	if cfg.HNRRateHz < 1 || cfg.HNRRateHz > 30 {
		return fmt.Errorf("hnr_rate_hz must be within 1..30")
	}

	if strings.TrimSpace(cfg.Constellation) == "" {
		cfg.Constellation = d.Constellation
	}
	if _, err := ubx.ParseConstellations(cfg.Constellation); err != nil {
		return fmt.Errorf("constellation: %w", err)
	}
	cfg.DynamicModel = strings.ToLower(strings.TrimSpace(cfg.DynamicModel))
	if cfg.DynamicModel == "" {
		cfg.DynamicModel = d.DynamicModel
	}
	if _, ok := ubx.DynamicModelCode(cfg.DynamicModel); !ok {
		return fmt.Errorf("dynamic_model must be one of %v", ubx.DynamicModels())
	}

	if cfg.SaveSaveMask == 0 {
		cfg.SaveSaveMask = d.SaveSaveMask
	}
	if cfg.SaveDeviceMask == 0 {
		cfg.SaveDeviceMask = d.SaveDeviceMask
	}

	if cfg.StaleWarningAfter <= 0 {
		cfg.StaleWarningAfter = d.StaleWarningAfter
	}
	if cfg.StalePollAfter <= 0 {
		cfg.StalePollAfter = d.StalePollAfter
	}
	if cfg.StalePollAfter < cfg.StaleWarningAfter {
		return fmt.Errorf("stale_poll_after must not be shorter than stale_warning_after")
	}

	if cfg.NTRIPPort == 0 {
		cfg.NTRIPPort = d.NTRIPPort
	}
	if cfg.NTRIPPort < 1 || cfg.NTRIPPort > 65535 {
		return fmt.Errorf("ntrip_port must be within 1..65535")
	}
	if cfg.NTRIPEnabled {
		if strings.TrimSpace(cfg.NTRIPHost) == "" {
			return fmt.Errorf("ntrip_host is required when ntrip_enabled is true")
		}
		if strings.Trim(cfg.NTRIPMountpoint, " /") == "" {
			return fmt.Errorf("ntrip_mountpoint is required when ntrip_enabled is true")
		}
	}
	if cfg.NTRIPGGAInterval < 0 {
		return fmt.Errorf("ntrip_gga_interval must be >= 0")
	}

	if cfg.RTCMMessageFilter == nil {
		cfg.RTCMMessageFilter = d.RTCMMessageFilter
	}
	for _, t := range cfg.RTCMMessageFilter {
		if t < 1000 || t > 4095 {
			return fmt.Errorf("rtcm_message_filter entries must be within 1000..4095")
		}
	}
	if cfg.RTCMMaxMessageAge <= 0 {
		cfg.RTCMMaxMessageAge = d.RTCMMaxMessageAge
	}

	cfg.HomeAssistantURL = strings.TrimRight(strings.TrimSpace(cfg.HomeAssistantURL), "/")
	if cfg.HomeAssistantURL == "" {
		cfg.HomeAssistantURL = d.HomeAssistantURL
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = d.PublishInterval
	}
	if cfg.PublishInterval.Std() < 100*time.Millisecond {
		return fmt.Errorf("publish_interval must be >= 100ms")
	}

	if cfg.MQTTBroker == "" {
		cfg.MQTTBroker = d.MQTTBroker
	}
	if cfg.MQTTTopicPrefix == "" {
		cfg.MQTTTopicPrefix = d.MQTTTopicPrefix
	}
	if cfg.MQTTDiscoveryPrefix == "" {
		cfg.MQTTDiscoveryPrefix = d.MQTTDiscoveryPrefix
	}

	if cfg.InfluxURL == "" {
		cfg.InfluxURL = d.InfluxURL
	}
	if cfg.InfluxBucket == "" {
		cfg.InfluxBucket = d.InfluxBucket
	}
	if cfg.InfluxEnabled && strings.TrimSpace(cfg.InfluxOrg) == "" {
		return fmt.Errorf("influx_org is required when influx_enabled is true")
	}

	if strings.TrimSpace(cfg.WebListen) == "" {
		cfg.WebListen = d.WebListen
	}
	return nil
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
