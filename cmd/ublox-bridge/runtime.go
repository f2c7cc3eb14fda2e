package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"ublox-bridge/internal/config"
	"ublox-bridge/internal/geo"
	"ublox-bridge/internal/gps"
	"ublox-bridge/internal/homeassistant"
	"ublox-bridge/internal/metrics"
	"ublox-bridge/internal/ntrip"
	"ublox-bridge/internal/rtcm"
	"ublox-bridge/internal/sink"
	"ublox-bridge/internal/ubx"
	"ublox-bridge/internal/web"
)

const (
	gpsRetryDelay     = 5 * time.Second
	performanceWindow = 5 * time.Minute
)

type bridgeRuntime struct {
	cfg config.Config

	gpsSvc *gps.Service
	filter *rtcm.Filter
	caster *ntrip.Client
	ha     *homeassistant.Publisher
	mqtt   *sink.MQTT
	influx *sink.Influx

	perf   *geo.PerformanceMonitor
	live   *web.Broadcaster
	status *web.Status

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
	pubErrs  map[string]string
}

// gpsConfig maps settings to the receiver service configuration.
func gpsConfig(cfg config.Config) gps.Config {
	return gps.Config{
		Device:    cfg.GPSDevice,
		Baud:      cfg.GPSBaudrate,
		Configure: true,
		Configurator: gps.ConfiguratorOptions{
			DeviceType:     cfg.DeviceType,
			DeadReckoning:  cfg.DeadReckoningEnabled,
			DynamicModel:   cfg.DynamicModel,
			UpdateRateHz:   cfg.UpdateRateHz,
			Constellations: cfg.Constellation,
			HighRate:       cfg.HighRatePositioning,
			HNRRateHz:      cfg.HNRRateHz,
			SensorFusion:   cfg.SensorFusionEnabled,
			SatelliteInfo:  cfg.SatelliteInfoEnabled,
			Covariance:     cfg.CovarianceEnabled,
			DisableNMEA:    cfg.DisableNMEAOutput,
			Save:           cfg.SaveConfiguration,
			SaveMasks: ubx.SaveMasks{
				Clear:  cfg.SaveClearMask,
				Save:   cfg.SaveSaveMask,
				Load:   cfg.SaveLoadMask,
				Device: cfg.SaveDeviceMask,
			},
		},
		Reader: gps.ReaderConfig{
			StaleAfter: cfg.StaleWarningAfter.Std(),
			PollAfter:  cfg.StalePollAfter.Std(),
		},
		RecordPath: cfg.RecordPath,
	}
}

func rtcmConfig(cfg config.Config) rtcm.Config {
	return rtcm.Config{
		Filtering:  cfg.RTCMFilteringEnabled,
		Validation: cfg.RTCMValidationEnabled,
		CRCCheck:   cfg.RTCMCRCCheck,
		Allowlist:  append([]int(nil), cfg.RTCMMessageFilter...),
		MaxAge:     cfg.RTCMMaxMessageAge.Std(),
	}
}

// newRuntime builds every enabled component. open replaces the serial port
// when non-nil.
func newRuntime(cfg config.Config, open func(string, int) (io.ReadWriteCloser, error)) (*bridgeRuntime, error) {
	r := &bridgeRuntime{
		cfg:      cfg,
		perf:     geo.NewPerformanceMonitor(performanceWindow),
		live:     web.NewBroadcaster(),
		interval: cfg.PublishInterval.Std(),
		reset:    make(chan struct{}, 1),
		pubErrs:  make(map[string]string),
	}

	gcfg := gpsConfig(cfg)
	gcfg.Open = open
	r.gpsSvc = gps.New(gcfg)

	if cfg.NTRIPEnabled {
		r.filter = rtcm.NewFilter(rtcmConfig(cfg))
		caster, err := ntrip.NewClient(ntrip.Config{
			Host:        cfg.NTRIPHost,
			Port:        cfg.NTRIPPort,
			Mountpoint:  cfg.NTRIPMountpoint,
			Username:    cfg.NTRIPUsername,
			Password:    cfg.NTRIPPassword,
			GGAInterval: cfg.NTRIPGGAInterval.Std(),
			GGA:         func() string { return ggaSentence(r.gpsSvc.Snapshot(), time.Now()) },
		})
		if err != nil {
			return nil, fmt.Errorf("ntrip: %w", err)
		}
		r.caster = caster
	}

	if cfg.HomeAssistantEnabled {
		ha, err := homeassistant.New(homeassistant.Config{URL: cfg.HomeAssistantURL, Token: cfg.HomeAssistantToken})
		if err != nil {
			// Running outside the supervisor is normal; keep the rest alive.
			log.Printf("homeassistant: disabled: %v", err)
		} else {
			r.ha = ha
		}
	}
	if cfg.MQTTEnabled {
		r.mqtt = sink.NewMQTT(sink.MQTTConfig{
			Broker:          cfg.MQTTBroker,
			Username:        cfg.MQTTUsername,
			Password:        cfg.MQTTPassword,
			TopicPrefix:     cfg.MQTTTopicPrefix,
			DiscoveryPrefix: cfg.MQTTDiscoveryPrefix,
		})
	}
	if cfg.InfluxEnabled {
		ix, err := sink.NewInflux(sink.InfluxConfig{URL: cfg.InfluxURL, Token: cfg.InfluxToken, Org: cfg.InfluxOrg, Bucket: cfg.InfluxBucket})
		if err != nil {
			return nil, err
		}
		r.influx = ix
	}

	r.status = web.NewStatus(r.sources())
	return r, nil
}

func (r *bridgeRuntime) sources() web.Sources {
	src := web.Sources{
		GPS:         r.gpsSvc.Status,
		Snapshot:    r.gpsSvc.Snapshot,
		Publishers:  r.publisherStats,
		Performance: r.perf.Summary,
	}
	if r.filter != nil {
		src.RTCM = r.filter.Summary
	}
	if r.caster != nil {
		src.NTRIP = r.caster.Snapshot
	}
	return src
}

func (r *bridgeRuntime) metricsSources() metrics.Sources {
	src := metrics.Sources{GPS: r.gpsSvc.Status, Snapshot: r.gpsSvc.Snapshot}
	if r.filter != nil {
		src.RTCM = r.filter.Statistics
	}
	if r.caster != nil {
		src.NTRIP = r.caster.Snapshot
	}
	return src
}

func (r *bridgeRuntime) resetRTCM() func() {
	if r.filter == nil {
		return nil
	}
	return r.filter.ResetStatistics
}

func (r *bridgeRuntime) publisherStats() map[string]any {
	out := map[string]any{}
	if r.ha != nil {
		out["homeassistant"] = r.ha.Stats()
	}
	if r.mqtt != nil {
		out["mqtt"] = r.mqtt.Stats()
	}
	if r.influx != nil {
		out["influx"] = r.influx.Stats()
	}
	out["live_subscribers"] = r.live.Subscribers()
	return out
}

// superviseGPS keeps the receiver service running. A lost or missing port
// is retried after gpsRetryDelay.
func (r *bridgeRuntime) superviseGPS(ctx context.Context) error {
	defer r.gpsSvc.Close()
	for {
		delay := gpsRetryDelay
		if err := r.gpsSvc.Start(ctx); err != nil {
			log.Printf("gps: %v (retrying in %s)", err, delay)
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-r.gpsSvc.Done():
			}
			if err := r.gpsSvc.Err(); err != nil {
				log.Printf("gps: session ended: %v (restarting in %s)", err, delay)
			} else {
				log.Printf("gps: session ended (restarting in %s)", delay)
			}
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// onCorrections filters caster data and forwards what passes to the
// receiver.
func (r *bridgeRuntime) onCorrections(b []byte) {
	out, _ := r.filter.Process(b)
	if len(out) == 0 {
		return
	}
	if err := r.gpsSvc.WriteCorrections(out); err != nil {
		debugf("correction write dropped: %v", err)
	}
}

func (r *bridgeRuntime) runCorrections(ctx context.Context) error {
	if r.caster == nil {
		return nil
	}
	err := r.caster.Run(ctx, r.onCorrections)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *bridgeRuntime) publishInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

func (r *bridgeRuntime) publishLoop(ctx context.Context) error {
	if r.ha != nil {
		if err := r.ha.Initialize(ctx); err != nil {
			log.Printf("homeassistant: initialize: %v", err)
		}
	}
	if r.mqtt != nil {
		if err := r.mqtt.Connect(ctx); err != nil {
			log.Printf("mqtt: %v", err)
		}
		defer r.mqtt.Close()
	}
	if r.influx != nil {
		defer r.influx.Close()
	}

	t := time.NewTicker(r.publishInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.reset:
			t.Reset(r.publishInterval())
		case now := <-t.C:
			r.publishOnce(ctx, now)
		}
	}
}

func (r *bridgeRuntime) links() homeassistant.Links {
	st := r.gpsSvc.Status()
	l := homeassistant.Links{
		GPSConnected: st.State == gps.StateReady.String() && st.Liveness == "ok",
		NTRIPEnabled: r.caster != nil,
	}
	if r.caster != nil {
		l.NTRIPConnected = r.caster.Connected()
	}
	if r.filter != nil {
		l.RTCMDataRateBPS = r.filter.Statistics().DataRateBPS
	}
	return l
}

func (r *bridgeRuntime) publishOnce(ctx context.Context, now time.Time) {
	snap := r.gpsSvc.Snapshot()
	links := r.links()

	if acc, ok := snap.Float("horizontal_accuracy"); ok {
		label, _ := snap.Text("fix_type")
		sats, _ := snap.Int("satellites_used")
		r.perf.Add(acc*100, label, sats)
	}
	r.live.Publish(web.LiveUpdate{
		TimeUTC:  now.UTC().Format(time.RFC3339Nano),
		Snapshot: snap,
		Links: map[string]any{
			"gps_connected":   links.GPSConnected,
			"ntrip_connected": links.NTRIPConnected,
			"rtcm_rate_bps":   links.RTCMDataRateBPS,
		},
	})

	if len(snap) == 0 {
		return
	}
	if r.ha != nil {
		r.report("homeassistant", r.ha.Publish(ctx, snap, links))
	}
	if r.mqtt != nil {
		r.report("mqtt", r.mqtt.Publish(snap))
	}
	if r.influx != nil {
		r.report("influx", r.influx.Write(ctx, snap, now))
	}
}

// report logs publisher failures once per distinct error and logs the
// recovery.
func (r *bridgeRuntime) report(name string, err error) {
	r.mu.Lock()
	prev := r.pubErrs[name]
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.pubErrs[name] = msg
	r.mu.Unlock()

	switch {
	case msg != "" && msg != prev:
		log.Printf("%s: publish failed: %s", name, msg)
	case msg == "" && prev != "":
		log.Printf("%s: publishing again", name)
	}
}

// Apply makes live-adjustable settings effective. It is called by the
// settings API before the file is saved.
func (r *bridgeRuntime) Apply(next config.Config) error {
	if r.filter != nil {
		r.filter.SetAllowlist(next.RTCMFilteringEnabled, next.RTCMMessageFilter)
	}
	setDebug(next.DebugLogging)

	r.mu.Lock()
	changed := r.interval != next.PublishInterval.Std()
	r.interval = next.PublishInterval.Std()
	r.cfg.RTCMFilteringEnabled = next.RTCMFilteringEnabled
	r.cfg.RTCMMessageFilter = append([]int(nil), next.RTCMMessageFilter...)
	r.cfg.PublishInterval = next.PublishInterval
	r.cfg.DebugLogging = next.DebugLogging
	r.mu.Unlock()

	if changed {
		select {
		case r.reset <- struct{}{}:
		default:
		}
	}
	log.Printf("settings applied: filtering=%t types=%v publish_interval=%s debug=%t",
		next.RTCMFilteringEnabled, next.RTCMMessageFilter, next.PublishInterval.Std(), next.DebugLogging)
	return nil
}

// ggaSentence builds the rover position report for the caster. It is empty
// until the receiver has a position.
func ggaSentence(snap gps.Snapshot, now time.Time) string {
	lat, okLat := snap.Float("latitude")
	lon, okLon := snap.Float("longitude")
	if !okLat || !okLon || !geo.ValidCoordinates(lat, lon) {
		return ""
	}
	label, _ := snap.Text("fix_type")
	diff, _ := snap.Bool("diff_soln")
	p := geo.Position{
		Time:      now,
		Latitude:  lat,
		Longitude: lon,
		Quality:   geo.QualityFromFix(label, diff),
	}
	if t, ok := snap.Time("utc_time"); ok {
		p.Time = t
	}
	if alt, ok := snap.Float("altitude"); ok {
		p.AltitudeMSL = alt
		if h, ok := snap.Float("height_ellipsoid"); ok {
			p.GeoidSep = h - alt
		}
	}
	if n, ok := snap.Int("satellites_used"); ok {
		p.NumSV = n
	}
	if h, ok := snap.Float("nmea_hdop"); ok {
		p.HDOP = h
	} else if pd, ok := snap.Float("pdop"); ok {
		p.HDOP = pd
	}
	return geo.GGA(p)
}
