package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ublox-bridge/internal/config"
	"ublox-bridge/internal/gps"
	"ublox-bridge/internal/metrics"
	"ublox-bridge/internal/rtcm"
	"ublox-bridge/internal/web"
)

var debugLogging atomic.Bool

func setDebug(on bool) {
	debugLogging.Store(on)
	gps.SetDebug(on)
	rtcm.SetDebug(on)
	web.SetDebug(on)
}

func debugf(format string, args ...any) {
	if debugLogging.Load() {
		log.Printf("bridge: "+format, args...)
	}
}

func main() {
	var configPath string
	var debug bool
	flag.StringVar(&configPath, "config", os.Getenv("UBLOX_CONFIG"), "Path to YAML/JSON settings (empty: defaults and UBLOX_* environment)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	setDebug(debug || cfg.DebugLogging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, configPath, logs); err != nil {
		log.Fatalf("ublox-bridge stopped: %v", err)
	}
	log.Printf("ublox-bridge stopped")
}

func run(ctx context.Context, cfg config.Config, configPath string, logs *web.LogBuffer) error {
	r, err := newRuntime(cfg, nil)
	if err != nil {
		return err
	}

	log.Printf("ublox-bridge starting device=%s baud=%d type=%s rate=%dHz", cfg.GPSDevice, cfg.GPSBaudrate, cfg.DeviceType, cfg.UpdateRateHz)
	if cfg.NTRIPEnabled {
		log.Printf("ntrip caster=%s:%d mountpoint=%s gga_interval=%s", cfg.NTRIPHost, cfg.NTRIPPort, cfg.NTRIPMountpoint, cfg.NTRIPGGAInterval.Std())
	}

	var settings *web.SettingsStore
	if strings.TrimSpace(configPath) != "" {
		settings = &web.SettingsStore{ConfigPath: configPath, Apply: r.Apply}
	}
	handler := web.Handler(r.status, web.Options{
		Settings:  settings,
		Logs:      logs,
		Live:      r.live,
		Metrics:   metrics.Handler(r.metricsSources()),
		ResetRTCM: r.resetRTCM(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.superviseGPS(gctx) })
	g.Go(func() error { return r.runCorrections(gctx) })
	g.Go(func() error { return r.publishLoop(gctx) })
	g.Go(func() error {
		err := web.Serve(gctx, cfg.WebListen, handler)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}
