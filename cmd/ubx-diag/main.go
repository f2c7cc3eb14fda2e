// Command ubx-diag inspects a receiver port or a capture file and prints what
// it saw along with likely causes when things look wrong.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ublox-bridge/internal/config"
	"ublox-bridge/internal/gps"
	"ublox-bridge/internal/replay"
	"ublox-bridge/internal/ubx"
)

var defaultBauds = []int{38400, 9600, 115200, 19200, 4800}

type options struct {
	Device     string
	Baud       int
	DeviceType string
	Replay     string
	Duration   time.Duration
	Configure  bool
}

type opener func(device string, baud int) (io.ReadWriteCloser, error)

func main() {
	var (
		configPath string
		opts       options
		reset      bool
		scan       bool
		bauds      string
		asJSON     bool
		debug      bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("UBLOX_CONFIG"), "Optional settings file for device defaults")
	flag.StringVar(&opts.Device, "device", "", "Serial device (overrides config)")
	flag.IntVar(&opts.Baud, "baud", 0, "Baud rate (overrides config)")
	flag.StringVar(&opts.DeviceType, "device-type", "", "ZED-F9P or ZED-F9R (overrides config)")
	flag.StringVar(&opts.Replay, "replay", "", "Read a capture file instead of the serial port")
	flag.DurationVar(&opts.Duration, "duration", 30*time.Second, "How long to listen")
	flag.BoolVar(&opts.Configure, "configure", false, "Send the configuration sequence before listening")
	flag.BoolVar(&reset, "reset", false, "Send a cold start (CFG-RST) before listening")
	flag.BoolVar(&scan, "scan", false, "Try each baud rate in -bauds and report which one carries frames")
	flag.StringVar(&bauds, "bauds", joinInts(defaultBauds), "Comma-separated baud rates for -scan")
	flag.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	gps.SetDebug(debug)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if opts.Device == "" {
		opts.Device = cfg.GPSDevice
	}
	if opts.Baud <= 0 {
		opts.Baud = cfg.GPSBaudrate
	}
	if opts.DeviceType == "" {
		opts.DeviceType = cfg.DeviceType
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if scan {
		list, err := parseInts(bauds)
		if err != nil {
			log.Fatalf("bad -bauds: %v", err)
		}
		results := probeBauds(ctx, gps.OpenSerial, opts.Device, list, 3*time.Second)
		printProbe(os.Stdout, opts.Device, results)
		return
	}

	if reset {
		if opts.Replay != "" {
			log.Fatalf("-reset needs a live device")
		}
		if err := resetReceiver(gps.OpenSerial, opts.Device, opts.Baud); err != nil {
			log.Fatalf("reset failed: %v", err)
		}
		log.Printf("cold start sent, waiting for the receiver to restart")
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
	}

	rep, err := runDiag(ctx, opts, cfg, gps.OpenSerial)
	if err != nil {
		log.Fatalf("diag failed: %v", err)
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
		return
	}
	printReport(os.Stdout, rep)
}

// replayPort serves a capture as a port that swallows writes.
type replayPort struct {
	io.Reader
}

func (replayPort) Write(p []byte) (int, error) { return len(p), nil }
func (replayPort) Close() error                { return nil }

// runDiag listens for opts.Duration (or until a capture is exhausted) and
// builds the report.
func runDiag(ctx context.Context, opts options, cfg config.Config, open opener) (report, error) {
	gcfg := gps.Config{
		Device:    opts.Device,
		Baud:      opts.Baud,
		Configure: opts.Configure,
		Configurator: gps.ConfiguratorOptions{
			DeviceType:     opts.DeviceType,
			DeadReckoning:  cfg.DeadReckoningEnabled,
			DynamicModel:   cfg.DynamicModel,
			UpdateRateHz:   cfg.UpdateRateHz,
			Constellations: cfg.Constellation,
			HighRate:       cfg.HighRatePositioning,
			HNRRateHz:      cfg.HNRRateHz,
			SensorFusion:   cfg.SensorFusionEnabled,
			SatelliteInfo:  true,
		},
		Open: open,
	}
	source := opts.Device
	if opts.Replay != "" {
		records, err := replay.ReadFile(opts.Replay)
		if err != nil {
			return report{}, err
		}
		source = opts.Replay
		gcfg.Device = opts.Replay
		gcfg.Configure = false
		gcfg.Reader.StopOnEOF = true
		gcfg.Open = func(string, int) (io.ReadWriteCloser, error) {
			return replayPort{Reader: replay.NewSource(records)}, nil
		}
	}

	svc := gps.New(gcfg)
	started := time.Now()
	if err := svc.Start(ctx); err != nil {
		st := svc.Status()
		return report{
			Source:   source,
			Status:   st,
			Snapshot: gps.Snapshot{},
			Findings: diagnose(st, gps.Snapshot{}, opts.Configure),
		}, nil
	}

	timer := time.NewTimer(opts.Duration)
	defer timer.Stop()
	select {
	case <-svc.Done():
	case <-timer.C:
	case <-ctx.Done():
	}
	svc.Close()

	st := svc.Status()
	snap := svc.Snapshot()
	return report{
		Source:   source,
		Seconds:  time.Since(started).Seconds(),
		Status:   st,
		Snapshot: snap,
		Findings: diagnose(st, snap, gcfg.Configure),
	}, nil
}

// resetReceiver sends a cold start with every battery-backed section cleared.
func resetReceiver(open opener, device string, baud int) error {
	port, err := open(device, baud)
	if err != nil {
		return err
	}
	defer port.Close()
	if _, err := port.Write(ubx.CfgRst(0xFFFF, 0x02)); err != nil {
		return fmt.Errorf("write CFG-RST: %w", err)
	}
	return nil
}

type probeResult struct {
	Baud   int
	Bytes  uint64
	UBX    uint64
	NMEA   uint64
	BadSum uint64
	Err    error
}

func (p probeResult) frames() uint64 { return p.UBX + p.NMEA }

// probeBauds listens on each rate for window and counts what the scanner
// recognises. It stops early at the first rate that yields valid frames.
func probeBauds(ctx context.Context, open opener, device string, bauds []int, window time.Duration) []probeResult {
	out := make([]probeResult, 0, len(bauds))
	for _, baud := range bauds {
		if ctx.Err() != nil {
			break
		}
		res := probeOne(ctx, open, device, baud, window)
		out = append(out, res)
		if res.frames() > 0 && res.BadSum == 0 {
			break
		}
	}
	return out
}

func probeOne(ctx context.Context, open opener, device string, baud int, window time.Duration) probeResult {
	res := probeResult{Baud: baud}
	port, err := open(device, baud)
	if err != nil {
		res.Err = err
		return res
	}
	defer port.Close()

	sc := gps.NewScanner(gps.DefaultMaxBuffer)
	buf := make([]byte, 1024)
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		n, err := port.Read(buf)
		if n > 0 {
			sc.Feed(buf[:n])
		}
		if err != nil && !errors.Is(err, io.EOF) {
			res.Err = err
			break
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	st := sc.Stats()
	res.Bytes = st.Bytes
	res.UBX = st.UBXFrames
	res.NMEA = st.NMEASentences
	res.BadSum = st.ChecksumErrors
	return res
}

func printProbe(w io.Writer, device string, results []probeResult) {
	fmt.Fprintf(w, "baud scan on %s\n", device)
	found := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "  %6d: %v\n", r.Baud, r.Err)
			continue
		}
		fmt.Fprintf(w, "  %6d: %d bytes, %d UBX, %d NMEA, %d bad checksums\n", r.Baud, r.Bytes, r.UBX, r.NMEA, r.BadSum)
		if r.frames() > 0 && r.BadSum == 0 {
			found = r.Baud
		}
	}
	if found != 0 {
		fmt.Fprintf(w, "receiver answers at %d baud\n", found)
		return
	}
	fmt.Fprintln(w, "no rate produced clean frames: check power, cabling and the device path")
}

func printReport(w io.Writer, rep report) {
	st := rep.Status
	fmt.Fprintf(w, "source: %s (%.1fs)\n", rep.Source, rep.Seconds)
	fmt.Fprintf(w, "state: %s liveness: %s\n", st.State, st.Liveness)
	fmt.Fprintf(w, "bytes: %d  ubx: %d  nmea: %d  checksum errors: %d  discarded: %d\n",
		st.Scan.Bytes, st.Scan.UBXFrames, st.Scan.NMEASentences, st.Scan.ChecksumErrors, st.Scan.Discarded)
	if st.Configurator.Sent > 0 {
		fmt.Fprintf(w, "configuration: sent %d acked %d rejected %d\n", st.Configurator.Sent, st.Configurator.Acked, len(st.Configurator.Rejected))
	}
	if counts := sortedCounts(st.Messages); len(counts) > 0 {
		fmt.Fprintln(w, "messages:")
		for _, c := range counts {
			fmt.Fprintf(w, "  %-14s %d\n", c.Identity, c.Count)
		}
	}
	if len(rep.Snapshot) > 0 {
		b, err := json.MarshalIndent(rep.Snapshot, "", "  ")
		if err == nil {
			fmt.Fprintf(w, "snapshot:\n%s\n", b)
		}
	}
	fmt.Fprintln(w, "findings:")
	for _, f := range rep.Findings {
		fmt.Fprintf(w, "  - %s\n", f)
	}
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
