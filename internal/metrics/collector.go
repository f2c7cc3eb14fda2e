// Package metrics exposes component diagnostics to Prometheus. Values are
// read from the components at scrape time; nothing is cached here.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ublox-bridge/internal/gps"
	"ublox-bridge/internal/ntrip"
	"ublox-bridge/internal/rtcm"
)

const namespace = "ublox"

// Sources are the diagnostics providers. Nil providers are skipped.
type Sources struct {
	GPS      func() gps.Status
	Snapshot func() gps.Snapshot
	RTCM     func() rtcm.Statistics
	NTRIP    func() ntrip.Snapshot
}

type Collector struct {
	src Sources

	gpsReady       *prometheus.Desc
	gpsBytes       *prometheus.Desc
	gpsFrames      *prometheus.Desc
	gpsMessages    *prometheus.Desc
	gpsChecksum    *prometheus.Desc
	gpsDiscarded   *prometheus.Desc
	gpsDecodeErr   *prometheus.Desc
	gpsValidErr    *prometheus.Desc
	gpsPolls       *prometheus.Desc
	gpsDataAge     *prometheus.Desc
	gpsConfigSteps *prometheus.Desc
	gpsCorrBytes   *prometheus.Desc

	fixType    *prometheus.Desc
	satellites *prometheus.Desc
	hAcc       *prometheus.Desc
	vAcc       *prometheus.Desc

	rtcmMessages  *prometheus.Desc
	rtcmTypes     *prometheus.Desc
	rtcmCRC       *prometheus.Desc
	rtcmMalformed *prometheus.Desc
	rtcmBytes     *prometheus.Desc
	rtcmRate      *prometheus.Desc

	ntripConnected  *prometheus.Desc
	ntripBytes      *prometheus.Desc
	ntripReconnects *prometheus.Desc
}

func desc(sub, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, labels, nil)
}

func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,

		gpsReady:       desc("gps", "ready", "1 when the receiver is configured and streaming.", "state"),
		gpsBytes:       desc("gps", "bytes_total", "Bytes read from the serial port."),
		gpsFrames:      desc("gps", "frames_total", "Frames extracted from the serial stream.", "protocol"),
		gpsMessages:    desc("gps", "messages_total", "Decoded messages by identity.", "identity"),
		gpsChecksum:    desc("gps", "checksum_errors_total", "UBX and NMEA checksum failures."),
		gpsDiscarded:   desc("gps", "discarded_bytes_total", "Bytes skipped while resynchronizing."),
		gpsDecodeErr:   desc("gps", "decode_errors_total", "Frames that failed to decode."),
		gpsValidErr:    desc("gps", "validation_errors_total", "Decoded messages dropped as implausible."),
		gpsPolls:       desc("gps", "polls_total", "NAV-PVT polls sent after prolonged silence."),
		gpsDataAge:     desc("gps", "data_age_seconds", "Seconds since the last decoded message."),
		gpsConfigSteps: desc("gps", "configuration_steps", "Configuration steps by outcome.", "result"),
		gpsCorrBytes:   desc("gps", "correction_bytes_total", "Correction bytes written to the receiver."),

		fixType:    desc("gps", "fix_type", "NAV-PVT fix type code.", "label"),
		satellites: desc("gps", "satellites_used", "Satellites used in the navigation solution."),
		hAcc:       desc("gps", "horizontal_accuracy_meters", "Horizontal accuracy estimate."),
		vAcc:       desc("gps", "vertical_accuracy_meters", "Vertical accuracy estimate."),

		rtcmMessages:  desc("rtcm", "messages_total", "Correction messages by outcome.", "result"),
		rtcmTypes:     desc("rtcm", "forwarded_messages_total", "Forwarded correction messages by type.", "type"),
		rtcmCRC:       desc("rtcm", "crc_errors_total", "Correction frames failing CRC-24Q."),
		rtcmMalformed: desc("rtcm", "malformed_headers_total", "Correction frames with a bad header."),
		rtcmBytes:     desc("rtcm", "bytes_total", "Correction bytes by outcome.", "result"),
		rtcmRate:      desc("rtcm", "data_rate_bps", "Correction input rate over the trailing window."),

		ntripConnected:  desc("ntrip", "connected", "1 while the caster stream is delivering data."),
		ntripBytes:      desc("ntrip", "bytes_total", "Bytes received from the caster."),
		ntripReconnects: desc("ntrip", "reconnects_total", "Caster connections that ended."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.gpsReady, c.gpsBytes, c.gpsFrames, c.gpsMessages, c.gpsChecksum, c.gpsDiscarded,
		c.gpsDecodeErr, c.gpsValidErr, c.gpsPolls, c.gpsDataAge, c.gpsConfigSteps, c.gpsCorrBytes,
		c.fixType, c.satellites, c.hAcc, c.vAcc,
		c.rtcmMessages, c.rtcmTypes, c.rtcmCRC, c.rtcmMalformed, c.rtcmBytes, c.rtcmRate,
		c.ntripConnected, c.ntripBytes, c.ntripReconnects,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	if c.src.GPS != nil {
		st := c.src.GPS()
		ready := 0.0
		if st.State == gps.StateReady.String() {
			ready = 1
		}
		gauge(c.gpsReady, ready, st.State)
		counter(c.gpsBytes, st.Scan.Bytes)
		counter(c.gpsFrames, st.Scan.UBXFrames, "ubx")
		counter(c.gpsFrames, st.Scan.NMEASentences, "nmea")
		for id, n := range st.Messages {
			counter(c.gpsMessages, n, id)
		}
		counter(c.gpsChecksum, st.Scan.ChecksumErrors)
		counter(c.gpsDiscarded, st.Scan.Discarded)
		counter(c.gpsDecodeErr, st.DecodeErrors)
		counter(c.gpsValidErr, st.ValidationErrors)
		counter(c.gpsPolls, st.Polls)
		if st.LastDataUTC != "" {
			gauge(c.gpsDataAge, st.DataAgeSec)
		}
		gauge(c.gpsConfigSteps, float64(st.Configurator.Sent), "sent")
		gauge(c.gpsConfigSteps, float64(st.Configurator.Acked), "acked")
		gauge(c.gpsConfigSteps, float64(st.Configurator.Failed), "failed")
		counter(c.gpsCorrBytes, st.CorrectionBytes)
	}

	if c.src.Snapshot != nil {
		snap := c.src.Snapshot()
		if code, ok := snap.Int("fix_type_code"); ok {
			label, _ := snap.Text("fix_type")
			gauge(c.fixType, float64(code), label)
		}
		if n, ok := snap.Int("satellites_used"); ok {
			gauge(c.satellites, float64(n))
		}
		if v, ok := snap.Float("horizontal_accuracy"); ok {
			gauge(c.hAcc, v)
		}
		if v, ok := snap.Float("vertical_accuracy"); ok {
			gauge(c.vAcc, v)
		}
	}

	if c.src.RTCM != nil {
		st := c.src.RTCM()
		counter(c.rtcmMessages, st.Valid, "valid")
		counter(c.rtcmMessages, st.Invalid, "invalid")
		counter(c.rtcmMessages, st.Filtered, "filtered")
		for typ, n := range st.MessageCounts {
			counter(c.rtcmTypes, n, strconv.Itoa(typ))
		}
		counter(c.rtcmCRC, st.CRCErrors)
		counter(c.rtcmMalformed, st.Malformed)
		counter(c.rtcmBytes, st.ForwardedBytes, "forwarded")
		counter(c.rtcmBytes, st.DiscardedBytes, "discarded")
		gauge(c.rtcmRate, st.DataRateBPS)
	}

	if c.src.NTRIP != nil {
		st := c.src.NTRIP()
		connected := 0.0
		if st.Connected {
			connected = 1
		}
		gauge(c.ntripConnected, connected)
		counter(c.ntripBytes, st.BytesReceived)
		counter(c.ntripReconnects, st.Reconnects)
	}
}

// Handler serves the collector from its own registry.
func Handler(src Sources) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(src))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
