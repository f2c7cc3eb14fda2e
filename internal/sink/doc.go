// Package sink holds the optional telemetry publishers: an MQTT state
// document with Home Assistant discovery, and an InfluxDB time series.
package sink
