package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"ublox-bridge/internal/gps"
)

const Measurement = "gnss"

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Influx writes one point per publish interval with the blocking API, so a
// failing server surfaces as an error on the publish call.
type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking

	mu      sync.Mutex
	points  uint64
	lastErr string
}

type InfluxStats struct {
	Points    uint64 `json:"points"`
	LastError string `json:"last_error,omitempty"`
}

func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{client: client, write: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

// Write stores the snapshot. A snapshot without numeric fields is skipped.
func (i *Influx) Write(ctx context.Context, snap gps.Snapshot, now time.Time) error {
	p := Point(snap, now)
	if p == nil {
		return nil
	}
	if err := i.write.WritePoint(ctx, p); err != nil {
		i.mu.Lock()
		i.lastErr = err.Error()
		i.mu.Unlock()
		return fmt.Errorf("influx: write: %w", err)
	}
	i.mu.Lock()
	i.points++
	i.mu.Unlock()
	return nil
}

// Point builds the measurement: numeric snapshot fields as fields, the fix
// label and carrier solution as tags.
func Point(snap gps.Snapshot, now time.Time) *write.Point {
	keys := NumericKeys(snap)
	if len(keys) == 0 {
		return nil
	}
	p := influxdb2.NewPointWithMeasurement(Measurement).SetTime(now)
	if fix, ok := snap.Text("fix_type"); ok {
		p.AddTag("fix_type", fix)
	}
	if carr, ok := snap.Text("carrier_solution"); ok {
		p.AddTag("carrier_solution", carr)
	}
	for _, k := range keys {
		p.AddField(k, snap[k])
	}
	return p
}

func (i *Influx) Stats() InfluxStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return InfluxStats{Points: i.points, LastError: i.lastErr}
}

func (i *Influx) Close() {
	i.client.Close()
}
