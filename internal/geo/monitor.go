package geo

import (
	"sync"
	"time"
)

type sample struct {
	at         time.Time
	accuracyCM float64
	rtk        bool
	satellites int
}

// PerformanceMonitor keeps a trailing time window of fix samples.
type PerformanceMonitor struct {
	window time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	samples []sample
}

// PerformanceSummary is the windowed view. Averages are nil when the window
// is empty.
type PerformanceSummary struct {
	AvgAccuracyCM     *float64 `json:"avg_accuracy_cm"`
	AvgSatellites     *float64 `json:"avg_satellites"`
	RTKAvailabilityPc *float64 `json:"rtk_availability_percent"`
	Count             int      `json:"measurement_count"`
	WindowSeconds     float64  `json:"window_size_seconds"`
}

func NewPerformanceMonitor(window time.Duration) *PerformanceMonitor {
	if window <= 0 {
		window = time.Minute
	}
	return &PerformanceMonitor{window: window, Now: time.Now}
}

// Add records one sample and drops samples older than the window.
func (m *PerformanceMonitor) Add(accuracyCM float64, fixLabel string, satellites int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	m.samples = append(m.samples, sample{at: now, accuracyCM: accuracyCM, rtk: IsRTK(fixLabel), satellites: satellites})
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.samples) && m.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}

func (m *PerformanceMonitor) Summary() PerformanceSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := PerformanceSummary{Count: len(m.samples), WindowSeconds: m.window.Seconds()}
	if len(m.samples) == 0 {
		return out
	}
	var acc, sats float64
	rtk := 0
	for _, s := range m.samples {
		acc += s.accuracyCM
		sats += float64(s.satellites)
		if s.rtk {
			rtk++
		}
	}
	n := float64(len(m.samples))
	avgAcc := acc / n
	avgSats := sats / n
	avail := float64(rtk) / n * 100
	out.AvgAccuracyCM = &avgAcc
	out.AvgSatellites = &avgSats
	out.RTKAvailabilityPc = &avail
	return out
}
