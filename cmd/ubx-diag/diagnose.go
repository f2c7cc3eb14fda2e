package main

import (
	"fmt"
	"sort"
	"strings"

	"ublox-bridge/internal/gps"
)

// report is everything ubx-diag prints after a run.
type report struct {
	Source   string       `json:"source"`
	Seconds  float64      `json:"seconds"`
	Status   gps.Status   `json:"status"`
	Snapshot gps.Snapshot `json:"snapshot"`
	Findings []string     `json:"findings"`
}

// diagnose turns the counters into findings, most fundamental first. A
// healthy run yields a single "ok" line.
func diagnose(st gps.Status, snap gps.Snapshot, configured bool) []string {
	var out []string
	sc := st.Scan
	frames := sc.UBXFrames + sc.NMEASentences

	switch {
	case st.LastError != "" && sc.Bytes == 0:
		return []string{"error: " + st.LastError}
	case sc.Bytes == 0:
		return []string{"no data received: check power, device path, permissions and cabling"}
	case frames == 0:
		return []string{fmt.Sprintf("%d bytes but no frames: baud rate mismatch likely (try -scan)", sc.Bytes)}
	}

	if sc.ChecksumErrors*20 > frames {
		out = append(out, fmt.Sprintf("checksum errors on %d of %d frames: check baud rate and cable", sc.ChecksumErrors, frames))
	}
	if sc.UBXFrames == 0 {
		hint := "run with -configure to enable UBX output"
		if configured {
			hint = "receiver ignored the configuration"
		}
		out = append(out, "only NMEA output: "+hint)
	} else if st.Messages["NAV-PVT"] == 0 {
		out = append(out, "no NAV-PVT messages: navigation output not enabled")
	}
	if len(st.Configurator.Rejected) > 0 {
		out = append(out, "receiver rejected: "+strings.Join(st.Configurator.Rejected, ", "))
	}
	if configured && st.Configurator.LastError != "" {
		out = append(out, "configuration: "+st.Configurator.LastError)
	}
	if st.DecodeErrors > 0 {
		out = append(out, fmt.Sprintf("%d frames failed to decode", st.DecodeErrors))
	}

	if label, ok := snap.Text("fix_type"); ok {
		code, _ := snap.Int("fix_type_code")
		sats, _ := snap.Int("satellites_used")
		switch {
		case code == 0:
			out = append(out, fmt.Sprintf("no position fix (%d satellites): check antenna sky view", sats))
		case sats < 4:
			out = append(out, fmt.Sprintf("%s with only %d satellites", label, sats))
		}
		if carr, ok := snap.Text("carrier_solution"); ok && carr == "none" && code >= 2 && code <= 4 {
			if st.CorrectionBytes == 0 {
				out = append(out, "no RTK solution: no corrections were sent")
			} else {
				out = append(out, "no RTK solution despite corrections: check mountpoint distance and message types")
			}
		}
	}

	if len(out) == 0 {
		return []string{"ok"}
	}
	return out
}

type identityCount struct {
	Identity string
	Count    uint64
}

// sortedCounts orders message identities by count, then name.
func sortedCounts(m map[string]uint64) []identityCount {
	out := make([]identityCount, 0, len(m))
	for k, v := range m {
		out = append(out, identityCount{Identity: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}
