package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"
)

// ReceiverInfo identifies the attached module. Firmware fields stay empty
// until the receiver has answered the MON-VER poll.
type ReceiverInfo struct {
	Device    string `json:"device,omitempty"`
	Baud      int    `json:"baud,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Module    string `json:"module,omitempty"`
	Firmware  string `json:"firmware,omitempty"`
	Software  string `json:"sw_version,omitempty"`
	Hardware  string `json:"hw_version,omitempty"`
}

type AboutResponse struct {
	Service   string        `json:"service"`
	NowUTC    string        `json:"now_utc"`
	GoVersion string        `json:"go_version"`
	Build     BuildInfo     `json:"build"`
	Receiver  *ReceiverInfo `json:"receiver,omitempty"`
}

type BuildInfo struct {
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	Time       string `json:"time,omitempty"`
}

func readBuildInfo() BuildInfo {
	var out BuildInfo
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.Time = s.Value
		}
	}
	return out
}

// receiverInfo reads identity from the status sources, or nil when no
// receiver is wired.
func receiverInfo(src Sources) *ReceiverInfo {
	if src.GPS == nil {
		return nil
	}
	st := src.GPS()
	info := &ReceiverInfo{Device: st.Device, Baud: st.Baud, SessionID: st.SessionID}
	if src.Snapshot != nil {
		snap := src.Snapshot()
		info.Module, _ = snap.Text("receiver_module")
		info.Firmware, _ = snap.Text("receiver_firmware")
		info.Software, _ = snap.Text("receiver_sw_version")
		info.Hardware, _ = snap.Text("receiver_hw_version")
	}
	return info
}

func AboutHandler(status *Status) http.Handler {
	build := readBuildInfo()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		resp := AboutResponse{
			Service:   serviceName,
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion: runtime.Version(),
			Build:     build,
		}
		if status != nil {
			resp.Receiver = receiverInfo(status.Sources())
		}
		writeJSON(w, resp)
	})
}
