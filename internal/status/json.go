package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Hosts         []HostJSON `json:"hosts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// HostJSON is the JSON representation of one host.
type HostJSON struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Running     bool      `json:"running"`
	Mode        string    `json:"mode"`
	Speed       int       `json:"speed"`
	Temperature int       `json:"temperature"`
	Readings    []float64 `json:"readings"`
	Band        int       `json:"band"`
	Fallback    bool      `json:"fallback"`
	LastSample  string    `json:"last_sample,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	IntervalMs int64  `json:"interval_ms"`
	Broker     string `json:"broker"`
	HTTPAddr   string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Hosts:         make([]HostJSON, 0, len(snap.Hosts)),
		Config: ConfigJSON{
			IntervalMs: snap.Config.IntervalMs,
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
		},
	}
	for _, h := range snap.Hosts {
		inner.Hosts = append(inner.Hosts, buildHost(h))
	}
	return inner
}

func buildHost(h HostStatus) HostJSON {
	mode := string(h.Mode)
	if mode == "" {
		mode = "unknown"
	}
	hj := HostJSON{
		Name:        h.Name,
		Type:        h.Type,
		Running:     h.Running,
		Mode:        mode,
		Speed:       h.Speed,
		Temperature: h.Temperature,
		Readings:    h.Readings,
		Band:        h.Band,
		Fallback:    h.Fallback,
		LastError:   h.LastError,
	}
	if hj.Readings == nil {
		hj.Readings = []float64{}
	}
	if !h.LastSample.IsZero() {
		hj.LastSample = h.LastSample.UTC().Format(time.RFC3339)
	}
	return hj
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatHostJSON returns a single host's entry as served on /hosts/{name}.
func FormatHostJSON(h HostStatus) []byte {
	data, _ := json.MarshalIndent(buildHost(h), "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
