// Package status provides a thread-safe status tracker for the fan-controller daemon.
// Controllers write one HostStatus each; HTTP handlers and MQTT lifecycle
// events read point-in-time snapshots.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/fan-controller/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	IntervalMs int64
	Broker     string
	HTTPAddr   string
}

// HostStatus is the last known state of one controlled host.
type HostStatus struct {
	Name        string
	Type        string
	Running     bool
	Mode        logic.Mode
	Speed       int
	Temperature int // last rounded average, -1 before the first sample
	Readings    []float64
	Band        int // matching threshold index, -1 when none
	Fallback    bool
	LastSample  time.Time
	LastError   string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Hosts         []HostStatus // sorted by name
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Host returns the status of the named host.
func (s Snapshot) Host(name string) (HostStatus, bool) {
	for _, h := range s.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HostStatus{}, false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu            sync.RWMutex
	hosts         map[string]HostStatus
	startTime     time.Time
	mqttConnected bool
	cfg           Config
	now           func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		hosts:     make(map[string]HostStatus),
		startTime: startTime,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Update replaces the status of hs.Name.
// Called by each controller after every iteration.
func (t *Tracker) Update(hs HostStatus) {
	hs.Readings = append([]float64(nil), hs.Readings...)
	t.mu.Lock()
	t.hosts[hs.Name] = hs
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		Hosts:         make([]HostStatus, 0, len(t.hosts)),
		StartTime:     t.startTime,
		MQTTConnected: t.mqttConnected,
		Config:        t.cfg,
	}
	for _, h := range t.hosts {
		h.Readings = append([]float64(nil), h.Readings...)
		s.Hosts = append(s.Hosts, h)
	}
	t.mu.RUnlock()

	sort.Slice(s.Hosts, func(i, j int) bool { return s.Hosts[i].Name < s.Hosts[j].Name })
	s.Now = t.now()
	return s
}
