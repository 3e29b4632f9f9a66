// Package config loads and validates the fan-controller YAML configuration.
//
// The file is read once at startup with viper. Command-line flags bound
// through BindFlags override the file only when set explicitly. The raw
// document is converted into typed records; nothing downstream checks for
// key presence at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/fan-controller/internal/logic"
	"github.com/sweeney/fan-controller/internal/mqtt"
)

// DefaultPath is where the configuration is read from when no path is given.
const DefaultPath = "/etc/fan_controller/config.yaml"

// Defaults applied when the file omits a value.
const (
	DefaultCommandTimeout = 15 * time.Second
	DefaultInterface      = "lanplus"
	DefaultSensorChip     = "coretemp"
	DefaultClientID       = "fan-controller"
)

// HostType selects how a host is sampled and which BMC transport is used.
type HostType string

const (
	HostLocal  HostType = "local"
	HostRemote HostType = "remote"
)

// Config is the validated configuration.
type Config struct {
	General General
	MQTT    MQTT
	HTTP    HTTP
	Hosts   []Host
}

// General holds process-wide settings.
type General struct {
	Interval       time.Duration
	Debug          bool
	CommandTimeout time.Duration
}

// MQTT configures event publishing. An empty Broker disables it.
type MQTT struct {
	Broker   string
	Topic    string
	ClientID string
}

// HTTP configures the status server. An empty Addr disables it.
type HTTP struct {
	Addr string
}

// Host is one managed machine.
type Host struct {
	Name       string
	Type       HostType
	Hysteresis float64
	SensorChip string
	Remote     *Remote
	Thresholds []logic.Threshold
}

// Remote holds the BMC endpoint and sampling command of a remote host.
type Remote struct {
	Host      string
	Interface string
	User      string
	Pass      string
	Command   string
}

// Flag names bound by BindFlags.
const (
	FlagConfig   = "config"
	FlagInterval = "interval"
	FlagVerbose  = "verbose"
)

// BindFlags registers the configuration flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.StringP(FlagConfig, "c", DefaultPath, "configuration file path")
	fs.IntP(FlagInterval, "i", 0, "interval to run check, in seconds")
	fs.BoolP(FlagVerbose, "v", false, "increase output verbosity")
}

// Load reads the file at path and applies explicitly set flags from fs
// (which may be nil). Auto-corrected values are reported on log.
func Load(path string, fs *pflag.FlagSet, log *zap.SugaredLogger) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if fs != nil {
		if f := fs.Lookup(FlagInterval); f != nil && f.Changed {
			if err := v.BindPFlag("general.interval", f); err != nil {
				return nil, fmt.Errorf("bind interval flag: %w", err)
			}
		}
		if f := fs.Lookup(FlagVerbose); f != nil && f.Changed {
			if err := v.BindPFlag("general.debug", f); err != nil {
				return nil, fmt.Errorf("bind verbose flag: %w", err)
			}
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return raw.convert(log)
}

// rawConfig mirrors the YAML document.
type rawConfig struct {
	General rawGeneral `mapstructure:"general"`
	MQTT    rawMQTT    `mapstructure:"mqtt"`
	HTTP    rawHTTP    `mapstructure:"http"`
	Hosts   []rawHost  `mapstructure:"hosts"`
}

type rawGeneral struct {
	Interval       int  `mapstructure:"interval"`
	Debug          bool `mapstructure:"debug"`
	CommandTimeout int  `mapstructure:"command_timeout"`
}

type rawMQTT struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

type rawHTTP struct {
	Addr string `mapstructure:"addr"`
}

type rawHost struct {
	Name       string         `mapstructure:"name"`
	Type       string         `mapstructure:"type"`
	Hysteresis *float64       `mapstructure:"hysteresis"`
	SensorChip string         `mapstructure:"sensor_chip"`
	RemoteCfg  *rawRemote     `mapstructure:"remote_cfg"`
	Threshold  []rawThreshold `mapstructure:"threshold"`
}

type rawRemote struct {
	Host      string   `mapstructure:"host"`
	Interface string   `mapstructure:"interface"`
	Creds     rawCreds `mapstructure:"creds"`
	Command   string   `mapstructure:"command"`
}

type rawCreds struct {
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
}

type rawThreshold struct {
	Temperature float64 `mapstructure:"temperature"`
	Speed       int     `mapstructure:"speed"`
}

func (r rawConfig) convert(log *zap.SugaredLogger) (*Config, error) {
	cfg := &Config{
		General: General{
			Interval:       time.Duration(r.General.Interval) * time.Second,
			Debug:          r.General.Debug,
			CommandTimeout: DefaultCommandTimeout,
		},
		MQTT: MQTT{
			Broker:   strings.TrimSpace(r.MQTT.Broker),
			Topic:    strings.Trim(strings.TrimSpace(r.MQTT.Topic), "/"),
			ClientID: strings.TrimSpace(r.MQTT.ClientID),
		},
		HTTP: HTTP{Addr: strings.TrimSpace(r.HTTP.Addr)},
	}
	if r.General.Interval <= 0 {
		return nil, &ValidationError{Field: "general.interval", Reason: "must be a positive number of seconds"}
	}
	if r.General.CommandTimeout < 0 {
		return nil, &ValidationError{Field: "general.command_timeout", Reason: "must not be negative"}
	}
	if r.General.CommandTimeout > 0 {
		cfg.General.CommandTimeout = time.Duration(r.General.CommandTimeout) * time.Second
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = mqtt.DefaultTopic
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultClientID
	}

	if len(r.Hosts) == 0 {
		return nil, &KeyError{Key: "hosts"}
	}

	seen := make(map[string]bool, len(r.Hosts))
	locals := 0
	for i, rh := range r.Hosts {
		h, err := rh.convert(i, log)
		if err != nil {
			return nil, err
		}
		if seen[h.Name] {
			return nil, &ValidationError{Host: h.Name, Field: "name", Reason: "duplicate host name"}
		}
		seen[h.Name] = true
		if h.Type == HostLocal {
			locals++
			if locals > 1 {
				return nil, &ValidationError{Host: h.Name, Field: "type", Reason: "only one local host can be controlled"}
			}
		}
		cfg.Hosts = append(cfg.Hosts, h)
	}
	return cfg, nil
}

func (r rawHost) convert(index int, log *zap.SugaredLogger) (Host, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return Host{}, &KeyError{Host: fmt.Sprintf("hosts[%d]", index), Key: "name"}
	}
	h := Host{Name: name, Type: HostType(strings.ToLower(strings.TrimSpace(r.Type)))}

	switch h.Type {
	case HostLocal:
		h.SensorChip = strings.TrimSpace(r.SensorChip)
		if h.SensorChip == "" {
			h.SensorChip = DefaultSensorChip
		}
	case HostRemote:
		if r.RemoteCfg == nil {
			return Host{}, &KeyError{Host: name, Key: "remote_cfg"}
		}
		rem, err := r.RemoteCfg.convert(name)
		if err != nil {
			return Host{}, err
		}
		h.Remote = rem
	case "":
		return Host{}, &KeyError{Host: name, Key: "type"}
	default:
		return Host{}, &ValidationError{Host: name, Field: "type", Reason: fmt.Sprintf("unknown host type %q", r.Type)}
	}

	if r.Hysteresis == nil {
		log.Warnw("hysteresis not defined... setting it to 0°C", "host", name)
	} else {
		if *r.Hysteresis < 0 {
			return Host{}, &ValidationError{Host: name, Field: "hysteresis", Reason: "must not be negative"}
		}
		h.Hysteresis = *r.Hysteresis
	}

	if len(r.Threshold) == 0 {
		return Host{}, &KeyError{Host: name, Key: "threshold"}
	}
	for i, t := range r.Threshold {
		if i > 0 && t.Temperature <= r.Threshold[i-1].Temperature {
			return Host{}, &ValidationError{Host: name, Field: fmt.Sprintf("threshold[%d]", i), Reason: "temperatures must be strictly ascending"}
		}
		speed := t.Speed
		if speed < logic.MinSpeed {
			log.Warnw("minimum speed is 5%", "host", name, "temperature", t.Temperature, "speed", t.Speed)
		}
		if speed > logic.MaxSpeed {
			log.Warnw("maximum speed is 100%", "host", name, "temperature", t.Temperature, "speed", t.Speed)
		}
		h.Thresholds = append(h.Thresholds, logic.Threshold{
			Temperature: t.Temperature,
			Speed:       logic.ClampSpeed(speed),
		})
	}
	return h, nil
}

func (r *rawRemote) convert(host string) (*Remote, error) {
	rem := &Remote{
		Host:      strings.TrimSpace(r.Host),
		Interface: strings.TrimSpace(r.Interface),
		User:      r.Creds.User,
		Pass:      r.Creds.Pass,
		Command:   strings.TrimSpace(r.Command),
	}
	if rem.Interface == "" {
		rem.Interface = DefaultInterface
	}
	switch {
	case rem.Host == "":
		return nil, &KeyError{Host: host, Key: "remote_cfg.host"}
	case rem.User == "":
		return nil, &KeyError{Host: host, Key: "remote_cfg.creds.user"}
	case rem.Pass == "":
		return nil, &KeyError{Host: host, Key: "remote_cfg.creds.pass"}
	case rem.Command == "":
		return nil, &KeyError{Host: host, Key: "remote_cfg.command"}
	}
	return rem, nil
}
