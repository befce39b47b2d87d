// Package config loads the bridge configuration file. The schema uses
// pointer fields so that omitted values fall back to defaults through the
// Get* accessors, and partial configs stay safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/laminar-data/fgbridge/internal/serialmux"
	"github.com/laminar-data/fgbridge/internal/units"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/bridge.defaults.json"

// BridgeConfig is the root configuration.
type BridgeConfig struct {
	// ReferenceHeading is the runway/reference heading in degrees shared by
	// the vehicle transforms. Each endpoint receives its own copy at
	// construction; there is no process-global default.
	ReferenceHeading *float64 `json:"reference_heading,omitempty"`

	// OriginLat/OriginLon anchor the local coordinate frame.
	OriginLat *float64 `json:"origin_lat,omitempty"`
	OriginLon *float64 `json:"origin_lon,omitempty"`

	// ProtocolDir confines protocol description paths.
	ProtocolDir *string `json:"protocol_dir,omitempty"`

	// DBPath and MigrationsDir configure telemetry recording. Recording is
	// enabled by RecordTelemetry.
	DBPath          *string `json:"db_path,omitempty"`
	MigrationsDir   *string `json:"migrations_dir,omitempty"`
	RecordTelemetry *bool   `json:"record_telemetry,omitempty"`

	// MonitorMaxSamples bounds the in-memory telemetry history per vehicle.
	MonitorMaxSamples *int `json:"monitor_max_samples,omitempty"`

	// StatsInterval is a duration string like "60s" controlling periodic
	// endpoint statistics logging.
	StatsInterval *string `json:"stats_interval,omitempty"`

	Vehicles []VehicleConfig `json:"vehicles"`
}

// VehicleConfig describes one simulated vehicle's communication channel.
type VehicleConfig struct {
	Name string `json:"name"`

	// Host of the simulator instance. Defaults to localhost.
	Host *string `json:"host,omitempty"`

	// InputProtocol is the generic-protocol XML describing the outbound
	// command fields. Fields may be given inline instead.
	InputProtocol *string  `json:"input_protocol,omitempty"`
	Fields        []string `json:"fields,omitempty"`

	// StateLabels optionally names the inbound telemetry channels for the
	// monitor; the inbound arity is simulator-defined.
	StateLabels []string `json:"state_labels,omitempty"`

	// RecvPort is bound locally for inbound state; SendPort is the remote
	// command port.
	RecvPort int `json:"recv_port"`
	SendPort int `json:"send_port"`

	// TelnetPort enables the props interface when set.
	TelnetPort *int `json:"telnet_port,omitempty"`

	// IgnoreEmptyPackets switches the receive loop to treat empty payloads
	// as heartbeats instead of end-of-stream.
	IgnoreEmptyPackets *bool `json:"ignore_empty_packets,omitempty"`

	// Serial configures an optional serial telemetry tap.
	Serial *SerialTapConfig `json:"serial,omitempty"`

	// Presets seed per-field scale and bias at startup.
	Presets []PresetConfig `json:"presets,omitempty"`
}

// SerialTapConfig describes a serial port carrying generic-protocol lines.
type SerialTapConfig struct {
	Path string `json:"path"`
	serialmux.PortOptions
}

// PresetConfig seeds one field's transform coefficients. Scale may be given
// directly or derived from a unit pair, e.g. from "deg" to "rad".
type PresetConfig struct {
	Field string   `json:"field"`
	Scale *float64 `json:"scale,omitempty"`
	Bias  *float64 `json:"bias,omitempty"`

	FromUnit string `json:"from_unit,omitempty"`
	ToUnit   string `json:"to_unit,omitempty"`
}

// GetScale resolves the preset's scale factor: the explicit value when set,
// otherwise the conversion factor for the unit pair. Returns false when the
// preset carries no scale at all.
func (p *PresetConfig) GetScale() (float64, bool) {
	if p.Scale != nil {
		return *p.Scale, true
	}
	if p.FromUnit != "" && p.ToUnit != "" {
		return units.ScaleFor(p.FromUnit, p.ToUnit), true
	}
	return 1.0, false
}

// Load reads and validates a configuration file. The file must have a .json
// extension and be under 1MB.
func Load(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &BridgeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *BridgeConfig) Validate() error {
	if len(c.Vehicles) == 0 {
		return fmt.Errorf("at least one vehicle is required")
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval %q: %w", *c.StatsInterval, err)
		}
	}

	seenNames := map[string]bool{}
	seenPorts := map[int]string{}
	for i, v := range c.Vehicles {
		if v.Name == "" {
			return fmt.Errorf("vehicle %d has no name", i)
		}
		if seenNames[v.Name] {
			return fmt.Errorf("duplicate vehicle name %q", v.Name)
		}
		seenNames[v.Name] = true

		if v.InputProtocol == nil && len(v.Fields) == 0 {
			return fmt.Errorf("vehicle %q needs input_protocol or fields", v.Name)
		}
		if v.InputProtocol != nil && len(v.Fields) > 0 {
			return fmt.Errorf("vehicle %q: input_protocol and fields are mutually exclusive", v.Name)
		}

		if v.RecvPort <= 0 || v.RecvPort > 65535 {
			return fmt.Errorf("vehicle %q: invalid recv_port %d", v.Name, v.RecvPort)
		}
		if v.SendPort <= 0 || v.SendPort > 65535 {
			return fmt.Errorf("vehicle %q: invalid send_port %d", v.Name, v.SendPort)
		}
		if other, taken := seenPorts[v.RecvPort]; taken {
			return fmt.Errorf("vehicle %q: recv_port %d already used by %q", v.Name, v.RecvPort, other)
		}
		seenPorts[v.RecvPort] = v.Name

		if v.Serial != nil {
			if v.Serial.Path == "" {
				return fmt.Errorf("vehicle %q: serial tap needs a path", v.Name)
			}
			if _, err := v.Serial.Normalize(); err != nil {
				return fmt.Errorf("vehicle %q: %w", v.Name, err)
			}
		}
		for _, p := range v.Presets {
			if p.Field == "" {
				return fmt.Errorf("vehicle %q: preset without field name", v.Name)
			}
			if p.Scale != nil && (p.FromUnit != "" || p.ToUnit != "") {
				return fmt.Errorf("vehicle %q: preset %q sets both scale and a unit pair", v.Name, p.Field)
			}
			if (p.FromUnit == "") != (p.ToUnit == "") {
				return fmt.Errorf("vehicle %q: preset %q needs both from_unit and to_unit", v.Name, p.Field)
			}
		}
	}
	return nil
}

// GetReferenceHeading returns the reference heading or 0.
func (c *BridgeConfig) GetReferenceHeading() float64 {
	if c.ReferenceHeading == nil {
		return 0
	}
	return *c.ReferenceHeading
}

// GetProtocolDir returns the protocol directory or "protocols".
func (c *BridgeConfig) GetProtocolDir() string {
	if c.ProtocolDir == nil || *c.ProtocolDir == "" {
		return "protocols"
	}
	return *c.ProtocolDir
}

// GetDBPath returns the sqlite path or "bridge_telemetry.db".
func (c *BridgeConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "bridge_telemetry.db"
	}
	return *c.DBPath
}

// GetMigrationsDir returns the migrations directory or
// "internal/db/migrations".
func (c *BridgeConfig) GetMigrationsDir() string {
	if c.MigrationsDir == nil || *c.MigrationsDir == "" {
		return "internal/db/migrations"
	}
	return *c.MigrationsDir
}

// GetRecordTelemetry reports whether recording is enabled. Default off.
func (c *BridgeConfig) GetRecordTelemetry() bool {
	if c.RecordTelemetry == nil {
		return false
	}
	return *c.RecordTelemetry
}

// GetMonitorMaxSamples returns the history bound or 0 for the monitor's
// default.
func (c *BridgeConfig) GetMonitorMaxSamples() int {
	if c.MonitorMaxSamples == nil {
		return 0
	}
	return *c.MonitorMaxSamples
}

// GetStatsInterval returns the stats logging interval or 60s.
func (c *BridgeConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetHost returns the vehicle's simulator host or "localhost".
func (v *VehicleConfig) GetHost() string {
	if v.Host == nil || *v.Host == "" {
		return "localhost"
	}
	return *v.Host
}

// GetIgnoreEmptyPackets reports the empty-payload policy. The default keeps
// the simulator's end-of-stream convention.
func (v *VehicleConfig) GetIgnoreEmptyPackets() bool {
	if v.IgnoreEmptyPackets == nil {
		return false
	}
	return *v.IgnoreEmptyPackets
}
