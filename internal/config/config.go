package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Actuators   []ActuatorConfig  `yaml:"actuators"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Bus         BusConfig         `yaml:"bus"`
	State       StateConfig       `yaml:"state"`
	Database    DatabaseConfig    `yaml:"database"`
	Queue       QueueConfig       `yaml:"queue"`
	API         APIConfig         `yaml:"api"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Rules       RulesConfig       `yaml:"rules"`
	Log         LogConfig         `yaml:"log"`

	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ActuatorConfig describes one actuator as loaded from YAML.
// Semantic validation happens in the registry, not here.
type ActuatorConfig struct {
	ID              string   `yaml:"id"`
	Kind            string   `yaml:"kind"` // "duration" or "onoff"
	FullOpen        Duration `yaml:"full_open"`
	FullClose       Duration `yaml:"full_close"`
	MaxDuration     Duration `yaml:"max_duration"`
	HasLimit        bool     `yaml:"has_limit"`
	Cooling         Duration `yaml:"cooling"`
	ReversalCooling Duration `yaml:"reversal_cooling"`
	RoofWindow      bool     `yaml:"roof_window"` // subject to the rain interlock
}

// CalibrationConfig controls the daily position reset.
type CalibrationConfig struct {
	DailyResetHour int    `yaml:"daily_reset_hour"` // 0-23 local hour
	OnStartup      bool   `yaml:"on_startup"`
	Timezone       string `yaml:"timezone"`
}

// BusConfig contains UECS-CCM transport settings.
type BusConfig struct {
	Interface       string   `yaml:"interface"` // multicast interface name, empty = default
	Room            int      `yaml:"room"`
	Region          int      `yaml:"region"`
	Order           int      `yaml:"order"`
	MinSendInterval Duration `yaml:"min_send_interval"`
	Retransmit      int      `yaml:"retransmit"`
	RetransmitGap   Duration `yaml:"retransmit_gap"`

	// Per-level CCM type suffix. The correct suffix per level is still
	// being field-tested, so it stays configurable rather than hardcoded.
	Suffixes SuffixConfig `yaml:"suffixes"`
}

// SuffixConfig maps priority levels to the CCM type suffix used on the wire.
type SuffixConfig struct {
	L1 string `yaml:"l1"`
	L2 string `yaml:"l2"`
	L3 string `yaml:"l3"`
	L4 string `yaml:"l4"`
}

// StateConfig contains persisted snapshot settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig contains ledger database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`

	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// QueueConfig bounds the per-actuator wait queues.
type QueueConfig struct {
	Depth int      `yaml:"depth"`
	TTL   Duration `yaml:"ttl"`
}

// APIConfig contains the control intent HTTP server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains the optional status publisher settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// RulesConfig contains the optional Lua automation rules settings.
type RulesConfig struct {
	Enabled bool     `yaml:"enabled"`
	Script  string   `yaml:"script"`
	Tick    Duration `yaml:"tick"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Actuators) == 0 {
		return nil, fmt.Errorf("no actuators configured")
	}
	if cfg.Calibration.DailyResetHour < 0 || cfg.Calibration.DailyResetHour > 23 {
		return nil, fmt.Errorf("calibration.daily_reset_hour must be 0-23, got %d", cfg.Calibration.DailyResetHour)
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "./actuator-state.json"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./actuatord.sqlite"
	}
	if cfg.Database.CleanupInterval == 0 {
		cfg.Database.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Database.RetentionDays == 0 {
		cfg.Database.RetentionDays = 30
	}

	// Bus defaults match the UECS-CCM conventions used by ArSprout nodes.
	if cfg.Bus.Room == 0 {
		cfg.Bus.Room = 1
	}
	if cfg.Bus.Region == 0 {
		cfg.Bus.Region = 1
	}
	if cfg.Bus.Order == 0 {
		cfg.Bus.Order = 1
	}
	if cfg.Bus.MinSendInterval == 0 {
		cfg.Bus.MinSendInterval = Duration(1 * time.Second)
	}
	if cfg.Bus.Retransmit == 0 {
		cfg.Bus.Retransmit = 3
	}
	if cfg.Bus.RetransmitGap == 0 {
		cfg.Bus.RetransmitGap = Duration(50 * time.Millisecond)
	}
	if cfg.Bus.Suffixes == (SuffixConfig{}) {
		cfg.Bus.Suffixes = SuffixConfig{L1: "", L2: "rcA", L3: "rcM", L4: "rcA"}
	}

	if cfg.Calibration.Timezone == "" {
		cfg.Calibration.Timezone = "Local"
	}

	// Queue defaults
	if cfg.Queue.Depth == 0 {
		cfg.Queue.Depth = 16
	}
	if cfg.Queue.TTL == 0 {
		cfg.Queue.TTL = Duration(5 * time.Minute)
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8521
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "actuatord"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "greenhouse/actuator"
	}

	// Rules defaults
	if cfg.Rules.Script == "" {
		cfg.Rules.Script = "rules.lua"
	}
	if cfg.Rules.Tick == 0 {
		cfg.Rules.Tick = Duration(1 * time.Minute)
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
