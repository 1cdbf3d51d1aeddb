package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete recorder configuration
type Config struct {
	InstanceID  string        `yaml:"instance_id"`
	StorageRoot string        `yaml:"storage_root"` // Records/, Reports/, logs and the run ledger live here
	Capture     CaptureConfig `yaml:"capture"`
	AWB         AWBConfig     `yaml:"awb"`
	Engine      EngineConfig  `yaml:"engine"`
	Logging     LoggingConfig `yaml:"logging"`
	MQTT        MQTTConfig    `yaml:"mqtt"`
	Health      HealthConfig  `yaml:"health"`
	RunLog      RunLogConfig  `yaml:"runlog"`
}

// CaptureConfig contains camera and run settings
type CaptureConfig struct {
	Source        string         `yaml:"source"` // sim, v4l2
	Width         int            `yaml:"width"`
	Height        int            `yaml:"height"`
	FPS           int            `yaml:"fps"`
	PoolCapacity  int            `yaml:"pool_capacity"` // frame buffers shared with the source
	Facing        string         `yaml:"facing"`        // back, front, external
	RecordLimit   time.Duration  `yaml:"record_limit"`
	FinalizeGrace time.Duration  `yaml:"finalize_grace"`
	SetupTimeout  time.Duration  `yaml:"setup_timeout"`
	Devices       []DeviceConfig `yaml:"devices"` // v4l2 only
}

// DeviceConfig maps a V4L2 node to the facing it is mounted with
type DeviceConfig struct {
	Path   string `yaml:"path"`
	Name   string `yaml:"name,omitempty"`
	Facing string `yaml:"facing"`
}

// AWBConfig contains white balance settings
type AWBConfig struct {
	Lock         bool   `yaml:"lock"`
	Trigger      string `yaml:"trigger"`       // converged, settled
	InitialMode  string `yaml:"initial_mode"`  // auto, cloudy_daylight, ...
	AllowBare    bool   `yaml:"allow_bare"`    // lock without reported color gains
	SettleFrames int    `yaml:"settle_frames"` // v4l2: frames before auto WB counts as converged
}

// EngineConfig contains recorder engine settings
type EngineConfig struct {
	QueueFrames int           `yaml:"queue_frames"`
	HoldTimeout time.Duration `yaml:"hold_timeout"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // cli, json
	File       string `yaml:"file"`   // relative paths resolve under storage_root; empty disables
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// HealthConfig contains the HTTP health endpoint settings. An empty listen
// address disables it.
type HealthConfig struct {
	Listen string `yaml:"listen"`
}

// RunLogConfig contains run ledger settings
type RunLogConfig struct {
	Disabled bool   `yaml:"disabled"` // runs are not recorded and the runs command fails
	Path     string `yaml:"path"`     // relative paths resolve under storage_root
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		InstanceID:  "peoplewatcher",
		StorageRoot: "storage",
		Capture: CaptureConfig{
			Source:        "sim",
			Width:         640,
			Height:        480,
			FPS:           20,
			PoolCapacity:  16,
			Facing:        "back",
			RecordLimit:   3 * time.Hour,
			FinalizeGrace: 3 * time.Second,
			SetupTimeout:  10 * time.Second,
		},
		AWB: AWBConfig{
			Lock:         true,
			Trigger:      "converged",
			InitialMode:  "cloudy_daylight",
			SettleFrames: 20,
		},
		Engine: EngineConfig{
			QueueFrames: 60,
			HoldTimeout: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "cli",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "peoplewatcher",
			QoS:         1,
		},
		RunLog: RunLogConfig{
			Path: "runs.db",
		},
	}
}

// Load reads and parses a YAML configuration file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
