package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/galoko/PeopleWatcher/internal/capture"
	"github.com/galoko/PeopleWatcher/internal/framepool"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.StorageRoot == "" {
		return fmt.Errorf("storage_root is required")
	}

	if err := validateCapture(&cfg.Capture); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := validateAWB(&cfg.AWB); err != nil {
		return fmt.Errorf("awb: %w", err)
	}

	if cfg.Engine.QueueFrames <= 0 {
		cfg.Engine.QueueFrames = 60
	}
	if cfg.Engine.HoldTimeout <= 0 {
		cfg.Engine.HoldTimeout = 500 * time.Millisecond
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = "peoplewatcher"
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = fmt.Sprintf("peoplewatcher-%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
	}

	if cfg.RunLog.Path == "" {
		cfg.RunLog.Path = "runs.db"
	}

	return nil
}

func validateCapture(c *CaptureConfig) error {
	switch c.Source {
	case "sim", "v4l2":
	default:
		return fmt.Errorf("source must be 'sim' or 'v4l2', got '%s'", c.Source)
	}

	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be > 0, got %dx%d", c.Width, c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("width and height must be even for I420, got %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be > 0")
	}
	if c.PoolCapacity == 0 {
		c.PoolCapacity = 16
	}
	if c.PoolCapacity < framepool.MinCapacity {
		return fmt.Errorf("pool_capacity must be >= %d, got %d", framepool.MinCapacity, c.PoolCapacity)
	}
	if c.Facing == "" {
		c.Facing = "back"
	}
	if _, err := hal.ParseFacing(c.Facing); err != nil {
		return err
	}

	if c.RecordLimit <= 0 {
		return fmt.Errorf("record_limit must be > 0")
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = capture.DefaultFinalizeGrace
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = capture.DefaultSetupTimeout
	}

	if c.Source == "v4l2" && len(c.Devices) == 0 {
		return fmt.Errorf("devices are required for source 'v4l2'")
	}
	for i, d := range c.Devices {
		if d.Path == "" {
			return fmt.Errorf("device %d: path is required", i)
		}
		if _, err := hal.ParseFacing(d.Facing); err != nil {
			return fmt.Errorf("device '%s': %w", d.Path, err)
		}
	}
	return nil
}

func validateAWB(a *AWBConfig) error {
	if a.Trigger == "" {
		a.Trigger = "converged"
	}
	if _, err := capture.ParseAWBTrigger(a.Trigger); err != nil {
		return err
	}
	if a.InitialMode == "" {
		a.InitialMode = "cloudy_daylight"
	}
	mode, err := hal.ParseAWBMode(a.InitialMode)
	if err != nil {
		return err
	}
	if mode == hal.AWBModeOff {
		return fmt.Errorf("initial_mode must be an automatic mode, got 'off'")
	}
	if a.SettleFrames <= 0 {
		a.SettleFrames = 20
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch l.Level {
	case "":
		l.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level '%s'", l.Level)
	}
	switch l.Format {
	case "":
		l.Format = "cli"
	case "cli", "json":
	default:
		return fmt.Errorf("format must be 'cli' or 'json', got '%s'", l.Format)
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be >= 0")
	}
	return nil
}

func underRoot(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// RunLogPath resolves runlog.path against the storage root.
func (c *Config) RunLogPath() string { return underRoot(c.StorageRoot, c.RunLog.Path) }

// LogFilePath resolves logging.file against the storage root. Empty when
// file logging is disabled.
func (c *Config) LogFilePath() string {
	if c.Logging.File == "" {
		return ""
	}
	return underRoot(c.StorageRoot, c.Logging.File)
}

// AWBPolicy converts the validated awb section for the capture machine.
func (c *Config) AWBPolicy() capture.AWBPolicy {
	trigger, _ := capture.ParseAWBTrigger(c.AWB.Trigger)
	mode, _ := hal.ParseAWBMode(c.AWB.InitialMode)
	// V4L2 results carry no color state.
	bare := c.AWB.AllowBare || c.Capture.Source == "v4l2"
	return capture.AWBPolicy{
		Lock:        c.AWB.Lock,
		Trigger:     trigger,
		InitialMode: mode,
		AllowBare:   bare,
	}
}

// Facing returns the validated capture facing.
func (c *Config) Facing() hal.Facing {
	f, _ := hal.ParseFacing(c.Capture.Facing)
	return f
}
