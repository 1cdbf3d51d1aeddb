package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/galoko/PeopleWatcher/internal/capture"
	"github.com/galoko/PeopleWatcher/internal/hal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
instance_id: porch-cam
storage_root: /var/lib/peoplewatcher
capture:
  source: v4l2
  record_limit: 90m
  devices:
    - path: /dev/video0
      facing: rear
awb:
  trigger: settled
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Capture.RecordLimit != 90*time.Minute {
		t.Errorf("RecordLimit = %s, want 1h30m", cfg.Capture.RecordLimit)
	}
	if cfg.Capture.Width != 640 || cfg.Capture.FPS != 20 {
		t.Errorf("defaults lost: %dx@%d", cfg.Capture.Width, cfg.Capture.FPS)
	}
	if !cfg.AWB.Lock || cfg.AWB.InitialMode != "cloudy_daylight" {
		t.Errorf("awb defaults lost: %+v", cfg.AWB)
	}
	if cfg.MQTT.ClientID != "peoplewatcher-porch-cam" {
		t.Errorf("ClientID = %q", cfg.MQTT.ClientID)
	}
	if got := cfg.RunLogPath(); got != "/var/lib/peoplewatcher/runs.db" {
		t.Errorf("RunLogPath() = %q", got)
	}
	if got := cfg.LogFilePath(); got != "" {
		t.Errorf("LogFilePath() = %q, want empty", got)
	}

	want := capture.AWBPolicy{
		Lock:        true,
		Trigger:     capture.TriggerSettled,
		InitialMode: hal.AWBModeCloudyDaylight,
	}
	if diff := cmp.Diff(want, cfg.AWBPolicy()); diff != "" {
		t.Errorf("AWBPolicy() mismatch (-want +got):\n%s", diff)
	}
	if cfg.Facing() != hal.FacingBack {
		t.Errorf("Facing() = %s", cfg.Facing())
	}
	t.Logf("✅ loaded %s", cfg.InstanceID)
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil")
	}
	if _, err := Load(writeConfig(t, "capture: [not, a, map]")); err == nil {
		t.Error("Load(bad yaml) error = nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad instance id", func(c *Config) { c.InstanceID = "Porch Cam" }, "instance_id"},
		{"missing storage root", func(c *Config) { c.StorageRoot = "" }, "storage_root"},
		{"unknown source", func(c *Config) { c.Capture.Source = "rtsp" }, "source"},
		{"odd width", func(c *Config) { c.Capture.Width = 641 }, "even"},
		{"small pool", func(c *Config) { c.Capture.PoolCapacity = 4 }, "pool_capacity"},
		{"zero limit", func(c *Config) { c.Capture.RecordLimit = 0 }, "record_limit"},
		{"bad facing", func(c *Config) { c.Capture.Facing = "sideways" }, "facing"},
		{"v4l2 without devices", func(c *Config) { c.Capture.Source = "v4l2" }, "devices"},
		{"bad trigger", func(c *Config) { c.AWB.Trigger = "soon" }, "trigger"},
		{"initial mode off", func(c *Config) { c.AWB.InitialMode = "off" }, "initial_mode"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "format"},
		{"bad qos", func(c *Config) { c.MQTT = MQTTConfig{Broker: "tcp://b:1883", QoS: 3} }, "qos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(&cfg)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_FillsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.Capture.FinalizeGrace = 0
	cfg.Engine = EngineConfig{}
	cfg.Logging.Level = ""
	cfg.Logging.File = "logs/peoplewatcher.log"

	if err := Validate(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Capture.FinalizeGrace != capture.DefaultFinalizeGrace {
		t.Errorf("FinalizeGrace = %s", cfg.Capture.FinalizeGrace)
	}
	if cfg.Engine.QueueFrames != 60 || cfg.Engine.HoldTimeout != 500*time.Millisecond {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
	if got, want := cfg.LogFilePath(), filepath.Join("storage", "logs", "peoplewatcher.log"); got != want {
		t.Errorf("LogFilePath() = %q, want %q", got, want)
	}

	// Validation is idempotent.
	before := cfg
	if err := Validate(&cfg); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, cfg); diff != "" {
		t.Errorf("second Validate changed config (-before +after):\n%s", diff)
	}
}

func TestAWBPolicy_V4L2LocksBare(t *testing.T) {
	cfg := Default()
	cfg.Capture.Source = "v4l2"
	cfg.Capture.Devices = []DeviceConfig{{Path: "/dev/video0", Facing: "back"}}
	if err := Validate(&cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.AWBPolicy().AllowBare {
		t.Error("AWBPolicy().AllowBare = false for source v4l2")
	}

	cfg.Capture.Source = "sim"
	if cfg.AWBPolicy().AllowBare {
		t.Error("AWBPolicy().AllowBare = true for source sim")
	}
}
