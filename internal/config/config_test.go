// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Audio.WindowSamples != DefaultWindow {
		t.Errorf("window = %d, want %d", cfg.Audio.WindowSamples, DefaultWindow)
	}
	if cfg.Actuation.Window != DefaultActiveWindow {
		t.Errorf("actuation window = %s, want %s", cfg.Actuation.Window, DefaultActiveWindow)
	}
	if got := len(cfg.Actuation.Channels); got != 2 {
		t.Errorf("default channels = %d, want 2", got)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
audio:
  gain: 4
  window_samples: 8000
actuation:
  window: 3s
  channels:
    - name: fan
      on_label: fan-on
      off_label: fan-off
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Audio.Gain != 4 || cfg.Audio.WindowSamples != 8000 {
		t.Errorf("audio overrides not applied: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != DefaultSampleRate {
		t.Errorf("unset sample rate should keep default, got %v", cfg.Audio.SampleRate)
	}
	if cfg.Actuation.Window != 3*time.Second {
		t.Errorf("actuation window = %s, want 3s", cfg.Actuation.Window)
	}
	if len(cfg.Actuation.Channels) != 1 || cfg.Actuation.Channels[0].Name != "fan" {
		t.Errorf("channels = %+v", cfg.Actuation.Channels)
	}
	if got := cfg.ModelWindowSamples(); got != 8000*DefaultSlicesPerWindow {
		t.Errorf("ModelWindowSamples = %d", got)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_UDP_ENABLED", "true")
	t.Setenv("ENV_UDP_TARGET_ADDRESS", "10.0.0.2:7000")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "100ms")
	t.Setenv("ENV_MQTT_BROKER", "broker.local:1883")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Transport.UDPEnabled || cfg.Transport.UDPTargetAddress != "10.0.0.2:7000" {
		t.Errorf("udp overrides not applied: %+v", cfg.Transport)
	}
	if cfg.Transport.UDPSendInterval != 100*time.Millisecond {
		t.Errorf("udp interval = %s", cfg.Transport.UDPSendInterval)
	}
	if cfg.Notify.MQTT.Broker != "broker.local:1883" {
		t.Errorf("mqtt broker = %q", cfg.Notify.MQTT.Broker)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero window", func(c *Config) { c.Audio.WindowSamples = 0 }, "window_samples"},
		{"huge window", func(c *Config) { c.Audio.WindowSamples = MaxWindowSamples + 1 }, "window_samples"},
		{"gain zero", func(c *Config) { c.Audio.Gain = 0 }, "gain"},
		{"low sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "sample_rate"},
		{"fft not pow2", func(c *Config) { c.Classifier.FFTSize = 500 }, "power of 2"},
		{"poll longer than window", func(c *Config) { c.Actuation.PollInterval = time.Minute }, "poll_interval"},
		{"no channels", func(c *Config) { c.Actuation.Channels = nil }, "channels"},
		{"duplicate label", func(c *Config) {
			c.Actuation.Channels[1].OnLabel = c.Actuation.Channels[0].OnLabel
		}, "bound more than once"},
		{"wake label reused", func(c *Config) { c.Actuation.WakeLabel = "door-open" }, "bound more than once"},
		{"udp without port", func(c *Config) {
			c.Transport.UDPEnabled = true
			c.Transport.UDPTargetAddress = "localhost"
		}, "missing port"},
		{"bad qos", func(c *Config) { c.Notify.MQTT.QoS = 3 }, "qos"},
		{"gpio line", func(c *Config) { c.Actuation.Channels[0].GPIOLine = "gpiochip0:17" }, ""},
		{"bad gpio line", func(c *Config) { c.Actuation.Channels[0].GPIOLine = "gpiochip0:x" }, "invalid GPIO line"},
		{"gpio line and path", func(c *Config) {
			c.Actuation.StandbyGPIOLine = "4"
			c.Actuation.StandbyGPIOPath = "/sys/class/gpio/gpio4/value"
		}, "not both"},
		{"serial without baud", func(c *Config) {
			c.Notify.SerialPath = "/dev/ttyS0"
			c.Notify.SerialBaud = 0
		}, "serial_baud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %v does not contain %q", err, tt.wantErr)
			}
		})
	}
}
