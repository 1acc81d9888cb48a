// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"kws/internal/actuation"
	"kws/internal/log"

	"gopkg.in/yaml.v3"
)

// Core configuration constants that define the boundaries and defaults
// for the capture, inference and actuation pipeline.
const (
	DefaultConfigFile   = "config.yaml"
	DefaultDeviceID     = MinDeviceID // System default input device
	DefaultSampleRate   = 16000       // Keyword models are trained at 16 kHz
	DefaultChunkSamples = 1024        // One 2048-byte read burst of int16
	DefaultWindow       = 4000        // Samples per window handed to the classifier
	DefaultGain         = 8           // Microphone is quiet, boost it
	DefaultReadTimeout  = 100 * time.Millisecond

	DefaultReadyTimeout    = 2 * time.Second
	DefaultSlicesPerWindow = 4
	DefaultFFTSize         = 512
	DefaultBands           = 16

	DefaultActiveWindow = 5 * time.Second
	DefaultPollInterval = 20 * time.Millisecond
	DefaultSettleDelay  = 50 * time.Millisecond
	DefaultWakeLabel    = "wake"

	// Hardware and processing limits
	MinDeviceID      = -1     // -1 represents system default device
	MinSampleRate    = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate    = 192000 // Maximum supported sample rate (Hz)
	MaxWindowSamples = 1 << 20
	MaxGain          = 64
)

// Config is the root of the daemon configuration, loaded from YAML.
type Config struct {
	Debug      bool             `yaml:"debug"`
	LogLevel   string           `yaml:"log_level"`
	LogFile    log.FileConfig   `yaml:"log_file"`
	Audio      AudioConfig      `yaml:"audio"`
	Inference  InferenceConfig  `yaml:"inference"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Actuation  ActuationConfig  `yaml:"actuation"`
	Notify     NotifyConfig     `yaml:"notify"`
	Transport  TransportConfig  `yaml:"transport"`
	Recording  RecordingConfig  `yaml:"recording"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// AudioConfig holds settings for sample acquisition and double buffering.
type AudioConfig struct {
	InputDevice   int           `yaml:"input_device"`   // PortAudio device index (-1 for default).
	SampleRate    float64       `yaml:"sample_rate"`    // Pipeline sample rate in Hz.
	ChunkSamples  int           `yaml:"chunk_samples"`  // Samples per hardware read burst.
	WindowSamples int           `yaml:"window_samples"` // Samples per inference window (one buffer slot).
	Gain          int           `yaml:"gain"`           // Integer gain applied to every captured sample.
	ReadTimeout   time.Duration `yaml:"read_timeout"`   // Upper bound on one hardware read.
	LowLatency    bool          `yaml:"low_latency"`    // Request low latency settings from PortAudio.
}

// InferenceConfig controls the consumer loop.
type InferenceConfig struct {
	ReadyTimeout time.Duration `yaml:"ready_timeout"` // Warn when no window arrives within this time.
	Threshold    int           `yaml:"threshold"`     // Cycles before decisions are acted on (0 = classifier window count).
	MinScore     float64       `yaml:"min_score"`     // Winning scores below this are treated as noise.
}

// ClassifierConfig configures the reference spectral classifier.
type ClassifierConfig struct {
	TemplatesPath   string  `yaml:"templates_path"`    // YAML file with per-label centroids.
	SlicesPerWindow int     `yaml:"slices_per_window"` // Windows concatenated into one model window.
	FFTSize         int     `yaml:"fft_size"`          // Power of two.
	Bands           int     `yaml:"bands"`             // Log-spaced band energies per frame.
	FFTWindow       string  `yaml:"fft_window"`        // Window function name (e.g. "Hann").
	Temperature     float64 `yaml:"temperature"`       // Softmax temperature over distances.
	Smoothing       bool    `yaml:"smoothing"`         // Moving-average filter over slices.
}

// ChannelConfig binds a controlled output to its on/off labels.
type ChannelConfig struct {
	Name     string `yaml:"name"`
	OnLabel  string `yaml:"on_label"`
	OffLabel string `yaml:"off_label"`
	GPIOLine string `yaml:"gpio_line"` // chip:offset on the GPIO character device.
	GPIOPath string `yaml:"gpio_path"` // sysfs value file, used when no gpio_line is set.
}

// ActuationConfig configures the wake/decision window state machine.
type ActuationConfig struct {
	WakeLabel        string          `yaml:"wake_label"`
	Window           time.Duration   `yaml:"window"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	SettleDelay      time.Duration   `yaml:"settle_delay"`
	StandbyActiveLow bool            `yaml:"standby_active_low"` // Standby line is driven low while awake.
	StandbyGPIOLine  string          `yaml:"standby_gpio_line"`
	StandbyGPIOPath  string          `yaml:"standby_gpio_path"`
	Channels         []ChannelConfig `yaml:"channels"`
}

// NotifyConfig selects where the single-byte turn-on notification goes.
type NotifyConfig struct {
	SerialPath       string     `yaml:"serial_path"`        // Serial device written with '1'.
	SerialBaud       int        `yaml:"serial_baud"`        // 8N1 line speed.
	UDPTargetAddress string     `yaml:"udp_target_address"` // host:port receiving a 1-byte datagram.
	MQTT             MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the MQTT client used for notifications and events.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // host:port, empty disables MQTT.
	ClientID    string `yaml:"client_id"`
	NotifyTopic string `yaml:"notify_topic"`
	EventsTopic string `yaml:"events_topic"`
	QoS         byte   `yaml:"qos"`
}

// TransportConfig holds settings for publishing pipeline telemetry.
type TransportConfig struct {
	WebSocketAddr    string        `yaml:"websocket_addr"` // Empty disables the event broadcaster.
	UDPEnabled       bool          `yaml:"udp_enabled"`    // Periodic score packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// RecordingConfig holds settings for the capture WAV tap.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
	BitDepth   int    `yaml:"bit_depth"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Empty disables the endpoint.
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		LogFile: log.FileConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Audio: AudioConfig{
			InputDevice:   DefaultDeviceID,
			SampleRate:    DefaultSampleRate,
			ChunkSamples:  DefaultChunkSamples,
			WindowSamples: DefaultWindow,
			Gain:          DefaultGain,
			ReadTimeout:   DefaultReadTimeout,
		},
		Inference: InferenceConfig{
			ReadyTimeout: DefaultReadyTimeout,
		},
		Classifier: ClassifierConfig{
			TemplatesPath:   "templates.yaml",
			SlicesPerWindow: DefaultSlicesPerWindow,
			FFTSize:         DefaultFFTSize,
			Bands:           DefaultBands,
			FFTWindow:       "Hann",
			Temperature:     1.0,
			Smoothing:       true,
		},
		Actuation: ActuationConfig{
			WakeLabel:        DefaultWakeLabel,
			Window:           DefaultActiveWindow,
			PollInterval:     DefaultPollInterval,
			SettleDelay:      DefaultSettleDelay,
			StandbyActiveLow: true,
			Channels: []ChannelConfig{
				{Name: "light", OnLabel: "light-on", OffLabel: "light-off"},
				{Name: "door", OnLabel: "door-open", OffLabel: "door-close"},
			},
		},
		Notify: NotifyConfig{
			SerialBaud: actuation.DefaultBaudRate,
			MQTT: MQTTConfig{
				NotifyTopic: "kws/notify",
				EventsTopic: "kws/events",
				QoS:         1,
			},
		},
		Transport: TransportConfig{
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  250 * time.Millisecond,
		},
		Recording: RecordingConfig{
			BitDepth: 16,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it looks for DefaultConfigFile in the working directory and falls
// back to the built-in defaults. Environment overrides are applied last, then
// the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	a := c.Audio
	if a.InputDevice < MinDeviceID {
		return fmt.Errorf("audio.input_device %d is invalid", a.InputDevice)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate %.0f out of range [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.ChunkSamples <= 0 {
		return fmt.Errorf("audio.chunk_samples must be positive")
	}
	if a.WindowSamples <= 0 || a.WindowSamples > MaxWindowSamples {
		return fmt.Errorf("audio.window_samples %d out of range (0, %d]", a.WindowSamples, MaxWindowSamples)
	}
	if a.Gain < 1 || a.Gain > MaxGain {
		return fmt.Errorf("audio.gain %d out of range [1, %d]", a.Gain, MaxGain)
	}
	if a.ReadTimeout <= 0 {
		return fmt.Errorf("audio.read_timeout must be positive")
	}

	if c.Inference.Threshold < 0 {
		return fmt.Errorf("inference.threshold must not be negative")
	}
	if c.Inference.MinScore < 0 || c.Inference.MinScore > 1 {
		return fmt.Errorf("inference.min_score must be within [0, 1]")
	}

	if c.Classifier.SlicesPerWindow < 1 {
		return fmt.Errorf("classifier.slices_per_window must be at least 1")
	}
	if n := c.Classifier.FFTSize; n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("classifier.fft_size %d must be a power of 2", n)
	}

	act := c.Actuation
	if act.Window <= 0 || act.PollInterval <= 0 || act.SettleDelay < 0 {
		return fmt.Errorf("actuation timings must be positive")
	}
	if act.PollInterval > act.Window {
		return fmt.Errorf("actuation.poll_interval %s exceeds window %s", act.PollInterval, act.Window)
	}
	if len(act.Channels) == 0 {
		return fmt.Errorf("actuation.channels must not be empty")
	}
	if err := validateLine("standby", act.StandbyGPIOLine, act.StandbyGPIOPath); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, ch := range act.Channels {
		if ch.Name == "" {
			return fmt.Errorf("actuation channel without a name")
		}
		if err := validateLine(ch.Name, ch.GPIOLine, ch.GPIOPath); err != nil {
			return err
		}
		for _, label := range []string{ch.OnLabel, ch.OffLabel} {
			if label == "" {
				return fmt.Errorf("actuation channel %q needs both on_label and off_label", ch.Name)
			}
			if seen[label] || label == act.WakeLabel {
				return fmt.Errorf("label %q is bound more than once", label)
			}
			seen[label] = true
		}
	}

	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return fmt.Errorf("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 32 {
		return fmt.Errorf("recording.bit_depth must be 16 or 32")
	}

	if c.Notify.SerialPath != "" && c.Notify.SerialBaud <= 0 {
		return fmt.Errorf("notify.serial_baud must be positive")
	}

	if c.Notify.MQTT.QoS > 2 {
		return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2")
	}

	return nil
}

// validateLine rejects an unparsable GPIO line and a line configured both
// ways.
func validateLine(name, line, path string) error {
	if line == "" {
		return nil
	}
	if path != "" {
		return fmt.Errorf("%s: set gpio_line or gpio_path, not both", name)
	}
	if _, _, err := actuation.ParseLineSpec(line); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// applyEnvOverrides applies ENV_* variables on top of file and default values.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
			log.Infof("configuration: overriding debug from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		log.Infof("configuration: overriding log_level from env: %s", val)
	}

	if val, ok := os.LookupEnv("ENV_SERIAL_PATH"); ok {
		c.Notify.SerialPath = val
		log.Infof("configuration: overriding notify.serial_path from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_MQTT_BROKER"); ok {
		c.Notify.MQTT.Broker = val
		log.Infof("configuration: overriding notify.mqtt.broker from env: %s", val)
	}

	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
			log.Infof("configuration: overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		log.Infof("configuration: overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			log.Infof("configuration: overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}

// ModelWindowSamples is the number of samples the classifier sees at once.
func (c *Config) ModelWindowSamples() int {
	return c.Audio.WindowSamples * c.Classifier.SlicesPerWindow
}
