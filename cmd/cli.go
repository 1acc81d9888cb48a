// SPDX-License-Identifier: MIT
//
// Package cmd parses the command line into Options.
package cmd

import (
	"errors"
	"time"

	"kws/internal/build"
	"kws/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Commands selected by ParseArgs. The empty command runs the daemon.
const (
	CommandRun      = ""
	CommandList     = "list"
	CommandSimulate = "simulate"
	CommandEnroll   = "enroll"
)

// Options is the parsed command line.
type Options struct {
	Command    string
	ConfigPath string
	Files      []string // simulate: one WAV file; enroll: clips.

	DeviceID    int
	SampleRate  float64
	Gain        int
	LowLatency  bool
	Templates   string
	Record      bool
	OutputFile  string
	MetricsAddr string
	Monitor     bool
	Verbose     bool

	Interactive bool          // list
	Realtime    bool          // simulate
	Linger      time.Duration // simulate
	Label       string        // enroll

	changed map[string]bool
}

// ParseArgs parses args (without the program name).
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{changed: make(map[string]bool)}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Keyword spotting daemon driving wake-gated outputs",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Record which flags were given so only those override the config file.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cmd.Flags().Visit(func(f *pflag.Flag) {
			options.changed[f.Name] = true
		})
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandList
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&options.Interactive, "interactive", "i", false,
		"Pick a device interactively")
	rootCmd.AddCommand(listCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate <file.wav>",
		Short: "Run the pipeline on a WAV file instead of the microphone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandSimulate
			options.Files = args
			return nil
		},
	}
	simulateCmd.Flags().BoolVar(&options.Realtime, "realtime", true,
		"Feed samples at the sample rate rather than as fast as possible")
	simulateCmd.Flags().DurationVar(&options.Linger, "linger", 6*time.Second,
		"Keep running this long after the file ends so a final wake can complete")
	rootCmd.AddCommand(simulateCmd)

	enrollCmd := &cobra.Command{
		Use:   "enroll --label <label> <clip.wav>...",
		Short: "Add WAV clips of a keyword to the classifier templates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if options.Label == "" {
				return errors.New("enroll requires --label")
			}
			options.Command = CommandEnroll
			options.Files = args
			return nil
		},
	}
	enrollCmd.Flags().StringVarP(&options.Label, "label", "L", "",
		"Label the clips are examples of")
	rootCmd.AddCommand(enrollCmd)

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&options.ConfigPath, "config", "",
		"Path to the YAML configuration (default ./"+config.DefaultConfigFile+" if present)")

	// Audio Device Configuration
	flags.IntVarP(&options.DeviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.Float64VarP(&options.SampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.IntVarP(&options.Gain, "gain", "g", config.DefaultGain,
		"Integer gain applied to captured samples")
	flags.BoolVarP(&options.LowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")

	// Classifier
	flags.StringVarP(&options.Templates, "templates", "t", "",
		"Classifier templates file")

	// Recording Configuration
	flags.BoolVarP(&options.Record, "record", "r", false,
		"Record the captured audio to a WAV file")
	flags.StringVarP(&options.OutputFile, "output", "o", "",
		"Recording file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")

	// Observability
	flags.StringVar(&options.MetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address (e.g. :9464)")
	flags.BoolVarP(&options.Monitor, "monitor", "m", false,
		"Show the live monitor")
	flags.BoolVarP(&options.Verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	// Defaults
	if options.Record && options.OutputFile == "" {
		options.OutputFile = "recording-" + time.Now().UTC().Format("02-01-2006-150405") + ".wav"
	}

	return options, nil
}

// Apply overrides cfg with the flags that were given explicitly.
func (o *Options) Apply(cfg *config.Config) {
	if o.changed["device"] {
		cfg.Audio.InputDevice = o.DeviceID
	}
	if o.changed["sample-rate"] {
		cfg.Audio.SampleRate = o.SampleRate
	}
	if o.changed["gain"] {
		cfg.Audio.Gain = o.Gain
	}
	if o.changed["low-latency"] {
		cfg.Audio.LowLatency = o.LowLatency
	}
	if o.changed["templates"] {
		cfg.Classifier.TemplatesPath = o.Templates
	}
	if o.Record {
		cfg.Recording.Enabled = true
		cfg.Recording.OutputFile = o.OutputFile
	}
	if o.changed["metrics-addr"] {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	if o.Verbose {
		cfg.Debug = true
	}
}
