// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kws/cmd"
	"kws/internal/audio"
	"kws/internal/build"
	"kws/internal/classifier"
	"kws/internal/config"
	"kws/internal/log"
	"kws/internal/observe"
	"kws/internal/pipeline"
	"kws/internal/tui"
)

// main is the entry point for the keyword spotting daemon.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Configure logging
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Open the sample source and load the classifier
//   - Start capture, inference and actuation goroutines
//   - Show the live monitor if requested
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Close outputs, transports and the recording
//   - Flush metrics and logs
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Warnf("Build info incomplete: %v", err)
	}
	info := build.GetBuildFlags()

	options, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(options.ConfigPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	options.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	configureLogging(cfg, options.Monitor)
	defer log.Close()

	log.Infof("%s (instance %s)", info, info.Instance)

	// Handle one-off commands that don't run the pipeline
	switch options.Command {
	case cmd.CommandList:
		if err := listDevices(options.Interactive); err != nil {
			log.Fatalf("%v", err)
		}
		return
	case cmd.CommandEnroll:
		if err := enroll(cfg, options.Label, options.Files); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, options, info); err != nil {
		log.Fatalf("%v", err)
	}
}

func configureLogging(cfg *config.Config, monitor bool) {
	level, ok := log.ParseLevel(cfg.LogLevel)
	if !ok {
		log.Warnf("Unknown log level %q, using %s", cfg.LogLevel, level)
	}
	if cfg.Debug {
		level = log.LevelDebug
	}
	log.SetLevel(level)

	if err := log.ConfigureFile(cfg.LogFile); err != nil {
		log.Fatalf("%v", err)
	}
	// The monitor owns the terminal.
	if monitor && cfg.LogFile.Path == "" {
		log.SetOutput(io.Discard)
	}
}

func run(ctx context.Context, cfg *config.Config, options *cmd.Options, info *build.Info) error {
	provider, err := observe.InitProvider(info.Version, cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Error shutting down metrics: %v", err)
		}
	}()

	clf, err := pipeline.LoadClassifier(cfg)
	if err != nil {
		return err
	}

	var src audio.SampleSource
	var closeSource func() error
	simulate := options.Command == cmd.CommandSimulate

	if simulate {
		ms, err := audio.OpenWAVSource(options.Files[0], int(cfg.Audio.SampleRate), options.Realtime)
		if err != nil {
			return err
		}
		log.Infof("Simulating from %s (%.1fs)", options.Files[0], float64(ms.Len())/cfg.Audio.SampleRate)
		src = ms
	} else {
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()

		pa, err := audio.OpenPortAudioSource(audio.PortAudioConfig{
			DeviceID:     cfg.Audio.InputDevice,
			SampleRate:   cfg.Audio.SampleRate,
			ChunkSamples: cfg.Audio.ChunkSamples,
			LowLatency:   cfg.Audio.LowLatency,
		})
		if err != nil {
			return err
		}
		src, closeSource = pa, pa.Close
	}

	p, err := pipeline.Build(ctx, cfg, src, clf, provider.Metrics)
	if err != nil {
		if closeSource != nil {
			closeSource()
		}
		return err
	}
	if simulate {
		p.SetExitOnSourceEnd(options.Linger)
	}

	// CRITICAL: start of real-time processing
	if options.Monitor {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- p.Run(runCtx) }()

		if err := tui.RunMonitor(runCtx, p, p.Outputs...); err != nil {
			log.Errorf("Monitor: %v", err)
		}
		cancel()
		err = <-done
	} else {
		err = p.Run(ctx)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	st := p.Status()
	log.Infof("Stopped: %d windows, %d overruns, %d cycles, %d activations",
		st.Windows, st.Overruns, st.Cycles, st.Activations)

	if closeSource != nil {
		if cerr := closeSource(); cerr != nil {
			log.Warnf("Error closing audio source: %v", cerr)
		}
	}
	if cerr := p.Close(); cerr != nil {
		log.Warnf("Error closing pipeline: %v", cerr)
	}
	if cfg.Recording.Enabled {
		fmt.Printf("\nRecording saved to: %s\n", cfg.Recording.OutputFile)
	}

	return err
}

func listDevices(interactive bool) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	if !interactive {
		return audio.ListDevices(os.Stdout)
	}

	id, err := tui.SelectDevice()
	if err != nil {
		return err
	}
	if id >= 0 {
		fmt.Printf("Selected device %d. Run with --device %d or set audio.input_device: %d\n", id, id, id)
	}
	return nil
}

// enroll folds each clip into the templates file, creating it when missing.
func enroll(cfg *config.Config, label string, files []string) error {
	path := cfg.Classifier.TemplatesPath

	templates, err := classifier.LoadTemplates(path)
	if errors.Is(err, fs.ErrNotExist) {
		fc, ferr := pipeline.FeatureConfig(cfg)
		if ferr != nil {
			return ferr
		}
		templates, err = classifier.NewTemplates(fc), nil
		log.Infof("Creating %s", path)
	}
	if err != nil {
		return err
	}

	for _, f := range files {
		clip, err := audio.DecodeWAV(f, int(templates.SampleRate))
		if err != nil {
			return err
		}
		if err := classifier.Enroll(templates, label, clip); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		log.Infof("Enrolled %s as %q (%d samples)", f, label, len(clip))
	}

	return templates.Save(path)
}
