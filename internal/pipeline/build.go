// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"fmt"
	"io"

	"kws/internal/actuation"
	"kws/internal/audio"
	"kws/internal/classifier"
	"kws/internal/config"
	"kws/internal/inference"
	"kws/internal/log"
	"kws/internal/observe"
	"kws/internal/transport"
	"kws/internal/transport/mqtt"
	"kws/internal/transport/udp"
)

// OptionsFromConfig maps the configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	bindings := make([]inference.Binding, len(cfg.Actuation.Channels))
	for i, ch := range cfg.Actuation.Channels {
		bindings[i] = inference.Binding{Channel: ch.Name, OnLabel: ch.OnLabel, OffLabel: ch.OffLabel}
	}

	awake := actuation.High
	if cfg.Actuation.StandbyActiveLow {
		awake = actuation.Low
	}

	return Options{
		WindowSamples: cfg.Audio.WindowSamples,
		Capture: audio.CaptureConfig{
			ChunkSamples: cfg.Audio.ChunkSamples,
			Gain:         cfg.Audio.Gain,
			ReadTimeout:  cfg.Audio.ReadTimeout,
		},
		Cycle: inference.CycleConfig{
			ReadyTimeout: cfg.Inference.ReadyTimeout,
			Threshold:    cfg.Inference.Threshold,
		},
		Controller: actuation.ControllerConfig{
			Window:       cfg.Actuation.Window,
			PollInterval: cfg.Actuation.PollInterval,
			SettleDelay:  cfg.Actuation.SettleDelay,
			StandbyAwake: awake,
		},
		WakeLabel: cfg.Actuation.WakeLabel,
		Bindings:  bindings,
		MinScore:  cfg.Inference.MinScore,
	}
}

// LoadClassifier builds the reference classifier from the templates file.
func LoadClassifier(cfg *config.Config) (classifier.Classifier, error) {
	t, err := classifier.LoadTemplates(cfg.Classifier.TemplatesPath)
	if err != nil {
		return nil, err
	}
	if t.SampleRate != cfg.Audio.SampleRate {
		return nil, fmt.Errorf("templates %s were enrolled at %.0f Hz, pipeline runs at %.0f Hz",
			cfg.Classifier.TemplatesPath, t.SampleRate, cfg.Audio.SampleRate)
	}

	model, err := classifier.NewSpectralModel(t, cfg.Classifier.Temperature)
	if err != nil {
		return nil, err
	}
	return classifier.NewContinuous(model, cfg.Classifier.SlicesPerWindow, cfg.Classifier.Smoothing)
}

// FeatureConfig returns the feature settings used when enrolling new
// templates.
func FeatureConfig(cfg *config.Config) (classifier.FeatureConfig, error) {
	w, err := classifier.ParseWindowFunc(cfg.Classifier.FFTWindow)
	if err != nil {
		return classifier.FeatureConfig{}, err
	}
	return classifier.FeatureConfig{
		SampleRate: cfg.Audio.SampleRate,
		FFTSize:    cfg.Classifier.FFTSize,
		Bands:      cfg.Classifier.Bands,
		Window:     w,
	}, nil
}

// Build wires a pipeline from configuration: outputs, notifiers, event
// transports, the recording tap and the UDP score publisher. Everything it
// opens is released by Pipeline.Close, including on error.
func Build(ctx context.Context, cfg *config.Config, src audio.SampleSource, clf classifier.Classifier, metrics *observe.Metrics) (p *Pipeline, err error) {
	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i].Close()
			}
		}
	}()

	awake := actuation.High
	if cfg.Actuation.StandbyActiveLow {
		awake = actuation.Low
	}
	standby, c, err := openOutput("standby", cfg.Actuation.StandbyGPIOLine, cfg.Actuation.StandbyGPIOPath, awake.Invert())
	if err != nil {
		return nil, err
	}
	if c != nil {
		closers = append(closers, c)
	}
	outputs := make([]actuation.Output, len(cfg.Actuation.Channels))
	for i, ch := range cfg.Actuation.Channels {
		if outputs[i], c, err = openOutput(ch.Name, ch.GPIOLine, ch.GPIOPath, actuation.Low); err != nil {
			return nil, err
		}
		if c != nil {
			closers = append(closers, c)
		}
	}

	var notifiers actuation.MultiNotifier
	events := transport.Fanout{transport.NewLoggingTransport()}

	if path := cfg.Notify.SerialPath; path != "" {
		n, c, err := openSerial(path, cfg.Notify.SerialBaud)
		if err != nil {
			return nil, err
		}
		closers = append(closers, c)
		notifiers = append(notifiers, n)
		log.Infof("Pipeline: turn-on notifications to serial %s at %d baud", path, cfg.Notify.SerialBaud)
	}
	if addr := cfg.Notify.UDPTargetAddress; addr != "" {
		s, err := udp.NewUDPSender(addr)
		if err != nil {
			return nil, err
		}
		closers = append(closers, s)
		notifiers = append(notifiers, s)
	}
	if m := cfg.Notify.MQTT; m.Broker != "" {
		client, err := mqtt.Dial(ctx, mqtt.Config{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			NotifyTopic: m.NotifyTopic,
			EventsTopic: m.EventsTopic,
			QoS:         m.QoS,
		})
		if err != nil {
			return nil, err
		}
		closers = append(closers, client)
		notifiers = append(notifiers, client)
		events = append(events, client)
	}
	if addr := cfg.Transport.WebSocketAddr; addr != "" {
		ws, err := transport.NewWebSocketTransport(addr)
		if err != nil {
			return nil, err
		}
		closers = append(closers, ws)
		events = append(events, ws)
	}

	var recorder *audio.Recorder
	if cfg.Recording.Enabled {
		recorder, err = audio.NewRecorder(cfg.Recording.OutputFile, int(cfg.Audio.SampleRate), cfg.Recording.BitDepth, cfg.Audio.ChunkSamples)
		if err != nil {
			return nil, err
		}
		closers = append(closers, recorder)
		log.Infof("Pipeline: recording captured audio to %s", cfg.Recording.OutputFile)
	}

	var notifier actuation.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}

	p, err = New(OptionsFromConfig(cfg), Deps{
		Source:     src,
		Classifier: clf,
		Standby:    standby,
		Outputs:    outputs,
		Notifier:   notifier,
		Events:     events,
		Recorder:   recorder,
		Metrics:    metrics,
		Closers:    closers,
	})
	if err != nil {
		return nil, err
	}
	closers = nil // Owned by p from here on.

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			p.Close()
			return nil, err
		}
		pub, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, p.Cycle, max(1, len(clf.Labels())))
		if err != nil {
			sender.Close()
			p.Close()
			return nil, err
		}
		// Stop the publisher before closing its sender.
		p.closers = append(p.closers, sender, pub)
		p.publisher = pub
	}

	return p, nil
}

// openSerial is swapped in tests.
var openSerial = actuation.OpenSerialNotifier

// openOutput prefers a GPIO character device line, then a sysfs value file,
// and falls back to an in-memory line. The closer is nil when nothing needs
// releasing.
func openOutput(name, line, path string, initial actuation.Level) (actuation.Output, io.Closer, error) {
	switch {
	case line != "":
		o, err := actuation.OpenLineOutput(line, initial)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("Pipeline: %s on GPIO %s", name, line)
		return o, o, nil

	case path != "":
		o, err := actuation.NewFileOutput(path)
		if err != nil {
			return nil, nil, err
		}
		if err := o.Set(initial); err != nil {
			return nil, nil, fmt.Errorf("pipeline: initialize %s: %w", name, err)
		}
		return o, nil, nil

	default:
		return actuation.NewMemoryOutput(name, initial), nil, nil
	}
}
