// SPDX-License-Identifier: MIT
package observe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"kws/internal/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Provider owns the metric SDK and the optional scrape endpoint.
type Provider struct {
	Metrics *Metrics

	meterProvider *sdkmetric.MeterProvider
	server        *http.Server
	listener      net.Listener
}

// InitProvider sets up a MeterProvider backed by a Prometheus exporter on a
// private registry and, when addr is non-empty, serves it on addr/metrics.
func InitProvider(serviceVersion, addr string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("kws"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}

	p := &Provider{Metrics: metrics, meterProvider: mp}

	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = mp.Shutdown(context.Background())
			return nil, err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		p.listener = ln
		p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			log.Infof("Metrics: serving Prometheus endpoint on http://%s/metrics", ln.Addr())
			if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics: server error: %v", err)
			}
		}()
	}

	return p, nil
}

// Addr returns the scrape endpoint address, or "" when not serving.
func (p *Provider) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown stops the endpoint and flushes the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.server != nil {
		errs = append(errs, p.server.Shutdown(ctx))
	}
	errs = append(errs, p.meterProvider.Shutdown(ctx))
	return errors.Join(errs...)
}
