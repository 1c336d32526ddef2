// Package telemetry configures an OpenTelemetry MeterProvider for the
// GENA control-point service and registers the instruments fed by
// internal/pool.Stats: worker gauges, a per-priority queue-wait
// histogram, and a rejection counter for TooManyJobs/NoCapacity.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/coachpo/genacp/config"
	"github.com/coachpo/genacp/internal/errs"
	"github.com/coachpo/genacp/internal/pool"
)

// Init configures a MeterProvider from cfg: a no-op provider when
// metrics are disabled or no OTLP endpoint is configured (matching the
// teacher's noop.NewMeterProvider fallback), otherwise a periodic OTLP
// HTTP exporter.
func Init(ctx context.Context, cfg config.TelemetryConfig) (apimetric.MeterProvider, func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "genacp"
	}

	if !cfg.EnableMetrics || endpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, nil, err
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure || cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	return mp, mp.Shutdown, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}

// PoolRecorder registers the pool.Stats-derived instruments and records
// TooManyJobs/NoCapacity rejections reported by callers.
type PoolRecorder struct {
	rejections apimetric.Int64Counter
}

// RegisterPool installs observable gauges for p's worker counts and a
// histogram for per-priority queue wait, sampled from p.GetStats on each
// collection. It returns a recorder for the rejection counter, which
// callers increment explicitly since rejections are not visible in
// Stats.
func RegisterPool(mp apimetric.MeterProvider, name string, p *pool.Pool) (*PoolRecorder, error) {
	meter := mp.Meter("genacp/pool")

	active, err := meter.Int64ObservableGauge(name + ".workers.active")
	if err != nil {
		return nil, fmt.Errorf("create active workers gauge: %w", err)
	}
	idle, err := meter.Int64ObservableGauge(name + ".workers.idle")
	if err != nil {
		return nil, fmt.Errorf("create idle workers gauge: %w", err)
	}
	total, err := meter.Int64ObservableGauge(name + ".workers.total")
	if err != nil {
		return nil, fmt.Errorf("create total workers gauge: %w", err)
	}
	waitMs, err := meter.Float64Histogram(name + ".queue.wait_ms")
	if err != nil {
		return nil, fmt.Errorf("create queue wait histogram: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o apimetric.Observer) error {
		st := p.GetStats()
		o.ObserveInt64(active, int64(st.WorkerThreads))
		o.ObserveInt64(idle, int64(st.IdleThreads))
		o.ObserveInt64(total, int64(st.TotalThreads))
		if st.TotalJobsLow > 0 {
			waitMs.Record(ctx, st.AvgWaitLow(), apimetric.WithAttributes(attribute.String("priority", "low")))
		}
		if st.TotalJobsMedium > 0 {
			waitMs.Record(ctx, st.AvgWaitMedium(), apimetric.WithAttributes(attribute.String("priority", "medium")))
		}
		if st.TotalJobsHigh > 0 {
			waitMs.Record(ctx, st.AvgWaitHigh(), apimetric.WithAttributes(attribute.String("priority", "high")))
		}
		return nil
	}, active, idle, total)
	if err != nil {
		return nil, fmt.Errorf("register pool callback: %w", err)
	}

	rejections, err := meter.Int64Counter(name + ".rejections")
	if err != nil {
		return nil, fmt.Errorf("create rejection counter: %w", err)
	}
	return &PoolRecorder{rejections: rejections}, nil
}

// RecordRejection increments the rejection counter for a TooManyJobs or
// NoCapacity canonical error, classified by reason. Any other canonical
// code is ignored: this counter only tracks pool-capacity rejections.
func (r *PoolRecorder) RecordRejection(ctx context.Context, reason errs.Canonical) {
	if r == nil || r.rejections == nil {
		return
	}
	switch reason {
	case errs.CanonicalTooManyJobs, errs.CanonicalNoCapacity:
		r.rejections.Add(ctx, 1, apimetric.WithAttributes(attribute.String("reason", string(reason))))
	}
}
