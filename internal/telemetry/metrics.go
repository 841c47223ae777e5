package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for OpenTelemetry metrics.
type MetricsConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	OTLPEndpoint   string
	OTLPInsecure   bool
	Attributes     map[string]string
}

func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "tlscanary",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps the OpenTelemetry meter with the instruments a scan run
// reports against: probe latency, reconnects, timeouts and regressions.
type Metrics struct {
	config           *MetricsConfig
	meterProvider    *sdkmetric.MeterProvider
	meter            metric.Meter
	shutdown         func(context.Context) error
	mu               sync.RWMutex
	currentPass      atomic.Int64
	passGauge        metric.Int64ObservableGauge
	passGaugeReg     metric.Registration
	probeLatency     metric.Float64Histogram
	errorCounter     metric.Int64Counter
	activeWorkers    metric.Int64UpDownCounter
	reconnectCounter metric.Int64Counter
	timeoutCounter   metric.Int64Counter
	regressCounter   metric.Int64Counter
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("register metric instruments: %w", err)
	}

	return m, nil
}

func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}

func (m *Metrics) registerInstruments() error {
	var err error

	m.probeLatency, err = m.meter.Float64Histogram(
		"tlscanary.probe.latency",
		metric.WithDescription("Latency of worker probe commands"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.errorCounter, err = m.meter.Int64Counter(
		"tlscanary.errors",
		metric.WithDescription("Count of errors by category"),
	)
	if err != nil {
		return err
	}

	m.activeWorkers, err = m.meter.Int64UpDownCounter(
		"tlscanary.workers.active",
		metric.WithDescription("Number of supervised workers currently running"),
	)
	if err != nil {
		return err
	}

	m.reconnectCounter, err = m.meter.Int64Counter(
		"tlscanary.reconnects",
		metric.WithDescription("Count of worker connection reconnects"),
	)
	if err != nil {
		return err
	}

	m.timeoutCounter, err = m.meter.Int64Counter(
		"tlscanary.timeouts",
		metric.WithDescription("Count of probe commands that timed out"),
	)
	if err != nil {
		return err
	}

	m.regressCounter, err = m.meter.Int64Counter(
		"tlscanary.regressions",
		metric.WithDescription("Count of hosts still regressed after each regression pass, summed over passes"),
	)
	if err != nil {
		return err
	}

	m.passGauge, err = m.meter.Int64ObservableGauge(
		"tlscanary.pass",
		metric.WithDescription("Current regression pass index"),
	)
	if err != nil {
		return err
	}

	m.passGaugeReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.passGauge, m.currentPass.Load())
			return nil
		},
		m.passGauge,
	)
	return err
}

func (m *Metrics) RecordProbeLatency(ctx context.Context, host string, latencyMs float64, success bool) {
	if m.probeLatency == nil {
		return
	}
	m.probeLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.Bool("success", success),
	))
	_ = host
}

func (m *Metrics) RecordError(ctx context.Context, category string) {
	if m.errorCounter == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m *Metrics) IncrementWorkers(ctx context.Context) {
	if m.activeWorkers == nil {
		return
	}
	m.activeWorkers.Add(ctx, 1)
}

func (m *Metrics) DecrementWorkers(ctx context.Context) {
	if m.activeWorkers == nil {
		return
	}
	m.activeWorkers.Add(ctx, -1)
}

func (m *Metrics) RecordReconnect(ctx context.Context) {
	if m.reconnectCounter == nil {
		return
	}
	m.reconnectCounter.Add(ctx, 1)
}

func (m *Metrics) RecordTimeout(ctx context.Context) {
	if m.timeoutCounter == nil {
		return
	}
	m.timeoutCounter.Add(ctx, 1)
}

func (m *Metrics) RecordRegressions(ctx context.Context, count int) {
	if m.regressCounter == nil || count <= 0 {
		return
	}
	m.regressCounter.Add(ctx, int64(count))
}

// SetCurrentPass updates the observable gauge read by the registered callback.
func (m *Metrics) SetCurrentPass(pass int) {
	m.currentPass.Store(int64(pass))
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.passGaugeReg != nil {
		if err := m.passGaugeReg.Unregister(); err != nil {
			return fmt.Errorf("unregister pass gauge: %w", err)
		}
	}
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m
	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	if globalMetrics == nil {
		return NoopMetrics()
	}
	return globalMetrics
}

func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
