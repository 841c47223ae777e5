// Command tlscanary drives a TLS handshake regression run across a set of
// ranked hosts, comparing a test browser build against a baseline build.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tlscanary/tlscanary/internal/config"
	"github.com/tlscanary/tlscanary/internal/orchestrator"
	"github.com/tlscanary/tlscanary/internal/pipeline"
	"github.com/tlscanary/tlscanary/internal/runlog"
	"github.com/tlscanary/tlscanary/internal/sources"
	"github.com/tlscanary/tlscanary/internal/telemetry"
	"github.com/tlscanary/tlscanary/internal/types"
)

func main() {
	mode := flag.String("mode", "scan", "run mode: scan, info, regression, srcupdate, performance")
	workdir := flag.String("workdir", defaultWorkDir(), "tlscanary working directory")
	source := flag.String("source", "top-1m", "sources handle to scan")
	testExe := flag.String("test", "", "path to the test build's executable")
	testProfile := flag.String("test-profile", "", "path to the test build's profile")
	baseExe := flag.String("base", "", "path to the baseline build's executable")
	baseProfile := flag.String("base-profile", "", "path to the baseline build's profile")
	workers := flag.Int("workers", config.DefaultNumWorkers, "number of worker subprocesses")
	perWorker := flag.Int("requests-per-worker", config.DefaultRequestsPerWorker, "concurrent commands per worker")
	timeout := flag.Duration("timeout", config.DefaultTimeout, "per-probe timeout")
	maxPasses := flag.Int("max-passes", 5, "maximum regression decay passes")
	limit := flag.Int("limit", 0, "srcupdate: target working-set size (0 = default 500000)")
	scans := flag.Int("scans", 3, "srcupdate/performance: repeated passes per chunk/host")
	otlpExporter := flag.String("otlp-exporter", "none", "telemetry exporter: none, stdout, otlp-grpc, otlp-http")
	prometheusAddr := flag.String("prometheus-addr", "", "address to serve Prometheus metrics on (empty disables)")
	flag.Parse()

	if err := run(runConfig{
		mode:            *mode,
		workdir:         *workdir,
		source:          *source,
		test:            types.Candidate{Exe: *testExe, Profile: *testProfile, ReleaseID: "test"},
		base:            types.Candidate{Exe: *baseExe, Profile: *baseProfile, ReleaseID: "base"},
		workers:         *workers,
		perWorker:       *perWorker,
		timeout:         *timeout,
		maxPasses:       *maxPasses,
		limit:           *limit,
		scans:           *scans,
		otlpExporter:    *otlpExporter,
		prometheusAddr:  *prometheusAddr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "tlscanary: %v\n", err)
		os.Exit(1)
	}
}

func defaultWorkDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tlscanary"
	}
	return home + "/.tlscanary"
}

type runConfig struct {
	mode, workdir, source string
	test, base            types.Candidate
	workers, perWorker    int
	timeout               time.Duration
	maxPasses             int
	limit, scans          int
	otlpExporter          string
	prometheusAddr        string
}

func run(cfg runConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ntlscanary: shutting down...")
		cancel()
	}()

	if err := setupTelemetry(ctx, cfg); err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	wd, err := config.NewWorkDir(cfg.workdir)
	if err != nil {
		return fmt.Errorf("workdir: %w", err)
	}

	tags, err := runlog.LoadTagsDB(wd.TagsFile())
	if err != nil {
		return fmt.Errorf("tags: %w", err)
	}

	deps := orchestrator.Deps{
		WorkDir: wd,
		Sources: sources.NewDB(wd.SourcesDir()),
		RunLogs: runlog.NewDB(wd.LogDir()),
		Tags:    tags,
	}

	switch cfg.mode {
	case "scan":
		return (&orchestrator.ScanMode{
			Handle: cfg.source, Candidate: cfg.test,
			Workers: cfg.workers, PerWorker: cfg.perWorker, Timeout: cfg.timeout,
			GetInfo: true, GetCerts: true,
		}).Run(ctx, deps)

	case "info":
		return (&orchestrator.InfoMode{Candidate: cfg.test}).Run(ctx, deps)

	case "regression":
		return (&orchestrator.RegressionMode{
			Handle: cfg.source, Test: cfg.test, Base: cfg.base,
			Initial:   pipeline.PassParams{Workers: cfg.workers, PerWorker: cfg.perWorker, Timeout: cfg.timeout},
			MaxPasses: cfg.maxPasses,
		}).Run(ctx, deps)

	case "srcupdate":
		src, err := deps.Sources.Read(cfg.source)
		if err != nil {
			return fmt.Errorf("srcupdate: read unfiltered %q: %w", cfg.source, err)
		}
		return (&orchestrator.SrcUpdateMode{
			Handle: cfg.source, Unfiltered: src.Rows, Candidate: cfg.test,
			Limit: cfg.limit, Scans: cfg.scans,
			Workers: cfg.workers, PerWorker: cfg.perWorker, Timeout: cfg.timeout,
		}).Run(ctx, deps)

	case "performance":
		result, err := (&orchestrator.PerformanceMode{
			Handle: cfg.source, Test: cfg.test, Base: cfg.base,
			Scans: cfg.scans, Workers: cfg.workers, PerWorker: cfg.perWorker, Timeout: cfg.timeout,
		}).Run(ctx, deps)
		if err != nil {
			return err
		}
		fmt.Printf("total percent speed change: %.1f%%\n", result.TotalPercentChange)
		return nil

	default:
		return fmt.Errorf("unknown mode %q", cfg.mode)
	}
}

func setupTelemetry(ctx context.Context, cfg runConfig) error {
	tCfg := telemetry.DefaultConfig()
	tCfg.ExporterType = telemetry.ExporterType(cfg.otlpExporter)
	tCfg.Enabled = tCfg.ExporterType != telemetry.ExporterNone
	tracer, err := telemetry.NewTracer(ctx, tCfg)
	if err != nil {
		return err
	}
	telemetry.SetGlobalTracer(tracer)

	mCfg := telemetry.DefaultMetricsConfig()
	mCfg.ExporterType = telemetry.ExporterType(cfg.otlpExporter)
	mCfg.Enabled = mCfg.ExporterType != telemetry.ExporterNone
	metrics, err := telemetry.NewMetrics(ctx, mCfg)
	if err != nil {
		return err
	}
	telemetry.SetGlobalMetrics(metrics)

	telemetry.SetGlobalEventLog(telemetry.NewEventLog(cfg.source))

	if cfg.prometheusAddr != "" {
		registry := telemetry.NewRegistry()
		go func() {
			server := &http.Server{Addr: cfg.prometheusAddr, Handler: registry.Handler()}
			_ = server.ListenAndServe()
		}()
	}

	return nil
}
