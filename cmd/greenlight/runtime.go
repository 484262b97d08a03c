package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/term"

	"github.com/odvcencio/greenlight/pkg/artifact"
	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/browser/adapters/pw"
	"github.com/odvcencio/greenlight/pkg/config"
	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/observability"
	"github.com/odvcencio/greenlight/pkg/storage"
	"github.com/odvcencio/greenlight/pkg/telemetry"
)

// newLauncherFn allows tests to replace the Playwright launcher with a fake.
var newLauncherFn = func(cfg *config.Config, metrics *browser.Metrics) (browser.Launcher, error) {
	return pw.NewLauncher(pw.Config{
		DriverDirectory: cfg.Driver.Directory,
		Install:         cfg.Driver.Install,
		LaunchTimeout:   time.Duration(cfg.Driver.LaunchTimeoutMS) * time.Millisecond,
		Metrics:         metrics,
	})
}

// runtimeOptions selects which services a command needs.
type runtimeOptions struct {
	command string
	ledger  bool
	runLog  bool
}

// runtime wires the services shared by every command for one run.
type runtime struct {
	cfg     *config.Config
	runID   string
	console *logging.Logger
	logger  *logging.Logger

	hub            *telemetry.Hub
	registry       *prometheus.Registry
	metrics        *observability.Metrics
	browserMetrics *browser.Metrics
	layout         artifact.Layout
	ledger         *storage.Store
	tracer         *observability.TracerProvider
	stream         *observability.EventStream
	server         *http.Server

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func() error
}

func newRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, withExitCode(err, exitUsage)
	}

	rt := &runtime{
		cfg:      cfg,
		runID:    ulid.Make().String(),
		hub:      telemetry.NewHub(),
		registry: prometheus.NewRegistry(),
		layout:   artifact.NewLayout(config.ResolvePath(cfg.Artifacts.Root)),
	}
	rt.console = logging.New("cli", logging.Options{
		Level:  level,
		Format: consoleFormat(cfg.Logging.Format, stderr),
		Writer: consoleWriter(),
	}).WithRun(rt.runID)
	rt.logger = rt.console

	if opts.runLog && strings.TrimSpace(cfg.Logging.Dir) != "" {
		var mirror io.Writer
		if consoleFormat(cfg.Logging.Format, stderr) == logging.FormatJSON {
			mirror = consoleWriter()
		}
		runLogger, closeLog, err := logging.OpenRunLog(opts.command, config.ResolvePath(cfg.Logging.Dir), rt.runID, level, mirror)
		if err != nil {
			return nil, errors.Infrastructure(err, "failed to open run log")
		}
		rt.logger = runLogger
		rt.closers = append(rt.closers, closeLog)
	}

	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = observability.NewMetrics(rt.registry)
	rt.browserMetrics = browser.NewMetrics()
	rt.browserMetrics.EnableTelemetry(rt.hub, rt.runID)

	if opts.ledger {
		ledger, err := storage.New(config.ResolvePath(cfg.Storage.Path))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.ledger = ledger
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	if cfg.Telemetry.Tracing {
		tracer, err := rt.openTracer()
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.tracer = tracer
	}

	recorder := observability.NewRecorder(rt.metrics, rt.tracerOrNil(), rt.logger)
	events, unsubscribe := rt.hub.Subscribe()
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer unsubscribe()
		recorder.Run(runCtx, events)
	}()

	addr := strings.TrimSpace(globals.metricsAddr)
	if addr == "" {
		addr = strings.TrimSpace(cfg.Telemetry.MetricsAddr)
	}
	if addr != "" {
		rt.startServer(runCtx, addr)
	}
	return rt, nil
}

func (rt *runtime) tracerOrNil() trace.Tracer {
	if rt.tracer == nil {
		return nil
	}
	return observability.Tracer()
}

func (rt *runtime) openTracer() (*observability.TracerProvider, error) {
	dir := filepath.Join(config.ResolvePath(rt.cfg.Logging.Dir), "traces")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Infrastructure(err, "failed to create trace directory")
	}
	f, err := os.Create(filepath.Join(dir, rt.runID+".json"))
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to open trace file")
	}
	tp, err := observability.NewTracerProvider("greenlight", version, f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Infrastructure(err, "failed to start tracing")
	}
	rt.closers = append(rt.closers, f.Close)
	return tp, nil
}

// router serves metrics, the live event stream and the run ledger.
func (rt *runtime) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{Registry: rt.registry}))
	if rt.stream != nil {
		r.Get("/events", rt.stream.HandleWebSocket)
	}
	r.Get("/runs/{runID}", rt.handleRun)
	return r
}

func (rt *runtime) handleRun(w http.ResponseWriter, r *http.Request) {
	if rt.ledger == nil {
		http.Error(w, "run ledger disabled", http.StatusNotFound)
		return
	}
	runID := chi.URLParam(r, "runID")
	run, err := rt.ledger.GetRun(r.Context(), runID)
	if stderrors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	units, err := rt.ledger.Units(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"run": run, "units": units})
}

func (rt *runtime) startServer(ctx context.Context, addr string) {
	rt.stream = observability.NewEventStream(rt.hub, rt.metrics, rt.logger)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.stream.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           rt.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	rt.server = srv
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()
	rt.console.Info("serving metrics", slog.String("addr", addr))
}

// newManager builds a browser manager around the configured launcher.
func (rt *runtime) newManager() (*browser.Manager, error) {
	launcher, err := newLauncherFn(rt.cfg, rt.browserMetrics)
	if err != nil {
		return nil, errors.Infrastructure(err, "failed to configure browser driver")
	}
	return browser.NewManager(launcher,
		browser.WithMetrics(rt.browserMetrics),
		browser.WithLogger(rt.logger),
	), nil
}

// Close stops background services in dependency order. It is safe to call
// more than once.
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	rt.hub.Close()
	if rt.stream != nil {
		rt.stream.Shutdown()
	}
	if rt.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = rt.server.Shutdown(shutdownCtx)
		cancel()
		rt.server = nil
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.wg.Wait()

	if rt.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.tracer.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn("failed to flush spans", slog.String("error", err.Error()))
		}
		cancel()
		rt.tracer = nil
	}
	if rt.ledger != nil {
		_ = rt.ledger.Close()
		rt.ledger = nil
	}
	for _, closeFn := range rt.closers {
		_ = closeFn()
	}
	rt.closers = nil
}

// consoleFormat resolves "auto" to text on a terminal and JSON elsewhere.
func consoleFormat(format string, w io.Writer) logging.Format {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		return logging.FormatText
	case "auto":
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return logging.FormatText
		}
	}
	return logging.FormatJSON
}

func consoleWriter() io.Writer {
	if globals.quiet {
		return io.Discard
	}
	return stderr
}
