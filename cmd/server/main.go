// Feedforward classifies customer feedback by urgency and impact and ranks it for follow-up.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/feedforward/internal/actions"
	"github.com/linnemanlabs/feedforward/internal/archive"
	"github.com/linnemanlabs/feedforward/internal/archive/memstore"
	"github.com/linnemanlabs/feedforward/internal/archive/pgstore"
	fc "github.com/linnemanlabs/feedforward/internal/cfg"
	"github.com/linnemanlabs/feedforward/internal/classifier"
	"github.com/linnemanlabs/feedforward/internal/dashapi"
	"github.com/linnemanlabs/feedforward/internal/dashboard"
	"github.com/linnemanlabs/feedforward/internal/feedback"
	"github.com/linnemanlabs/feedforward/internal/llm/claude"
	"github.com/linnemanlabs/feedforward/internal/notify/slack"
	"github.com/linnemanlabs/feedforward/internal/postgres"
	"github.com/linnemanlabs/feedforward/internal/results"
	"github.com/linnemanlabs/feedforward/internal/stages"
)

const appName = "feedforward"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    fc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// Command-line flags win over FEEDFORWARD_ env vars, which are applied after parsing
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix FEEDFORWARD_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "FEEDFORWARD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// flush buffered log output on exit
	defer func() { _ = lg.Sync() }()

	// every line from this process carries the component
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"classifier_url", appCfg.ClassifierURL,
		"max_upload_bytes", appCfg.MaxUploadBytes,
		"auth_enabled", appCfg.APIToken != "",
	)

	// Profiling starts before any component so classification batches are covered from the first request
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// stopProf flushes the last profile
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// shutdownOtelx flushes spans still buffered for export
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Wrap the tracer provider so spans carry pyroscope profile labels
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	// Process-wide registry, served on the ops listener
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Dashboard metrics on the shared Prometheus registry.
	dashMetrics := dashboard.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedforward_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Initialize the batch archive
	var batchArchive archive.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		batchArchive = pgStore
		L.Info(ctx, "using postgres archive")
	} else {
		batchArchive = memstore.New()
		L.Info(ctx, "using in-memory archive (no database-url configured)")
	}

	// Classification client against the backend
	classifierClient, err := classifier.New(appCfg.ClassifierURL, classifier.Options{
		Timeout:     time.Duration(appCfg.ClassifyTimeoutSeconds) * time.Second,
		MaxInFlight: appCfg.MaxInFlight,
		Preprocess:  feedback.Clean,
		Logger:      L,
		Hooks:       dashMetrics.ClassifierHooks(),
	})
	if err != nil {
		return fmt.Errorf("classifier init: %w", err)
	}
	L.Info(ctx, "initialized classifier", "url", appCfg.ClassifierURL, "max_in_flight", appCfg.MaxInFlight)

	// Workflow stage sequencer, one cycle per submission
	sequencer := stages.NewSequencer(stages.Options{
		Delay:        time.Duration(appCfg.StageDelayMS) * time.Millisecond,
		Tail:         time.Duration(appCfg.StageTailMS) * time.Millisecond,
		OnSuperseded: dashMetrics.OnSupersededCycle,
	})

	// Initialize Slack notifier for urgent feedback digests.
	var notifier dashboard.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// Initialize the dashboard service (owns results, workflow, archive and notify dispatch).
	dashSvc := dashboard.NewService(classifierClient, results.New(), sequencer, dashboard.Options{
		Archive:    batchArchive,
		Notifier:   notifier,
		Metrics:    dashMetrics,
		Logger:     L,
		TextColumn: appCfg.TextColumn,
	})
	defer dashSvc.Close()

	// Register the backend actions
	registry := actions.NewRegistry(dashMetrics.ActionHooks())
	registry.Register(actions.GenerateReport(appCfg.ClassifierURL, nil))
	registry.Register(actions.SendEmail(appCfg.ClassifierURL, nil))
	registry.Register(actions.SendSlack(appCfg.ClassifierURL, nil))

	// Insights run locally when a Claude key is configured, otherwise the backend generates them
	if appCfg.ClaudeAPIKey != "" {
		claudeProvider := claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		registry.Register(actions.NewInsights(claudeProvider, dashSvc.Results))
		L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", claudeProvider.Model())
	} else {
		registry.Register(actions.GenerateInsights(appCfg.ClassifierURL, nil))
	}
	for _, a := range registry.List() {
		L.Info(ctx, "registered action", "name", a.Name)
	}

	// Closed at shutdown so readiness fails and the dashboard stops getting new
	// submissions while in-flight ones finish.
	var shutdownGate health.ShutdownGate

	// readiness is the shutdown gate alone; the classifier is checked per request
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness only proves the process answers
	liveness := health.Fixed(true, "")

	// ops listener serves metrics, health and pprof
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// The ops listener rejects public client IPs and forwarded requests, so it
	// stays internal even if it is routed by mistake
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// dashboard API router
	r := chi.NewRouter()

	// Compress text responses (JSON views and markdown exports)
	r.Use(middleware.Compress(5, "application/json", "text/markdown"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// one access line per request
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded.
	// Handlers apply tighter per-route limits, this only has to admit the largest upload plus multipart framing
	r.Use(httpmw.MaxBody(fc.MaxUploadLimit + 1<<20))

	// health endpoints are mirrored on the API port for the load balancer
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes, action endpoints are guarded by the api token
	dashapiHTTP := dashapi.New(L, dashSvc, registry, dashapi.Options{
		APIToken:       appCfg.APIToken,
		MaxUploadBytes: appCfg.MaxUploadBytes,
	})
	dashapiHTTP.RegisterRoutes(r)

	// Wrappers below are applied inside out; the last one added sees the raw
	// request first.
	var h http.Handler = r

	// request logger, inside tracing so lines carry trace_id and route
	h = httpmw.WithLogger(L)(h)

	// expose trace and span ids so a dashboard error can be looked up
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// server spans; handlers add feedforward.* attributes to them
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// probes are not traced
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the chi route pattern by AnnotateHTTPRoute
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// browser callers never share our trace context
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// per-route request metrics
	h = m.Middleware(h)

	// resolve the client IP once, honoring only the configured proxy hops
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// request id for correlating uploads with log lines
	h = httpmw.RequestID("X-Request-Id")(h)

	// a panicking handler returns 500 instead of killing in-flight batches
	h = httpmw.Recover(L, nil)(h)

	// security headers on every response, including recovered panics
	h = httpmw.SecurityHeaders(h)

	// listener timeouts from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start API HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// not fatal; outside systemd this always fails
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// serve until SIGINT or SIGTERM
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// readiness now fails so no new submissions arrive
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Let in-flight submissions and CSV batches finish classifying before the
	// listeners close. A second signal skips the wait.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Each component gets an equal slice of the shutdown budget.
	// stopProf is synchronous and needs no context, it runs deferred.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
