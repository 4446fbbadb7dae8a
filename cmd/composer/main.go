package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/i2y/apicomposer/configs"
	"github.com/i2y/apicomposer/internal/adapter/inbound/adminhttp"
	"github.com/i2y/apicomposer/internal/adapter/inbound/graphqlhttp"
	"github.com/i2y/apicomposer/internal/adapter/inbound/proxy"
	"github.com/i2y/apicomposer/internal/adapter/outbound/github"
	"github.com/i2y/apicomposer/internal/adapter/outbound/graphql"
	"github.com/i2y/apicomposer/internal/adapter/outbound/httpinvoker"
	"github.com/i2y/apicomposer/internal/adapter/outbound/memrepo"
	"github.com/i2y/apicomposer/internal/adapter/outbound/openapi"
	"github.com/i2y/apicomposer/internal/adapter/outbound/telemetry"
	"github.com/i2y/apicomposer/internal/domain"
	"github.com/i2y/apicomposer/internal/metric"
	"github.com/i2y/apicomposer/internal/usecase"
)

// Process exit codes. A supervisor restarts the composer on ExitTopologyChanged.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitTopologyChanged = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootReader := github.NewReader(nil, slog.Default())
	cfg, err := configs.Load(ctx, bootReader.ReadFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return ExitFailure
	}

	// === Logging ===
	logLevel := cfg.ParsedLogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	logger.Info("Logger initialized.", slog.String("level", logLevel.String()), slog.Int("services", len(cfg.Services)))

	// === OpenTelemetry Initialization ===
	shutdownOtel, err := initOtelProvider(cfg)
	if err != nil {
		logger.Error("Failed to initialize OpenTelemetry.", slog.Any("error", err))
		return ExitFailure
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			logger.Error("Failed to shutdown OpenTelemetry TracerProvider.", slog.Any("error", err))
		}
	}()

	// === Dependency Injection ===
	metrics := metric.NewMetrics()
	hooks := telemetry.NewSpanHooks(nil, nil)

	// Proxied requests bypass the client timeout; only the response headers are bounded.
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	proxyTransport := http.DefaultTransport.(*http.Transport).Clone()
	proxyTransport.ResponseHeaderTimeout = cfg.ProxyResponseTimeout

	fileReader := github.NewReader(nil, logger)
	snapshots := memrepo.NewInMemorySnapshotRepository(logger)
	openapiFetcher := openapi.NewSchemaFetcher(httpClient, cfg.SchemaHeaders, fileReader.ReadFile, logger)
	merger := openapi.NewMerger(openapi.MergeOptions{
		Title:       cfg.Title,
		Description: cfg.Description,
		Version:     cfg.Version,
	}, logger)
	supergraphComposer := graphql.NewComposer(graphql.NewSDLFetcher(httpClient, logger), logger)
	invoker := httpinvoker.New(httpClient, hooks, logger)

	// === Initial Composition ===
	composeUC := usecase.NewComposeSchemaUseCase(cfg.Services, openapiFetcher, merger, supergraphComposer, snapshots, logger)
	result, err := composeUC.Execute(ctx)
	if err != nil {
		logger.Error("Initial composition interrupted.", slog.Any("error", err))
		return ExitFailure
	}
	recordComposition(metrics, cfg.Services, result)

	// === Public Router ===
	router := mux.NewRouter()

	published := openapi.PublishedDocument(result.Document)
	if published == nil {
		published = merger.EmptyDocument()
	}
	docs, err := adminhttp.NewDocumentation(published, logger)
	if err != nil {
		logger.Error("Failed to render composed document.", slog.Any("error", err))
		return ExitFailure
	}
	docs.AddTo(router)

	planner, err := graphql.NewPlanner(result.Supergraph)
	if err != nil {
		logger.Error("Failed to load supergraph, serving placeholder.", slog.Any("error", err))
		if planner, err = graphql.NewPlanner(domain.PlaceholderSupergraph()); err != nil {
			logger.Error("Failed to load placeholder supergraph.", slog.Any("error", err))
			return ExitFailure
		}
		metrics.RecordSupergraph(true)
	}
	executeUC := usecase.NewExecuteGraphQLUseCase(planner, invoker, logger)
	graphqlhttp.NewHandler(executeUC, hooks, metrics, logger).AddTo(router, graphqlhttp.DefaultPath)

	dispatcher := proxy.NewDispatcher(cfg.Services, proxyTransport, hooks, metrics, logger)
	if err := dispatcher.AddTo(router, result.Document); err != nil {
		logger.Error("Failed to build route table.", slog.Any("error", err))
		return ExitFailure
	}

	var publicHandler http.Handler = router
	if len(cfg.CORSOrigins) > 0 {
		publicHandler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{
				http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
				http.MethodPatch, http.MethodDelete, http.MethodOptions,
			},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(router)
		logger.Info("CORS enabled.", slog.Any("origins", cfg.CORSOrigins))
	}

	// === Drift Watcher ===
	watcher := usecase.NewDriftWatcher(cfg.Services, cfg.RefreshInterval, openapiFetcher, supergraphComposer, snapshots, metrics, logger)
	if watcher.Start(ctx) {
		logger.Info("Drift watcher started.", slog.Duration("interval", cfg.RefreshInterval))
	}
	defer watcher.Stop()

	// === Admin HTTP Server Setup ===
	adminMux := http.NewServeMux()
	healthUC := usecase.NewHealthUseCase(cfg.Services, invoker, metrics, logger)
	adminhttp.NewHandlers(watcher, healthUC, metrics.Handler(), logger).RegisterAdminRoutes(adminMux)

	publicServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      publicHandler,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}
	adminServer := &http.Server{
		Addr:         cfg.AdminListenAddr,
		Handler:      adminMux,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	serverErr := make(chan error, 2)
	for name, srv := range map[string]*http.Server{"public": publicServer, "admin": adminServer} {
		go func() {
			logger.Info("HTTP server starting.", slog.String("server", name), slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	exitCode := ExitOK
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received.")
	case evt := <-watcher.Changes():
		logger.Warn("Upstream topology changed, restarting.",
			slog.String("service", evt.ServiceID),
			slog.String("kind", string(evt.Kind)),
		)
		exitCode = ExitTopologyChanged
	case err := <-serverErr:
		logger.Error("HTTP server failed.", slog.Any("error", err))
		exitCode = ExitFailure
	}

	// === Server Shutdown ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	watcher.Stop()
	for name, srv := range map[string]*http.Server{"public": publicServer, "admin": adminServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server graceful shutdown failed.", slog.String("server", name), slog.Any("error", err))
		}
	}
	logger.Info("Servers shut down.", slog.Int("exit_code", exitCode))
	return exitCode
}

// recordComposition exports the boot composition outcome.
func recordComposition(metrics *metric.Metrics, services []domain.ServiceDescriptor, result *usecase.CompositionResult) {
	openapiServices := 0
	graphqlServices := 0
	for _, s := range services {
		if s.OpenAPI != nil {
			openapiServices++
		}
		if s.HasLiveGraphQL() {
			graphqlServices++
		}
	}

	if result.CompositionErr != nil {
		metrics.RecordCompositionError(string(domain.DriftOpenAPI))
		metrics.RecordComposition(string(domain.DriftOpenAPI), 0, openapiServices)
	} else {
		metrics.RecordComposition(string(domain.DriftOpenAPI), len(result.ComposedServices), result.FailedServices())
	}

	subgraphs := len(result.Supergraph.Subgraphs)
	metrics.RecordComposition(string(domain.DriftGraphQL), subgraphs, graphqlServices-subgraphs)
	metrics.RecordSupergraph(result.Supergraph.IsPlaceholder())
}

// initOtelProvider initializes the OpenTelemetry SDK and sets up the OTLP trace exporter.
// It returns a shutdown function to be called on application exit.
func initOtelProvider(cfg *configs.Config) (func(context.Context) error, error) {
	ctx := context.Background()

	// W3C Trace Context is propagated to upstreams with or without an exporter.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if cfg.OtelExporterOtlpEndpoint == "" {
		slog.Info("COMPOSER_OTEL_EXPORTER_OTLP_ENDPOINT not set, OpenTelemetry export disabled.")
		return func(context.Context) error { return nil }, nil
	}

	slog.Info("Initializing OTLP exporter.", slog.String("endpoint", cfg.OtelExporterOtlpEndpoint))

	grpcOpts := []grpc.DialOption{}
	if cfg.OtelExporterOtlpInsecure {
		grpcOpts = append(grpcOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure connection for OTLP exporter.")
	}

	conn, err := grpc.NewClient(cfg.OtelExporterOtlpEndpoint, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to OTLP endpoint: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("apicomposer"),
		),
	)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)
	slog.Info("OpenTelemetry TracerProvider configured.")

	return func(ctx context.Context) error {
		providerErr := tp.Shutdown(ctx)
		connErr := conn.Close()
		return errors.Join(providerErr, connErr)
	}, nil
}
