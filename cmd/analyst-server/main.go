package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/priorai/priorai/internal/config"
	"github.com/priorai/priorai/internal/httpapi"
	"github.com/priorai/priorai/internal/orchestrate"
	"github.com/priorai/priorai/internal/providers"
	"github.com/priorai/priorai/internal/report"
	"github.com/priorai/priorai/internal/store"
	"github.com/priorai/priorai/internal/workflow"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	dbFlag := flag.String("db", "", "path to SQLite database file (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	dbPath := *dbFlag
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := setupTracing(ctx, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Fatalf("tracing setup: %v", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = shutdown(sctx)
		}()
	}

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("failed to initialize sqlite store (%s): %v", dbPath, err)
	}
	defer st.Close()
	log.Printf("using sqlite store at %s", dbPath)

	set, err := providers.New(providers.Config{
		AnthropicAPIKey:    cfg.Anthropic.APIKey,
		PatentsViewAPIKey:  cfg.PatentsView.APIKey,
		PatentsViewBaseURL: cfg.PatentsView.BaseURL,
		RateLimitPerMinute: cfg.PatentsView.RateLimitPerMinute,
	})
	if err != nil {
		log.Fatal(err)
	}

	orch := orchestrate.NewClient(orchestrate.Config{
		BaseURL:      cfg.Orchestrate.BaseURL,
		APIKey:       cfg.Orchestrate.APIKey,
		WorkflowName: cfg.Orchestrate.WorkflowName,
	})

	engine := workflow.New(st, set, orch, workflow.Config{
		MaxSearchResults: cfg.Workflow.MaxSearchResults,
		CallTimeout:      time.Duration(cfg.Workflow.CallTimeoutSeconds) * time.Second,
		RunTimeout:       time.Duration(cfg.Workflow.RunTimeoutSeconds) * time.Second,
	})

	h := httpapi.NewServer(st, engine, report.NewChromiumPDFRenderer())
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: h}

	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Printf("analyst-server listening on %s", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func setupTracing(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("analyst-server"),
	))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
