package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShriniwasAhirrao/MetaStitch"
	"github.com/ShriniwasAhirrao/MetaStitch/analysis"
	"github.com/ShriniwasAhirrao/MetaStitch/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	analyze := flag.Bool("analyze", false, "Attach structure and entity analysis to results")
	flag.Parse()

	cfg := metastitch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = metastitch.LoadConfig(*configPath); err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}

	// Override from environment variables.
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		slog.Error("applying environment", "error", err)
		os.Exit(1)
	}
	cfg.Logging.Format = "json"
	slog.SetDefault(cfg.Logging.NewLogger(os.Stdout))

	apiKey := os.Getenv("METASTITCH_API_KEY")
	corsOrigins := os.Getenv("METASTITCH_CORS_ORIGINS")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := newServer(cfg, reg, *analyze, apiKey, corsOrigins)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ParseTimeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newServer builds the engine, registers its metrics on reg and wraps the
// routes in the middleware chain.
func newServer(cfg metastitch.Config, reg *prometheus.Registry, analyze bool, apiKey, corsOrigins string) (http.Handler, error) {
	coll := metrics.NewCollector()
	coll.Register(reg)

	opts := []metastitch.Option{metastitch.WithMetrics(coll)}
	if analyze {
		opts = append(opts, metastitch.WithAnalyzers(analysis.Structure{}, analysis.NewEntityAnalyzer(nil)))
	}
	engine, err := metastitch.New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /parse", h.handleParse)
	mux.HandleFunc("POST /parse/batch", h.handleParseBatch)
	mux.HandleFunc("GET /formats", h.handleFormats)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Middleware chain: logging -> recovery -> cors -> auth -> mux
	var handler http.Handler = mux
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	handler = logMiddleware(handler)
	return handler, nil
}
