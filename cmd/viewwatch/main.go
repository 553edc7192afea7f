// Command viewwatch is the visibility observation daemon.
//
// Usage:
//
//	viewwatch -config viewwatch.yaml                    # observe pages from YAML config
//	viewwatch -url https://example.com -selector '#cta' # quick single-target observation
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/viewwatch/viewwatch"
	"github.com/hazyhaar/viewwatch/visibility"
)

func main() {
	configPath := flag.String("config", "", "path to viewwatch.yaml config file")
	singleURL := flag.String("url", "", "observe a single URL (stdout sink)")
	selector := flag.String("selector", "body", "CSS selector watched with -url")
	threshold := flag.Float64("threshold", 0, "visibility ratio for -url, in [0,1]")
	httpAddr := flag.String("http", "", "admin API and MCP listen address, e.g. :8086")
	dbPath := flag.String("db", "", "SQLite journal path (overrides journal.path)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *singleURL, *selector, *threshold)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: viewwatch -config <file> | -url <url> [-selector <css>] [-threshold <ratio>]")
		os.Exit(2)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *dbPath != "" {
		cfg.Journal.Path = *dbPath
	}

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("viewwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, url, selector string, threshold float64) (*viewwatch.Config, error) {
	switch {
	case path != "":
		cfg, err := viewwatch.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	case url != "":
		cfg, err := viewwatch.ParseConfig(nil)
		if err != nil {
			return nil, err
		}
		t := visibility.ScalarThreshold(threshold)
		if err := t.Validate(); err != nil {
			return nil, err
		}
		cfg.Pages = []viewwatch.PageConfig{{
			ID:  "page-1",
			URL: url,
			Targets: []viewwatch.TargetConfig{{
				Name:      selector,
				Selector:  selector,
				Threshold: t,
			}},
		}}
		return cfg, nil
	}
	return nil, errors.New("viewwatch: -config or -url is required")
}

func run(ctx context.Context, logger *slog.Logger, cfg *viewwatch.Config) error {
	svc := viewwatch.New(cfg, logger, viewwatch.SinksFromConfig(cfg, logger)...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer svc.Stop()

	if cfg.HTTP.Addr == "" {
		<-ctx.Done()
		return nil
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "viewwatch",
		Version: "1.0.0",
	}, nil)
	svc.RegisterMCP(mcpSrv)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	svc.Routes(r)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("viewwatch: http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
