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
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// newWriter is swapped in tests.
var newWriter = createWriter

// run executes one crawl and returns the process exit status. Deferred
// cleanup (writer close, signal stop) runs before main exits.
func run(args []string) int {
	defaultCfg := config.DefaultConfig()
	if err := applyEnv(defaultCfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}

	flags := flag.NewFlagSet("scraper", flag.ContinueOnError)
	baseURL := flags.String("base-url", defaultCfg.BaseURL, "Catalog home page")
	imagesDir := flags.String("images-dir", defaultCfg.ImagesDir, "Root directory for cover images")
	catalogDir := flags.String("catalog-dir", defaultCfg.CatalogDir, "Root directory for per-category catalog files")
	categories := flags.String("categories", strings.Join(defaultCfg.Categories, ","), "Comma separated category names to crawl (default all)")
	maxPages := flags.Int("pages", defaultCfg.MaxPages, "Maximum listing pages per category")
	parallelism := flags.Int("parallel", defaultCfg.Parallelism, "Number of concurrent requests")
	categoryWorkers := flags.Int("category-workers", defaultCfg.CategoryWorkers, "Number of categories crawled at once")
	timeout := flags.Duration("timeout", defaultCfg.Timeout, "Per-request timeout")
	maxRetries := flags.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per URL for transient errors")
	retryBackoff := flags.Duration("retry-backoff", defaultCfg.RetryBackoff, "Initial retry backoff")
	retryBackoffMax := flags.Duration("retry-backoff-max", defaultCfg.RetryBackoffMax, "Maximum retry backoff")
	outputFormat := flags.String("format", defaultCfg.OutputFormat, "Output format: csv, json, dual, or sqlite")
	skipImages := flags.Bool("skip-images", defaultCfg.SkipImages, "Do not download cover images")
	verbose := flags.Bool("v", false, "Enable verbose logging")
	metricsAddr := flags.String("metrics-addr", defaultCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	if err := flags.Parse(args); err != nil {
		return 2
	}

	runID := uuid.NewString()
	logger, level := newLogger(*verbose)
	logger = logger.With(slog.String("run_id", runID))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.ImagesDir = *imagesDir
	cfg.CatalogDir = *catalogDir
	cfg.Categories = config.SplitList(*categories)
	cfg.MaxPages = *maxPages
	cfg.Parallelism = *parallelism
	cfg.CategoryWorkers = *categoryWorkers
	cfg.Timeout = *timeout
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = *retryBackoff
	cfg.RetryBackoffMax = *retryBackoffMax
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.SkipImages = *skipImages
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.String("catalog_dir", cfg.CatalogDir),
		slog.String("images_dir", cfg.ImagesDir),
		slog.Int("workers", cfg.Parallelism),
		slog.Int("category_workers", cfg.CategoryWorkers),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}

	writer, err := newWriter(cfg.OutputFormat, cfg.CatalogDir)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.CategoryWorkers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := s.Run(ctx, p)
	if runErr != nil {
		slog.Error("crawl failed", slog.Any("error", runErr))
	}

	// Categories already submitted are complete, so they are still written.
	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		return 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if result == nil {
		return 1
	}
	scraper.RecordOutcome(result, p)

	for _, category := range result.WrittenCategories {
		if err := writer.Validate(category); err != nil {
			slog.Error("output validation failed",
				slog.String("category", category),
				slog.Any("error", err),
			)
			result.FailedCategories[category] = err.Error()
		}
	}

	printSummary(runID, result, p.GetMetrics(), cfg)

	if runErr != nil || len(result.FailedCategories) > 0 {
		return 1
	}
	return 0
}

// applyEnv overrides defaults from SCRAPER_* variables. Flags still win.
func applyEnv(cfg *config.Config) error {
	if value, ok := config.EnvString("SCRAPER_BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok := config.EnvString("SCRAPER_IMAGES_DIR"); ok {
		cfg.ImagesDir = value
	}
	if value, ok := config.EnvString("SCRAPER_CATALOG_DIR"); ok {
		cfg.CatalogDir = value
	}
	if value, ok := config.EnvString("SCRAPER_CATEGORIES"); ok {
		cfg.Categories = config.SplitList(value)
	}
	if value, ok := config.EnvString("SCRAPER_FORMAT"); ok {
		cfg.OutputFormat = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SCRAPER_PAGES", &cfg.MaxPages},
		{"SCRAPER_PARALLEL", &cfg.Parallelism},
		{"SCRAPER_CATEGORY_WORKERS", &cfg.CategoryWorkers},
		{"SCRAPER_MAX_RETRIES", &cfg.MaxRetries},
	}
	for _, entry := range ints {
		value, ok, err := config.EnvInt(entry.key)
		if err != nil {
			return err
		}
		if ok {
			*entry.dst = value
		}
	}

	if value, ok, err := config.EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Timeout = value
	}
	return nil
}

func createWriter(format, dir string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(dir)
	case "csv":
		return pipeline.NewCSVWriter(dir)
	case "dual":
		return pipeline.NewDualWriter(dir)
	case "sqlite":
		return pipeline.NewSQLiteWriter(dir)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(runID string, result *models.ScraperResult, metrics map[string]interface{}, cfg *config.Config) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")
	fmt.Printf("  Run ID:        %s\n", runID)

	duration := result.EndTime.Sub(result.StartTime)
	booksPerSec := 0.0
	if duration.Seconds() > 0 {
		booksPerSec = float64(result.BookCount) / duration.Seconds()
	}
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}

	fmt.Printf("  Categories:    %d selected, %d written, %d empty, %d failed\n",
		result.CategoryCount, len(result.WrittenCategories), len(result.EmptyCategories), len(result.FailedCategories))
	fmt.Printf("  Listing pages: %d\n", result.PageCount)
	fmt.Printf("  Books:         %d extracted, %d dropped\n", result.BookCount, result.DroppedBooks)
	if !cfg.SkipImages {
		fmt.Printf("  Images:        %d stored, %d failed\n", result.ImageCount, result.ImageFailures)
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	if len(result.FailedCategories) > 0 {
		names := make([]string, 0, len(result.FailedCategories))
		for name := range result.FailedCategories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  Failed:        %s: %s\n", name, result.FailedCategories[name])
		}
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Books/sec:     %.2f\n", booksPerSec)
	fmt.Printf("  Catalog dir:   %s\n", cfg.CatalogDir)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
