package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds crawler configuration.
type Config struct {
	BaseURL            string
	ImagesDir          string
	CatalogDir         string
	OutputFormat       string // csv, json, dual, or sqlite
	Categories         []string
	MaxPages           int
	Parallelism        int
	CategoryWorkers    int
	Timeout            time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RetryBackoffMax    time.Duration
	PipelineBufferSize int
	DedupeMaxSize      int
	ImageCacheSize     int
	SkipImages         bool
	UserAgent          string
	Verbose            bool
	MetricsAddr        string
}

// DefaultConfig returns defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://books.toscrape.com/",
		ImagesDir:          "images",
		CatalogDir:         "catalog",
		OutputFormat:       "csv",
		MaxPages:           50,
		Parallelism:        8,
		CategoryWorkers:    1,
		Timeout:            10 * time.Second,
		MaxRetries:         2,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		PipelineBufferSize: 64,
		DedupeMaxSize:      100000,
		ImageCacheSize:     4096,
		SkipImages:         false,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https")
	}

	if c.ImagesDir == "" {
		return fmt.Errorf("images dir cannot be empty")
	}
	if c.CatalogDir == "" {
		return fmt.Errorf("catalog dir cannot be empty")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.CategoryWorkers <= 0 {
		return fmt.Errorf("category workers must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.ImageCacheSize <= 0 {
		return fmt.Errorf("image cache size must be positive")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	for _, name := range c.Categories {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("category filter contains an empty name")
		}
	}

	return nil
}

// SiteRoot returns the scheme and host of BaseURL with a "/" path.
func (c *Config) SiteRoot() (*url.URL, error) {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/"}, nil
}

// WantsCategory reports whether name passes the category filter.
func (c *Config) WantsCategory(name string) bool {
	if len(c.Categories) == 0 {
		return true
	}
	for _, want := range c.Categories {
		if strings.EqualFold(strings.TrimSpace(want), name) {
			return true
		}
	}
	return false
}
