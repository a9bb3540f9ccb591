package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
)

// Scraper crawls every category of the catalog and hands each category's
// books to a pipeline.
type Scraper struct {
	cfg      *config.Config
	siteRoot *url.URL
	fetcher  *Fetcher
	images   *ImageDownloader
	Metrics  *Metrics

	pageCount     int64
	bookCount     int64
	droppedBooks  int64
	imageCount    int64
	imageFailures int64
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	root, err := cfg.SiteRoot()
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}

	s := &Scraper{
		cfg:      cfg,
		siteRoot: root,
		fetcher:  fetcher,
		Metrics:  metrics,
	}
	if !cfg.SkipImages {
		s.images, err = NewImageDownloader(fetcher, cfg.ImagesDir, cfg.ImageCacheSize, metrics)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DiscoverCategories reads the category list from the home page.
func (s *Scraper) DiscoverCategories(ctx context.Context) ([]models.Category, error) {
	page, err := s.fetcher.Fetch(ctx, KindHome, s.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch home page: %w", err)
	}
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	categories, err := parser.ParseCategories(doc, page.URL)
	if err != nil {
		return nil, fmt.Errorf("discover categories: %w", err)
	}
	if len(categories) == 0 {
		return nil, ErrNoCategories
	}
	return categories, nil
}

// Run discovers categories, crawls each one, and submits every non-empty
// category to p. Discovery failures abort the run; a category that fails
// mid-crawl is recorded and the others continue. The returned result is
// partial when ctx is cancelled.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	categories, err := s.DiscoverCategories(ctx)
	if err != nil {
		return nil, err
	}
	selected := s.selectCategories(categories)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: none match the category filter", ErrNoCategories)
	}
	slog.Info("categories discovered",
		slog.Int("discovered", len(categories)),
		slog.Int("selected", len(selected)),
	)

	result := &models.ScraperResult{
		StartTime:        start,
		CategoryCount:    len(selected),
		FailedCategories: make(map[string]string),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CategoryWorkers)
	for _, category := range selected {
		g.Go(func() error {
			books, err := s.CrawlCategory(gctx, category)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Error("category crawl failed",
					slog.String("category", category.Name),
					slog.Any("error", err),
				)
				mu.Lock()
				result.FailedCategories[category.Name] = err.Error()
				mu.Unlock()
				return nil
			}
			if len(books) == 0 {
				slog.Warn("category yielded no books, skipping",
					slog.String("category", category.Name),
				)
				mu.Lock()
				result.EmptyCategories = append(result.EmptyCategories, category.Name)
				mu.Unlock()
				return nil
			}
			return p.Submit(gctx, pipeline.Batch{Category: category.Name, Books: books})
		})
	}
	err = g.Wait()

	sort.Strings(result.EmptyCategories)
	result.EndTime = time.Now()
	result.PageCount = int(atomic.LoadInt64(&s.pageCount))
	result.BookCount = int(atomic.LoadInt64(&s.bookCount))
	result.DroppedBooks = int(atomic.LoadInt64(&s.droppedBooks))
	result.ImageCount = int(atomic.LoadInt64(&s.imageCount))
	result.ImageFailures = int(atomic.LoadInt64(&s.imageFailures))
	result.RequestCount = s.fetcher.RequestCount()
	result.ErrorCount = s.fetcher.ErrorCount()
	result.RetryCount = s.fetcher.RetryCount()
	result.FailedURLs = s.fetcher.FailedURLs()
	result.ErrorsByType = s.fetcher.ErrorsByType()

	if err != nil {
		return result, fmt.Errorf("crawl interrupted: %w", err)
	}
	return result, nil
}

// CrawlCategory walks every listing page of category and returns its
// books in listing order. Items that fail are skipped.
func (s *Scraper) CrawlCategory(ctx context.Context, category models.Category) ([]*models.Book, error) {
	pager := NewPaginator(s.fetcher, category, s.cfg.MaxPages)

	var books []*models.Book
	pages := 0
	for pager.Next(ctx) {
		page := pager.Page()
		pages++
		atomic.AddInt64(&s.pageCount, 1)
		s.Metrics.IncListingPages()
		slog.Debug("listing page",
			slog.String("category", category.Name),
			slog.Int("page", page.Number),
			slog.Int("items", len(page.Links)),
		)
		books = append(books, s.scrapeItems(ctx, category, page.Links)...)
	}
	if err := pager.Err(); err != nil {
		return books, err
	}

	slog.Info("category crawled",
		slog.String("category", category.Name),
		slog.Int("pages", pages),
		slog.Int("books", len(books)),
	)
	return books, nil
}

// scrapeItems fetches the detail pages of one listing page concurrently.
// Results land in per-index slots so the listing order survives.
func (s *Scraper) scrapeItems(ctx context.Context, category models.Category, links []string) []*models.Book {
	slots := make([]*models.Book, len(links))

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for i, link := range links {
		g.Go(func() error {
			slots[i] = s.scrapeItem(ctx, category, link)
			return nil
		})
	}
	_ = g.Wait()

	books := make([]*models.Book, 0, len(slots))
	for _, book := range slots {
		if book != nil {
			books = append(books, book)
		}
	}
	return books
}

func (s *Scraper) scrapeItem(ctx context.Context, category models.Category, link string) *models.Book {
	book, err := s.ScrapeBook(ctx, link)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, parser.ErrFieldMissing) {
			atomic.AddInt64(&s.droppedBooks, 1)
			s.Metrics.IncBooks("dropped")
			slog.Warn("dropping book with missing fields",
				slog.String("url", link),
				slog.Any("fields", parser.MissingFields(err)),
			)
			return nil
		}
		s.Metrics.IncBooks("failed")
		slog.Warn("detail page failed",
			slog.String("url", link),
			slog.Any("error", err),
		)
		return nil
	}
	atomic.AddInt64(&s.bookCount, 1)
	s.Metrics.IncBooks("extracted")

	if s.images != nil {
		if _, err := s.images.Download(ctx, book.ImageURL, category.Name); err != nil {
			if ctx.Err() == nil {
				atomic.AddInt64(&s.imageFailures, 1)
				slog.Warn("image download failed",
					slog.String("category", category.Name),
					slog.String("url", book.ImageURL),
					slog.Any("error", err),
				)
			}
		} else {
			atomic.AddInt64(&s.imageCount, 1)
		}
	}
	return book
}

// ScrapeBook fetches one detail page and extracts its book.
func (s *Scraper) ScrapeBook(ctx context.Context, link string) (*models.Book, error) {
	page, err := s.fetcher.Fetch(ctx, KindDetail, link)
	if err != nil {
		return nil, err
	}
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	extraction, err := parser.ExtractBook(doc, link, s.siteRoot)
	if err != nil {
		return nil, err
	}
	if len(extraction.Absent) > 0 {
		slog.Debug("optional fields absent",
			slog.String("url", link),
			slog.Any("fields", extraction.Absent),
		)
	}
	return extraction.Book, nil
}

func (s *Scraper) selectCategories(categories []models.Category) []models.Category {
	if len(s.cfg.Categories) == 0 {
		return categories
	}

	known := make(map[string]struct{}, len(categories))
	selected := make([]models.Category, 0, len(s.cfg.Categories))
	for _, category := range categories {
		known[strings.ToLower(category.Name)] = struct{}{}
		if s.cfg.WantsCategory(category.Name) {
			selected = append(selected, category)
		}
	}
	for _, want := range s.cfg.Categories {
		if _, ok := known[strings.ToLower(strings.TrimSpace(want))]; !ok {
			slog.Warn("unknown category in filter", slog.String("category", want))
		}
	}
	return selected
}

// RecordOutcome copies the pipeline's per-category results into result.
// Call it after the pipeline has been closed.
func RecordOutcome(result *models.ScraperResult, p *pipeline.Pipeline) {
	if result == nil || p == nil {
		return
	}
	result.WrittenCategories = p.Written()
	if result.FailedCategories == nil {
		result.FailedCategories = make(map[string]string)
	}
	for name, err := range p.Failed() {
		result.FailedCategories[name] = err.Error()
	}
}
