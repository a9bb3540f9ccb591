package scraper

import (
	"context"
	"log/slog"

	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// ListingPage is one fetched page of a category listing.
type ListingPage struct {
	Number int
	URL    string
	Links  []string
}

// Paginator walks the listing pages of one category in order. A failed
// first page is retried once against the bare listing URL; any later
// failure ends the walk. Use a new Paginator to start over.
type Paginator struct {
	fetcher  pageFetcher
	category models.Category
	maxPages int

	number  int
	current ListingPage
	done    bool
	err     error
}

// NewPaginator returns a paginator for category. maxPages <= 0 disables
// the page cap.
func NewPaginator(fetcher pageFetcher, category models.Category, maxPages int) *Paginator {
	return &Paginator{
		fetcher:  fetcher,
		category: category,
		maxPages: maxPages,
	}
}

// Next fetches the following listing page and reports whether one was
// produced.
func (p *Paginator) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		return p.stop(err)
	}
	if p.maxPages > 0 && p.number >= p.maxPages {
		slog.Debug("page cap reached",
			slog.String("category", p.category.Name),
			slog.Int("max_pages", p.maxPages),
		)
		return p.stop(nil)
	}

	n := p.number + 1
	pageURL, err := parser.PageURL(p.category.URL, n)
	if err != nil {
		return p.stop(err)
	}

	page, err := p.fetcher.Fetch(ctx, KindListing, pageURL)
	if err != nil && n == 1 && ctx.Err() == nil {
		slog.Debug("first listing page unavailable, trying listing url",
			slog.String("category", p.category.Name),
			slog.String("url", pageURL),
			slog.Any("error", err),
		)
		page, err = p.fetcher.Fetch(ctx, KindListing, p.category.URL)
	}
	if err != nil {
		// A missing page is how the listing ends.
		return p.stop(ctx.Err())
	}

	doc, err := page.Document()
	if err != nil {
		return p.stop(err)
	}
	links, err := parser.ListingLinks(doc, page.URL)
	if err != nil {
		return p.stop(err)
	}

	p.number = n
	p.current = ListingPage{Number: n, URL: page.URL, Links: links}
	return true
}

// Page returns the page produced by the last successful Next.
func (p *Paginator) Page() ListingPage {
	return p.current
}

// Err returns the error that ended iteration early, if any. Normal
// exhaustion leaves it nil.
func (p *Paginator) Err() error {
	return p.err
}

func (p *Paginator) stop(err error) bool {
	p.done = true
	p.err = err
	p.current = ListingPage{}
	return false
}
