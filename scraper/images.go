package scraper

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
)

// ImageDownloader stores cover images under root/<category>/<file>.
type ImageDownloader struct {
	fetcher pageFetcher
	root    string
	stored  *lru.Cache[string, string]
	metrics *Metrics
}

// NewImageDownloader remembers up to cacheSize stored images so a cover
// seen twice in a run is fetched once.
func NewImageDownloader(fetcher pageFetcher, root string, cacheSize int, metrics *Metrics) (*ImageDownloader, error) {
	if root == "" {
		return nil, fmt.Errorf("image root cannot be empty")
	}
	stored, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("image cache: %w", err)
	}
	return &ImageDownloader{
		fetcher: fetcher,
		root:    root,
		stored:  stored,
		metrics: metrics,
	}, nil
}

// Download fetches imageURL and writes it into the category's image
// directory, returning the stored path. An existing file is overwritten.
func (d *ImageDownloader) Download(ctx context.Context, imageURL, category string) (string, error) {
	fail := func(err error) (string, error) {
		d.metrics.IncImages("skipped")
		return "", &ImageError{URL: imageURL, Category: category, Err: err}
	}

	if err := pipeline.CheckName(category); err != nil {
		return fail(err)
	}
	key := category + "\x00" + imageURL
	if path, ok := d.stored.Get(key); ok {
		d.metrics.IncImages("cached")
		return path, nil
	}

	name, err := parser.ImageFilename(imageURL)
	if err != nil {
		return fail(err)
	}

	page, err := d.fetcher.Fetch(ctx, KindImage, imageURL)
	if err != nil {
		return fail(err)
	}

	dir := filepath.Join(d.root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(fmt.Errorf("create image directory: %w", err))
	}
	target := filepath.Join(dir, name)
	err = pipeline.WriteFileAtomic(target, func(w io.Writer) error {
		_, err := w.Write(page.Body)
		return err
	})
	if err != nil {
		return fail(err)
	}

	d.stored.Add(key, target)
	d.metrics.IncImages("downloaded")
	return target, nil
}
