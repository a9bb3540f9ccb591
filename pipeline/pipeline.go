package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

var (
	// ErrPipelineClosed is returned when Submit is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

// OutputWriter persists one category's books.
type OutputWriter interface {
	WriteCategory(category string, books []*models.Book) error
	Validate(category string) error
	Close() error
}

// Batch is the complete, ordered set of books crawled for one category.
type Batch struct {
	Category string
	Books    []*models.Book
}

// Pipeline coordinates validation, de-duplication, and catalog writes.
// A failed write is recorded against its category; other categories
// continue.
type Pipeline struct {
	ctx     context.Context
	writer  OutputWriter
	batchCh chan Batch

	wg sync.WaitGroup

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed
	closed bool

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 1
	}
	dedupeSize := cfg.DedupeMaxSize
	if dedupeSize <= 0 {
		dedupeSize = 1
	}
	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		// Only reachable with a non-positive size, guarded above.
		panic(fmt.Sprintf("pipeline: dedupe cache: %v", err))
	}
	return &Pipeline{
		ctx:      ctx,
		writer:   writer,
		batchCh:  make(chan Batch, buffer),
		seen:     seen,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Submit enqueues a category batch for writing.
func (p *Pipeline) Submit(ctx context.Context, batch Batch) (err error) {
	if ctx == nil {
		ctx = p.ctx
	}
	if p.isClosed() {
		return ErrPipelineClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.batchCh <- batch:
		return nil
	}
}

// Close stops accepting batches and waits for queued ones to be written.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.batchCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		return ErrPipelineCloseTimeout
	}
}

// Written returns the categories written so far, sorted.
func (p *Pipeline) Written() []string {
	return p.metrics.writtenCategories()
}

// Failed returns the write error of every failed category.
func (p *Pipeline) Failed() map[string]error {
	return p.metrics.failedCategories()
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed_books", m["processed_books"].(int64)),
					slog.Int("written_categories", len(p.Written())),
					slog.Int("failed_categories", len(p.Failed())),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for batch := range p.batchCh {
		books := p.prepare(batch)
		if len(books) == 0 {
			p.metrics.addValidation("empty_batch")
			slog.Warn("no valid books for category, skipping write",
				slog.String("category", batch.Category),
				slog.Int("submitted", len(batch.Books)),
			)
			continue
		}

		if err := p.writer.WriteCategory(batch.Category, books); err != nil {
			p.metrics.addFailure(batch.Category, err)
			slog.Error("write category failed",
				slog.String("category", batch.Category),
				slog.Any("error", err),
			)
			continue
		}
		p.metrics.addWritten(batch.Category)
		slog.Info("category written",
			slog.String("category", batch.Category),
			slog.Int("books", len(books)),
		)
	}
}

// prepare drops invalid records and repeated product URLs, keeping the
// order of the first occurrence.
func (p *Pipeline) prepare(batch Batch) []*models.Book {
	out := make([]*models.Book, 0, len(batch.Books))
	for _, book := range batch.Books {
		if err := parser.ValidateBook(book); err != nil {
			p.metrics.addValidation("invalid_record")
			slog.Warn("dropping invalid book",
				slog.String("category", batch.Category),
				slog.Any("error", err),
			)
			continue
		}

		key := batch.Category + "\x00" + book.ProductURL
		if found, _ := p.seen.ContainsOrAdd(key, struct{}{}); found {
			p.metrics.addValidation("duplicate_url")
			continue
		}

		out = append(out, book)
	}
	p.metrics.addProcessed(len(out))
	return out
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
	written    map[string]struct{}
	failed     map[string]error
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
		written:    make(map[string]struct{}),
		failed:     make(map[string]error),
	}
}

func (m *metrics) addProcessed(n int) {
	m.mu.Lock()
	m.processed += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) addWritten(category string) {
	m.mu.Lock()
	m.written[category] = struct{}{}
	delete(m.failed, category)
	m.mu.Unlock()
}

func (m *metrics) addFailure(category string, err error) {
	m.mu.Lock()
	m.failed[category] = err
	m.mu.Unlock()
}

func (m *metrics) writtenCategories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.written))
	for name := range m.written {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *metrics) failedCategories() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]error, len(m.failed))
	for k, v := range m.failed {
		out[k] = v
	}
	return out
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_books":    m.processed,
		"validation_errors":  copyValidation,
		"written_categories": int64(len(m.written)),
		"failed_categories":  int64(len(m.failed)),
	}
}
