package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ErrEmptyBatch is returned when a writer is handed no books. Callers skip
// empty categories instead of producing header-only files.
var ErrEmptyBatch = errors.New("pipeline: empty batch")

// CSVWriter writes one CSV file per category under dir.
type CSVWriter struct {
	dir string
}

// NewCSVWriter prepares the catalog directory.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &CSVWriter{dir: dir}, nil
}

// Path returns the catalog file for category.
func (cw *CSVWriter) Path(category string) string {
	return filepath.Join(cw.dir, category+".csv")
}

// WriteCategory replaces the category's CSV file with a header row and one
// row per book, in order.
func (cw *CSVWriter) WriteCategory(category string, books []*models.Book) error {
	if err := CheckName(category); err != nil {
		return err
	}
	if len(books) == 0 {
		return ErrEmptyBatch
	}

	return WriteFileAtomic(cw.Path(category), func(w io.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write(models.CSVHeader()); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, book := range books {
			if err := writer.Write(book.Record()); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	})
}

// Validate ensures the category file exists and has content.
func (cw *CSVWriter) Validate(category string) error {
	return validateFile(cw.Path(category))
}

// Close is a no-op; files are closed after each write.
func (cw *CSVWriter) Close() error {
	return nil
}

// JSONWriter writes newline-delimited JSON, one file per category.
type JSONWriter struct {
	dir string
}

// NewJSONWriter prepares the catalog directory.
func NewJSONWriter(dir string) (*JSONWriter, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &JSONWriter{dir: dir}, nil
}

// Path returns the catalog file for category.
func (jw *JSONWriter) Path(category string) string {
	return filepath.Join(jw.dir, category+".jsonl")
}

// WriteCategory replaces the category's JSONL file.
func (jw *JSONWriter) WriteCategory(category string, books []*models.Book) error {
	if err := CheckName(category); err != nil {
		return err
	}
	if len(books) == 0 {
		return ErrEmptyBatch
	}

	return WriteFileAtomic(jw.Path(category), func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		for _, book := range books {
			if err := encoder.Encode(book); err != nil {
				return fmt.Errorf("encode json record: %w", err)
			}
		}
		return nil
	})
}

// Validate ensures the category file exists and has content.
func (jw *JSONWriter) Validate(category string) error {
	return validateFile(jw.Path(category))
}

// Close is a no-op; files are closed after each write.
func (jw *JSONWriter) Close() error {
	return nil
}

func validateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s is empty", path)
	}
	return nil
}
