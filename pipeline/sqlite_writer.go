package pipeline

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS books (
	category_slug     TEXT    NOT NULL,
	position          INTEGER NOT NULL,
	product_url       TEXT    NOT NULL,
	upc               TEXT    NOT NULL,
	title             TEXT    NOT NULL,
	price_with_tax    TEXT    NOT NULL,
	price_without_tax TEXT    NOT NULL,
	available         TEXT    NOT NULL,
	category          TEXT    NOT NULL,
	image_url         TEXT    NOT NULL,
	rating            INTEGER NOT NULL,
	description       TEXT    NOT NULL,
	PRIMARY KEY (category_slug, position)
);

CREATE INDEX IF NOT EXISTS idx_books_product_url ON books(product_url);
`

// SQLiteWriter keeps every category in one catalog.db table, keyed by
// category slug and listing position.
type SQLiteWriter struct {
	db   *sql.DB
	path string
}

// NewSQLiteWriter opens (or creates) dir/catalog.db.
func NewSQLiteWriter(dir string) (*SQLiteWriter, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "catalog.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One connection serialises category writes from concurrent workers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %q: %w", firstLine(stmt), err)
		}
	}
	return &SQLiteWriter{db: db, path: path}, nil
}

// Path returns the database file.
func (sw *SQLiteWriter) Path() string {
	return sw.path
}

// WriteCategory replaces the category's rows in a single transaction.
func (sw *SQLiteWriter) WriteCategory(category string, books []*models.Book) (err error) {
	if err := CheckName(category); err != nil {
		return err
	}
	if len(books) == 0 {
		return ErrEmptyBatch
	}

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM books WHERE category_slug = ?`, category); err != nil {
		return fmt.Errorf("sqlite: clear %s: %w", category, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO books (
		category_slug, position, product_url, upc, title, price_with_tax,
		price_without_tax, available, category, image_url, rating, description
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, b := range books {
		_, err = stmt.Exec(category, i, b.ProductURL, b.UPC, b.Title, b.PriceWithTax,
			b.PriceWithoutTax, b.Available, b.Category, b.ImageURL, b.Rating, b.Description)
		if err != nil {
			return fmt.Errorf("sqlite: insert %s: %w", b.ProductURL, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit %s: %w", category, err)
	}
	return nil
}

// Books returns the stored rows of category in listing order.
func (sw *SQLiteWriter) Books(category string) ([]*models.Book, error) {
	rows, err := sw.db.Query(`SELECT product_url, upc, title, price_with_tax, price_without_tax,
		available, category, image_url, rating, description
		FROM books WHERE category_slug = ? ORDER BY position`, category)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query %s: %w", category, err)
	}
	defer rows.Close()

	var books []*models.Book
	for rows.Next() {
		b := &models.Book{}
		if err := rows.Scan(&b.ProductURL, &b.UPC, &b.Title, &b.PriceWithTax, &b.PriceWithoutTax,
			&b.Available, &b.Category, &b.ImageURL, &b.Rating, &b.Description); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", category, err)
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// Validate ensures the category has at least one stored row.
func (sw *SQLiteWriter) Validate(category string) error {
	var count int
	err := sw.db.QueryRow(`SELECT COUNT(*) FROM books WHERE category_slug = ?`, category).Scan(&count)
	if err != nil {
		return fmt.Errorf("sqlite: count %s: %w", category, err)
	}
	if count == 0 {
		return fmt.Errorf("sqlite: no rows for category %s", category)
	}
	return nil
}

// Close closes the database.
func (sw *SQLiteWriter) Close() error {
	return sw.db.Close()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
