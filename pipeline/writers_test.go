package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func booksFor(category string, n int) []*models.Book {
	books := make([]*models.Book, 0, n)
	for i := 1; i <= n; i++ {
		books = append(books, testBook(category, i))
	}
	return books
}

func TestCSVWriterWriteCategory(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewCSVWriter(filepath.Join(dir, "catalog"))
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	books := booksFor("Travel", 5)
	books[0].Description = "Line one, with a comma\nand a \"quoted\" second line."
	if err := writer.WriteCategory("travel", books); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	path := filepath.Join(dir, "catalog", "travel.csv")
	if writer.Path("travel") != path {
		t.Fatalf("path = %q, want %q", writer.Path("travel"), path)
	}
	records := readCSV(t, path)
	if len(records) != 6 {
		t.Fatalf("records = %d, want 6", len(records))
	}
	want := []string{
		"product_url", "upc", "title", "price_with_tax", "price_without_tax",
		"available", "category", "image_url", "rating", "description",
	}
	if !reflect.DeepEqual(records[0], want) {
		t.Fatalf("header = %v, want %v", records[0], want)
	}
	for i, book := range books {
		if !reflect.DeepEqual(records[i+1], book.Record()) {
			t.Fatalf("row %d = %v, want %v", i+1, records[i+1], book.Record())
		}
	}
	if err := writer.Validate("travel"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCSVWriterOverwritesOnRerun(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewCSVWriter(dir)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.WriteCategory("travel", booksFor("Travel", 5)); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := writer.WriteCategory("travel", booksFor("Travel", 3)); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if got := len(readCSV(t, writer.Path("travel"))); got != 4 {
		t.Fatalf("records after rerun = %d, want 4", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only travel.csv, found %d entries", len(entries))
	}
}

func TestCSVWriterEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewCSVWriter(dir)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.WriteCategory("travel", nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
	if _, err := os.Stat(writer.Path("travel")); !os.IsNotExist(err) {
		t.Fatalf("empty category must not create a file, stat err = %v", err)
	}
	if err := writer.Validate("travel"); err == nil {
		t.Fatalf("validate should fail for a missing file")
	}
}

func TestCSVWriterRejectsBadNames(t *testing.T) {
	writer, err := NewCSVWriter(t.TempDir())
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	for _, name := range []string{"", ".", "..", "../escape", `a\b`} {
		if err := writer.WriteCategory(name, booksFor("x", 1)); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("WriteCategory(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestJSONWriterWriteCategory(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewJSONWriter(dir)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	books := booksFor("Mystery", 2)
	if err := writer.WriteCategory("mystery", books); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "mystery.jsonl"))
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var decoded []models.Book
	for scanner.Scan() {
		var book models.Book
		if err := json.Unmarshal(scanner.Bytes(), &book); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		decoded = append(decoded, book)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("json lines = %d, want 2", len(decoded))
	}
	if decoded[1] != *books[1] {
		t.Fatalf("decoded = %+v, want %+v", decoded[1], *books[1])
	}
}

func TestDualWriterWriteCategory(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewDualWriter(dir)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.WriteCategory("poetry", booksFor("Poetry", 1)); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}
	if err := writer.Validate("poetry"); err != nil {
		t.Fatalf("validate dual: %v", err)
	}

	for _, name := range []string{"poetry.csv", "poetry.jsonl"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", name)
		}
	}
}

func TestWriteFileAtomicLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "travel.csv")
	if err := os.WriteFile(path, []byte("previous\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	boom := errors.New("boom")
	err := WriteFileAtomic(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, "half a row"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "previous\n" {
		t.Fatalf("file content = %q, want previous content", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary file left behind: %d entries", len(entries))
	}
}

func TestCheckName(t *testing.T) {
	for _, name := range []string{"travel", "historical-fiction", "sequential-art"} {
		if err := CheckName(name); err != nil {
			t.Fatalf("CheckName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := CheckName(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("CheckName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}
