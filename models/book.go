// Package models defines data structures for the scraper.
package models

import (
	"reflect"
	"strconv"
	"time"
)

// Book is one catalog item as read from its detail page.
type Book struct {
	ProductURL      string `csv:"product_url" json:"product_url"`
	UPC             string `csv:"upc" json:"upc"`
	Title           string `csv:"title" json:"title"`
	PriceWithTax    string `csv:"price_with_tax" json:"price_with_tax"`
	PriceWithoutTax string `csv:"price_without_tax" json:"price_without_tax"`
	Available       string `csv:"available" json:"available"`
	Category        string `csv:"category" json:"category"`
	ImageURL        string `csv:"image_url" json:"image_url"`
	Rating          int    `csv:"rating" json:"rating"`
	Description     string `csv:"description" json:"description"`
}

var csvHeader = func() []string {
	t := reflect.TypeOf(Book{})
	header := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		header = append(header, t.Field(i).Tag.Get("csv"))
	}
	return header
}()

// CSVHeader returns the column names of a Book in declaration order.
func CSVHeader() []string {
	out := make([]string, len(csvHeader))
	copy(out, csvHeader)
	return out
}

// Record returns the Book's values in CSVHeader order.
func (b *Book) Record() []string {
	return []string{
		b.ProductURL,
		b.UPC,
		b.Title,
		b.PriceWithTax,
		b.PriceWithoutTax,
		b.Available,
		b.Category,
		b.ImageURL,
		strconv.Itoa(b.Rating),
		b.Description,
	}
}

// Category is a catalog partition discovered from the home page sidebar.
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ScraperResult holds the overall result of a crawl run.
type ScraperResult struct {
	StartTime         time.Time
	EndTime           time.Time
	CategoryCount     int
	PageCount         int
	RequestCount      int
	ErrorCount        int
	RetryCount        int
	BookCount         int
	DroppedBooks      int
	ImageCount        int
	ImageFailures     int
	FailedURLs        []string
	ErrorsByType      map[string]int
	EmptyCategories   []string
	WrittenCategories []string
	FailedCategories  map[string]string
}
