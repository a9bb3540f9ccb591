// Package parser turns catalog pages into models.
package parser

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

var slugSuffix = regexp.MustCompile(`_\d+$`)

// ValidateBook ensures a book carries every required field.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	required := []struct {
		name  string
		value string
	}{
		{"product_url", b.ProductURL},
		{"upc", b.UPC},
		{"title", b.Title},
		{"price_with_tax", b.PriceWithTax},
		{"price_without_tax", b.PriceWithoutTax},
		{"available", b.Available},
		{"category", b.Category},
		{"image_url", b.ImageURL},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("book %q missing %s", b.ProductURL, field.name)
		}
	}
	if b.Rating < 0 || b.Rating > 5 {
		return fmt.Errorf("book %q rating %d out of range", b.ProductURL, b.Rating)
	}
	return nil
}

// RatingToNumeric converts a star-rating class token to 1..5.
// Unknown tokens, including "Zero" and "", map to 0.
func RatingToNumeric(rating string) int {
	switch strings.TrimSpace(rating) {
	case "One":
		return 1
	case "Two":
		return 2
	case "Three":
		return 3
	case "Four":
		return 4
	case "Five":
		return 5
	default:
		return 0
	}
}

// CategorySlug derives a category name from a listing href: the
// second-to-last path segment with any trailing "_<digits>" removed.
func CategorySlug(href string) string {
	p := href
	if parsed, err := url.Parse(href); err == nil {
		p = parsed.Path
	}
	segments := strings.Split(p, "/")
	if len(segments) < 2 {
		return ""
	}
	return slugSuffix.ReplaceAllString(segments[len(segments)-2], "")
}

// PageURL returns the URL of listing page n for a category listing URL.
func PageURL(listingURL string, n int) (string, error) {
	base, err := url.Parse(listingURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	ref := &url.URL{Path: fmt.Sprintf("page-%d.html", n)}
	return base.ResolveReference(ref).String(), nil
}

// ImageFilename returns the final path segment of an image URL.
func ImageFilename(imageURL string) (string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("image url %q is not absolute", imageURL)
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("image url %q has no filename", imageURL)
	}
	return name, nil
}

func cleanText(s string) string {
	return strings.TrimSpace(s)
}
