package parser

import (
	"errors"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Optional detail-page fields. Their absence is recorded, never an error.
const (
	FieldDescription = "description"
	FieldRating      = "rating"
)

// Extraction is the outcome of reading one detail page.
type Extraction struct {
	Book *models.Book
	// Absent lists optional fields the page did not carry.
	Absent []string
}

// Missing reports whether the optional field was absent from the page.
func (x Extraction) Missing(field string) bool {
	for _, name := range x.Absent {
		if name == field {
			return true
		}
	}
	return false
}

type fieldRule struct {
	name  string
	label string
	set   func(*models.Book, string)
}

// productTable maps product information table labels onto Book fields.
var productTable = []fieldRule{
	{name: "upc", label: "upc", set: func(b *models.Book, v string) { b.UPC = v }},
	{name: "price_with_tax", label: "price (incl. tax)", set: func(b *models.Book, v string) { b.PriceWithTax = v }},
	{name: "price_without_tax", label: "price (excl. tax)", set: func(b *models.Book, v string) { b.PriceWithoutTax = v }},
	{name: "available", label: "availability", set: func(b *models.Book, v string) { b.Available = v }},
}

// ExtractBook reads a Book from a detail-page document. Missing required
// fields abort the record with one *FieldError per field, joined.
func ExtractBook(doc *goquery.Document, pageURL string, siteRoot *url.URL) (Extraction, error) {
	book := &models.Book{ProductURL: pageURL}
	var absent []string
	var errs []error

	missing := func(field, selector string) {
		errs = append(errs, &FieldError{URL: pageURL, Field: field, Selector: selector})
	}

	for _, rule := range productTable {
		value, ok := readLabeledCell(doc.Selection, rule.label)
		if !ok {
			missing(rule.name, "th:contains("+rule.label+") + td")
			continue
		}
		rule.set(book, value)
	}

	if title := cleanText(doc.Find("h1").First().Text()); title != "" {
		book.Title = title
	} else {
		missing("title", "h1")
	}

	if category, ok := breadcrumbCategory(doc.Selection); ok {
		book.Category = category
	} else {
		missing("category", "ul.breadcrumb > li")
	}

	if imageURL, ok := imageSource(doc.Selection, siteRoot); ok {
		book.ImageURL = imageURL
	} else {
		missing("image_url", "#product_gallery img")
	}

	if token, ok := ratingToken(doc.Selection); ok {
		book.Rating = RatingToNumeric(token)
	} else {
		absent = append(absent, FieldRating)
	}

	if description, ok := productDescription(doc.Selection); ok {
		book.Description = description
	} else {
		absent = append(absent, FieldDescription)
	}

	if len(errs) > 0 {
		return Extraction{Absent: absent}, errors.Join(errs...)
	}
	return Extraction{Book: book, Absent: absent}, nil
}

// readLabeledCell finds the first table header whose text contains label,
// case-insensitively, and returns the text of the data cell next to it.
func readLabeledCell(sel *goquery.Selection, label string) (string, bool) {
	label = strings.ToLower(label)
	var value string
	found := false
	sel.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(th.Text()), label) {
			return true
		}
		td := th.NextAllFiltered("td").First()
		if td.Length() == 0 {
			td = th.Parent().Find("td").First()
		}
		if td.Length() == 0 {
			return true
		}
		value = cleanText(td.Text())
		found = true
		return false
	})
	return value, found
}

// breadcrumbCategory returns the link text of the entry just before the
// active (last) breadcrumb entry.
func breadcrumbCategory(sel *goquery.Selection) (string, bool) {
	entries := sel.Find("ul.breadcrumb").First().ChildrenFiltered("li")
	if entries.Length() < 2 {
		return "", false
	}
	entry := entries.Eq(entries.Length() - 2)
	text := cleanText(entry.Find("a").First().Text())
	if text == "" {
		return "", false
	}
	return text, true
}

func imageSource(sel *goquery.Selection, siteRoot *url.URL) (string, bool) {
	img := sel.Find("#product_gallery img").First()
	if img.Length() == 0 {
		img = sel.Find("img").First()
	}
	src, ok := img.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return "", false
	}
	resolved, err := resolveFromRoot(siteRoot, src)
	if err != nil {
		return "", false
	}
	return resolved, true
}

// resolveFromRoot strips leading "../" and "./" segments from a relative
// reference and resolves it against the site root.
func resolveFromRoot(siteRoot *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	for {
		switch {
		case strings.HasPrefix(ref, "../"):
			ref = ref[3:]
		case strings.HasPrefix(ref, "./"):
			ref = ref[2:]
		default:
			parsed, err = url.Parse(ref)
			if err != nil {
				return "", err
			}
			return siteRoot.ResolveReference(parsed).String(), nil
		}
	}
}

func ratingToken(sel *goquery.Selection) (string, bool) {
	class, ok := sel.Find("p.star-rating").First().Attr("class")
	if !ok {
		return "", false
	}
	parts := strings.Fields(class)
	if len(parts) < 2 {
		return "", true
	}
	return parts[1], true
}

func productDescription(sel *goquery.Selection) (string, bool) {
	container := sel.Find("#product_description").First()
	if container.Length() == 0 {
		return "", false
	}
	next := container.Next()
	if next.Length() == 0 {
		return "", false
	}
	return cleanText(next.Text()), true
}
