package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ParseCategories reads the sidebar navigation of the home page and returns
// categories in page order. Relative links resolve against homeURL.
func ParseCategories(doc *goquery.Document, homeURL string) ([]models.Category, error) {
	nav := doc.Find("ul.nav.nav-list").First()
	if nav.Length() == 0 {
		return nil, ErrNavigationMissing
	}
	base, err := url.Parse(homeURL)
	if err != nil {
		return nil, fmt.Errorf("parse home url: %w", err)
	}

	var categories []models.Category
	seen := make(map[string]struct{})
	nav.Find("ul").First().ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		href, ok := li.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		name := CategorySlug(abs.Path)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		categories = append(categories, models.Category{Name: name, URL: abs.String()})
	})
	return categories, nil
}

// ListingLinks returns the absolute detail-page links of every item summary
// on a listing page, in page order.
func ListingLinks(doc *goquery.Document, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var links []string
	doc.Find("article.product_pod").Each(func(_ int, pod *goquery.Selection) {
		href, ok := pod.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		links = append(links, resolved.String())
	})
	return links, nil
}
