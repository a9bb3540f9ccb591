package parser

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

type detailFixture struct {
	title       string
	upc         string
	rating      string
	description string
	breadcrumb  bool
	noImage     bool
}

func buildDetailPage(d detailFixture) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if d.breadcrumb {
		b.WriteString(`<ul class="breadcrumb">
    <li><a href="../../index.html">Home</a></li>
    <li><a href="../category/books_1/index.html">Books</a></li>
    <li><a href="../category/books/poetry_23/index.html">Poetry</a></li>
    <li class="active">` + d.title + `</li>
</ul>`)
	}
	b.WriteString(`<div class="row"><div class="col-sm-6"><div id="product_gallery">`)
	if !d.noImage {
		b.WriteString(`<div class="item active"><img src="../../media/cache/fe/72/fe72f0532301ec28892ae79a629a293c.jpg" alt="cover" /></div>`)
	}
	b.WriteString(`</div></div><div class="col-sm-6 product_main">`)
	if d.title != "" {
		fmt.Fprintf(&b, "<h1>%s</h1>", d.title)
	}
	b.WriteString(`<p class="price_color">£51.77</p>`)
	if d.rating != "" {
		fmt.Fprintf(&b, `<p class="star-rating %s"><i class="icon-star"></i></p>`, d.rating)
	}
	b.WriteString(`</div></div>`)
	if d.description != "" {
		b.WriteString(`<div id="product_description" class="sub-header"><h2>Product Description</h2></div>`)
		fmt.Fprintf(&b, "\n<p>%s</p>\n", d.description)
	}
	b.WriteString(`<div class="sub-header"><h2>Product Information</h2></div><table class="table table-striped">`)
	if d.upc != "" {
		fmt.Fprintf(&b, "<tr><th>UPC</th><td>%s</td></tr>", d.upc)
	}
	b.WriteString(`<tr><th>Product Type</th><td>Books</td></tr>
<tr><th>Price (excl. tax)</th><td>£50.10</td></tr>
<tr><th>Price (incl. tax)</th><td>£51.77</td></tr>
<tr><th>Tax</th><td>£1.67</td></tr>
<tr><th>Availability</th><td>In stock (22 available)</td></tr>
<tr><th>Number of reviews</th><td>0</td></tr>
</table></body></html>`)
	return b.String()
}

func fullDetail() detailFixture {
	return detailFixture{
		title:       "A Light in the Attic",
		upc:         "a897fe39b1053632",
		rating:      "Three",
		description: "It's hard to imagine a world without A Light in the Attic.",
		breadcrumb:  true,
	}
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func siteRoot(t *testing.T) *url.URL {
	t.Helper()
	root, err := url.Parse("http://example.test/")
	if err != nil {
		t.Fatalf("parse root: %v", err)
	}
	return root
}

const detailURL = "http://example.test/catalogue/a-light-in-the-attic_1000/index.html"

func TestExtractBook(t *testing.T) {
	doc := mustDoc(t, buildDetailPage(fullDetail()))

	x, err := ExtractBook(doc, detailURL, siteRoot(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	want := &models.Book{
		ProductURL:      detailURL,
		UPC:             "a897fe39b1053632",
		Title:           "A Light in the Attic",
		PriceWithTax:    "£51.77",
		PriceWithoutTax: "£50.10",
		Available:       "In stock (22 available)",
		Category:        "Poetry",
		ImageURL:        "http://example.test/media/cache/fe/72/fe72f0532301ec28892ae79a629a293c.jpg",
		Rating:          3,
		Description:     "It's hard to imagine a world without A Light in the Attic.",
	}
	if !reflect.DeepEqual(x.Book, want) {
		t.Fatalf("book mismatch:\n got %+v\nwant %+v", x.Book, want)
	}
	if len(x.Absent) != 0 {
		t.Fatalf("absent = %v, want none", x.Absent)
	}
}

func TestExtractBookIdempotent(t *testing.T) {
	doc := mustDoc(t, buildDetailPage(fullDetail()))

	first, err := ExtractBook(doc, detailURL, siteRoot(t))
	if err != nil {
		t.Fatalf("first extract: %v", err)
	}
	second, err := ExtractBook(doc, detailURL, siteRoot(t))
	if err != nil {
		t.Fatalf("second extract: %v", err)
	}
	if first.Book == second.Book {
		t.Fatalf("expected distinct records")
	}
	if !reflect.DeepEqual(first.Book, second.Book) {
		t.Fatalf("records differ:\n%+v\n%+v", first.Book, second.Book)
	}
}

func TestExtractBookWithoutDescription(t *testing.T) {
	fixture := fullDetail()
	fixture.description = ""
	doc := mustDoc(t, buildDetailPage(fixture))

	x, err := ExtractBook(doc, detailURL, siteRoot(t))
	if err != nil {
		t.Fatalf("missing description should not fail: %v", err)
	}
	if x.Book.Description != "" {
		t.Fatalf("description = %q, want empty", x.Book.Description)
	}
	if !x.Missing(FieldDescription) {
		t.Fatalf("description should be reported absent, got %v", x.Absent)
	}
	if x.Missing(FieldRating) {
		t.Fatalf("rating was present")
	}
}

func TestExtractBookUnknownRating(t *testing.T) {
	fixture := fullDetail()
	fixture.rating = "Zero"
	doc := mustDoc(t, buildDetailPage(fixture))

	x, err := ExtractBook(doc, detailURL, siteRoot(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if x.Book.Rating != 0 {
		t.Fatalf("rating = %d, want 0", x.Book.Rating)
	}
	if x.Missing(FieldRating) {
		t.Fatalf("rating element exists, should not be absent")
	}
}

func TestExtractBookMissingRatingElement(t *testing.T) {
	fixture := fullDetail()
	fixture.rating = ""
	doc := mustDoc(t, buildDetailPage(fixture))

	x, err := ExtractBook(doc, detailURL, siteRoot(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if x.Book.Rating != 0 || !x.Missing(FieldRating) {
		t.Fatalf("rating = %d absent=%v, want 0 and absent", x.Book.Rating, x.Absent)
	}
}

func TestExtractBookMissingRequiredFields(t *testing.T) {
	fixture := fullDetail()
	fixture.upc = ""
	fixture.title = ""
	doc := mustDoc(t, buildDetailPage(fixture))

	x, err := ExtractBook(doc, detailURL, siteRoot(t))
	if err == nil {
		t.Fatalf("expected error for missing upc and title")
	}
	if x.Book != nil {
		t.Fatalf("partial book must not be returned")
	}
	if !errors.Is(err, ErrFieldMissing) {
		t.Fatalf("error should wrap ErrFieldMissing, got %v", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("error should carry a FieldError")
	}
	got := MissingFields(err)
	if !reflect.DeepEqual(got, []string{"upc", "title"}) {
		t.Fatalf("missing fields = %v, want [upc title]", got)
	}
}

func TestExtractBookMissingBreadcrumbAndImage(t *testing.T) {
	fixture := fullDetail()
	fixture.breadcrumb = false
	fixture.noImage = true
	doc := mustDoc(t, buildDetailPage(fixture))

	_, err := ExtractBook(doc, detailURL, siteRoot(t))
	got := MissingFields(err)
	if !reflect.DeepEqual(got, []string{"category", "image_url"}) {
		t.Fatalf("missing fields = %v, want [category image_url]", got)
	}
}

func TestReadLabeledCellCaseInsensitive(t *testing.T) {
	doc := mustDoc(t, `<table><tr><th>  UPC </th><td> abc </td></tr><tr><th>AVAILABILITY</th><td>In stock</td></tr></table>`)

	if v, ok := readLabeledCell(doc.Selection, "upc"); !ok || v != "abc" {
		t.Fatalf("upc = %q, %v", v, ok)
	}
	if v, ok := readLabeledCell(doc.Selection, "Availability"); !ok || v != "In stock" {
		t.Fatalf("availability = %q, %v", v, ok)
	}
	if _, ok := readLabeledCell(doc.Selection, "price (incl. tax)"); ok {
		t.Fatalf("missing label should not be found")
	}
}

func TestResolveFromRoot(t *testing.T) {
	root := siteRoot(t)
	tests := []struct {
		in   string
		want string
	}{
		{"../../media/cache/a.jpg", "http://example.test/media/cache/a.jpg"},
		{"./media/b.jpg", "http://example.test/media/b.jpg"},
		{"media/c.jpg", "http://example.test/media/c.jpg"},
		{"https://cdn.test/d.jpg", "https://cdn.test/d.jpg"},
	}
	for _, tt := range tests {
		got, err := resolveFromRoot(root, tt.in)
		if err != nil {
			t.Fatalf("resolve %q: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("resolve %q = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateBook(t *testing.T) {
	valid := func() *models.Book {
		return &models.Book{
			ProductURL:      detailURL,
			UPC:             "a897fe39b1053632",
			Title:           "Test Book",
			PriceWithTax:    "£10.00",
			PriceWithoutTax: "£10.00",
			Available:       "In stock",
			Category:        "Poetry",
			ImageURL:        "http://example.test/media/a.jpg",
			Rating:          5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.Book)
		wantErr bool
	}{
		{name: "valid book", mutate: func(*models.Book) {}, wantErr: false},
		{name: "missing title", mutate: func(b *models.Book) { b.Title = "" }, wantErr: true},
		{name: "missing upc", mutate: func(b *models.Book) { b.UPC = " " }, wantErr: true},
		{name: "missing category", mutate: func(b *models.Book) { b.Category = "" }, wantErr: true},
		{name: "rating out of range", mutate: func(b *models.Book) { b.Rating = 6 }, wantErr: true},
		{name: "empty description allowed", mutate: func(b *models.Book) { b.Description = "" }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := valid()
			tt.mutate(book)
			err := ValidateBook(book)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBook() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateBook(nil); err == nil {
		t.Errorf("nil book should fail validation")
	}
}

func TestRatingToNumeric(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"One", 1},
		{"Two", 2},
		{"Three", 3},
		{"Four", 4},
		{"Five", 5},
		{"Zero", 0},
		{"", 0},
		{"Invalid", 0},
		{"three", 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("token_%q", tt.input), func(t *testing.T) {
			if got := RatingToNumeric(tt.input); got != tt.expected {
				t.Errorf("RatingToNumeric(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCategorySlug(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"catalogue/category/books/travel_2/index.html", "travel"},
		{"catalogue/category/books/historical-fiction_4/index.html", "historical-fiction"},
		{"http://example.test/catalogue/category/books/sequential-art_5/index.html", "sequential-art"},
		{"catalogue/category/books/poetry_23/", "poetry"},
		{"catalogue/category/books/add_a_comment_18/index.html", "add_a_comment"},
		{"catalogue/category/books/plain/index.html", "plain"},
		{"index.html", ""},
	}
	for _, tt := range tests {
		if got := CategorySlug(tt.href); got != tt.want {
			t.Errorf("CategorySlug(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestPageURL(t *testing.T) {
	got, err := PageURL("http://example.test/catalogue/category/books/travel_2/index.html", 3)
	if err != nil {
		t.Fatalf("page url: %v", err)
	}
	if want := "http://example.test/catalogue/category/books/travel_2/page-3.html"; got != want {
		t.Fatalf("PageURL = %q, want %q", got, want)
	}
}

func TestImageFilename(t *testing.T) {
	name, err := ImageFilename("http://example.test/media/cache/fe/72/fe72.jpg")
	if err != nil || name != "fe72.jpg" {
		t.Fatalf("ImageFilename = %q, %v", name, err)
	}
	for _, bad := range []string{"", "media/cache/a.jpg", "http://example.test/", "::bad"} {
		if _, err := ImageFilename(bad); err == nil {
			t.Errorf("ImageFilename(%q) should fail", bad)
		}
	}
}

func buildHomePage(names ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="side_categories"><ul class="nav nav-list"><li><a href="catalogue/category/books_1/index.html">Books</a><ul>`)
	for i, name := range names {
		fmt.Fprintf(&b, "\n<li><a href=\"catalogue/category/books/%s_%d/index.html\">%s</a></li>", name, i+2, name)
	}
	b.WriteString(`</ul></li></ul></div></body></html>`)
	return b.String()
}

func TestParseCategories(t *testing.T) {
	doc := mustDoc(t, buildHomePage("travel", "mystery", "historical-fiction"))

	categories, err := ParseCategories(doc, "http://example.test/index.html")
	if err != nil {
		t.Fatalf("parse categories: %v", err)
	}
	want := []models.Category{
		{Name: "travel", URL: "http://example.test/catalogue/category/books/travel_2/index.html"},
		{Name: "mystery", URL: "http://example.test/catalogue/category/books/mystery_3/index.html"},
		{Name: "historical-fiction", URL: "http://example.test/catalogue/category/books/historical-fiction_4/index.html"},
	}
	if !reflect.DeepEqual(categories, want) {
		t.Fatalf("categories = %+v, want %+v", categories, want)
	}
}

func TestParseCategoriesCountMatchesEntries(t *testing.T) {
	names := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		names = append(names, fmt.Sprintf("cat%c", 'a'+rune(i%26))+strings.Repeat("x", i/26))
	}
	doc := mustDoc(t, buildHomePage(names...))

	categories, err := ParseCategories(doc, "http://example.test/")
	if err != nil {
		t.Fatalf("parse categories: %v", err)
	}
	if len(categories) != len(names) {
		t.Fatalf("categories = %d, want %d", len(categories), len(names))
	}
	for i, c := range categories {
		if c.Name != names[i] {
			t.Fatalf("category %d = %q, want %q", i, c.Name, names[i])
		}
	}
}

func TestParseCategoriesMissingNavigation(t *testing.T) {
	doc := mustDoc(t, `<html><body><div class="page">nothing here</div></body></html>`)
	if _, err := ParseCategories(doc, "http://example.test/"); !errors.Is(err, ErrNavigationMissing) {
		t.Fatalf("expected ErrNavigationMissing, got %v", err)
	}
}

func TestListingLinks(t *testing.T) {
	html := `<html><body><ol class="row">
<li><article class="product_pod"><div class="image_container"><a href="../../../its-only-the-himalayas_981/index.html"><img src="x.jpg"></a></div>
<h3><a href="../../../its-only-the-himalayas_981/index.html" title="It's Only the Himalayas">It's Only the Himalayas</a></h3></article></li>
<li><article class="product_pod"><h3><a href="../../../full-moon-over-noahs-ark_811/index.html#top">Full Moon</a></h3></article></li>
<li><article class="product_pod"><h3>no link</h3></article></li>
</ol></body></html>`
	doc := mustDoc(t, html)

	links, err := ListingLinks(doc, "http://example.test/catalogue/category/books/travel_2/page-1.html")
	if err != nil {
		t.Fatalf("listing links: %v", err)
	}
	want := []string{
		"http://example.test/catalogue/its-only-the-himalayas_981/index.html",
		"http://example.test/catalogue/full-moon-over-noahs-ark_811/index.html",
	}
	if !reflect.DeepEqual(links, want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
}
