// Package parser extracts listing stubs and product details from storefront HTML.
package parser

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

const (
	listingItemSelector  = ".product-loop"
	listingTitleSelector = ".proloop-detail h3 a"
	listingPriceSelector = ".price"
	listingOldSelector   = ".price-del"
	listingSaleSelector  = ".pro-sale"
	listingLinkSelector  = ".proloop-link"

	detailSKUSelector    = "#pro_sku strong"
	detailStatusSelector = ".pro-soldold strong"
	detailBrandSelector  = ".pro-vendor strong a"
	detailSizeSelector   = "#variant-swatch-0 .swatch-element"
	detailColorSelector  = "#variant-swatch-1 .swatch-element"
	detailPhotoSelector  = ".productList-slider .product-gallery__photo"
	detailDescSelector   = ".description-productdetail"

	loadMoreSelector = ".btn-loadmore"
)

// Parser implements catalog.Parser with goquery selectors.
type Parser struct {
	base *url.URL
}

// New builds a Parser that resolves relative links against baseURL. When
// baseURL is empty links resolve against the page URL.
func New(baseURL string) *Parser {
	p := &Parser{}
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			p.base = u
		}
	}
	return p
}

// ParseListing returns one stub per product tile in page order.
func (p *Parser) ParseListing(page catalog.FetchResponse) []catalog.ListingStub {
	doc := document(page.Body)
	if doc == nil {
		return nil
	}
	var stubs []catalog.ListingStub
	doc.Find(listingItemSelector).Each(func(_ int, item *goquery.Selection) {
		stub := catalog.ListingStub{
			Title:    strings.TrimSpace(item.Find(listingTitleSelector).Text()),
			Price:    strings.TrimSpace(item.Find(listingPriceSelector).Text()),
			PriceOld: strings.TrimSpace(item.Find(listingOldSelector).Text()),
			Sale:     strings.TrimSpace(item.Find(listingSaleSelector).Text()),
		}
		if href, ok := item.Find(listingLinkSelector).First().Attr("href"); ok {
			stub.URL = p.resolve(page.URL, href)
		}
		stubs = append(stubs, stub)
	})
	return stubs
}

// ParseDetail extracts the detail fields of a product page. Missing elements
// produce empty values.
func (p *Parser) ParseDetail(page catalog.FetchResponse) catalog.ProductDetail {
	detail := catalog.ProductDetail{
		SKU:    catalog.LabeledValue{Name: catalog.LabelSKU},
		Status: catalog.LabeledValue{Name: catalog.LabelStatus},
		Brand:  catalog.LabeledValue{Name: catalog.LabelBrand},
		Sizes:  []string{},
		Colors: []string{},
		Images: []string{},
	}
	doc := document(page.Body)
	if doc == nil {
		return detail
	}
	detail.SKU.Value = strings.TrimSpace(doc.Find(detailSKUSelector).Text())
	detail.Status.Value = strings.TrimSpace(doc.Find(detailStatusSelector).Text())
	detail.Brand.Value = strings.TrimSpace(doc.Find(detailBrandSelector).Text())
	detail.Sizes = dataValues(doc.Find(detailSizeSelector))
	detail.Colors = dataValues(doc.Find(detailColorSelector))
	doc.Find(detailPhotoSelector).Each(func(_ int, photo *goquery.Selection) {
		src := strings.TrimSpace(photo.AttrOr("data-image", ""))
		if src == "" {
			src = strings.TrimSpace(photo.Find("a").AttrOr("href", ""))
		}
		if src != "" {
			detail.Images = append(detail.Images, NormalizeImageURL(src))
		}
	})
	detail.Description = NormalizeText(doc.Find(detailDescSelector).Text())
	return detail
}

// LoadMorePage reads the data-page attribute of the load-more control.
func (p *Parser) LoadMorePage(page catalog.FetchResponse) (string, bool) {
	doc := document(page.Body)
	if doc == nil {
		return "", false
	}
	value, ok := doc.Find(loadMoreSelector).First().Attr("data-page")
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// NormalizeImageURL turns protocol-relative image references into https URLs.
func NormalizeImageURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// NormalizeText replaces non-breaking spaces and collapses runs of whitespace.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

func (p *Parser) resolve(pageURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base := p.base
	if base == nil && pageURL != "" {
		base, _ = url.Parse(pageURL)
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func document(body []byte) *goquery.Document {
	if len(body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return doc
}

func dataValues(sel *goquery.Selection) []string {
	values := []string{}
	sel.Each(func(_ int, el *goquery.Selection) {
		if v := strings.TrimSpace(el.AttrOr("data-value", "")); v != "" {
			values = append(values, v)
		}
	})
	return values
}
