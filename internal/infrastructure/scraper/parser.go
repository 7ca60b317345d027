package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mapwatch/backend/internal/domain"
)

// productsFeed mirrors the storefront /products.json document shape.
type productsFeed struct {
	Products []struct {
		Title       string   `json:"title"`
		Handle      string   `json:"handle"`
		Vendor      string   `json:"vendor"`
		ProductType string   `json:"product_type"`
		Tags        feedTags `json:"tags"`
		Variants    []struct {
			Price string `json:"price"`
			SKU   string `json:"sku"`
		} `json:"variants"`
	} `json:"products"`
}

// feedTags tolerates both the array and comma-separated string forms that
// storefronts emit for tags.
type feedTags []string

func (t *feedTags) UnmarshalJSON(data []byte) error {
	var asList []string
	if err := json.Unmarshal(data, &asList); err == nil {
		*t = asList
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err != nil {
		return err
	}
	for _, tag := range strings.Split(asString, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			*t = append(*t, tag)
		}
	}
	return nil
}

// ParseProductsJSON parses a storefront products feed page (either the full
// catalog /products.json or a collection's products.json) into raw listings.
// baseURL is used to build absolute product URLs from handles.
func ParseProductsJSON(baseURL string, body []byte) ([]domain.ScrapedListing, error) {
	var feed productsFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode products feed: %w", err)
	}

	listings := make([]domain.ScrapedListing, 0, len(feed.Products))
	for _, p := range feed.Products {
		listing := domain.ScrapedListing{
			Title:       p.Title,
			Vendor:      p.Vendor,
			ProductType: p.ProductType,
			Tags:        p.Tags,
			URL:         strings.TrimSuffix(baseURL, "/") + "/products/" + p.Handle,
		}
		if len(p.Variants) > 0 {
			// First variant carries the advertised price
			listing.PriceText = p.Variants[0].Price
			listing.SKU = p.Variants[0].SKU
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

// productJS mirrors the storefront per-product /products/<handle>.js
// document. Prices here are integer cents, unlike the decimal strings in
// the products feed.
type productJS struct {
	Title       string   `json:"title"`
	Vendor      string   `json:"vendor"`
	ProductType string   `json:"type"`
	Tags        feedTags `json:"tags"`
	Price       int64    `json:"price"`
	Variants    []struct {
		SKU string `json:"sku"`
	} `json:"variants"`
}

// ParseProductJS parses a single product-page JSON document into a listing.
// productURL is the canonical product page URL, not the .js endpoint.
func ParseProductJS(productURL string, body []byte) (domain.ScrapedListing, error) {
	var p productJS
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.ScrapedListing{}, fmt.Errorf("decode product document: %w", err)
	}

	listing := domain.ScrapedListing{
		Title:       p.Title,
		Vendor:      p.Vendor,
		ProductType: p.ProductType,
		Tags:        p.Tags,
		URL:         productURL,
		PriceText:   fmt.Sprintf("%d.%02d", p.Price/100, p.Price%100),
	}
	if len(p.Variants) > 0 {
		listing.SKU = p.Variants[0].SKU
	}
	return listing, nil
}

// searchSuggest mirrors the storefront /search/suggest.json document shape.
type searchSuggest struct {
	Resources struct {
		Results struct {
			Products []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
				Price string `json:"price"`
			} `json:"products"`
		} `json:"results"`
	} `json:"resources"`
}

// ParseSearchSuggest parses the storefront search endpoint response into raw
// listings. Vendor and SKU are usually absent here; the product page feed
// fills them in later.
func ParseSearchSuggest(baseURL string, body []byte) ([]domain.ScrapedListing, error) {
	var suggest searchSuggest
	if err := json.Unmarshal(body, &suggest); err != nil {
		return nil, fmt.Errorf("decode search suggest: %w", err)
	}

	products := suggest.Resources.Results.Products
	listings := make([]domain.ScrapedListing, 0, len(products))
	for _, p := range products {
		url := p.URL
		if strings.HasPrefix(url, "/") {
			url = strings.TrimSuffix(baseURL, "/") + url
		}
		listings = append(listings, domain.ScrapedListing{
			Title:     p.Title,
			PriceText: p.Price,
			URL:       url,
		})
	}
	return listings, nil
}

// ParseCollectionHTML extracts listings from a rendered collection page as a
// fallback for sites that do not expose a JSON products feed. It relies on
// the common product-card markup: anchors to /products/ with a price element
// nearby.
func ParseCollectionHTML(baseURL string, body []byte) ([]domain.ScrapedListing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse collection html: %w", err)
	}

	seen := make(map[string]bool)
	var listings []domain.ScrapedListing

	doc.Find(`a[href*="/products/"]`).Each(func(_ int, anchor *goquery.Selection) {
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		if idx := strings.IndexAny(href, "?#"); idx >= 0 {
			href = href[:idx]
		}
		if strings.HasPrefix(href, "/") {
			href = strings.TrimSuffix(baseURL, "/") + href
		}
		if seen[href] {
			return
		}

		title := strings.TrimSpace(anchor.Text())
		if title == "" {
			title = strings.TrimSpace(anchor.AttrOr("title", ""))
		}
		if title == "" {
			return
		}

		// Look for a price in the surrounding product card
		price := ""
		card := anchor.Closest("li, article, div")
		if card.Length() > 0 {
			price = strings.TrimSpace(card.Find(".price, .product-price, [class*=price]").First().Text())
		}

		seen[href] = true
		listings = append(listings, domain.ScrapedListing{
			Title:     title,
			PriceText: price,
			URL:       href,
		})
	})

	return listings, nil
}
