package usecase

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mapwatch/backend/internal/domain"
)

// Package-level compiled regex patterns for performance
var (
	punctuationRegex    = regexp.MustCompile(`[^\w\s]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
	currencyNoiseRegex  = regexp.MustCompile(`[^0-9.,\-]`)
)

// marketingSuffixes are trailing qualifiers stripped from titles before
// comparison. Size and color qualifiers are deliberately kept - they matter
// for matching.
var marketingSuffixes = []string{
	"- new",
	"- sale",
	"- on sale",
	"- free shipping",
	"- in stock",
	"- open box",
	"(new)",
	"(open box)",
	"(refurbished)",
}

// Normalizer converts raw scraped and catalog records into the canonical
// comparable form used by the scoring engine. It is deterministic and
// side-effect-free.
type Normalizer struct{}

// NewNormalizer creates a new normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeListing converts a raw scraped listing into a canonical product.
// A missing or unparseable price marks the product non-matchable; the record
// itself is still stored.
func (n *Normalizer) NormalizeListing(raw domain.ScrapedListing) domain.CanonicalProduct {
	canonical := domain.CanonicalProduct{
		Title:  NormalizeText(raw.Title),
		Vendor: NormalizeText(raw.Vendor),
		Type:   NormalizeText(raw.ProductType),
		SKU:    strings.TrimSpace(strings.ToUpper(raw.SKU)),
	}

	price, err := ParsePrice(raw.PriceText)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		canonical.Matchable = false
		return canonical
	}

	canonical.Price = price
	canonical.Matchable = canonical.Title != ""
	return canonical
}

// NormalizeCatalog converts a catalog product into the same canonical form.
func (n *Normalizer) NormalizeCatalog(p *domain.CatalogProduct) domain.CanonicalProduct {
	return domain.CanonicalProduct{
		Title:     NormalizeText(p.Title),
		Vendor:    NormalizeText(p.Vendor),
		Type:      NormalizeText(p.ProductType),
		SKU:       strings.TrimSpace(strings.ToUpper(p.SKU)),
		Price:     p.Price,
		Matchable: p.Price.GreaterThan(decimal.Zero) && p.Title != "",
	}
}

// NormalizeCompetitorProduct converts a stored competitor product (already
// price-parsed at scrape time) back into canonical form for re-scoring.
func (n *Normalizer) NormalizeCompetitorProduct(p *domain.CompetitorProduct) domain.CanonicalProduct {
	canonical := domain.CanonicalProduct{
		Title:  NormalizeText(p.Title),
		Vendor: NormalizeText(p.Vendor),
		Type:   NormalizeText(p.ProductType),
		SKU:    strings.TrimSpace(strings.ToUpper(p.SKU)),
	}
	if p.Price == nil || p.Price.LessThanOrEqual(decimal.Zero) {
		canonical.Matchable = false
		return canonical
	}
	canonical.Price = *p.Price
	canonical.Matchable = canonical.Title != ""
	return canonical
}

// NormalizeText lowercases, strips marketing suffixes and punctuation, and
// collapses whitespace.
func NormalizeText(s string) string {
	cleaned := strings.ToLower(strings.TrimSpace(s))

	for _, suffix := range marketingSuffixes {
		if strings.HasSuffix(cleaned, suffix) {
			cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, suffix))
		}
	}

	cleaned = punctuationRegex.ReplaceAllString(cleaned, " ")
	cleaned = multipleSpacesRegex.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// ParsePrice parses a price string into a fixed-point decimal. Currency
// symbols, thousands separators and surrounding text are stripped; both
// "1,299.00" and "1299,00" forms are accepted.
func ParsePrice(s string) (decimal.Decimal, error) {
	cleaned := currencyNoiseRegex.ReplaceAllString(s, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return decimal.Zero, domain.ErrInvalidRequest
	}

	hasDot := strings.Contains(cleaned, ".")
	hasComma := strings.Contains(cleaned, ",")
	switch {
	case hasDot && hasComma:
		// "1,299.00" - commas are thousands separators
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case hasComma:
		// "1299,00" - comma is the decimal separator
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}
