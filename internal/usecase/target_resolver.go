package usecase

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/internal/domain"
	"github.com/mapwatch/backend/internal/infrastructure/scraper"
)

// slugSuffixVariants are domain-flavored suffixes appended to search-term
// slugs when probing for collections ("gaggia" -> "gaggia-espresso").
var slugSuffixVariants = []string{"", "-espresso", "-machines", "-grinders"}

var slugCleanRegex = regexp.MustCompile(`[^a-z0-9\s-]`)

// FetchTarget is one concrete page-fetch target produced by the resolver.
type FetchTarget struct {
	// URL is the absolute URL to fetch.
	URL string
	// Paginate marks targets the scraper should walk page by page until an
	// empty page is returned.
	Paginate bool
	// FilterTerms restricts a full-catalog-crawl target to listings whose
	// title, vendor or tags contain one of the terms.
	FilterTerms []string
}

// TargetResolver turns a competitor configuration into an ordered set of
// fetch targets. For the url_patterns and search_terms strategies it applies
// a three-tier fallback - search endpoint, inferred collection slugs, full
// catalog crawl - trying each tier in order and stopping at the first one
// that yields results.
type TargetResolver struct {
	fetcher domain.PageFetcher
	logger  *logrus.Logger
}

// NewTargetResolver creates a new resolver over the given page fetcher.
func NewTargetResolver(fetcher domain.PageFetcher, logger *logrus.Logger) *TargetResolver {
	return &TargetResolver{fetcher: fetcher, logger: logger}
}

// Resolve produces fetch targets for one competitor. An unreachable site is
// a resolver-level failure; a strategy yielding zero candidates is not an
// error and returns an empty slice.
func (r *TargetResolver) Resolve(ctx context.Context, competitor *domain.Competitor) ([]FetchTarget, error) {
	base := BaseURL(competitor.Domain)

	if _, err := r.fetcher.Fetch(ctx, base+"/"); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSiteUnreachable, competitor.Domain, err)
	}

	// Include patterns are enforced per scraped listing; at the target level
	// only the excludes apply (a collection feed URL never matches a product
	// include pattern).
	filter, err := NewGlobFilter(nil, competitor.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("compile patterns for %s: %w", competitor.Domain, err)
	}

	var targets []FetchTarget
	switch competitor.Strategy {
	case domain.StrategyCollections:
		for _, name := range competitor.CollectionNames {
			targets = append(targets, FetchTarget{
				URL:      base + "/collections/" + Slugify(name) + "/products.json",
				Paginate: true,
			})
		}
	case domain.StrategyURLPatterns:
		targets = r.resolveByTerms(ctx, base, termsFromPatterns(competitor.URLPatterns))
	case domain.StrategySearchTerms:
		targets = r.resolveByTerms(ctx, base, []string(competitor.SearchTerms))
	default:
		return nil, fmt.Errorf("%w: unknown scraping strategy %q", domain.ErrInvalidRequest, competitor.Strategy)
	}

	// Exclude patterns are applied last, over the final candidate set,
	// uniformly across all strategies.
	filtered := targets[:0]
	for _, t := range targets {
		if filter.Allow(t.URL) {
			filtered = append(filtered, t)
		}
	}

	if len(filtered) == 0 {
		r.logger.WithField("competitor", competitor.Domain).Info("no candidates found")
	}
	return filtered, nil
}

type resolverTier func(ctx context.Context, base string, terms []string) []FetchTarget

// resolveByTerms runs the tier list in order and returns the first tier's
// results, bounding cost by never running a later tier once an earlier one
// produced candidates.
func (r *TargetResolver) resolveByTerms(ctx context.Context, base string, terms []string) []FetchTarget {
	tiers := []resolverTier{
		r.searchEndpointTier,
		r.collectionProbeTier,
		r.fullCrawlTier,
	}
	for _, tier := range tiers {
		if targets := tier(ctx, base, terms); len(targets) > 0 {
			return targets
		}
	}
	return nil
}

// searchEndpointTier queries the storefront's built-in search endpoint and
// emits the returned product pages as direct targets.
func (r *TargetResolver) searchEndpointTier(ctx context.Context, base string, terms []string) []FetchTarget {
	var targets []FetchTarget
	seen := make(map[string]bool)

	for _, term := range terms {
		endpoint := base + "/search/suggest.json?q=" + url.QueryEscape(term) + "&resources[type]=product"
		body, err := r.fetcher.Fetch(ctx, endpoint)
		if err != nil {
			continue
		}
		listings, err := scraper.ParseSearchSuggest(base, body)
		if err != nil {
			continue
		}
		for _, listing := range listings {
			if !seen[listing.URL] {
				seen[listing.URL] = true
				targets = append(targets, FetchTarget{URL: listing.URL})
			}
		}
	}
	return targets
}

// collectionProbeTier synthesizes candidate collection slugs from the terms
// and probes each one's products feed.
func (r *TargetResolver) collectionProbeTier(ctx context.Context, base string, terms []string) []FetchTarget {
	var targets []FetchTarget
	seen := make(map[string]bool)

	for _, term := range terms {
		for _, suffix := range slugSuffixVariants {
			slug := Slugify(term) + suffix
			if slug == "" || seen[slug] {
				continue
			}
			seen[slug] = true

			probeURL := base + "/collections/" + slug + "/products.json?limit=1"
			body, err := r.fetcher.Fetch(ctx, probeURL)
			if err != nil {
				continue
			}
			listings, err := scraper.ParseProductsJSON(base, body)
			if err != nil || len(listings) == 0 {
				continue
			}
			targets = append(targets, FetchTarget{
				URL:      base + "/collections/" + slug + "/products.json",
				Paginate: true,
			})
		}
	}
	return targets
}

// fullCrawlTier is the last resort: walk the entire catalog feed and filter
// by substring against title, vendor and tags.
func (r *TargetResolver) fullCrawlTier(_ context.Context, base string, terms []string) []FetchTarget {
	if len(terms) == 0 {
		return nil
	}
	return []FetchTarget{{
		URL:         base + "/products.json",
		Paginate:    true,
		FilterTerms: terms,
	}}
}

// termsFromPatterns derives probe terms from URL glob patterns: the last
// path segment with glob characters stripped ("/products/ecm-*" -> "ecm").
func termsFromPatterns(patterns []string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		segment := pattern
		if idx := strings.LastIndex(segment, "/"); idx >= 0 {
			segment = segment[idx+1:]
		}
		segment = strings.Trim(strings.ReplaceAll(segment, "*", " "), " -")
		for _, field := range strings.Fields(segment) {
			if !seen[field] {
				seen[field] = true
				terms = append(terms, field)
			}
		}
	}
	return terms
}

// Slugify normalizes a multi-word term into a URL slug: lowercase, drop
// punctuation, spaces to hyphens.
func Slugify(term string) string {
	slug := strings.ToLower(strings.TrimSpace(term))
	slug = slugCleanRegex.ReplaceAllString(slug, "")
	slug = multipleSpacesRegex.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// BaseURL normalizes a configured competitor domain into a https base URL.
func BaseURL(domainName string) string {
	d := strings.TrimSpace(domainName)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return "https://" + strings.TrimSuffix(d, "/")
}
