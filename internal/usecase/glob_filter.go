package usecase

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mapwatch/backend/internal/domain"
)

// GlobFilter applies include/exclude glob patterns to candidate URLs.
// Patterns use `*` as the only wildcard and are matched against the URL
// path. Excludes always win over includes.
type GlobFilter struct {
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

// NewGlobFilter compiles include and exclude glob patterns. An empty include
// list allows everything not excluded.
func NewGlobFilter(includes, excludes []string) (*GlobFilter, error) {
	f := &GlobFilter{}
	for _, pattern := range includes {
		re, err := globToRegexp(pattern)
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		f.includes = append(f.includes, re)
	}
	for _, pattern := range excludes {
		re, err := globToRegexp(pattern)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		f.excludes = append(f.excludes, re)
	}
	return f, nil
}

// CompetitorFilter builds the filter for one competitor: URL patterns act as
// includes under the url_patterns strategy, exclude patterns apply under
// every strategy.
func CompetitorFilter(competitor *domain.Competitor) (*GlobFilter, error) {
	var includes []string
	if competitor.Strategy == domain.StrategyURLPatterns {
		includes = competitor.URLPatterns
	}
	return NewGlobFilter(includes, competitor.ExcludePatterns)
}

// Allow reports whether the URL passes the filter. Matching is done on the
// URL path so patterns like "/products/ecm-*" and "*clearance*" both work.
func (f *GlobFilter) Allow(rawURL string) bool {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}

	for _, re := range f.excludes {
		if re.MatchString(path) {
			return false
		}
	}
	if len(f.includes) == 0 {
		return true
	}
	for _, re := range f.includes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// AllowListing applies the filter to a scraped listing's URL.
func (f *GlobFilter) AllowListing(listing domain.ScrapedListing) bool {
	return f.Allow(listing.URL)
}

// globToRegexp compiles a `*`-glob into an anchored regexp.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}
