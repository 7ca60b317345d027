package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mapwatch/backend/internal/domain"
	"github.com/mapwatch/backend/internal/infrastructure/jobs"
	"github.com/mapwatch/backend/internal/infrastructure/scraper"
)

// ScrapeServiceConfig bounds one scrape job.
type ScrapeServiceConfig struct {
	// Concurrency caps parallel page fetches within one competitor so the
	// target site is not overloaded.
	Concurrency int
	// MaxPagesPerTarget bounds pagination on one target.
	MaxPagesPerTarget int
}

// ScrapeService runs competitor scrape jobs: resolve targets, fetch pages,
// parse and normalize listings, upsert competitor products. One job per
// competitor-scrape invocation, identified by a job id returned immediately.
type ScrapeService struct {
	competitors domain.CompetitorRepository
	products    domain.ProductRepository
	catalogFeed domain.CatalogFeed
	fetcher     domain.PageFetcher
	resolver    *TargetResolver
	normalizer  *Normalizer
	jobs        *jobs.Manager
	logger      *logrus.Logger
	cfg         ScrapeServiceConfig
}

// NewScrapeService creates a new scrape orchestration service.
func NewScrapeService(
	competitors domain.CompetitorRepository,
	products domain.ProductRepository,
	catalogFeed domain.CatalogFeed,
	fetcher domain.PageFetcher,
	jobManager *jobs.Manager,
	cfg ScrapeServiceConfig,
	logger *logrus.Logger,
) *ScrapeService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxPagesPerTarget <= 0 {
		cfg.MaxPagesPerTarget = 25
	}
	return &ScrapeService{
		competitors: competitors,
		products:    products,
		catalogFeed: catalogFeed,
		fetcher:     fetcher,
		resolver:    NewTargetResolver(fetcher, logger),
		normalizer:  NewNormalizer(),
		jobs:        jobManager,
		logger:      logger,
		cfg:         cfg,
	}
}

// StartScrape launches a background scrape job for one competitor and
// returns its job id immediately. Multiple competitors may be scraped
// concurrently; each gets its own job.
func (s *ScrapeService) StartScrape(ctx context.Context, competitorID uint64) (string, error) {
	competitor, err := s.competitors.GetByID(ctx, competitorID)
	if err != nil {
		return "", err
	}
	if competitor == nil {
		return "", fmt.Errorf("%w: %d", domain.ErrCompetitorNotFound, competitorID)
	}
	if !competitor.IsActive {
		return "", fmt.Errorf("%w: competitor %d is inactive", domain.ErrInvalidRequest, competitorID)
	}

	job := s.jobs.Create(competitor.ID)
	go s.run(job, competitor)
	return job.ID(), nil
}

// Job returns the current snapshot of a scrape job.
func (s *ScrapeService) Job(id string) (jobs.Snapshot, error) {
	return s.jobs.Get(id)
}

// CancelJob cancels a running scrape job. Products already upserted remain
// valid; the snapshot is simply stale but consistent.
func (s *ScrapeService) CancelJob(id string) error {
	return s.jobs.Cancel(id)
}

// SyncCatalog pulls the merchant product feed and upserts it locally.
func (s *ScrapeService) SyncCatalog(ctx context.Context) (int, error) {
	products, err := s.catalogFeed.FetchProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch catalog feed: %w", err)
	}
	if err := s.products.UpsertCatalogProducts(ctx, products); err != nil {
		return 0, fmt.Errorf("upsert catalog products: %w", err)
	}
	return len(products), nil
}

func (s *ScrapeService) run(job *jobs.Job, competitor *domain.Competitor) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job.Start(cancel)

	log := s.logger.WithFields(logrus.Fields{"job_id": job.ID(), "competitor": competitor.Domain})

	targets, err := s.resolver.Resolve(ctx, competitor)
	if err != nil {
		log.WithError(err).Warn("target resolution failed")
		job.Finish(err, errors.Is(ctx.Err(), context.Canceled))
		return
	}
	job.SetTargets(len(targets))

	filter, err := CompetitorFilter(competitor)
	if err != nil {
		job.Finish(err, false)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			// A failing target contributes zero results; it never fails
			// the job for the other targets.
			s.scrapeTarget(gctx, job, competitor, target, filter)
			return nil
		})
	}
	_ = g.Wait()

	cancelled := errors.Is(ctx.Err(), context.Canceled)
	if !cancelled {
		if err := s.competitors.StampScraped(context.Background(), competitor.ID); err != nil {
			log.WithError(err).Warn("failed to stamp last_scraped_at")
		}
	}
	job.Finish(nil, cancelled)
	log.WithField("cancelled", cancelled).Info("scrape job finished")
}

func (s *ScrapeService) scrapeTarget(
	ctx context.Context,
	job *jobs.Job,
	competitor *domain.Competitor,
	target FetchTarget,
	filter *GlobFilter,
) {
	base := BaseURL(competitor.Domain)

	if !target.Paginate {
		s.scrapeProductPage(ctx, job, competitor, target, filter)
		return
	}

	for page := 1; page <= s.cfg.MaxPagesPerTarget; page++ {
		if ctx.Err() != nil {
			return
		}

		body, err := s.fetcher.Fetch(ctx, pageURL(target.URL, page))
		if err != nil {
			// Timeout or fetch failure is zero results for this target
			job.AddError(fmt.Sprintf("target %s page %d: %v", target.URL, page, err))
			return
		}
		job.AddPage()

		listings, err := parseListings(base, target.URL, body)
		if err != nil {
			job.AddError(fmt.Sprintf("target %s page %d: %v", target.URL, page, err))
			return
		}
		if len(listings) == 0 {
			return // no further pages reported
		}

		kept := listings[:0]
		for _, listing := range listings {
			if !filter.AllowListing(listing) {
				continue
			}
			if len(target.FilterTerms) > 0 && !matchesAnyTerm(listing, target.FilterTerms) {
				continue
			}
			kept = append(kept, listing)
		}

		upserted := s.upsertListings(ctx, job, competitor.ID, kept)
		job.AddProducts(upserted)
	}
}

// scrapeProductPage handles a direct product-page target produced by the
// search-endpoint tier, using the storefront's per-product JSON document.
func (s *ScrapeService) scrapeProductPage(
	ctx context.Context,
	job *jobs.Job,
	competitor *domain.Competitor,
	target FetchTarget,
	filter *GlobFilter,
) {
	body, err := s.fetcher.Fetch(ctx, target.URL+".js")
	if err != nil {
		job.AddError(fmt.Sprintf("product %s: %v", target.URL, err))
		return
	}
	job.AddPage()

	listing, err := scraper.ParseProductJS(target.URL, body)
	if err != nil {
		job.AddError(fmt.Sprintf("product %s: %v", target.URL, err))
		return
	}
	if !filter.AllowListing(listing) {
		return
	}

	upserted := s.upsertListings(ctx, job, competitor.ID, []domain.ScrapedListing{listing})
	job.AddProducts(upserted)
}

func (s *ScrapeService) upsertListings(ctx context.Context, job *jobs.Job, competitorID uint64, listings []domain.ScrapedListing) int {
	now := time.Now().UTC()
	upserted := 0
	for _, listing := range listings {
		canonical := s.normalizer.NormalizeListing(listing)

		product := &domain.CompetitorProduct{
			CompetitorID: competitorID,
			Title:        listing.Title,
			Vendor:       listing.Vendor,
			ProductType:  listing.ProductType,
			SKU:          listing.SKU,
			URL:          listing.URL,
			FirstSeenAt:  now,
			LastSeenAt:   now,
		}
		if canonical.Matchable {
			price := canonical.Price
			product.Price = &price
		}

		if err := s.products.UpsertCompetitorProduct(ctx, product); err != nil {
			job.AddError(fmt.Sprintf("upsert %s: %v", listing.URL, err))
			continue
		}
		upserted++
	}
	return upserted
}

// parseListings picks the right parser for a target: JSON feeds for
// products.json targets, goquery for rendered collection pages.
func parseListings(base, targetURL string, body []byte) ([]domain.ScrapedListing, error) {
	if strings.Contains(targetURL, "products.json") {
		return scraper.ParseProductsJSON(base, body)
	}
	return scraper.ParseCollectionHTML(base, body)
}

// matchesAnyTerm reports whether a listing's title, vendor or tags contain
// one of the crawl filter terms.
func matchesAnyTerm(listing domain.ScrapedListing, terms []string) bool {
	haystack := strings.ToLower(listing.Title + " " + listing.Vendor + " " + strings.Join(listing.Tags, " "))
	for _, term := range terms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// pageURL appends the pagination parameters to a feed URL.
func pageURL(target string, page int) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%slimit=250&page=%d", target, sep, page)
}
