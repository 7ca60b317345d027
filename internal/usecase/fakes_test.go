package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/internal/domain"
)

// testLogger returns a logger that stays quiet during tests.
func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// --- In-memory repository fakes ---

type fakeProductRepo struct {
	catalog    []*domain.CatalogProduct
	competitor []*domain.CompetitorProduct
}

func (f *fakeProductRepo) UpsertCatalogProducts(_ context.Context, products []*domain.CatalogProduct) error {
	f.catalog = append(f.catalog, products...)
	return nil
}

func (f *fakeProductRepo) ListCatalogProducts(_ context.Context) ([]*domain.CatalogProduct, error) {
	return f.catalog, nil
}

func (f *fakeProductRepo) GetCatalogProduct(_ context.Context, id uint64) (*domain.CatalogProduct, error) {
	for _, p := range f.catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProductRepo) UpsertCompetitorProduct(_ context.Context, product *domain.CompetitorProduct) error {
	for _, existing := range f.competitor {
		if existing.CompetitorID == product.CompetitorID && existing.URL == product.URL {
			existing.Title = product.Title
			existing.Vendor = product.Vendor
			existing.ProductType = product.ProductType
			existing.SKU = product.SKU
			existing.Price = product.Price
			existing.LastSeenAt = product.LastSeenAt
			return nil
		}
	}
	product.ID = uint64(len(f.competitor) + 1)
	f.competitor = append(f.competitor, product)
	return nil
}

func (f *fakeProductRepo) ListCompetitorProducts(_ context.Context, competitorID uint64) ([]*domain.CompetitorProduct, error) {
	var out []*domain.CompetitorProduct
	for _, p := range f.competitor {
		if p.CompetitorID == competitorID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeProductRepo) ListAllCompetitorProducts(_ context.Context) ([]*domain.CompetitorProduct, error) {
	return f.competitor, nil
}

func (f *fakeProductRepo) GetCompetitorProduct(_ context.Context, id uint64) (*domain.CompetitorProduct, error) {
	for _, p := range f.competitor {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

type fakeMatchRepo struct {
	matches []*domain.ProductMatch
	nextID  uint64
}

func (f *fakeMatchRepo) UpsertCandidate(ctx context.Context, match *domain.ProductMatch) error {
	existing, _ := f.ActiveByPair(ctx, match.CatalogProductID, match.CompetitorProductID)
	if existing != nil {
		existing.OverallScore = match.OverallScore
		existing.Confidence = match.Confidence
		match.ID = existing.ID
		return nil
	}
	return f.Save(ctx, match)
}

func (f *fakeMatchRepo) Save(_ context.Context, match *domain.ProductMatch) error {
	if match.ID == 0 {
		f.nextID++
		match.ID = f.nextID
		f.matches = append(f.matches, match)
		return nil
	}
	for i, existing := range f.matches {
		if existing.ID == match.ID {
			f.matches[i] = match
			return nil
		}
	}
	f.matches = append(f.matches, match)
	return nil
}

func (f *fakeMatchRepo) GetByID(_ context.Context, id uint64) (*domain.ProductMatch, error) {
	for _, m := range f.matches {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMatchRepo) ActiveByPair(_ context.Context, catalogID, competitorProductID uint64) (*domain.ProductMatch, error) {
	for _, m := range f.matches {
		if m.CatalogProductID == catalogID && m.CompetitorProductID == competitorProductID && m.Status.Active() {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMatchRepo) ListActive(_ context.Context) ([]*domain.ProductMatch, error) {
	var out []*domain.ProductMatch
	for _, m := range f.matches {
		if m.Status.Active() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMatchRepo) List(_ context.Context, status domain.MatchStatus, page, pageSize int) ([]*domain.ProductMatch, int64, error) {
	var filtered []*domain.ProductMatch
	for _, m := range f.matches {
		if status == "" || m.Status == status {
			filtered = append(filtered, m)
		}
	}
	start := (page - 1) * pageSize
	if start >= len(filtered) {
		return nil, int64(len(filtered)), nil
	}
	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], int64(len(filtered)), nil
}

type fakeBlacklistRepo struct {
	entries map[string]*domain.MatchBlacklist
}

func newFakeBlacklistRepo() *fakeBlacklistRepo {
	return &fakeBlacklistRepo{entries: make(map[string]*domain.MatchBlacklist)}
}

func pairKey(catalogID, competitorProductID uint64) string {
	return fmt.Sprintf("%d:%d", catalogID, competitorProductID)
}

func (f *fakeBlacklistRepo) Add(_ context.Context, entry *domain.MatchBlacklist) error {
	f.entries[pairKey(entry.CatalogProductID, entry.CompetitorProductID)] = entry
	return nil
}

func (f *fakeBlacklistRepo) Contains(_ context.Context, catalogID, competitorProductID uint64) (bool, error) {
	_, ok := f.entries[pairKey(catalogID, competitorProductID)]
	return ok, nil
}

type fakeViolationRepo struct {
	violations []*domain.Violation
	nextID     uint64
}

func (f *fakeViolationRepo) Save(_ context.Context, violation *domain.Violation) error {
	if violation.ID == 0 {
		f.nextID++
		violation.ID = f.nextID
		f.violations = append(f.violations, violation)
	}
	return nil
}

func (f *fakeViolationRepo) GetByID(_ context.Context, id uint64) (*domain.Violation, error) {
	for _, v := range f.violations {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeViolationRepo) GetOpenByMatchID(_ context.Context, matchID uint64) (*domain.Violation, error) {
	for _, v := range f.violations {
		if v.MatchID == matchID && !v.Resolved {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeViolationRepo) CloseOpenByMatchID(_ context.Context, matchID uint64, closedBy string) error {
	for _, v := range f.violations {
		if v.MatchID == matchID && !v.Resolved {
			v.Resolved = true
			v.ResolvedBy = closedBy
		}
	}
	return nil
}

func (f *fakeViolationRepo) List(_ context.Context, resolved *bool, page, pageSize int) ([]*domain.Violation, int64, error) {
	var filtered []*domain.Violation
	for _, v := range f.violations {
		if resolved == nil || v.Resolved == *resolved {
			filtered = append(filtered, v)
		}
	}
	start := (page - 1) * pageSize
	if start >= len(filtered) {
		return nil, int64(len(filtered)), nil
	}
	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], int64(len(filtered)), nil
}

func (f *fakeViolationRepo) Aggregate(_ context.Context, _ domain.ViolationStatsFilter) ([]domain.ViolationBucket, error) {
	return nil, nil
}

type fakeCompetitorRepo struct {
	competitors []*domain.Competitor
	stamped     []uint64
}

func (f *fakeCompetitorRepo) Upsert(_ context.Context, competitor *domain.Competitor) error {
	if competitor.ID == 0 {
		competitor.ID = uint64(len(f.competitors) + 1)
	}
	f.competitors = append(f.competitors, competitor)
	return nil
}

func (f *fakeCompetitorRepo) GetByID(_ context.Context, id uint64) (*domain.Competitor, error) {
	for _, c := range f.competitors {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCompetitorRepo) List(_ context.Context) ([]*domain.Competitor, error) {
	return f.competitors, nil
}

func (f *fakeCompetitorRepo) StampScraped(_ context.Context, id uint64) error {
	f.stamped = append(f.stamped, id)
	return nil
}

type fakeCatalogFeed struct {
	products []*domain.CatalogProduct
	err      error
}

func (f *fakeCatalogFeed) FetchProducts(_ context.Context) ([]*domain.CatalogProduct, error) {
	return f.products, f.err
}

// fakeFetcher serves canned page bodies and records every fetched URL.
type fakeFetcher struct {
	pages   map[string][]byte
	fetched []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string][]byte)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.fetched = append(f.fetched, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPageNotFound, url)
	}
	return body, nil
}
