package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// CompetitorRepository persists competitor configurations.
type CompetitorRepository interface {
	Upsert(ctx context.Context, competitor *Competitor) error
	GetByID(ctx context.Context, id uint64) (*Competitor, error)
	List(ctx context.Context) ([]*Competitor, error)
	StampScraped(ctx context.Context, id uint64) error
}

// ProductRepository persists catalog and competitor products.
type ProductRepository interface {
	UpsertCatalogProducts(ctx context.Context, products []*CatalogProduct) error
	ListCatalogProducts(ctx context.Context) ([]*CatalogProduct, error)
	GetCatalogProduct(ctx context.Context, id uint64) (*CatalogProduct, error)
	UpsertCompetitorProduct(ctx context.Context, product *CompetitorProduct) error
	ListCompetitorProducts(ctx context.Context, competitorID uint64) ([]*CompetitorProduct, error)
	ListAllCompetitorProducts(ctx context.Context) ([]*CompetitorProduct, error)
	GetCompetitorProduct(ctx context.Context, id uint64) (*CompetitorProduct, error)
}

// MatchRepository persists product matches. UpsertCandidate is keyed on the
// (catalog, competitor product) pair so concurrent scoring runs cannot
// create duplicate active matches.
type MatchRepository interface {
	UpsertCandidate(ctx context.Context, match *ProductMatch) error
	Save(ctx context.Context, match *ProductMatch) error
	GetByID(ctx context.Context, id uint64) (*ProductMatch, error)
	ActiveByPair(ctx context.Context, catalogID, competitorProductID uint64) (*ProductMatch, error)
	ListActive(ctx context.Context) ([]*ProductMatch, error)
	List(ctx context.Context, status MatchStatus, page, pageSize int) ([]*ProductMatch, int64, error)
}

// BlacklistRepository persists the permanent pair suppression list.
type BlacklistRepository interface {
	Add(ctx context.Context, entry *MatchBlacklist) error
	Contains(ctx context.Context, catalogID, competitorProductID uint64) (bool, error)
}

// BlacklistLookup is the read side of the blacklist, injected into the
// scoring engine so it can be unit-tested with an in-memory implementation.
type BlacklistLookup interface {
	Contains(ctx context.Context, catalogID, competitorProductID uint64) (bool, error)
}

// ViolationCloser is the close-only side of the violation store, used when a
// match is retired outside the operator lifecycle.
type ViolationCloser interface {
	CloseOpenByMatchID(ctx context.Context, matchID uint64, closedBy string) error
}

// ViolationRepository persists MAP violations. Writes are keyed per match id.
type ViolationRepository interface {
	Save(ctx context.Context, violation *Violation) error
	GetByID(ctx context.Context, id uint64) (*Violation, error)
	GetOpenByMatchID(ctx context.Context, matchID uint64) (*Violation, error)
	CloseOpenByMatchID(ctx context.Context, matchID uint64, closedBy string) error
	List(ctx context.Context, resolved *bool, page, pageSize int) ([]*Violation, int64, error)
	Aggregate(ctx context.Context, filter ViolationStatsFilter) ([]ViolationBucket, error)
}

// PageFetcher is the opaque page-fetch capability. Implementations must be
// time-bounded; a timeout is reported as an error the caller treats as
// "zero results for that target".
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CatalogFeed is the read-only product-and-price feed from the merchant's
// catalog platform.
type CatalogFeed interface {
	FetchProducts(ctx context.Context) ([]*CatalogProduct, error)
}

// MAPSource supplies the enforcement floor for a catalog product. Whether
// that is the merchant's own live price or a separately configured MAP value
// is an implementation choice behind this interface.
type MAPSource interface {
	FloorFor(product *CatalogProduct) decimal.Decimal
}
