package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/mapwatch/backend/internal/domain"
)

// activeStatuses are the match states that participate in matching and
// violation scans.
var activeStatuses = []domain.MatchStatus{
	domain.MatchStatusPending,
	domain.MatchStatusVerified,
	domain.MatchStatusManual,
}

// MatchRepo is the gorm-backed implementation of domain.MatchRepository.
type MatchRepo struct {
	db *gorm.DB
}

// NewMatchRepo creates a new match repository.
func NewMatchRepo(db *gorm.DB) *MatchRepo {
	return &MatchRepo{db: db}
}

// UpsertCandidate writes a scored candidate for a pair. If an active match
// already exists for the pair its score fields are refreshed in place, so
// repeated scoring runs converge on one active row per pair. The whole
// operation runs in a transaction to keep concurrent runs from inserting
// duplicates.
func (r *MatchRepo) UpsertCandidate(ctx context.Context, match *domain.ProductMatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.ProductMatch
		err := tx.Clauses(lockingClause()).
			Where("catalog_product_id = ? AND competitor_product_id = ? AND status IN ?",
				match.CatalogProductID, match.CompetitorProductID, activeStatuses).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(match).Error
		}
		if err != nil {
			return err
		}

		match.ID = existing.ID
		return tx.Model(&existing).Updates(map[string]interface{}{
			"overall_score":    match.OverallScore,
			"confidence_level": match.Confidence,
		}).Error
	})
}

// Save persists all fields of an existing match.
func (r *MatchRepo) Save(ctx context.Context, match *domain.ProductMatch) error {
	return r.db.WithContext(ctx).Save(match).Error
}

// GetByID returns a match with its products preloaded, or (nil, nil) when
// absent.
func (r *MatchRepo) GetByID(ctx context.Context, id uint64) (*domain.ProductMatch, error) {
	var match domain.ProductMatch
	err := r.db.WithContext(ctx).
		Preload("CatalogProduct").
		Preload("CompetitorProduct").
		First(&match, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// ActiveByPair returns the single active match for a pair, or (nil, nil).
func (r *MatchRepo) ActiveByPair(ctx context.Context, catalogID, competitorProductID uint64) (*domain.ProductMatch, error) {
	var match domain.ProductMatch
	err := r.db.WithContext(ctx).
		Where("catalog_product_id = ? AND competitor_product_id = ? AND status IN ?",
			catalogID, competitorProductID, activeStatuses).
		First(&match).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// ListActive returns every active match with products preloaded, for the
// violation scan.
func (r *MatchRepo) ListActive(ctx context.Context) ([]*domain.ProductMatch, error) {
	var matches []*domain.ProductMatch
	err := r.db.WithContext(ctx).
		Preload("CatalogProduct").
		Preload("CompetitorProduct").
		Where("status IN ?", activeStatuses).
		Find(&matches).Error
	return matches, err
}

// List returns a page of matches, newest first, optionally filtered by
// status, plus the total row count for the filter.
func (r *MatchRepo) List(ctx context.Context, status domain.MatchStatus, page, pageSize int) ([]*domain.ProductMatch, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.ProductMatch{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var matches []*domain.ProductMatch
	err := query.
		Preload("CatalogProduct").
		Preload("CompetitorProduct").
		Order("created_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&matches).Error
	return matches, total, err
}

// BlacklistRepo is the gorm-backed implementation of
// domain.BlacklistRepository.
type BlacklistRepo struct {
	db *gorm.DB
}

// NewBlacklistRepo creates a new blacklist repository.
func NewBlacklistRepo(db *gorm.DB) *BlacklistRepo {
	return &BlacklistRepo{db: db}
}

// Add records a suppressed pair. Adding the same pair twice is a no-op so a
// reject retried after a partial failure cannot duplicate the entry.
func (r *BlacklistRepo) Add(ctx context.Context, entry *domain.MatchBlacklist) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// Contains reports whether a pair is suppressed.
func (r *BlacklistRepo) Contains(ctx context.Context, catalogID, competitorProductID uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.MatchBlacklist{}).
		Where("catalog_product_id = ? AND competitor_product_id = ?", catalogID, competitorProductID).
		Count(&count).Error
	return count > 0, err
}
