package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mapwatch/backend/internal/domain"
)

// ViolationRepo is the gorm-backed implementation of
// domain.ViolationRepository.
type ViolationRepo struct {
	db *gorm.DB
}

// NewViolationRepo creates a new violation repository.
func NewViolationRepo(db *gorm.DB) *ViolationRepo {
	return &ViolationRepo{db: db}
}

// Save persists a violation, inserting or updating by primary key.
func (r *ViolationRepo) Save(ctx context.Context, violation *domain.Violation) error {
	return r.db.WithContext(ctx).Save(violation).Error
}

// GetByID returns one violation with its match preloaded, or (nil, nil).
func (r *ViolationRepo) GetByID(ctx context.Context, id uint64) (*domain.Violation, error) {
	var violation domain.Violation
	err := r.db.WithContext(ctx).
		Preload("Match").
		Preload("Match.CatalogProduct").
		Preload("Match.CompetitorProduct").
		First(&violation, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &violation, nil
}

// GetOpenByMatchID returns the single open violation for a match, or
// (nil, nil) when the match has none.
func (r *ViolationRepo) GetOpenByMatchID(ctx context.Context, matchID uint64) (*domain.Violation, error) {
	var violation domain.Violation
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND resolved = false", matchID).
		First(&violation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &violation, nil
}

// CloseOpenByMatchID resolves any open violation for a match, recording who
// or what closed it. A match without an open violation is a no-op.
func (r *ViolationRepo) CloseOpenByMatchID(ctx context.Context, matchID uint64, closedBy string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Violation{}).
		Where("match_id = ? AND resolved = false", matchID).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_by": closedBy,
			"resolved_at": now,
		}).Error
}

// List returns a page of violations, newest first, optionally filtered by
// resolved state, plus the total row count for the filter.
func (r *ViolationRepo) List(ctx context.Context, resolved *bool, page, pageSize int) ([]*domain.Violation, int64, error) {
	query := r.db.WithContext(ctx).Model(&domain.Violation{})
	if resolved != nil {
		query = query.Where("resolved = ?", *resolved)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var violations []*domain.Violation
	err := query.
		Preload("Match").
		Preload("Match.CatalogProduct").
		Preload("Match.CompetitorProduct").
		Order("created_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&violations).Error
	return violations, total, err
}

// Aggregate groups violations into time buckets with per-severity counts,
// optionally narrowed by date range, brand and competitor domain.
func (r *ViolationRepo) Aggregate(ctx context.Context, filter domain.ViolationStatsFilter) ([]domain.ViolationBucket, error) {
	query := r.db.WithContext(ctx).
		Model(&domain.Violation{}).
		Select(`date_trunc(?, violations.created_at) AS period,
			count(*) AS total,
			count(*) FILTER (WHERE violations.severity = 'minor') AS minor,
			count(*) FILTER (WHERE violations.severity = 'moderate') AS moderate,
			count(*) FILTER (WHERE violations.severity = 'severe') AS severe`, filter.GroupBy).
		Joins("JOIN product_matches ON product_matches.id = violations.match_id")

	if !filter.StartDate.IsZero() {
		query = query.Where("violations.created_at >= ?", filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query = query.Where("violations.created_at < ?", filter.EndDate)
	}
	if filter.Brand != "" {
		query = query.
			Joins("JOIN catalog_products ON catalog_products.id = product_matches.catalog_product_id").
			Where("catalog_products.vendor ILIKE ?", filter.Brand)
	}
	if filter.Competitor != "" {
		query = query.
			Joins("JOIN competitor_products ON competitor_products.id = product_matches.competitor_product_id").
			Joins("JOIN competitors ON competitors.id = competitor_products.competitor_id").
			Where("competitors.domain = ?", filter.Competitor)
	}

	var buckets []domain.ViolationBucket
	err := query.
		Group("period").
		Order("period asc").
		Scan(&buckets).Error
	return buckets, err
}
