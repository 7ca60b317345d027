package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mapwatch/backend/internal/domain"
)

// CompetitorRepo is the gorm-backed implementation of
// domain.CompetitorRepository.
type CompetitorRepo struct {
	db *gorm.DB
}

// NewCompetitorRepo creates a new competitor repository.
func NewCompetitorRepo(db *gorm.DB) *CompetitorRepo {
	return &CompetitorRepo{db: db}
}

// Upsert inserts a competitor or updates its configuration, keyed on domain.
func (r *CompetitorRepo) Upsert(ctx context.Context, competitor *domain.Competitor) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "domain"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "scraping_strategy", "collection_names", "url_patterns",
				"search_terms", "exclude_patterns", "is_active", "updated_at",
			}),
		}).
		Create(competitor).Error
}

// GetByID returns a competitor by id, or (nil, nil) when absent.
func (r *CompetitorRepo) GetByID(ctx context.Context, id uint64) (*domain.Competitor, error) {
	var competitor domain.Competitor
	err := r.db.WithContext(ctx).First(&competitor, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &competitor, nil
}

// List returns all competitors ordered by name.
func (r *CompetitorRepo) List(ctx context.Context) ([]*domain.Competitor, error) {
	var competitors []*domain.Competitor
	err := r.db.WithContext(ctx).Order("name asc").Find(&competitors).Error
	return competitors, err
}

// StampScraped records the time of the last completed scrape.
func (r *CompetitorRepo) StampScraped(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Competitor{}).
		Where("id = ?", id).
		Update("last_scraped_at", now).Error
}
