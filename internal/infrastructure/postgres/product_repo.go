package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mapwatch/backend/internal/domain"
)

// ProductRepo is the gorm-backed implementation of domain.ProductRepository.
type ProductRepo struct {
	db *gorm.DB
}

// NewProductRepo creates a new product repository.
func NewProductRepo(db *gorm.DB) *ProductRepo {
	return &ProductRepo{db: db}
}

// UpsertCatalogProducts writes a catalog feed batch, keyed on external_id.
func (r *ProductRepo) UpsertCatalogProducts(ctx context.Context, products []*domain.CatalogProduct) error {
	if len(products) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "vendor", "product_type", "sku", "price", "map_price", "updated_at",
			}),
		}).
		CreateInBatches(products, 200).Error
}

// ListCatalogProducts returns the full local catalog.
func (r *ProductRepo) ListCatalogProducts(ctx context.Context) ([]*domain.CatalogProduct, error) {
	var products []*domain.CatalogProduct
	err := r.db.WithContext(ctx).Find(&products).Error
	return products, err
}

// GetCatalogProduct returns one catalog product, or (nil, nil) when absent.
func (r *ProductRepo) GetCatalogProduct(ctx context.Context, id uint64) (*domain.CatalogProduct, error) {
	var product domain.CatalogProduct
	err := r.db.WithContext(ctx).First(&product, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpsertCompetitorProduct writes a scraped listing, keyed on the
// (competitor_id, url) pair. Re-scrapes refresh the latest price and
// last_seen_at while first_seen_at survives.
func (r *ProductRepo) UpsertCompetitorProduct(ctx context.Context, product *domain.CompetitorProduct) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "competitor_id"}, {Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "vendor", "product_type", "sku", "price", "last_seen_at",
			}),
		}).
		Create(product).Error
}

// ListCompetitorProducts returns all listings scraped from one competitor.
func (r *ProductRepo) ListCompetitorProducts(ctx context.Context, competitorID uint64) ([]*domain.CompetitorProduct, error) {
	var products []*domain.CompetitorProduct
	err := r.db.WithContext(ctx).
		Where("competitor_id = ?", competitorID).
		Find(&products).Error
	return products, err
}

// ListAllCompetitorProducts returns every scraped listing across competitors.
func (r *ProductRepo) ListAllCompetitorProducts(ctx context.Context) ([]*domain.CompetitorProduct, error) {
	var products []*domain.CompetitorProduct
	err := r.db.WithContext(ctx).Find(&products).Error
	return products, err
}

// GetCompetitorProduct returns one scraped listing, or (nil, nil) when absent.
func (r *ProductRepo) GetCompetitorProduct(ctx context.Context, id uint64) (*domain.CompetitorProduct, error) {
	var product domain.CompetitorProduct
	err := r.db.WithContext(ctx).First(&product, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}
