package postgres

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mapwatch/backend/internal/domain"
)

// PoolOptions configures the underlying sql.DB connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to postgres, applies pool settings and migrates the schema.
func Open(dsn string, pool PoolOptions) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&domain.Competitor{},
		&domain.CatalogProduct{},
		&domain.CompetitorProduct{},
		&domain.ProductMatch{},
		&domain.MatchBlacklist{},
		&domain.Violation{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// lockingClause takes a row lock so concurrent candidate upserts for the
// same pair serialize instead of double-inserting.
func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
