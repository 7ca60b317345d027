package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogProduct is a merchant-owned product sourced from the catalog
// platform. This subsystem treats it as read-only except for feed sync.
type CatalogProduct struct {
	ID          uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ExternalID  string           `gorm:"column:external_id;type:varchar(64);uniqueIndex;not null" json:"external_id"`
	Title       string           `gorm:"column:title;type:varchar(512);not null" json:"title"`
	Vendor      string           `gorm:"column:vendor;type:varchar(128)" json:"vendor"`
	ProductType string           `gorm:"column:product_type;type:varchar(128)" json:"product_type"`
	SKU         string           `gorm:"column:sku;type:varchar(128)" json:"sku"`
	Price       decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	MAPPrice    *decimal.Decimal `gorm:"column:map_price;type:numeric(12,2)" json:"map_price,omitempty"`
	CreatedAt   time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (CatalogProduct) TableName() string { return "catalog_products" }

// CompetitorProduct is a scraped listing. A nil Price marks the listing as
// non-matchable; it stays in storage but is excluded from candidate
// generation. The row holds only the latest known price.
type CompetitorProduct struct {
	ID           uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CompetitorID uint64           `gorm:"column:competitor_id;not null;uniqueIndex:uq_competitor_url" json:"competitor_id"`
	Title        string           `gorm:"column:title;type:varchar(512);not null" json:"title"`
	Vendor       string           `gorm:"column:vendor;type:varchar(128)" json:"vendor"`
	ProductType  string           `gorm:"column:product_type;type:varchar(128)" json:"product_type"`
	SKU          string           `gorm:"column:sku;type:varchar(128)" json:"sku"`
	Price        *decimal.Decimal `gorm:"column:price;type:numeric(12,2)" json:"price,omitempty"`
	URL          string           `gorm:"column:url;type:varchar(1024);not null;uniqueIndex:uq_competitor_url" json:"url"`
	FirstSeenAt  time.Time        `gorm:"column:first_seen_at" json:"first_seen_at"`
	LastSeenAt   time.Time        `gorm:"column:last_seen_at" json:"last_seen_at"`
}

func (CompetitorProduct) TableName() string { return "competitor_products" }

// ScrapedListing is a raw listing as extracted from a competitor page,
// before normalization.
type ScrapedListing struct {
	Title       string
	Vendor      string
	ProductType string
	SKU         string
	PriceText   string
	URL         string
	Tags        []string
}

// CanonicalProduct is the normalized, comparable representation used as
// scoring input for both catalog and competitor listings.
type CanonicalProduct struct {
	Title     string
	Vendor    string
	Type      string
	SKU       string
	Price     decimal.Decimal
	Matchable bool
}
