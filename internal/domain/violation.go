package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ViolationSeverity classifies how far below the MAP floor an observed
// price is.
type ViolationSeverity string

const (
	SeverityMinor    ViolationSeverity = "minor"
	SeverityModerate ViolationSeverity = "moderate"
	SeveritySevere   ViolationSeverity = "severe"
)

// Violation is derived from a ProductMatch plus current prices at scan time.
// At most one open (unresolved) violation exists per match; resolving closes
// it and a later scan may open a new one.
type Violation struct {
	ID             uint64            `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	MatchID        uint64            `gorm:"column:match_id;not null;index" json:"match_id"`
	ReferencePrice decimal.Decimal   `gorm:"column:reference_price;type:numeric(12,2);not null" json:"reference_price"`
	ObservedPrice  decimal.Decimal   `gorm:"column:observed_price;type:numeric(12,2);not null" json:"observed_price"`
	PriceDelta     decimal.Decimal   `gorm:"column:price_delta;type:numeric(12,2);not null" json:"price_delta"`
	PercentBelow   float64           `gorm:"column:percent_below;not null" json:"percent_below"`
	Severity       ViolationSeverity `gorm:"column:severity;type:varchar(16);not null" json:"severity"`
	Resolved       bool              `gorm:"column:resolved;default:false;index" json:"resolved"`
	ResolvedBy     string            `gorm:"column:resolved_by;type:varchar(128)" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time        `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time         `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at" json:"updated_at"`

	Match *ProductMatch `gorm:"foreignKey:MatchID" json:"match,omitempty"`
}

func (Violation) TableName() string { return "violations" }

// ViolationStatsFilter narrows the statistics aggregation.
type ViolationStatsFilter struct {
	StartDate  time.Time
	EndDate    time.Time
	GroupBy    string // day, week or month
	Brand      string
	Competitor string
}

// ViolationBucket is one aggregated row of the statistics query.
type ViolationBucket struct {
	Period   time.Time `json:"period"`
	Total    int64     `json:"total"`
	Minor    int64     `json:"minor"`
	Moderate int64     `json:"moderate"`
	Severe   int64     `json:"severe"`
}
