package domain

import "time"

// MatchStatus is the lifecycle state of a ProductMatch. Rejected and deleted
// rows are kept in storage (soft retirement) so the blacklist linkage and
// audit trail survive.
type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusVerified MatchStatus = "verified"
	MatchStatusManual   MatchStatus = "manual"
	MatchStatusRejected MatchStatus = "rejected"
	MatchStatusDeleted  MatchStatus = "deleted"
)

// Active reports whether the match still participates in matching and
// violation scans.
func (s MatchStatus) Active() bool {
	switch s {
	case MatchStatusPending, MatchStatusVerified, MatchStatusManual:
		return true
	}
	return false
}

// ConfidenceLevel is the discrete tier derived from a continuous match score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceManual ConfidenceLevel = "manual"
)

// MatchSource records how the match came to exist.
type MatchSource string

const (
	MatchSourceAuto   MatchSource = "auto"
	MatchSourceManual MatchSource = "manual"
)

// ProductMatch is a correspondence between one catalog product and one
// competitor product. At most one active match exists per pair; manual and
// verified matches are pinned at score 1.0 and skipped by re-scoring.
type ProductMatch struct {
	ID                  uint64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CatalogProductID    uint64          `gorm:"column:catalog_product_id;not null;index:idx_match_pair" json:"catalog_product_id"`
	CompetitorProductID uint64          `gorm:"column:competitor_product_id;not null;index:idx_match_pair" json:"competitor_product_id"`
	OverallScore        float64         `gorm:"column:overall_score;not null" json:"overall_score"`
	Confidence          ConfidenceLevel `gorm:"column:confidence_level;type:varchar(16);not null" json:"confidence_level"`
	IsManualMatch       bool            `gorm:"column:is_manual_match;default:false" json:"is_manual_match"`
	Source              MatchSource     `gorm:"column:source;type:varchar(16);not null" json:"source"`
	Status              MatchStatus     `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	RejectReason        string          `gorm:"column:reject_reason;type:varchar(256)" json:"reject_reason,omitempty"`
	CreatedAt           time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at" json:"updated_at"`

	CatalogProduct    *CatalogProduct    `gorm:"foreignKey:CatalogProductID" json:"catalog_product,omitempty"`
	CompetitorProduct *CompetitorProduct `gorm:"foreignKey:CompetitorProductID" json:"competitor_product,omitempty"`
}

func (ProductMatch) TableName() string { return "product_matches" }

// MatchBlacklist is a permanent record of a pair that must never be
// auto-matched again. Written exactly once when a match is rejected.
type MatchBlacklist struct {
	ID                  uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CatalogProductID    uint64    `gorm:"column:catalog_product_id;not null;uniqueIndex:uq_blacklist_pair" json:"catalog_product_id"`
	CompetitorProductID uint64    `gorm:"column:competitor_product_id;not null;uniqueIndex:uq_blacklist_pair" json:"competitor_product_id"`
	Reason              string    `gorm:"column:reason;type:varchar(256)" json:"reason"`
	CreatedAt           time.Time `gorm:"column:created_at" json:"created_at"`
}

func (MatchBlacklist) TableName() string { return "match_blacklist" }
