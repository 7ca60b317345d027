package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ScrapingStrategy selects how fetch targets are derived for a competitor.
type ScrapingStrategy string

const (
	StrategyCollections ScrapingStrategy = "collections"
	StrategyURLPatterns ScrapingStrategy = "url_patterns"
	StrategySearchTerms ScrapingStrategy = "search_terms"
)

// Valid reports whether the strategy is one of the supported values.
func (s ScrapingStrategy) Valid() bool {
	switch s {
	case StrategyCollections, StrategyURLPatterns, StrategySearchTerms:
		return true
	}
	return false
}

// StringList stores a slice of strings as a JSON text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("cannot scan %T into StringList", value)
}

// Competitor is a monitored competitor site and its scraping configuration.
type Competitor struct {
	ID              uint64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name            string           `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Domain          string           `gorm:"column:domain;type:varchar(256);uniqueIndex;not null" json:"domain"`
	Strategy        ScrapingStrategy `gorm:"column:scraping_strategy;type:varchar(32);not null" json:"scraping_strategy"`
	CollectionNames StringList       `gorm:"column:collection_names;type:text" json:"collection_names,omitempty"`
	URLPatterns     StringList       `gorm:"column:url_patterns;type:text" json:"url_patterns,omitempty"`
	SearchTerms     StringList       `gorm:"column:search_terms;type:text" json:"search_terms,omitempty"`
	ExcludePatterns StringList       `gorm:"column:exclude_patterns;type:text" json:"exclude_patterns,omitempty"`
	IsActive        bool             `gorm:"column:is_active;default:true" json:"is_active"`
	LastScrapedAt   *time.Time       `gorm:"column:last_scraped_at" json:"last_scraped_at,omitempty"`
	CreatedAt       time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (Competitor) TableName() string { return "competitors" }
