package usecase

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/internal/domain"
)

// violationClosedByScan marks violations closed because the price condition
// no longer holds at scan time.
const violationClosedByScan = "system:scan"

// ViolationThresholds holds the severity classification cutoffs as fractions
// below the MAP floor.
type ViolationThresholds struct {
	MaterialityFloor  float64
	ModerateThreshold float64
	SevereThreshold   float64
}

// DefaultViolationThresholds returns the shipped classification:
// >=0.20 severe, 0.10-0.19 moderate, 0.05-0.09 minor, below 0.05 immaterial.
func DefaultViolationThresholds() ViolationThresholds {
	return ViolationThresholds{
		MaterialityFloor:  0.05,
		ModerateThreshold: 0.10,
		SevereThreshold:   0.20,
	}
}

func (t ViolationThresholds) withDefaults() ViolationThresholds {
	if t.MaterialityFloor <= 0 || t.ModerateThreshold <= 0 || t.SevereThreshold <= 0 {
		return DefaultViolationThresholds()
	}
	return t
}

// DefaultMAPSource uses a separately configured MAP value when the catalog
// product has one, and falls back to the merchant's own live price.
type DefaultMAPSource struct{}

// FloorFor returns the enforcement floor for a catalog product.
func (DefaultMAPSource) FloorFor(product *domain.CatalogProduct) decimal.Decimal {
	if product.MAPPrice != nil && product.MAPPrice.GreaterThan(decimal.Zero) {
		return *product.MAPPrice
	}
	return product.Price
}

// ViolationService derives MAP violations from active matches plus current
// prices, with an operator-driven resolve workflow.
type ViolationService struct {
	matches    domain.MatchRepository
	products   domain.ProductRepository
	violations domain.ViolationRepository
	mapSource  domain.MAPSource
	thresholds ViolationThresholds
	logger     *logrus.Logger
}

// NewViolationService creates a new violation detector. The MAP source is
// injected so the floor policy stays pluggable.
func NewViolationService(
	matches domain.MatchRepository,
	products domain.ProductRepository,
	violations domain.ViolationRepository,
	mapSource domain.MAPSource,
	thresholds ViolationThresholds,
	logger *logrus.Logger,
) *ViolationService {
	if mapSource == nil {
		mapSource = DefaultMAPSource{}
	}
	return &ViolationService{
		matches:    matches,
		products:   products,
		violations: violations,
		mapSource:  mapSource,
		thresholds: thresholds.withDefaults(),
		logger:     logger,
	}
}

// ScanSummary reports the outcome of one violation scan.
type ScanSummary struct {
	MatchesScanned int      `json:"matches_scanned"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Closed         int      `json:"closed"`
	Errors         []string `json:"errors,omitempty"`
}

// Scan walks every active match, computes the percent below the MAP floor
// and creates, updates or closes violation records. Running it twice on
// unchanged inputs produces the same violation set; a failure on one match
// does not abort the batch.
func (s *ViolationService) Scan(ctx context.Context) (*ScanSummary, error) {
	matches, err := s.matches.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active matches: %w", err)
	}

	summary := &ScanSummary{MatchesScanned: len(matches)}
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.scanMatch(ctx, match, summary); err != nil {
			msg := fmt.Sprintf("match %d: %v", match.ID, err)
			s.logger.WithError(err).WithField("match_id", match.ID).Warn("violation scan failed for match")
			summary.Errors = append(summary.Errors, msg)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"scanned": summary.MatchesScanned,
		"created": summary.Created,
		"updated": summary.Updated,
		"closed":  summary.Closed,
	}).Info("violation scan complete")
	return summary, nil
}

func (s *ViolationService) scanMatch(ctx context.Context, match *domain.ProductMatch, summary *ScanSummary) error {
	catalogProduct, err := s.products.GetCatalogProduct(ctx, match.CatalogProductID)
	if err != nil {
		return err
	}
	competitorProduct, err := s.products.GetCompetitorProduct(ctx, match.CompetitorProductID)
	if err != nil {
		return err
	}
	if catalogProduct == nil || competitorProduct == nil {
		return fmt.Errorf("match %d references a missing product", match.ID)
	}
	if competitorProduct.Price == nil {
		// No observable price; leave any open violation as-is
		return nil
	}

	floor := s.mapSource.FloorFor(catalogProduct)
	observed := *competitorProduct.Price
	percent := violationPercent(floor, observed)

	severity, material := s.classify(percent)
	open, err := s.violations.GetOpenByMatchID(ctx, match.ID)
	if err != nil {
		return err
	}

	if !material {
		if open != nil {
			if err := s.violations.CloseOpenByMatchID(ctx, match.ID, violationClosedByScan); err != nil {
				return err
			}
			summary.Closed++
		}
		return nil
	}

	if open != nil {
		// Update the open violation in place rather than duplicating it
		open.ReferencePrice = floor
		open.ObservedPrice = observed
		open.PriceDelta = floor.Sub(observed)
		open.PercentBelow = percent
		open.Severity = severity
		if err := s.violations.Save(ctx, open); err != nil {
			return err
		}
		summary.Updated++
		return nil
	}

	violation := &domain.Violation{
		MatchID:        match.ID,
		ReferencePrice: floor,
		ObservedPrice:  observed,
		PriceDelta:     floor.Sub(observed),
		PercentBelow:   percent,
		Severity:       severity,
	}
	if err := s.violations.Save(ctx, violation); err != nil {
		return err
	}
	summary.Created++
	return nil
}

// Resolve marks a violation resolved without altering the match. A later
// scan may open a new violation if the condition recurs; permanent
// suppression is only achieved by rejecting the match itself.
func (s *ViolationService) Resolve(ctx context.Context, id uint64, resolvedBy string) (*domain.Violation, error) {
	if resolvedBy == "" {
		return nil, fmt.Errorf("%w: resolved_by is required", domain.ErrInvalidRequest)
	}
	violation, err := s.violations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if violation == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrViolationNotFound, id)
	}

	now := time.Now().UTC()
	violation.Resolved = true
	violation.ResolvedBy = resolvedBy
	violation.ResolvedAt = &now
	if err := s.violations.Save(ctx, violation); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"violation_id": id, "resolved_by": resolvedBy}).Info("violation resolved")
	return violation, nil
}

// List returns violations, optionally filtered on the resolved flag.
func (s *ViolationService) List(ctx context.Context, resolved *bool, page, pageSize int) ([]*domain.Violation, int64, error) {
	return s.violations.List(ctx, resolved, page, pageSize)
}

// Stats aggregates violations into day/week/month buckets for trend views.
func (s *ViolationService) Stats(ctx context.Context, filter domain.ViolationStatsFilter) ([]domain.ViolationBucket, error) {
	switch filter.GroupBy {
	case "", "day", "week", "month":
	default:
		return nil, fmt.Errorf("%w: group_by must be day, week or month", domain.ErrInvalidRequest)
	}
	if filter.GroupBy == "" {
		filter.GroupBy = "day"
	}
	return s.violations.Aggregate(ctx, filter)
}

// ExportCSV writes all violations (optionally filtered on resolved) as a
// flat CSV file.
func (s *ViolationService) ExportCSV(ctx context.Context, w io.Writer, resolved *bool) error {
	const exportPageSize = 500

	writer := csv.NewWriter(w)
	header := []string{
		"violation_id", "match_id", "catalog_product", "competitor_product",
		"reference_price", "observed_price", "price_delta", "percent_below",
		"severity", "resolved", "resolved_by", "created_at",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for page := 1; ; page++ {
		violations, _, err := s.violations.List(ctx, resolved, page, exportPageSize)
		if err != nil {
			return err
		}
		if len(violations) == 0 {
			break
		}
		for _, v := range violations {
			catalogTitle, competitorTitle := "", ""
			if v.Match != nil {
				if v.Match.CatalogProduct != nil {
					catalogTitle = v.Match.CatalogProduct.Title
				}
				if v.Match.CompetitorProduct != nil {
					competitorTitle = v.Match.CompetitorProduct.Title
				}
			}
			record := []string{
				strconv.FormatUint(v.ID, 10),
				strconv.FormatUint(v.MatchID, 10),
				catalogTitle,
				competitorTitle,
				v.ReferencePrice.StringFixed(2),
				v.ObservedPrice.StringFixed(2),
				v.PriceDelta.StringFixed(2),
				strconv.FormatFloat(v.PercentBelow, 'f', 4, 64),
				string(v.Severity),
				strconv.FormatBool(v.Resolved),
				v.ResolvedBy,
				v.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		if len(violations) < exportPageSize {
			break
		}
	}

	writer.Flush()
	return writer.Error()
}

// classify buckets a violation percent into a severity. The boolean is
// false when the percent is below the materiality floor (or not a violation
// at all).
func (s *ViolationService) classify(percent float64) (domain.ViolationSeverity, bool) {
	switch {
	case percent >= s.thresholds.SevereThreshold:
		return domain.SeveritySevere, true
	case percent >= s.thresholds.ModerateThreshold:
		return domain.SeverityModerate, true
	case percent >= s.thresholds.MaterialityFloor:
		return domain.SeverityMinor, true
	}
	return "", false
}

// violationPercent computes (floor - observed) / floor.
func violationPercent(floor, observed decimal.Decimal) float64 {
	if floor.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	percent, _ := floor.Sub(observed).Div(floor).Float64()
	return percent
}
