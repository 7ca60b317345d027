package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/internal/domain"
)

// violationClosedByLifecycle marks violations closed because their match was
// removed rather than resolved by an operator.
const violationClosedByLifecycle = "system:match-removed"

// matchTransitions is the exhaustive transition table for the match state
// machine. Anything not listed is an illegal transition.
var matchTransitions = map[domain.MatchStatus][]domain.MatchStatus{
	domain.MatchStatusPending:  {domain.MatchStatusVerified, domain.MatchStatusRejected, domain.MatchStatusDeleted},
	domain.MatchStatusVerified: {domain.MatchStatusRejected, domain.MatchStatusDeleted},
	domain.MatchStatusManual:   {domain.MatchStatusRejected, domain.MatchStatusDeleted},
	// rejected and deleted are terminal
}

func canTransition(from, to domain.MatchStatus) bool {
	for _, allowed := range matchTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// MatchService owns the ProductMatch state machine: verify, reject
// (unmatch + blacklist), delete, and manual creation. All transitions are
// synchronous and never leave an orphaned violation behind.
type MatchService struct {
	matches    domain.MatchRepository
	blacklist  domain.BlacklistRepository
	violations domain.ViolationRepository
	logger     *logrus.Logger
}

// NewMatchService creates a new match lifecycle service
func NewMatchService(
	matches domain.MatchRepository,
	blacklist domain.BlacklistRepository,
	violations domain.ViolationRepository,
	logger *logrus.Logger,
) *MatchService {
	return &MatchService{
		matches:    matches,
		blacklist:  blacklist,
		violations: violations,
		logger:     logger,
	}
}

// Verify confirms an auto match. The match becomes equivalent to a manual
// one: pinned at score 1.0 and excluded from re-scoring. An open violation
// on the match is left untouched.
func (s *MatchService) Verify(ctx context.Context, id uint64) (*domain.ProductMatch, error) {
	match, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(match.Status, domain.MatchStatusVerified) {
		return nil, fmt.Errorf("%w: %s -> verified (match %d)", domain.ErrInvalidTransition, match.Status, id)
	}

	match.Status = domain.MatchStatusVerified
	match.IsManualMatch = true
	match.OverallScore = 1.0
	match.Confidence = domain.ConfidenceManual
	if err := s.matches.Save(ctx, match); err != nil {
		return nil, err
	}

	s.logger.WithField("match_id", id).Info("match verified")
	return match, nil
}

// Reject unmatches a pair: the match is retired, the pair is blacklisted so
// it is never auto-matched again, and any open violation is closed.
func (s *MatchService) Reject(ctx context.Context, id uint64, reason string) error {
	match, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !canTransition(match.Status, domain.MatchStatusRejected) {
		return fmt.Errorf("%w: %s -> rejected (match %d)", domain.ErrInvalidTransition, match.Status, id)
	}

	entry := &domain.MatchBlacklist{
		CatalogProductID:    match.CatalogProductID,
		CompetitorProductID: match.CompetitorProductID,
		Reason:              reason,
	}
	if err := s.blacklist.Add(ctx, entry); err != nil {
		return fmt.Errorf("blacklist pair (%d,%d): %w", match.CatalogProductID, match.CompetitorProductID, err)
	}

	match.Status = domain.MatchStatusRejected
	match.RejectReason = reason
	if err := s.matches.Save(ctx, match); err != nil {
		return err
	}
	if err := s.violations.CloseOpenByMatchID(ctx, match.ID, violationClosedByLifecycle); err != nil {
		return fmt.Errorf("close violation for match %d: %w", match.ID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"match_id":              id,
		"catalog_product_id":    match.CatalogProductID,
		"competitor_product_id": match.CompetitorProductID,
	}).Info("match rejected and pair blacklisted")
	return nil
}

// Delete removes a match without blacklisting; the pair may be re-matched by
// a later scoring pass. Any open violation is closed.
func (s *MatchService) Delete(ctx context.Context, id uint64) error {
	match, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !canTransition(match.Status, domain.MatchStatusDeleted) {
		return fmt.Errorf("%w: %s -> deleted (match %d)", domain.ErrInvalidTransition, match.Status, id)
	}

	match.Status = domain.MatchStatusDeleted
	if err := s.matches.Save(ctx, match); err != nil {
		return err
	}
	if err := s.violations.CloseOpenByMatchID(ctx, match.ID, violationClosedByLifecycle); err != nil {
		return fmt.Errorf("close violation for match %d: %w", match.ID, err)
	}

	s.logger.WithField("match_id", id).Info("match deleted")
	return nil
}

// CreateManual inserts an operator-created match, bypassing scoring.
// Blacklisted pairs are refused; an existing active match for the pair is
// replaced, not duplicated.
func (s *MatchService) CreateManual(ctx context.Context, catalogID, competitorProductID uint64) (*domain.ProductMatch, error) {
	blacklisted, err := s.blacklist.Contains(ctx, catalogID, competitorProductID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, fmt.Errorf("%w: (%d,%d)", domain.ErrPairBlacklisted, catalogID, competitorProductID)
	}

	existing, err := s.matches.ActiveByPair(ctx, catalogID, competitorProductID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Status = domain.MatchStatusDeleted
		if err := s.matches.Save(ctx, existing); err != nil {
			return nil, fmt.Errorf("retire existing match %d: %w", existing.ID, err)
		}
		if err := s.violations.CloseOpenByMatchID(ctx, existing.ID, violationClosedByLifecycle); err != nil {
			return nil, fmt.Errorf("close violation for match %d: %w", existing.ID, err)
		}
	}

	match := &domain.ProductMatch{
		CatalogProductID:    catalogID,
		CompetitorProductID: competitorProductID,
		OverallScore:        1.0,
		Confidence:          domain.ConfidenceManual,
		IsManualMatch:       true,
		Source:              domain.MatchSourceManual,
		Status:              domain.MatchStatusManual,
	}
	if err := s.matches.Save(ctx, match); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"catalog_product_id":    catalogID,
		"competitor_product_id": competitorProductID,
	}).Info("manual match created")
	return match, nil
}

// List returns matches filtered by status, paginated.
func (s *MatchService) List(ctx context.Context, status domain.MatchStatus, page, pageSize int) ([]*domain.ProductMatch, int64, error) {
	return s.matches.List(ctx, status, page, pageSize)
}

func (s *MatchService) get(ctx context.Context, id uint64) (*domain.ProductMatch, error) {
	match, err := s.matches.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrMatchNotFound, id)
	}
	return match, nil
}
