package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/internal/domain"
)

// Token weighting for the semantic similarity step
const (
	fuzzyWeightFactor = 0.8 // Fuzzy matches get 80% of normal weight
)

// extendedStopWords includes basic English stop words plus listing noise
// that carries no matching signal.
var extendedStopWords = map[string]bool{
	// Basic English stop words
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "by": true, "from": true, "is": true,
	// Listing noise
	"new": true, "sale": true, "stock": true, "free": true,
	"shipping": true, "official": true, "authorized": true,
	"dealer": true, "edition": true,
}

// ScoringConfig holds the scoring weights and confidence tier thresholds.
// The defaults below are what the shipped tiers are calibrated against:
//
//	overall = 0.4*semantic + 0.6*attribute
//	attribute = 0.35*brand + 0.30*titleOverlap + 0.25*priceProximity + 0.10*typeAgreement
type ScoringConfig struct {
	SemanticWeight  float64
	AttributeWeight float64
	BrandWeight     float64
	TitleWeight     float64
	PriceWeight     float64
	TypeWeight      float64
	// PriceTolerance is the relative price difference at which the price
	// proximity factor bottoms out within the band (default 0.5 = 50%).
	PriceTolerance    float64
	HighThreshold     float64
	MediumThreshold   float64
	LowThreshold      float64
	FuzzyEditDistance int
}

// DefaultScoringConfig returns the documented default weights.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		SemanticWeight:    0.4,
		AttributeWeight:   0.6,
		BrandWeight:       0.35,
		TitleWeight:       0.30,
		PriceWeight:       0.25,
		TypeWeight:        0.10,
		PriceTolerance:    0.5,
		HighThreshold:     0.80,
		MediumThreshold:   0.70,
		LowThreshold:      0.60,
		FuzzyEditDistance: 1,
	}
}

func (c ScoringConfig) withDefaults() ScoringConfig {
	def := DefaultScoringConfig()
	if c.SemanticWeight <= 0 || c.AttributeWeight <= 0 {
		c.SemanticWeight = def.SemanticWeight
		c.AttributeWeight = def.AttributeWeight
	}
	if c.BrandWeight+c.TitleWeight+c.PriceWeight+c.TypeWeight <= 0 {
		c.BrandWeight = def.BrandWeight
		c.TitleWeight = def.TitleWeight
		c.PriceWeight = def.PriceWeight
		c.TypeWeight = def.TypeWeight
	}
	if c.PriceTolerance <= 0 {
		c.PriceTolerance = def.PriceTolerance
	}
	if c.HighThreshold <= 0 || c.MediumThreshold <= 0 || c.LowThreshold <= 0 {
		c.HighThreshold = def.HighThreshold
		c.MediumThreshold = def.MediumThreshold
		c.LowThreshold = def.LowThreshold
	}
	if c.FuzzyEditDistance <= 0 {
		c.FuzzyEditDistance = def.FuzzyEditDistance
	}
	return c
}

// ScoringService computes hybrid similarity scores between canonical catalog
// and competitor products and runs the batch auto-matching pass.
type ScoringService struct {
	cfg        ScoringConfig
	blacklist  domain.BlacklistLookup
	products   domain.ProductRepository
	matches    domain.MatchRepository
	violations domain.ViolationCloser
	normalizer *Normalizer
	logger     *logrus.Logger
}

// NewScoringService creates a new scoring service. The blacklist lookup is
// injected so the engine can be unit-tested with an in-memory blacklist.
func NewScoringService(
	cfg ScoringConfig,
	blacklist domain.BlacklistLookup,
	products domain.ProductRepository,
	matches domain.MatchRepository,
	violations domain.ViolationCloser,
	logger *logrus.Logger,
) *ScoringService {
	return &ScoringService{
		cfg:        cfg.withDefaults(),
		blacklist:  blacklist,
		products:   products,
		matches:    matches,
		violations: violations,
		normalizer: NewNormalizer(),
		logger:     logger,
	}
}

// Score computes the overall similarity between a catalog product and a
// competitor product and buckets it into a confidence tier. The boolean is
// false when the score falls below the reject threshold.
func (s *ScoringService) Score(catalog, competitor domain.CanonicalProduct) (float64, domain.ConfidenceLevel, bool) {
	semantic := s.semanticSimilarity(catalog.Title, competitor.Title)

	attribute := s.cfg.BrandWeight*s.brandScore(catalog.Vendor, competitor.Vendor) +
		s.cfg.TitleWeight*titleOverlap(catalog.Title, competitor.Title) +
		s.cfg.PriceWeight*s.priceProximity(catalog, competitor) +
		s.cfg.TypeWeight*typeAgreement(catalog.Type, competitor.Type)

	overall := s.cfg.SemanticWeight*semantic + s.cfg.AttributeWeight*attribute
	if overall > 1.0 {
		overall = 1.0
	}

	tier, ok := s.Tier(overall)
	return overall, tier, ok
}

// Tier buckets a score into a confidence level. Scores below the low
// threshold are rejected and never emitted as candidates.
func (s *ScoringService) Tier(score float64) (domain.ConfidenceLevel, bool) {
	switch {
	case score >= s.cfg.HighThreshold:
		return domain.ConfidenceHigh, true
	case score >= s.cfg.MediumThreshold:
		return domain.ConfidenceMedium, true
	case score >= s.cfg.LowThreshold:
		return domain.ConfidenceLow, true
	}
	return "", false
}

// MatchRunSummary reports the outcome of one batch matching pass.
type MatchRunSummary struct {
	CatalogProducts    int      `json:"catalog_products"`
	CompetitorProducts int      `json:"competitor_products"`
	PairsScored        int      `json:"pairs_scored"`
	CandidatesEmitted  int      `json:"candidates_emitted"`
	CandidatesRetired  int      `json:"candidates_retired"`
	PairsPruned        int      `json:"pairs_pruned"`
	Errors             []string `json:"errors,omitempty"`
}

// RunMatching scores every catalog product against every stored competitor
// product, prunes cheap non-matches first, and upserts candidate matches.
// Manual and verified matches are never re-scored; blacklisted pairs are
// never emitted. Failures on one pair do not abort the batch.
func (s *ScoringService) RunMatching(ctx context.Context) (*MatchRunSummary, error) {
	catalog, err := s.products.ListCatalogProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog products: %w", err)
	}
	competitors, err := s.products.ListAllCompetitorProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list competitor products: %w", err)
	}

	summary := &MatchRunSummary{
		CatalogProducts:    len(catalog),
		CompetitorProducts: len(competitors),
	}

	type canonicalCompetitor struct {
		product   *domain.CompetitorProduct
		canonical domain.CanonicalProduct
	}
	canonicals := make([]canonicalCompetitor, 0, len(competitors))
	for _, cp := range competitors {
		canonicals = append(canonicals, canonicalCompetitor{
			product:   cp,
			canonical: s.normalizer.NormalizeCompetitorProduct(cp),
		})
	}

	for _, catalogProduct := range catalog {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		catalogCanonical := s.normalizer.NormalizeCatalog(catalogProduct)
		if !catalogCanonical.Matchable {
			continue
		}

		for _, cc := range canonicals {
			if !cc.canonical.Matchable {
				continue
			}
			if s.prune(catalogCanonical, cc.canonical) {
				summary.PairsPruned++
				continue
			}

			if err := s.scorePair(ctx, catalogProduct, cc.product, catalogCanonical, cc.canonical, summary); err != nil {
				msg := fmt.Sprintf("pair catalog=%d competitor_product=%d: %v", catalogProduct.ID, cc.product.ID, err)
				s.logger.WithError(err).WithFields(logrus.Fields{
					"catalog_product_id":    catalogProduct.ID,
					"competitor_product_id": cc.product.ID,
				}).Warn("scoring pair failed")
				summary.Errors = append(summary.Errors, msg)
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"pairs_scored": summary.PairsScored,
		"candidates":   summary.CandidatesEmitted,
		"pruned":       summary.PairsPruned,
	}).Info("matching pass complete")

	return summary, nil
}

func (s *ScoringService) scorePair(
	ctx context.Context,
	catalogProduct *domain.CatalogProduct,
	competitorProduct *domain.CompetitorProduct,
	catalogCanonical, competitorCanonical domain.CanonicalProduct,
	summary *MatchRunSummary,
) error {
	// Manual and verified matches are pinned; the scoring pass must not
	// touch them.
	existing, err := s.matches.ActiveByPair(ctx, catalogProduct.ID, competitorProduct.ID)
	if err != nil {
		return err
	}
	if existing != nil && (existing.IsManualMatch || existing.Status != domain.MatchStatusPending) {
		return nil
	}

	blacklisted, err := s.blacklist.Contains(ctx, catalogProduct.ID, competitorProduct.ID)
	if err != nil {
		return err
	}
	if blacklisted {
		return nil
	}

	summary.PairsScored++
	score, tier, ok := s.Score(catalogCanonical, competitorCanonical)
	if !ok {
		// A pending candidate whose inputs changed may now fall below the
		// reject threshold; retire it instead of leaving the stale score
		if existing != nil {
			existing.Status = domain.MatchStatusDeleted
			if err := s.matches.Save(ctx, existing); err != nil {
				return err
			}
			if err := s.violations.CloseOpenByMatchID(ctx, existing.ID, violationClosedByLifecycle); err != nil {
				return err
			}
			summary.CandidatesRetired++
		}
		return nil
	}

	match := &domain.ProductMatch{
		CatalogProductID:    catalogProduct.ID,
		CompetitorProductID: competitorProduct.ID,
		OverallScore:        score,
		Confidence:          tier,
		Source:              domain.MatchSourceAuto,
		Status:              domain.MatchStatusPending,
	}
	if err := s.matches.UpsertCandidate(ctx, match); err != nil {
		return err
	}
	summary.CandidatesEmitted++
	return nil
}

// prune drops pairs that obviously cannot match before the more expensive
// scoring step: wildly different prices, or disjoint vendors with prices
// already outside the tolerance band.
func (s *ScoringService) prune(a, b domain.CanonicalProduct) bool {
	rel := relativePriceDiff(a, b)
	if rel > 0.75 {
		return true
	}
	if a.Vendor != "" && b.Vendor != "" && !sharesToken(a.Vendor, b.Vendor) && rel > s.cfg.PriceTolerance {
		return true
	}
	return false
}

// semanticSimilarity measures title similarity on normalized tokens: a
// weighted combination of catalog-token coverage, competitor-token coverage
// and Jaccard overlap, with near-miss tokens counted at reduced weight.
func (s *ScoringService) semanticSimilarity(titleA, titleB string) float64 {
	tokensA := tokenize(titleA)
	tokensB := tokenize(titleB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	matchedA := s.fuzzyCoverage(tokensA, tokensB)
	coverageA := matchedA / float64(len(tokensA))

	matchedB := s.fuzzyCoverage(tokensB, tokensA)
	coverageB := matchedB / float64(len(tokensB))

	exact, _ := findIntersection(tokensA, tokensB)
	union := findUnion(tokensA, tokensB)
	jaccard := float64(exact) / float64(union)

	return coverageA*0.60 + coverageB*0.20 + jaccard*0.20
}

// fuzzyCoverage counts how many tokens of want appear in have, counting
// near-misses (within the edit distance threshold) at reduced weight.
func (s *ScoringService) fuzzyCoverage(want, have []string) float64 {
	haveSet := make(map[string]bool, len(have))
	for _, t := range have {
		haveSet[t] = true
	}

	var covered float64
	for _, token := range want {
		if haveSet[token] {
			covered += 1.0
			continue
		}
		for _, other := range have {
			if fuzzyTokenMatch(token, other, s.cfg.FuzzyEditDistance) {
				covered += fuzzyWeightFactor
				break
			}
		}
	}
	return covered
}

// brandScore compares vendors: exact match scores full, a near-miss or
// shared token scores partially, both-unknown is neutral.
func (s *ScoringService) brandScore(vendorA, vendorB string) float64 {
	if vendorA == "" && vendorB == "" {
		return 0.5
	}
	if vendorA == "" || vendorB == "" {
		return 0.25
	}
	if vendorA == vendorB {
		return 1.0
	}
	if levenshteinDistance(vendorA, vendorB) <= s.cfg.FuzzyEditDistance {
		return 0.8
	}
	if sharesToken(vendorA, vendorB) {
		return 0.6
	}
	return 0
}

// titleOverlap is the exact-token Jaccard similarity of the two titles.
func titleOverlap(titleA, titleB string) float64 {
	tokensA := tokenize(titleA)
	tokensB := tokenize(titleB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	matched, _ := findIntersection(tokensA, tokensB)
	union := findUnion(tokensA, tokensB)
	return float64(matched) / float64(union)
}

// priceProximity scores closer prices higher. Within the tolerance band the
// score decays linearly from 1.0 to 0.25; beyond the band it keeps decaying
// toward zero with a flatter slope (diminishing returns).
func (s *ScoringService) priceProximity(a, b domain.CanonicalProduct) float64 {
	rel := relativePriceDiff(a, b)
	tol := s.cfg.PriceTolerance
	if rel <= tol {
		return 1.0 - (rel/tol)*0.75
	}
	tail := 0.25 - (rel-tol)*0.5
	if tail < 0 {
		return 0
	}
	return tail
}

// typeAgreement compares product types; unknown types are neutral rather
// than penalized.
func typeAgreement(typeA, typeB string) float64 {
	if typeA == "" || typeB == "" {
		return 0.5
	}
	if typeA == typeB {
		return 1.0
	}
	if strings.Contains(typeA, typeB) || strings.Contains(typeB, typeA) {
		return 0.7
	}
	return 0
}

func relativePriceDiff(a, b domain.CanonicalProduct) float64 {
	pa, _ := a.Price.Float64()
	pb, _ := b.Price.Float64()
	if pa <= 0 || pb <= 0 {
		return 1.0
	}
	diff := pa - pb
	if diff < 0 {
		diff = -diff
	}
	max := pa
	if pb > max {
		max = pb
	}
	return diff / max
}

// sharesToken reports whether the two strings share at least one token.
func sharesToken(a, b string) bool {
	setA := make(map[string]bool)
	for _, t := range strings.Fields(a) {
		setA[t] = true
	}
	for _, t := range strings.Fields(b) {
		if setA[t] {
			return true
		}
	}
	return false
}

// tokenize splits a normalized string into tokens, dropping stop words,
// single characters and pure numbers.
func tokenize(s string) []string {
	words := strings.Fields(s)

	var tokens []string
	for _, word := range words {
		if len(word) <= 1 {
			continue
		}
		if extendedStopWords[word] {
			continue
		}
		if isNumeric(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// fuzzyTokenMatch checks if two tokens are similar within the edit distance threshold
func fuzzyTokenMatch(token1, token2 string, threshold int) bool {
	if token1 == token2 {
		return true
	}

	// Only apply fuzzy matching to tokens > 4 chars to avoid false positives
	if len(token1) < 4 || len(token2) < 4 {
		return false
	}

	lenDiff := len(token1) - len(token2)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > threshold {
		return false
	}

	return levenshteinDistance(token1, token2) <= threshold
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	m := len(r1)
	n := len(r2)

	// Use two rows instead of full matrix for space efficiency
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[n]
}

// findIntersection returns the count of common tokens and the list of matched tokens
func findIntersection(tokens1, tokens2 []string) (int, []string) {
	set := make(map[string]bool)
	for _, t := range tokens1 {
		set[t] = true
	}

	var matched []string
	seen := make(map[string]bool)
	for _, t := range tokens2 {
		if set[t] && !seen[t] {
			matched = append(matched, t)
			seen[t] = true
		}
	}

	return len(matched), matched
}

// findUnion returns the count of unique tokens across both sets
func findUnion(tokens1, tokens2 []string) int {
	set := make(map[string]bool)
	for _, t := range tokens1 {
		set[t] = true
	}
	for _, t := range tokens2 {
		set[t] = true
	}
	return len(set)
}
