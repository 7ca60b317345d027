package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/internal/domain"
	"github.com/mapwatch/backend/internal/usecase"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	competitors domain.CompetitorRepository
	products    domain.ProductRepository
	scrape      *usecase.ScrapeService
	scoring     *usecase.ScoringService
	matches     *usecase.MatchService
	violations  *usecase.ViolationService
	logger      *logrus.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	competitors domain.CompetitorRepository,
	products domain.ProductRepository,
	scrape *usecase.ScrapeService,
	scoring *usecase.ScoringService,
	matches *usecase.MatchService,
	violations *usecase.ViolationService,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		competitors: competitors,
		products:    products,
		scrape:      scrape,
		scoring:     scoring,
		matches:     matches,
		violations:  violations,
		logger:      logger,
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "mapwatch-backend",
		"version": "1.0.0",
	})
}

// competitorRequest is the create/update payload for a competitor.
type competitorRequest struct {
	Name            string   `json:"name" binding:"required"`
	Domain          string   `json:"domain" binding:"required"`
	Strategy        string   `json:"scraping_strategy" binding:"required"`
	CollectionNames []string `json:"collection_names"`
	URLPatterns     []string `json:"url_patterns"`
	SearchTerms     []string `json:"search_terms"`
	ExcludePatterns []string `json:"exclude_patterns"`
	IsActive        *bool    `json:"is_active"`
}

// CreateCompetitor registers or updates a competitor configuration.
func (h *Handler) CreateCompetitor(c *gin.Context) {
	var req competitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strategy := domain.ScrapingStrategy(req.Strategy)
	if !strategy.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scraping_strategy must be collections, url_patterns or search_terms"})
		return
	}

	competitor := &domain.Competitor{
		Name:            req.Name,
		Domain:          req.Domain,
		Strategy:        strategy,
		CollectionNames: req.CollectionNames,
		URLPatterns:     req.URLPatterns,
		SearchTerms:     req.SearchTerms,
		ExcludePatterns: req.ExcludePatterns,
		IsActive:        true,
	}
	if req.IsActive != nil {
		competitor.IsActive = *req.IsActive
	}

	if err := h.competitors.Upsert(c.Request.Context(), competitor); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, competitor)
}

// ListCompetitors returns all configured competitors.
func (h *Handler) ListCompetitors(c *gin.Context) {
	competitors, err := h.competitors.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"competitors": competitors})
}

// GetCompetitor returns one competitor by id.
func (h *Handler) GetCompetitor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	competitor, err := h.competitors.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if competitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "competitor not found"})
		return
	}
	c.JSON(http.StatusOK, competitor)
}

// StartScrape launches a scrape job for one competitor and returns its id.
func (h *Handler) StartScrape(c *gin.Context) {
	var req struct {
		CompetitorID uint64 `json:"competitor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.scrape.StartScrape(c.Request.Context(), req.CompetitorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GetScrapeJob returns the live snapshot of a scrape job.
func (h *Handler) GetScrapeJob(c *gin.Context) {
	snapshot, err := h.scrape.Job(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// CancelScrapeJob cancels a running scrape job.
func (h *Handler) CancelScrapeJob(c *gin.Context) {
	if err := h.scrape.CancelJob(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// SyncCatalog pulls the merchant catalog feed into local storage.
func (h *Handler) SyncCatalog(c *gin.Context) {
	count, err := h.scrape.SyncCatalog(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products_synced": count})
}

// RunMatching scores all candidate pairs and upserts pending matches.
func (h *Handler) RunMatching(c *gin.Context) {
	summary, err := h.scoring.RunMatching(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListMatches returns a page of matches, optionally filtered by status.
func (h *Handler) ListMatches(c *gin.Context) {
	status := domain.MatchStatus(c.Query("status"))
	if status != "" && !status.Active() &&
		status != domain.MatchStatusRejected && status != domain.MatchStatusDeleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown match status"})
		return
	}

	page, pageSize := pagination(c)
	matches, total, err := h.matches.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matches":   matches,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CreateManualMatch inserts an operator-created match.
func (h *Handler) CreateManualMatch(c *gin.Context) {
	var req struct {
		CatalogProductID    uint64 `json:"catalog_id" binding:"required"`
		CompetitorProductID uint64 `json:"competitor_product_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	match, err := h.matches.CreateManual(c.Request.Context(), req.CatalogProductID, req.CompetitorProductID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, match)
}

// VerifyMatch confirms an auto match.
func (h *Handler) VerifyMatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	match, err := h.matches.Verify(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, match)
}

// RejectMatch unmatches a pair and blacklists it.
func (h *Handler) RejectMatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// Reason is optional; an empty or absent body is fine
	_ = c.ShouldBindJSON(&req)

	if err := h.matches.Reject(c.Request.Context(), id, req.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// DeleteMatch retires a match without blacklisting the pair.
func (h *Handler) DeleteMatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.matches.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ScanViolations runs a violation scan over all active matches.
func (h *Handler) ScanViolations(c *gin.Context) {
	summary, err := h.violations.Scan(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListViolations returns a page of violations, optionally filtered by
// resolved state.
func (h *Handler) ListViolations(c *gin.Context) {
	var resolved *bool
	if raw := c.Query("resolved"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolved must be a boolean"})
			return
		}
		resolved = &value
	}

	page, pageSize := pagination(c)
	violations, total, err := h.violations.List(c.Request.Context(), resolved, page, pageSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"violations": violations,
		"total":      total,
		"page":       page,
		"page_size":  pageSize,
	})
}

// ResolveViolation marks a violation resolved.
func (h *Handler) ResolveViolation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		ResolvedBy string `json:"resolved_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	violation, err := h.violations.Resolve(c.Request.Context(), id, req.ResolvedBy)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, violation)
}

// ViolationStatistics aggregates violations into time buckets.
func (h *Handler) ViolationStatistics(c *gin.Context) {
	filter := domain.ViolationStatsFilter{
		GroupBy:    c.Query("group_by"),
		Brand:      c.Query("brand"),
		Competitor: c.Query("competitor"),
	}
	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must be YYYY-MM-DD"})
			return
		}
		filter.StartDate = t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		filter.EndDate = t
	}

	buckets, err := h.violations.Stats(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// ExportViolations streams all violations as CSV.
func (h *Handler) ExportViolations(c *gin.Context) {
	var resolved *bool
	if raw := c.Query("resolved"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolved must be a boolean"})
			return
		}
		resolved = &value
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="violations.csv"`)
	if err := h.violations.ExportCSV(c.Request.Context(), c.Writer, resolved); err != nil {
		h.logger.WithError(err).Error("violation export failed")
	}
}

// respondError maps domain sentinel errors to HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrCompetitorNotFound),
		errors.Is(err, domain.ErrMatchNotFound),
		errors.Is(err, domain.ErrViolationNotFound),
		errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPairBlacklisted),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrJobNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSiteUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// pathID parses the :id path parameter, writing a 400 on failure.
func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// pagination reads page and page_size query params with sane bounds.
func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if err != nil || pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}
