package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/config"
	"github.com/mapwatch/backend/internal/domain"
	"github.com/mapwatch/backend/internal/infrastructure/jobs"
	"github.com/mapwatch/backend/internal/usecase"
)

// TestMain sets up test environment before running tests
func TestMain(m *testing.M) {
	// Set Gin to test mode once for all tests
	gin.SetMode(gin.TestMode)

	os.Exit(m.Run())
}

// --- In-memory fakes for wiring real services behind the handler ---

type memCompetitorRepo struct {
	competitors []*domain.Competitor
}

func (r *memCompetitorRepo) Upsert(_ context.Context, c *domain.Competitor) error {
	if c.ID == 0 {
		c.ID = uint64(len(r.competitors) + 1)
	}
	r.competitors = append(r.competitors, c)
	return nil
}

func (r *memCompetitorRepo) GetByID(_ context.Context, id uint64) (*domain.Competitor, error) {
	for _, c := range r.competitors {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (r *memCompetitorRepo) List(_ context.Context) ([]*domain.Competitor, error) {
	return r.competitors, nil
}

func (r *memCompetitorRepo) StampScraped(_ context.Context, _ uint64) error { return nil }

type memProductRepo struct {
	catalog    []*domain.CatalogProduct
	competitor []*domain.CompetitorProduct
}

func (r *memProductRepo) UpsertCatalogProducts(_ context.Context, products []*domain.CatalogProduct) error {
	r.catalog = append(r.catalog, products...)
	return nil
}

func (r *memProductRepo) ListCatalogProducts(_ context.Context) ([]*domain.CatalogProduct, error) {
	return r.catalog, nil
}

func (r *memProductRepo) GetCatalogProduct(_ context.Context, id uint64) (*domain.CatalogProduct, error) {
	for _, p := range r.catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (r *memProductRepo) UpsertCompetitorProduct(_ context.Context, p *domain.CompetitorProduct) error {
	r.competitor = append(r.competitor, p)
	return nil
}

func (r *memProductRepo) ListCompetitorProducts(_ context.Context, _ uint64) ([]*domain.CompetitorProduct, error) {
	return r.competitor, nil
}

func (r *memProductRepo) ListAllCompetitorProducts(_ context.Context) ([]*domain.CompetitorProduct, error) {
	return r.competitor, nil
}

func (r *memProductRepo) GetCompetitorProduct(_ context.Context, id uint64) (*domain.CompetitorProduct, error) {
	for _, p := range r.competitor {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

type memMatchRepo struct {
	matches []*domain.ProductMatch
	nextID  uint64
}

func (r *memMatchRepo) UpsertCandidate(ctx context.Context, m *domain.ProductMatch) error {
	return r.Save(ctx, m)
}

func (r *memMatchRepo) Save(_ context.Context, m *domain.ProductMatch) error {
	if m.ID == 0 {
		r.nextID++
		m.ID = r.nextID
		r.matches = append(r.matches, m)
	}
	return nil
}

func (r *memMatchRepo) GetByID(_ context.Context, id uint64) (*domain.ProductMatch, error) {
	for _, m := range r.matches {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memMatchRepo) ActiveByPair(_ context.Context, catalogID, competitorProductID uint64) (*domain.ProductMatch, error) {
	for _, m := range r.matches {
		if m.CatalogProductID == catalogID && m.CompetitorProductID == competitorProductID && m.Status.Active() {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memMatchRepo) ListActive(_ context.Context) ([]*domain.ProductMatch, error) {
	var out []*domain.ProductMatch
	for _, m := range r.matches {
		if m.Status.Active() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMatchRepo) List(_ context.Context, status domain.MatchStatus, _, _ int) ([]*domain.ProductMatch, int64, error) {
	var out []*domain.ProductMatch
	for _, m := range r.matches {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	return out, int64(len(out)), nil
}

type memBlacklistRepo struct {
	pairs map[string]bool
}

func (r *memBlacklistRepo) key(a, b uint64) string { return fmt.Sprintf("%d:%d", a, b) }

func (r *memBlacklistRepo) Add(_ context.Context, e *domain.MatchBlacklist) error {
	r.pairs[r.key(e.CatalogProductID, e.CompetitorProductID)] = true
	return nil
}

func (r *memBlacklistRepo) Contains(_ context.Context, a, b uint64) (bool, error) {
	return r.pairs[r.key(a, b)], nil
}

type memViolationRepo struct {
	violations []*domain.Violation
	nextID     uint64
}

func (r *memViolationRepo) Save(_ context.Context, v *domain.Violation) error {
	if v.ID == 0 {
		r.nextID++
		v.ID = r.nextID
		r.violations = append(r.violations, v)
	}
	return nil
}

func (r *memViolationRepo) GetByID(_ context.Context, id uint64) (*domain.Violation, error) {
	for _, v := range r.violations {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (r *memViolationRepo) GetOpenByMatchID(_ context.Context, matchID uint64) (*domain.Violation, error) {
	for _, v := range r.violations {
		if v.MatchID == matchID && !v.Resolved {
			return v, nil
		}
	}
	return nil, nil
}

func (r *memViolationRepo) CloseOpenByMatchID(_ context.Context, matchID uint64, closedBy string) error {
	for _, v := range r.violations {
		if v.MatchID == matchID && !v.Resolved {
			v.Resolved = true
			v.ResolvedBy = closedBy
		}
	}
	return nil
}

func (r *memViolationRepo) List(_ context.Context, resolved *bool, page, pageSize int) ([]*domain.Violation, int64, error) {
	var filtered []*domain.Violation
	for _, v := range r.violations {
		if resolved == nil || v.Resolved == *resolved {
			filtered = append(filtered, v)
		}
	}
	start := (page - 1) * pageSize
	if start >= len(filtered) {
		return nil, int64(len(filtered)), nil
	}
	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], int64(len(filtered)), nil
}

func (r *memViolationRepo) Aggregate(_ context.Context, _ domain.ViolationStatsFilter) ([]domain.ViolationBucket, error) {
	return []domain.ViolationBucket{}, nil
}

type memFetcher struct{}

func (memFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrPageNotFound, url)
}

type memCatalogFeed struct{}

func (memCatalogFeed) FetchProducts(_ context.Context) ([]*domain.CatalogProduct, error) {
	return nil, nil
}

type testEnv struct {
	router      *gin.Engine
	competitors *memCompetitorRepo
	products    *memProductRepo
	matches     *memMatchRepo
	violations  *memViolationRepo
}

func setupTestEnv() *testEnv {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           "8080",
			Environment:    "test",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	competitors := &memCompetitorRepo{}
	products := &memProductRepo{}
	matches := &memMatchRepo{}
	blacklist := &memBlacklistRepo{pairs: make(map[string]bool)}
	violations := &memViolationRepo{}

	scrapeService := usecase.NewScrapeService(
		competitors, products, memCatalogFeed{}, memFetcher{}, jobs.NewManager(),
		usecase.ScrapeServiceConfig{}, logger,
	)
	scoringService := usecase.NewScoringService(
		usecase.DefaultScoringConfig(), blacklist, products, matches, violations, logger,
	)
	matchService := usecase.NewMatchService(matches, blacklist, violations, logger)
	violationService := usecase.NewViolationService(
		matches, products, violations, usecase.DefaultMAPSource{},
		usecase.DefaultViolationThresholds(), logger,
	)

	handler := NewHandler(competitors, products, scrapeService, scoringService,
		matchService, violationService, logger)

	return &testEnv{
		router:      SetupRouter(cfg, handler),
		competitors: competitors,
		products:    products,
		matches:     matches,
		violations:  violations,
	}
}

func doRequest(env *testEnv, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return response
}

func TestHealthCheckEndpoint(t *testing.T) {
	env := setupTestEnv()

	w := doRequest(env, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	response := decodeBody(t, w)
	if response["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", response["status"])
	}
	if response["service"] != "mapwatch-backend" {
		t.Errorf("service = %v, want mapwatch-backend", response["service"])
	}
}

func TestCompetitorEndpoints(t *testing.T) {
	t.Run("create competitor", func(t *testing.T) {
		env := setupTestEnv()

		payload := `{
			"name": "Rival Coffee",
			"domain": "rival.example.com",
			"scraping_strategy": "collections",
			"collection_names": ["Espresso Machines"]
		}`
		w := doRequest(env, "POST", "/api/v1/competitors", payload)
		if w.Code != http.StatusCreated {
			t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
		}
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		env := setupTestEnv()

		payload := `{"name": "X", "domain": "x.example.com", "scraping_strategy": "sitemap"}`
		w := doRequest(env, "POST", "/api/v1/competitors", payload)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("rejects missing required fields", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "POST", "/api/v1/competitors", `{"name": "No Domain"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("get unknown competitor", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "GET", "/api/v1/competitors/42", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("list competitors", func(t *testing.T) {
		env := setupTestEnv()
		env.competitors.Upsert(context.Background(), &domain.Competitor{Name: "A", Domain: "a.example.com"})

		w := doRequest(env, "GET", "/api/v1/competitors", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		response := decodeBody(t, w)
		if response["competitors"] == nil {
			t.Error("expected competitors field")
		}
	})
}

func TestScrapingEndpoints(t *testing.T) {
	t.Run("start scrape for unknown competitor", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "POST", "/api/v1/scraping/start-scrape", `{"competitor_id": 42}`)
		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("start scrape validates body", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "POST", "/api/v1/scraping/start-scrape", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "GET", "/api/v1/scraping/jobs/nope", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("cancel unknown job", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "POST", "/api/v1/scraping/jobs/nope/cancel", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func seedMatch(env *testEnv, status domain.MatchStatus) *domain.ProductMatch {
	match := &domain.ProductMatch{
		CatalogProductID:    1,
		CompetitorProductID: 10,
		OverallScore:        0.85,
		Confidence:          domain.ConfidenceHigh,
		Source:              domain.MatchSourceAuto,
		Status:              status,
	}
	env.matches.Save(context.Background(), match)
	return match
}

func TestMatchEndpoints(t *testing.T) {
	t.Run("verify pending match", func(t *testing.T) {
		env := setupTestEnv()
		match := seedMatch(env, domain.MatchStatusPending)

		w := doRequest(env, "POST", fmt.Sprintf("/api/v1/matches/%d/verify", match.ID), "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		response := decodeBody(t, w)
		if response["status"] != "verified" {
			t.Errorf("status = %v, want verified", response["status"])
		}
	})

	t.Run("verify unknown match", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "POST", "/api/v1/matches/999/verify", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("illegal transition maps to conflict", func(t *testing.T) {
		env := setupTestEnv()
		match := seedMatch(env, domain.MatchStatusRejected)

		w := doRequest(env, "POST", fmt.Sprintf("/api/v1/matches/%d/verify", match.ID), "")
		if w.Code != http.StatusConflict {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	t.Run("reject match", func(t *testing.T) {
		env := setupTestEnv()
		match := seedMatch(env, domain.MatchStatusPending)

		w := doRequest(env, "POST", fmt.Sprintf("/api/v1/matches/%d/reject", match.ID), `{"reason": "wrong product"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		if match.Status != domain.MatchStatusRejected {
			t.Errorf("match status = %s, want rejected", match.Status)
		}
	})

	t.Run("manual match on blacklisted pair maps to conflict", func(t *testing.T) {
		env := setupTestEnv()
		match := seedMatch(env, domain.MatchStatusPending)

		// Reject blacklists the pair; re-creating it manually must conflict
		doRequest(env, "POST", fmt.Sprintf("/api/v1/matches/%d/reject", match.ID), "")
		w := doRequest(env, "POST", "/api/v1/matches/manual", `{"catalog_id": 1, "competitor_product_id": 10}`)
		if w.Code != http.StatusConflict {
			t.Errorf("Status = %d, want %d: %s", w.Code, http.StatusConflict, w.Body.String())
		}
	})

	t.Run("create manual match", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "POST", "/api/v1/matches/manual", `{"catalog_id": 1, "competitor_product_id": 10}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
		}
		response := decodeBody(t, w)
		if response["status"] != "manual" {
			t.Errorf("status = %v, want manual", response["status"])
		}
	})

	t.Run("list matches filters by status", func(t *testing.T) {
		env := setupTestEnv()
		seedMatch(env, domain.MatchStatusPending)

		w := doRequest(env, "GET", "/api/v1/matches?status=pending", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		response := decodeBody(t, w)
		if response["total"] != float64(1) {
			t.Errorf("total = %v, want 1", response["total"])
		}
	})

	t.Run("list matches rejects unknown status", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "GET", "/api/v1/matches?status=bogus", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestViolationEndpoints(t *testing.T) {
	seedViolationFixture := func(env *testEnv) {
		mapPrice := decimal.NewFromInt(100)
		observed := decimal.NewFromInt(75)
		env.products.catalog = []*domain.CatalogProduct{{ID: 1, Title: "Grinder", Price: decimal.NewFromInt(110), MAPPrice: &mapPrice}}
		env.products.competitor = []*domain.CompetitorProduct{{ID: 10, CompetitorID: 1, Title: "Grinder", Price: &observed, URL: "https://r.example.com/p/g"}}
		seedMatch(env, domain.MatchStatusVerified)
	}

	t.Run("scan creates violations", func(t *testing.T) {
		env := setupTestEnv()
		seedViolationFixture(env)

		w := doRequest(env, "POST", "/api/v1/violations/scan", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		response := decodeBody(t, w)
		if response["created"] != float64(1) {
			t.Errorf("created = %v, want 1", response["created"])
		}
	})

	t.Run("resolve requires resolved_by", func(t *testing.T) {
		env := setupTestEnv()
		seedViolationFixture(env)
		doRequest(env, "POST", "/api/v1/violations/scan", "")

		w := doRequest(env, "POST", "/api/v1/violations/1/resolve", `{}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("resolve violation", func(t *testing.T) {
		env := setupTestEnv()
		seedViolationFixture(env)
		doRequest(env, "POST", "/api/v1/violations/scan", "")

		w := doRequest(env, "POST", "/api/v1/violations/1/resolve", `{"resolved_by": "ops@merchant.example"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		response := decodeBody(t, w)
		if response["resolved"] != true {
			t.Errorf("resolved = %v, want true", response["resolved"])
		}
	})

	t.Run("list filters by resolved flag", func(t *testing.T) {
		env := setupTestEnv()
		seedViolationFixture(env)
		doRequest(env, "POST", "/api/v1/violations/scan", "")

		w := doRequest(env, "GET", "/api/v1/violations?resolved=false", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		response := decodeBody(t, w)
		if response["total"] != float64(1) {
			t.Errorf("total = %v, want 1", response["total"])
		}
	})

	t.Run("statistics rejects bad group_by", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "GET", "/api/v1/violations/statistics?group_by=hour", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("statistics rejects bad dates", func(t *testing.T) {
		env := setupTestEnv()

		w := doRequest(env, "GET", "/api/v1/violations/statistics?start_date=tomorrow", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("export streams csv", func(t *testing.T) {
		env := setupTestEnv()
		seedViolationFixture(env)
		doRequest(env, "POST", "/api/v1/violations/scan", "")

		w := doRequest(env, "GET", "/api/v1/violations/export", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Errorf("Content-Type = %q, want text/csv", ct)
		}
		if !strings.HasPrefix(w.Body.String(), "violation_id,match_id") {
			t.Errorf("unexpected csv body: %s", w.Body.String())
		}
	})
}

func TestMatchingRunEndpoint(t *testing.T) {
	env := setupTestEnv()
	env.products.catalog = []*domain.CatalogProduct{{ID: 1, Title: "ECM Synchronika Espresso Machine", Vendor: "ECM", Price: decimal.NewFromInt(3199)}}
	observed := decimal.NewFromInt(3099)
	env.products.competitor = []*domain.CompetitorProduct{{ID: 10, CompetitorID: 1, Title: "ECM Synchronika Espresso Machine", Vendor: "ECM", Price: &observed, URL: "https://r.example.com/p/e"}}

	w := doRequest(env, "POST", "/api/v1/matching/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	response := decodeBody(t, w)
	if response["candidates_emitted"] != float64(1) {
		t.Errorf("candidates_emitted = %v, want 1", response["candidates_emitted"])
	}
}

func TestCORSIntegration(t *testing.T) {
	env := setupTestEnv()

	req, _ := http.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:3000")
	}
}
