package main

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mapwatch/backend/config"
	httpDelivery "github.com/mapwatch/backend/internal/delivery/http"
	"github.com/mapwatch/backend/internal/infrastructure/catalog"
	"github.com/mapwatch/backend/internal/infrastructure/fetcher"
	"github.com/mapwatch/backend/internal/infrastructure/jobs"
	"github.com/mapwatch/backend/internal/infrastructure/postgres"
	"github.com/mapwatch/backend/internal/usecase"
)

func main() {
	// Load .env if present; real deployments use environment variables
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Server.Environment == "development" {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.WithFields(logrus.Fields{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
	}).Info("starting mapwatch backend")

	if err := ensureDatabaseExists(cfg.Database.DSN); err != nil {
		logger.WithError(err).Fatal("failed to ensure database exists")
	}

	db, err := postgres.Open(cfg.Database.DSN, postgres.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}

	// Repositories
	competitorRepo := postgres.NewCompetitorRepo(db)
	productRepo := postgres.NewProductRepo(db)
	matchRepo := postgres.NewMatchRepo(db)
	blacklistRepo := postgres.NewBlacklistRepo(db)
	violationRepo := postgres.NewViolationRepo(db)

	// Infrastructure
	pageFetcher := fetcher.NewClient(fetcher.Options{
		Timeout:           cfg.Scraper.FetchTimeout,
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		CacheTTL:          cfg.Scraper.FetchTimeout * 10,
	}, logger)
	catalogFeed := catalog.NewClient(cfg.Catalog.FeedURL, cfg.Catalog.APIKey, logger)
	jobManager := jobs.NewManager()

	// Usecase layer
	scrapeService := usecase.NewScrapeService(
		competitorRepo, productRepo, catalogFeed, pageFetcher, jobManager,
		usecase.ScrapeServiceConfig{
			Concurrency:       cfg.Scraper.Concurrency,
			MaxPagesPerTarget: cfg.Scraper.MaxPagesPerTarget,
		},
		logger,
	)
	scoringService := usecase.NewScoringService(
		usecase.ScoringConfig{
			SemanticWeight:  cfg.Scoring.SemanticWeight,
			AttributeWeight: cfg.Scoring.AttributeWeight,
			BrandWeight:     cfg.Scoring.BrandWeight,
			TitleWeight:     cfg.Scoring.TitleWeight,
			PriceWeight:     cfg.Scoring.PriceWeight,
			TypeWeight:      cfg.Scoring.TypeWeight,
			PriceTolerance:  cfg.Scoring.PriceTolerance,
			HighThreshold:   cfg.Scoring.HighThreshold,
			MediumThreshold: cfg.Scoring.MediumThreshold,
			LowThreshold:    cfg.Scoring.LowThreshold,
		},
		blacklistRepo, productRepo, matchRepo, violationRepo, logger,
	)
	matchService := usecase.NewMatchService(matchRepo, blacklistRepo, violationRepo, logger)
	violationService := usecase.NewViolationService(
		matchRepo, productRepo, violationRepo,
		usecase.DefaultMAPSource{},
		usecase.ViolationThresholds{
			MaterialityFloor:  cfg.Violations.MaterialityFloor,
			ModerateThreshold: cfg.Violations.ModerateThreshold,
			SevereThreshold:   cfg.Violations.SevereThreshold,
		},
		logger,
	)

	// Delivery layer
	handler := httpDelivery.NewHandler(
		competitorRepo, productRepo, scrapeService, scoringService,
		matchService, violationService, logger,
	)
	router := httpDelivery.SetupRouter(cfg, handler)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.WithField("addr", addr).Info("server listening")
	if err := router.Run(addr); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

// ensureDatabaseExists connects to the maintenance database and creates the
// target database when it is missing, so a fresh environment boots without
// manual setup.
func ensureDatabaseExists(dsn string) error {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return fmt.Errorf("dsn has no database name")
	}

	admin := *parsed
	admin.Path = "/postgres"
	adminDB, err := sql.Open("pgx", admin.String())
	if err != nil {
		return fmt.Errorf("connect to maintenance database: %w", err)
	}
	defer adminDB.Close()

	var exists bool
	err = adminDB.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check database existence: %w", err)
	}
	if exists {
		return nil
	}

	// Database names cannot be bound as parameters
	if _, err := adminDB.Exec(fmt.Sprintf(`CREATE DATABASE %q`, dbName)); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}
