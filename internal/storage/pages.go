package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/priynshgupta/zentra-web-chatbot/internal/config"
)

// PageRecord is one crawled page's text as archived in SQL.
type PageRecord struct {
	WebsiteURL  string
	PageOrdinal int
	Content     string
	RetrievedAt time.Time
}

// SiteRecord summarises one finished crawl.
type SiteRecord struct {
	WebsiteURL  string
	Collection  string
	Industry    string
	WebsiteType string
	Pages       int
	CrawledAt   time.Time
}

// PageArchive persists crawl output for audit and re-indexing without
// re-crawling.
type PageArchive interface {
	SaveSite(ctx context.Context, site SiteRecord) error
	SavePage(ctx context.Context, page PageRecord) error
	Close() error
}

// SQLArchive is a PageArchive backed by database/sql, tested against
// PostgreSQL via lib/pq.
type SQLArchive struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLArchive opens the archive database, creating it when configured to.
func NewSQLArchive(cfg config.SQLConfig) (*SQLArchive, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	archive := &SQLArchive{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := archive.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return archive, nil
}

// SaveSite upserts the crawl summary row for a website.
func (s *SQLArchive) SaveSite(ctx context.Context, site SiteRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.withSchemaRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
        INSERT INTO crawl_sites (website_url, collection, industry, website_type, pages, crawled_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (website_url) DO UPDATE SET
            collection = EXCLUDED.collection,
            industry = EXCLUDED.industry,
            website_type = EXCLUDED.website_type,
            pages = EXCLUDED.pages,
            crawled_at = EXCLUDED.crawled_at
    `, site.WebsiteURL, site.Collection, site.Industry, site.WebsiteType, site.Pages, site.CrawledAt)
		return err
	})
}

// SavePage upserts one page of a website's corpus.
func (s *SQLArchive) SavePage(ctx context.Context, page PageRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.withSchemaRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
        INSERT INTO crawl_pages (website_url, page_ordinal, content, retrieved_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (website_url, page_ordinal) DO UPDATE SET
            content = EXCLUDED.content,
            retrieved_at = EXCLUDED.retrieved_at
    `, page.WebsiteURL, page.PageOrdinal, page.Content, page.RetrievedAt)
		return err
	})
}

func (s *SQLArchive) withSchemaRetry(ctx context.Context, exec func() error) error {
	if err := exec(); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := exec(); retryErr != nil {
				return fmt.Errorf("archive write: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("archive write: %w", err)
	}
	return nil
}

// Close closes the underlying DB connection.
func (s *SQLArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NoopArchive discards writes, used when no SQL database is configured.
type NoopArchive struct{}

func (NoopArchive) SaveSite(context.Context, SiteRecord) error { return nil }
func (NoopArchive) SavePage(context.Context, PageRecord) error { return nil }
func (NoopArchive) Close() error                               { return nil }

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func (s *SQLArchive) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crawl_sites (
		    website_url TEXT PRIMARY KEY,
		    collection TEXT NOT NULL,
		    industry TEXT,
		    website_type TEXT,
		    pages INT,
		    crawled_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS crawl_pages (
		    website_url TEXT,
		    page_ordinal INT,
		    content TEXT,
		    retrieved_at TIMESTAMPTZ,
		    PRIMARY KEY (website_url, page_ordinal)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_pages_retrieved_at ON crawl_pages (retrieved_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
