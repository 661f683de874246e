// Package readmodel caches backend read models that are expensive to
// rebuild: the survey summary record, its analytics aggregate, the
// paginated response listings, and the tenant-level survey list. A
// completed generation run makes all of them stale at once, so the
// cache exposes a single per-survey invalidation consumed by the job
// status store.
package readmodel

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Cache struct {
	db *sql.DB
}

func NewCache(path string) (*Cache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	cache := &Cache{db: db}
	if err := cache.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) init(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := c.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := c.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, ch := range name {
		if ch < '0' || ch > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

func (c *Cache) PutSurveySummary(ctx context.Context, surveyID string, payload json.RawMessage) error {
	return c.putKeyed(ctx, "survey_summary", "survey_id", surveyID, payload)
}

func (c *Cache) GetSurveySummary(ctx context.Context, surveyID string) (json.RawMessage, bool, error) {
	return c.getKeyed(ctx, "survey_summary", "survey_id", surveyID)
}

func (c *Cache) PutAnalyticsAggregate(ctx context.Context, surveyID string, payload json.RawMessage) error {
	return c.putKeyed(ctx, "analytics_aggregate", "survey_id", surveyID, payload)
}

func (c *Cache) GetAnalyticsAggregate(ctx context.Context, surveyID string) (json.RawMessage, bool, error) {
	return c.getKeyed(ctx, "analytics_aggregate", "survey_id", surveyID)
}

func (c *Cache) PutTenantSurveyList(ctx context.Context, tenantID string, payload json.RawMessage) error {
	return c.putKeyed(ctx, "tenant_survey_list", "tenant_id", tenantID, payload)
}

func (c *Cache) GetTenantSurveyList(ctx context.Context, tenantID string) (json.RawMessage, bool, error) {
	return c.getKeyed(ctx, "tenant_survey_list", "tenant_id", tenantID)
}

func (c *Cache) PutResponsePage(ctx context.Context, surveyID string, page int, payload json.RawMessage) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO response_pages (survey_id, page, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(survey_id, page) DO UPDATE SET
			payload=excluded.payload,
			updated_at=excluded.updated_at`,
		surveyID,
		page,
		string(payload),
		time.Now().UTC(),
	)
	return err
}

func (c *Cache) GetResponsePage(ctx context.Context, surveyID string, page int) (json.RawMessage, bool, error) {
	var payload string
	err := c.db.QueryRowContext(
		ctx,
		`SELECT payload FROM response_pages WHERE survey_id = ? AND page = ?`,
		surveyID, page,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(payload), true, nil
}

// InvalidateSurvey drops every read model a completed run makes stale.
// Tenant survey lists embed per-survey response counts and there is no
// survey-to-tenant mapping cached locally, so they are dropped
// wholesale. Deleting absent rows is a no-op, which keeps repeated
// invalidation of the same survey harmless.
func (c *Cache) InvalidateSurvey(ctx context.Context, surveyID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin invalidation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []struct {
		query string
		args  []any
	}{
		{`DELETE FROM survey_summary WHERE survey_id = ?`, []any{surveyID}},
		{`DELETE FROM analytics_aggregate WHERE survey_id = ?`, []any{surveyID}},
		{`DELETE FROM response_pages WHERE survey_id = ?`, []any{surveyID}},
		{`DELETE FROM tenant_survey_list`, nil},
	} {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("invalidate survey %s: %w", surveyID, err)
		}
	}
	return tx.Commit()
}

func (c *Cache) putKeyed(ctx context.Context, table, keyColumn, key string, payload json.RawMessage) error {
	_, err := c.db.ExecContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (%s, payload, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(%s) DO UPDATE SET
			payload=excluded.payload,
			updated_at=excluded.updated_at`, table, keyColumn, keyColumn),
		key,
		string(payload),
		time.Now().UTC(),
	)
	return err
}

func (c *Cache) getKeyed(ctx context.Context, table, keyColumn, key string) (json.RawMessage, bool, error) {
	var payload string
	err := c.db.QueryRowContext(
		ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE %s = ?`, table, keyColumn),
		key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(payload), true, nil
}
