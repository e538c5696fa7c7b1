// Package postgres keeps a queryable catalog of ingested records in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/preprint-crawler/internal/ingest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for catalog rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Catalog upserts one row per (source, id) and one row per run.
type Catalog struct {
	pool  execCloser
	table string
}

// RunSummary is the row written when a run finishes.
type RunSummary struct {
	RunID      string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Records    int
	Errors     int
}

// NewCatalog creates a Postgres-backed Catalog using the provided config.
func NewCatalog(ctx context.Context, cfg Config) (*Catalog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	catalog, err := NewCatalogWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return catalog, nil
}

// NewCatalogWithPool constructs a catalog from an existing pool (primarily for testing).
func NewCatalogWithPool(pool execCloser, table string) (*Catalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Catalog{pool: pool, table: table}, nil
}

// Name labels the sink in logs and metrics.
func (c *Catalog) Name() string { return "postgres" }

// Close releases the underlying pool resources.
func (c *Catalog) Close() error {
	if c == nil || c.pool == nil {
		return nil
	}
	c.pool.Close()
	return nil
}

// Append upserts rec. A record re-ingested by a later run replaces the row.
func (c *Catalog) Append(ctx context.Context, rec ingest.Record) error {
	if c == nil || c.pool == nil {
		return fmt.Errorf("catalog is not configured")
	}
	if rec.Source == "" || rec.ID == "" {
		return fmt.Errorf("record source and id are required")
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	source,
	id,
	title,
	doi,
	published,
	file_type,
	length_chars,
	sections,
	clean_text_path,
	document,
	ingested_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now()
)
ON CONFLICT (source, id) DO UPDATE SET
	title = EXCLUDED.title,
	doi = EXCLUDED.doi,
	published = EXCLUDED.published,
	file_type = EXCLUDED.file_type,
	length_chars = EXCLUDED.length_chars,
	sections = EXCLUDED.sections,
	clean_text_path = EXCLUDED.clean_text_path,
	document = EXCLUDED.document,
	ingested_at = EXCLUDED.ingested_at`, c.table)

	args := []any{
		rec.Source,
		rec.ID,
		rec.Title,
		rec.DOI,
		rec.Date,
		rec.FileType,
		rec.LengthChars,
		rec.Sections,
		rec.CleanTextPath,
		doc,
	}
	if _, err := c.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// RecordRun writes the run summary into {table}_runs.
func (c *Catalog) RecordRun(ctx context.Context, run RunSummary) error {
	if c == nil || c.pool == nil {
		return fmt.Errorf("catalog is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s_runs (run_id, mode, started_at, finished_at, records, errors)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	records = EXCLUDED.records,
	errors = EXCLUDED.errors`, c.table)
	if _, err := c.pool.Exec(ctx, query,
		run.RunID, run.Mode, run.StartedAt, run.FinishedAt, run.Records, run.Errors,
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
