// Package postgres provides a Postgres-backed article Sink.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "articles"

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// AutoMigrate creates the table on startup when it does not exist.
	AutoMigrate bool
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// Sink inserts articles keyed by URL. A unique constraint on url turns
// repeat inserts into no-ops, which is how duplicates are detected across
// runs and processes.
type Sink struct {
	pool  execCloser
	table string
}

// New connects a pool and returns a Sink.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Sink{pool: pool, table: table}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a Sink from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Ping checks that the database is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the articles table if needed.
func (s *Sink) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url          TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	title        TEXT NOT NULL,
	author       TEXT,
	published_at TIMESTAMPTZ,
	body         TEXT NOT NULL,
	markdown     TEXT,
	content_hash TEXT NOT NULL,
	fetched_at   TIMESTAMPTZ NOT NULL,
	run_id       TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Persist implements harvest.Sink.
func (s *Sink) Persist(ctx context.Context, article harvest.Article) (harvest.PersistStatus, error) {
	if article.URL == "" {
		return "", harvest.NewError(harvest.KindPersist, "insert article", fmt.Errorf("article url is required"))
	}
	query, args, err := s.insert(article)
	if err != nil {
		return "", harvest.NewError(harvest.KindPersist, "build insert", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return "", harvest.NewError(harvest.KindPersist, "insert article", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.PersistDuplicate, nil
	}
	return harvest.PersistAck, nil
}

func (s *Sink) insert(article harvest.Article) (string, []any, error) {
	var published any
	if !article.PublishedAt.IsZero() {
		published = article.PublishedAt
	}
	query, args, err := sq.Insert(s.table).
		Columns("url", "source", "title", "author", "published_at", "body", "markdown", "content_hash", "fetched_at", "run_id").
		Values(article.URL, article.Source, article.Title, article.Author, published, article.Body,
			article.Markdown, article.ContentHash, article.FetchedAt, article.RunID).
		Suffix("ON CONFLICT (url) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build insert: %w", err)
	}
	return query, args, nil
}
