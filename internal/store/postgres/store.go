// Package postgres provides the Postgres-backed snapshot ledger for
// deployments that outgrow the embedded default.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hnwatch/hnwatch/internal/hn"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the store needs; pgxmock
// implements it for tests.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool pgxPool
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
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
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const upsertPostSQL = `
INSERT INTO posts (post_id, title, author, url, link, publication_moment, last_snapshot_moment)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (post_id) DO UPDATE SET
    title = EXCLUDED.title,
    author = EXCLUDED.author,
    url = EXCLUDED.url,
    link = EXCLUDED.link,
    last_snapshot_moment = GREATEST(posts.last_snapshot_moment, EXCLUDED.last_snapshot_moment)`

const insertFactSQL = `
INSERT INTO first_page_posts (post_id, snapshot_moment, rank)
VALUES ($1, $2, $3)
ON CONFLICT (post_id, snapshot_moment) DO NOTHING`

// CommitSnapshot reconciles one observation set in a single transaction.
// Serialization of concurrent writers is left to Postgres row locking;
// the upserts are idempotent so a retried run converges to the same
// state.
func (s *Store) CommitSnapshot(ctx context.Context, set hn.ObservationSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &hn.StorageError{Op: "begin snapshot", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, obs := range set.Observations {
		publication := set.SnapshotMoment
		if obs.PublishedAt != nil {
			publication = *obs.PublishedAt
		}
		var link any
		if obs.Link != "" {
			link = obs.Link
		}
		if _, err := tx.Exec(ctx, upsertPostSQL,
			int64(obs.ID), obs.Title, obs.Author, obs.URL, link,
			publication.UTC(), set.SnapshotMoment.UTC(),
		); err != nil {
			return &hn.StorageError{Op: fmt.Sprintf("upsert post %d", obs.ID), Err: err}
		}
		if !set.FirstPage(obs) {
			continue
		}
		if _, err := tx.Exec(ctx, insertFactSQL,
			int64(obs.ID), set.SnapshotMoment.UTC(), obs.Rank,
		); err != nil {
			return &hn.StorageError{Op: fmt.Sprintf("insert membership fact %d", obs.ID), Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &hn.StorageError{Op: "commit snapshot", Err: err}
	}
	return nil
}

const topPostsSQL = `
SELECT p.post_id, p.title, p.author, p.url, p.link,
       p.publication_moment, p.last_snapshot_moment,
       TRUE AS was_at_first_page
FROM posts p
JOIN first_page_posts f
  ON f.post_id = p.post_id
 AND f.snapshot_moment = (SELECT MAX(snapshot_moment) FROM first_page_posts)
ORDER BY f.rank`

// TopPosts returns the members of the most recent snapshot in rank order.
func (s *Store) TopPosts(ctx context.Context) ([]hn.Post, error) {
	rows, err := s.pool.Query(ctx, topPostsSQL)
	if err != nil {
		return nil, &hn.StorageError{Op: "query top posts", Err: err}
	}
	return scanPosts(rows)
}

const userPostsSQL = `
SELECT post_id, title, author, url, link,
       publication_moment, last_snapshot_moment, was_at_first_page
FROM posts_with_first_page
WHERE author = $1
  AND ($2 OR was_at_first_page)
ORDER BY publication_moment`

// UserPosts returns the items authored by user, oldest first.
func (s *Store) UserPosts(ctx context.Context, user string, filter hn.UserPostFilter) ([]hn.Post, error) {
	includeAll := filter == hn.FilterAll
	rows, err := s.pool.Query(ctx, userPostsSQL, user, includeAll)
	if err != nil {
		return nil, &hn.StorageError{Op: "query user posts", Err: err}
	}
	return scanPosts(rows)
}

func scanPosts(rows pgx.Rows) ([]hn.Post, error) {
	defer rows.Close()
	posts := []hn.Post{}
	for rows.Next() {
		var (
			p    hn.Post
			id   int64
			link sql.NullString
		)
		if err := rows.Scan(
			&id, &p.Title, &p.Author, &p.URL, &link,
			&p.PublicationMoment, &p.LastSnapshotMoment, &p.WasAtFirstPage,
		); err != nil {
			return nil, &hn.StorageError{Op: "scan post row", Err: err}
		}
		p.ID = hn.PostID(id)
		if link.Valid {
			l := link.String
			p.Link = &l
		}
		p.PublicationMoment = p.PublicationMoment.UTC()
		p.LastSnapshotMoment = p.LastSnapshotMoment.UTC()
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &hn.StorageError{Op: "iterate post rows", Err: err}
	}
	return posts, nil
}
