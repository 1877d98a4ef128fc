// Package sqlite implements the snapshot ledger on an embedded SQLite
// database. It is the default store: a single file, a single logical
// writer, and transactional reads that never observe a partial commit.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hnwatch/hnwatch/internal/hn"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sqlx.DB

	// writeMu serializes reconciliation transactions. SQLite has one
	// writer anyway; the mutex turns lock contention into queueing
	// instead of SQLITE_BUSY surfacing mid-transaction.
	writeMu sync.Mutex
}

// New opens (or creates) the database at path and runs migrations.
// Use ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps the in-memory variant coherent and
	// enforces the single-writer discipline at the pool level.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

const upsertPostSQL = `
INSERT INTO posts (post_id, title, author, url, link, publication_moment, last_snapshot_moment)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(post_id) DO UPDATE SET
    title = excluded.title,
    author = excluded.author,
    url = excluded.url,
    link = excluded.link,
    last_snapshot_moment = MAX(last_snapshot_moment, excluded.last_snapshot_moment)
`

const insertFactSQL = `
INSERT INTO first_page_posts (post_id, snapshot_moment, rank)
VALUES (?, ?, ?)
ON CONFLICT(post_id, snapshot_moment) DO NOTHING
`

// CommitSnapshot reconciles one observation set inside a single
// transaction. The upsert leaves publication_moment untouched for known
// posts; membership facts are append-only and idempotent per
// (post, snapshot_moment) pair.
func (s *Store) CommitSnapshot(ctx context.Context, set hn.ObservationSet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &hn.StorageError{Op: "begin snapshot", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for _, obs := range set.Observations {
		publication := set.SnapshotMoment
		if obs.PublishedAt != nil {
			publication = *obs.PublishedAt
		}
		var link any
		if obs.Link != "" {
			link = obs.Link
		}
		if _, err := tx.ExecContext(ctx, upsertPostSQL,
			int64(obs.ID), obs.Title, obs.Author, obs.URL, link,
			publication.UTC(), set.SnapshotMoment.UTC(),
		); err != nil {
			return &hn.StorageError{Op: fmt.Sprintf("upsert post %d", obs.ID), Err: err}
		}

		if !set.FirstPage(obs) {
			continue
		}
		if _, err := tx.ExecContext(ctx, insertFactSQL,
			int64(obs.ID), set.SnapshotMoment.UTC(), obs.Rank,
		); err != nil {
			return &hn.StorageError{Op: fmt.Sprintf("insert membership fact %d", obs.ID), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &hn.StorageError{Op: "commit snapshot", Err: err}
	}
	return nil
}

const topPostsSQL = `
SELECT
    p.post_id, p.title, p.author, p.url, p.link,
    p.publication_moment, p.last_snapshot_moment,
    1 AS was_at_first_page
FROM posts p
JOIN first_page_posts f
    ON f.post_id = p.post_id
   AND f.snapshot_moment = (SELECT MAX(snapshot_moment) FROM first_page_posts)
ORDER BY f.rank
`

// TopPosts returns the members of the most recent snapshot in the rank
// order recorded for that run.
func (s *Store) TopPosts(ctx context.Context) ([]hn.Post, error) {
	rows, err := s.db.QueryxContext(ctx, topPostsSQL)
	if err != nil {
		return nil, &hn.StorageError{Op: "query top posts", Err: err}
	}
	return scanPosts(rows)
}

const userPostsSQL = `
SELECT post_id, title, author, url, link,
       publication_moment, last_snapshot_moment, was_at_first_page
FROM posts_with_first_page
WHERE author = ?
  AND (? OR was_at_first_page)
ORDER BY publication_moment
`

// UserPosts returns the items authored by user, oldest first. With the
// first-page filter only items holding at least one membership fact
// (from any snapshot) qualify.
func (s *Store) UserPosts(ctx context.Context, user string, filter hn.UserPostFilter) ([]hn.Post, error) {
	includeAll := filter == hn.FilterAll
	rows, err := s.db.QueryxContext(ctx, userPostsSQL, user, includeAll)
	if err != nil {
		return nil, &hn.StorageError{Op: "query user posts", Err: err}
	}
	return scanPosts(rows)
}

func scanPosts(rows *sqlx.Rows) ([]hn.Post, error) {
	defer rows.Close()
	posts := []hn.Post{}
	for rows.Next() {
		var (
			p    hn.Post
			link sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.Title, &p.Author, &p.URL, &link,
			&p.PublicationMoment, &p.LastSnapshotMoment, &p.WasAtFirstPage,
		); err != nil {
			return nil, &hn.StorageError{Op: "scan post row", Err: err}
		}
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
