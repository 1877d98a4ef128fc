package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hnwatch/hnwatch/internal/hn"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func observation(id int64, author string, rank int) hn.Observation {
	return hn.Observation{
		ID:     hn.PostID(id),
		Title:  "post " + author,
		Author: author,
		URL:    hn.PostID(id).ItemURL(),
		Rank:   rank,
		Page:   (rank-1)/hn.ItemsPerPage + 1,
	}
}

func snapshot(moment time.Time, cutoff int, observations ...hn.Observation) hn.ObservationSet {
	return hn.ObservationSet{
		SnapshotMoment:  moment,
		FirstPageCutoff: cutoff,
		Observations:    observations,
	}
}

func TestCommitSnapshotAndTopPosts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	moment := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	set := snapshot(moment, 2,
		observation(1, "alice", 1),
		observation(2, "bob", 2),
		observation(3, "carol", 3),
	)
	require.NoError(t, s.CommitSnapshot(ctx, set))

	top, err := s.TopPosts(ctx)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, hn.PostID(1), top[0].ID)
	require.Equal(t, hn.PostID(2), top[1].ID)
	require.True(t, top[0].WasAtFirstPage)
	require.Equal(t, moment, top[0].LastSnapshotMoment)
}

func TestTopPostsEmptyBeforeFirstRun(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	top, err := s.TopPosts(context.Background())
	require.NoError(t, err)
	require.Empty(t, top)
}

func TestTopPostsReflectsLatestSnapshotOnly(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	// At t1 posts A and B hold the first page. At t2, A stays, B drops
	// off, C appears.
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t1, 2,
		observation(1, "alice", 1),
		observation(2, "bob", 2),
	)))
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t2, 2,
		observation(1, "alice", 1),
		observation(3, "carol", 2),
		observation(2, "bob", 40),
	)))

	top, err := s.TopPosts(ctx)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, hn.PostID(1), top[0].ID)
	require.Equal(t, hn.PostID(3), top[1].ID)

	// B keeps its historical membership even though it left the page.
	posts, err := s.UserPosts(ctx, "bob", hn.FilterWasAtFirstPage)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, hn.PostID(2), posts[0].ID)
	require.True(t, posts[0].WasAtFirstPage)
	require.Equal(t, t2, posts[0].LastSnapshotMoment)
}

func TestCommitSnapshotIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	moment := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	set := snapshot(moment, 2, observation(1, "alice", 1))

	require.NoError(t, s.CommitSnapshot(ctx, set))
	require.NoError(t, s.CommitSnapshot(ctx, set))

	top, err := s.TopPosts(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1)

	posts, err := s.UserPosts(ctx, "alice", hn.FilterAll)
	require.NoError(t, err)
	require.Len(t, posts, 1)
}

func TestMembershipFactsAccumulateAcrossRuns(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// On the page at run 1, off at run 2, back at run 3.
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(base, 2,
		observation(7, "dora", 1))))
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(base.Add(10*time.Minute), 2,
		observation(7, "dora", 50))))
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(base.Add(20*time.Minute), 2,
		observation(7, "dora", 2))))

	var facts int
	require.NoError(t, s.db.Get(&facts,
		"SELECT COUNT(*) FROM first_page_posts WHERE post_id = 7"))
	require.Equal(t, 2, facts)

	top, err := s.TopPosts(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, hn.PostID(7), top[0].ID)
}

func TestUserPostsFilterIsSubsetOfAll(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	moment := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CommitSnapshot(ctx, snapshot(moment, 1,
		observation(1, "alice", 1),
		observation(2, "alice", 2),
		observation(3, "bob", 3),
	)))

	all, err := s.UserPosts(ctx, "alice", hn.FilterAll)
	require.NoError(t, err)
	require.Len(t, all, 2)

	filtered, err := s.UserPosts(ctx, "alice", hn.FilterWasAtFirstPage)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, hn.PostID(1), filtered[0].ID)

	none, err := s.UserPosts(ctx, "nobody", hn.FilterAll)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUserPostsOrderedByPublication(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	moment := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	older := moment.Add(-3 * time.Hour)
	newer := moment.Add(-1 * time.Hour)

	a := observation(1, "alice", 1)
	a.PublishedAt = &newer
	b := observation(2, "alice", 2)
	b.PublishedAt = &older

	require.NoError(t, s.CommitSnapshot(ctx, snapshot(moment, 2, a, b)))

	posts, err := s.UserPosts(ctx, "alice", hn.FilterAll)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, hn.PostID(2), posts[0].ID)
	require.Equal(t, older, posts[0].PublicationMoment)
	require.Equal(t, hn.PostID(1), posts[1].ID)
}

func TestPublicationMomentImmutableAfterFirstSighting(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t1, 2, observation(9, "erin", 1))))

	// A later run carries an explicit published-at; the recorded
	// publication moment must not move.
	later := observation(9, "erin", 1)
	later.PublishedAt = &t2
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t2, 2, later)))

	posts, err := s.UserPosts(ctx, "erin", hn.FilterAll)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, t1, posts[0].PublicationMoment)
	require.Equal(t, t2, posts[0].LastSnapshotMoment)
}

func TestUpsertRefreshesMutableFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	first := observation(5, "frank", 1)
	first.Title = "original title"
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t1, 2, first)))

	second := observation(5, "frank", 1)
	second.Title = "edited title"
	second.Link = "https://example.com/updated"
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t2, 2, second)))

	posts, err := s.UserPosts(ctx, "frank", hn.FilterAll)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "edited title", posts[0].Title)
	require.NotNil(t, posts[0].Link)
	require.Equal(t, "https://example.com/updated", *posts[0].Link)
	require.Equal(t, t2, posts[0].LastSnapshotMoment)
}

func TestTopPostsFollowsLatestFacts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	// T1: item 1 within the cutoff, item 2 outside it.
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t1, 10,
		observation(1, "alice", 1),
		observation(2, "bob", 11),
	)))
	// T2: item 2 climbs inside the cutoff; item 1 is not observed.
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t2, 10,
		observation(2, "bob", 3),
	)))

	top, err := s.TopPosts(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, hn.PostID(2), top[0].ID)

	posts, err := s.UserPosts(ctx, "bob", hn.FilterWasAtFirstPage)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, hn.PostID(2), posts[0].ID)

	// Item 1 was only ever a member at T1 and stays queryable that way.
	posts, err = s.UserPosts(ctx, "alice", hn.FilterWasAtFirstPage)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, hn.PostID(1), posts[0].ID)
}

func TestCommitSnapshotRollsBackWholeSet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	moment := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Sabotage the fact table so the second statement of the
	// transaction fails; the upserted post must roll back with it.
	_, err := s.db.Exec("DROP VIEW posts_with_first_page")
	require.NoError(t, err)
	_, err = s.db.Exec("DROP TABLE first_page_posts")
	require.NoError(t, err)

	err = s.CommitSnapshot(ctx, snapshot(moment, 2, observation(6, "hank", 1)))
	var storageErr *hn.StorageError
	require.ErrorAs(t, err, &storageErr)

	var count int
	require.NoError(t, s.db.Get(&count, "SELECT COUNT(*) FROM posts"))
	require.Zero(t, count)
}

func TestLastSnapshotMomentNeverRegresses(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-10 * time.Minute)

	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t1, 2, observation(4, "gail", 1))))
	// A stale run committed out of order must not pull the moment back.
	require.NoError(t, s.CommitSnapshot(ctx, snapshot(t0, 2, observation(4, "gail", 1))))

	posts, err := s.UserPosts(ctx, "gail", hn.FilterAll)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, t1, posts[0].LastSnapshotMoment)
}
