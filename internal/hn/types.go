// Package hn defines core types shared across subsystems.
package hn

import (
	"fmt"
	"time"
)

// ItemsPerPage is the number of ranked rows a full listing page carries.
const ItemsPerPage = 30

// BaseURL is the root of the crawled site.
const BaseURL = "https://news.ycombinator.com"

// PostID is the stable identifier assigned to an item by the source site.
type PostID int64

// ItemURL returns the canonical discussion URL for the post.
func (id PostID) ItemURL() string {
	return fmt.Sprintf("%s/item?id=%d", BaseURL, int64(id))
}

// ListingURL returns the URL of the ranked listing page (1-based).
func ListingURL(page int) string {
	return fmt.Sprintf("%s/news?p=%d", BaseURL, page)
}

// Post is the durable record kept for each distinct item ever observed.
type Post struct {
	ID                 PostID    `json:"id" db:"post_id"`
	Title              string    `json:"title" db:"title"`
	Author             string    `json:"author" db:"author"`
	URL                string    `json:"url" db:"url"`
	Link               *string   `json:"link,omitempty" db:"link"`
	PublicationMoment  time.Time `json:"publication_moment" db:"publication_moment"`
	LastSnapshotMoment time.Time `json:"last_snapshot_moment" db:"last_snapshot_moment"`
	WasAtFirstPage     bool      `json:"was_at_first_page" db:"was_at_first_page"`
}

// Observation is one ranked row extracted from a listing page.
// Rank is global across the run: (page-1)*ItemsPerPage + position.
type Observation struct {
	ID          PostID
	Title       string
	Author      string
	URL         string
	Link        string
	Rank        int
	Page        int
	PublishedAt *time.Time
}

// ObservationSet is the complete, in-memory result of one harvest run.
// All facts derived from it share the single SnapshotMoment.
type ObservationSet struct {
	SnapshotMoment  time.Time
	Observations    []Observation
	FirstPageCutoff int
	PagesFailed     []int
}

// FirstPage reports whether the observation falls within the first-page
// cutoff for this run.
func (s ObservationSet) FirstPage(o Observation) bool {
	return o.Rank <= s.FirstPageCutoff
}

// FirstPageCount returns how many observations qualify as first-page members.
func (s ObservationSet) FirstPageCount() int {
	n := 0
	for _, o := range s.Observations {
		if s.FirstPage(o) {
			n++
		}
	}
	return n
}

// UserPostFilter selects which of a user's posts a query returns.
type UserPostFilter string

// Supported user post filters.
const (
	FilterAll            UserPostFilter = "all"
	FilterWasAtFirstPage UserPostFilter = "was_at_first_page"
)

// ParseUserPostFilter validates a wire-level filter value. The filter is a
// required discriminated choice; anything unrecognized (including the empty
// string) is rejected.
func ParseUserPostFilter(s string) (UserPostFilter, error) {
	switch UserPostFilter(s) {
	case FilterAll:
		return FilterAll, nil
	case FilterWasAtFirstPage:
		return FilterWasAtFirstPage, nil
	default:
		return "", fmt.Errorf("%w: unknown filter %q", ErrInvalidFilter, s)
	}
}
