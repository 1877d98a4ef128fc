package hn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestItemURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://news.ycombinator.com/item?id=37001", PostID(37001).ItemURL())
}

func TestListingURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://news.ycombinator.com/news?p=1", ListingURL(1))
	require.Equal(t, "https://news.ycombinator.com/news?p=10", ListingURL(10))
}

func TestParseUserPostFilter(t *testing.T) {
	t.Parallel()

	filter, err := ParseUserPostFilter("all")
	require.NoError(t, err)
	require.Equal(t, FilterAll, filter)

	filter, err = ParseUserPostFilter("was_at_first_page")
	require.NoError(t, err)
	require.Equal(t, FilterWasAtFirstPage, filter)

	_, err = ParseUserPostFilter("")
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = ParseUserPostFilter("front_page")
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestFirstPageCutoff(t *testing.T) {
	t.Parallel()

	set := ObservationSet{
		FirstPageCutoff: 30,
		Observations: []Observation{
			{ID: 1, Rank: 1},
			{ID: 2, Rank: 30},
			{ID: 3, Rank: 31},
		},
	}

	require.True(t, set.FirstPage(set.Observations[0]))
	require.True(t, set.FirstPage(set.Observations[1]))
	require.False(t, set.FirstPage(set.Observations[2]))
	require.Equal(t, 2, set.FirstPageCount())
}
