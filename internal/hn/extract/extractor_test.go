package extract

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hnwatch/hnwatch/internal/hn"
)

const listingPage = `<html><body><table>
<tr class="athing" id="37001">
  <td class="title"><span class="titleline">
    <a href="https://blog.example.com/post">A story about databases</a>
  </span></td>
</tr>
<tr>
  <td class="subtext">
    <a class="hnuser" href="user?id=alice">alice</a>
    <span class="age" title="2023-01-13T12:20:41 1673612441"><a href="item?id=37001">3 hours ago</a></span>
  </td>
</tr>
<tr class="athing" id="37002">
  <td class="title"><span class="titleline">
    <a href="item?id=37002">Ask HN: Self posts have no external link</a>
  </span></td>
</tr>
<tr>
  <td class="subtext">
    <a class="hnuser" href="user?id=bob">bob</a>
    <span class="age" title="2023-01-13T10:02:00"><a href="item?id=37002">5 hours ago</a></span>
  </td>
</tr>
<tr class="athing" id="37003">
  <td class="title"><span class="titleline">
    <a href="https://jobs.example.com">Example Corp is hiring</a>
  </span></td>
</tr>
<tr>
  <td class="subtext"><span class="age"><a href="item?id=37003">6 hours ago</a></span></td>
</tr>
</table></body></html>`

func TestExtractListingPage(t *testing.T) {
	t.Parallel()

	e := New(hn.ItemsPerPage)
	observations, err := e.Extract([]byte(listingPage), 1)
	require.NoError(t, err)
	require.Len(t, observations, 3)

	first := observations[0]
	require.Equal(t, hn.PostID(37001), first.ID)
	require.Equal(t, "A story about databases", first.Title)
	require.Equal(t, "alice", first.Author)
	require.Equal(t, hn.PostID(37001).ItemURL(), first.URL)
	require.Equal(t, "https://blog.example.com/post", first.Link)
	require.Equal(t, 1, first.Rank)
	require.Equal(t, 1, first.Page)
	require.NotNil(t, first.PublishedAt)
	require.Equal(t, time.Unix(1673612441, 0).UTC(), *first.PublishedAt)

	second := observations[1]
	require.Equal(t, "bob", second.Author)
	require.Empty(t, second.Link)
	require.NotNil(t, second.PublishedAt)
	require.Equal(t, time.Date(2023, 1, 13, 10, 2, 0, 0, time.UTC), *second.PublishedAt)

	// Job postings carry no submitter.
	third := observations[2]
	require.Equal(t, UnknownAuthor, third.Author)
	require.Nil(t, third.PublishedAt)
	require.Equal(t, 3, third.Rank)
}

func TestExtractRankOffsetsByPage(t *testing.T) {
	t.Parallel()

	e := New(hn.ItemsPerPage)
	observations, err := e.Extract([]byte(listingPage), 3)
	require.NoError(t, err)
	require.Len(t, observations, 3)
	require.Equal(t, 61, observations[0].Rank)
	require.Equal(t, 63, observations[2].Rank)
	require.Equal(t, 3, observations[0].Page)
}

func TestExtractEmptyPage(t *testing.T) {
	t.Parallel()

	e := New(hn.ItemsPerPage)
	observations, err := e.Extract([]byte("<html><body><table></table></body></html>"), 1)
	require.NoError(t, err)
	require.Empty(t, observations)
}

func TestExtractRowWithoutIDFails(t *testing.T) {
	t.Parallel()

	page := `<table><tr class="athing"><td class="title"><a href="x">t</a></td></tr></table>`
	e := New(hn.ItemsPerPage)
	_, err := e.Extract([]byte(page), 2)

	var extractErr *hn.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, 2, extractErr.Page)
}

func TestExtractRowWithoutTitleFails(t *testing.T) {
	t.Parallel()

	page := `<table><tr class="athing" id="99"><td class="title"></td></tr></table>`
	e := New(hn.ItemsPerPage)
	_, err := e.Extract([]byte(page), 1)

	var extractErr *hn.ExtractionError
	require.ErrorAs(t, err, &extractErr)
}

func TestExtractLegacyTitleMarkup(t *testing.T) {
	t.Parallel()

	page := `<table>
<tr class="athing" id="41"><td class="title"><a href="https://example.com">Legacy</a></td></tr>
<tr><td class="subtext"><a class="hnuser">carol</a></td></tr>
</table>`
	e := New(hn.ItemsPerPage)
	observations, err := e.Extract([]byte(page), 1)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	require.Equal(t, "Legacy", observations[0].Title)
	require.Equal(t, "carol", observations[0].Author)
}

func TestExtractManyRowsKeepsOrder(t *testing.T) {
	t.Parallel()

	var page string
	for i := 0; i < 30; i++ {
		page += fmt.Sprintf(`<tr class="athing" id="%d"><td class="title"><span class="titleline"><a href="item?id=%d">post %d</a></span></td></tr><tr><td class="subtext"><a class="hnuser">u%d</a></td></tr>`, 1000+i, 1000+i, i, i)
	}
	e := New(hn.ItemsPerPage)
	observations, err := e.Extract([]byte("<table>"+page+"</table>"), 2)
	require.NoError(t, err)
	require.Len(t, observations, 30)
	require.Equal(t, 31, observations[0].Rank)
	require.Equal(t, 60, observations[29].Rank)
}
