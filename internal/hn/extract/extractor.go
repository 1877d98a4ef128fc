// Package extract parses ranked listing pages into observations.
// It is pure: raw bytes in, ordered observations out, no I/O.
package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hnwatch/hnwatch/internal/hn"
)

// UnknownAuthor is recorded when a row carries no submitter, which the
// site produces for job postings.
const UnknownAuthor = "unknown"

const (
	rowSelector    = "tr.athing"
	titleSelector  = "td.title span.titleline > a"
	authorSelector = "a.hnuser"
	ageSelector    = "span.age"
)

// ageLayout matches the timestamp carried in the age element's title
// attribute, e.g. "2023-01-13T12:20:41".
const ageLayout = "2006-01-02T15:04:05"

// Extractor turns one listing page into ranked observations.
type Extractor struct {
	perPage int
}

// New builds an Extractor. perPage controls how page numbers translate to
// global ranks; zero falls back to hn.ItemsPerPage.
func New(perPage int) *Extractor {
	if perPage <= 0 {
		perPage = hn.ItemsPerPage
	}
	return &Extractor{perPage: perPage}
}

// Extract parses the raw content of listing page `page` (1-based) and
// returns its observations in rank order. A structurally valid page with
// no rows yields an empty slice. A row missing its identifier or title
// anchor yields an ExtractionError; the caller decides whether to skip
// the page or abort the run.
func (e *Extractor) Extract(body []byte, page int) ([]hn.Observation, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &hn.ExtractionError{Page: page, Err: fmt.Errorf("parse html: %w", err)}
	}

	rows := doc.Find(rowSelector)
	observations := make([]hn.Observation, 0, rows.Length())
	var rowErr error

	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		obs, err := e.extractRow(row, page, i)
		if err != nil {
			rowErr = &hn.ExtractionError{Page: page, Err: err}
			return false
		}
		observations = append(observations, obs)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return observations, nil
}

func (e *Extractor) extractRow(row *goquery.Selection, page, position int) (hn.Observation, error) {
	rawID, ok := row.Attr("id")
	if !ok {
		return hn.Observation{}, fmt.Errorf("row %d has no id attribute", position)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return hn.Observation{}, fmt.Errorf("row %d has non-numeric id %q", position, rawID)
	}

	title := row.Find(titleSelector).First()
	if title.Length() == 0 {
		// Older markup lacks the titleline wrapper.
		title = row.Find("td.title > a").First()
	}
	if title.Length() == 0 {
		return hn.Observation{}, fmt.Errorf("row %d (id %s) has no title anchor", position, rawID)
	}
	titleText := strings.TrimSpace(title.Text())
	if titleText == "" {
		return hn.Observation{}, fmt.Errorf("row %d (id %s) has an empty title", position, rawID)
	}

	postID := hn.PostID(id)
	obs := hn.Observation{
		ID:    postID,
		Title: titleText,
		URL:   postID.ItemURL(),
		Rank:  (page-1)*e.perPage + position + 1,
		Page:  page,
	}

	if href, ok := title.Attr("href"); ok && isExternalLink(href) {
		obs.Link = href
	}

	// The submitter and age live in the subtext row that follows each
	// ranked row.
	subtext := row.Next()
	obs.Author = strings.TrimSpace(subtext.Find(authorSelector).First().Text())
	if obs.Author == "" {
		obs.Author = UnknownAuthor
	}
	if raw, ok := subtext.Find(ageSelector).First().Attr("title"); ok {
		if ts := parseAge(raw); ts != nil {
			obs.PublishedAt = ts
		}
	}
	return obs, nil
}

// parseAge handles both the bare layout and the newer "<layout> <unix>"
// form of the age title attribute.
func parseAge(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if idx := strings.IndexByte(raw, ' '); idx > 0 {
		if unix, err := strconv.ParseInt(raw[idx+1:], 10, 64); err == nil {
			t := time.Unix(unix, 0).UTC()
			return &t
		}
		raw = raw[:idx]
	}
	t, err := time.Parse(ageLayout, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func isExternalLink(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
}
