package hn

import (
	"errors"
	"fmt"
)

// ErrInvalidFilter marks a malformed user post query at the transport
// boundary.
var ErrInvalidFilter = errors.New("invalid user post filter")

// ErrBusy is returned when a harvest run is requested while another run's
// reconciliation is still in flight. Writes are single-flight; callers
// retry later instead of interleaving.
var ErrBusy = errors.New("harvest run already in progress")

// NetworkError is a transient transport failure fetching one listing page.
// It is the only error class the orchestrator retries.
type NetworkError struct {
	Page int
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure on page %d: %v", e.Page, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ExtractionError reports a structural mismatch between the expected and
// actual page layout. It is never retried; the page is skipped with a
// warning and the run continues.
type ExtractionError struct {
	Page int
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failure on page %d: %v", e.Page, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// CrawlError is raised when a run produced nothing usable: every page
// failed, so no reconciliation is attempted.
type CrawlError struct {
	Pages int
	Err   error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("harvest run failed: all %d pages failed: %v", e.Pages, e.Err)
}

func (e *CrawlError) Unwrap() error { return e.Err }

// StorageError wraps a failed reconciliation transaction. The whole
// observation set was rolled back; the caller retries the run wholesale.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
