package catalog

import (
	"context"
	"fmt"

	"github.com/hutchvm/hutch/internal/models"
)

// Host resolves image queries against an upstream catalog. Implementations
// are authoritative for the mapping from a release to the id, version and
// artifact locations of its current image.
type Host interface {
	InfoFor(ctx context.Context, query models.Query) (models.VMImageInfo, error)
}

// UnavailableError reports a transport-level failure talking to the
// catalog.
type UnavailableError struct {
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("catalog %q unavailable: %v", e.URL, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// NotFoundError reports that the catalog has no image matching the
// requested release.
type NotFoundError struct {
	Remote  string
	Release string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no image found for release %q on remote %q", e.Release, e.Remote)
}

// UnsupportedRemoteError reports a query referencing a remote the host does
// not know about.
type UnsupportedRemoteError struct {
	Remote string
}

func (e *UnsupportedRemoteError) Error() string {
	return fmt.Sprintf("unsupported remote %q", e.Remote)
}
