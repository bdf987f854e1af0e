// Package store is the Index Store: a pre-built table of transaction records
// plus PAN and name link tables. The server opens it read-only and shares
// one handle across all requests; the index builder writes it offline.
package store

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/txsearch/pkg/errors"
)

// Filter selects records carrying any of the given canonical PANs or any of
// the given normalised names. An empty Filter selects nothing.
type Filter struct {
	PANs  []string
	Names []string
}

// Empty reports whether the filter has no keys.
func (f Filter) Empty() bool {
	return len(f.PANs) == 0 && len(f.Names) == 0
}

// Stats summarises the contents of an Index Store.
type Stats struct {
	Records   int64  `json:"records"`
	PANs      int64  `json:"pans"`
	Names     int64  `json:"names"`
	Files     int64  `json:"files"`
	BuiltAt   string `json:"built_at,omitempty"`
	SourceDir string `json:"source_dir,omitempty"`
}

// Store is the read side of the Index Store. Implementations are safe for
// concurrent use.
type Store interface {
	// Records returns up to limit matching records ordered by tx_id.
	Records(ctx context.Context, f Filter, limit int) ([]Record, error)
	// NamesForPAN returns up to n names most often seen with pan.
	NamesForPAN(ctx context.Context, pan string, n int) ([]string, error)
	// PANsForName returns up to n PANs seen with name, sorted.
	PANsForName(ctx context.Context, name string, n int) ([]string, error)
	// NamesByPhonetic returns up to n distinct names whose phonetic key is
	// one of keys, sorted.
	NamesByPhonetic(ctx context.Context, keys []string, n int) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// NotFoundError is returned by Open when the sqlite file does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("DB not found at %s", e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return apperrors.ErrStoreUnavailable
}

// IsNotFound reports whether err came from a missing store file.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
