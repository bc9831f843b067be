// Package source defines the SourceReaders interface the engine consumes
// (spec.md §2 C2, §4.2). Parsing PBF/shapefile/SQLite is an external
// collaborator; this package specifies only the narrow contract the
// pipeline core depends on, plus minimal restartable stub readers that
// satisfy it so the engine and its tests do not need a real parser wired
// in to exercise the pipeline end to end.
package source

import (
	"context"

	"github.com/tileforge-dev/tileforge/internal/model"
)

// Reader streams a finite sequence of SourceFeature. Implementations must
// be restartable from offset zero (spec.md §4.2: "used for pass-1 vs
// pass-2 replay over the same PBF"); Shapefile and Natural Earth readers
// are single-pass and so only ever used once, in the AuxReaders stage
// that runs before pass-2.
type Reader interface {
	// Open returns a fresh iteration starting at the beginning of the
	// source. Calling Open again (after Close) must replay the same
	// sequence in the same order.
	Open(ctx context.Context) (Iterator, error)
}

// Iterator yields SourceFeature values in source file order, as spec.md §5
// requires ("pass-2 requires the same ordering within a single OSM file so
// relation member resolution is deterministic").
type Iterator interface {
	// Next advances to the next feature, returning false at end of stream
	// or on error (check Err after a false return).
	Next() bool
	// Feature returns the feature last positioned to by Next.
	Feature() model.SourceFeature
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// Filter wraps a Reader, only yielding features whose Kind is in kinds.
// Pass-1 uses this to restrict the main OSM reader to nodes only.
func Filter(r Reader, kinds ...model.SourceKind) Reader {
	allow := make(map[model.SourceKind]bool, len(kinds))
	for _, k := range kinds {
		allow[k] = true
	}
	return &filterReader{inner: r, allow: allow}
}

type filterReader struct {
	inner Reader
	allow map[model.SourceKind]bool
}

func (f *filterReader) Open(ctx context.Context) (Iterator, error) {
	it, err := f.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &filterIterator{inner: it, allow: f.allow}, nil
}

type filterIterator struct {
	inner Iterator
	allow map[model.SourceKind]bool
}

func (f *filterIterator) Next() bool {
	for f.inner.Next() {
		if f.allow[f.inner.Feature().Kind] {
			return true
		}
	}
	return false
}

func (f *filterIterator) Feature() model.SourceFeature { return f.inner.Feature() }
func (f *filterIterator) Err() error                   { return f.inner.Err() }
func (f *filterIterator) Close() error                 { return f.inner.Close() }
