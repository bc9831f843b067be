package source

import (
	"context"

	"github.com/tileforge-dev/tileforge/internal/model"
)

// SliceReader is a trivially restartable Reader over an in-memory slice.
// Real PBF/shapefile parsers plug into this package's interface; SliceReader
// is what the engine's own tests and the CLI's demo profile use in place of
// one, since spec.md treats source parsing as an external collaborator.
type SliceReader struct {
	Features []model.SourceFeature
}

func (s *SliceReader) Open(_ context.Context) (Iterator, error) {
	return &sliceIterator{features: s.Features, pos: -1}, nil
}

type sliceIterator struct {
	features []model.SourceFeature
	pos      int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.features)
}

func (it *sliceIterator) Feature() model.SourceFeature { return it.features[it.pos] }
func (it *sliceIterator) Err() error                   { return nil }
func (it *sliceIterator) Close() error                 { return nil }
