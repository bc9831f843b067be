// Package layerstats implements LayerStats (spec.md §4.6): a concurrent
// accumulator of per-layer field types and zoom range, frozen into the
// MBTiles `json` metadata row's vector_layers structure once every
// producer has finished. Grounded on spec.md §3/§4.6 directly — field
// type merging must be commutative and associative under arbitrary
// thread interleaving (spec.md §8 invariant 3), which the merge table
// below satisfies: agreement keeps a field's type, any disagreement
// (even NUMBER vs BOOLEAN) escalates to STRING.
package layerstats

import (
	"sort"
	"sync"

	"github.com/tileforge-dev/tileforge/internal/model"
)

// FieldType is one attribute's merged MVT value type across every
// feature seen so far for a layer.
type FieldType uint8

const (
	FieldNumber FieldType = iota
	FieldBoolean
	FieldString
)

func fieldTypeOf(v model.Scalar) FieldType {
	switch {
	case v.IsString():
		return FieldString
	case v.IsBool():
		return FieldBoolean
	default:
		return FieldNumber
	}
}

// merge combines two observations of the same field's type. Agreement
// keeps the type; any disagreement (NUMBER vs BOOLEAN included) falls
// back to STRING, since a single MVT field can't vary its wire type.
func merge(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	return FieldString
}

// layerEntry is one layer's accumulated metadata.
type layerEntry struct {
	fields         map[string]FieldType
	minZoom        uint8
	maxZoom        uint8
	haveZoomBounds bool
}

// Stats is the thread-safe accumulator spec.md §4.6 names. The zero
// value is ready to use.
type Stats struct {
	mu     sync.Mutex
	layers map[string]*layerEntry
}

// Accept records one RenderedFeature's layer, attribute types, and
// tile's zoom level. Safe for concurrent use by any number of render
// workers.
func (s *Stats) Accept(f model.RenderedFeature, zoom uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.layers == nil {
		s.layers = map[string]*layerEntry{}
	}
	e, ok := s.layers[f.Layer]
	if !ok {
		e = &layerEntry{fields: map[string]FieldType{}}
		s.layers[f.Layer] = e
	}

	for k, v := range f.Attrs {
		t := fieldTypeOf(v)
		if existing, ok := e.fields[k]; ok {
			e.fields[k] = merge(existing, t)
		} else {
			e.fields[k] = t
		}
	}

	if !e.haveZoomBounds {
		e.minZoom, e.maxZoom = zoom, zoom
		e.haveZoomBounds = true
	} else {
		if zoom < e.minZoom {
			e.minZoom = zoom
		}
		if zoom > e.maxZoom {
			e.maxZoom = zoom
		}
	}
}

// VectorLayer is one frozen layer's metadata, the shape MbtilesWriter
// serializes into the `json` metadata row's `vector_layers` array.
type VectorLayer struct {
	Name    string
	Fields  map[string]FieldType
	MinZoom uint8
	MaxZoom uint8
}

// Freeze yields the final metadata structure. Must only be called after
// every producer (every render worker) has finished, per spec.md §4.6.
func (s *Stats) Freeze() []VectorLayer {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.layers))
	for name := range s.layers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]VectorLayer, 0, len(names))
	for _, name := range names {
		e := s.layers[name]
		out = append(out, VectorLayer{
			Name:    name,
			Fields:  e.fields,
			MinZoom: e.minZoom,
			MaxZoom: e.maxZoom,
		})
	}
	return out
}
