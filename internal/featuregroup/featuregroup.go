// Package featuregroup implements FeatureGroup (spec.md §4.5): it reads
// the already-sorted RenderedFeature stream (internal/featuresort's
// Merge output) and yields Batch values, one per tileId, with features
// split by layer in sort order, group-key limits applied for label
// density, and optional identical-attribute geometry merging.
//
// Grounded on pmtiles/convert.go's Resolver.AddTileIsNew, an
// "accumulate while the incoming key is unchanged, flush on a
// transition" pattern over an already tile-id-ordered stream; adapted
// here from "identical tile bytes get RLE'd" to "identical tileId gets
// batched, identical attrs within a tile+layer may get merged".
package featuregroup

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/tileforge-dev/tileforge/internal/model"
)

// Batch is every RenderedFeature sharing one tileId, split by layer,
// each layer's slice preserving the incoming sort order (zOrder then
// featureId, per spec.md §4.4).
type Batch struct {
	TileID uint64
	Layers []LayerBatch
}

// LayerBatch is one output layer's features for one tile.
type LayerBatch struct {
	Name     string
	Features []model.RenderedFeature
}

// Grouper accumulates records from a sorted stream (one Accept call per
// record, in sortKey order) and calls Flush's callback once per
// completed tile.
type Grouper struct {
	// MergeAttrs enables spec.md §4.5's optional identical-attribute
	// adjacent-geometry merge (polygon union / line concatenation).
	// Off by default — merging is "optional per-profile".
	MergeAttrs bool

	current    uint64
	haveTile   bool
	byLayer    []LayerBatch
	layerIndex map[string]int
	groupSeen  map[groupKey]uint32
}

type groupKey struct {
	layer string
	key   uint64
}

// Accept feeds one record from the sorted stream. When tileId changes
// from the previous call, the prior tile's Batch is passed to emit
// first.
func (g *Grouper) Accept(f model.RenderedFeature, emit func(Batch) error) error {
	if g.haveTile && f.TileID != g.current {
		if err := g.flush(emit); err != nil {
			return err
		}
	}
	if !g.haveTile || f.TileID != g.current {
		g.current = f.TileID
		g.haveTile = true
		g.byLayer = nil
		g.layerIndex = map[string]int{}
		g.groupSeen = map[groupKey]uint32{}
	}

	if f.Group != nil {
		key := groupKey{layer: f.Layer, key: f.Group.Key}
		seen := g.groupSeen[key]
		if seen >= f.Group.Limit {
			return nil
		}
		g.groupSeen[key] = seen + 1
	}

	idx, ok := g.layerIndex[f.Layer]
	if !ok {
		idx = len(g.byLayer)
		g.layerIndex[f.Layer] = idx
		g.byLayer = append(g.byLayer, LayerBatch{Name: f.Layer})
	}
	g.byLayer[idx].Features = append(g.byLayer[idx].Features, f)
	return nil
}

// Close flushes any in-progress tile once the sorted stream is
// exhausted.
func (g *Grouper) Close(emit func(Batch) error) error {
	if !g.haveTile {
		return nil
	}
	return g.flush(emit)
}

func (g *Grouper) flush(emit func(Batch) error) error {
	layers := g.byLayer
	if g.MergeAttrs {
		layers = mergeIdenticalAttrs(layers)
	}
	batch := Batch{TileID: g.current, Layers: layers}
	g.haveTile = false
	return emit(batch)
}

// attrsHash content-hashes a feature's attribute map for merge-candidate
// detection, ignoring key order. Grounded on pmtiles/bucket.go's and
// pmtiles/sync.go's xxhash content-identity use.
func attrsHash(attrs map[string]model.Scalar) uint64 {
	if len(attrs) == 0 {
		return 0
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(attrs[k].String())
		_, _ = h.WriteString(";")
	}
	return h.Sum64()
}

// mergeIdenticalAttrs merges adjacent same-layer features whose
// attributes hash identically: polygons union (here: ring concatenation,
// since true polygon union needs a geometry-clipping library this
// package doesn't depend on), lines
// concatenate when endpoints coincide.
func mergeIdenticalAttrs(layers []LayerBatch) []LayerBatch {
	out := make([]LayerBatch, len(layers))
	for i, l := range layers {
		out[i] = LayerBatch{Name: l.Name, Features: mergeLayerFeatures(l.Features)}
	}
	return out
}

func mergeLayerFeatures(features []model.RenderedFeature) []model.RenderedFeature {
	if len(features) < 2 {
		return features
	}
	merged := make([]model.RenderedFeature, 0, len(features))
	cur := features[0]
	curHash := attrsHash(cur.Attrs)

	for _, f := range features[1:] {
		h := attrsHash(f.Attrs)
		if h == curHash && canConcat(cur, f) {
			cur = concat(cur, f)
			continue
		}
		merged = append(merged, cur)
		cur = f
		curHash = h
	}
	merged = append(merged, cur)
	return merged
}

func canConcat(a, b model.RenderedFeature) bool {
	if a.Geometry.Kind != b.Geometry.Kind {
		return false
	}
	switch a.Geometry.Kind {
	case model.GeomLineString:
		if len(a.Geometry.Rings) == 0 || len(b.Geometry.Rings) == 0 {
			return false
		}
		aEnd := a.Geometry.Rings[len(a.Geometry.Rings)-1]
		bStart := b.Geometry.Rings[0]
		if len(aEnd) == 0 || len(bStart) == 0 {
			return false
		}
		return aEnd[len(aEnd)-1] == bStart[0]
	case model.GeomPolygon, model.GeomMultiPolygon:
		return true
	default:
		return false
	}
}

func concat(a, b model.RenderedFeature) model.RenderedFeature {
	out := a
	out.Geometry.Rings = append(append([][]model.TilePoint{}, a.Geometry.Rings...), b.Geometry.Rings...)
	if a.Geometry.Kind == model.GeomPolygon || a.Geometry.Kind == model.GeomMultiPolygon {
		out.Geometry.Kind = model.GeomMultiPolygon
	}
	return out
}
