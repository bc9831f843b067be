// Package mvtenc serializes already-rendered tile layers into MVT 2.1
// protobuf blobs. FeatureRenderer (internal/render) has already projected,
// simplified, buffer-clipped, and quantized every feature's geometry to
// tile-local integer coordinates at the 4096 extent before the external
// sort, per spec.md §3 ("Geometry is stored pre-quantized... the sort
// keeps features of a tile together but does not inspect geometry"). So
// unlike the gotiler pipeline this package is grounded on — which calls
// Layer.Simplify/Clip/ProjectToTile at tile-write time against WGS84
// input — mvtenc skips straight to mvt.NewLayer and mvt.Marshal, handing
// the encoder geometry that is already in tile-pixel space.
package mvtenc

import (
	"bytes"
	"compress/gzip"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/tileforge-dev/tileforge/internal/model"
)

// Layer is one MVT layer's worth of already-grouped, already-quantized
// features, as produced by FeatureGroup (C5): every feature shares the
// same tile and layer name.
type Layer struct {
	Name     string
	Features []model.RenderedFeature
}

// EncodeTile serializes one tile's layers into a raw (non-gzipped) MVT
// 2.1 protobuf message using orb/encoding/mvt's wire encoder. Layers are
// written in the order given; within a layer, features are written in
// the order given — FeatureGroup already satisfies spec.md §8's
// invariant 2 (zOrder then featureId) before features reach here.
func EncodeTile(layers []Layer) ([]byte, error) {
	mvtLayers := make(mvt.Layers, 0, len(layers))
	for _, l := range layers {
		fc := geojson.NewFeatureCollection()
		for _, f := range l.Features {
			geom := toOrbGeometry(f.Geometry)
			if geom == nil {
				continue
			}
			gf := geojson.NewFeature(geom)
			gf.ID = f.FeatureID
			for k, v := range f.Attrs {
				gf.Properties[k] = scalarValue(v)
			}
			fc.Append(gf)
		}
		mvtLayers = append(mvtLayers, mvt.NewLayer(l.Name, fc))
	}
	return mvt.Marshal(mvtLayers)
}

// EncodeTileGzipped is EncodeTile followed by gzip compression at the
// given level, matching the teacher's pmtiles/convert.go pattern of a
// configurable gzip.NewWriterLevel rather than the library's own
// MarshalGzipped (which always uses gzip.DefaultCompression).
func EncodeTileGzipped(layers []Layer, level int) ([]byte, error) {
	raw, err := EncodeTile(layers)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(raw); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// scalarValue converts a model.Scalar to the interface{} geojson.Feature
// properties expects, preserving the int/float/bool/string distinction
// orb's value pool collapses onto MVT's typed Value message.
func scalarValue(s model.Scalar) interface{} {
	switch {
	case s.IsString():
		return s.String()
	case s.IsBool():
		return s.Bool()
	case s.IsInt():
		return s.Int()
	default:
		return s.Float()
	}
}

// toOrbGeometry converts already tile-local-quantized geometry into the
// orb.Geometry shape orb/encoding/mvt expects post-ProjectToTile: float64
// coordinates in 0..Extent tile-pixel space. Degenerate rings (fewer than
// 2 points for lines, fewer than 3 for polygon rings once any duplicated
// closing vertex is dropped) are skipped; a feature left with no
// geometry at all returns nil so the caller omits it.
func toOrbGeometry(g model.TileGeometry) orb.Geometry {
	switch g.Kind {
	case model.GeomPoint:
		return toOrbPoint(g.Rings)
	case model.GeomLineString:
		return toOrbLineString(g.Rings)
	case model.GeomPolygon, model.GeomMultiPolygon:
		return toOrbPolygon(g.Rings)
	default:
		return nil
	}
}

func toOrbPoint(rings [][]model.TilePoint) orb.Geometry {
	if len(rings) == 0 || len(rings[0]) == 0 {
		return nil
	}
	if len(rings[0]) == 1 && len(rings) == 1 {
		return tilePointToOrb(rings[0][0])
	}
	var mp orb.MultiPoint
	for _, ring := range rings {
		for _, p := range ring {
			mp = append(mp, tilePointToOrb(p))
		}
	}
	if len(mp) == 0 {
		return nil
	}
	return mp
}

func toOrbLineString(rings [][]model.TilePoint) orb.Geometry {
	var lines []orb.LineString
	for _, ring := range rings {
		if len(ring) < 2 {
			continue
		}
		lines = append(lines, tilePointsToOrbLine(ring))
	}
	switch len(lines) {
	case 0:
		return nil
	case 1:
		return lines[0]
	default:
		return orb.MultiLineString(lines)
	}
}

func toOrbPolygon(rings [][]model.TilePoint) orb.Geometry {
	var poly orb.Polygon
	for _, ring := range rings {
		r := closedRing(ring)
		if len(r) < 4 {
			continue
		}
		poly = append(poly, orb.Ring(tilePointsToOrbLine(r)))
	}
	if len(poly) == 0 {
		return nil
	}
	return poly
}

// closedRing ensures a ring's first and last points coincide, as orb's
// Ring type expects; FeatureRenderer's clip step may leave either form.
func closedRing(ring []model.TilePoint) []model.TilePoint {
	if len(ring) < 3 {
		return ring
	}
	if ring[0] == ring[len(ring)-1] {
		return ring
	}
	out := make([]model.TilePoint, len(ring)+1)
	copy(out, ring)
	out[len(ring)] = ring[0]
	return out
}

func tilePointsToOrbLine(pts []model.TilePoint) orb.LineString {
	ls := make(orb.LineString, len(pts))
	for i, p := range pts {
		ls[i] = tilePointToOrb(p)
	}
	return ls
}

func tilePointToOrb(p model.TilePoint) orb.Point {
	return orb.Point{float64(p.X), float64(p.Y)}
}
