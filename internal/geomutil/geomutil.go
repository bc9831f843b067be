// Package geomutil implements the geometric legs of FeatureRenderer's
// per-zoom pipeline (spec.md §4.3 steps 1-4): project to Web Mercator,
// simplify, buffer-clip to a tile, and quantize to tile-local integer
// coordinates. It wraps github.com/paulmach/orb's project/simplify/clip/
// maptile/tilecover subpackages the way pmtiles/bitmap.go and
// joeblew999-plat-geo's gotiler.go compose them, adapted to hand back
// already-quantized geometry instead of mutating an mvt.Layer in place.
package geomutil

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/simplify"

	"github.com/tileforge-dev/tileforge/internal/model"
)

// ToMercator projects WGS84 geometry to Web Mercator meters, spec.md §4.3
// step 1's "project geometry to Web Mercator".
func ToMercator(g orb.Geometry) orb.Geometry {
	return project.Geometry(g, project.WGS84.ToMercator)
}

// Simplify applies Douglas-Peucker simplification at the given Mercator-
// meter tolerance, spec.md §4.3 step 2. A zero or negative tolerance is a
// no-op (full detail), matching the teacher-adjacent gotiler's "epsilon >
// 0" guard.
func Simplify(g orb.Geometry, tolerance float64) orb.Geometry {
	if tolerance <= 0 {
		return g
	}
	return simplify.DouglasPeucker(tolerance).Simplify(g)
}

// ZoomTolerance converts a pixel tolerance at zoom z (spec.md §4.3's
// τ(z) = 0.0625 px default) into Mercator-meter units, since Simplify
// operates on Mercator-projected geometry, not tile pixels.
func ZoomTolerance(z uint8, pxTolerance float64) float64 {
	return pxTolerance * metersPerPixel(z)
}

func metersPerPixel(z uint8) float64 {
	const earthCircumference = 2 * 3.14159265358979323846 * 6378137.0
	tiles := float64(uint64(1) << z)
	return earthCircumference / (tiles * float64(model.Extent))
}

// TilesForGeometry returns every (x,y) tile at zoom z whose buffered
// bounds intersect g's bounds, spec.md §4.3 step 3's tile-membership
// rule. g must already be in Mercator; bufferPx is converted to Mercator
// meters via ZoomTolerance's pixel scale.
func TilesForGeometry(g orb.Geometry, z uint8, bufferPx float64) ([]maptile.Tile, error) {
	bound := g.Bound()
	buf := bufferPx * metersPerPixel(z)
	bound = orb.Bound{
		Min: orb.Point{bound.Min[0] - buf, bound.Min[1] - buf},
		Max: orb.Point{bound.Max[0] + buf, bound.Max[1] + buf},
	}
	wgs84Bound := orb.Bound{
		Min: project.Mercator.ToWGS84(bound.Min),
		Max: project.Mercator.ToWGS84(bound.Max),
	}
	if wgs84Bound.Min[0] == wgs84Bound.Max[0] || wgs84Bound.Min[1] == wgs84Bound.Max[1] {
		// A zero-area bound has no ring for tilecover to rasterize, so
		// take the tile range between its corners directly.
		lo := maptile.At(orb.Point{wgs84Bound.Min[0], wgs84Bound.Max[1]}, maptile.Zoom(z))
		hi := maptile.At(orb.Point{wgs84Bound.Max[0], wgs84Bound.Min[1]}, maptile.Zoom(z))
		var out []maptile.Tile
		for x := lo.X; x <= hi.X; x++ {
			for y := lo.Y; y <= hi.Y; y++ {
				out = append(out, maptile.New(x, y, maptile.Zoom(z)))
			}
		}
		return out, nil
	}

	tiles, err := tilecover.Geometry(boundRing(wgs84Bound), maptile.Zoom(z))
	if err != nil {
		return nil, err
	}
	out := make([]maptile.Tile, 0, len(tiles))
	for t := range tiles {
		out = append(out, t)
	}
	return out, nil
}

// TileMercatorBound returns t's bounds in Web Mercator meters, buffered
// by bufferPx tile pixels on every side.
func TileMercatorBound(t maptile.Tile, bufferPx float64) orb.Bound {
	wgs84 := t.Bound()
	bound := orb.Bound{
		Min: project.WGS84.ToMercator(wgs84.Min),
		Max: project.WGS84.ToMercator(wgs84.Max),
	}
	buf := bufferPx * metersPerPixel(uint8(t.Z))
	return orb.Bound{
		Min: orb.Point{bound.Min[0] - buf, bound.Min[1] - buf},
		Max: orb.Point{bound.Max[0] + buf, bound.Max[1] + buf},
	}
}

// boundRing turns a bound into a closed ring for tilecover.Geometry,
// which (per pmtiles/bitmap.go's usage) operates on concrete orb
// geometry types, not orb.Bound itself.
func boundRing(b orb.Bound) orb.Ring {
	return orb.Ring{
		b.Min,
		orb.Point{b.Max[0], b.Min[1]},
		b.Max,
		orb.Point{b.Min[0], b.Max[1]},
		b.Min,
	}
}

// Clip restricts Mercator-projected geometry g to bound, spec.md §4.3
// step 3's buffer-clip.
func Clip(bound orb.Bound, g orb.Geometry) orb.Geometry {
	return clip.Geometry(bound, g)
}

// Quantize converts Mercator-projected geometry already clipped to
// tileBound into tile-local integer coordinates at the given extent,
// spec.md §4.3 step 4. Y is flipped so that north is row 0, matching the
// XYZ tile scheme RenderedFeature and MVT both assume.
func Quantize(g orb.Geometry, tileBound orb.Bound, extent int) model.TileGeometry {
	switch geom := g.(type) {
	case orb.Point:
		return model.TileGeometry{
			Kind:  model.GeomPoint,
			Rings: [][]model.TilePoint{{quantizePoint(geom, tileBound, extent)}},
		}
	case orb.MultiPoint:
		pts := make([]model.TilePoint, len(geom))
		for i, p := range geom {
			pts[i] = quantizePoint(p, tileBound, extent)
		}
		return model.TileGeometry{Kind: model.GeomPoint, Rings: [][]model.TilePoint{pts}}
	case orb.LineString:
		return model.TileGeometry{
			Kind:  model.GeomLineString,
			Rings: [][]model.TilePoint{quantizeLine(geom, tileBound, extent)},
		}
	case orb.MultiLineString:
		rings := make([][]model.TilePoint, len(geom))
		for i, ls := range geom {
			rings[i] = quantizeLine(ls, tileBound, extent)
		}
		return model.TileGeometry{Kind: model.GeomLineString, Rings: rings}
	case orb.Polygon:
		rings := make([][]model.TilePoint, len(geom))
		for i, r := range geom {
			rings[i] = quantizeLine(orb.LineString(r), tileBound, extent)
		}
		return model.TileGeometry{Kind: model.GeomPolygon, Rings: rings}
	case orb.MultiPolygon:
		var rings [][]model.TilePoint
		for _, poly := range geom {
			for _, r := range poly {
				rings = append(rings, quantizeLine(orb.LineString(r), tileBound, extent))
			}
		}
		return model.TileGeometry{Kind: model.GeomMultiPolygon, Rings: rings}
	default:
		return model.TileGeometry{}
	}
}

func quantizePoint(p orb.Point, tileBound orb.Bound, extent int) model.TilePoint {
	w := tileBound.Max[0] - tileBound.Min[0]
	h := tileBound.Max[1] - tileBound.Min[1]
	x := (p[0] - tileBound.Min[0]) / w * float64(extent)
	y := (tileBound.Max[1] - p[1]) / h * float64(extent)
	return model.TilePoint{X: int32(round(x)), Y: int32(round(y))}
}

func quantizeLine(ls orb.LineString, tileBound orb.Bound, extent int) []model.TilePoint {
	out := make([]model.TilePoint, len(ls))
	for i, p := range ls {
		out[i] = quantizePoint(p, tileBound, extent)
	}
	return out
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int64(f - 0.5))
	}
	return float64(int64(f + 0.5))
}

// Centroid returns g's representative point in Mercator space (its
// bound's center), used by FeatureRenderer for Profile's "centroid"
// collector builder. It is not an area-weighted centroid: it is computed
// on the whole feature geometry before tiling, and for a concave polygon
// the bound center can fall outside the polygon.
func Centroid(g orb.Geometry) orb.Point {
	return g.Bound().Center()
}
