// Package render implements FeatureRenderer (spec.md §4.3): given one
// SourceFeature and a Profile that decides layer assignment, zoom range,
// and attributes, it projects, simplifies, buffer-clips, and quantizes
// the feature's geometry once per (tile, zoom) pair, emitting a
// RenderedFeature for each. Grounded on pmtiles/bitmap.go's
// "tile-cover-then-per-tile-test" structure (bitmapMultiPolygon), adapted
// from "which tiles does this polygon touch" to "emit one RenderedFeature
// per touched tile".
package render

import (
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/tileforge-dev/tileforge/internal/geomutil"
	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
	"github.com/tileforge-dev/tileforge/internal/tiling"
)

// DefaultBufferPx and DefaultSimplifyPx are spec.md §4.3's stated
// defaults (buffer 4px, Douglas-Peucker tolerance 0.0625px).
const (
	DefaultBufferPx   = 4.0
	DefaultSimplifyPx = 0.0625
)

// Profile decides, per SourceFeature, what FeatureCollector calls (if
// any) to make. Release is invoked once after pass-2 completes, per
// spec.md §9's Profile interface.
type Profile interface {
	ProcessFeature(f *model.SourceFeature, collector *Collector) error
	Release()
}

// AttrMergingProfile is an optional Profile extension controlling
// spec.md §4.5's "merging is optional per-profile" FeatureGroup behavior
// (adjacent same-layer features with identical attributes unioned into
// one). A Profile that doesn't implement this gets the default: enabled.
type AttrMergingProfile interface {
	Profile
	MergeAttrs() bool
}

// Sink receives every RenderedFeature the Renderer emits; the pipeline
// wires it to a featuresort.Writer's Put.
type Sink func(model.RenderedFeature) error

// Renderer executes spec.md §4.3's per-zoom algorithm for every feature
// a Profile's ProcessFeature call declares through a Collector.
type Renderer struct {
	Sink Sink

	// TouchedTiles, if non-nil, accumulates every tileId this Renderer
	// emits into. It is optional; PipelineEngine leaves it nil.
	TouchedTiles *roaring64.Bitmap
}

// NewCollector starts a fluent builder sequence for one SourceFeature.
// The Profile calls Point/Line/Polygon/Centroid on the returned
// Collector, each followed by fluent Builder setters and a final Emit.
func (r *Renderer) NewCollector(f *model.SourceFeature) *Collector {
	return &Collector{renderer: r, feature: f}
}

// Collector is the spec.md §9 "FeatureCollector" a Profile uses to turn
// a SourceFeature's resolved geometry into one or more tagged,
// zoom-ranged output features.
type Collector struct {
	renderer *Renderer
	feature  *model.SourceFeature
}

func (c *Collector) Point(layer string) *Builder    { return newBuilder(c, layer, model.GeomPoint, false) }
func (c *Collector) Line(layer string) *Builder     { return newBuilder(c, layer, model.GeomLineString, false) }
func (c *Collector) Polygon(layer string) *Builder  { return newBuilder(c, layer, model.GeomPolygon, false) }
func (c *Collector) Centroid(layer string) *Builder { return newBuilder(c, layer, model.GeomPoint, true) }

// Builder accumulates one output feature's parameters before Emit runs
// the FeatureRenderer algorithm against it.
type Builder struct {
	collector *Collector
	layer     string
	kind      model.GeomKind
	centroid  bool

	minZoom, maxZoom uint8
	bufferPx         float64
	simplifyPx       float64
	attrs            map[string]model.Scalar
	group            *model.Group
	zOrder           int32
}

func newBuilder(c *Collector, layer string, kind model.GeomKind, centroid bool) *Builder {
	return &Builder{
		collector:  c,
		layer:      layer,
		kind:       kind,
		centroid:   centroid,
		minZoom:    0,
		maxZoom:    tiling.MaxZoom,
		bufferPx:   DefaultBufferPx,
		simplifyPx: DefaultSimplifyPx,
		attrs:      map[string]model.Scalar{},
	}
}

// ZoomRange sets the inclusive zoom range this feature renders into.
func (b *Builder) ZoomRange(min, max uint8) *Builder {
	b.minZoom, b.maxZoom = min, max
	return b
}

// BufferPx overrides the default per-layer clip buffer.
func (b *Builder) BufferPx(px float64) *Builder {
	b.bufferPx = px
	return b
}

// SimplifyPx overrides the default Douglas-Peucker pixel tolerance.
func (b *Builder) SimplifyPx(px float64) *Builder {
	b.simplifyPx = px
	return b
}

// Attr sets one output attribute.
func (b *Builder) Attr(key string, value model.Scalar) *Builder {
	b.attrs[key] = value
	return b
}

// Attrs merges a whole attribute map in.
func (b *Builder) Attrs(m map[string]model.Scalar) *Builder {
	for k, v := range m {
		b.attrs[k] = v
	}
	return b
}

// Group caps how many features sharing key are retained per tile+layer
// (label density control), per spec.md §3/§4.5.
func (b *Builder) Group(key uint64, limit uint32) *Builder {
	b.group = &model.Group{Key: key, Limit: limit}
	return b
}

// ZOrder sets the draw order within a tile+layer; default 0, ties broken
// by featureId ascending per spec.md §4.3 step 6.
func (b *Builder) ZOrder(z int32) *Builder {
	b.zOrder = z
	return b
}

// Emit resolves the feature's geometry and runs spec.md §4.3's six-step
// algorithm across [minZoom, maxZoom], calling the Renderer's Sink once
// per (tile, zoom) that survives clipping and degeneracy checks.
func (b *Builder) Emit() error {
	geom, err := b.collector.feature.ResolveGeometry()
	if err != nil {
		if tferrors.KindOf(err) == tferrors.MissingNodeReference {
			return err
		}
		return tferrors.NewForFeature(tferrors.GeometryInvalid, b.collector.feature.ID, err)
	}
	orbGeom := toOrbGeometry(geom, b.kind, b.centroid)
	if orbGeom == nil {
		return nil
	}

	for z := b.minZoom; z <= b.maxZoom; z++ {
		if err := b.renderZoom(orbGeom, z); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) renderZoom(geom orb.Geometry, z uint8) error {
	r := b.collector.renderer

	merc := geomutil.ToMercator(geom)
	tol := geomutil.ZoomTolerance(z, b.simplifyPx)
	simplified := geomutil.Simplify(merc, tol)

	tiles, err := geomutil.TilesForGeometry(simplified, z, b.bufferPx)
	if err != nil {
		return tferrors.NewForFeature(tferrors.GeometryInvalid, b.collector.feature.ID, err)
	}

	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})

	for _, t := range tiles {
		tileBound := geomutil.TileMercatorBound(t, b.bufferPx)
		clipped := geomutil.Clip(tileBound, simplified)
		if clipped == nil || isEmptyGeometry(clipped) {
			continue
		}

		tileGeom := geomutil.Quantize(clipped, tileBound, model.Extent)
		if degenerate(tileGeom) {
			continue
		}

		coord := tiling.Coord{Z: uint8(t.Z), X: t.X, Y: t.Y}
		tileID := tiling.ID(coord)
		if r.TouchedTiles != nil {
			r.TouchedTiles.Add(tileID)
		}

		rf := model.RenderedFeature{
			TileID:    tileID,
			Layer:     b.layer,
			ZOrder:    b.zOrder,
			FeatureID: b.collector.feature.ID,
			Geometry:  tileGeom,
			Attrs:     b.attrs,
			Group:     b.group,
		}
		if r.Sink != nil {
			if err := r.Sink(rf); err != nil {
				return err
			}
		}
	}
	return nil
}

func isEmptyGeometry(g orb.Geometry) bool {
	switch geom := g.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(geom) == 0
	case orb.LineString:
		return len(geom) < 2
	case orb.MultiLineString:
		return len(geom) == 0
	case orb.Polygon:
		return len(geom) == 0
	case orb.MultiPolygon:
		return len(geom) == 0
	default:
		return g == nil
	}
}

// degenerate implements spec.md §4.3 step 5: zero-area rings and
// sub-pixel lines after simplification are dropped.
func degenerate(g model.TileGeometry) bool {
	switch g.Kind {
	case model.GeomPoint:
		return len(g.Rings) == 0 || len(g.Rings[0]) == 0
	case model.GeomLineString:
		for _, ring := range g.Rings {
			if len(ring) >= 2 && !isSubPixel(ring) {
				return false
			}
		}
		return true
	case model.GeomPolygon, model.GeomMultiPolygon:
		for _, ring := range g.Rings {
			if len(ring) >= 4 && ringArea(ring) != 0 {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func isSubPixel(ring []model.TilePoint) bool {
	for i := 1; i < len(ring); i++ {
		if ring[i] != ring[0] {
			return false
		}
	}
	return true
}

// ringArea is twice the shoelace-formula signed area; only its zeroness
// matters here (degenerate ring detection), so no division by two.
func ringArea(ring []model.TilePoint) int64 {
	var acc int64
	for i := 0; i < len(ring); i++ {
		j := (i + 1) % len(ring)
		acc += int64(ring[i].X)*int64(ring[j].Y) - int64(ring[j].X)*int64(ring[i].Y)
	}
	return acc
}

func toOrbGeometry(g model.Geometry, kind model.GeomKind, centroid bool) orb.Geometry {
	if centroid {
		base := toOrbGeometry(g, g.Kind, false)
		if base == nil {
			return nil
		}
		return project.Mercator.ToWGS84(geomutil.Centroid(geomutil.ToMercator(base)))
	}

	switch g.Kind {
	case model.GeomPoint:
		if len(g.Points) == 0 {
			return nil
		}
		return orb.Point{g.Points[0].Lon, g.Points[0].Lat}
	case model.GeomLineString:
		if len(g.Rings) == 0 {
			return nil
		}
		return lonLatLine(g.Rings[0])
	case model.GeomPolygon:
		if len(g.Rings) == 0 {
			return nil
		}
		poly := make(orb.Polygon, len(g.Rings))
		for i, r := range g.Rings {
			poly[i] = orb.Ring(lonLatLine(r))
		}
		return poly
	case model.GeomMultiPolygon:
		if len(g.Rings) == 0 {
			return nil
		}
		poly := make(orb.Polygon, len(g.Rings))
		for i, r := range g.Rings {
			poly[i] = orb.Ring(lonLatLine(r))
		}
		return orb.MultiPolygon{poly}
	default:
		return nil
	}
}

func lonLatLine(pts []model.LonLat) orb.LineString {
	ls := make(orb.LineString, len(pts))
	for i, p := range pts {
		ls[i] = orb.Point{p.Lon, p.Lat}
	}
	return ls
}
