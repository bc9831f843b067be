package render

import (
	"testing"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/tiling"
)

func newTestBitmap() *roaring64.Bitmap { return roaring64.New() }

func pointFeature(lon, lat float64) *model.SourceFeature {
	f := &model.SourceFeature{
		ID:   42,
		Kind: model.KindNode,
		Geometry: func() (model.Geometry, error) {
			return model.Geometry{Kind: model.GeomPoint, Points: []model.LonLat{{Lon: lon, Lat: lat}}}, nil
		},
	}
	return f
}

func TestRendererEmitsOneFeaturePerZoom(t *testing.T) {
	var got []model.RenderedFeature
	r := &Renderer{Sink: func(f model.RenderedFeature) error {
		got = append(got, f)
		return nil
	}}

	f := pointFeature(2.35, 48.85)
	c := r.NewCollector(f)
	err := c.Point("poi").ZoomRange(0, 4).Attr("name", model.StringScalar("Paris")).Emit()
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(got), 5)
	for _, rf := range got {
		assert.Equal(t, "poi", rf.Layer)
		assert.Equal(t, uint64(42), rf.FeatureID)
		assert.Equal(t, model.StringScalar("Paris"), rf.Attrs["name"])
		require.Equal(t, model.GeomPoint, rf.Geometry.Kind)
		require.Len(t, rf.Geometry.Rings, 1)
		require.Len(t, rf.Geometry.Rings[0], 1)
	}
}

func TestRendererTouchedTilesAccumulates(t *testing.T) {
	bitmap := newTestBitmap()
	r := &Renderer{
		Sink:         func(model.RenderedFeature) error { return nil },
		TouchedTiles: bitmap,
	}
	f := pointFeature(0, 0)
	err := r.NewCollector(f).Point("poi").ZoomRange(0, 0).Emit()
	require.NoError(t, err)
	assert.EqualValues(t, 1, bitmap.GetCardinality())
	assert.True(t, bitmap.Contains(tiling.ID(tiling.Coord{Z: 0, X: 0, Y: 0})))
}

func TestCentroidCollectorProducesSinglePoint(t *testing.T) {
	var got []model.RenderedFeature
	r := &Renderer{Sink: func(f model.RenderedFeature) error {
		got = append(got, f)
		return nil
	}}
	f := &model.SourceFeature{
		ID: 1,
		Geometry: func() (model.Geometry, error) {
			return model.Geometry{
				Kind: model.GeomPolygon,
				Rings: [][]model.LonLat{{
					{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}, {Lon: 1, Lat: 1}, {Lon: 1, Lat: 0}, {Lon: 0, Lat: 0},
				}},
			}, nil
		},
	}
	err := r.NewCollector(f).Centroid("label").ZoomRange(2, 2).Emit()
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, model.GeomPoint, got[0].Geometry.Kind)
}

func TestDegenerateZeroAreaPolygonDropped(t *testing.T) {
	var got []model.RenderedFeature
	r := &Renderer{Sink: func(f model.RenderedFeature) error {
		got = append(got, f)
		return nil
	}}
	f := &model.SourceFeature{
		ID: 2,
		Geometry: func() (model.Geometry, error) {
			return model.Geometry{
				Kind:  model.GeomPolygon,
				Rings: [][]model.LonLat{{{Lon: 5, Lat: 5}, {Lon: 5, Lat: 5}, {Lon: 5, Lat: 5}}},
			}, nil
		},
	}
	err := r.NewCollector(f).Polygon("land").ZoomRange(3, 3).Emit()
	require.NoError(t, err)
	assert.Empty(t, got)
}
