package mvtenc

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileforge-dev/tileforge/internal/model"
)

func pt(x, y int32) model.TilePoint { return model.TilePoint{X: x, Y: y} }

func TestEncodeTileDecodesBackToLayersAndFeatures(t *testing.T) {
	layers := []Layer{
		{
			Name: "poi",
			Features: []model.RenderedFeature{
				{
					FeatureID: 1,
					ZOrder:    0,
					Geometry: model.TileGeometry{
						Kind:  model.GeomPoint,
						Rings: [][]model.TilePoint{{pt(100, 200)}},
					},
					Attrs: map[string]model.Scalar{
						"iata": model.StringScalar("XXX"),
					},
				},
				{
					FeatureID: 2,
					ZOrder:    1,
					Geometry: model.TileGeometry{
						Kind:  model.GeomPoint,
						Rings: [][]model.TilePoint{{pt(300, 400)}},
					},
					Attrs: map[string]model.Scalar{
						"iata": model.StringScalar("YYY"),
					},
				},
			},
		},
	}

	raw, err := EncodeTile(layers)
	require.NoError(t, err)

	decoded, err := mvt.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "poi", decoded[0].Name)
	require.Len(t, decoded[0].Features, 2)
	assert.Equal(t, "XXX", decoded[0].Features[0].Properties["iata"])
	assert.Equal(t, "YYY", decoded[0].Features[1].Properties["iata"])
}

func TestEncodePolygonRingClosesAndSurvivesRoundTrip(t *testing.T) {
	layers := []Layer{
		{
			Name: "land",
			Features: []model.RenderedFeature{
				{
					FeatureID: 9,
					Geometry: model.TileGeometry{
						Kind: model.GeomPolygon,
						Rings: [][]model.TilePoint{
							{pt(0, 0), pt(10, 0), pt(10, 10), pt(0, 10), pt(0, 0)},
						},
					},
				},
			},
		},
	}

	raw, err := EncodeTile(layers)
	require.NoError(t, err)

	decoded, err := mvt.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Len(t, decoded[0].Features, 1)
	assert.NotNil(t, decoded[0].Features[0].Geometry)
}

func TestEncodeTileGzippedProducesValidGzipWrappingMVT(t *testing.T) {
	layers := []Layer{
		{
			Name: "poi",
			Features: []model.RenderedFeature{
				{
					FeatureID: 1,
					Geometry: model.TileGeometry{
						Kind:  model.GeomPoint,
						Rings: [][]model.TilePoint{{pt(1, 1)}},
					},
				},
			},
		},
	}

	gz, err := EncodeTileGzipped(layers, gzip.BestSpeed)
	require.NoError(t, err)

	r, err := gzip.NewReader(bytes.NewReader(gz))
	require.NoError(t, err)
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	decoded, err := mvt.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "poi", decoded[0].Name)
}

func TestEncodeTileSkipsFeatureWithNoGeometry(t *testing.T) {
	layers := []Layer{
		{
			Name: "empty",
			Features: []model.RenderedFeature{
				{FeatureID: 1, Geometry: model.TileGeometry{Kind: model.GeomPoint}},
			},
		},
	}
	raw, err := EncodeTile(layers)
	require.NoError(t, err)
	decoded, err := mvt.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Empty(t, decoded[0].Features)
}
