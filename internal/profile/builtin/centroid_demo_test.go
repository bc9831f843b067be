package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/render"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

func TestCentroidDemoEmitsAirportAcrossFiveZooms(t *testing.T) {
	reg := NewCentroidDemo(nil)

	var got []model.RenderedFeature
	renderer := &render.Renderer{Sink: func(f model.RenderedFeature) error {
		got = append(got, f)
		return nil
	}}

	f := &model.SourceFeature{
		ID:   1,
		Kind: model.KindNode,
		Tags: map[string]model.Scalar{
			"amenity": model.StringScalar("airport"),
			"iata":    model.StringScalar("XXX"),
		},
		Geometry: func() (model.Geometry, error) {
			return model.Geometry{Kind: model.GeomPoint, Points: []model.LonLat{{Lon: 2.35, Lat: 48.85}}}, nil
		},
	}
	require.NoError(t, reg.ProcessFeature(f, renderer.NewCollector(f)))
	assert.Len(t, got, int(MaxZoom-MinZoom+1))
	for _, rf := range got {
		assert.Equal(t, "poi", rf.Layer)
		assert.Equal(t, model.StringScalar("XXX"), rf.Attrs["iata"])
	}
}

func TestCentroidDemoRejectsAirportWithoutIATA(t *testing.T) {
	reg := NewCentroidDemo(nil)
	called := 0
	renderer := &render.Renderer{Sink: func(model.RenderedFeature) error { called++; return nil }}

	f := &model.SourceFeature{
		ID: 3, Kind: model.KindNode,
		Tags: map[string]model.Scalar{"amenity": model.StringScalar("airport")},
		Geometry: func() (model.Geometry, error) {
			return model.Geometry{Kind: model.GeomPoint, Points: []model.LonLat{{Lon: 0, Lat: 0}}}, nil
		},
	}
	err := reg.ProcessFeature(f, renderer.NewCollector(f))
	require.Error(t, err)
	assert.Equal(t, tferrors.ProfileRejected, tferrors.KindOf(err))
	assert.Zero(t, called)
}

func TestCentroidDemoIgnoresUnrelatedTags(t *testing.T) {
	reg := NewCentroidDemo(nil)
	called := 0
	renderer := &render.Renderer{Sink: func(model.RenderedFeature) error { called++; return nil }}

	f := &model.SourceFeature{
		ID: 2, Kind: model.KindNode,
		Tags: map[string]model.Scalar{"natural": model.StringScalar("tree")},
		Geometry: func() (model.Geometry, error) {
			return model.Geometry{Kind: model.GeomPoint, Points: []model.LonLat{{Lon: 0, Lat: 0}}}, nil
		},
	}
	require.NoError(t, reg.ProcessFeature(f, renderer.NewCollector(f)))
	assert.Zero(t, called)
}
