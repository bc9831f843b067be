package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScalarString(t *testing.T) {
	assert.Equal(t, "42", IntScalar(42).String())
	assert.Equal(t, "true", BoolScalar(true).String())
	assert.Equal(t, "XXX", StringScalar("XXX").String())
}

func TestResolveGeometryCachesOnce(t *testing.T) {
	calls := 0
	f := SourceFeature{
		Geometry: func() (Geometry, error) {
			calls++
			return Geometry{Kind: GeomPoint, Points: []LonLat{{Lon: 1, Lat: 2}}}, nil
		},
	}
	g1, err := f.ResolveGeometry()
	assert.NoError(t, err)
	g2, err := f.ResolveGeometry()
	assert.NoError(t, err)
	assert.Equal(t, g1, g2)
	assert.Equal(t, 1, calls)
}

func TestResolveGeometryCachesError(t *testing.T) {
	calls := 0
	wantErr := errors.New("boom")
	f := SourceFeature{
		Geometry: func() (Geometry, error) {
			calls++
			return Geometry{}, wantErr
		},
	}
	_, err := f.ResolveGeometry()
	assert.Equal(t, wantErr, err)
	_, err = f.ResolveGeometry()
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 1, calls)
}
