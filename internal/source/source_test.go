package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tileforge-dev/tileforge/internal/model"
)

func TestSliceReaderRestartable(t *testing.T) {
	r := &SliceReader{Features: []model.SourceFeature{
		{ID: 1, Kind: model.KindNode},
		{ID: 2, Kind: model.KindWay},
	}}

	for pass := 0; pass < 2; pass++ {
		it, err := r.Open(context.Background())
		require.NoError(t, err)
		var ids []uint64
		for it.Next() {
			ids = append(ids, it.Feature().ID)
		}
		require.NoError(t, it.Err())
		require.NoError(t, it.Close())
		assert.Equal(t, []uint64{1, 2}, ids)
	}
}

func TestFilterKeepsOnlyAllowedKinds(t *testing.T) {
	r := &SliceReader{Features: []model.SourceFeature{
		{ID: 1, Kind: model.KindNode},
		{ID: 2, Kind: model.KindWay},
		{ID: 3, Kind: model.KindRelation},
	}}
	filtered := Filter(r, model.KindNode, model.KindRelation)

	it, err := filtered.Open(context.Background())
	require.NoError(t, err)
	var ids []uint64
	for it.Next() {
		ids = append(ids, it.Feature().ID)
	}
	assert.Equal(t, []uint64{1, 3}, ids)
}
