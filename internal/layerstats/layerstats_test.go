package layerstats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tileforge-dev/tileforge/internal/model"
)

func TestAcceptMergesFieldTypesAndZoomRange(t *testing.T) {
	var s Stats
	s.Accept(model.RenderedFeature{
		Layer: "poi",
		Attrs: map[string]model.Scalar{"a": model.IntScalar(1), "b": model.StringScalar("x")},
	}, 3)
	s.Accept(model.RenderedFeature{
		Layer: "poi",
		Attrs: map[string]model.Scalar{"a": model.StringScalar("now a string")},
	}, 5)

	layers := s.Freeze()
	require.Len(t, layers, 1)
	assert.Equal(t, "poi", layers[0].Name)
	assert.Equal(t, FieldString, layers[0].Fields["a"])
	assert.Equal(t, FieldString, layers[0].Fields["b"])
	assert.Equal(t, uint8(3), layers[0].MinZoom)
	assert.Equal(t, uint8(5), layers[0].MaxZoom)
}

func TestMergeIsCommutativeAndAssociativeUnderInterleaving(t *testing.T) {
	inputs := []model.Scalar{
		model.IntScalar(1), model.BoolScalar(true), model.IntScalar(2), model.BoolScalar(false),
	}

	run := func(order []int) FieldType {
		var s Stats
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, i := range order {
			wg.Add(1)
			go func(v model.Scalar) {
				defer wg.Done()
				mu.Lock()
				s.Accept(model.RenderedFeature{Layer: "l", Attrs: map[string]model.Scalar{"f": v}}, 0)
				mu.Unlock()
			}(inputs[i])
		}
		wg.Wait()
		return s.Freeze()[0].Fields["f"]
	}

	a := run([]int{0, 1, 2, 3})
	b := run([]int{3, 2, 1, 0})
	c := run([]int{2, 0, 3, 1})
	assert.Equal(t, FieldString, a)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestFreezeOnEmptyStatsReturnsEmptySlice(t *testing.T) {
	var s Stats
	assert.Empty(t, s.Freeze())
}
