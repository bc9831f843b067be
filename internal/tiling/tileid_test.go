package tiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDKnownValues(t *testing.T) {
	assert.Equal(t, uint64(0), ID(Coord{0, 0, 0}))
	assert.Equal(t, uint64(1), ID(Coord{1, 0, 0}))
	assert.Equal(t, uint64(2), ID(Coord{1, 0, 1}))
	assert.Equal(t, uint64(3), ID(Coord{1, 1, 1}))
	assert.Equal(t, uint64(4), ID(Coord{1, 1, 0}))
	assert.Equal(t, uint64(5), ID(Coord{2, 0, 0}))
}

func TestFromIDRoundTrip(t *testing.T) {
	var z uint8
	var x, y uint32
	for z = 0; z < 8; z++ {
		for x = 0; x < (1 << z); x++ {
			for y = 0; y < (1 << z); y++ {
				id := ID(Coord{z, x, y})
				got := FromID(id)
				assert.Equal(t, Coord{z, x, y}, got)
			}
		}
	}
}

func TestMonotonicWithinAndAcrossZoom(t *testing.T) {
	var last uint64
	first := true
	for z := uint8(0); z <= 6; z++ {
		n := uint64(1) << z
		// Walk each zoom along its Hilbert curve, the order IDs follow.
		for pos := uint64(0); pos < n*n; pos++ {
			id := ID(onLevel(z, pos))
			if !first {
				assert.Greater(t, id, last)
			}
			last = id
			first = false
		}
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Coord{14, 0, 0}.Valid())
	assert.False(t, Coord{15, 0, 0}.Valid())
	assert.False(t, Coord{2, 4, 0}.Valid())
}

func TestTMSRow(t *testing.T) {
	assert.Equal(t, uint32(0), TMSRow(1, 1))
	assert.Equal(t, uint32(1), TMSRow(1, 0))
}

func TestParentID(t *testing.T) {
	child := ID(Coord{3, 2, 3})
	parent := ParentID(child)
	assert.Equal(t, ID(Coord{2, 1, 1}), parent)
}
