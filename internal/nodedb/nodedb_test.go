package nodedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Create(path)
	require.NoError(t, err)

	ids := []uint64{1, 2, 3, 500, 501, 1000, 100000}
	for i, id := range ids {
		require.NoError(t, s.Put(id, float64(i)*0.1, float64(i)*-0.1))
	}
	require.NoError(t, s.FinishWriting())
	defer s.Close()

	for i, id := range ids {
		lon, lat, ok := s.Get(id)
		require.True(t, ok, "id %d should be found", id)
		assert.InDelta(t, float64(i)*0.1, lon, 1e-6)
		assert.InDelta(t, float64(i)*-0.1, lat, 1e-6)
	}
}

func TestMissingNode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(1, 0, 0))
	require.NoError(t, s.Put(100, 1, 1))
	require.NoError(t, s.FinishWriting())
	defer s.Close()

	_, _, ok := s.Get(50)
	assert.False(t, ok)
	_, _, ok = s.Get(999)
	assert.False(t, ok)
}

func TestManyRecordsSpansMultiplePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Create(path)
	require.NoError(t, err)

	const n = 10000
	for i := uint64(1); i <= n; i++ {
		require.NoError(t, s.Put(i, float64(i%360)-180, float64(i%180)-90))
	}
	require.NoError(t, s.FinishWriting())
	defer s.Close()

	assert.Equal(t, uint64(n), s.Count())
	for _, id := range []uint64{1, 255, 256, 257, 5000, n} {
		lon, lat, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, float64(id%360)-180, lon)
		assert.Equal(t, float64(id%180)-90, lat)
	}
}

func TestPageChecksumIsReproducible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Create(path)
	require.NoError(t, err)
	for i := uint64(1); i <= 300; i++ {
		require.NoError(t, s.Put(i, float64(i), float64(i)))
	}
	require.NoError(t, s.FinishWriting())

	before, ok := s.PageChecksum(0)
	require.True(t, ok)
	require.NoError(t, s.Close())

	// Rebuild the same records into a second file and confirm the checksum
	// is reproducible.
	s2, err := Create(path + ".copy")
	require.NoError(t, err)
	for i := uint64(1); i <= 300; i++ {
		require.NoError(t, s2.Put(i, float64(i), float64(i)))
	}
	require.NoError(t, s2.FinishWriting())
	defer s2.Close()
	after, ok := s2.PageChecksum(0)
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestDebugAssertionOnNonIncreasing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Create(path)
	require.NoError(t, err)
	s.Debug = true
	require.NoError(t, s.Put(10, 0, 0))
	assert.Panics(t, func() {
		_ = s.Put(5, 0, 0)
	})
}
