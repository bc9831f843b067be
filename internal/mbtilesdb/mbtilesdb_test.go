package mbtilesdb

import (
	"bytes"
	"compress/gzip"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"

	"github.com/tileforge-dev/tileforge/internal/config"
	"github.com/tileforge-dev/tileforge/internal/layerstats"
	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/mvtenc"
	"github.com/tileforge-dev/tileforge/internal/tiling"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func openRO(t *testing.T, path string) *sqlite.Conn {
	t.Helper()
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func queryInt(t *testing.T, conn *sqlite.Conn, query string) int64 {
	t.Helper()
	stmt, _, err := conn.PrepareTransient(query)
	require.NoError(t, err)
	defer stmt.Finalize()
	has, err := stmt.Step()
	require.NoError(t, err)
	require.True(t, has)
	return stmt.ColumnInt64(0)
}

func TestCreateWritesSchemaAndInsertsTile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	w, err := Create(path, Options{})
	require.NoError(t, err)

	layers := []mvtenc.Layer{{
		Name: "poi",
		Features: []model.RenderedFeature{{
			FeatureID: 1,
			Attrs:     map[string]model.Scalar{"iata": model.StringScalar("XXX")},
			Geometry:  model.TileGeometry{Kind: model.GeomPoint, Rings: [][]model.TilePoint{{{X: 2048, Y: 2048}}}},
		}},
	}}

	tileID := tiling.ID(tiling.Coord{Z: 10, X: 5, Y: 5})
	require.NoError(t, w.WriteBatch(tileID, layers))
	require.NoError(t, w.WriteMetadata(Metadata{
		Name: "test", Format: "pbf", MinZoom: 10, MaxZoom: 10, Bounds: config.WorldBounds,
	}))
	require.NoError(t, w.Finalize())

	conn := openRO(t, path)
	assert.Equal(t, int64(1), queryInt(t, conn, "SELECT count(*) FROM tiles"))
	assert.True(t, queryInt(t, conn, "SELECT count(*) FROM metadata") > 0)
}

func TestWriteMetadataSerializesVectorLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	w, err := Create(path, Options{})
	require.NoError(t, err)

	var stats layerstats.Stats
	stats.Accept(model.RenderedFeature{Layer: "roads", Attrs: map[string]model.Scalar{"kind": model.StringScalar("primary")}}, 4)
	frozen := stats.Freeze()

	require.NoError(t, w.WriteMetadata(Metadata{
		Name: "t", Format: "pbf", MinZoom: 4, MaxZoom: 4, VectorLayers: frozen,
	}))
	require.NoError(t, w.Finalize())

	conn := openRO(t, path)
	stmt, _, err := conn.PrepareTransient("SELECT value FROM metadata WHERE name = 'json'")
	require.NoError(t, err)
	defer stmt.Finalize()
	has, err := stmt.Step()
	require.NoError(t, err)
	require.True(t, has)
	assert.Contains(t, stmt.ColumnText(0), "roads")
	assert.Contains(t, stmt.ColumnText(0), "String")
}

func TestDeferIndexCreatesIndexOnlyAtFinalize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	w, err := Create(path, Options{DeferIndex: true})
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	conn := openRO(t, path)
	assert.Equal(t, int64(1), queryInt(t, conn, "SELECT count(*) FROM sqlite_master WHERE type='index' AND name='tile_index'"))
}

func TestWriteTileTMSFlipsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	w, err := Create(path, Options{})
	require.NoError(t, err)

	tileID := tiling.ID(tiling.Coord{Z: 2, X: 1, Y: 1})
	require.NoError(t, w.WriteTile(tileID, []byte{0x1f, 0x8b}))
	require.NoError(t, w.Finalize())

	conn := openRO(t, path)
	row := queryInt(t, conn, "SELECT tile_row FROM tiles LIMIT 1")
	assert.Equal(t, int64(tiling.TMSRow(2, 1)), row)
}

func TestVerifyArchiveAcceptsWellFormedTiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	w, err := Create(path, Options{})
	require.NoError(t, err)

	require.NoError(t, w.WriteTile(tiling.ID(tiling.Coord{Z: 10, X: 3, Y: 7}), gzipBytes(t, []byte("fake mvt bytes"))))
	require.NoError(t, w.Finalize())

	assert.NoError(t, VerifyArchive(path))
}

func TestVerifyArchiveRejectsNonGzipTileData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	w, err := Create(path, Options{})
	require.NoError(t, err)

	require.NoError(t, w.WriteTile(tiling.ID(tiling.Coord{Z: 10, X: 3, Y: 7}), []byte("not gzip")))
	require.NoError(t, w.Finalize())

	err = VerifyArchive(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not gzip")
}

func TestVerifyArchiveRejectsOutOfRangeCoordinate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	w, err := Create(path, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Finalize())

	rw, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	require.NoError(t, err)
	defer rw.Close()
	stmt, err := rw.Prepare("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (3, 99, 0, ?)")
	require.NoError(t, err)
	stmt.BindBytes(1, gzipBytes(t, []byte("x")))
	_, err = stmt.Step()
	require.NoError(t, err)
	require.NoError(t, stmt.Reset())

	err = VerifyArchive(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
