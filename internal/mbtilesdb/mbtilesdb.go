// Package mbtilesdb implements MbtilesWriter (spec.md §4.7): the final
// pipeline stage that encodes grouped tile batches into MVT blobs,
// gzip-compresses them, and inserts them into an MBTiles-schema SQLite
// database. Grounded on pmtiles/convert.go's SQLite usage (`sqlite.OpenConn`,
// `conn.Prep`/`PrepareTransient`, `stmt.BindInt64`/`BindBytes`), inverted
// from that file's read path into a write path.
package mbtilesdb

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"zombiezen.com/go/sqlite"

	"github.com/tileforge-dev/tileforge/internal/config"
	"github.com/tileforge-dev/tileforge/internal/layerstats"
	"github.com/tileforge-dev/tileforge/internal/mvtenc"
	"github.com/tileforge-dev/tileforge/internal/tiling"
)

// DefaultTxnTiles is spec.md §4.7's default transaction batch size.
const DefaultTxnTiles = 1000

// DefaultGzipLevel is spec.md §4.7's fixed default gzip level for tile
// blobs.
const DefaultGzipLevel = 6

// Options configures a Writer. The zero value uses spec.md §4.7's
// defaults.
type Options struct {
	TxnTiles   int
	GzipLevel  int
	DeferIndex bool
	OptimizeDB bool
}

func (o Options) withDefaults() Options {
	if o.TxnTiles <= 0 {
		o.TxnTiles = DefaultTxnTiles
	}
	if o.GzipLevel == 0 {
		o.GzipLevel = DefaultGzipLevel
	}
	return o
}

// Writer creates and populates one MBTiles SQLite database. Not safe for
// concurrent use — the pipeline's Emit stage is the single writer,
// serialized per spec.md §5's single-writer-per-resource rule.
type Writer struct {
	conn       *sqlite.Conn
	opts       Options
	insertStmt *sqlite.Stmt
	inTxn      bool
	tilesInTxn int
}

// Create opens (creating if absent) the SQLite file at path and lays
// down the MBTiles schema: `metadata(name,value)` and
// `tiles(zoom_level,tile_column,tile_row,tile_data)`, per the MBTiles
// spec spec.md §4.7 names. If opts.DeferIndex is false the unique tile
// index is created immediately; otherwise CreateIndex must be called
// after bulk insert, before Finalize.
func Create(path string, opts Options) (*Writer, error) {
	opts = opts.withDefaults()

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("mbtilesdb: open %s: %w", path, err)
	}

	w := &Writer{conn: conn, opts: opts}
	if err := w.execDDL(
		"CREATE TABLE metadata (name TEXT, value TEXT)",
		"CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB)",
	); err != nil {
		conn.Close()
		return nil, err
	}
	if !opts.DeferIndex {
		if err := w.CreateIndex(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	stmt, err := conn.Prepare("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mbtilesdb: prepare insert: %w", err)
	}
	w.insertStmt = stmt
	return w, nil
}

func (w *Writer) execDDL(queries ...string) error {
	for _, q := range queries {
		stmt, _, err := w.conn.PrepareTransient(q)
		if err != nil {
			return fmt.Errorf("mbtilesdb: prepare %q: %w", q, err)
		}
		_, err = stmt.Step()
		finalizeErr := stmt.Finalize()
		if err != nil {
			return fmt.Errorf("mbtilesdb: exec %q: %w", q, err)
		}
		if finalizeErr != nil {
			return fmt.Errorf("mbtilesdb: finalize %q: %w", q, finalizeErr)
		}
	}
	return nil
}

// CreateIndex creates the unique tile-address index. Called eagerly by
// Create unless Options.DeferIndex is set, in which case the caller
// must call it once after bulk insert completes (spec.md §4.7's
// `deferIndexCreation` option, trading index-maintenance overhead during
// insert for a single bulk build at the end).
func (w *Writer) CreateIndex() error {
	return w.execDDL("CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row)")
}

// WriteBatch encodes one tile's grouped, already-sorted layers into a
// gzipped MVT blob and inserts it, committing every Options.TxnTiles
// tiles per spec.md §4.7's "one transaction per txnTiles" throughput
// rule.
func (w *Writer) WriteBatch(tileID uint64, layers []mvtenc.Layer) error {
	data, err := mvtenc.EncodeTileGzipped(layers, w.opts.GzipLevel)
	if err != nil {
		return fmt.Errorf("mbtilesdb: encode tile %d: %w", tileID, err)
	}
	return w.WriteTile(tileID, data)
}

// WriteTile inserts one already-encoded (gzipped) tile blob at tileID,
// TMS-flipping the row per spec.md §4.7 (`tile_row = 2^z - 1 - y`).
func (w *Writer) WriteTile(tileID uint64, gzippedMVT []byte) error {
	if !w.inTxn {
		if err := w.begin(); err != nil {
			return err
		}
	}

	c := tiling.FromID(tileID)
	tmsRow := tiling.TMSRow(c.Z, c.Y)

	w.insertStmt.BindInt64(1, int64(c.Z))
	w.insertStmt.BindInt64(2, int64(c.X))
	w.insertStmt.BindInt64(3, int64(tmsRow))
	w.insertStmt.BindBytes(4, gzippedMVT)
	if _, err := w.insertStmt.Step(); err != nil {
		return fmt.Errorf("mbtilesdb: insert tile %d: %w", tileID, err)
	}
	w.insertStmt.ClearBindings()
	w.insertStmt.Reset()

	w.tilesInTxn++
	if w.tilesInTxn >= w.opts.TxnTiles {
		if err := w.commit(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) begin() error {
	if err := w.execDDL("BEGIN"); err != nil {
		return err
	}
	w.inTxn = true
	w.tilesInTxn = 0
	return nil
}

func (w *Writer) commit() error {
	if !w.inTxn {
		return nil
	}
	if err := w.execDDL("COMMIT"); err != nil {
		return err
	}
	w.inTxn = false
	w.tilesInTxn = 0
	return nil
}

// Metadata is the full set of MBTiles `metadata` rows spec.md §4.7
// names, written last (after every tile insert), immediately before
// Finalize's optional VACUUM/ANALYZE pass.
type Metadata struct {
	Name         string
	Format       string // "pbf"
	Bounds       config.Bounds
	CenterLon    float64
	CenterLat    float64
	CenterZoom   uint8
	MinZoom      uint8
	MaxZoom      uint8
	VectorLayers []layerstats.VectorLayer
	Attribution  string
}

type metadataJSON struct {
	VectorLayers []vectorLayerJSON `json:"vector_layers"`
}

type vectorLayerJSON struct {
	ID      string            `json:"id"`
	Fields  map[string]string `json:"fields"`
	MinZoom uint8             `json:"minzoom"`
	MaxZoom uint8             `json:"maxzoom"`
}

func fieldTypeName(t layerstats.FieldType) string {
	switch t {
	case layerstats.FieldNumber:
		return "Number"
	case layerstats.FieldBoolean:
		return "Boolean"
	default:
		return "String"
	}
}

// WriteMetadata writes the `name,value` metadata rows, including the
// `json` row's `vector_layers` array built from a frozen LayerStats
// snapshot. Must be called once, after every tile has been written.
func (w *Writer) WriteMetadata(m Metadata) error {
	rows := map[string]string{
		"name":    m.Name,
		"format":  m.Format,
		"minzoom": fmt.Sprintf("%d", m.MinZoom),
		"maxzoom": fmt.Sprintf("%d", m.MaxZoom),
		"bounds":  boundsValue(m.Bounds),
		"center":  fmt.Sprintf("%g,%g,%d", m.CenterLon, m.CenterLat, m.CenterZoom),
	}
	if m.Attribution != "" {
		rows["attribution"] = m.Attribution
	}

	layers := make([]vectorLayerJSON, 0, len(m.VectorLayers))
	for _, l := range m.VectorLayers {
		fields := make(map[string]string, len(l.Fields))
		for k, t := range l.Fields {
			fields[k] = fieldTypeName(t)
		}
		layers = append(layers, vectorLayerJSON{
			ID: l.Name, Fields: fields, MinZoom: l.MinZoom, MaxZoom: l.MaxZoom,
		})
	}
	jsonBytes, err := json.Marshal(metadataJSON{VectorLayers: layers})
	if err != nil {
		return fmt.Errorf("mbtilesdb: marshal json metadata: %w", err)
	}
	rows["json"] = string(jsonBytes)

	insert, err := w.conn.Prepare("INSERT INTO metadata (name, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("mbtilesdb: prepare metadata insert: %w", err)
	}
	defer insert.Finalize()

	for name, value := range rows {
		insert.BindText(1, name)
		insert.BindText(2, value)
		if _, err := insert.Step(); err != nil {
			return fmt.Errorf("mbtilesdb: insert metadata %q: %w", name, err)
		}
		insert.ClearBindings()
		insert.Reset()
	}
	return nil
}

func boundsValue(b config.Bounds) string {
	if b.IsWorld || b.Inferred {
		bb := config.WorldBounds
		return fmt.Sprintf("%g,%g,%g,%g", bb.MinLon, bb.MinLat, bb.MaxLon, bb.MaxLat)
	}
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

// Finalize commits any open transaction, creates the tile index if it
// was deferred, optionally runs ANALYZE/VACUUM (Options.OptimizeDB,
// mirroring the teacher's post-processing options in convert.go), and
// closes the database.
func (w *Writer) Finalize() error {
	if err := w.commit(); err != nil {
		return err
	}
	if w.opts.DeferIndex {
		if err := w.CreateIndex(); err != nil {
			return err
		}
	}
	if w.opts.OptimizeDB {
		if err := w.execDDL("ANALYZE", "VACUUM"); err != nil {
			return err
		}
	}
	w.insertStmt.Finalize()
	return w.conn.Close()
}

// VerifyArchive checks spec.md §8 invariant 1 against a finalized MBTiles
// file: every tile's zoom is within [0,14], its x/y fall within the
// zoom's 2^z grid, and tile_data gunzips to bytes (a full MVT protobuf
// parse is the encoder's own concern, not a read-path one this package
// needs to duplicate).
func VerifyArchive(path string) error {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return fmt.Errorf("mbtilesdb: verify: open %s: %w", path, err)
	}
	defer conn.Close()

	stmt, _, err := conn.PrepareTransient("SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles")
	if err != nil {
		return fmt.Errorf("mbtilesdb: verify: prepare: %w", err)
	}
	defer stmt.Finalize()

	for {
		has, err := stmt.Step()
		if err != nil {
			return fmt.Errorf("mbtilesdb: verify: step: %w", err)
		}
		if !has {
			return nil
		}

		z := stmt.ColumnInt64(0)
		x := stmt.ColumnInt64(1)
		tmsRow := stmt.ColumnInt64(2)
		if z < 0 || z > tiling.MaxZoom {
			return fmt.Errorf("mbtilesdb: verify: zoom %d out of range", z)
		}
		span := int64(1) << uint(z)
		if x < 0 || x >= span || tmsRow < 0 || tmsRow >= span {
			return fmt.Errorf("mbtilesdb: verify: tile (%d,%d,%d) out of range for zoom %d", z, x, tmsRow, z)
		}

		data := make([]byte, stmt.ColumnLen(3))
		stmt.ColumnBytes(3, data)
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("mbtilesdb: verify: tile (%d,%d,%d) is not gzip: %w", z, x, tmsRow, err)
		}
		if _, err := io.Copy(io.Discard, gz); err != nil {
			return fmt.Errorf("mbtilesdb: verify: tile (%d,%d,%d) gzip stream corrupt: %w", z, x, tmsRow, err)
		}
	}
}

// Abort closes the database without finalizing metadata or running the
// deferred index/optimize steps, used on pipeline cancellation so no
// usable .mbtiles file is left behind (spec.md §8 invariant 6 covers the
// caller's responsibility to also delete the file).
func (w *Writer) Abort() error {
	if w.inTxn {
		_ = w.execDDL("ROLLBACK")
		w.inTxn = false
	}
	w.insertStmt.Finalize()
	return w.conn.Close()
}
