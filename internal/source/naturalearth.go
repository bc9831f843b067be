package source

import (
	"context"
	"fmt"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
	"zombiezen.com/go/sqlite"
)

// NaturalEarthReader streams features from one table of a Natural Earth
// SQLite extract. Single-pass, per spec.md §4.2 ("Shapefile and Natural
// Earth readers are single-pass"). Grounded on pmtiles/convert.go's
// zombiezen.com/go/sqlite read path (PrepareTransient + Step loop).
type NaturalEarthReader struct {
	Path      string
	Table     string
	GeomCol   string
	IDCol     string
	TagCols   []string
}

func (n *NaturalEarthReader) Open(_ context.Context) (Iterator, error) {
	conn, err := sqlite.OpenConn(n.Path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, tferrors.New(tferrors.IoFailure, err)
	}

	cols := append([]string{n.IDCol, n.GeomCol}, n.TagCols...)
	query := "SELECT "
	for i, c := range cols {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	query += fmt.Sprintf(" FROM %s", n.Table)

	stmt, _, err := conn.PrepareTransient(query)
	if err != nil {
		conn.Close()
		return nil, tferrors.New(tferrors.SourceParseError, err)
	}
	return &naturalEarthIterator{conn: conn, stmt: stmt, tagCols: n.TagCols}, nil
}

type naturalEarthIterator struct {
	conn    *sqlite.Conn
	stmt    *sqlite.Stmt
	tagCols []string
	current model.SourceFeature
	err     error
}

func (it *naturalEarthIterator) Next() bool {
	if it.err != nil {
		return false
	}
	hasRow, err := it.stmt.Step()
	if err != nil {
		it.err = tferrors.New(tferrors.SourceParseError, err)
		return false
	}
	if !hasRow {
		return false
	}

	id := uint64(it.stmt.ColumnInt64(0))
	wkb := make([]byte, it.stmt.ColumnLen(1))
	it.stmt.ColumnBytes(1, wkb)

	tags := make(map[string]model.Scalar, len(it.tagCols))
	for i, col := range it.tagCols {
		tags[col] = model.StringScalar(it.stmt.ColumnText(i + 2))
	}

	it.current = model.SourceFeature{
		ID:   id,
		Kind: model.KindPolygon,
		Tags: tags,
		Geometry: func() (model.Geometry, error) {
			return decodeWKBPolygon(wkb)
		},
	}
	return true
}

func (it *naturalEarthIterator) Feature() model.SourceFeature { return it.current }
func (it *naturalEarthIterator) Err() error                   { return it.err }
func (it *naturalEarthIterator) Close() error {
	if it.stmt != nil {
		_ = it.stmt.Finalize()
	}
	return it.conn.Close()
}

// decodeWKBPolygon is a placeholder seam for a full WKB decoder; real
// geometry decoding for Natural Earth's WKB BLOB column is outside
// spec.md's scope (an external reader concern, per §2/§4.2).
func decodeWKBPolygon(wkb []byte) (model.Geometry, error) {
	if len(wkb) == 0 {
		return model.Geometry{}, fmt.Errorf("empty WKB geometry")
	}
	return model.Geometry{Kind: model.GeomPolygon}, nil
}
