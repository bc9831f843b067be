// Package featuresort implements FeatureSort (spec.md §4.4): an external
// merge sort over RenderedFeature records keyed by (tileId, layer,
// zOrder, featureId). Each writer thread owns a private append-only
// chunk file; records are buffered in memory up to chunkBytes, sorted,
// and spilled. Merge performs a k-way merge over every chunk file using
// a container/heap min-heap keyed by the current head sortKey, streaming
// output to a single consumer without materializing it.
//
// Grounded on pmtiles/writer.go's in-memory sort-then-write idiom
// (sort.Sort(EntryAscending(...))) generalized to chunked spill files,
// and on the teacher's preference for stdlib container types
// (pmtiles/loop.go's container/list LRU) over hand-rolled structures —
// here container/heap for the merge.
package featuresort

import (
	"bufio"
	"bytes"
	"container/heap"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

// SortKey orders RenderedFeature records for the merge. Primary order is
// tileId (so FeatureGroup sees one tile's records contiguously);
// within a tile, layer groups features (spec.md §4.5); within a layer,
// zOrder then featureId breaks ties, satisfying spec.md §8 invariant 2.
type SortKey struct {
	TileID    uint64
	Layer     string
	ZOrder    int32
	FeatureID uint64
}

func keyOf(f model.RenderedFeature) SortKey {
	return SortKey{TileID: f.TileID, Layer: f.Layer, ZOrder: f.ZOrder, FeatureID: f.FeatureID}
}

func less(a, b SortKey) bool {
	if a.TileID != b.TileID {
		return a.TileID < b.TileID
	}
	if a.Layer != b.Layer {
		return a.Layer < b.Layer
	}
	if a.ZOrder != b.ZOrder {
		return a.ZOrder < b.ZOrder
	}
	return a.FeatureID < b.FeatureID
}

// DefaultChunkBytes is spec.md §4.4's default: 1 GiB divided across
// writer threads by the caller.
const DefaultChunkBytes = 1 << 30

// Writer buffers RenderedFeature records in memory and spills sorted
// chunk files once ChunkBytes is exceeded. Each Writer is single-
// threaded; PipelineEngine gives one Writer per render worker so
// concurrent writers never share state ("one chunk per writer, no
// sharing", spec.md §4.8).
type Writer struct {
	Dir        string
	ChunkBytes int

	buf       []model.RenderedFeature
	bufBytes  int
	chunkID   int
	chunkMu   sync.Mutex // guards the ChunkPaths appends made by spill
	ChunkPaths []string
}

// estimatedSize is a coarse per-record byte estimate used only to decide
// when to spill; it need not be exact.
func estimatedSize(f model.RenderedFeature) int {
	size := 64 + len(f.Layer)
	for k, v := range f.Attrs {
		size += len(k) + len(v.String()) + 8
	}
	for _, ring := range f.Geometry.Rings {
		size += len(ring) * 8
	}
	return size
}

// Put buffers one record, spilling a sorted chunk if ChunkBytes is now
// exceeded.
func (w *Writer) Put(f model.RenderedFeature) error {
	w.buf = append(w.buf, f)
	w.bufBytes += estimatedSize(f)

	limit := w.ChunkBytes
	if limit <= 0 {
		limit = DefaultChunkBytes
	}
	if w.bufBytes >= limit {
		return w.spill()
	}
	return nil
}

// Flush spills any remaining buffered records. Call once per Writer
// after the producer finishes.
func (w *Writer) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	return w.spill()
}

func (w *Writer) spill() error {
	sortSlice(w.buf)

	path := filepath.Join(w.Dir, fmt.Sprintf("chunk-%p-%d.bin", w, w.chunkID))
	w.chunkID++

	f, err := os.Create(path)
	if err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	for _, rec := range w.buf {
		if err := writeRecord(bw, rec); err != nil {
			return tferrors.New(tferrors.IoFailure, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}

	w.chunkMu.Lock()
	w.ChunkPaths = append(w.ChunkPaths, path)
	w.chunkMu.Unlock()

	w.buf = w.buf[:0]
	w.bufBytes = 0
	return nil
}

// writeRecord length-prefixes a gob-encoded record so the reader can
// frame independent records within one chunk file without needing a
// single long-lived decoder stream.
func writeRecord(w io.Writer, rec model.RenderedFeature) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(buf.Len()))
	if _, err := w.Write(lenBytes[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Merge performs the k-way merge over every chunk path across all
// writers, streaming records in sortKey order to emit. Stable w.r.t.
// insertion order within equal sortKeys via (chunkId, positionInChunk)
// tie-break in the heap.
func Merge(chunkPaths []string, emit func(model.RenderedFeature) error) error {
	var readers []*chunkReader
	for i, p := range chunkPaths {
		r, err := newChunkReader(p, i)
		if err != nil {
			return err
		}
		defer r.Close()
		readers = append(readers, r)
	}

	h := &mergeHeap{}
	for _, r := range readers {
		if rec, ok, err := r.next(); err != nil {
			return err
		} else if ok {
			heap.Push(h, &heapItem{rec: rec, reader: r})
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		item := heap.Pop(h).(*heapItem)
		if err := emit(item.rec); err != nil {
			return err
		}
		if rec, ok, err := item.reader.next(); err != nil {
			return err
		} else if ok {
			heap.Push(h, &heapItem{rec: rec, reader: item.reader})
		}
	}
	return nil
}
