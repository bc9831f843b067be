package featuresort

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"
	"sort"

	"github.com/tileforge-dev/tileforge/internal/model"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

// sortSlice sorts records in sortKey order. The sort is stable, so records
// with equal sortKeys keep their insertion order within one chunk; across
// chunks the merge's (chunkId, positionInChunk) tie-break keeps it.
func sortSlice(recs []model.RenderedFeature) {
	sort.SliceStable(recs, func(i, j int) bool {
		return less(keyOf(recs[i]), keyOf(recs[j]))
	})
}

// chunkReader streams length-prefixed gob records back out of one spill
// file, tracking position for the merge's (chunkId, positionInChunk)
// stability tie-break.
type chunkReader struct {
	id   int
	pos  int
	f    *os.File
	br   *bufio.Reader
}

func newChunkReader(path string, id int) (*chunkReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tferrors.New(tferrors.IoFailure, err)
	}
	return &chunkReader{id: id, f: f, br: bufio.NewReader(f)}, nil
}

func (r *chunkReader) next() (model.RenderedFeature, bool, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r.br, lenBytes[:]); err != nil {
		if err == io.EOF {
			return model.RenderedFeature{}, false, nil
		}
		return model.RenderedFeature{}, false, tferrors.New(tferrors.IoFailure, err)
	}
	n := binary.LittleEndian.Uint32(lenBytes[:])

	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return model.RenderedFeature{}, false, tferrors.New(tferrors.IoFailure, err)
	}

	var rec model.RenderedFeature
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&rec); err != nil {
		return model.RenderedFeature{}, false, tferrors.New(tferrors.IoFailure, err)
	}
	r.pos++
	return rec, true, nil
}

func (r *chunkReader) Close() error { return r.f.Close() }

// heapItem is one merge participant's current head record.
type heapItem struct {
	rec    model.RenderedFeature
	reader *chunkReader
}

// mergeHeap is the container/heap min-heap over heapItems, ordered by
// sortKey with (chunkId, positionInChunk) as the final tie-break for
// stability.
type mergeHeap []*heapItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	ki, kj := keyOf(h[i].rec), keyOf(h[j].rec)
	if ki != kj {
		return less(ki, kj)
	}
	if h[i].reader.id != h[j].reader.id {
		return h[i].reader.id < h[j].reader.id
	}
	return h[i].reader.pos < h[j].reader.pos
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) {
	*h = append(*h, x.(*heapItem))
}

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
