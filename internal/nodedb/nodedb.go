// Package nodedb implements the NodeLocationStore (spec.md §4.1, C1): a
// persistent nodeId -> (lon,lat) table built in pass-1 and read random-
// access in pass-2, as a sorted packed table on disk plus a sparse
// in-memory index, the default representation spec.md names.
//
// Grounded on pmtiles/writer.go's sequential-append-with-running-offset
// Writer, generalized from "append opaque tile bytes" to "append fixed-size
// packed location records" and paired with a reader half the teacher's
// write-only Writer never needed.
package nodedb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/tileforge-dev/tileforge/internal/tferrors"
)

// recordSize is the fixed on-disk width of one entry: a 4-byte delta from
// the previous record's nodeId plus an 8-byte packed (lonE7,latE7) pair —
// 12 bytes/node, meeting spec.md §4.1's size budget exactly for the common
// case of densely-increasing OSM node ids.
const recordSize = 12

// spacing is the sparse index's N: every spacing-th record gets an
// in-memory anchor, per spec.md's "N ≈ 256".
const spacing = 256

type sparseEntry struct {
	nodeID      uint64
	recordIndex uint64
	checksum    uint64 // xxhash64 of the anchor's on-disk page, 0 until computed
}

// Store is a NodeLocationStore. It is single-writer during pass-1 and
// many-reader during pass-2, per spec.md §5 — callers are responsible for
// not calling Put after FinishWriting, and for only calling Get after it.
type Store struct {
	path   string
	w      *os.File
	bw     *bufio.Writer
	r      *os.File
	sparse []sparseEntry
	count  uint64
	lastID uint64
	first  bool

	// Debug enables the monotone-nondecreasing assertion on Put, per
	// spec.md §4.1 ("enforces via assertion on a debug contract").
	Debug bool
}

// Create opens a fresh NodeLocationStore for pass-1 writing.
func Create(path string) (*Store, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, tferrors.New(tferrors.IoFailure, err)
	}
	return &Store{
		path:  path,
		w:     f,
		bw:    bufio.NewWriterSize(f, 1<<20),
		first: true,
	}, nil
}

// Put records nodeId -> (lon,lat). Callers must present nodeIds in
// nondecreasing order; violating this is a debug-contract break
// (spec.md §4.1) and produces undefined results when Debug is false.
func (s *Store) Put(nodeID uint64, lon, lat float64) error {
	if s.Debug && !s.first && nodeID < s.lastID {
		panic(fmt.Sprintf("nodedb: Put called with decreasing nodeId %d after %d", nodeID, s.lastID))
	}

	var delta uint64
	if !s.first {
		delta = nodeID - s.lastID
	}
	if delta > 0xFFFFFFFF {
		return tferrors.New(tferrors.Internal, fmt.Errorf("nodedb: delta %d between consecutive node ids overflows 32 bits", delta))
	}

	if s.count%spacing == 0 {
		s.sparse = append(s.sparse, sparseEntry{nodeID: nodeID, recordIndex: s.count})
	}

	var rec [recordSize]byte
	binary.LittleEndian.PutUint32(rec[0:4], uint32(delta))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(int32(lon*1e7)))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(int32(lat*1e7)))
	if _, err := s.bw.Write(rec[:]); err != nil {
		return tferrors.New(tferrors.OutOfDisk, err)
	}

	s.lastID = nodeID
	s.first = false
	s.count++
	return nil
}

// FinishWriting flushes and closes the write side, computes per-page
// checksums over the sparse anchors, and reopens the file read-only so Get
// becomes available. This is the pass-1 -> pass-2 transition spec.md §5
// enforces via its state machine.
func (s *Store) FinishWriting() error {
	if err := s.bw.Flush(); err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	if err := s.w.Close(); err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	s.w = nil
	s.bw = nil

	r, err := os.Open(s.path)
	if err != nil {
		return tferrors.New(tferrors.IoFailure, err)
	}
	s.r = r

	for i := range s.sparse {
		pageRecords := uint64(spacing)
		if i == len(s.sparse)-1 {
			pageRecords = s.count - s.sparse[i].recordIndex
		}
		buf := make([]byte, pageRecords*recordSize)
		off := int64(s.sparse[i].recordIndex) * recordSize
		if _, err := r.ReadAt(buf, off); err != nil {
			return tferrors.New(tferrors.IoFailure, err)
		}
		s.sparse[i].checksum = xxhash.Sum64(buf)
	}
	return nil
}

// Count returns the number of entries written.
func (s *Store) Count() uint64 { return s.count }

// Get looks up nodeId, returning (lon, lat, true) if it was written during
// pass-1, or (0, 0, false) otherwise — the MissingNodeReference case spec.md
// §3/§7 requires the pipeline to count and continue past, not fail on.
func (s *Store) Get(nodeID uint64) (lon, lat float64, ok bool) {
	if s.r == nil || len(s.sparse) == 0 {
		return 0, 0, false
	}

	anchor := s.anchorFor(nodeID)
	if anchor < 0 {
		return 0, 0, false
	}

	pageRecords := uint64(spacing)
	if anchor == len(s.sparse)-1 {
		pageRecords = s.count - s.sparse[anchor].recordIndex
	}
	buf := make([]byte, pageRecords*recordSize)
	off := int64(s.sparse[anchor].recordIndex) * recordSize
	if _, err := s.r.ReadAt(buf, off); err != nil {
		return 0, 0, false
	}

	curID := s.sparse[anchor].nodeID
	for i := uint64(0); i < pageRecords; i++ {
		rec := buf[i*recordSize : (i+1)*recordSize]
		if i > 0 {
			delta := binary.LittleEndian.Uint32(rec[0:4])
			curID += uint64(delta)
		}
		if curID == nodeID {
			lonE7 := int32(binary.LittleEndian.Uint32(rec[4:8]))
			latE7 := int32(binary.LittleEndian.Uint32(rec[8:12]))
			return float64(lonE7) / 1e7, float64(latE7) / 1e7, true
		}
		if curID > nodeID {
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// anchorFor binary-searches the sparse index for the last anchor whose
// nodeId is <= nodeID, returning -1 if nodeID precedes the first entry.
func (s *Store) anchorFor(nodeID uint64) int {
	lo, hi := 0, len(s.sparse)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if s.sparse[mid].nodeID <= nodeID {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// PageChecksum returns the xxhash64 digest of the on-disk page backing the
// i-th sparse anchor, computed once in FinishWriting. Exposed for
// corruption sanity checks; not required for correctness of Get.
func (s *Store) PageChecksum(anchor int) (uint64, bool) {
	if anchor < 0 || anchor >= len(s.sparse) {
		return 0, false
	}
	return s.sparse[anchor].checksum, true
}

// Close releases the read-side file handle.
func (s *Store) Close() error {
	if s.r != nil {
		err := s.r.Close()
		s.r = nil
		return err
	}
	return nil
}

// Remove deletes the backing file, per spec.md §3's lifecycle ("deleted
// before MBTiles finalization to reclaim disk").
func (s *Store) Remove() error {
	_ = s.Close()
	return os.Remove(s.path)
}
