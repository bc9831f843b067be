// Package tiling implements the TileCoord <-> tileId codec described in
// spec.md §3: lexicographic byte order on tileId must equal Hilbert-curve
// order over (x,y) within a zoom, with zoom bands concatenated ascending.
package tiling

import "fmt"

// MaxZoom is the highest zoom level the pipeline ever renders to.
const MaxZoom = 14

// Coord is a single (z,x,y) tile address.
type Coord struct {
	Z uint8
	X uint32
	Y uint32
}

// Valid reports whether c obeys spec.md's 0 <= z <= 14, 0 <= x,y < 2^z.
func (c Coord) Valid() bool {
	if c.Z > MaxZoom {
		return false
	}
	n := uint32(1) << c.Z
	return c.X < n && c.Y < n
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// tilesBelow returns the count of tiles at zoom levels [0, z).
func tilesBelow(z uint8) uint64 {
	var acc uint64
	for tz := uint8(0); tz < z; tz++ {
		n := uint64(1) << tz
		acc += n * n
	}
	return acc
}

func rotate(n uint64, x, y *uint64, rx, ry uint64) {
	if ry == 0 {
		if rx == 1 {
			*x = n - 1 - *x
			*y = n - 1 - *y
		}
		*x, *y = *y, *x
	}
}

// ID packs a Coord into a 64-bit tileId: the Hilbert index of (x,y) within
// its zoom, offset by the number of tiles in every lower zoom band, so that
// byte-wise comparison of IDs orders tiles first by zoom, then by Hilbert
// locality within a zoom — the spatial-locality invariant spec.md requires
// of the external sort's key.
func ID(c Coord) uint64 {
	acc := tilesBelow(c.Z)
	n := uint64(1) << c.Z
	var rx, ry, d uint64
	tx, ty := uint64(c.X), uint64(c.Y)
	for s := n / 2; s > 0; s /= 2 {
		if tx&s > 0 {
			rx = 1
		} else {
			rx = 0
		}
		if ty&s > 0 {
			ry = 1
		} else {
			ry = 0
		}
		d += s * s * ((3 * rx) ^ ry)
		rotate(s, &tx, &ty, rx, ry)
	}
	return acc + d
}

func onLevel(z uint8, pos uint64) Coord {
	n := uint64(1) << z
	rx, ry, t := pos, pos, pos
	var tx, ty uint64
	for s := uint64(1); s < n; s *= 2 {
		rx = 1 & (t / 2)
		ry = 1 & (t ^ rx)
		rotate(s, &tx, &ty, rx, ry)
		tx += s * rx
		ty += s * ry
		t /= 4
	}
	return Coord{Z: z, X: uint32(tx), Y: uint32(ty)}
}

// FromID inverts ID.
func FromID(id uint64) Coord {
	var acc uint64
	var z uint8
	for {
		numTiles := (uint64(1) << z) * (uint64(1) << z)
		if acc+numTiles > id {
			return onLevel(z, id-acc)
		}
		acc += numTiles
		z++
	}
}

// ParentID finds the tileId of id's parent tile without a full ID/FromID
// round trip.
func ParentID(id uint64) uint64 {
	var acc, lastAcc uint64
	var z uint8
	for {
		numTiles := (uint64(1) << z) * (uint64(1) << z)
		if acc+numTiles > id {
			return lastAcc + (id-acc)/4
		}
		lastAcc = acc
		acc += numTiles
		z++
	}
}

// TMSRow converts an XYZ row to the TMS row MBTiles stores on disk.
func TMSRow(z uint8, y uint32) uint32 {
	return (uint32(1) << z) - 1 - y
}
