package testutil

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// H5Group is a test fixture description of one group in a result
// container. Values are nested H5Group or H5Dataset entries.
type H5Group map[string]any

// H5Dataset describes one dataset fixture. Exactly one of Floats, Ints or
// Strings must be set.
type H5Dataset struct {
	Shape   []int
	Floats  []float64
	Ints    []int32
	Strings []string
	// StringSize is the fixed cell size for Strings datasets.
	StringSize int
	// Chunked, when set, stores the data as deflate-compressed chunks of
	// this shape instead of one contiguous block.
	Chunked []int
	// Attrs holds scalar or []float64 attribute fixtures.
	Attrs map[string]any
}

// WriteHDF5 encodes the fixture tree and writes it to path.
func WriteHDF5(t *testing.T, path string, root H5Group) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, EncodeHDF5(root), 0o644))
}

// EncodeHDF5 serializes the fixture tree as a minimal but well-formed HDF5
// image: version 0 superblock, version 1 group B-trees with symbol nodes
// and local heaps, version 1 object headers, little-endian throughout.
func EncodeHDF5(root H5Group) []byte {
	w := &h5writer{}
	w.buf = make([]byte, 96) // superblock patched at the end
	rootAddr := w.writeGroup(root)
	w.patchSuperblock(rootAddr)
	return w.buf
}

const h5Undef = ^uint64(0)

type h5writer struct {
	buf []byte
}

func (w *h5writer) alloc(b []byte) uint64 {
	addr := uint64(len(w.buf))
	w.buf = append(w.buf, b...)
	return addr
}

func (w *h5writer) patchSuperblock(rootAddr uint64) {
	b := w.buf[:96]
	copy(b, "\x89HDF\r\n\x1a\n")
	b[13] = 8 // size of offsets
	b[14] = 8 // size of lengths
	binary.LittleEndian.PutUint16(b[16:], 4)  // group leaf node K
	binary.LittleEndian.PutUint16(b[18:], 16) // group internal node K
	binary.LittleEndian.PutUint64(b[24:], 0)  // base address
	binary.LittleEndian.PutUint64(b[32:], h5Undef)
	binary.LittleEndian.PutUint64(b[40:], uint64(len(w.buf))) // end of file
	binary.LittleEndian.PutUint64(b[48:], h5Undef)
	// Root symbol table entry.
	binary.LittleEndian.PutUint64(b[64:], rootAddr)
}

// writeGroup emits children bottom-up, then the heap, symbol node, B-tree
// and group object header.
func (w *h5writer) writeGroup(g H5Group) uint64 {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)

	heap := []byte{0} // offset 0 stays reserved
	type child struct {
		nameOff, header uint64
	}
	children := make([]child, 0, len(names))
	for _, name := range names {
		var header uint64
		switch v := g[name].(type) {
		case H5Group:
			header = w.writeGroup(v)
		case H5Dataset:
			header = w.writeDataset(v)
		case *H5Dataset:
			header = w.writeDataset(*v)
		default:
			panic("fixture group values must be H5Group or H5Dataset")
		}
		children = append(children, child{nameOff: uint64(len(heap)), header: header})
		heap = append(heap, name...)
		heap = append(heap, 0)
	}
	for len(heap)%8 != 0 {
		heap = append(heap, 0)
	}
	heapData := w.alloc(heap)

	heapHdr := make([]byte, 32)
	copy(heapHdr, "HEAP")
	binary.LittleEndian.PutUint64(heapHdr[8:], uint64(len(heap)))
	binary.LittleEndian.PutUint64(heapHdr[24:], heapData)
	heapAddr := w.alloc(heapHdr)

	snod := make([]byte, 8+40*len(children))
	copy(snod, "SNOD")
	snod[4] = 1
	binary.LittleEndian.PutUint16(snod[6:], uint16(len(children)))
	for i, c := range children {
		e := snod[8+i*40:]
		binary.LittleEndian.PutUint64(e[0:], c.nameOff)
		binary.LittleEndian.PutUint64(e[8:], c.header)
	}
	snodAddr := w.alloc(snod)

	tree := make([]byte, 24+24)
	copy(tree, "TREE")
	tree[4] = 0 // group node
	tree[5] = 0 // leaf level
	binary.LittleEndian.PutUint16(tree[6:], 1)
	binary.LittleEndian.PutUint64(tree[8:], h5Undef)
	binary.LittleEndian.PutUint64(tree[16:], h5Undef)
	binary.LittleEndian.PutUint64(tree[32:], snodAddr)
	treeAddr := w.alloc(tree)

	st := make([]byte, 16)
	binary.LittleEndian.PutUint64(st[0:], treeAddr)
	binary.LittleEndian.PutUint64(st[8:], heapAddr)
	return w.writeObjectHeader([]h5msg{{kind: 0x0011, body: st}})
}

type h5msg struct {
	kind uint16
	body []byte
}

func (w *h5writer) writeObjectHeader(msgs []h5msg) uint64 {
	var body []byte
	for _, m := range msgs {
		padded := padTo8(m.body)
		hdr := make([]byte, 8)
		binary.LittleEndian.PutUint16(hdr[0:], m.kind)
		binary.LittleEndian.PutUint16(hdr[2:], uint16(len(padded)))
		body = append(body, hdr...)
		body = append(body, padded...)
	}
	prefix := make([]byte, 16)
	prefix[0] = 1
	binary.LittleEndian.PutUint16(prefix[2:], uint16(len(msgs)))
	binary.LittleEndian.PutUint32(prefix[4:], 1) // reference count
	binary.LittleEndian.PutUint32(prefix[8:], uint32(len(body)))
	return w.alloc(append(prefix, body...))
}

func (w *h5writer) writeDataset(ds H5Dataset) uint64 {
	dt, raw := encodeData(ds)
	msgs := []h5msg{
		{kind: 0x0001, body: dataspaceMsg(ds.Shape)},
		{kind: 0x0003, body: dt},
	}

	elemSize := len(raw)
	if n := numElems(ds.Shape); n > 0 {
		elemSize = len(raw) / n
	}
	if ds.Chunked != nil {
		treeAddr, filterMsg := w.writeChunks(ds, raw, elemSize)
		layout := make([]byte, 11+(len(ds.Chunked)+1)*4)
		layout[0] = 3
		layout[1] = 2 // chunked
		layout[2] = byte(len(ds.Chunked) + 1)
		binary.LittleEndian.PutUint64(layout[3:], treeAddr)
		for i, c := range ds.Chunked {
			binary.LittleEndian.PutUint32(layout[11+i*4:], uint32(c))
		}
		binary.LittleEndian.PutUint32(layout[11+len(ds.Chunked)*4:], uint32(elemSize))
		msgs = append(msgs,
			h5msg{kind: 0x000B, body: filterMsg},
			h5msg{kind: 0x0008, body: layout})
	} else {
		dataAddr := w.alloc(raw)
		layout := make([]byte, 18)
		layout[0] = 3
		layout[1] = 1 // contiguous
		binary.LittleEndian.PutUint64(layout[2:], dataAddr)
		binary.LittleEndian.PutUint64(layout[10:], uint64(len(raw)))
		msgs = append(msgs, h5msg{kind: 0x0008, body: layout})
	}

	attrNames := make([]string, 0, len(ds.Attrs))
	for name := range ds.Attrs {
		attrNames = append(attrNames, name)
	}
	sort.Strings(attrNames)
	for _, name := range attrNames {
		msgs = append(msgs, h5msg{kind: 0x000C, body: attributeMsg(name, ds.Attrs[name])})
	}
	return w.writeObjectHeader(msgs)
}

// writeChunks splits the raw buffer into deflate-compressed chunks and
// emits a single-leaf chunk B-tree.
func (w *h5writer) writeChunks(ds H5Dataset, raw []byte, elemSize int) (uint64, []byte) {
	dims := ds.Shape
	chunkDims := ds.Chunked
	type chunkRef struct {
		offsets []int
		addr    uint64
		stored  int
	}
	var chunks []chunkRef

	// Iterate chunk origins over the dataset extent.
	origin := make([]int, len(dims))
	for {
		chunk := make([]byte, numElems(chunkDims)*elemSize)
		idx := make([]int, len(chunkDims))
		for src := 0; ; src++ {
			inside := true
			linear := 0
			for d := range dims {
				pos := origin[d] + idx[d]
				if pos >= dims[d] {
					inside = false
				}
				linear = linear*dims[d] + pos
			}
			if inside {
				copy(chunk[src*elemSize:(src+1)*elemSize], raw[linear*elemSize:(linear+1)*elemSize])
			}
			if !advance(idx, chunkDims) {
				break
			}
		}
		var comp bytes.Buffer
		zw := zlib.NewWriter(&comp)
		zw.Write(chunk)
		zw.Close()
		chunks = append(chunks, chunkRef{
			offsets: append([]int(nil), origin...),
			addr:    w.alloc(comp.Bytes()),
			stored:  comp.Len(),
		})
		if !advanceBy(origin, dims, chunkDims) {
			break
		}
	}

	keySize := 8 + (len(dims)+1)*8
	tree := make([]byte, 24+len(chunks)*(keySize+8)+keySize)
	copy(tree, "TREE")
	tree[4] = 1 // chunk node
	binary.LittleEndian.PutUint16(tree[6:], uint16(len(chunks)))
	binary.LittleEndian.PutUint64(tree[8:], h5Undef)
	binary.LittleEndian.PutUint64(tree[16:], h5Undef)
	pos := 24
	for _, c := range chunks {
		binary.LittleEndian.PutUint32(tree[pos:], uint32(c.stored))
		for d, off := range c.offsets {
			binary.LittleEndian.PutUint64(tree[pos+8+d*8:], uint64(off))
		}
		binary.LittleEndian.PutUint64(tree[pos+keySize:], c.addr)
		pos += keySize + 8
	}
	// Final key marks the dataspace extent.
	for d, dim := range dims {
		binary.LittleEndian.PutUint64(tree[pos+8+d*8:], uint64(dim))
	}
	treeAddr := w.alloc(tree)

	// One deflate filter, default level.
	filter := make([]byte, 16)
	filter[0] = 1
	filter[1] = 1
	binary.LittleEndian.PutUint16(filter[8:], 1)  // filter id: deflate
	binary.LittleEndian.PutUint16(filter[14:], 1) // one client value
	// client value (compression level) + odd-count pad occupy the
	// remaining 8 bytes via message padding
	filter = append(filter, 6, 0, 0, 0, 0, 0, 0, 0)
	return treeAddr, filter
}

func advance(idx, dims []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < dims[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}

func advanceBy(origin, dims, step []int) bool {
	for d := len(origin) - 1; d >= 0; d-- {
		origin[d] += step[d]
		if origin[d] < dims[d] {
			return true
		}
		origin[d] = 0
	}
	return false
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func encodeData(ds H5Dataset) (dtMsg []byte, raw []byte) {
	switch {
	case ds.Floats != nil:
		raw = make([]byte, len(ds.Floats)*8)
		for i, f := range ds.Floats {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(f))
		}
		return dtFloat64Msg(), raw
	case ds.Ints != nil:
		raw = make([]byte, len(ds.Ints)*4)
		for i, v := range ds.Ints {
			binary.LittleEndian.PutUint32(raw[i*4:], uint32(v))
		}
		return dtIntMsg(4), raw
	case ds.Strings != nil:
		size := ds.StringSize
		if size == 0 {
			for _, s := range ds.Strings {
				if len(s)+1 > size {
					size = len(s) + 1
				}
			}
		}
		raw = make([]byte, len(ds.Strings)*size)
		for i, s := range ds.Strings {
			copy(raw[i*size:], s)
		}
		return dtStringMsg(size), raw
	}
	panic("fixture dataset has no data")
}

func dtFloat64Msg() []byte {
	b := make([]byte, 20)
	b[0] = 0x11 // version 1, class 1 (float)
	b[1] = 0x20 // MSB-set internal padding convention; little-endian
	binary.LittleEndian.PutUint32(b[4:], 8)
	binary.LittleEndian.PutUint16(b[10:], 64) // precision
	b[12] = 52                                // exponent location
	b[13] = 11                                // exponent size
	b[14] = 0                                 // mantissa location
	b[15] = 52                                // mantissa size
	binary.LittleEndian.PutUint32(b[16:], 1023)
	return b
}

func dtIntMsg(size int) []byte {
	b := make([]byte, 12)
	b[0] = 0x10 // version 1, class 0 (fixed-point)
	b[1] = 0x08 // signed, little-endian
	binary.LittleEndian.PutUint32(b[4:], uint32(size))
	binary.LittleEndian.PutUint16(b[10:], uint16(size*8))
	return b
}

func dtStringMsg(size int) []byte {
	b := make([]byte, 8)
	b[0] = 0x13 // version 1, class 3 (string)
	b[1] = 0x00 // null-terminated, ASCII
	binary.LittleEndian.PutUint32(b[4:], uint32(size))
	return b
}

func dataspaceMsg(shape []int) []byte {
	b := make([]byte, 8+len(shape)*8)
	b[0] = 1
	b[1] = byte(len(shape))
	for i, d := range shape {
		binary.LittleEndian.PutUint64(b[8+i*8:], uint64(d))
	}
	return b
}

// attributeMsg encodes a version 1 attribute with a scalar or 1-D value.
func attributeMsg(name string, value any) []byte {
	var dt, data []byte
	var shape []int
	switch v := value.(type) {
	case float64:
		dt = dtFloat64Msg()
		data = make([]byte, 8)
		binary.LittleEndian.PutUint64(data, math.Float64bits(v))
	case int:
		dt = dtIntMsg(4)
		data = make([]byte, 4)
		binary.LittleEndian.PutUint32(data, uint32(int32(v)))
	case string:
		dt = dtStringMsg(len(v) + 1)
		data = append([]byte(v), 0)
	case []float64:
		dt = dtFloat64Msg()
		shape = []int{len(v)}
		data = make([]byte, len(v)*8)
		for i, f := range v {
			binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(f))
		}
	default:
		panic("fixture attribute values must be float64, int, string or []float64")
	}
	ds := dataspaceMsg(shape)

	nameBytes := append([]byte(name), 0)
	b := make([]byte, 8)
	b[0] = 1
	binary.LittleEndian.PutUint16(b[2:], uint16(len(nameBytes)))
	binary.LittleEndian.PutUint16(b[4:], uint16(len(dt)))
	binary.LittleEndian.PutUint16(b[6:], uint16(len(ds)))
	b = append(b, padTo8(nameBytes)...)
	b = append(b, padTo8(dt)...)
	b = append(b, padTo8(ds)...)
	return append(b, data...)
}

func padTo8(b []byte) []byte {
	for len(b)%8 != 0 {
		b = append(b, 0)
	}
	return b
}
