package rasresult

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/zclconf/go-cty/cty"
)

// The result container is HDF5. This file implements the subset of the
// format HEC-RAS actually writes: a version 0 or 1 superblock, version 1
// group B-trees with symbol-table nodes and local heaps, version 1 object
// headers, and contiguous, compact or deflate-chunked raw data. Everything
// is little-endian with 8-byte offsets and lengths.

var hdf5Signature = []byte("\x89HDF\r\n\x1a\n")

func leUint16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func leUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

const undefAddr = ^uint64(0)

// Object header message types.
const (
	msgDataspace    = 0x0001
	msgDatatype     = 0x0003
	msgFillValue    = 0x0005
	msgLayout       = 0x0008
	msgFilters      = 0x000B
	msgAttribute    = 0x000C
	msgContinuation = 0x0010
	msgSymbolTable  = 0x0011
)

// Datatype classes.
const (
	classFixed  = 0
	classFloat  = 1
	classString = 3
)

const filterDeflate = 1

type h5 struct {
	name string
	b    []byte
}

// sec bounds-checks a slice of the file image. Corrupt offsets become a
// ReadError instead of a panic.
func (f *h5) sec(addr, n uint64) ([]byte, error) {
	if addr == undefAddr || addr+n < addr || addr+n > uint64(len(f.b)) {
		return nil, &ReadError{File: f.name,
			Reason: fmt.Sprintf("offset %#x+%d outside file of %d bytes", addr, n, len(f.b))}
	}
	return f.b[addr : addr+n], nil
}

func (f *h5) corrupt(format string, args ...any) error {
	return &ReadError{File: f.name, Reason: fmt.Sprintf(format, args...)}
}

// openImage validates the superblock and returns the root group's object
// header address.
func (f *h5) openImage() (uint64, error) {
	if len(f.b) < 96 || !bytes.Equal(f.b[:8], hdf5Signature) {
		return 0, &ReadError{File: f.name, Reason: "not an HDF5 container (bad signature)"}
	}
	version := f.b[8]
	if version > 1 {
		return 0, f.corrupt("unsupported superblock version %d", version)
	}
	if f.b[13] != 8 || f.b[14] != 8 {
		return 0, f.corrupt("unsupported offset/length size %d/%d", f.b[13], f.b[14])
	}
	// Version 1 inserts the indexed-storage K and two reserved bytes
	// before the address block.
	shift := uint64(0)
	if version == 1 {
		shift = 4
	}
	entry, err := f.sec(56+shift, 40)
	if err != nil {
		return 0, err
	}
	return parseSymEntry(entry).headerAddr, nil
}

type symEntry struct {
	nameOff    uint64
	headerAddr uint64
	cacheType  uint32
	scratch    []byte
}

func parseSymEntry(b []byte) symEntry {
	return symEntry{
		nameOff:    binary.LittleEndian.Uint64(b[0:]),
		headerAddr: binary.LittleEndian.Uint64(b[8:]),
		cacheType:  binary.LittleEndian.Uint32(b[16:]),
		scratch:    b[24:40],
	}
}

type message struct {
	kind uint16
	data []byte
}

// objectMessages reads every message of a version 1 object header,
// following continuation blocks.
func (f *h5) objectMessages(addr uint64) ([]message, error) {
	prefix, err := f.sec(addr, 16)
	if err != nil {
		return nil, err
	}
	if prefix[0] != 1 {
		return nil, f.corrupt("object header at %#x: unsupported version %d", addr, prefix[0])
	}
	total := int(binary.LittleEndian.Uint16(prefix[2:]))
	size := uint64(binary.LittleEndian.Uint32(prefix[8:]))

	type block struct{ addr, size uint64 }
	blocks := []block{{addr + 16, size}}
	var msgs []message
	for bi := 0; bi < len(blocks) && len(msgs) < total; bi++ {
		data, err := f.sec(blocks[bi].addr, blocks[bi].size)
		if err != nil {
			return nil, err
		}
		pos := 0
		for pos+8 <= len(data) && len(msgs) < total {
			kind := binary.LittleEndian.Uint16(data[pos:])
			msgSize := int(binary.LittleEndian.Uint16(data[pos+2:]))
			pos += 8
			if pos+msgSize > len(data) {
				return nil, f.corrupt("object header at %#x: message overruns block", addr)
			}
			body := data[pos : pos+msgSize]
			pos += msgSize
			if kind == msgContinuation {
				blocks = append(blocks, block{
					binary.LittleEndian.Uint64(body[0:]),
					binary.LittleEndian.Uint64(body[8:]),
				})
				msgs = append(msgs, message{kind: kind})
				continue
			}
			msgs = append(msgs, message{kind: kind, data: body})
		}
	}
	return msgs, nil
}

func findMessage(msgs []message, kind uint16) []byte {
	for _, m := range msgs {
		if m.kind == kind {
			return m.data
		}
	}
	return nil
}

// heapString reads a NUL-terminated link name out of a local heap.
func (f *h5) heapString(heapAddr, off uint64) (string, error) {
	hdr, err := f.sec(heapAddr, 32)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(hdr[:4], []byte("HEAP")) {
		return "", f.corrupt("bad local heap signature at %#x", heapAddr)
	}
	segSize := binary.LittleEndian.Uint64(hdr[8:])
	segAddr := binary.LittleEndian.Uint64(hdr[24:])
	if off >= segSize {
		return "", f.corrupt("heap offset %d outside segment of %d bytes", off, segSize)
	}
	data, err := f.sec(segAddr, segSize)
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		end = len(data) - int(off)
	}
	return string(data[off : int(off)+end]), nil
}

// groupEntries walks a group's version 1 B-tree and returns its named
// children in tree order.
func (f *h5) groupEntries(btreeAddr, heapAddr uint64) ([]namedEntry, error) {
	var out []namedEntry
	err := f.walkGroupNode(btreeAddr, heapAddr, &out)
	return out, err
}

type namedEntry struct {
	name  string
	entry symEntry
}

func (f *h5) walkGroupNode(addr, heapAddr uint64, out *[]namedEntry) error {
	hdr, err := f.sec(addr, 24)
	if err != nil {
		return err
	}
	if !bytes.Equal(hdr[:4], []byte("TREE")) {
		return f.corrupt("bad B-tree signature at %#x", addr)
	}
	if hdr[4] != 0 {
		return f.corrupt("B-tree node at %#x has type %d, want group node", addr, hdr[4])
	}
	level := hdr[5]
	used := int(binary.LittleEndian.Uint16(hdr[6:]))

	// key0 child0 key1 child1 ... keyN; keys are heap offsets we ignore.
	body, err := f.sec(addr+24, uint64(used*16+8))
	if err != nil {
		return err
	}
	for i := 0; i < used; i++ {
		child := binary.LittleEndian.Uint64(body[8+i*16:])
		if level > 0 {
			if err := f.walkGroupNode(child, heapAddr, out); err != nil {
				return err
			}
			continue
		}
		if err := f.readSymbolNode(child, heapAddr, out); err != nil {
			return err
		}
	}
	return nil
}

func (f *h5) readSymbolNode(addr, heapAddr uint64, out *[]namedEntry) error {
	hdr, err := f.sec(addr, 8)
	if err != nil {
		return err
	}
	if !bytes.Equal(hdr[:4], []byte("SNOD")) {
		return f.corrupt("bad symbol node signature at %#x", addr)
	}
	count := int(binary.LittleEndian.Uint16(hdr[6:]))
	body, err := f.sec(addr+8, uint64(count*40))
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		e := parseSymEntry(body[i*40 : i*40+40])
		name, err := f.heapString(heapAddr, e.nameOff)
		if err != nil {
			return err
		}
		*out = append(*out, namedEntry{name: name, entry: e})
	}
	return nil
}

type datatype struct {
	class  int
	size   int
	signed bool
	strPad int
}

func parseDatatype(b []byte) (datatype, error) {
	if len(b) < 8 {
		return datatype{}, fmt.Errorf("datatype message too short")
	}
	dt := datatype{
		class: int(b[0] & 0x0F),
		size:  int(binary.LittleEndian.Uint32(b[4:])),
	}
	switch dt.class {
	case classFixed:
		dt.signed = b[1]&0x08 != 0
	case classFloat:
	case classString:
		dt.strPad = int(b[1] & 0x0F)
	default:
		return dt, fmt.Errorf("unsupported datatype class %d", dt.class)
	}
	if b[1]&0x01 != 0 {
		return dt, fmt.Errorf("big-endian datatypes not supported")
	}
	return dt, nil
}

func parseDataspace(b []byte) ([]uint64, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("dataspace message too short")
	}
	version := b[0]
	rank := int(b[1])
	var off int
	switch version {
	case 1:
		off = 8 // version, rank, flags, 5 reserved
	case 2:
		off = 4 // version, rank, flags, type
	default:
		return nil, fmt.Errorf("unsupported dataspace version %d", version)
	}
	if len(b) < off+rank*8 {
		return nil, fmt.Errorf("dataspace message truncated")
	}
	dims := make([]uint64, rank)
	for i := range dims {
		dims[i] = binary.LittleEndian.Uint64(b[off+i*8:])
	}
	return dims, nil
}

const (
	layoutCompact    = 0
	layoutContiguous = 1
	layoutChunked    = 2
)

type layout struct {
	class     int
	data      []byte   // compact
	addr      uint64   // contiguous data or chunk B-tree
	size      uint64   // contiguous
	chunkDims []uint64 // chunked, element-size dimension stripped
}

func parseLayout(b []byte) (layout, error) {
	if len(b) < 2 {
		return layout{}, fmt.Errorf("layout message too short")
	}
	if b[0] != 3 {
		return layout{}, fmt.Errorf("unsupported data layout version %d", b[0])
	}
	l := layout{class: int(b[1])}
	switch l.class {
	case layoutCompact:
		size := int(binary.LittleEndian.Uint16(b[2:]))
		if len(b) < 4+size {
			return l, fmt.Errorf("compact data truncated")
		}
		l.data = b[4 : 4+size]
	case layoutContiguous:
		l.addr = binary.LittleEndian.Uint64(b[2:])
		l.size = binary.LittleEndian.Uint64(b[10:])
	case layoutChunked:
		rank := int(b[2]) // includes the trailing element-size dimension
		l.addr = binary.LittleEndian.Uint64(b[3:])
		if len(b) < 11+rank*4 {
			return l, fmt.Errorf("chunked layout truncated")
		}
		for i := 0; i < rank-1; i++ {
			l.chunkDims = append(l.chunkDims, uint64(binary.LittleEndian.Uint32(b[11+i*4:])))
		}
	default:
		return l, fmt.Errorf("unsupported data layout class %d", l.class)
	}
	return l, nil
}

// parseFilters accepts a version 1 filter pipeline containing only deflate.
func parseFilters(b []byte) (deflated bool, err error) {
	if len(b) < 8 {
		return false, fmt.Errorf("filter pipeline message too short")
	}
	if b[0] != 1 {
		return false, fmt.Errorf("unsupported filter pipeline version %d", b[0])
	}
	n := int(b[1])
	pos := 8
	for i := 0; i < n; i++ {
		if pos+8 > len(b) {
			return false, fmt.Errorf("filter pipeline truncated")
		}
		id := binary.LittleEndian.Uint16(b[pos:])
		nameLen := int(binary.LittleEndian.Uint16(b[pos+2:]))
		clientN := int(binary.LittleEndian.Uint16(b[pos+6:]))
		if id != filterDeflate {
			return false, fmt.Errorf("unsupported filter id %d", id)
		}
		deflated = true
		pos += 8 + pad8(nameLen) + clientN*4
		if clientN%2 == 1 {
			pos += 4
		}
	}
	return deflated, nil
}

func pad8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + 8 - n%8
}

// readRaw materializes a dataset's raw bytes per its layout.
func (f *h5) readRaw(l layout, dims []uint64, elemSize int, deflated bool) ([]byte, error) {
	total := elemSize
	for _, d := range dims {
		total *= int(d)
	}
	switch l.class {
	case layoutCompact:
		return l.data, nil
	case layoutContiguous:
		if l.addr == undefAddr {
			return nil, nil // declared but never written
		}
		return f.sec(l.addr, l.size)
	case layoutChunked:
		raw := make([]byte, total)
		if l.addr == undefAddr {
			return raw, nil
		}
		if err := f.walkChunkNode(l.addr, dims, l.chunkDims, elemSize, deflated, raw); err != nil {
			return nil, err
		}
		return raw, nil
	}
	return nil, f.corrupt("unsupported data layout class %d", l.class)
}

func (f *h5) walkChunkNode(addr uint64, dims, chunkDims []uint64, elemSize int, deflated bool, raw []byte) error {
	hdr, err := f.sec(addr, 24)
	if err != nil {
		return err
	}
	if !bytes.Equal(hdr[:4], []byte("TREE")) {
		return f.corrupt("bad chunk B-tree signature at %#x", addr)
	}
	if hdr[4] != 1 {
		return f.corrupt("B-tree node at %#x has type %d, want chunk node", addr, hdr[4])
	}
	level := hdr[5]
	used := int(binary.LittleEndian.Uint16(hdr[6:]))

	keySize := 8 + (len(chunkDims)+1)*8
	body, err := f.sec(addr+24, uint64(used*(keySize+8)+keySize))
	if err != nil {
		return err
	}
	for i := 0; i < used; i++ {
		key := body[i*(keySize+8):]
		child := binary.LittleEndian.Uint64(key[keySize:])
		if level > 0 {
			if err := f.walkChunkNode(child, dims, chunkDims, elemSize, deflated, raw); err != nil {
				return err
			}
			continue
		}
		storedSize := uint64(binary.LittleEndian.Uint32(key[0:]))
		offsets := make([]uint64, len(chunkDims))
		for d := range offsets {
			offsets[d] = binary.LittleEndian.Uint64(key[8+d*8:])
		}
		chunk, err := f.sec(child, storedSize)
		if err != nil {
			return err
		}
		if deflated {
			chunk, err = inflate(chunk)
			if err != nil {
				return f.corrupt("chunk at %#x: %v", child, err)
			}
		}
		scatterChunk(raw, chunk, dims, chunkDims, offsets, elemSize)
	}
	return nil
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// scatterChunk copies one decompressed chunk into the full row-major raw
// buffer, skipping elements past the dataset edge.
func scatterChunk(raw, chunk []byte, dims, chunkDims, offsets []uint64, elemSize int) {
	idx := make([]uint64, len(chunkDims))
	for src := 0; ; src++ {
		inside := true
		linear := uint64(0)
		for d := range dims {
			pos := offsets[d] + idx[d]
			if pos >= dims[d] {
				inside = false
			}
			linear = linear*dims[d] + pos
		}
		if inside {
			dst := int(linear) * elemSize
			so := src * elemSize
			if so+elemSize <= len(chunk) && dst+elemSize <= len(raw) {
				copy(raw[dst:dst+elemSize], chunk[so:so+elemSize])
			}
		}
		// Odometer over the chunk's own dimensions.
		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < chunkDims[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

// decodeValues converts raw bytes into typed values per the datatype.
func decodeValues(dt datatype, raw []byte) ([]cty.Value, error) {
	if dt.size == 0 {
		return nil, fmt.Errorf("zero-size datatype")
	}
	n := len(raw) / dt.size
	out := make([]cty.Value, 0, n)
	for i := 0; i < n; i++ {
		cell := raw[i*dt.size : (i+1)*dt.size]
		v, err := decodeScalar(dt, cell)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeScalar(dt datatype, cell []byte) (cty.Value, error) {
	switch dt.class {
	case classFloat:
		switch dt.size {
		case 4:
			return cty.NumberFloatVal(float64(math.Float32frombits(binary.LittleEndian.Uint32(cell)))), nil
		case 8:
			return cty.NumberFloatVal(math.Float64frombits(binary.LittleEndian.Uint64(cell))), nil
		}
		return cty.NilVal, fmt.Errorf("unsupported float size %d", dt.size)
	case classFixed:
		var u uint64
		switch dt.size {
		case 1:
			u = uint64(cell[0])
		case 2:
			u = uint64(binary.LittleEndian.Uint16(cell))
		case 4:
			u = uint64(binary.LittleEndian.Uint32(cell))
		case 8:
			u = binary.LittleEndian.Uint64(cell)
		default:
			return cty.NilVal, fmt.Errorf("unsupported integer size %d", dt.size)
		}
		if dt.signed {
			shift := uint(64 - dt.size*8)
			return cty.NumberIntVal(int64(u<<shift) >> shift), nil
		}
		return cty.NumberUIntVal(u), nil
	case classString:
		s := cell
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		if dt.strPad == 2 { // space padded
			s = bytes.TrimRight(s, " ")
		}
		return cty.StringVal(string(s)), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported datatype class %d", dt.class)
}
