// Package rasresult extracts computed simulation output from HEC-RAS
// result containers into typed datasets.
//
// The container format is HDF5; hdf5.go holds the low-level walker. The
// public surface is deliberately small: Open a container (or hand over an
// in-memory image), then Read the datasets whose paths match a set of
// globs. Paths are slash-separated ("/Results/Steady/Output/..."); in a
// glob, "*" matches one path segment and "**" matches any remainder. A
// glob whose subtree does not exist in the container yields no datasets
// and no error, so older and newer format revisions read cleanly.
package rasresult

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/ctxlog"
)

// Dataset is one named value extracted from a result container. Immutable
// once returned.
type Dataset struct {
	// Path is the slash-separated location inside the container.
	Path string
	// Shape holds the dimensions; scalar datasets have an empty Shape.
	Shape []int
	// Values is the row-major flattening of the data.
	Values []cty.Value
	// Attributes carries the dataset's metadata; array-valued attributes
	// become list values.
	Attributes map[string]cty.Value
}

// ReadError reports an unreadable result container: wrong signature, an
// unsupported structure version, or a corrupt offset.
type ReadError struct {
	File   string
	Reason string
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// File is an opened result container. The OS handle is released before
// Open returns; File holds only the in-memory image.
type File struct {
	h5 *h5
	// datasets in container order: path -> object header messages.
	entries []dsEntry
}

type dsEntry struct {
	path string
	msgs []message
}

// Open reads a result container from disk and indexes its hierarchy.
func Open(p string) (*File, error) {
	src, err := os.ReadFile(p)
	if err != nil {
		return nil, &ReadError{File: p, Reason: err.Error()}
	}
	return OpenImage(p, src)
}

// OpenImage indexes an in-memory container image. name is used in errors.
func OpenImage(name string, src []byte) (*File, error) {
	f := &File{h5: &h5{name: name, b: src}}
	root, err := f.h5.openImage()
	if err != nil {
		return nil, err
	}
	if err := f.index("", root, map[uint64]bool{}); err != nil {
		return nil, err
	}
	return f, nil
}

// index walks the group hierarchy once, recording every dataset path.
func (f *File) index(prefix string, headerAddr uint64, seen map[uint64]bool) error {
	if seen[headerAddr] {
		return nil
	}
	seen[headerAddr] = true

	msgs, err := f.h5.objectMessages(headerAddr)
	if err != nil {
		return err
	}
	if st := findMessage(msgs, msgSymbolTable); st != nil {
		btree := leUint64(st[0:])
		heap := leUint64(st[8:])
		children, err := f.h5.groupEntries(btree, heap)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := f.index(prefix+"/"+c.name, c.entry.headerAddr, seen); err != nil {
				return err
			}
		}
		return nil
	}
	if findMessage(msgs, msgLayout) != nil {
		f.entries = append(f.entries, dsEntry{path: prefix, msgs: msgs})
	}
	return nil
}

// Paths returns every dataset path in the container, sorted.
func (f *File) Paths() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.path)
	}
	sort.Strings(out)
	return out
}

// Read extracts every dataset whose path matches at least one glob, in
// container order. Globs with no matching subtree contribute nothing.
func (f *File) Read(ctx context.Context, globs ...string) ([]Dataset, error) {
	log := ctxlog.FromContext(ctx)
	var out []Dataset
	for _, e := range f.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matchesAny(globs, e.path) {
			continue
		}
		ds, err := f.materialize(e)
		if err != nil {
			return nil, err
		}
		log.Debug("read result dataset", "path", ds.Path, "values", len(ds.Values))
		out = append(out, ds)
	}
	return out, nil
}

func (f *File) materialize(e dsEntry) (Dataset, error) {
	fail := func(err error) (Dataset, error) {
		return Dataset{}, &ReadError{File: f.h5.name,
			Reason: fmt.Sprintf("dataset %s: %v", e.path, err)}
	}

	dtRaw := findMessage(e.msgs, msgDatatype)
	dsRaw := findMessage(e.msgs, msgDataspace)
	if dtRaw == nil || dsRaw == nil {
		return fail(fmt.Errorf("missing datatype or dataspace"))
	}
	dt, err := parseDatatype(dtRaw)
	if err != nil {
		return fail(err)
	}
	dims, err := parseDataspace(dsRaw)
	if err != nil {
		return fail(err)
	}
	l, err := parseLayout(findMessage(e.msgs, msgLayout))
	if err != nil {
		return fail(err)
	}
	deflated := false
	if fp := findMessage(e.msgs, msgFilters); fp != nil {
		if deflated, err = parseFilters(fp); err != nil {
			return fail(err)
		}
	}

	raw, err := f.h5.readRaw(l, dims, dt.size, deflated)
	if err != nil {
		return Dataset{}, err
	}
	values, err := decodeValues(dt, raw)
	if err != nil {
		return fail(err)
	}

	ds := Dataset{
		Path:       e.path,
		Values:     values,
		Attributes: map[string]cty.Value{},
	}
	for _, d := range dims {
		ds.Shape = append(ds.Shape, int(d))
	}
	for _, m := range e.msgs {
		if m.kind != msgAttribute {
			continue
		}
		name, v, err := parseAttribute(m.data)
		if err != nil {
			return fail(err)
		}
		ds.Attributes[name] = v
	}
	return ds, nil
}

// parseAttribute decodes a version 1-3 attribute message into a scalar or
// list value.
func parseAttribute(b []byte) (string, cty.Value, error) {
	if len(b) < 8 {
		return "", cty.NilVal, fmt.Errorf("attribute message too short")
	}
	version := b[0]
	if version < 1 || version > 3 {
		return "", cty.NilVal, fmt.Errorf("unsupported attribute version %d", version)
	}
	nameSize := int(leUint16(b[2:]))
	dtSize := int(leUint16(b[4:]))
	dsSize := int(leUint16(b[6:]))
	pos := 8
	if version == 3 {
		pos = 9 // name character set encoding byte
	}
	pad := func(n int) int {
		if version == 1 {
			return pad8(n)
		}
		return n
	}
	if pos+pad(nameSize)+pad(dtSize)+pad(dsSize) > len(b) {
		return "", cty.NilVal, fmt.Errorf("attribute message truncated")
	}

	name := strings.TrimRight(string(b[pos:pos+nameSize]), "\x00")
	pos += pad(nameSize)
	dt, err := parseDatatype(b[pos : pos+dtSize])
	if err != nil {
		return name, cty.NilVal, err
	}
	pos += pad(dtSize)
	dims, err := parseDataspace(b[pos : pos+dsSize])
	if err != nil {
		return name, cty.NilVal, err
	}
	pos += pad(dsSize)

	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	if pos+n*dt.size > len(b) {
		return name, cty.NilVal, fmt.Errorf("attribute %q data truncated", name)
	}
	values, err := decodeValues(dt, b[pos:pos+n*dt.size])
	if err != nil {
		return name, cty.NilVal, err
	}
	if len(dims) == 0 && len(values) == 1 {
		return name, values[0], nil
	}
	if len(values) == 0 {
		return name, cty.ListValEmpty(cty.Number), nil
	}
	return name, cty.ListVal(values), nil
}

// matchesAny reports whether p matches at least one glob. "*" matches one
// path segment, "**" matches any remainder (including none).
func matchesAny(globs []string, p string) bool {
	for _, g := range globs {
		if matchPath(g, p) {
			return true
		}
	}
	return false
}

func matchPath(pattern, p string) bool {
	ps := splitPath(pattern)
	ts := splitPath(p)
	return matchSegments(ps, ts)
}

func matchSegments(pattern, target []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			return true
		}
		if i >= len(target) {
			return false
		}
		if ok, err := path.Match(seg, target[i]); err != nil || !ok {
			return false
		}
	}
	return len(pattern) == len(target)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
