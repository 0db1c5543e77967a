package rastext

import (
	"sort"
	"strconv"
	"strings"

	"github.com/vk/rascheck/internal/fsutil"
)

// FieldKind selects how a keyword's value is parsed.
type FieldKind int

const (
	// KindString reads the remainder of the line as a string.
	KindString FieldKind = iota
	// KindNumber reads the remainder of the line as a single number.
	KindNumber
	// KindNumberList reads a comma-delimited list of numbers.
	KindNumberList
	// KindStringList reads a comma-delimited list of strings.
	KindStringList
	// KindFlag reads a HEC-RAS boolean: 0 is off, 1 or -1 is on.
	KindFlag
	// KindTable reads a counted whitespace-separated numeric table from the
	// following lines. The keyword line carries "count[,extras...]"; the
	// table holds count*Arity values.
	KindTable
	// KindTableGreedy reads numeric values from following lines until a
	// non-numeric line, with no declared count.
	KindTableGreedy
	// KindText reads a BEGIN <kw>:/END <kw>: delimited text block.
	KindText
	// KindBare matches a bare keyword line with no '='; the field takes the
	// fixed BareValue.
	KindBare
)

// FieldSpec describes one keyword within a section layout.
type FieldSpec struct {
	// Keyword is the text before '=' (or the whole line for KindBare).
	Keyword string
	// Name is the canonical field name recorded on the RawRecord.
	Name string
	Kind FieldKind
	// Arity is the number of values per table row for KindTable.
	Arity int
	// HeaderExtras names additional comma-separated values on a KindTable
	// keyword line after the count (e.g. the deck width on #Deck/Roadway).
	HeaderExtras []string
	// BareValue is the value recorded for KindBare matches.
	BareValue string
}

// SectionDef describes one section kind within a file layout.
type SectionDef struct {
	// Name is the canonical record name. A def with TypeNames emits records
	// named by the integer value of the discriminating header field instead.
	Name string
	// Begin is the keyword whose line opens the section. Empty means the
	// section opens implicitly at the start of the file.
	Begin string
	// End is the keyword whose line closes the section explicitly. Empty
	// means the section closes at the next recognized Begin or at EOF.
	End string
	// Header describes the comma-separated values on the Begin line.
	Header []FieldSpec
	// TypeField indexes Header; TypeNames maps its integer value to the
	// record name (e.g. node type 1 = cross_section, 6 = bridge).
	TypeField int
	TypeNames map[int]string
	Fields    []FieldSpec
	// Trailing, when set, is a table consumed from the lines immediately
	// following the Begin line with no keyword of its own (e.g. the
	// per-profile flow magnitudes after "River Rch & RM=").
	Trailing *FieldSpec
}

// recordName resolves the emitted record name from parsed header values.
func (d *SectionDef) recordName(header []Field) string {
	if d.TypeNames == nil {
		return d.Name
	}
	if d.TypeField < len(header) {
		v := header[d.TypeField].Value
		if !v.IsNull() {
			f, _ := v.AsBigFloat().Float64()
			if name, ok := d.TypeNames[int(f)]; ok {
				return name
			}
		}
	}
	return d.Name
}

// namesSection reports whether this def can emit records named name.
func (d *SectionDef) namesSection(name string) bool {
	if d.Name == name {
		return true
	}
	for _, n := range d.TypeNames {
		if n == name {
			return true
		}
	}
	return false
}

// FileLayout is the complete descriptor set for one file kind and format
// version. Format drift is handled by registering additional layouts keyed
// by version marker, never by specializing the parser itself.
type FileLayout struct {
	Kind fsutil.FileKind
	// MinVersion is the lowest "Program Version" marker this layout serves.
	// Empty matches any version.
	MinVersion string
	Sections   []*SectionDef

	sorted []*SectionDef // Begin-carrying defs, longest keyword first
}

// openDef returns the SectionDef, if any, whose Begin keyword matches line.
// It never mutates the layout: registered layouts are shared across
// concurrent parses.
func (l *FileLayout) openDef(line string) *SectionDef {
	for _, d := range l.beginDefs() {
		if keywordMatches(line, d.Begin) {
			return d
		}
	}
	return nil
}

// beginDefs returns the Begin-carrying defs, longest keyword first so that
// "#Pier Elev" wins over "#Pier". Registry.Register precomputes the slice;
// an unregistered layout pays the sort on every call instead.
func (l *FileLayout) beginDefs() []*SectionDef {
	if l.sorted != nil {
		return l.sorted
	}
	return sortedBeginDefs(l.Sections)
}

func sortedBeginDefs(defs []*SectionDef) []*SectionDef {
	var out []*SectionDef
	for _, d := range defs {
		if d.Begin != "" {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return len(out[i].Begin) > len(out[j].Begin)
	})
	return out
}

// implicitDef returns the def that opens at the start of the file, if any.
func (l *FileLayout) implicitDef() *SectionDef {
	for _, d := range l.Sections {
		if d.Begin == "" {
			return d
		}
	}
	return nil
}

// defFor finds the def that emits records of the given section name.
func (l *FileLayout) defFor(section string) *SectionDef {
	for _, d := range l.Sections {
		if d.namesSection(section) {
			return d
		}
	}
	return nil
}

// keywordMatches reports whether line starts with keyword followed by '='
// or ':' (section keywords in these formats always carry one or the other).
func keywordMatches(line, keyword string) bool {
	if !strings.HasPrefix(line, keyword) {
		return false
	}
	rest := line[len(keyword):]
	return strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, ":")
}

// Registry maps a file kind to its version-keyed layout descriptors.
type Registry struct {
	layouts map[fsutil.FileKind][]*FileLayout
}

// NewRegistry returns an empty layout registry.
func NewRegistry() *Registry {
	return &Registry{layouts: make(map[fsutil.FileKind][]*FileLayout)}
}

// Register adds a layout and freezes its keyword index. Layouts for the
// same kind are kept ordered by MinVersion, highest first, so Select can
// pick the newest applicable one.
func (r *Registry) Register(l *FileLayout) {
	l.sorted = sortedBeginDefs(l.Sections)
	ls := append(r.layouts[l.Kind], l)
	sort.SliceStable(ls, func(i, j int) bool {
		return compareVersions(ls[i].MinVersion, ls[j].MinVersion) > 0
	})
	r.layouts[l.Kind] = ls
}

// Select returns the layout for the kind whose MinVersion is the highest one
// not exceeding the detected version marker. An empty version matches the
// lowest registered layout.
func (r *Registry) Select(kind fsutil.FileKind, version string) *FileLayout {
	ls := r.layouts[kind]
	if len(ls) == 0 {
		return nil
	}
	for _, l := range ls {
		if l.MinVersion == "" || compareVersions(version, l.MinVersion) >= 0 {
			return l
		}
	}
	return ls[len(ls)-1]
}

// compareVersions compares dotted numeric version markers ("6.3.1").
// Non-numeric segments compare as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(strings.TrimSpace(as[i]))
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(strings.TrimSpace(bs[i]))
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
