package model

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/fsutil"
	"github.com/vk/rascheck/internal/rasresult"
	"github.com/vk/rascheck/internal/rastext"
)

// Source is the parsed content of one text input file, passed to Build by
// ownership transfer.
type Source struct {
	File    string
	Kind    fsutil.FileKind
	Records []rastext.RawRecord
}

// ResultSource is the extracted content of one result container.
type ResultSource struct {
	File     string
	Datasets []rasresult.Dataset
}

// Precedence selects which side wins when a text-declared and a
// result-declared value exist for the same attribute.
type Precedence int

const (
	// PreferResult keeps the result value and retains the text value as
	// the entity's design value. Results reflect the simulation that
	// actually ran.
	PreferResult Precedence = iota
	// PreferDesign keeps the text value and retains the result value as
	// the displaced value instead.
	PreferDesign
)

// MergePolicy isolates the dual-source precedence decision from the rest
// of the builder.
type MergePolicy struct {
	Precedence Precedence
}

// DefaultPolicy resolves text/result conflicts in favor of the result.
func DefaultPolicy() MergePolicy {
	return MergePolicy{Precedence: PreferResult}
}

// Build reconciles text sources and result sources into one Model. It
// fails with a *ConsistencyError when two text sources disagree on a
// design value and no loaded plan links exactly one of them.
//
// The merge is canonical: sources are processed in (kind, file) order and
// entities finalized in key order, so the output is independent of the
// order the caller accumulated the slices in.
func Build(sources []Source, results []ResultSource, policy MergePolicy) (*Model, error) {
	b := &builder{
		policy:     policy,
		entities:   map[Key]*Entity{},
		attrOrigin: map[Key]map[string]string{},
		planLinked: map[string]bool{},
	}

	ordered := append([]Source(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Kind != ordered[j].Kind {
			return kindRank(ordered[i].Kind) < kindRank(ordered[j].Kind)
		}
		return ordered[i].File < ordered[j].File
	})

	// Plans and the project manifest are read first so their file links
	// can arbitrate geometry conflicts.
	for _, s := range ordered {
		if s.Kind == fsutil.KindProject || s.Kind == fsutil.KindPlan {
			b.recordLinks(s)
		}
	}

	for _, s := range ordered {
		var err error
		switch s.Kind {
		case fsutil.KindProject:
			err = b.addProject(s)
		case fsutil.KindPlan:
			err = b.addPlan(s)
		case fsutil.KindGeometry:
			err = b.addGeometry(s)
		case fsutil.KindSteadyFlow, fsutil.KindUnsteadyFlow:
			err = b.addFlow(s)
		default:
			b.warnf("%s: unsupported source kind %q", s.File, s.Kind)
		}
		if err != nil {
			return nil, err
		}
	}

	orderedResults := append([]ResultSource(nil), results...)
	sort.SliceStable(orderedResults, func(i, j int) bool {
		return orderedResults[i].File < orderedResults[j].File
	})
	for _, r := range orderedResults {
		b.attachResults(r)
	}

	return &Model{entities: b.entities, Warnings: b.warnings}, nil
}

func kindRank(k fsutil.FileKind) int {
	switch k {
	case fsutil.KindProject:
		return 0
	case fsutil.KindPlan:
		return 1
	case fsutil.KindGeometry:
		return 2
	case fsutil.KindSteadyFlow:
		return 3
	case fsutil.KindUnsteadyFlow:
		return 4
	}
	return 5
}

type builder struct {
	policy   MergePolicy
	entities map[Key]*Entity
	// attrOrigin records which file declared each text attribute, for
	// conflict reporting and result-override bookkeeping.
	attrOrigin map[Key]map[string]string
	// planLinked marks file references ("g01", "f02") named by a loaded
	// plan or the project manifest's current plan.
	planLinked map[string]bool
	warnings   []string
}

func (b *builder) warnf(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *builder) entity(t Type, id, file string) *Entity {
	k := Key{Type: t, ID: id}
	e, ok := b.entities[k]
	if !ok {
		e = &Entity{Type: t, ID: id, Attrs: map[string]cty.Value{}, Design: map[string]cty.Value{}}
		b.entities[k] = e
		b.attrOrigin[k] = map[string]string{}
	}
	if file != "" && !contains(e.Sources, file) {
		e.Sources = append(e.Sources, file)
	}
	return e
}

// setText records a text-declared attribute value, detecting authoritative
// conflicts between files. Within one file, a repeated attribute keeps its
// first value.
func (b *builder) setText(e *Entity, attr string, v cty.Value, file string) error {
	k := e.Key()
	origin, declared := b.attrOrigin[k][attr]
	if !declared {
		e.Attrs[attr] = v
		b.attrOrigin[k][attr] = file
		return nil
	}
	if origin == file || e.Attrs[attr].RawEquals(v) {
		return nil
	}

	// Two files disagree. A plan linking exactly one of them makes that
	// file authoritative; otherwise the conflict is unresolvable.
	origLinked := b.planLinked[fileRef(origin)]
	newLinked := b.planLinked[fileRef(file)]
	switch {
	case origLinked && !newLinked:
		e.Warnings = append(e.Warnings, fmt.Sprintf(
			"attribute %q from %s ignored: plan links %s", attr, file, origin))
	case newLinked && !origLinked:
		e.Warnings = append(e.Warnings, fmt.Sprintf(
			"attribute %q from %s superseded: plan links %s", attr, origin, file))
		e.Attrs[attr] = v
		b.attrOrigin[k][attr] = file
	default:
		return &ConsistencyError{
			Key:       k,
			Attribute: attr,
			Sources:   [2]string{origin, file},
			Values:    [2]cty.Value{e.Attrs[attr], v},
		}
	}
	return nil
}

// setResult records a result-declared attribute value. When a text value
// exists for the same attribute, the merge policy decides which becomes
// effective; the displaced value is retained on Design.
func (b *builder) setResult(e *Entity, attr string, v cty.Value) {
	prev, hasText := e.Attrs[attr]
	if !hasText {
		e.Attrs[attr] = v
		return
	}
	if prev.RawEquals(v) {
		return
	}
	if b.policy.Precedence == PreferResult {
		e.Design[attr] = prev
		e.Attrs[attr] = v
	} else {
		e.Design[attr] = v
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// fileRef reduces a path to its conventional reference: "models/Mill.g01"
// becomes "g01", "Mill.p01.hdf" becomes "p01".
func fileRef(path string) string {
	path = strings.TrimSuffix(path, ".hdf")
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return strings.ToLower(ext)
}

// stationID formats a river station for use in entity IDs, so text and
// result sources key identically.
func stationID(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func nodeID(river, reach string, station float64) string {
	return river + "/" + reach + "/" + stationID(station)
}

// recordLinks collects the file references a plan (or the project
// manifest) names, before any geometry is merged.
func (b *builder) recordLinks(s Source) {
	for i := range s.Records {
		r := &s.Records[i]
		switch r.Section {
		case rastext.SectionPlan:
			for _, name := range []string{"geom_file", "flow_file"} {
				if ref, ok := r.Text(name); ok && ref != "" {
					b.planLinked[strings.ToLower(ref)] = true
				}
			}
		case rastext.SectionProject:
			if ref, ok := r.Text("current_plan"); ok && ref != "" {
				b.planLinked[strings.ToLower(ref)] = true
			}
		}
	}
}
