package model

import (
	"path"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/rasresult"
)

// Result containers carry cross-section output as column-aligned datasets:
// identifier datasets under /Geometry/Cross Sections name each column's
// river, reach and station, and every output dataset under /Results with a
// "Cross Sections" segment holds one value per column (per profile, when
// two-dimensional). Stations carrying a trailing "*" are sections the
// engine interpolated at run time; they exist only in results.
const (
	pathResultRivers   = "/Geometry/Cross Sections/Rivers"
	pathResultReaches  = "/Geometry/Cross Sections/Reaches"
	pathResultStations = "/Geometry/Cross Sections/River Stations"
)

func (b *builder) attachResults(rs ResultSource) {
	byPath := map[string]*rasresult.Dataset{}
	for i := range rs.Datasets {
		byPath[rs.Datasets[i].Path] = &rs.Datasets[i]
	}

	if planRef := fileRef(rs.File); planRef != "" {
		if e := b.entities[Key{Type: TypePlan, ID: planRef}]; e != nil {
			b.setResult(e, "has_results", cty.True)
			if !contains(e.Sources, rs.File) {
				e.Sources = append(e.Sources, rs.File)
			}
		}
	}

	ids := b.resultColumns(rs, byPath)
	if ids == nil {
		return
	}

	for i := range rs.Datasets {
		ds := &rs.Datasets[i]
		if !isSectionOutput(ds.Path) {
			continue
		}
		b.attachSectionOutput(rs.File, ds, ids)
	}
}

type resultColumn struct {
	river, reach string
	station      float64
	interpolated bool
	ok           bool
}

// resultColumns aligns the three identifier datasets into one descriptor
// per cross-section column. Containers without the identifier subtree
// contribute no section output.
func (b *builder) resultColumns(rs ResultSource, byPath map[string]*rasresult.Dataset) []resultColumn {
	rivers := byPath[pathResultRivers]
	reaches := byPath[pathResultReaches]
	stations := byPath[pathResultStations]
	if rivers == nil || reaches == nil || stations == nil {
		return nil
	}
	n := len(stations.Values)
	if len(rivers.Values) != n || len(reaches.Values) != n {
		b.warnf("%s: cross-section identifier datasets disagree on length", rs.File)
		return nil
	}
	cols := make([]resultColumn, n)
	for i := 0; i < n; i++ {
		col := &cols[i]
		col.river = stringValue(rivers.Values[i])
		col.reach = stringValue(reaches.Values[i])
		raw := strings.TrimSpace(stringValue(stations.Values[i]))
		if strings.HasSuffix(raw, "*") {
			col.interpolated = true
			raw = strings.TrimSuffix(raw, "*")
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			b.warnf("%s: unparsable river station %q in results, column %d skipped", rs.File, raw, i)
			continue
		}
		col.station = f
		col.ok = true
	}
	return cols
}

func isSectionOutput(p string) bool {
	if !strings.HasPrefix(p, "/Results/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "Cross Sections" {
			return true
		}
	}
	return false
}

// attachSectionOutput distributes one output dataset's columns onto the
// matching cross-section entities, creating result-only entities for
// interpolated sections.
func (b *builder) attachSectionOutput(file string, ds *rasresult.Dataset, cols []resultColumn) {
	attr := attrName(path.Base(ds.Path))
	columns := columnValues(ds, len(cols))
	if columns == nil {
		b.warnf("%s: dataset %s shape %v does not align with %d cross sections",
			file, ds.Path, ds.Shape, len(cols))
		return
	}

	for i, col := range cols {
		if !col.ok {
			continue
		}
		e := b.sectionEntity(col, file)
		b.setResult(e, attr, columns[i])
		if units, ok := ds.Attributes["Units"]; ok {
			b.setResult(e, attr+"_units", units)
		}
	}
}

// sectionEntity finds the text-declared entity for a result column, or
// creates a result-only one for sections the engine added itself.
func (b *builder) sectionEntity(col resultColumn, file string) *Entity {
	id := nodeID(col.river, col.reach, col.station)
	if e, ok := b.entities[Key{Type: TypeCrossSection, ID: id}]; ok {
		if !contains(e.Sources, file) {
			e.Sources = append(e.Sources, file)
		}
		return e
	}
	if e, ok := b.entities[Key{Type: TypeBridge, ID: id}]; ok {
		if !contains(e.Sources, file) {
			e.Sources = append(e.Sources, file)
		}
		return e
	}
	e := b.entity(TypeCrossSection, id, file)
	e.Attrs["river"] = cty.StringVal(col.river)
	e.Attrs["reach"] = cty.StringVal(col.reach)
	e.Attrs["river_station"] = cty.NumberFloatVal(col.station)
	e.Attrs["interpolated"] = cty.BoolVal(col.interpolated)
	return e
}

// columnValues slices a dataset into one value per cross-section column:
// a scalar for 1-D datasets, a per-profile list for 2-D ones.
func columnValues(ds *rasresult.Dataset, n int) []cty.Value {
	switch len(ds.Shape) {
	case 1:
		if ds.Shape[0] != n || len(ds.Values) < n {
			return nil
		}
		return ds.Values[:n]
	case 2:
		profiles, width := ds.Shape[0], ds.Shape[1]
		if width != n || len(ds.Values) < profiles*width {
			return nil
		}
		out := make([]cty.Value, n)
		for i := 0; i < n; i++ {
			if profiles == 0 {
				out[i] = cty.ListValEmpty(cty.Number)
				continue
			}
			col := make([]cty.Value, profiles)
			for p := 0; p < profiles; p++ {
				col[p] = ds.Values[p*width+i]
			}
			out[i] = cty.ListVal(col)
		}
		return out
	}
	return nil
}

func stringValue(v cty.Value) string {
	if v.IsNull() || v.Type() != cty.String {
		return ""
	}
	return v.AsString()
}

// attrName canonicalizes a dataset name: "Water Surface" becomes
// "water_surface".
func attrName(base string) string {
	s := strings.ToLower(base)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
