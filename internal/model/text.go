package model

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/rastext"
)

// copyFields records every parsed field as a text attribute. A field name
// repeated within the record (pier keywords, project file references)
// becomes a tuple in order of appearance.
func (b *builder) copyFields(e *Entity, r *rastext.RawRecord, file string, skip map[string]bool) error {
	var order []string
	grouped := map[string][]cty.Value{}
	for _, f := range r.Fields {
		if skip[f.Name] {
			continue
		}
		if _, seen := grouped[f.Name]; !seen {
			order = append(order, f.Name)
		}
		grouped[f.Name] = append(grouped[f.Name], f.Value)
	}
	for _, name := range order {
		vals := grouped[name]
		v := vals[0]
		if len(vals) > 1 {
			v = cty.TupleVal(vals)
		}
		if err := b.setText(e, name, v, file); err != nil {
			return err
		}
	}
	for _, w := range r.Warnings {
		e.Warnings = append(e.Warnings, fmt.Sprintf("%s:%d: %s", file, w.Line, w.Message))
	}
	return nil
}

func (b *builder) addProject(s Source) error {
	id := strings.TrimSuffix(filepath.Base(s.File), filepath.Ext(s.File))
	for i := range s.Records {
		r := &s.Records[i]
		if r.Section != rastext.SectionProject {
			continue
		}
		e := b.entity(TypeProject, id, s.File)
		if err := b.copyFields(e, r, s.File, nil); err != nil {
			return err
		}
	}
	return nil
}

var planTypeNames = map[int]string{
	1: "Steady Flow",
	2: "Unsteady Flow",
	3: "Quasi-Unsteady Flow",
}

var frictionSlopeMethodNames = map[int]string{
	1: "Average Conveyance",
	2: "Average Friction Slope",
	3: "Geometric Mean Friction Slope",
	4: "Harmonic Mean Friction Slope",
}

var encroachmentMethodNames = map[int]string{
	1: "Specified Stations",
	2: "Fixed Top Width",
	3: "Percent Reduction in Conveyance",
	4: "Target Surcharge",
	5: "Optimized Surcharge and Energy",
}

func (b *builder) addPlan(s Source) error {
	ref := fileRef(s.File)
	for i := range s.Records {
		r := &s.Records[i]
		if r.Section != rastext.SectionPlan {
			continue
		}
		e := b.entity(TypePlan, ref, s.File)
		if err := b.copyFields(e, r, s.File, nil); err != nil {
			return err
		}
		if err := b.derivePlan(e, r, s.File); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) derivePlan(e *Entity, r *rastext.RawRecord, file string) error {
	set := func(name string, v cty.Value) error { return b.setText(e, name, v, file) }

	if t, ok := r.Number("plan_type"); ok {
		if name, known := planTypeNames[int(t)]; known {
			if err := set("plan_type_name", cty.StringVal(name)); err != nil {
				return err
			}
		}
	}
	if m, ok := r.Number("friction_slope_method"); ok {
		if name, known := frictionSlopeMethodNames[int(m)]; known {
			if err := set("friction_slope_method_name", cty.StringVal(name)); err != nil {
				return err
			}
		}
	}

	// Encroachment: methods 4 and 5 are FEMA-style floodway analyses; the
	// first encroachment value is then the allowable surcharge.
	var values []cty.Value
	for i := 1; i <= 4; i++ {
		v, ok := r.Field(fmt.Sprintf("encroach_val_%d", i))
		if !ok {
			break
		}
		values = append(values, v)
	}
	if len(values) > 0 {
		if err := set("encroach_values", cty.TupleVal(values)); err != nil {
			return err
		}
	}
	method, hasMethod := r.Number("encroach_method")
	if name, known := encroachmentMethodNames[int(method)]; hasMethod && known {
		if err := set("encroach_method_name", cty.StringVal(name)); err != nil {
			return err
		}
	}
	floodway := hasMethod && (int(method) == 4 || int(method) == 5)
	if err := set("is_floodway", cty.BoolVal(floodway)); err != nil {
		return err
	}
	if floodway && len(values) > 0 {
		if err := set("target_surcharge", values[0]); err != nil {
			return err
		}
	}

	for _, name := range []string{"geom_file", "flow_file"} {
		if ref, ok := r.Text(name); ok {
			if err := set(name+"_ref", cty.StringVal(strings.ToLower(ref))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) addGeometry(s Source) error {
	ref := fileRef(s.File)
	var river, reach string
	for i := range s.Records {
		r := &s.Records[i]
		switch r.Section {
		case rastext.SectionGeometryHeader:
			e := b.entity(TypeGeometry, ref, s.File)
			if err := b.copyFields(e, r, s.File, nil); err != nil {
				return err
			}
		case rastext.SectionRiverReach:
			river, _ = r.Text("river")
			reach, _ = r.Text("reach")
			e := b.entity(TypeReach, river+"/"+reach, s.File)
			if err := b.setText(e, "river", cty.StringVal(river), s.File); err != nil {
				return err
			}
			if err := b.setText(e, "reach", cty.StringVal(reach), s.File); err != nil {
				return err
			}
		case rastext.SectionCrossSection, rastext.SectionBridge:
			if err := b.addNode(r, s.File, river, reach); err != nil {
				return err
			}
		case rastext.SectionNode:
			nt, _ := r.Number("node_type")
			b.warnf("%s:%d: node type %g not supported, skipped", s.File, r.Line, nt)
		default:
			if r.Opaque {
				b.warnf("%s:%d: unrecognized section %q retained unparsed", s.File, r.Line, r.Section)
			}
		}
	}
	return nil
}

func (b *builder) addNode(r *rastext.RawRecord, file, river, reach string) error {
	station, ok := r.Number("river_station")
	if !ok {
		b.warnf("%s:%d: %s without a river station, skipped", file, r.Line, r.Section)
		return nil
	}
	t := TypeCrossSection
	if r.Section == rastext.SectionBridge {
		t = TypeBridge
	}
	e := b.entity(t, nodeID(river, reach, station), file)

	if err := b.setText(e, "river", cty.StringVal(river), file); err != nil {
		return err
	}
	if err := b.setText(e, "reach", cty.StringVal(reach), file); err != nil {
		return err
	}
	skip := map[string]bool{"node_type": true}
	if err := b.copyFields(e, r, file, skip); err != nil {
		return err
	}

	if t == TypeCrossSection {
		return b.deriveCrossSection(e, r, file)
	}
	return b.deriveBridge(e, r, file)
}

func (b *builder) addFlow(s Source) error {
	ref := fileRef(s.File)
	for i := range s.Records {
		r := &s.Records[i]
		switch r.Section {
		case rastext.SectionFlowHeader:
			e := b.entity(TypeFlow, ref, s.File)
			if err := b.copyFields(e, r, s.File, nil); err != nil {
				return err
			}
			if err := b.addProfiles(e, r, ref, s.File); err != nil {
				return err
			}
		case rastext.SectionFlowChange:
			if err := b.addFlowChange(r, s.File); err != nil {
				return err
			}
		case rastext.SectionSteadyBoundary:
			river, _ := r.Text("river")
			reach, _ := r.Text("reach")
			prof, _ := r.Number("profile_number")
			id := river + "/" + reach + "/" + stationID(prof)
			e := b.entity(TypeBoundary, id, s.File)
			if err := b.copyFields(e, r, s.File, nil); err != nil {
				return err
			}
		case rastext.SectionUnsteadyBoundary:
			river, _ := r.Text("river")
			reach, _ := r.Text("reach")
			sta, _ := r.Text("river_station")
			e := b.entity(TypeBoundary, river+"/"+reach+"/"+sta, s.File)
			if err := b.copyFields(e, r, s.File, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) addProfiles(fe *Entity, r *rastext.RawRecord, ref, file string) error {
	names, ok := r.Field("profile_names")
	if !ok || names.IsNull() || !names.Type().IsListType() {
		return nil
	}
	i := 0
	for it := names.ElementIterator(); it.Next(); {
		_, name := it.Element()
		i++
		e := b.entity(TypeProfile, ref+"/"+strconv.Itoa(i), file)
		if err := b.setText(e, "name", name, file); err != nil {
			return err
		}
		if err := b.setText(e, "number", cty.NumberIntVal(int64(i)), file); err != nil {
			return err
		}
		if err := b.setText(e, "flow", cty.StringVal(ref), file); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addFlowChange(r *rastext.RawRecord, file string) error {
	river, _ := r.Text("river")
	reach, _ := r.Text("reach")
	station, ok := r.Number("river_station")
	if !ok {
		b.warnf("%s:%d: flow change without a river station, skipped", file, r.Line)
		return nil
	}
	e := b.entity(TypeFlowLocation, nodeID(river, reach, station), file)
	if err := b.copyFields(e, r, file, nil); err != nil {
		return err
	}

	// Minimum flow is what floodway and conveyance rules reach for.
	if flows := r.Numbers("flows"); len(flows) > 0 {
		min := cty.NullVal(cty.Number)
		for _, f := range flows {
			if !f.Valid {
				continue
			}
			if min.IsNull() {
				min = cty.NumberFloatVal(f.Value)
				continue
			}
			cur, _ := min.AsBigFloat().Float64()
			if f.Value < cur {
				min = cty.NumberFloatVal(f.Value)
			}
		}
		if err := b.setText(e, "min_flow", min, file); err != nil {
			return err
		}
	}
	return nil
}
