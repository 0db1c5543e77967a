package rastext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/fsutil"
)

// tableRowWidth is the number of values written per table line.
const tableRowWidth = 5

// Format renders records back into the keyword text format. The output is
// not byte-identical to the source file (column padding is not preserved)
// but parses back to the same records field for field. Opaque records are
// reproduced verbatim.
func Format(kind fsutil.FileKind, records []RawRecord, opts ...Option) ([]byte, error) {
	o := options{registry: DefaultRegistry()}
	for _, opt := range opts {
		opt(&o)
	}
	layout := o.registry.Select(kind, detectRecordVersion(records))
	if layout == nil {
		return nil, fmt.Errorf("no layout registered for %s files", kind)
	}

	var b strings.Builder
	for i := range records {
		if err := formatRecord(&b, layout, &records[i]); err != nil {
			return nil, err
		}
	}
	return []byte(b.String()), nil
}

func detectRecordVersion(records []RawRecord) string {
	for i := range records {
		if v, ok := records[i].Text("program_version"); ok {
			return v
		}
	}
	return ""
}

func formatRecord(b *strings.Builder, layout *FileLayout, r *RawRecord) error {
	if r.Opaque {
		for _, line := range r.Raw {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		return nil
	}

	d := layout.defFor(r.Section)
	if d == nil {
		return fmt.Errorf("section %q has no layout definition", r.Section)
	}

	// Header fields sit at the front of the record in def order.
	hdr := 0
	for hdr < len(r.Fields) && hdr < len(d.Header) && r.Fields[hdr].Name == d.Header[hdr].Name {
		hdr++
	}
	if d.Begin != "" {
		var parts []string
		for i := 0; i < hdr; i++ {
			parts = append(parts, formatScalar(d.Header[i], r.Fields[i].Value))
		}
		fmt.Fprintf(b, "%s=%s\n", d.Begin, strings.Join(parts, ","))
	}
	if d.Trailing != nil {
		if v, ok := r.Field(d.Trailing.Name); ok {
			writeTableRows(b, v)
		}
	}

	extras := extraNames(d)
	for i := hdr; i < len(r.Fields); i++ {
		f := r.Fields[i]
		if d.Trailing != nil && f.Name == d.Trailing.Name {
			continue
		}
		if extras[f.Name] {
			continue // written on its owning table's keyword line
		}
		spec := specForField(d, f)
		if spec == nil {
			return fmt.Errorf("section %q: field %q has no layout spec", r.Section, f.Name)
		}
		if err := formatField(b, r, spec, f.Value); err != nil {
			return err
		}
	}

	if d.End != "" {
		b.WriteString(d.End)
		b.WriteByte('\n')
	}
	return nil
}

// extraNames collects field names that are carried on a table keyword line
// rather than on a line of their own.
func extraNames(d *SectionDef) map[string]bool {
	out := map[string]bool{}
	for _, s := range d.Fields {
		for _, n := range s.HeaderExtras {
			out[n] = true
		}
	}
	return out
}

// specForField resolves the layout spec for a record field. Bare keywords
// share a field name, so the recorded value disambiguates them.
func specForField(d *SectionDef, f Field) *FieldSpec {
	for i := range d.Fields {
		s := &d.Fields[i]
		if s.Name != f.Name {
			continue
		}
		if s.Kind == KindBare {
			if !f.Value.IsNull() && f.Value.Type() == cty.String && f.Value.AsString() == s.BareValue {
				return s
			}
			continue
		}
		return s
	}
	return nil
}

func formatField(b *strings.Builder, r *RawRecord, spec *FieldSpec, v cty.Value) error {
	switch spec.Kind {
	case KindBare:
		b.WriteString(spec.Keyword)
		b.WriteByte('\n')
	case KindText:
		fmt.Fprintf(b, "BEGIN %s:\n", spec.Keyword)
		if !v.IsNull() && v.Type() == cty.String && v.AsString() != "" {
			b.WriteString(v.AsString())
			b.WriteByte('\n')
		}
		fmt.Fprintf(b, "END %s:\n", spec.Keyword)
	case KindTable:
		arity := spec.Arity
		if arity < 1 {
			arity = 1
		}
		count := valueLen(v) / arity
		parts := []string{strconv.Itoa(count)}
		for _, name := range spec.HeaderExtras {
			ev, ok := r.Field(name)
			if !ok {
				break
			}
			parts = append(parts, formatScalar(FieldSpec{Kind: KindNumber}, ev))
		}
		fmt.Fprintf(b, "%s=%s\n", spec.Keyword, strings.Join(parts, ","))
		writeTableRows(b, v)
	case KindTableGreedy:
		writeTableRows(b, v)
	default:
		fmt.Fprintf(b, "%s=%s\n", spec.Keyword, formatScalar(*spec, v))
	}
	return nil
}

// formatScalar renders one value as its keyword-line token.
func formatScalar(spec FieldSpec, v cty.Value) string {
	if v.IsNull() {
		return ""
	}
	switch spec.Kind {
	case KindNumber:
		return formatNumber(v)
	case KindFlag:
		if v.True() {
			return "1"
		}
		return "0"
	case KindNumberList, KindStringList:
		var parts []string
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			if ev.IsNull() {
				parts = append(parts, "")
			} else if ev.Type() == cty.Number {
				parts = append(parts, formatNumber(ev))
			} else {
				parts = append(parts, ev.AsString())
			}
		}
		return strings.Join(parts, ",")
	default:
		return v.AsString()
	}
}

func formatNumber(v cty.Value) string {
	f, _ := v.AsBigFloat().Float64()
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// writeTableRows writes table values in fixed-size rows. Null entries come
// out as "?", which parses back to null (with a warning).
func writeTableRows(b *strings.Builder, v cty.Value) {
	if v.IsNull() || !v.Type().IsListType() {
		return
	}
	n := 0
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		if n > 0 {
			if n%tableRowWidth == 0 {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		if ev.IsNull() {
			b.WriteString("?")
		} else {
			b.WriteString(formatNumber(ev))
		}
		n++
	}
	if n > 0 {
		b.WriteByte('\n')
	}
}

func valueLen(v cty.Value) int {
	if v.IsNull() || !v.Type().IsListType() {
		return 0
	}
	return v.LengthInt()
}
