// Package rastext parses the keyword-sectioned text formats used by HEC-RAS
// project, geometry, plan and flow files into ordered sequences of typed
// records.
//
// The parser is a line-oriented state machine driven by per-section layout
// descriptors (see layout.go). It is deliberately tolerant: a malformed
// numeric token becomes a null value with a warning, an unknown section is
// captured opaquely, and a file truncated mid-section still emits the
// partially built record. Strict mode upgrades unknown keywords to errors.
package rastext

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Field is one named value within a record. Field names may repeat within a
// record (e.g. the per-pier keywords inside a bridge block); order is the
// order of appearance in the file.
type Field struct {
	Name  string
	Value cty.Value
}

// Warning records a recoverable problem encountered while parsing.
type Warning struct {
	Line    int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

// RawRecord is one parsed section instance. Records are immutable once the
// parser emits them.
type RawRecord struct {
	// Section is the canonical section name, e.g. "cross_section".
	Section string
	// Ordinal is the position of the record within the file, for stable
	// ordering across the rest of the pipeline.
	Ordinal int
	// Line is the 1-based source line on which the section opened.
	Line int
	// Fields holds the parsed values in order of appearance.
	Fields []Field
	// Warnings lists recoverable problems inside this record.
	Warnings []Warning
	// Opaque marks a record for an unrecognized section, captured verbatim.
	Opaque bool
	// Raw holds the verbatim lines of an opaque record.
	Raw []string
}

// Field returns the first value recorded under name.
func (r *RawRecord) Field(name string) (cty.Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return cty.NilVal, false
}

// FieldsNamed returns every value recorded under name, in order.
func (r *RawRecord) FieldsNamed(name string) []cty.Value {
	var out []cty.Value
	for _, f := range r.Fields {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// Number returns the field as a float64. ok is false when the field is
// absent, null, or not a number.
func (r *RawRecord) Number(name string) (float64, bool) {
	v, ok := r.Field(name)
	if !ok || v.IsNull() || v.Type() != cty.Number {
		return 0, false
	}
	f, _ := v.AsBigFloat().Float64()
	return f, true
}

// Text returns the field as a string. ok is false when the field is absent
// or null.
func (r *RawRecord) Text(name string) (string, bool) {
	v, ok := r.Field(name)
	if !ok || v.IsNull() || v.Type() != cty.String {
		return "", false
	}
	return v.AsString(), true
}

// Numbers returns the field as a slice of float64 values, with ok=false for
// elements that were recorded as null. Absent fields return nil.
func (r *RawRecord) Numbers(name string) []NullableNumber {
	v, ok := r.Field(name)
	if !ok || v.IsNull() || !v.Type().IsListType() {
		return nil
	}
	var out []NullableNumber
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		if ev.IsNull() {
			out = append(out, NullableNumber{})
			continue
		}
		f, _ := ev.AsBigFloat().Float64()
		out = append(out, NullableNumber{Value: f, Valid: true})
	}
	return out
}

// NullableNumber is one numeric table entry; Valid is false when the source
// token could not be parsed and was recorded as null.
type NullableNumber struct {
	Value float64
	Valid bool
}

// ParseResult is the output of parsing one file.
type ParseResult struct {
	File     string
	Records  []RawRecord
	Warnings []Warning
}

// ParseError reports a fatal problem with a text input file: the file as a
// whole could not be parsed, or strict mode rejected an unknown keyword.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}
