package rastext

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/ctxlog"
	"github.com/vk/rascheck/internal/fsutil"
)

// Option adjusts parser behavior.
type Option func(*options)

type options struct {
	strict   bool
	registry *Registry
}

// Strict makes unknown keyword lines fatal instead of skipped.
func Strict() Option {
	return func(o *options) { o.strict = true }
}

// WithRegistry overrides the layout registry (tests register synthetic
// layouts; production uses DefaultRegistry).
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// ParseFile reads and parses one model file from disk. The handle is held
// only for the duration of the read.
func ParseFile(ctx context.Context, path string, opts ...Option) (*ParseResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Reason: err.Error()}
	}
	return Parse(ctx, path, src, fsutil.Classify(path), opts...)
}

// Parse parses the text content of one file into an ordered sequence of
// RawRecords. It fails with a *ParseError when no layout is registered for
// the file kind, or in strict mode on the first unknown keyword or
// unterminated section.
func Parse(ctx context.Context, file string, src []byte, kind fsutil.FileKind, opts ...Option) (*ParseResult, error) {
	o := options{registry: DefaultRegistry()}
	for _, opt := range opts {
		opt(&o)
	}

	lines := strings.Split(strings.ReplaceAll(string(src), "\r\n", "\n"), "\n")
	version := detectVersion(lines)
	layout := o.registry.Select(kind, version)
	if layout == nil {
		return nil, &ParseError{File: file, Reason: fmt.Sprintf("no layout registered for %s files", kind)}
	}
	ctxlog.FromContext(ctx).Debug("parsing text file",
		"file", file, "kind", string(kind), "version", version)

	p := &parser{
		file:   file,
		layout: layout,
		lines:  lines,
		strict: o.strict,
		res:    &ParseResult{File: file},
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.res, nil
}

func detectVersion(lines []string) string {
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if keywordMatches(s, "Program Version") {
			return strings.TrimSpace(s[len("Program Version")+1:])
		}
	}
	return ""
}

// parser is the two-state line machine: outside a section, or inside one.
type parser struct {
	file   string
	layout *FileLayout
	lines  []string
	i      int
	strict bool
	res    *ParseResult

	cur     *RawRecord
	curDef  *SectionDef
	ordinal int
}

func (p *parser) run() error {
	if d := p.layout.implicitDef(); d != nil {
		p.open(d, nil, 1)
	}

	for p.i < len(p.lines) {
		line := strings.TrimSpace(p.lines[p.i])
		lineNo := p.i + 1

		if line == "" {
			p.i++
			continue
		}

		// An opaque section swallows everything until its END marker.
		if p.cur != nil && p.cur.Opaque {
			p.cur.Raw = append(p.cur.Raw, p.lines[p.i])
			if keywordMatches(line, p.curDef.End) {
				p.close()
			}
			p.i++
			continue
		}

		// A recognized Begin keyword always takes priority: it closes any
		// implicitly terminated open section and opens the new one.
		if d := p.layout.openDef(line); d != nil {
			if p.cur != nil && p.curDef.End != "" {
				if p.strict {
					return &ParseError{File: p.file, Line: p.cur.Line,
						Reason: fmt.Sprintf("unterminated section %q", p.cur.Section)}
				}
				p.warnRecord(lineNo, fmt.Sprintf("section %q not terminated before %q", p.cur.Section, d.Begin))
			}
			p.close()
			header := p.parseHeader(d, afterKeyword(line, d.Begin), lineNo)
			p.open(d, header, lineNo)
			// parseGreedyTable steps past the Begin line itself.
			if d.Trailing != nil {
				p.parseGreedyTable(d.Trailing)
			} else {
				p.i++
			}
			continue
		}

		// Explicit terminator for the open section.
		if p.cur != nil && p.curDef.End != "" && keywordMatches(line, p.curDef.End) {
			p.close()
			p.i++
			continue
		}

		// Field lines inside the open section.
		if p.cur != nil {
			if ok, err := p.parseField(line, lineNo); err != nil {
				return err
			} else if ok {
				continue
			}
		}

		// Unknown BEGIN block: capture opaquely for version drift.
		if name, ok := strings.CutPrefix(line, "BEGIN "); ok {
			name = strings.TrimRight(strings.TrimSpace(name), ":")
			p.close()
			p.cur = &RawRecord{
				Section: strings.ToLower(strings.ReplaceAll(name, " ", "_")),
				Line:    lineNo,
				Opaque:  true,
				Raw:     []string{p.lines[p.i]},
			}
			p.curDef = &SectionDef{End: "END " + name}
			p.i++
			continue
		}

		if strings.Contains(line, "=") {
			if p.strict {
				key, _, _ := strings.Cut(line, "=")
				return &ParseError{File: p.file, Line: lineNo,
					Reason: fmt.Sprintf("unknown keyword %q", strings.TrimSpace(key))}
			}
		}
		p.i++
	}

	if p.cur != nil && p.curDef != nil && p.curDef.End != "" {
		// Truncated file: emit what we have.
		p.warnRecord(len(p.lines), fmt.Sprintf("file ends inside section %q", p.cur.Section))
	}
	p.close()
	return nil
}

// open starts a new record; header fields become its first fields.
func (p *parser) open(d *SectionDef, header []Field, lineNo int) {
	p.cur = &RawRecord{
		Section: d.recordName(header),
		Line:    lineNo,
		Fields:  header,
	}
	p.curDef = d
}

// close emits the current record, if any. Empty implicit records are
// dropped: a file that never used the header keywords has no header record.
func (p *parser) close() {
	if p.cur == nil {
		return
	}
	if len(p.cur.Fields) > 0 || p.cur.Opaque || len(p.cur.Warnings) > 0 {
		p.cur.Ordinal = p.ordinal
		p.ordinal++
		p.res.Records = append(p.res.Records, *p.cur)
	}
	p.cur = nil
	p.curDef = nil
}

func (p *parser) warnRecord(line int, msg string) {
	if p.cur != nil {
		p.cur.Warnings = append(p.cur.Warnings, Warning{Line: line, Message: msg})
		return
	}
	p.res.Warnings = append(p.res.Warnings, Warning{Line: line, Message: msg})
}

// parseHeader splits the remainder of a Begin line on commas and coerces
// each value per the def's header specs.
func (p *parser) parseHeader(d *SectionDef, rest string, lineNo int) []Field {
	parts := strings.Split(rest, ",")
	var out []Field
	for i, spec := range d.Header {
		if i >= len(parts) {
			break
		}
		out = append(out, Field{Name: spec.Name, Value: p.scalar(spec, strings.TrimSpace(parts[i]), lineNo)})
	}
	return out
}

// parseField tries to match one line inside a section against the open
// def's field specs. It returns ok=false when no spec matches.
func (p *parser) parseField(line string, lineNo int) (bool, error) {
	spec := matchSpec(p.curDef.Fields, line)
	if spec == nil {
		return false, nil
	}

	switch spec.Kind {
	case KindBare:
		p.addField(spec.Name, cty.StringVal(spec.BareValue))
		p.i++
	case KindText:
		p.parseTextBlock(spec)
	case KindTable:
		p.parseTable(spec, afterKeyword(line, spec.Keyword), lineNo)
	case KindTableGreedy:
		p.parseGreedyTable(spec)
	default:
		p.addField(spec.Name, p.scalar(*spec, afterKeyword(line, spec.Keyword), lineNo))
		p.i++
	}
	return true, nil
}

// matchSpec finds the longest-keyword spec matching the line.
func matchSpec(specs []FieldSpec, line string) *FieldSpec {
	var best *FieldSpec
	for i := range specs {
		s := &specs[i]
		switch s.Kind {
		case KindBare:
			if line == s.Keyword {
				return s
			}
		case KindText:
			if keywordMatches(line, "BEGIN "+s.Keyword) {
				return s
			}
		default:
			if keywordMatches(line, s.Keyword) {
				if best == nil || len(s.Keyword) > len(best.Keyword) {
					best = s
				}
			}
		}
	}
	return best
}

// afterKeyword returns the value portion of a keyword line, past '=' or ':'.
func afterKeyword(line, keyword string) string {
	return strings.TrimSpace(line[len(keyword)+1:])
}

// scalar coerces a single raw token per the spec kind. Malformed numbers
// become null with a warning; the record survives.
func (p *parser) scalar(spec FieldSpec, raw string, lineNo int) cty.Value {
	switch spec.Kind {
	case KindNumber:
		if raw == "" {
			return cty.NullVal(cty.Number)
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			p.warnRecord(lineNo, fmt.Sprintf("field %q: unparsable number %q", spec.Name, raw))
			return cty.NullVal(cty.Number)
		}
		return cty.NumberFloatVal(f)
	case KindFlag:
		return cty.BoolVal(flagValue(raw))
	case KindNumberList:
		return p.numberList(spec.Name, strings.Split(raw, ","), lineNo)
	case KindStringList:
		var vals []cty.Value
		for _, part := range strings.Split(raw, ",") {
			if s := strings.TrimSpace(part); s != "" {
				vals = append(vals, cty.StringVal(s))
			}
		}
		if len(vals) == 0 {
			return cty.ListValEmpty(cty.String)
		}
		return cty.ListVal(vals)
	default:
		return cty.StringVal(raw)
	}
}

// flagValue interprets a HEC-RAS boolean: 0 is off, 1 or -1 is on.
func flagValue(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n != 0
	}
	switch strings.ToLower(raw) {
	case "true", "yes":
		return true
	}
	return false
}

func (p *parser) numberList(name string, parts []string, lineNo int) cty.Value {
	var vals []cty.Value
	for _, part := range parts {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			p.warnRecord(lineNo, fmt.Sprintf("field %q: unparsable number %q", name, s))
			vals = append(vals, cty.NullVal(cty.Number))
			continue
		}
		vals = append(vals, cty.NumberFloatVal(f))
	}
	if len(vals) == 0 {
		return cty.ListValEmpty(cty.Number)
	}
	return cty.ListVal(vals)
}

// parseTextBlock consumes lines between BEGIN <kw>: and END <kw>:.
func (p *parser) parseTextBlock(spec *FieldSpec) {
	var parts []string
	p.i++
	for p.i < len(p.lines) {
		s := strings.TrimSpace(p.lines[p.i])
		if keywordMatches(s, "END "+spec.Keyword) {
			p.i++
			p.addField(spec.Name, cty.StringVal(strings.Join(parts, "\n")))
			return
		}
		parts = append(parts, s)
		p.i++
	}
	p.warnRecord(len(p.lines), fmt.Sprintf("unterminated %q block", spec.Keyword))
	p.addField(spec.Name, cty.StringVal(strings.Join(parts, "\n")))
}

// parseTable reads a counted numeric table. The keyword line header is
// "count[,extras...]"; the table occupies following lines until count*Arity
// values are read or a keyword boundary interrupts it.
func (p *parser) parseTable(spec *FieldSpec, header string, lineNo int) {
	parts := strings.Split(header, ",")
	count := 0
	if len(parts) > 0 {
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			p.warnRecord(lineNo, fmt.Sprintf("field %q: unparsable count %q", spec.Name, strings.TrimSpace(parts[0])))
		} else {
			count = n
		}
	}
	for i, name := range spec.HeaderExtras {
		if i+1 >= len(parts) {
			break
		}
		p.addField(name, p.scalar(FieldSpec{Name: name, Kind: KindNumber}, strings.TrimSpace(parts[i+1]), lineNo))
	}

	arity := spec.Arity
	if arity < 1 {
		arity = 1
	}
	want := count * arity
	p.i++
	vals := p.tableValues(spec.Name, want)
	if len(vals) < want {
		p.warnRecord(lineNo, fmt.Sprintf("field %q: table truncated, want %d values, got %d", spec.Name, want, len(vals)))
	}
	if len(vals) == 0 {
		p.addField(spec.Name, cty.ListValEmpty(cty.Number))
		return
	}
	p.addField(spec.Name, cty.ListVal(vals))
}

// parseGreedyTable reads numeric lines until a keyword boundary, with no
// declared count.
func (p *parser) parseGreedyTable(spec *FieldSpec) {
	p.i++
	vals := p.tableValues(spec.Name, -1)
	if len(vals) == 0 {
		p.addField(spec.Name, cty.ListValEmpty(cty.Number))
		return
	}
	p.addField(spec.Name, cty.ListVal(vals))
}

// tableValues consumes whitespace-separated numeric tokens from successive
// lines. want < 0 means unbounded. A blank line or any keyword-looking line
// (containing '=' or a BEGIN/END marker) ends the table. Unparsable tokens
// become null values with a warning rather than aborting the record.
func (p *parser) tableValues(fieldName string, want int) []cty.Value {
	var vals []cty.Value
	for p.i < len(p.lines) {
		line := strings.TrimSpace(p.lines[p.i])
		if line == "" || strings.Contains(line, "=") ||
			strings.HasPrefix(line, "BEGIN ") || strings.HasPrefix(line, "END ") {
			break
		}
		for _, tok := range strings.Fields(line) {
			if want >= 0 && len(vals) >= want {
				break
			}
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				p.warnRecord(p.i+1, fmt.Sprintf("field %q: unparsable number %q", fieldName, tok))
				vals = append(vals, cty.NullVal(cty.Number))
				continue
			}
			vals = append(vals, cty.NumberFloatVal(f))
		}
		p.i++
		if want >= 0 && len(vals) >= want {
			break
		}
	}
	return vals
}

func (p *parser) addField(name string, v cty.Value) {
	p.cur.Fields = append(p.cur.Fields, Field{Name: name, Value: v})
}
