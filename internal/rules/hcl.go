package rules

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/rascheck/internal/model"
)

// ruleBlock mirrors one rule block of an HCL document. Expressions stay
// undecoded; they are evaluated per entity at run time.
type ruleBlock struct {
	Name      string         `hcl:"name,optional"`
	Citation  string         `hcl:"citation,optional"`
	Severity  string         `hcl:"severity,optional"`
	Selector  []string       `hcl:"selector,optional"`
	Where     hcl.Expression `hcl:"where,optional"`
	Condition hcl.Expression `hcl:"condition,optional"`
	Aggregate bool           `hcl:"aggregate,optional"`
	Message   string         `hcl:"message,optional"`
}

var ruleFileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "rule", LabelNames: []string{"id"}},
	},
}

// LoadHCL loads rule documents from HCL files, in path order. A file that
// cannot be read or tokenized contributes one document-level LoadError; a
// rule block that decodes but is incomplete contributes a per-rule
// LoadError and the remaining blocks still load.
func LoadHCL(paths ...string) *Set {
	parser := hclparse.NewParser()
	set := &Set{}
	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			set.Errors = append(set.Errors, &LoadError{File: path, Reason: diags.Error()})
			continue
		}
		loadHCLBody(set, path, file.Body)
	}
	return set
}

// LoadHCLSource loads one in-memory HCL document.
func LoadHCLSource(name string, src []byte) *Set {
	set := &Set{}
	file, diags := hclparse.NewParser().ParseHCL(src, name)
	if diags.HasErrors() {
		set.Errors = append(set.Errors, &LoadError{File: name, Reason: diags.Error()})
		return set
	}
	loadHCLBody(set, name, file.Body)
	return set
}

func loadHCLBody(set *Set, file string, body hcl.Body) {
	content, diags := body.Content(ruleFileSchema)
	if diags.HasErrors() {
		set.Errors = append(set.Errors, &LoadError{File: file, Reason: diags.Error()})
	}
	for _, block := range content.Blocks {
		id := block.Labels[0]
		rule, err := decodeRuleBlock(file, id, block)
		if err != nil {
			set.Errors = append(set.Errors, err)
			continue
		}
		if set.ByID(id) != nil {
			set.Errors = append(set.Errors, &LoadError{
				File: file, RuleID: id, Reason: "duplicate rule id"})
			continue
		}
		set.Rules = append(set.Rules, *rule)
	}
}

func decodeRuleBlock(file, id string, block *hcl.Block) (*Rule, *LoadError) {
	reject := func(reason string) (*Rule, *LoadError) {
		return nil, &LoadError{File: file, RuleID: id, Reason: reason}
	}

	var b ruleBlock
	if diags := gohcl.DecodeBody(block.Body, nil, &b); diags.HasErrors() {
		return reject(diags.Error())
	}
	if b.Citation == "" {
		return reject("missing citation")
	}
	severity, err := ParseSeverity(b.Severity)
	if err != nil {
		return reject(err.Error())
	}
	if b.Condition == nil {
		return reject("missing condition")
	}
	if len(b.Selector) == 0 {
		return reject("missing selector")
	}
	selector, serr := parseSelector(b.Selector)
	if serr != nil {
		return reject(serr.Error())
	}

	rule := &Rule{
		ID:        id,
		Name:      b.Name,
		Citation:  b.Citation,
		Severity:  severity,
		Selector:  selector,
		Where:     b.Where,
		Condition: b.Condition,
		Aggregate: b.Aggregate,
		Message:   b.Message,
		Origin:    file,
	}
	if err := validateRuleExprs(rule); err != nil {
		return reject(err.Error())
	}
	return rule, nil
}

var knownTypes = map[model.Type]bool{
	model.TypeProject:      true,
	model.TypeGeometry:     true,
	model.TypePlan:         true,
	model.TypeFlow:         true,
	model.TypeReach:        true,
	model.TypeCrossSection: true,
	model.TypeBridge:       true,
	model.TypeProfile:      true,
	model.TypeFlowLocation: true,
	model.TypeBoundary:     true,
}

func parseSelector(names []string) ([]model.Type, error) {
	var out []model.Type
	for _, n := range names {
		t := model.Type(n)
		if !knownTypes[t] {
			return nil, fmt.Errorf("unknown entity type %q in selector", n)
		}
		out = append(out, t)
	}
	return out, nil
}
