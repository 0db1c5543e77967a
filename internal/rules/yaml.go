package rules

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/vk/rascheck/internal/model"
)

// The YAML format is the legacy check-list layout: a baseline document
// plus optional state overlay documents loaded after it. An overlay's
// supersedes list removes baseline rules by id before its own rules are
// appended, so a state can replace a federal default wholesale.

type yamlDocument struct {
	Supersedes []string   `yaml:"supersedes"`
	Rules      []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Citation   string         `yaml:"citation"`
	Severity   string         `yaml:"severity"`
	CheckType  string         `yaml:"check_type"`
	AppliesTo  string         `yaml:"applies_to"`
	Parameters map[string]any `yaml:"parameters"`
	Condition  string         `yaml:"condition"`
	Message    string         `yaml:"message"`
}

// LoadYAML loads a baseline YAML rule document followed by overlay
// documents, in path order.
func LoadYAML(paths ...string) *Set {
	return LoadYAMLInto(nil, paths...)
}

// LoadYAMLInto applies YAML documents as overlays on an existing set.
func LoadYAMLInto(set *Set, paths ...string) *Set {
	if set == nil {
		set = &Set{}
	}
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			set.Errors = append(set.Errors, &LoadError{File: path, Reason: err.Error()})
			continue
		}
		loadYAMLSource(set, path, src)
	}
	return set
}

// LoadYAMLSource loads one in-memory YAML document as an overlay on the
// rules already in the set.
func LoadYAMLSource(set *Set, name string, src []byte) *Set {
	if set == nil {
		set = &Set{}
	}
	loadYAMLSource(set, name, src)
	return set
}

func loadYAMLSource(set *Set, file string, src []byte) {
	var doc yamlDocument
	if err := yaml.Unmarshal(src, &doc); err != nil {
		set.Errors = append(set.Errors, &LoadError{File: file, Reason: err.Error()})
		return
	}

	if len(doc.Supersedes) > 0 {
		drop := map[string]bool{}
		for _, id := range doc.Supersedes {
			drop[id] = true
		}
		kept := set.Rules[:0]
		for _, r := range set.Rules {
			if !drop[r.ID] {
				kept = append(kept, r)
			}
		}
		set.Rules = kept
	}

	for i := range doc.Rules {
		rule, err := compileYAMLRule(file, &doc.Rules[i])
		if err != nil {
			set.Errors = append(set.Errors, err)
			continue
		}
		if set.ByID(rule.ID) != nil {
			set.Errors = append(set.Errors, &LoadError{
				File: file, RuleID: rule.ID, Reason: "duplicate rule id"})
			continue
		}
		set.Rules = append(set.Rules, *rule)
	}
}

func compileYAMLRule(file string, y *yamlRule) (*Rule, *LoadError) {
	reject := func(reason string) (*Rule, *LoadError) {
		return nil, &LoadError{File: file, RuleID: y.ID, Reason: reason}
	}

	if y.ID == "" {
		return reject("missing id")
	}
	if y.Citation == "" {
		return reject("missing citation")
	}
	severity, err := ParseSeverity(y.Severity)
	if err != nil {
		return reject(err.Error())
	}

	entityType, attr, err := parseAppliesTo(y.AppliesTo)
	if err != nil {
		return reject(err.Error())
	}

	var exprSrc string
	aggregate := false
	message := y.Message
	if name := handlerName(y); name != "" {
		h, herr := compileHandler(y, name)
		if herr != nil {
			return reject(herr.Error())
		}
		exprSrc = h.expr
		entityType = h.selector
		aggregate = true
		if h.severity != "" {
			severity = h.severity
		}
		if message == "" {
			message = h.message
		}
	} else {
		exprSrc, err = conditionSource(y, attr)
		if err != nil {
			return reject(err.Error())
		}
	}
	cond, diags := hclsyntax.ParseExpression([]byte(exprSrc), file, hcl.InitialPos)
	if diags.HasErrors() {
		return reject(fmt.Sprintf("unparsable condition: %s", diags.Error()))
	}

	rule := &Rule{
		ID:        y.ID,
		Name:      y.Name,
		Citation:  y.Citation,
		Severity:  severity,
		Selector:  []model.Type{entityType},
		Condition: cond,
		Aggregate: aggregate,
		Message:   message,
		Origin:    file,
	}
	if err := validateRuleExprs(rule); err != nil {
		return reject(err.Error())
	}
	return rule, nil
}

// legacyTypeNames maps the plural path segments of the YAML format to
// entity types. Canonical singular names are accepted as well.
var legacyTypeNames = map[string]model.Type{
	"projects":       model.TypeProject,
	"geometries":     model.TypeGeometry,
	"plans":          model.TypePlan,
	"flows":          model.TypeFlow,
	"reaches":        model.TypeReach,
	"cross_sections": model.TypeCrossSection,
	"bridges":        model.TypeBridge,
	"structures":     model.TypeBridge,
	"profiles":       model.TypeProfile,
	"flow_locations": model.TypeFlowLocation,
	"boundaries":     model.TypeBoundary,
}

// parseAppliesTo resolves a dotted legacy path like
// "cross_sections[].manning_n_channel" into an entity type and attribute.
// Intermediate segments belong to the legacy document layout and carry no
// meaning here.
func parseAppliesTo(path string) (model.Type, string, error) {
	if path == "" {
		return "", "", fmt.Errorf("missing applies_to")
	}
	segs := strings.Split(path, ".")
	for i, s := range segs {
		segs[i] = strings.TrimSuffix(s, "[]")
	}
	if t, ok := legacyTypeNames[segs[0]]; ok {
		return t, lastSegment(segs), nil
	}
	if t := model.Type(segs[0]); knownTypes[t] {
		return t, lastSegment(segs), nil
	}
	return "", "", fmt.Errorf("applies_to %q: unknown entity type %q", path, segs[0])
}

func lastSegment(segs []string) string {
	if len(segs) < 2 {
		return ""
	}
	return segs[len(segs)-1]
}

// conditionSource synthesizes the condition expression for a legacy check.
func conditionSource(y *yamlRule, attr string) (string, error) {
	ref := "entity." + attr
	switch y.CheckType {
	case "range":
		if attr == "" {
			return "", fmt.Errorf("range check needs an attribute in applies_to")
		}
		var parts []string
		if min, ok := y.Parameters["min"]; ok {
			lit, err := paramLiteral(min)
			if err != nil {
				return "", fmt.Errorf("parameter min: %w", err)
			}
			parts = append(parts, ref+" >= "+lit)
		}
		if max, ok := y.Parameters["max"]; ok {
			lit, err := paramLiteral(max)
			if err != nil {
				return "", fmt.Errorf("parameter max: %w", err)
			}
			parts = append(parts, ref+" <= "+lit)
		}
		if len(parts) == 0 {
			return "", fmt.Errorf("range check needs a min or max parameter")
		}
		return strings.Join(parts, " && "), nil
	case "exact":
		if attr == "" {
			return "", fmt.Errorf("exact check needs an attribute in applies_to")
		}
		v, ok := y.Parameters["value"]
		if !ok {
			return "", fmt.Errorf("exact check needs a value parameter")
		}
		lit, err := paramLiteral(v)
		if err != nil {
			return "", fmt.Errorf("parameter value: %w", err)
		}
		return ref + " == " + lit, nil
	case "exists":
		if attr == "" {
			return "", fmt.Errorf("exists check needs an attribute in applies_to")
		}
		return fmt.Sprintf("has(entity, %q)", attr), nil
	case "custom":
		if y.Condition == "" {
			return "", fmt.Errorf("custom check needs a condition or a handler parameter")
		}
		return y.Condition, nil
	}
	return "", fmt.Errorf("unknown check_type %q", y.CheckType)
}

// handlerName returns the dispatch name of a legacy handler-based custom
// check, or "" when the rule carries an inline condition instead.
func handlerName(y *yamlRule) string {
	if y.CheckType != "custom" || y.Condition != "" {
		return ""
	}
	name, _ := y.Parameters["handler"].(string)
	return name
}

type handlerCheck struct {
	expr     string
	selector model.Type
	severity Severity // overrides the rule's severity when set
	message  string
}

// compileHandler maps the legacy registry of handler names onto aggregate
// conditions. An unknown name rejects the rule the way an unparsable
// condition would.
func compileHandler(y *yamlRule, name string) (*handlerCheck, error) {
	switch name {
	case "check_profile_exists", "check_100yr_profile_exists":
		accepted, ok := y.Parameters["accepted_names"].([]any)
		if !ok || len(accepted) == 0 {
			return nil, fmt.Errorf("%s needs an accepted_names parameter", name)
		}
		quoted := make([]string, len(accepted))
		for i, n := range accepted {
			s, ok := n.(string)
			if !ok {
				return nil, fmt.Errorf("%s: accepted_names must be strings", name)
			}
			quoted[i] = strconv.Quote(strings.ToLower(strings.TrimSpace(s)))
		}
		return &handlerCheck{
			expr: fmt.Sprintf(
				"length([for e in entities : e if contains([%s], lower(e.name))]) >= 1",
				strings.Join(quoted, ", ")),
			selector: model.TypeProfile,
		}, nil
	case "check_boundary_conditions_defined":
		return &handlerCheck{
			expr:     "count >= 1",
			selector: model.TypeBoundary,
		}, nil
	case "flag_for_manual_review":
		note, _ := y.Parameters["review_note"].(string)
		if note == "" {
			note = "Manual review required."
		}
		return &handlerCheck{
			expr:     "true",
			selector: model.TypeProject,
			severity: SeverityInfo,
			message:  strings.TrimSpace(note),
		}, nil
	}
	return nil, fmt.Errorf("unknown handler %q", name)
}

func paramLiteral(v any) (string, error) {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case string:
		return strconv.Quote(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("unsupported parameter type %T", v)
}
