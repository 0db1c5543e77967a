package rules

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/rascheck/internal/model"
)

// hasFunc reports whether an object value carries a named attribute. The
// legacy exists check and defensive rule authors use it to probe before
// dereferencing.
var hasFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "object", Type: cty.DynamicPseudoType, AllowNull: true, AllowDynamicType: true},
		{Name: "name", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		obj := args[0]
		if obj.IsNull() || !obj.Type().IsObjectType() {
			return cty.False, nil
		}
		return cty.BoolVal(obj.Type().HasAttribute(args[1].AsString())), nil
	},
})

var evalFunctions = map[string]function.Function{
	"abs":      stdlib.AbsoluteFunc,
	"ceil":     stdlib.CeilFunc,
	"coalesce": stdlib.CoalesceFunc,
	"contains": stdlib.ContainsFunc,
	"floor":    stdlib.FloorFunc,
	"format":   stdlib.FormatFunc,
	"has":      hasFunc,
	"length":   stdlib.LengthFunc,
	"lower":    stdlib.LowerFunc,
	"max":      stdlib.MaxFunc,
	"min":      stdlib.MinFunc,
	"upper":    stdlib.UpperFunc,
}

// entityValue exposes one entity to the expression language: its
// attributes plus the standard id and type fields.
func entityValue(e *model.Entity) cty.Value {
	attrs := make(map[string]cty.Value, len(e.Attrs)+2)
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	attrs["id"] = cty.StringVal(e.ID)
	attrs["type"] = cty.StringVal(string(e.Type))
	return cty.ObjectVal(attrs)
}

func designValue(e *model.Entity) cty.Value {
	if len(e.Design) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(e.Design)
}

func entityContext(e *model.Entity) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"entity": entityValue(e),
			"design": designValue(e),
		},
		Functions: evalFunctions,
	}
}

func aggregateContext(entities []*model.Entity) *hcl.EvalContext {
	vals := make([]cty.Value, len(entities))
	for i, e := range entities {
		vals[i] = entityValue(e)
	}
	set := cty.EmptyTupleVal
	if len(vals) > 0 {
		set = cty.TupleVal(vals)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"entities": set,
			"count":    cty.NumberIntVal(int64(len(entities))),
		},
		Functions: evalFunctions,
	}
}

// evalBool evaluates a condition to a boolean. Every failure mode comes
// back as a message instead of a panic or an abort: diagnostics (including
// references to attributes the entity does not have), null results, and
// non-boolean results all report ok=false with errMsg set.
func evalBool(expr hcl.Expression, ectx *hcl.EvalContext) (result bool, errMsg string) {
	v, diags := expr.Value(ectx)
	if diags.HasErrors() {
		return false, diagMessage(diags)
	}
	if v.IsNull() {
		return false, "condition produced no value"
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Sprintf("condition produced %s, not bool", v.Type().FriendlyName())
	}
	if !b.IsKnown() {
		return false, "condition produced an unknown value"
	}
	return b.True(), ""
}

// diagMessage flattens evaluation diagnostics into one line. The detail of
// the first error names the offending attribute or operand.
func diagMessage(diags hcl.Diagnostics) string {
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		if d.Detail != "" {
			return d.Detail
		}
		return d.Summary
	}
	return diags.Error()
}
