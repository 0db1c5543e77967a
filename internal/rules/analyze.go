package rules

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// exprRoots returns the sorted root variable names an expression references.
// Variables() gives every traversal; only the root decides whether the
// evaluation context can resolve it.
func exprRoots(expr hcl.Expression) []string {
	seen := map[string]bool{}
	for _, traversal := range expr.Variables() {
		seen[traversal.RootName()] = true
	}
	roots := make([]string, 0, len(seen))
	for name := range seen {
		roots = append(roots, name)
	}
	sort.Strings(roots)
	return roots
}

// exprFunctions returns the sorted function names an expression calls.
// Variables() does not report calls, so this walks the syntax tree.
func exprFunctions(expr hcl.Expression) []string {
	seen := map[string]bool{}
	if syntaxExpr, ok := expr.(hclsyntax.Expression); ok {
		walkCalls(syntaxExpr, seen)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func walkCalls(expr hclsyntax.Expression, calls map[string]bool) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		calls[e.Name] = true
		for _, arg := range e.Args {
			walkCalls(arg, calls)
		}
	case *hclsyntax.BinaryOpExpr:
		walkCalls(e.LHS, calls)
		walkCalls(e.RHS, calls)
	case *hclsyntax.UnaryOpExpr:
		walkCalls(e.Val, calls)
	case *hclsyntax.ConditionalExpr:
		walkCalls(e.Condition, calls)
		walkCalls(e.TrueResult, calls)
		walkCalls(e.FalseResult, calls)
	case *hclsyntax.ParenthesesExpr:
		walkCalls(e.Expression, calls)
	case *hclsyntax.IndexExpr:
		walkCalls(e.Collection, calls)
		walkCalls(e.Key, calls)
	case *hclsyntax.SplatExpr:
		walkCalls(e.Source, calls)
		walkCalls(e.Each, calls)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkCalls(item, calls)
		}
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			walkCalls(item.KeyExpr, calls)
			walkCalls(item.ValueExpr, calls)
		}
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walkCalls(part, calls)
		}
	case *hclsyntax.TemplateWrapExpr:
		walkCalls(e.Wrapped, calls)
	case *hclsyntax.ForExpr:
		walkCalls(e.CollExpr, calls)
		walkCalls(e.KeyExpr, calls)
		walkCalls(e.ValExpr, calls)
		walkCalls(e.CondExpr, calls)
	}
}

var (
	entityRoots    = map[string]bool{"entity": true, "design": true}
	aggregateRoots = map[string]bool{"entities": true, "count": true}
)

// validateExpr rejects an expression whose variables or function calls the
// evaluation context will never provide. Catching these at load keeps a typo
// from surfacing as an error finding on every matched entity.
func validateExpr(label string, expr hcl.Expression, allowed map[string]bool) error {
	for _, root := range exprRoots(expr) {
		if !allowed[root] {
			return fmt.Errorf("%s references unknown variable %q", label, root)
		}
	}
	for _, name := range exprFunctions(expr) {
		if _, ok := evalFunctions[name]; !ok {
			return fmt.Errorf("%s calls unknown function %q", label, name)
		}
	}
	return nil
}

// validateRuleExprs checks the where clause and condition of a decoded rule.
// The where clause always sees a single entity; the condition sees either the
// entity scope or the aggregate scope.
func validateRuleExprs(r *Rule) error {
	if r.Where != nil {
		if err := validateExpr("where clause", r.Where, entityRoots); err != nil {
			return err
		}
	}
	scope := entityRoots
	if r.Aggregate {
		scope = aggregateRoots
	}
	return validateExpr("condition", r.Condition, scope)
}
