// Package rules loads compliance rule documents and evaluates them against
// a hydraulic model.
//
// A rule binds a regulation citation to a boolean condition over entity
// attributes. Rules arrive from HCL documents (the native format) or from
// YAML check lists (the legacy format, including state overlay files).
// Loading is per-rule isolated: a rule missing its citation or carrying an
// unparsable condition is rejected with a LoadError while the rest of the
// document still loads. Evaluation is total: a condition can pass, fail,
// or error, but it never aborts the run.
package rules

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/rascheck/internal/model"
)

// Severity grades what a failed rule means.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityViolation Severity = "violation"
)

// ParseSeverity validates a severity token from a rule document.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityViolation:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q (want info, warning or violation)", s)
}

// Status is the outcome of evaluating one rule against one entity.
type Status string

const (
	StatusPass          Status = "pass"
	StatusFail          Status = "fail"
	StatusNotApplicable Status = "not_applicable"
	StatusError         Status = "error"
)

// Rule is one immutable compliance check.
type Rule struct {
	ID       string
	Name     string
	Citation string
	Severity Severity

	// Selector names the entity types the rule applies to. Where, when
	// non-nil, further filters matched entities.
	Selector []model.Type
	Where    hcl.Expression

	// Condition is the boolean predicate. For aggregate rules it is
	// evaluated once over the full matched set instead of per entity.
	Condition hcl.Expression
	Aggregate bool

	// Message is attached to fail findings; empty means a generated one.
	Message string

	// Origin names the document the rule was loaded from.
	Origin string
}

// Finding is the outcome of one rule against one matched entity, or
// against the whole matched set for aggregate and not_applicable cases.
type Finding struct {
	RuleID   string
	RuleName string
	Citation string
	Severity Severity
	Status   Status

	// Entity identifies the subject; empty for aggregate and
	// not_applicable findings.
	Entity model.Key

	Message string
}

// Blocking reports whether the finding forces a non-zero exit: a failed
// check at violation severity.
func (f Finding) Blocking() bool {
	return f.Status == StatusFail && f.Severity == SeverityViolation
}

// LoadError describes one rejected rule. Other rules in the same document
// are unaffected.
type LoadError struct {
	File   string
	RuleID string
	Reason string
}

func (e *LoadError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("%s: %s", e.File, e.Reason)
	}
	return fmt.Sprintf("%s: rule %q: %s", e.File, e.RuleID, e.Reason)
}

// Set is the result of loading one or more rule documents: the rules that
// loaded, in document order, and the per-rule rejections.
type Set struct {
	Rules  []Rule
	Errors []*LoadError
}

// Merge appends another set's rules and errors. A rule whose id is
// already taken becomes a duplicate-id LoadError instead.
func (s *Set) Merge(o *Set) {
	for _, r := range o.Rules {
		if s.ByID(r.ID) != nil {
			s.Errors = append(s.Errors, &LoadError{
				File: r.Origin, RuleID: r.ID, Reason: "duplicate rule id"})
			continue
		}
		s.Rules = append(s.Rules, r)
	}
	s.Errors = append(s.Errors, o.Errors...)
}

// ByID returns the loaded rule with the given id, or nil.
func (s *Set) ByID(id string) *Rule {
	for i := range s.Rules {
		if s.Rules[i].ID == id {
			return &s.Rules[i]
		}
	}
	return nil
}
