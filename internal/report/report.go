// Package report aggregates rule findings into an immutable compliance
// report and renders it for terminals and markdown documents.
//
// Aggregation is counting and stamping only; no compliance logic lives
// here. Two runs over identical inputs produce byte-identical renderings
// except for the run id and timestamp header.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/vk/rascheck/internal/rules"
)

// RuleInfo is the loaded-rule metadata carried into the report, so a
// reader can trace every finding back to its document and citation.
type RuleInfo struct {
	ID       string
	Name     string
	Citation string
	Severity rules.Severity
	Origin   string
}

// Summary holds the aggregate counts.
type Summary struct {
	Total          int
	ByStatus       map[rules.Status]int
	FailBySeverity map[rules.Severity]int
}

// Report is the complete outcome of one compliance run.
type Report struct {
	RunID       uuid.UUID
	GeneratedAt time.Time

	// Inputs names the model files the run consumed, in load order.
	Inputs []string
	// RuleSet describes the rules that loaded; LoadErrors the ones that
	// did not.
	RuleSet    []RuleInfo
	LoadErrors []string

	// Findings are in rule-load order, exactly as the engine returned
	// them.
	Findings []rules.Finding

	// Warnings carries every recoverable problem recorded while parsing
	// and merging, so skipped or defaulted values stay visible.
	Warnings []string

	Summary Summary
}

// New stamps and aggregates a report. The findings slice is taken over by
// the report and must not be mutated afterwards.
func New(inputs []string, set *rules.Set, findings []rules.Finding, warnings []string) *Report {
	r := &Report{
		RunID:       uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Inputs:      inputs,
		Findings:    findings,
		Warnings:    warnings,
	}
	for _, rule := range set.Rules {
		r.RuleSet = append(r.RuleSet, RuleInfo{
			ID:       rule.ID,
			Name:     rule.Name,
			Citation: rule.Citation,
			Severity: rule.Severity,
			Origin:   rule.Origin,
		})
	}
	for _, e := range set.Errors {
		r.LoadErrors = append(r.LoadErrors, e.Error())
	}

	r.Summary = Summary{
		ByStatus:       map[rules.Status]int{},
		FailBySeverity: map[rules.Severity]int{},
	}
	for _, f := range findings {
		r.Summary.Total++
		r.Summary.ByStatus[f.Status]++
		if f.Status == rules.StatusFail {
			r.Summary.FailBySeverity[f.Severity]++
		}
	}
	return r
}

// HasBlocking reports whether any finding forces a non-zero exit.
func (r *Report) HasBlocking() bool {
	for _, f := range r.Findings {
		if f.Blocking() {
			return true
		}
	}
	return false
}

// statusOrder and severityOrder fix the rendering order of count lines.
var statusOrder = []rules.Status{
	rules.StatusPass,
	rules.StatusFail,
	rules.StatusError,
	rules.StatusNotApplicable,
}

var severityOrder = []rules.Severity{
	rules.SeverityViolation,
	rules.SeverityWarning,
	rules.SeverityInfo,
}
