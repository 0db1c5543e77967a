package report

import (
	"fmt"
	"io"

	"github.com/vk/rascheck/internal/rules"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// RenderTerminal writes the compact summary the check command prints.
func (r *Report) RenderTerminal(w io.Writer) error {
	p := &printer{w: w}

	p.printf("Compliance run %s\n", r.RunID)
	p.printf("Rules: %d loaded", len(r.RuleSet))
	if n := len(r.LoadErrors); n > 0 {
		p.printf(", %d rejected", n)
	}
	p.printf("\n\n")

	for _, f := range r.Findings {
		if f.Status == rules.StatusPass {
			continue
		}
		p.printf("%-14s %-9s %s", f.Status, f.Severity, f.RuleID)
		if f.Entity.ID != "" {
			p.printf("  [%s %s]", f.Entity.Type, f.Entity.ID)
		}
		if f.Message != "" {
			p.printf("  %s", f.Message)
		}
		p.printf("\n")
	}

	p.printf("\n%d findings:", r.Summary.Total)
	for _, s := range statusOrder {
		if n := r.Summary.ByStatus[s]; n > 0 {
			p.printf(" %d %s", n, s)
		}
	}
	p.printf("\n")
	for _, sev := range severityOrder {
		if n := r.Summary.FailBySeverity[sev]; n > 0 {
			p.printf("  failed at severity %s: %d\n", sev, n)
		}
	}
	if n := len(r.Warnings); n > 0 {
		p.printf("%d warnings recorded; see the full report\n", n)
	}
	return p.err
}

// RenderMarkdown writes the full report document.
func (r *Report) RenderMarkdown(w io.Writer) error {
	p := &printer{w: w}

	p.printf("# Compliance Report\n\n")
	p.printf("- Run: `%s`\n", r.RunID)
	p.printf("- Generated: %s\n", r.GeneratedAt.Format(timeLayout))
	p.printf("\n## Inputs\n\n")
	for _, in := range r.Inputs {
		p.printf("- `%s`\n", in)
	}

	p.printf("\n## Rules\n\n")
	p.printf("| ID | Citation | Severity | Origin |\n")
	p.printf("|---|---|---|---|\n")
	for _, ri := range r.RuleSet {
		p.printf("| %s | %s | %s | %s |\n", ri.ID, ri.Citation, ri.Severity, ri.Origin)
	}
	if len(r.LoadErrors) > 0 {
		p.printf("\nRejected at load:\n\n")
		for _, e := range r.LoadErrors {
			p.printf("- %s\n", e)
		}
	}

	p.printf("\n## Findings\n\n")
	p.printf("| Rule | Citation | Entity | Status | Severity | Message |\n")
	p.printf("|---|---|---|---|---|---|\n")
	for _, f := range r.Findings {
		entity := ""
		if f.Entity.ID != "" {
			entity = fmt.Sprintf("%s %s", f.Entity.Type, f.Entity.ID)
		}
		p.printf("| %s | %s | %s | %s | %s | %s |\n",
			f.RuleID, f.Citation, entity, f.Status, f.Severity, f.Message)
	}

	p.printf("\n## Summary\n\n")
	p.printf("Total findings: %d\n\n", r.Summary.Total)
	for _, s := range statusOrder {
		p.printf("- %s: %d\n", s, r.Summary.ByStatus[s])
	}
	for _, sev := range severityOrder {
		if n := r.Summary.FailBySeverity[sev]; n > 0 {
			p.printf("- failed at severity %s: %d\n", sev, n)
		}
	}

	if len(r.Warnings) > 0 {
		p.printf("\n## Warnings\n\n")
		for _, wmsg := range r.Warnings {
			p.printf("- %s\n", wmsg)
		}
	}
	return p.err
}

// printer folds the first write error instead of checking every call.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
