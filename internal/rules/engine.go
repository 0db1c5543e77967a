package rules

import (
	"context"
	"sync"

	"github.com/vk/rascheck/internal/ctxlog"
	"github.com/vk/rascheck/internal/model"
)

// Options tunes rule evaluation.
type Options struct {
	// Workers bounds the evaluation pool; zero or less means 4.
	Workers int
}

const defaultWorkers = 4

// Evaluate runs every rule in the set against the model and returns the
// findings in rule-load order. Rules are independent and evaluated across
// a worker pool; the reassembly below keeps the output order free of
// scheduling effects. Evaluation never mutates the model and never fails:
// every problem becomes an error-status finding.
func Evaluate(ctx context.Context, m *model.Model, set *Set, opts Options) []Finding {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(set.Rules) && len(set.Rules) > 0 {
		workers = len(set.Rules)
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Rule evaluation started.", "rules", len(set.Rules), "workers", workers)

	perRule := make([][]Finding, len(set.Rules))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r := &set.Rules[i]
				if err := ctx.Err(); err != nil {
					perRule[i] = []Finding{errorFinding(r, model.Key{}, "evaluation canceled: "+err.Error())}
					continue
				}
				perRule[i] = evaluateRule(r, m)
			}
		}()
	}
	for i := range set.Rules {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var findings []Finding
	for _, fs := range perRule {
		findings = append(findings, fs...)
	}
	logger.Debug("Rule evaluation finished.", "findings", len(findings))
	return findings
}

// evaluateRule produces this rule's findings: one per matched entity, or
// exactly one for aggregate rules and for rules matching nothing.
func evaluateRule(r *Rule, m *model.Model) []Finding {
	matched, whereErrors := matchEntities(r, m)
	findings := whereErrors

	if len(matched) == 0 {
		if len(findings) == 0 {
			findings = append(findings, Finding{
				RuleID:   r.ID,
				RuleName: r.Name,
				Citation: r.Citation,
				Severity: r.Severity,
				Status:   StatusNotApplicable,
				Message:  "no matching entities",
			})
		}
		return findings
	}

	if r.Aggregate {
		ok, errMsg := evalBool(r.Condition, aggregateContext(matched))
		findings = append(findings, outcomeFinding(r, model.Key{}, ok, errMsg))
		return findings
	}

	for _, e := range matched {
		ok, errMsg := evalBool(r.Condition, entityContext(e))
		findings = append(findings, outcomeFinding(r, e.Key(), ok, errMsg))
	}
	return findings
}

// matchEntities resolves the selector, entities ordered by selector entry
// then id. A where clause that itself errors on an entity produces an
// error finding and excludes the entity.
func matchEntities(r *Rule, m *model.Model) ([]*model.Entity, []Finding) {
	var matched []*model.Entity
	var errs []Finding
	for _, t := range r.Selector {
		for _, e := range m.ByType(t) {
			if r.Where != nil {
				ok, errMsg := evalBool(r.Where, entityContext(e))
				if errMsg != "" {
					errs = append(errs, errorFinding(r, e.Key(), "where clause: "+errMsg))
					continue
				}
				if !ok {
					continue
				}
			}
			matched = append(matched, e)
		}
	}
	return matched, errs
}

func outcomeFinding(r *Rule, k model.Key, ok bool, errMsg string) Finding {
	if errMsg != "" {
		return errorFinding(r, k, errMsg)
	}
	f := Finding{
		RuleID:   r.ID,
		RuleName: r.Name,
		Citation: r.Citation,
		Severity: r.Severity,
		Entity:   k,
		Status:   StatusPass,
		Message:  r.Message,
	}
	if !ok {
		f.Status = StatusFail
		if f.Message == "" {
			f.Message = "condition not satisfied"
		}
	}
	return f
}

func errorFinding(r *Rule, k model.Key, msg string) Finding {
	return Finding{
		RuleID:   r.ID,
		RuleName: r.Name,
		Citation: r.Citation,
		Severity: r.Severity,
		Entity:   k,
		Status:   StatusError,
		Message:  msg,
	}
}
