package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/rascheck/internal/ctxlog"
	"github.com/vk/rascheck/internal/fsutil"
	"github.com/vk/rascheck/internal/model"
	"github.com/vk/rascheck/internal/report"
	"github.com/vk/rascheck/internal/rules"
)

// Run executes the full pipeline and returns the aggregated report. The
// returned error covers only run-fatal conditions: an unreadable
// manifest, a model consistency conflict, or an unwritable report file.
// Everything recoverable lands in the report as warnings or error
// findings.
func (a *App) Run(ctx context.Context) (*report.Report, error) {
	ctx = a.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Run method started.")

	in, err := a.loadInputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading project inputs: %w", err)
	}
	logger.Info("Inputs loaded.",
		"sources", len(in.sources), "results", len(in.results), "warnings", len(in.warnings))

	policy, err := a.cfg.mergePolicy()
	if err != nil {
		return nil, err
	}
	m, err := model.Build(in.sources, in.results, policy)
	if err != nil {
		return nil, fmt.Errorf("building model: %w", err)
	}
	logger.Info("Model built.", "entities", m.Len())

	set := a.loadRules(ctx)
	logger.Info("Rules loaded.", "rules", len(set.Rules), "rejected", len(set.Errors))

	findings := rules.Evaluate(ctx, m, set, rules.Options{Workers: a.cfg.WorkerCount})
	logger.Info("Evaluation complete.", "findings", len(findings))

	rep := report.New(in.files, set, findings, collectWarnings(in, m))
	if a.cfg.MarkdownPath != "" {
		if err := a.writeMarkdown(rep); err != nil {
			return nil, err
		}
		logger.Info("Markdown report written.", "path", a.cfg.MarkdownPath)
	}
	logger.Debug("App.Run method finished.")
	return rep, nil
}

// Model runs only the front half of the pipeline, for the summary
// command.
func (a *App) Model(ctx context.Context) (*model.Model, []string, error) {
	ctx = a.withLogger(ctx)
	in, err := a.loadInputs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading project inputs: %w", err)
	}
	policy, err := a.cfg.mergePolicy()
	if err != nil {
		return nil, nil, err
	}
	m, err := model.Build(in.sources, in.results, policy)
	if err != nil {
		return nil, nil, fmt.Errorf("building model: %w", err)
	}
	return m, collectWarnings(in, m), nil
}

// LoadRules loads the configured rule documents without running the
// pipeline, for the rules command.
func (a *App) LoadRules(ctx context.Context) *rules.Set {
	return a.loadRules(a.withLogger(ctx))
}

func (a *App) loadRules(ctx context.Context) *rules.Set {
	return LoadRuleDocuments(ctx, a.cfg.RulePaths)
}

// LoadRuleDocuments reads rule documents in order; a directory argument
// expands to the documents beneath it. HCL documents merge; YAML documents
// overlay the set built so far, so a state YAML file can supersede earlier
// rules.
func LoadRuleDocuments(ctx context.Context, paths []string) *rules.Set {
	logger := ctxlog.FromContext(ctx)
	set := &rules.Set{}
	for _, p := range expandRulePaths(set, paths) {
		logger.Debug("Loading rule document.", "path", p)
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			rules.LoadYAMLInto(set, p)
		default:
			set.Merge(rules.LoadHCL(p))
		}
	}
	return set
}

// expandRulePaths replaces directory arguments with the rule documents
// found beneath them. An unreadable directory contributes a document-level
// load error instead of aborting.
func expandRulePaths(set *rules.Set, paths []string) []string {
	var out []string
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			docs, err := fsutil.FindRuleDocuments(p)
			if err != nil {
				set.Errors = append(set.Errors, &rules.LoadError{File: p, Reason: err.Error()})
				continue
			}
			out = append(out, docs...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// collectWarnings gathers every recoverable problem recorded on the way
// here, so the report shows all skipped or defaulted values.
func collectWarnings(in *inputs, m *model.Model) []string {
	var out []string
	out = append(out, in.warnings...)
	out = append(out, m.Warnings...)
	for _, e := range m.All() {
		for _, w := range e.Warnings {
			out = append(out, fmt.Sprintf("%s: %s", e.Key(), w))
		}
	}
	return out
}

func (a *App) writeMarkdown(rep *report.Report) error {
	f, err := os.Create(a.cfg.MarkdownPath)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()
	if err := rep.RenderMarkdown(f); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return f.Close()
}
