package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/vk/rascheck/internal/ctxlog"
	"github.com/vk/rascheck/internal/fsutil"
	"github.com/vk/rascheck/internal/model"
	"github.com/vk/rascheck/internal/rasresult"
	"github.com/vk/rascheck/internal/rastext"
)

// resultGlobs selects what the model builder consumes from a result
// container: the cross-section identifier datasets and all computed
// output.
var resultGlobs = []string{
	"/Geometry/Cross Sections/*",
	"/Results/**",
}

// inputs is everything loadInputs hands to the model builder.
type inputs struct {
	// files lists every input consumed, manifest first, in load order.
	files    []string
	sources  []model.Source
	results  []model.ResultSource
	warnings []string
}

// loadInputs parses the project manifest, resolves the files it
// references and parses them across a bounded worker pool. A file that
// fails to parse is skipped with a warning; only an unreadable manifest is
// fatal.
func (a *App) loadInputs(ctx context.Context) (*inputs, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Loading project.", "path", a.cfg.ProjectPath)

	manifest, err := a.parseText(ctx, a.cfg.ProjectPath)
	if err != nil {
		return nil, err
	}

	in := &inputs{files: []string{a.cfg.ProjectPath}}
	in.sources = append(in.sources, model.Source{
		File:    a.cfg.ProjectPath,
		Kind:    fsutil.KindProject,
		Records: manifest.Records,
	})
	for _, w := range manifest.Warnings {
		in.warnings = append(in.warnings, fmt.Sprintf("%s:%d: %s", manifest.File, w.Line, w.Message))
	}

	textPaths, resultPaths := a.resolveReferences(manifest, in)
	in.files = append(in.files, textPaths...)
	in.files = append(in.files, resultPaths...)
	logger.Debug("Resolved project references.",
		"text_files", len(textPaths), "result_files", len(resultPaths))

	a.parseAll(ctx, textPaths, resultPaths, in)
	return in, nil
}

// resolveReferences maps the manifest's file references to on-disk paths,
// in manifest order, plans before geometry before flow. Result containers
// ride along with the plan files that produced them.
func (a *App) resolveReferences(manifest *rastext.ParseResult, in *inputs) (texts, results []string) {
	var rec *rastext.RawRecord
	for i := range manifest.Records {
		if manifest.Records[i].Section == rastext.SectionProject {
			rec = &manifest.Records[i]
			break
		}
	}
	if rec == nil {
		in.warnings = append(in.warnings, fmt.Sprintf("%s: manifest declares no project entries", manifest.File))
		return nil, nil
	}

	addRef := func(ref string) (path string, ok bool) {
		p := fsutil.ResolveRef(a.cfg.ProjectPath, ref)
		if _, err := os.Stat(p); err != nil {
			in.warnings = append(in.warnings, fmt.Sprintf("%s: referenced file %q not found, skipped", manifest.File, ref))
			return "", false
		}
		return p, true
	}

	for _, name := range []string{"plan_file", "geom_file", "steady_file", "unsteady_file"} {
		for _, v := range rec.FieldsNamed(name) {
			if v.IsNull() {
				continue
			}
			p, ok := addRef(v.AsString())
			if !ok {
				continue
			}
			texts = append(texts, p)
			if name == "plan_file" {
				if hdf := fsutil.ResultFor(p); exists(hdf) {
					results = append(results, hdf)
				}
			}
		}
	}
	for _, v := range rec.FieldsNamed("quasi_file") {
		if !v.IsNull() {
			in.warnings = append(in.warnings,
				fmt.Sprintf("%s: quasi-unsteady file %q not supported, skipped", manifest.File, v.AsString()))
		}
	}
	return texts, results
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// parseAll fans the independent files out over a worker pool and collects
// the outputs back in path order, so downstream stages never observe
// completion order.
func (a *App) parseAll(ctx context.Context, textPaths, resultPaths []string, in *inputs) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Parsing input files.",
		"count", len(textPaths)+len(resultPaths), "workers", a.cfg.WorkerCount)

	type slot struct {
		source   *model.Source
		result   *model.ResultSource
		warnings []string
	}
	paths := append(append([]string(nil), textPaths...), resultPaths...)
	slots := make([]slot, len(paths))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < a.cfg.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p := paths[i]
				if fsutil.Classify(p) == fsutil.KindResult {
					rs, err := a.readResult(ctx, p)
					if err != nil {
						slots[i].warnings = []string{err.Error()}
						continue
					}
					slots[i].result = rs
					continue
				}
				src, warns, err := a.parseSource(ctx, p)
				if err != nil {
					slots[i].warnings = []string{err.Error()}
					continue
				}
				slots[i].source = src
				slots[i].warnings = warns
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i := range slots {
		if slots[i].source != nil {
			in.sources = append(in.sources, *slots[i].source)
		}
		if slots[i].result != nil {
			in.results = append(in.results, *slots[i].result)
		}
		in.warnings = append(in.warnings, slots[i].warnings...)
	}
}

func (a *App) parseSource(ctx context.Context, path string) (*model.Source, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.FileTimeout)
	defer cancel()

	res, err := a.parseTextWith(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	// File-level warnings; record warnings travel on the records.
	var warns []string
	for _, w := range res.Warnings {
		warns = append(warns, fmt.Sprintf("%s:%d: %s", path, w.Line, w.Message))
	}
	return &model.Source{File: path, Kind: fsutil.Classify(path), Records: res.Records}, warns, nil
}

func (a *App) parseText(ctx context.Context, path string) (*rastext.ParseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.FileTimeout)
	defer cancel()
	return a.parseTextWith(ctx, path)
}

func (a *App) parseTextWith(ctx context.Context, path string) (*rastext.ParseResult, error) {
	if a.cfg.Strict {
		return rastext.ParseFile(ctx, path, rastext.Strict())
	}
	return rastext.ParseFile(ctx, path)
}

func (a *App) readResult(ctx context.Context, path string) (*model.ResultSource, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.FileTimeout)
	defer cancel()

	f, err := rasresult.Open(path)
	if err != nil {
		return nil, err
	}
	datasets, err := f.Read(ctx, resultGlobs...)
	if err != nil {
		return nil, err
	}
	return &model.ResultSource{File: path, Datasets: datasets}, nil
}
