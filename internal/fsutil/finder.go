// Package fsutil provides file system helpers for locating the files that
// make up a HEC-RAS project on disk.
package fsutil

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// FileKind classifies a model file by its conventional path suffix.
type FileKind string

const (
	KindProject      FileKind = "project"
	KindGeometry     FileKind = "geometry"
	KindPlan         FileKind = "plan"
	KindSteadyFlow   FileKind = "steady_flow"
	KindUnsteadyFlow FileKind = "unsteady_flow"
	KindResult       FileKind = "result"
	KindUnknown      FileKind = "unknown"
)

// numberedExt matches the numbered suffix convention, e.g. ".g01", ".p12",
// ".f03", ".u99".
var numberedExt = regexp.MustCompile(`^\.([gpfu])(\d{2})$`)

// Classify returns the FileKind for a path based on its suffix convention.
// Result containers are identified by the ".hdf" suffix regardless of the
// plan suffix that precedes it (e.g. "model.p01.hdf").
func Classify(path string) FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".prj":
		return KindProject
	case ".hdf":
		return KindResult
	}
	m := numberedExt.FindStringSubmatch(ext)
	if m == nil {
		return KindUnknown
	}
	switch m[1] {
	case "g":
		return KindGeometry
	case "p":
		return KindPlan
	case "f":
		return KindSteadyFlow
	case "u":
		return KindUnsteadyFlow
	}
	return KindUnknown
}

// ResolveRef turns a project-manifest file reference (e.g. "g01") into the
// sibling path it names, next to the project file.
func ResolveRef(projectPath, ref string) string {
	base := strings.TrimSuffix(projectPath, filepath.Ext(projectPath))
	return base + "." + ref
}

// ResultFor returns the conventional result container path for a plan file
// ("model.p01" -> "model.p01.hdf").
func ResultFor(planPath string) string {
	return planPath + ".hdf"
}

// FindRuleDocuments recursively collects the rule documents (.hcl, .yaml,
// .yml) under root. WalkDir's lexical order makes the result, and therefore
// rule load order, deterministic.
func FindRuleDocuments(root string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".hcl", ".yaml", ".yml":
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
