// Package testutil holds shared test fixtures: an on-disk project builder
// and a writer producing result containers the reader can open.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteProject materializes a project in a temp directory. Keys are file
// names relative to the directory, values their content. It returns the
// directory and the path of the first .prj file written.
func WriteProject(t *testing.T, files map[string]string) (dir, projectPath string) {
	t.Helper()
	dir = t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		if filepath.Ext(name) == ".prj" && projectPath == "" {
			projectPath = p
		}
	}
	return dir, projectPath
}
