package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/rascheck/internal/cli"
	"github.com/vk/rascheck/internal/rules"
	"github.com/vk/rascheck/internal/testutil"
)

const passingRules = `
rule "banks_defined" {
  citation  = "44 CFR 65.6(a)(6)"
  severity  = "violation"
  selector  = ["cross_section"]
  condition = has(entity, "bank_left")
}
`

const failingRules = `
rule "expansion_limit" {
  citation  = "44 CFR 65.6(a)(4)"
  severity  = "violation"
  selector  = ["cross_section"]
  condition = entity.expansion <= 0.1
}
`

func fixture(t *testing.T, rules string) (dir, project string) {
	t.Helper()
	return testutil.WriteProject(t, map[string]string{
		"Creek.prj": "Proj Title=Creek\nGeom File=g01\n",
		"Creek.g01": "Geom Title=G\n" +
			"River Reach=Creek,Main\n" +
			"Type RM Length L Ch R= 1 ,500,10,10,10\n" +
			"Bank Sta=2,8\n" +
			"Exp/Cntr=0.3,0.1\n",
		"rules.hcl": rules,
	})
}

func TestRunCheckPasses(t *testing.T) {
	dir, project := fixture(t, passingRules)
	out := &bytes.Buffer{}
	err := run(out, []string{"check", project, "--rules", filepath.Join(dir, "rules.hcl")})
	require.NoError(t, err)
	require.Contains(t, out.String(), "findings")
}

func TestRunCheckBlocksOnViolation(t *testing.T) {
	dir, project := fixture(t, failingRules)
	out := &bytes.Buffer{}
	err := run(out, []string{"check", project, "--rules", filepath.Join(dir, "rules.hcl")})

	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.Code)
	require.Contains(t, out.String(), "expansion_limit")
}

func TestRunCheckRequiresRules(t *testing.T) {
	_, project := fixture(t, passingRules)
	err := run(&bytes.Buffer{}, []string{"check", project})

	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}

func TestRunRulesListsDocuments(t *testing.T) {
	dir, _ := fixture(t, passingRules)
	out := &bytes.Buffer{}
	err := run(out, []string{"rules", "--rules", filepath.Join(dir, "rules.hcl")})
	require.NoError(t, err)
	require.Contains(t, out.String(), "banks_defined")
	require.Contains(t, out.String(), "44 CFR 65.6(a)(6)")
}

func TestRunRulesAcceptsDirectory(t *testing.T) {
	dir, _ := fixture(t, passingRules)
	out := &bytes.Buffer{}
	err := run(out, []string{"rules", "--rules", dir})
	require.NoError(t, err)
	require.Contains(t, out.String(), "banks_defined")
}

func TestRunAddStateScaffold(t *testing.T) {
	dir := t.TempDir()
	out := &bytes.Buffer{}
	err := run(out, []string{
		"add-state", "Texas",
		"--abbrev", "tx",
		"--supersedes", "FEMA-FW-001",
		"--floodway",
		"--output-dir", dir,
	})
	require.NoError(t, err)

	path := filepath.Join(dir, "texas.yaml")
	require.Contains(t, out.String(), path)

	set := rules.LoadYAML(path)
	require.Empty(t, set.Errors)
	require.Len(t, set.Rules, 1)
	require.Equal(t, "TX-FW-001", set.Rules[0].ID)
	require.Equal(t, rules.SeverityViolation, set.Rules[0].Severity)

	// Refuses a second write without --force.
	err = run(&bytes.Buffer{}, []string{"add-state", "Texas", "--abbrev", "tx", "--output-dir", dir})
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}

func TestRunSummaryCountsEntities(t *testing.T) {
	_, project := fixture(t, passingRules)
	out := &bytes.Buffer{}
	err := run(out, []string{"summary", project})
	require.NoError(t, err)
	require.Contains(t, out.String(), "cross_section")
	require.True(t, strings.Contains(out.String(), "entities"))
}

func TestRunRejectsBadFlags(t *testing.T) {
	_, project := fixture(t, passingRules)
	err := run(&bytes.Buffer{}, []string{"summary", project, "--log-level", "loud"})
	require.Error(t, err)
	require.True(t, errors.As(err, new(*cli.ExitError)))
}
