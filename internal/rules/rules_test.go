package rules_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/rascheck/internal/fsutil"
	"github.com/vk/rascheck/internal/model"
	"github.com/vk/rascheck/internal/rastext"
	"github.com/vk/rascheck/internal/rules"
)

const fixtureGeometry = `Geom Title=Fixture
River Reach=River,Reach
Type RM Length L Ch R= 1 ,100,10,10,10
#Mann= 3 , 0 , 0
0.05 0 0 0.03 5 0 0.06 20 0
Bank Sta=5,20
Type RM Length L Ch R= 1 ,200,10,10,10
#Mann= 1 , 0 , 0
zz 0 0
Bank Sta=0,10
`

func fixtureModel(t *testing.T) *model.Model {
	t.Helper()
	res, err := rastext.Parse(context.Background(), "Fix.g01", []byte(fixtureGeometry), fsutil.KindGeometry)
	require.NoError(t, err)
	m, err := model.Build([]model.Source{
		{File: "Fix.g01", Kind: fsutil.KindGeometry, Records: res.Records},
	}, nil, model.DefaultPolicy())
	require.NoError(t, err)
	return m
}

func evalSource(t *testing.T, m *model.Model, src string) []rules.Finding {
	t.Helper()
	set := rules.LoadHCLSource("rules.hcl", []byte(src))
	require.Empty(t, set.Errors)
	return rules.Evaluate(context.Background(), m, set, rules.Options{Workers: 2})
}

func TestLoadHCLRejectsIncompleteRules(t *testing.T) {
	set := rules.LoadHCLSource("rules.hcl", []byte(`
rule "good" {
  citation  = "44 CFR 65.6(a)(2)"
  severity  = "violation"
  selector  = ["cross_section"]
  condition = entity.manning_n_channel >= 0.016
}

rule "uncited" {
  severity  = "info"
  selector  = ["cross_section"]
  condition = true
}

rule "bad_severity" {
  citation  = "44 CFR 65.6"
  severity  = "fatal"
  selector  = ["cross_section"]
  condition = true
}
`))
	require.Len(t, set.Rules, 1)
	require.Equal(t, "good", set.Rules[0].ID)

	require.Len(t, set.Errors, 2)
	require.Equal(t, "uncited", set.Errors[0].RuleID)
	require.Contains(t, set.Errors[0].Reason, "citation")
	require.Equal(t, "bad_severity", set.Errors[1].RuleID)
}

func TestLoadHCLRejectsUnknownReferences(t *testing.T) {
	set := rules.LoadHCLSource("rules.hcl", []byte(`
rule "stray_variable" {
  citation  = "44 CFR 65.6"
  severity  = "info"
  selector  = ["cross_section"]
  condition = profile.flow > 0
}

rule "stray_function" {
  citation  = "44 CFR 65.6"
  severity  = "info"
  selector  = ["cross_section"]
  condition = round(entity.expansion) <= 1
}

rule "aggregate_scope" {
  citation  = "44 CFR 65.6"
  severity  = "info"
  selector  = ["cross_section"]
  aggregate = true
  condition = entity.expansion <= 1
}
`))
	require.Empty(t, set.Rules)
	require.Len(t, set.Errors, 3)
	require.Contains(t, set.Errors[0].Reason, `"profile"`)
	require.Contains(t, set.Errors[1].Reason, `"round"`)
	require.Contains(t, set.Errors[2].Reason, `"entity"`)
}

func TestLoadHCLFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "federal.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
rule "banks_defined" {
  citation  = "44 CFR 65.6(a)(6)"
  severity  = "warning"
  selector  = ["cross_section"]
  condition = has(entity, "bank_left")
}
`), 0o644))

	set := rules.LoadHCL(path)
	require.Empty(t, set.Errors)
	require.Len(t, set.Rules, 1)
	require.Equal(t, path, set.Rules[0].Origin)
	require.Equal(t, rules.SeverityWarning, set.Rules[0].Severity)
}

func TestLoadYAMLWithOverlay(t *testing.T) {
	set := rules.LoadYAMLSource(nil, "federal.yaml", []byte(`
rules:
  - id: manning_min
    citation: 44 CFR 65.6(a)(2)
    severity: warning
    check_type: range
    applies_to: cross_sections[].manning_n_channel
    parameters:
      min: 0.016
  - id: banks_exist
    citation: 44 CFR 65.6(a)(6)
    severity: info
    check_type: exists
    applies_to: cross_sections[].bank_left
  - id: uncited
    severity: info
    check_type: exists
    applies_to: cross_sections[].bank_left
`))
	require.Len(t, set.Rules, 2)
	require.Len(t, set.Errors, 1)
	require.Equal(t, "uncited", set.Errors[0].RuleID)

	set = rules.LoadYAMLSource(set, "state.yaml", []byte(`
supersedes: [manning_min]
rules:
  - id: manning_min_state
    citation: State Code 12-4
    severity: violation
    check_type: custom
    applies_to: cross_sections[]
    condition: entity.manning_n_channel >= 0.02
`))
	require.Len(t, set.Errors, 1)
	require.Nil(t, set.ByID("manning_min"))
	require.NotNil(t, set.ByID("banks_exist"))
	require.Equal(t, "manning_min_state", set.Rules[1].ID)
	require.Equal(t, "state.yaml", set.Rules[1].Origin)
}

const fixtureFlow = `Flow Title=Handler Fixture
Number of Profiles= 2
Profile Names=100-YR,50-yr
Boundary for River Rch & Prof#=River,Reach, 1
Dn Slope=0.002
`

const fixtureProject = `Proj Title=Handler Fixture
Current Plan=p01
`

func handlerFixtureModel(t *testing.T) *model.Model {
	t.Helper()
	flow, err := rastext.Parse(context.Background(), "Fix.f01", []byte(fixtureFlow), fsutil.KindSteadyFlow)
	require.NoError(t, err)
	proj, err := rastext.Parse(context.Background(), "Fix.prj", []byte(fixtureProject), fsutil.KindProject)
	require.NoError(t, err)
	m, err := model.Build([]model.Source{
		{File: "Fix.prj", Kind: fsutil.KindProject, Records: proj.Records},
		{File: "Fix.f01", Kind: fsutil.KindSteadyFlow, Records: flow.Records},
	}, nil, model.DefaultPolicy())
	require.NoError(t, err)
	return m
}

func TestLoadYAMLHandlerChecks(t *testing.T) {
	set := rules.LoadYAMLSource(nil, "federal.yaml", []byte(`
rules:
  - id: profile_100yr
    citation: 44 CFR 65.6(a)(1)
    severity: violation
    check_type: custom
    applies_to: flows[].profiles
    parameters:
      handler: check_100yr_profile_exists
      accepted_names: ["100-yr", "1% Annual Chance"]
  - id: boundaries_defined
    citation: 44 CFR 65.6(a)(5)
    severity: violation
    check_type: custom
    applies_to: flows[].boundaries
    parameters:
      handler: check_boundary_conditions_defined
  - id: datum_review
    citation: 44 CFR 65.6(a)(8)
    severity: warning
    check_type: custom
    applies_to: projects[]
    parameters:
      handler: flag_for_manual_review
      review_note: Verify the vertical datum against the effective FIS.
  - id: mystery
    citation: 44 CFR 65.6
    severity: info
    check_type: custom
    applies_to: projects[]
    parameters:
      handler: frobnicate_model
`))
	require.Len(t, set.Errors, 1)
	require.Equal(t, "mystery", set.Errors[0].RuleID)
	require.Contains(t, set.Errors[0].Reason, "frobnicate_model")

	require.Len(t, set.Rules, 3)
	for _, r := range set.Rules {
		require.Truef(t, r.Aggregate, "handler rule %s must aggregate", r.ID)
	}
	require.Equal(t, []model.Type{model.TypeProfile}, set.ByID("profile_100yr").Selector)
	require.Equal(t, []model.Type{model.TypeBoundary}, set.ByID("boundaries_defined").Selector)
	// Manual review always reports at info, whatever the document says.
	require.Equal(t, rules.SeverityInfo, set.ByID("datum_review").Severity)

	m := handlerFixtureModel(t)
	findings := rules.Evaluate(context.Background(), m, set, rules.Options{Workers: 2})
	require.Len(t, findings, 3)

	byRule := map[string]rules.Finding{}
	for _, f := range findings {
		byRule[f.RuleID] = f
	}
	// "100-YR" in the flow file matches the accepted "100-yr" case-blind.
	require.Equal(t, rules.StatusPass, byRule["profile_100yr"].Status)
	require.Equal(t, rules.StatusPass, byRule["boundaries_defined"].Status)
	review := byRule["datum_review"]
	require.Equal(t, rules.StatusPass, review.Status)
	require.Contains(t, review.Message, "vertical datum")
}

func TestLoadYAMLRejectsUnknownReferences(t *testing.T) {
	set := rules.LoadYAMLSource(nil, "state.yaml", []byte(`
rules:
  - id: typo
    citation: State Code 12-4
    severity: warning
    check_type: custom
    applies_to: cross_sections[]
    condition: section.manning_n_channel >= 0.02
`))
	require.Empty(t, set.Rules)
	require.Len(t, set.Errors, 1)
	require.Contains(t, set.Errors[0].Reason, `"section"`)
}

func TestEvaluatePassFailError(t *testing.T) {
	m := fixtureModel(t)
	findings := evalSource(t, m, `
rule "manning_channel_range" {
  citation  = "44 CFR 65.6(a)(2)"
  severity  = "violation"
  selector  = ["cross_section"]
  condition = entity.manning_n_channel >= 0.016 && entity.manning_n_channel <= 0.2
}
`)
	require.Len(t, findings, 2)

	require.Equal(t, "River/Reach/100", findings[0].Entity.ID)
	require.Equal(t, rules.StatusPass, findings[0].Status)

	// The second section's Manning value was unparsable and is null,
	// which must surface as an evaluation error, not a crash or a pass.
	require.Equal(t, "River/Reach/200", findings[1].Entity.ID)
	require.Equal(t, rules.StatusError, findings[1].Status)
	require.NotEmpty(t, findings[1].Message)
}

func TestEvaluateMissingAttribute(t *testing.T) {
	m := fixtureModel(t)
	findings := evalSource(t, m, `
rule "freeboard" {
  citation  = "State Code 9-1"
  severity  = "warning"
  selector  = ["cross_section"]
  condition = entity.freeboard >= 1.0
}
`)
	require.Len(t, findings, 2)
	for _, f := range findings {
		require.Equal(t, rules.StatusError, f.Status)
		require.Contains(t, f.Message, "freeboard")
	}
}

func TestEvaluateEmptyMatch(t *testing.T) {
	m := fixtureModel(t)
	findings := evalSource(t, m, `
rule "bridge_clearance" {
  citation  = "44 CFR 65.6"
  severity  = "violation"
  selector  = ["bridge"]
  condition = entity.min_low_chord >= 100
}
`)
	require.Len(t, findings, 1)
	require.Equal(t, rules.StatusNotApplicable, findings[0].Status)
	require.Empty(t, findings[0].Entity.ID)
}

func TestEvaluateAggregate(t *testing.T) {
	m := fixtureModel(t)
	findings := evalSource(t, m, `
rule "enough_sections" {
  citation  = "44 CFR 65.6(a)(3)"
  severity  = "info"
  selector  = ["cross_section"]
  aggregate = true
  condition = count >= 2
}
`)
	require.Len(t, findings, 1)
	require.Equal(t, rules.StatusPass, findings[0].Status)
}

func TestEvaluateWhereClause(t *testing.T) {
	m := fixtureModel(t)
	findings := evalSource(t, m, `
rule "upper_section_banks" {
  citation  = "44 CFR 65.6"
  severity  = "info"
  selector  = ["cross_section"]
  where     = entity.id == "River/Reach/100"
  condition = entity.bank_left < entity.bank_right
}
`)
	require.Len(t, findings, 1)
	require.Equal(t, "River/Reach/100", findings[0].Entity.ID)
	require.Equal(t, rules.StatusPass, findings[0].Status)
}

func TestEvaluateLoadOrder(t *testing.T) {
	m := fixtureModel(t)
	findings := evalSource(t, m, `
rule "r1" {
  citation  = "c"
  severity  = "info"
  selector  = ["cross_section"]
  condition = true
}
rule "r2" {
  citation  = "c"
  severity  = "info"
  selector  = ["cross_section"]
  condition = true
}
rule "r3" {
  citation  = "c"
  severity  = "info"
  selector  = ["cross_section"]
  condition = false
}
`)
	var order []string
	for _, f := range findings {
		if len(order) == 0 || order[len(order)-1] != f.RuleID {
			order = append(order, f.RuleID)
		}
	}
	require.Equal(t, []string{"r1", "r2", "r3"}, order)

	last := findings[len(findings)-1]
	require.Equal(t, rules.StatusFail, last.Status)
	require.True(t, last.Blocking() == false) // info severity never blocks
}

func TestFindingBlocking(t *testing.T) {
	f := rules.Finding{Status: rules.StatusFail, Severity: rules.SeverityViolation}
	require.True(t, f.Blocking())
	f.Status = rules.StatusError
	require.False(t, f.Blocking())
}
