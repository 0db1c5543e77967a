package rastext

import "github.com/vk/rascheck/internal/fsutil"

// Canonical section names emitted for flow files. Steady and unsteady files
// share one vocabulary; the model builder interprets whichever sections are
// present.
const (
	SectionFlowHeader       = "flow_header"
	SectionFlowChange       = "flow_change"
	SectionSteadyBoundary   = "steady_boundary"
	SectionUnsteadyBoundary = "unsteady_boundary"
)

func flowLayout(kind fsutil.FileKind) *FileLayout {
	return &FileLayout{
		Kind: kind,
		Sections: []*SectionDef{
			{
				Name: SectionFlowHeader,
				Fields: []FieldSpec{
					{Keyword: "Flow Title", Name: "flow_title", Kind: KindString},
					{Keyword: "Program Version", Name: "program_version", Kind: KindString},
					{Keyword: "Number of Profiles", Name: "num_profiles", Kind: KindNumber},
					{Keyword: "Profile Names", Name: "profile_names", Kind: KindStringList},
				},
			},
			{
				// Flow magnitudes at a change location: one value per profile
				// in steady files, initial-condition flows in unsteady files.
				Name:  SectionFlowChange,
				Begin: "River Rch & RM",
				Header: []FieldSpec{
					{Name: "river", Kind: KindString},
					{Name: "reach", Kind: KindString},
					{Name: "river_station", Kind: KindNumber},
				},
				Trailing: &FieldSpec{Name: "flows", Kind: KindTableGreedy},
			},
			{
				Name:  SectionSteadyBoundary,
				Begin: "Boundary for River Rch & Prof#",
				Header: []FieldSpec{
					{Name: "river", Kind: KindString},
					{Name: "reach", Kind: KindString},
					{Name: "profile_number", Kind: KindNumber},
				},
				Fields: []FieldSpec{
					{Keyword: "Up Type", Name: "up_type", Kind: KindNumber},
					{Keyword: "Dn Type", Name: "dn_type", Kind: KindNumber},
					{Keyword: "Up Slope", Name: "up_slope", Kind: KindNumber},
					{Keyword: "Dn Slope", Name: "dn_slope", Kind: KindNumber},
					{Keyword: "Up Known WS", Name: "up_known_ws", Kind: KindNumber},
					{Keyword: "Dn Known WS", Name: "dn_known_ws", Kind: KindNumber},
				},
			},
			{
				Name:  SectionUnsteadyBoundary,
				Begin: "Boundary Location",
				Header: []FieldSpec{
					{Name: "river", Kind: KindString},
					{Name: "reach", Kind: KindString},
					{Name: "river_station", Kind: KindString},
				},
				Fields: []FieldSpec{
					{Keyword: "Interval", Name: "interval", Kind: KindString},
					{Keyword: "Friction Slope", Name: "friction_slope", Kind: KindNumber},
					{Keyword: "Use DSS", Name: "use_dss", Kind: KindFlag},
					{Keyword: "DSS File", Name: "dss_file", Kind: KindString},
					{Keyword: "DSS Path", Name: "dss_path", Kind: KindString},
					{Keyword: "Flow Hydrograph", Name: "flow_hydrograph", Kind: KindTable, Arity: 1},
					{Keyword: "Stage Hydrograph", Name: "stage_hydrograph", Kind: KindTable, Arity: 1},
					{Keyword: "Lateral Inflow Hydrograph", Name: "lateral_inflow_hydrograph", Kind: KindTable, Arity: 1},
					{Keyword: "Uniform Lateral Inflow Hydrograph", Name: "uniform_lateral_inflow_hydrograph", Kind: KindTable, Arity: 1},
					{Keyword: "Gate Openings", Name: "gate_openings", Kind: KindTable, Arity: 1},
					{Keyword: "Rating Curve", Name: "rating_curve", Kind: KindTable, Arity: 1},
					{Keyword: "Precipitation Hydrograph", Name: "precipitation_hydrograph", Kind: KindTable, Arity: 1},
				},
			},
		},
	}
}
