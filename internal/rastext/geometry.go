package rastext

import "github.com/vk/rascheck/internal/fsutil"

// Canonical section names emitted for geometry files.
const (
	SectionGeometryHeader = "geometry_header"
	SectionRiverReach     = "river_reach"
	SectionCrossSection   = "cross_section"
	SectionBridge         = "bridge"
	SectionNode           = "node"
)

// nodeFields is the shared keyword vocabulary inside a geometry node block.
// Cross sections and bridges share one block grammar; the node type on the
// "Type RM Length L Ch R" line discriminates them.
var nodeFields = []FieldSpec{
	{Keyword: "DESCRIPTION", Name: "description", Kind: KindText},
	{Keyword: "Node Name", Name: "node_name", Kind: KindString},

	// Cross-section data.
	{Keyword: "#Sta/Elev", Name: "station_elevation", Kind: KindTable, Arity: 2},
	{Keyword: "#Mann", Name: "manning_regions", Kind: KindTable, Arity: 3},
	{Keyword: "Bank Sta", Name: "bank_stations", Kind: KindNumberList},
	{Keyword: "Exp/Cntr", Name: "exp_cntr", Kind: KindNumberList},
	{Keyword: "#IEffective", Name: "ineffective_areas", Kind: KindTable, Arity: 6},
	{Keyword: "#Levee", Name: "levee_table", Kind: KindTable, Arity: 3},
	{Keyword: "Levee", Name: "levee", Kind: KindNumberList},

	// Bridge deck / roadway.
	{Keyword: "#Deck/Roadway", Name: "deck_roadway", Kind: KindTable, Arity: 3,
		HeaderExtras: []string{"deck_width"}},
	{Keyword: "BC Design Weir Coef", Name: "weir_coef", Kind: KindNumberList},
	{Keyword: "Deck Dist", Name: "deck_dist", Kind: KindNumberList},
	{Keyword: "US Boundary Condition Sta", Name: "us_boundary_sta", Kind: KindNumberList},
	{Keyword: "DS Boundary Condition Sta", Name: "ds_boundary_sta", Kind: KindNumberList},
	{Keyword: "Bridge Skew", Name: "bridge_skew", Kind: KindNumber},

	// Piers; the pier keywords repeat once per pier.
	{Keyword: "#Pier Elev", Name: "pier_elev", Kind: KindTable, Arity: 2},
	{Keyword: "#Pier", Name: "pier_count", Kind: KindNumber},
	{Keyword: "Pier Skew", Name: "pier_skew", Kind: KindNumber},
	{Keyword: "Center Sta Upstream", Name: "pier_center_us", Kind: KindNumber},
	{Keyword: "Center Sta Downstream", Name: "pier_center_ds", Kind: KindNumber},

	// Modeling approach and coefficients.
	{Keyword: "Bridge Modeling Approach", Name: "modeling_approach", Kind: KindNumberList},
	{Keyword: "Bridge Coef Energy", Name: "coef_energy", Kind: KindNumberList},
	{Keyword: "Bridge Coef PI Yarnell", Name: "coef_yarnell", Kind: KindNumberList},
	{Keyword: "Bridge Coef Momentum", Name: "coef_momentum", Kind: KindNumber},
	{Keyword: "Bridge WSPRO Data Coef", Name: "wspro_coef", Kind: KindNumberList},
}

// geometryLayout describes .gNN files for every format revision we have
// encountered so far. Revisions that change the vocabulary get their own
// registered layout; the parser itself never branches on version.
func geometryLayout() *FileLayout {
	return &FileLayout{
		Kind: fsutil.KindGeometry,
		Sections: []*SectionDef{
			{
				Name: SectionGeometryHeader,
				Fields: []FieldSpec{
					{Keyword: "Geom Title", Name: "geom_title", Kind: KindString},
					{Keyword: "Program Version", Name: "program_version", Kind: KindString},
				},
			},
			{
				Name:  SectionRiverReach,
				Begin: "River Reach",
				Header: []FieldSpec{
					{Name: "river", Kind: KindString},
					{Name: "reach", Kind: KindString},
				},
			},
			{
				Name:  SectionNode,
				Begin: "Type RM Length L Ch R",
				Header: []FieldSpec{
					{Name: "node_type", Kind: KindNumber},
					{Name: "river_station", Kind: KindNumber},
					{Name: "length_left", Kind: KindNumber},
					{Name: "length_channel", Kind: KindNumber},
					{Name: "length_right", Kind: KindNumber},
				},
				TypeField: 0,
				TypeNames: map[int]string{
					1: SectionCrossSection,
					6: SectionBridge,
				},
				Fields: nodeFields,
			},
		},
	}
}
