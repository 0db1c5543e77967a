package rastext

import "github.com/vk/rascheck/internal/fsutil"

// SectionPlan is the single record emitted for a plan file.
const SectionPlan = "plan"

func planLayout() *FileLayout {
	return &FileLayout{
		Kind: fsutil.KindPlan,
		Sections: []*SectionDef{
			{
				Name: SectionPlan,
				Fields: []FieldSpec{
					{Keyword: "Plan Title", Name: "plan_title", Kind: KindString},
					{Keyword: "Program Version", Name: "program_version", Kind: KindString},
					{Keyword: "Short Identifier", Name: "short_identifier", Kind: KindString},
					{Keyword: "Simulation Date", Name: "simulation_date", Kind: KindString},
					{Keyword: "Geom File", Name: "geom_file", Kind: KindString},
					{Keyword: "Flow File", Name: "flow_file", Kind: KindString},
					{Keyword: "Plan Type", Name: "plan_type", Kind: KindNumber},
					{Keyword: "Profiles", Name: "profile_count", Kind: KindNumber},
					{Keyword: "Profile Names", Name: "profile_names", Kind: KindStringList},
					{Keyword: "Paused", Name: "paused", Kind: KindFlag},
					{Keyword: "DESCRIPTION", Name: "description", Kind: KindText},

					// Flow regime appears as a bare line.
					{Keyword: "Subcritical Flow", Name: "flow_regime", Kind: KindBare, BareValue: "Subcritical"},
					{Keyword: "Supercritical Flow", Name: "flow_regime", Kind: KindBare, BareValue: "Supercritical"},
					{Keyword: "Mixed Flow Regime", Name: "flow_regime", Kind: KindBare, BareValue: "Mixed"},
					{Keyword: "Mixed Flow", Name: "flow_regime", Kind: KindBare, BareValue: "Mixed"},

					// Computational settings.
					{Keyword: "Flow Tolerance", Name: "flow_tolerance", Kind: KindNumber},
					{Keyword: "Wl Tolerance", Name: "ws_tolerance", Kind: KindNumber},
					{Keyword: "Critical Always Calculated", Name: "critical_always", Kind: KindFlag},
					{Keyword: "Friction Slope Method", Name: "friction_slope_method", Kind: KindNumber},
					{Keyword: "Flow Ratio", Name: "flow_ratio", Kind: KindNumber},
					{Keyword: "Split Flow Opt", Name: "split_flow", Kind: KindFlag},
					{Keyword: "Warm Up", Name: "warm_up", Kind: KindFlag},
					{Keyword: "Computation Interval", Name: "computation_interval", Kind: KindString},
					{Keyword: "Flow Tolerance Method", Name: "flow_tolerance_method", Kind: KindNumber},
					{Keyword: "Check Data", Name: "check_data", Kind: KindFlag},

					// Encroachment / floodway configuration.
					{Keyword: "Encroach Param", Name: "encroach_param", Kind: KindNumberList},
					{Keyword: "Encroach Method", Name: "encroach_method", Kind: KindNumber},
					{Keyword: "Encroach Val 1", Name: "encroach_val_1", Kind: KindNumber},
					{Keyword: "Encroach Val 2", Name: "encroach_val_2", Kind: KindNumber},
					{Keyword: "Encroach Val 3", Name: "encroach_val_3", Kind: KindNumber},
					{Keyword: "Encroach Val 4", Name: "encroach_val_4", Kind: KindNumber},

					// Run flags and output intervals.
					{Keyword: "Run HTab", Name: "run_htab", Kind: KindFlag},
					{Keyword: "Run Post Process", Name: "run_post_process", Kind: KindFlag},
					{Keyword: "Run Sed", Name: "run_sediment", Kind: KindFlag},
					{Keyword: "Run UNET", Name: "run_unet", Kind: KindFlag},
					{Keyword: "Run RAS Mapper", Name: "run_ras_mapper", Kind: KindFlag},
					{Keyword: "Write IC File", Name: "write_ic_file", Kind: KindFlag},
					{Keyword: "Write Detailed", Name: "write_detailed", Kind: KindFlag},
					{Keyword: "Echo Input", Name: "echo_input", Kind: KindFlag},
					{Keyword: "Echo Parameters", Name: "echo_parameters", Kind: KindFlag},
					{Keyword: "Echo Output", Name: "echo_output", Kind: KindFlag},
					{Keyword: "Log Output Level", Name: "log_output_level", Kind: KindNumber},
					{Keyword: "Output Interval", Name: "output_interval", Kind: KindString},
					{Keyword: "Mapping Interval", Name: "mapping_interval", Kind: KindString},
					{Keyword: "Hydrograph Output Interval", Name: "hydrograph_output_interval", Kind: KindString},
					{Keyword: "Detailed Output Interval", Name: "detailed_output_interval", Kind: KindString},
					{Keyword: "Instantaneous Interval", Name: "instantaneous_interval", Kind: KindString},
				},
			},
		},
	}
}
