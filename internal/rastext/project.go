package rastext

import "github.com/vk/rascheck/internal/fsutil"

// SectionProject is the single record emitted for a .prj manifest.
const SectionProject = "project"

func projectLayout() *FileLayout {
	return &FileLayout{
		Kind: fsutil.KindProject,
		Sections: []*SectionDef{
			{
				Name: SectionProject,
				Fields: []FieldSpec{
					{Keyword: "Proj Title", Name: "proj_title", Kind: KindString},
					{Keyword: "Program Version", Name: "program_version", Kind: KindString},
					{Keyword: "Current Plan", Name: "current_plan", Kind: KindString},
					{Keyword: "DESCRIPTION", Name: "description", Kind: KindText},

					// File references repeat once per referenced file.
					{Keyword: "Geom File", Name: "geom_file", Kind: KindString},
					{Keyword: "Steady File", Name: "steady_file", Kind: KindString},
					{Keyword: "Unsteady File", Name: "unsteady_file", Kind: KindString},
					{Keyword: "QuasiSteady File", Name: "quasi_file", Kind: KindString},
					{Keyword: "Plan File", Name: "plan_file", Kind: KindString},

					{Keyword: "Default Exp/Contr", Name: "default_exp_cntr", Kind: KindNumberList},

					{Keyword: "English Units", Name: "units", Kind: KindBare, BareValue: "English"},
					{Keyword: "SI Units", Name: "units", Kind: KindBare, BareValue: "SI Metric"},
					{Keyword: "SI Metric", Name: "units", Kind: KindBare, BareValue: "SI Metric"},
				},
			},
		},
	}
}
