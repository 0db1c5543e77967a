package model_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/fsutil"
	"github.com/vk/rascheck/internal/model"
	"github.com/vk/rascheck/internal/rasresult"
	"github.com/vk/rascheck/internal/rastext"
)

// source parses inline content into a Build input.
func source(t *testing.T, file, content string) model.Source {
	t.Helper()
	kind := fsutil.Classify(file)
	res, err := rastext.Parse(context.Background(), file, []byte(content), kind)
	require.NoError(t, err)
	return model.Source{File: file, Kind: kind, Records: res.Records}
}

const geomContent = `Geom Title=Existing Conditions
River Reach=Mill Creek,Upper
Type RM Length L Ch R= 1 ,1200,100,110,120
#Sta/Elev= 4
0 105.2 10 100.1
35 100.3 50 106.8
#Mann= 3 , 0 , 0
0.08 0 0 0.035 12 0
0.09 40 0
Bank Sta=12,40
Exp/Cntr=0.3,0.1
Type RM Length L Ch R= 6 ,1150,50,50,50
#Deck/Roadway= 2 ,40.5
0 110 104
60 110 103.5
US Boundary Condition Sta=5,55
BC Design Weir Coef=2.6,2.6
Pier Skew= 0
Center Sta Upstream=30
Center Sta Downstream=30
#Pier Elev= 2
90 2 112 2
`

const planContent = `Plan Title=Floodway
Short Identifier=FW
Geom File=g01
Flow File=f01
Plan Type= 1
Encroach Method= 4
Encroach Val 1= 1.0
Encroach Val 2= 0
`

const flowContent = `Flow Title=Profiles
Number of Profiles= 2
Profile Names=100yr,Floodway
River Rch & RM=Mill Creek,Upper,1200
500 520
Boundary for River Rch & Prof#=Mill Creek,Upper,1
Dn Type= 3
Dn Slope=0.002
`

func buildFixture(t *testing.T, extra ...model.Source) *model.Model {
	t.Helper()
	sources := append([]model.Source{
		source(t, "Mill.g01", geomContent),
		source(t, "Mill.p01", planContent),
		source(t, "Mill.f01", flowContent),
	}, extra...)
	m, err := model.Build(sources, nil, model.DefaultPolicy())
	require.NoError(t, err)
	return m
}

func TestBuildCrossSectionDerived(t *testing.T) {
	m := buildFixture(t)

	xs := m.Get(model.TypeCrossSection, "Mill Creek/Upper/1200")
	require.NotNil(t, xs)

	num := func(name string) float64 {
		v, ok := xs.Number(name)
		require.Truef(t, ok, "attribute %q", name)
		return v
	}
	require.Equal(t, 0.08, num("manning_n_left"))
	require.Equal(t, 0.035, num("manning_n_channel"))
	require.Equal(t, 0.09, num("manning_n_right"))
	require.Equal(t, 12.0, num("bank_left"))
	require.Equal(t, 0.3, num("expansion"))
	require.Equal(t, 0.1, num("contraction"))
	require.Equal(t, 100.1, num("min_elevation"))

	river, _ := xs.Text("river")
	require.Equal(t, "Mill Creek", river)
}

func TestBuildBridgeDerived(t *testing.T) {
	m := buildFixture(t)

	br := m.Get(model.TypeBridge, "Mill Creek/Upper/1150")
	require.NotNil(t, br)

	num := func(name string) float64 {
		v, ok := br.Number(name)
		require.Truef(t, ok, "attribute %q", name)
		return v
	}
	require.Equal(t, 103.5, num("min_low_chord"))
	require.Equal(t, 50.0, num("opening_width"))
	require.Equal(t, 40.5, num("deck_width"))
	require.Equal(t, 2.6, num("us_weir_coef"))
	require.Equal(t, 1.0, num("pier_count_actual"))
	// One pier of constant width 2 blocks 2 units at the low chord.
	require.Equal(t, 2.0, num("total_pier_width"))
}

func TestBuildPlanDerived(t *testing.T) {
	m := buildFixture(t)

	p := m.Get(model.TypePlan, "p01")
	require.NotNil(t, p)

	fw, ok := p.Attr("is_floodway")
	require.True(t, ok)
	require.True(t, fw.True())
	surcharge, ok := p.Number("target_surcharge")
	require.True(t, ok)
	require.Equal(t, 1.0, surcharge)
	name, _ := p.Text("plan_type_name")
	require.Equal(t, "Steady Flow", name)
	ref, _ := p.Text("geom_file_ref")
	require.Equal(t, "g01", ref)
}

func TestBuildFlowEntities(t *testing.T) {
	m := buildFixture(t)

	profs := m.ByType(model.TypeProfile)
	require.Len(t, profs, 2)
	require.Equal(t, "f01/1", profs[0].ID)
	name, _ := profs[0].Text("name")
	require.Equal(t, "100yr", name)

	loc := m.Get(model.TypeFlowLocation, "Mill Creek/Upper/1200")
	require.NotNil(t, loc)
	min, ok := loc.Number("min_flow")
	require.True(t, ok)
	require.Equal(t, 500.0, min)

	bc := m.Get(model.TypeBoundary, "Mill Creek/Upper/1")
	require.NotNil(t, bc)
	slope, _ := bc.Number("dn_slope")
	require.Equal(t, 0.002, slope)
}

func TestBuildCanonicalOrder(t *testing.T) {
	a := source(t, "Mill.g01", geomContent)
	b := source(t, "Mill.p01", planContent)
	c := source(t, "Mill.f01", flowContent)

	m1, err := model.Build([]model.Source{a, b, c}, nil, model.DefaultPolicy())
	require.NoError(t, err)
	m2, err := model.Build([]model.Source{c, a, b}, nil, model.DefaultPolicy())
	require.NoError(t, err)

	keys := func(m *model.Model) []model.Key {
		var out []model.Key
		seen := map[model.Key]bool{}
		for _, e := range m.All() {
			k := e.Key()
			require.False(t, seen[k], "duplicate key %s", k)
			seen[k] = true
			out = append(out, k)
		}
		return out
	}
	require.Equal(t, keys(m1), keys(m2))
}

const conflictingGeom = `Geom Title=Proposed Conditions
River Reach=Mill Creek,Upper
Type RM Length L Ch R= 1 ,1200,100,110,120
Bank Sta=10,40
`

func TestBuildConflictingGeometry(t *testing.T) {
	_, err := model.Build([]model.Source{
		source(t, "Mill.g01", geomContent),
		source(t, "Mill.g02", conflictingGeom),
	}, nil, model.DefaultPolicy())

	var cerr *model.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, model.TypeCrossSection, cerr.Key.Type)
	require.Equal(t, "Mill Creek/Upper/1200", cerr.Key.ID)
	require.ElementsMatch(t, []string{"Mill.g01", "Mill.g02"}, cerr.Sources[:])
}

func TestBuildPlanDisambiguatesConflict(t *testing.T) {
	m, err := model.Build([]model.Source{
		source(t, "Mill.g01", geomContent),
		source(t, "Mill.g02", conflictingGeom),
		source(t, "Mill.p01", planContent), // links g01
	}, nil, model.DefaultPolicy())
	require.NoError(t, err)

	xs := m.Get(model.TypeCrossSection, "Mill Creek/Upper/1200")
	require.NotNil(t, xs)
	left, ok := xs.Number("bank_left")
	require.True(t, ok)
	require.Equal(t, 12.0, left) // the plan-linked file wins
	require.NotEmpty(t, xs.Warnings)
}

func resultFixture() model.ResultSource {
	ds := func(p string, shape []int, vals ...cty.Value) rasresult.Dataset {
		return rasresult.Dataset{Path: p, Shape: shape, Values: vals}
	}
	str := cty.StringVal
	num := cty.NumberFloatVal
	return model.ResultSource{
		File: "Mill.p01.hdf",
		Datasets: []rasresult.Dataset{
			ds("/Geometry/Cross Sections/Rivers", []int{2}, str("Mill Creek"), str("Mill Creek")),
			ds("/Geometry/Cross Sections/Reaches", []int{2}, str("Upper"), str("Upper")),
			ds("/Geometry/Cross Sections/River Stations", []int{2}, str("1200"), str("1175.5*")),
			ds("/Results/Steady/Output/Cross Sections/Water Surface", []int{2, 2},
				num(101.5), num(101.2), num(102.3), num(102.0)),
			ds("/Results/Steady/Output/Cross Sections/Min Elevation", []int{2},
				num(100.05), num(99.8)),
		},
	}
}

func TestBuildAttachesResults(t *testing.T) {
	m, err := model.Build([]model.Source{
		source(t, "Mill.g01", geomContent),
		source(t, "Mill.p01", planContent),
	}, []model.ResultSource{resultFixture()}, model.DefaultPolicy())
	require.NoError(t, err)

	xs := m.Get(model.TypeCrossSection, "Mill Creek/Upper/1200")
	require.NotNil(t, xs)
	ws, ok := xs.Attr("water_surface")
	require.True(t, ok)
	require.Equal(t, 2, ws.LengthInt())

	// The result value wins; the text-derived figure survives as the
	// design value.
	min, ok := xs.Number("min_elevation")
	require.True(t, ok)
	require.Equal(t, 100.05, min)
	design, ok := xs.Design["min_elevation"]
	require.True(t, ok)
	dmin, _ := design.AsBigFloat().Float64()
	require.Equal(t, 100.1, dmin)

	p := m.Get(model.TypePlan, "p01")
	require.NotNil(t, p)
	hr, _ := p.Attr("has_results")
	require.True(t, hr.True())
}

func TestBuildResultOnlySection(t *testing.T) {
	m, err := model.Build([]model.Source{
		source(t, "Mill.g01", geomContent),
	}, []model.ResultSource{resultFixture()}, model.DefaultPolicy())
	require.NoError(t, err)

	interp := m.Get(model.TypeCrossSection, "Mill Creek/Upper/1175.5")
	require.NotNil(t, interp)
	v, ok := interp.Attr("interpolated")
	require.True(t, ok)
	require.True(t, v.True())
	_, ok = interp.Attr("water_surface")
	require.True(t, ok)
}

func TestBuildDesignPrecedence(t *testing.T) {
	m, err := model.Build([]model.Source{
		source(t, "Mill.g01", geomContent),
	}, []model.ResultSource{resultFixture()},
		model.MergePolicy{Precedence: model.PreferDesign})
	require.NoError(t, err)

	xs := m.Get(model.TypeCrossSection, "Mill Creek/Upper/1200")
	min, ok := xs.Number("min_elevation")
	require.True(t, ok)
	require.Equal(t, 100.1, min) // text value kept
	displaced, ok := xs.Design["min_elevation"]
	require.True(t, ok)
	dmin, _ := displaced.AsBigFloat().Float64()
	require.Equal(t, 100.05, dmin)
}

const badManningGeom = `Geom Title=Odd
River Reach=Mill Creek,Upper
Type RM Length L Ch R= 1 ,900,10,10,10
#Mann= 1 , 0 , 0
bogus 0 0
Bank Sta=0,50
`

func TestBuildMalformedManning(t *testing.T) {
	m, err := model.Build([]model.Source{
		source(t, "Mill.g01", badManningGeom),
	}, nil, model.DefaultPolicy())
	require.NoError(t, err)

	xs := m.Get(model.TypeCrossSection, "Mill Creek/Upper/900")
	require.NotNil(t, xs)
	v, ok := xs.Attr("manning_n_left")
	require.True(t, ok)
	require.True(t, v.IsNull())
	require.NotEmpty(t, xs.Warnings)
}
