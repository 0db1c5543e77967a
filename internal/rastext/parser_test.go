package rastext_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/fsutil"
	"github.com/vk/rascheck/internal/rastext"
)

// parse is a test helper that parses inline file content of the given kind.
func parse(t *testing.T, kind fsutil.FileKind, src string, opts ...rastext.Option) *rastext.ParseResult {
	t.Helper()
	res, err := rastext.Parse(context.Background(), "test"+extFor(kind), []byte(src), kind, opts...)
	require.NoError(t, err)
	return res
}

func extFor(kind fsutil.FileKind) string {
	switch kind {
	case fsutil.KindGeometry:
		return ".g01"
	case fsutil.KindPlan:
		return ".p01"
	case fsutil.KindSteadyFlow:
		return ".f01"
	case fsutil.KindUnsteadyFlow:
		return ".u01"
	default:
		return ".prj"
	}
}

// one returns the single record of the given section, failing otherwise.
func one(t *testing.T, res *rastext.ParseResult, section string) *rastext.RawRecord {
	t.Helper()
	var found *rastext.RawRecord
	for i := range res.Records {
		if res.Records[i].Section == section {
			require.Nilf(t, found, "multiple %q records", section)
			found = &res.Records[i]
		}
	}
	require.NotNilf(t, found, "no %q record in %v", section, res.Records)
	return found
}

const geometrySample = `Geom Title=Mill Creek Existing
Program Version=5.07

River Reach=Mill Creek,Upper
Type RM Length L Ch R= 1 ,1200,100,110,120
#Sta/Elev= 4
0 105.2 10 100.1
35 100.3 50 106.8
#Mann= 3 , 0 , 0
0 .08 0 12 .035 0
40 .09 0
Bank Sta=12,40
Exp/Cntr=0.3,0.1

Type RM Length L Ch R= 6 ,1150,50,50,50
#Deck/Roadway= 2 ,40.5
0 110 104
60 110 104
#Pier= 1
Center Sta Upstream=30
Center Sta Downstream=30
#Pier Elev= 2
2 90 2 112
Bridge Coef Energy=1.1,1.3
`

func TestParseGeometry(t *testing.T) {
	res := parse(t, fsutil.KindGeometry, geometrySample)
	require.Empty(t, res.Warnings)

	hdr := one(t, res, rastext.SectionGeometryHeader)
	title, ok := hdr.Text("geom_title")
	require.True(t, ok)
	require.Equal(t, "Mill Creek Existing", title)
	require.Equal(t, 0, hdr.Ordinal)

	reach := one(t, res, rastext.SectionRiverReach)
	river, _ := reach.Text("river")
	require.Equal(t, "Mill Creek", river)

	xs := one(t, res, rastext.SectionCrossSection)
	require.Empty(t, xs.Warnings)
	rm, ok := xs.Number("river_station")
	require.True(t, ok)
	require.Equal(t, 1200.0, rm)
	se := xs.Numbers("station_elevation")
	require.Len(t, se, 8)
	require.Equal(t, rastext.NullableNumber{Value: 106.8, Valid: true}, se[7])
	mann := xs.Numbers("manning_regions")
	require.Len(t, mann, 9)
	require.Equal(t, 0.035, mann[4].Value)

	br := one(t, res, rastext.SectionBridge)
	deckWidth, ok := br.Number("deck_width")
	require.True(t, ok)
	require.Equal(t, 40.5, deckWidth)
	require.Len(t, br.Numbers("deck_roadway"), 6)
	piers, ok := br.Number("pier_count")
	require.True(t, ok)
	require.Equal(t, 1.0, piers)
}

func TestParseConcurrent(t *testing.T) {
	// Layouts come from a shared registry; parses of the same kind must not
	// interfere. Run under -race to catch shared-state regressions.
	want := parse(t, fsutil.KindGeometry, geometrySample)

	var wg sync.WaitGroup
	results := make([]*rastext.ParseResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := rastext.Parse(context.Background(), "test.g01", []byte(geometrySample), fsutil.KindGeometry)
			if err == nil {
				results[i] = res
			}
		}()
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		require.Empty(t, res.Warnings)
		require.Len(t, res.Records, len(want.Records))
		for j := range want.Records {
			require.Equal(t, want.Records[j].Section, res.Records[j].Section)
		}
	}
}

func TestParseGeometryMalformedNumber(t *testing.T) {
	res := parse(t, fsutil.KindGeometry, "River Reach=A,B\nType RM Length L Ch R= 1 ,900,,,\nBank Sta=abc,40\n")
	xs := one(t, res, rastext.SectionCrossSection)
	require.Len(t, xs.Warnings, 1)
	banks := xs.Numbers("bank_stations")
	require.Len(t, banks, 2)
	require.False(t, banks[0].Valid)
	require.Equal(t, 40.0, banks[1].Value)
}

func TestParseGeometryTruncatedTable(t *testing.T) {
	res := parse(t, fsutil.KindGeometry, "River Reach=A,B\nType RM Length L Ch R= 1 ,900,10,10,10\n#Sta/Elev= 3\n0 100 5 99\n")
	xs := one(t, res, rastext.SectionCrossSection)
	require.Len(t, xs.Warnings, 1)
	require.Contains(t, xs.Warnings[0].Message, "truncated")
	require.Len(t, xs.Numbers("station_elevation"), 4)
}

func TestParseGeometryVersionedLayout(t *testing.T) {
	src := "Program Version=6.31\nRiver Reach=A,B\nType RM Length L Ch R= 1 ,900,10,10,10\nNode Last Edited Time=Feb/2024\n"
	res := parse(t, fsutil.KindGeometry, src, rastext.Strict())
	xs := one(t, res, rastext.SectionCrossSection)
	edited, ok := xs.Text("last_edited")
	require.True(t, ok)
	require.Equal(t, "Feb/2024", edited)

	// The same keyword is unknown to the pre-6.0 layout.
	old := "Program Version=5.07\nRiver Reach=A,B\nType RM Length L Ch R= 1 ,900,10,10,10\nNode Last Edited Time=Feb/2024\n"
	_, err := rastext.Parse(context.Background(), "t.g01", []byte(old), fsutil.KindGeometry, rastext.Strict())
	var perr *rastext.ParseError
	require.ErrorAs(t, err, &perr)
	require.Contains(t, perr.Reason, "Node Last Edited Time")
}

const planSample = `Plan Title=Floodway Run
Program Version=5.07
Short Identifier=FW
Geom File=g01
Flow File=f02
Subcritical Flow
Encroach Method= 4
Encroach Val 1= 1.0
Run HTab= -1
Run Post Process= 0
BEGIN DESCRIPTION:
Encroachment analysis,
method 4.
END DESCRIPTION:
`

func TestParsePlan(t *testing.T) {
	res := parse(t, fsutil.KindPlan, planSample, rastext.Strict())
	p := one(t, res, rastext.SectionPlan)

	regime, ok := p.Text("flow_regime")
	require.True(t, ok)
	require.Equal(t, "Subcritical", regime)

	method, ok := p.Number("encroach_method")
	require.True(t, ok)
	require.Equal(t, 4.0, method)

	htab, ok := p.Field("run_htab")
	require.True(t, ok)
	require.True(t, htab.True())
	post, _ := p.Field("run_post_process")
	require.False(t, post.True())

	desc, ok := p.Text("description")
	require.True(t, ok)
	require.Equal(t, "Encroachment analysis,\nmethod 4.", desc)
}

const steadyFlowSample = `Flow Title=100yr and Floodway
Program Version=5.07
Number of Profiles= 2
Profile Names=100yr,Floodway
River Rch & RM=Mill Creek,Upper,1200
500 520
River Rch & RM=Mill Creek,Upper,900
650 675
Boundary for River Rch & Prof#=Mill Creek,Upper,1
Up Type= 0
Dn Type= 3
Dn Slope=0.002
`

func TestParseSteadyFlow(t *testing.T) {
	res := parse(t, fsutil.KindSteadyFlow, steadyFlowSample, rastext.Strict())

	hdr := one(t, res, rastext.SectionFlowHeader)
	n, _ := hdr.Number("num_profiles")
	require.Equal(t, 2.0, n)
	names, _ := hdr.Field("profile_names")
	require.Equal(t, 2, names.LengthInt())

	var changes []*rastext.RawRecord
	for i := range res.Records {
		if res.Records[i].Section == rastext.SectionFlowChange {
			changes = append(changes, &res.Records[i])
		}
	}
	require.Len(t, changes, 2)
	flows := changes[0].Numbers("flows")
	require.Len(t, flows, 2)
	require.Equal(t, 500.0, flows[0].Value)
	rm, _ := changes[1].Number("river_station")
	require.Equal(t, 900.0, rm)

	bc := one(t, res, rastext.SectionSteadyBoundary)
	slope, ok := bc.Number("dn_slope")
	require.True(t, ok)
	require.Equal(t, 0.002, slope)
}

const unsteadyFlowSample = `Flow Title=Unsteady Event
Program Version=5.07
Boundary Location=Mill Creek,Upper,1200
Interval=1HOUR
Flow Hydrograph= 4
100 250 400 180
Use DSS= 0
`

func TestParseUnsteadyFlow(t *testing.T) {
	res := parse(t, fsutil.KindUnsteadyFlow, unsteadyFlowSample, rastext.Strict())
	bc := one(t, res, rastext.SectionUnsteadyBoundary)
	rs, ok := bc.Text("river_station")
	require.True(t, ok)
	require.Equal(t, "1200", rs)
	hyd := bc.Numbers("flow_hydrograph")
	require.Len(t, hyd, 4)
	require.Equal(t, 400.0, hyd[2].Value)
}

const projectSample = `Proj Title=Mill Creek Study
Current Plan=p02
Default Exp/Contr=0.3,0.1
English Units
Geom File=g01
Geom File=g02
Plan File=p01
Plan File=p02
Steady File=f01
BEGIN DESCRIPTION:
County floodplain study.
END DESCRIPTION:
`

func TestParseProject(t *testing.T) {
	res := parse(t, fsutil.KindProject, projectSample, rastext.Strict())
	p := one(t, res, rastext.SectionProject)

	units, ok := p.Text("units")
	require.True(t, ok)
	require.Equal(t, "English", units)

	geoms := p.FieldsNamed("geom_file")
	require.Len(t, geoms, 2)
	require.Equal(t, "g02", geoms[1].AsString())
	require.Len(t, p.FieldsNamed("plan_file"), 2)
	require.Len(t, p.FieldsNamed("steady_file"), 1)
}

func TestParseUnknownKeyword(t *testing.T) {
	src := "Plan Title=X\nMystery Keyword=42\n"

	res := parse(t, fsutil.KindPlan, src)
	p := one(t, res, rastext.SectionPlan)
	_, ok := p.Field("mystery_keyword")
	require.False(t, ok)

	_, err := rastext.Parse(context.Background(), "t.p01", []byte(src), fsutil.KindPlan, rastext.Strict())
	var perr *rastext.ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 2, perr.Line)
	require.Contains(t, perr.Reason, "Mystery Keyword")
}

func TestParseOpaqueSection(t *testing.T) {
	src := "Geom Title=X\nBEGIN GEOM HDF:\nsome binary-ish stuff=1\nmore lines\nEND GEOM HDF:\nRiver Reach=A,B\n"
	res := parse(t, fsutil.KindGeometry, src)

	op := one(t, res, "geom_hdf")
	require.True(t, op.Opaque)
	require.Len(t, op.Raw, 5)
	require.Equal(t, "BEGIN GEOM HDF:", op.Raw[0])
	require.Equal(t, "END GEOM HDF:", op.Raw[4])

	// The reach after the opaque block still parses.
	one(t, res, rastext.SectionRiverReach)
}

func TestParseTruncatedFile(t *testing.T) {
	src := "Geom Title=X\nRiver Reach=A,B\nType RM Length L Ch R= 1 ,900,1,1,1\nBEGIN DESCRIPTION:\nnever closed"
	res := parse(t, fsutil.KindGeometry, src)
	xs := one(t, res, rastext.SectionCrossSection)
	require.NotEmpty(t, xs.Warnings)
	desc, ok := xs.Text("description")
	require.True(t, ok)
	require.Equal(t, "never closed", desc)
}

func TestParseNoLayoutForKind(t *testing.T) {
	_, err := rastext.Parse(context.Background(), "t.bin", nil, fsutil.KindResult)
	var perr *rastext.ParseError
	require.ErrorAs(t, err, &perr)
	require.Contains(t, perr.Reason, "no layout")
}

// roundTrip parses, formats, reparses, and requires field-identical records.
func roundTrip(t *testing.T, kind fsutil.FileKind, src string) {
	t.Helper()
	first := parse(t, kind, src)

	out, err := rastext.Format(kind, first.Records)
	require.NoError(t, err)

	second := parse(t, kind, string(out))
	require.Len(t, second.Records, len(first.Records))
	for i := range first.Records {
		a, b := first.Records[i], second.Records[i]
		require.Equal(t, a.Section, b.Section)
		if diff := cmp.Diff(a.Fields, b.Fields, ctyComparer()); diff != "" {
			t.Errorf("record %d (%s) changed across round trip:\n%s", i, a.Section, diff)
		}
	}
}

func ctyComparer() cmp.Option {
	return cmp.Comparer(func(x, y cty.Value) bool { return x.RawEquals(y) })
}

func TestRoundTrip(t *testing.T) {
	t.Run("geometry", func(t *testing.T) { roundTrip(t, fsutil.KindGeometry, geometrySample) })
	t.Run("plan", func(t *testing.T) { roundTrip(t, fsutil.KindPlan, planSample) })
	t.Run("steady_flow", func(t *testing.T) { roundTrip(t, fsutil.KindSteadyFlow, steadyFlowSample) })
	t.Run("unsteady_flow", func(t *testing.T) { roundTrip(t, fsutil.KindUnsteadyFlow, unsteadyFlowSample) })
	t.Run("project", func(t *testing.T) { roundTrip(t, fsutil.KindProject, projectSample) })
}
