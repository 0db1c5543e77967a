package rasresult_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/rascheck/internal/rasresult"
	"github.com/vk/rascheck/internal/testutil"
)

// open builds a container image from the fixture tree and indexes it.
func open(t *testing.T, root testutil.H5Group) *rasresult.File {
	t.Helper()
	f, err := rasresult.OpenImage("fixture.p01.hdf", testutil.EncodeHDF5(root))
	require.NoError(t, err)
	return f
}

// floats flattens a dataset's values, failing on non-numeric cells.
func floats(t *testing.T, ds rasresult.Dataset) []float64 {
	t.Helper()
	out := make([]float64, 0, len(ds.Values))
	for _, v := range ds.Values {
		require.Equal(t, cty.Number, v.Type())
		f, _ := v.AsBigFloat().Float64()
		out = append(out, f)
	}
	return out
}

func steadyOutput(name string, ds testutil.H5Dataset) testutil.H5Group {
	return testutil.H5Group{
		"Results": testutil.H5Group{
			"Steady": testutil.H5Group{
				"Output": testutil.H5Group{
					"Cross Sections": testutil.H5Group{name: ds},
				},
			},
		},
	}
}

func TestOpenRejectsNonContainer(t *testing.T) {
	_, err := rasresult.OpenImage("plan.p01.hdf", []byte("Plan Title=not a container\n"))
	var rerr *rasresult.ReadError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "plan.p01.hdf", rerr.File)
	require.Contains(t, rerr.Reason, "signature")
}

func TestReadContiguousFloats(t *testing.T) {
	f := open(t, steadyOutput("Water Surface", testutil.H5Dataset{
		Shape:  []int{2, 3},
		Floats: []float64{101.5, 102.25, 103.0, 99.9, 100.4, 101.1},
		Attrs: map[string]any{
			"Units":    "ft",
			"Maximum":  103.0,
			"Profiles": []float64{1, 2},
		},
	}))

	out, err := f.Read(context.Background(), "/Results/Steady/Output/**")
	require.NoError(t, err)
	require.Len(t, out, 1)

	ds := out[0]
	require.Equal(t, "/Results/Steady/Output/Cross Sections/Water Surface", ds.Path)
	require.Equal(t, []int{2, 3}, ds.Shape)
	require.Equal(t, []float64{101.5, 102.25, 103.0, 99.9, 100.4, 101.1}, floats(t, ds))

	require.Equal(t, cty.StringVal("ft"), ds.Attributes["Units"])
	max, _ := ds.Attributes["Maximum"].AsBigFloat().Float64()
	require.Equal(t, 103.0, max)
	require.Equal(t, 2, ds.Attributes["Profiles"].LengthInt())
}

func TestReadChunkedDeflate(t *testing.T) {
	// 3x5 with 2x2 chunks exercises edge chunks on both axes.
	vals := make([]float64, 15)
	for i := range vals {
		vals[i] = float64(i) * 1.5
	}
	f := open(t, steadyOutput("Velocity Total", testutil.H5Dataset{
		Shape:   []int{3, 5},
		Floats:  vals,
		Chunked: []int{2, 2},
	}))

	out, err := f.Read(context.Background(), "**")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []int{3, 5}, out[0].Shape)
	require.Equal(t, vals, floats(t, out[0]))
}

func TestReadFixedStrings(t *testing.T) {
	f := open(t, testutil.H5Group{
		"Geometry": testutil.H5Group{
			"Cross Sections": testutil.H5Group{
				"River Stations": testutil.H5Dataset{
					Shape:      []int{3},
					Strings:    []string{"1200", "1150", "900"},
					StringSize: 16,
				},
			},
		},
	})

	out, err := f.Read(context.Background(), "/Geometry/Cross Sections/*")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, []cty.Value{
		cty.StringVal("1200"), cty.StringVal("1150"), cty.StringVal("900"),
	}, out[0].Values)
}

func TestReadSignedIntegers(t *testing.T) {
	f := open(t, steadyOutput("Node Type", testutil.H5Dataset{
		Shape: []int{4},
		Ints:  []int32{1, 6, -1, 1},
	}))

	out, err := f.Read(context.Background(), "**")
	require.NoError(t, err)
	vals := floats(t, out[0])
	require.Equal(t, []float64{1, 6, -1, 1}, vals)
}

func TestGlobSemantics(t *testing.T) {
	f := open(t, testutil.H5Group{
		"Geometry": testutil.H5Group{
			"Cross Sections": testutil.H5Group{
				"Station Elevation": testutil.H5Dataset{Shape: []int{2}, Floats: []float64{0, 1}},
			},
		},
		"Results": testutil.H5Group{
			"Steady": testutil.H5Group{
				"Output": testutil.H5Group{
					"Water Surface": testutil.H5Dataset{Shape: []int{2}, Floats: []float64{5, 6}},
				},
			},
		},
	})

	require.Equal(t, []string{
		"/Geometry/Cross Sections/Station Elevation",
		"/Results/Steady/Output/Water Surface",
	}, f.Paths())

	// One-segment wildcard does not cross levels.
	out, err := f.Read(context.Background(), "/Geometry/*")
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = f.Read(context.Background(), "/Geometry/*/Station Elevation")
	require.NoError(t, err)
	require.Len(t, out, 1)

	// Absent subtrees yield an empty result, not an error.
	out, err = f.Read(context.Background(), "/Results/Unsteady/**")
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = f.Read(context.Background(), "/Results/Unsteady/**", "/Results/Steady/**")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "/Results/Steady/Output/Water Surface", out[0].Path)
}

func TestReadHonorsContext(t *testing.T) {
	f := open(t, steadyOutput("Water Surface", testutil.H5Dataset{
		Shape: []int{1}, Floats: []float64{1},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Read(ctx, "**")
	require.ErrorIs(t, err, context.Canceled)
}
