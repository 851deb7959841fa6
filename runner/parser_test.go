package runner

import (
	"strings"
	"testing"

	"github.com/resumeapi/suiterun/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkerLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantNode   string
		wantMarker Marker
		wantOK     bool
	}{
		{
			name:       "verbose form",
			line:       "test/unit/test_gap.py::TestGap::test_API_GAP_001_UT PASSED                 [ 25%]",
			wantNode:   "test/unit/test_gap.py::TestGap::test_API_GAP_001_UT",
			wantMarker: MarkerPassed,
			wantOK:     true,
		},
		{
			name:       "summary form with message",
			line:       "FAILED test/unit/test_gap.py::test_b - AssertionError: expected 3 == 4",
			wantNode:   "test/unit/test_gap.py::test_b",
			wantMarker: MarkerFailed,
			wantOK:     true,
		},
		{
			name:       "xdist prefix",
			line:       "[gw1] [ 50%] ERROR test/unit/test_gap.py::test_c",
			wantNode:   "test/unit/test_gap.py::test_c",
			wantMarker: MarkerError,
			wantOK:     true,
		},
		{
			name:       "colored output",
			line:       "test/x.py::test_d \x1b[32mPASSED\x1b[0m",
			wantNode:   "test/x.py::test_d",
			wantMarker: MarkerPassed,
			wantOK:     true,
		},
		{
			name:       "skip with reason",
			line:       "test/x.py::test_e SKIPPED (needs api key)  [ 80%]",
			wantNode:   "test/x.py::test_e",
			wantMarker: MarkerSkipped,
			wantOK:     true,
		},
		{
			name:   "free text mentioning passed",
			line:   "=========== 3 passed, 1 failed in 2.31s ===========",
			wantOK: false,
		},
		{
			name:   "node id without marker",
			line:   "test/x.py::test_f",
			wantOK: false,
		},
		{
			name:   "skip summary without node id",
			line:   "SKIPPED [1] test/x.py:12: needs api key",
			wantOK: false,
		},
		{
			name:   "empty line",
			line:   "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, marker, ok := ParseMarkerLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantNode, node)
				assert.Equal(t, tt.wantMarker, marker)
			}
		})
	}
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "test_x", MethodName("a.py::TestA::test_x[case-1]"))
	assert.Equal(t, "test_y", MethodName("a.py::test_y"))
	assert.Equal(t, "plain", MethodName("plain"))
}

func TestMarkerStatus(t *testing.T) {
	assert.Equal(t, types.TestStatusPassed, MarkerXFail.Status())
	assert.Equal(t, types.TestStatusFailed, MarkerError.Status())
	assert.Equal(t, types.TestStatusSkipped, MarkerSkipped.Status())
}

func batchCases() []types.TestCase {
	return []types.TestCase{
		{ID: "B-1", Method: "test_one", Batch: "b", Category: types.CategoryUnit, Priority: types.PriorityP0, Module: "m"},
		{ID: "B-2", Method: "test_two", Batch: "b", Category: types.CategoryUnit, Priority: types.PriorityP1, Module: "m"},
		{ID: "B-3", Method: "test_three", Batch: "b", Category: types.CategoryUnit, Priority: types.PriorityP2, Module: "m"},
	}
}

func TestNewMarkerTable(t *testing.T) {
	table, err := NewMarkerTable(batchCases())
	require.NoError(t, err)
	assert.Equal(t, []string{"test_one", "test_two", "test_three"}, table.Methods())

	id, ok := table.Lookup("test_two")
	assert.True(t, ok)
	assert.Equal(t, "B-2", id)

	dup := append(batchCases(), types.TestCase{ID: "B-4", Method: "test_one"})
	_, err = NewMarkerTable(dup)
	require.Error(t, err)

	_, err = NewMarkerTable([]types.TestCase{{ID: "B-5"}})
	require.Error(t, err)
}

func TestAttribute(t *testing.T) {
	table, err := NewMarkerTable(batchCases())
	require.NoError(t, err)

	output := strings.Join([]string{
		"============================= test session starts ==============================",
		"test/x.py::test_one[a] PASSED                                            [ 20%]",
		"test/x.py::test_one[b] FAILED                                            [ 40%]",
		"test/x.py::TestX::test_two PASSED                                        [ 60%]",
		"test/x.py::test_helper_not_registered PASSED                             [ 80%]",
		"test/x.py::test_helper_not_registered PASSED                             [100%]",
		"PASSED test/x.py::TestX::test_two",
		"FAILED test/x.py::test_one[b] - assert 1 == 2",
		"========================= 1 failed, 3 passed in 0.12s =========================",
	}, "\n")

	a, err := table.Attribute(strings.NewReader(output))
	require.NoError(t, err)

	assert.Equal(t, map[string]types.TestStatus{
		"B-1": types.TestStatusFailed,
		"B-2": types.TestStatusPassed,
	}, a.Statuses)
	assert.Equal(t, []string{"B-3"}, a.Missing)
	assert.Equal(t, []string{"test_helper_not_registered"}, a.Unmapped)
	assert.Empty(t, a.CollectionErrors)
}

func TestAttributeCollectionErrors(t *testing.T) {
	table, err := NewMarkerTable(batchCases())
	require.NoError(t, err)

	output := `==================================== ERRORS ====================================
______________________ ERROR collecting test/x.py ______________________
ImportError while importing test module '/src/test/x.py'.
E   ModuleNotFoundError: No module named 'src.services.gap'
!!!!!!!!!!!!!!!!!!!! Interrupted: 1 error during collection !!!!!!!!!!!!!!!!!!!!
`
	a, err := table.Attribute(strings.NewReader(output))
	require.NoError(t, err)
	assert.Empty(t, a.Statuses)
	assert.Equal(t, []string{"B-1", "B-2", "B-3"}, a.Missing)
	assert.Len(t, a.CollectionErrors, 2)
}

func TestMergeStatus(t *testing.T) {
	assert.Equal(t, types.TestStatusFailed, mergeStatus(types.TestStatusPassed, types.TestStatusFailed))
	assert.Equal(t, types.TestStatusFailed, mergeStatus(types.TestStatusFailed, types.TestStatusPassed))
	assert.Equal(t, types.TestStatusPassed, mergeStatus(types.TestStatusSkipped, types.TestStatusPassed))
	assert.Equal(t, types.TestStatusSkipped, mergeStatus("", types.TestStatusSkipped))
}
