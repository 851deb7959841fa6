package registry

import (
	"testing"

	"github.com/resumeapi/suiterun/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(tcs []types.TestCase) []string {
	out := make([]string, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, tc.ID)
	}
	return out
}

func TestResolve(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name     string
		selector Selector
		want     []string
	}{
		{
			name:     "all keeps registration order",
			selector: All(),
			want:     []string{"A-001-UT", "A-002-UT", "B-001-UT", "C-001-IT", "D-001-PT"},
		},
		{
			name:     "category",
			selector: ForCategory("unit"),
			want:     []string{"A-001-UT", "A-002-UT", "B-001-UT"},
		},
		{
			name:     "category ignores case",
			selector: ForCategory("Integration"),
			want:     []string{"C-001-IT"},
		},
		{
			name:     "category without tests",
			selector: ForCategory("e2e"),
			want:     []string{},
		},
		{
			name:     "ids return registration order",
			selector: ForIDs("C-001-IT", "a-001-ut"),
			want:     []string{"A-001-UT", "C-001-IT"},
		},
		{
			name:     "duplicate ids collapse",
			selector: ForIDs("B-001-UT", "B-001-UT"),
			want:     []string{"B-001-UT"},
		},
		{
			name:     "alias ignores case",
			selector: ForAlias(types.CategoryPerformance, "p50"),
			want:     []string{"D-001-PT"},
		},
		{
			name:     "alias falls back to id",
			selector: ForAlias(types.CategoryPerformance, "d-001-pt"),
			want:     []string{"D-001-PT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Resolve(tt.selector)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestResolveUnknownSelector(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name     string
		selector Selector
	}{
		{name: "unknown category", selector: ForCategory("smoke")},
		{name: "unknown id", selector: ForIDs("A-001-UT", "Z-999")},
		{name: "unknown alias", selector: ForAlias(types.CategoryPerformance, "p99")},
		{name: "alias outside scope", selector: ForAlias(types.CategoryUnit, "p50")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(tt.selector)
			require.Error(t, err)
			assert.True(t, IsUnknownSelector(err))
		})
	}
}

func TestExpected(t *testing.T) {
	reg := newTestRegistry(t)

	unit, err := reg.Resolve(ForCategory("unit"))
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Expected(ForCategory("unit"), unit), "declared stage count wins")

	integration, err := reg.Resolve(ForCategory("integration"))
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Expected(ForCategory("integration"), integration))

	all, err := reg.Resolve(All())
	require.NoError(t, err)
	assert.Equal(t, 6, reg.Expected(All(), all))

	picked, err := reg.Resolve(ForIDs("A-001-UT"))
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Expected(ForIDs("A-001-UT"), picked))
}

func TestSelectorString(t *testing.T) {
	assert.Equal(t, "all", All().String())
	assert.Equal(t, "category=unit", ForCategory("unit").String())
	assert.Equal(t, "ids=A,B", ForIDs("A", "B").String())
	assert.Equal(t, "alias=p50(performance)", ForAlias(types.CategoryPerformance, "p50").String())
}
