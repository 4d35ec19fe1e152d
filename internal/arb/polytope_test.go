package arb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild_ConstraintCountMatchesNonIndependentDeps(t *testing.T) {
	cases := []struct {
		name string
		deps []Dependency
		want int
	}{
		{"empty", nil, 0},
		{"all independent", []Dependency{{0, 1, Independent}, {1, 2, Independent}}, 0},
		{"one mutex", []Dependency{{0, 1, Mutex}}, 1},
		{"implies chain", []Dependency{{1, 0, Implies}, {2, 1, Implies}}, 2},
		{"mixed", []Dependency{{0, 1, Mutex}, {1, 2, Independent}, {2, 3, ExactlyOne}}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Build(4, tc.deps)
			assert.Equal(t, tc.want, p.NumConstraints())
		})
	}
}

func TestBuild_RowEncodingPerRelation(t *testing.T) {
	p := Build(2, []Dependency{{0, 1, Implies}})
	require := assert.New(t)
	require.Equal(1, p.NumConstraints())
	require.Equal(0.0, p.upperBound[0])
	require.Equal(negInf, p.lowerBound[0])

	p = Build(2, []Dependency{{0, 1, Mutex}})
	require.Equal(1.0, p.upperBound[0])
	require.Equal(negInf, p.lowerBound[0])

	p = Build(2, []Dependency{{0, 1, ExactlyOne}})
	require.Equal(1.0, p.upperBound[0])
	require.Equal(1.0, p.lowerBound[0])
}
