package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDimMerge(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Dim
		want    Dim
		wantErr bool
	}{
		{name: "known equal", a: Known(5), b: Known(5), want: Known(5)},
		{name: "known conflict", a: Known(5), b: Known(7), wantErr: true},
		{name: "known absorbs unknown", a: Known(5), b: Unknown(), want: Known(5)},
		{name: "unknown absorbs known", a: Unknown(), b: Known(5), want: Known(5)},
		{name: "known inside interval", a: Interval(2, 8), b: Known(5), want: Known(5)},
		{name: "known outside interval", a: Interval(2, 8), b: Known(9), wantErr: true},
		{name: "intervals intersect", a: Interval(2, 8), b: Interval(5, 12), want: Interval(5, 8)},
		{name: "intervals disjoint", a: Interval(2, 4), b: Interval(5, 12), wantErr: true},
		{name: "unknown with unknown", a: Unknown(), b: Unknown(), want: Unknown()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Merge(tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestMergeAssociative(t *testing.T) {
	shapes := []Shape{
		Of(Known(7), Unknown(), Interval(2, 20)),
		Of(Unknown(), Known(5), Interval(10, 30)),
		Of(Interval(1, 9), Interval(3, 8), Unknown()),
	}
	a, b, c := shapes[0], shapes[1], shapes[2]

	ab, err := a.Merge(b)
	require.NoError(t, err)
	left, err := ab.Merge(c)
	require.NoError(t, err)

	bc, err := b.Merge(c)
	require.NoError(t, err)
	right, err := a.Merge(bc)
	require.NoError(t, err)

	assert.True(t, left.Equal(right), "merge not associative: %s != %s", left, right)
}

func TestMergeIdempotent(t *testing.T) {
	s := Of(Known(7), Unknown(), Interval(2, 20))
	m, err := s.Merge(s)
	require.NoError(t, err)
	assert.True(t, m.Equal(s))
}

func TestMergeRankMismatch(t *testing.T) {
	_, err := OfKnown(3, 4).Merge(OfKnown(3, 4, 5))
	require.Error(t, err)
}

func TestCollapseToMinimum(t *testing.T) {
	s := Of(Known(7), Unknown(), Interval(3, 20)).CollapseToMinimum()
	require.True(t, s.IsKnown())
	extents, err := s.Extents()
	require.NoError(t, err)
	assert.Equal(t, []int{7, 1, 3}, extents)
}

func TestExtentsRequiresKnown(t *testing.T) {
	_, err := Of(Known(3), Unknown()).Extents()
	require.Error(t, err)

	extents, err := OfKnown(3, 4).Extents()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, extents)
}

func TestFlatSize(t *testing.T) {
	n, err := OfKnown(7, 5, 16).FlatSize()
	require.NoError(t, err)
	assert.Equal(t, 560, n)
}

func TestString(t *testing.T) {
	assert.Equal(t, "[7, ?, 3..20]", Of(Known(7), Unknown(), Interval(3, 20)).String())
}
