package tensor

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZeroed(t *testing.T) {
	a, err := New(Shape{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 12, a.NumElements())
	for _, v := range a.Data() {
		assert.Zero(t, v)
	}
}

func TestNewInvalidShape(t *testing.T) {
	_, err := New(Shape{3, 0})
	require.Error(t, err)
}

func TestFromSliceLengthMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2})
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	a, err := FromSlice([]float32{1, 2, 3, 4}, Shape{2, 2})
	require.NoError(t, err)
	b := a.Clone()
	b.Data()[0] = 99
	assert.Equal(t, float32(1), a.Data()[0])
}

func TestScaledAdd(t *testing.T) {
	a, _ := FromSlice([]float32{1, 2}, Shape{2})
	b, _ := FromSlice([]float32{10, 20}, Shape{2})
	require.NoError(t, a.ScaledAdd(0.5, b))
	assert.Equal(t, []float32{6, 12}, a.Data())

	c, _ := New(Shape{3})
	require.Error(t, a.ScaledAdd(1, c))
}

func TestFillNormal(t *testing.T) {
	a, _ := New(Shape{1000})
	a.FillNormal(rand.New(rand.NewSource(1)), 1.0)

	var mean float32
	for _, v := range a.Data() {
		mean += v
	}
	mean /= 1000
	assert.InDelta(t, 0, mean, 0.15)
	assert.InDelta(t, 1000, a.SumSquares(), 150)
}

func TestStrides(t *testing.T) {
	assert.Equal(t, []int{20, 4, 1}, Shape{3, 5, 4}.Strides())
}

func TestBroadcastStrides(t *testing.T) {
	strides, err := BroadcastStrides(Shape{1, 1, 16}, Shape{7, 5, 16})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1}, strides)

	// Missing leading dimensions are treated as size 1.
	strides, err = BroadcastStrides(Shape{16}, Shape{7, 5, 16})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1}, strides)

	_, err = BroadcastStrides(Shape{3, 16}, Shape{7, 5, 16})
	require.Error(t, err)
}

func TestFlatIndexBroadcast(t *testing.T) {
	out := Shape{2, 3}
	in := Shape{1, 3}
	outStrides := out.Strides()
	inStrides, err := BroadcastStrides(in, out)
	require.NoError(t, err)

	// Both rows of the output map onto the single source row.
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			got := FlatIndex(row*3+col, outStrides, inStrides)
			assert.Equal(t, col, got)
		}
	}
}
