package tensor

import "github.com/pkg/errors"

// BroadcastStrides computes strides for broadcasting in to out, aligning
// shapes from the right. Dimensions of size 1 (and missing leading
// dimensions) get stride 0, so repeated positions map to the same source
// element. Returns an error if the shapes are not broadcast-compatible.
func BroadcastStrides(in, out Shape) ([]int, error) {
	outDim := len(out)
	inDim := len(in)
	if inDim > outDim {
		return nil, errors.Errorf("cannot broadcast %v to lower-rank %v", in, out)
	}

	offset := outDim - inDim
	origStrides := in.Strides()
	strides := make([]int, outDim)

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		switch {
		case inIdx < 0:
			strides[i] = 0
		case in[inIdx] == 1:
			strides[i] = 0
		case in[inIdx] == out[i]:
			strides[i] = origStrides[inIdx]
		default:
			return nil, errors.Errorf("cannot broadcast %v to %v: dimension %d (%d vs %d)",
				in, out, i, in[inIdx], out[i])
		}
	}
	return strides, nil
}

// FlatIndex maps a flat index in the output layout to the flat index in a
// broadcast source, given the output strides and the broadcast-adjusted
// source strides.
func FlatIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}
