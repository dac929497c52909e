package logits

// Argmax returns the index of the maximum value in the slice. If the slice is
// empty it panics.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// TopK returns the indices and values of the k largest elements in x, ordered
// from largest to smallest. This is an O(V*K) insertion scan suitable for the
// small K used by beam search.
func TopK(x []float32, k int) ([]int, []float32) {
	if k <= 0 {
		return nil, nil
	}
	if k > len(x) {
		k = len(x)
	}
	topIdx := make([]int, 0, k+1)
	topVal := make([]float32, 0, k+1)

	for i, v := range x {
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}

		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v

		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	return topIdx, topVal
}

// MaxExcluding returns the maximum value of x with index skip left out of the
// scan. ok reports whether any candidate existed; callers must treat !ok as
// "no competing candidate" rather than crash (all-eos posteriors occur on
// degenerate inputs).
func MaxExcluding(x []float32, skip int) (float32, bool) {
	best := float32(0)
	found := false
	for i, v := range x {
		if i == skip {
			continue
		}
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best, found
}
