package tensor

import "math/rand"

// Mat represents a dense row‑major matrix of float32 values.
//
// R and C represent the number of rows and columns respectively. Stride is
// the number of elements between the starts of two consecutive rows (for
// row‑major matrices this is equal to C). Data holds the flattened values.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out‑of‑range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a new matrix with the given number of rows and columns.
// The underlying slice is zero initialised. The stride is set to the number
// of columns.
func NewMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float32, r*c),
	}
}

// NewMatFromData creates a matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) *Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// Row returns a view of the i‑th row of the matrix as a slice. The slice has
// length equal to the number of columns. Modifications to the returned slice
// update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// SetRow copies src into the i-th row. src must have length C.
func (m *Mat) SetRow(i int, src []float32) {
	if len(src) != m.C {
		panic("row length mismatch")
	}
	copy(m.Row(i), src)
}

// Clone returns a deep copy of the matrix.
func (m *Mat) Clone() *Mat {
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// SliceRows returns a new matrix holding copies of rows [lo, hi).
func (m *Mat) SliceRows(lo, hi int) *Mat {
	if lo < 0 || hi > m.R || lo > hi {
		panic("row slice out of range")
	}
	out := NewMat(hi-lo, m.C)
	for i := lo; i < hi; i++ {
		copy(out.Row(i-lo), m.Row(i))
	}
	return out
}

// GatherRows builds a new matrix whose i-th row is a copy of src.Row(idx[i]).
func GatherRows(src *Mat, idx []int) *Mat {
	out := NewMat(len(idx), src.C)
	for i, j := range idx {
		copy(out.Row(i), src.Row(j))
	}
	return out
}

// ConcatRows stacks the rows of the given matrices into one matrix. All
// inputs must share the same column count.
func ConcatRows(ms ...*Mat) *Mat {
	if len(ms) == 0 {
		return NewMat(0, 0)
	}
	rows := 0
	cols := ms[0].C
	for _, m := range ms {
		if m.C != cols {
			panic("column count mismatch in ConcatRows")
		}
		rows += m.R
	}
	out := NewMat(rows, cols)
	r := 0
	for _, m := range ms {
		for i := 0; i < m.R; i++ {
			copy(out.Row(r), m.Row(i))
			r++
		}
	}
	return out
}

// FillRand fills the matrix with reproducible pseudo‑random values. A small
// range around zero is used to avoid overflow in accumulations. The seed
// controls the random sequence; multiple calls with the same seed produce
// identical matrices.
func FillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02 // roughly in (-0.01,0.01)
	}
}

// FillUniform fills the matrix with values drawn uniformly from
// (-bound, bound), the initialisation range used for decoder parameters.
func FillUniform(m *Mat, seed int64, bound float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32()*2 - 1) * bound
	}
}
