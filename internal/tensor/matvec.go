package tensor

// MatVec computes dst = w * x where w is an [R, C] matrix and x a length-C
// vector. dst must have length R. The batch sizes seen by the decoders are a
// handful of beam hypotheses, so a plain loop beats any dispatch overhead.
func MatVec(dst []float32, w *Mat, x []float32) {
	if len(x) != w.C {
		panic("MatVec: vector length mismatch")
	}
	if len(dst) != w.R {
		panic("MatVec: dst length mismatch")
	}
	for i := 0; i < w.R; i++ {
		dst[i] = Dot(w.Row(i), x)
	}
}

// MatVecAdd computes dst = w*x + b.
func MatVecAdd(dst []float32, w *Mat, x, b []float32) {
	MatVec(dst, w, x)
	if b != nil {
		Add(dst, b)
	}
}

// MatVecAcc accumulates w*x into dst (dst += w*x).
func MatVecAcc(dst []float32, w *Mat, x []float32) {
	if len(x) != w.C {
		panic("MatVecAcc: vector length mismatch")
	}
	if len(dst) != w.R {
		panic("MatVecAcc: dst length mismatch")
	}
	for i := 0; i < w.R; i++ {
		dst[i] += Dot(w.Row(i), x)
	}
}

// ProjectRows applies dst.Row(i) = w * src.Row(i) + b for every row of src.
// dst must be [src.R, w.R]; b may be nil.
func ProjectRows(dst, src, w *Mat, b []float32) {
	if dst.R != src.R || dst.C != w.R {
		panic("ProjectRows: destination shape mismatch")
	}
	for i := 0; i < src.R; i++ {
		MatVecAdd(dst.Row(i), w, src.Row(i), b)
	}
}
