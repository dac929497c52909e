package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Scale multiplies every element of x by a.
func Scale(x []float32, a float32) {
	for i := range x {
		x[i] *= a
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Sum returns the sum of all elements of x.
func Sum(x []float32) float32 {
	var sum float32
	for _, v := range x {
		sum += v
	}
	return sum
}

// Softmax applies the softmax function to x in place.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// LogSoftmax replaces x with its log-softmax. Computed via the shifted
// log-sum-exp so the result stays finite for large magnitude inputs.
func LogSoftmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		sum += math.Exp(float64(x[i] - maxv))
	}
	lse := float32(math.Log(sum)) + maxv
	for i := range x {
		x[i] -= lse
	}
}

// LogAdd returns log(exp(a) + exp(b)) without losing precision.
// NegInf identities hold: LogAdd(x, NegInf) == x.
func LogAdd(a, b float32) float32 {
	if a < b {
		a, b = b, a
	}
	if b <= NegInf/2 {
		return a
	}
	return a + float32(math.Log1p(math.Exp(float64(b-a))))
}

// NegInf is the log-domain zero used throughout the decoders. A large
// negative finite value is preferred over math.Inf so that arithmetic on
// pruned scores never produces NaN.
const NegInf = float32(-1e30)

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Tanh computes the hyperbolic tangent activation.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// TanhInPlace applies Tanh to every element of x.
func TanhInPlace(x []float32) {
	for i := range x {
		x[i] = Tanh(x[i])
	}
}

// SigmoidInPlace applies Sigmoid to every element of x.
func SigmoidInPlace(x []float32) {
	for i := range x {
		x[i] = Sigmoid(x[i])
	}
}
