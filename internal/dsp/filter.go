package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Coefficients of a rational transfer function, highest power first, A[0]
// being the output coefficient.
type Coefficients struct {
	B []float64
	A []float64
}

// DesignButterworthBandPass designs a digital Butterworth band-pass filter of
// the given prototype order. The cutoffs are fractions of the Nyquist rate.
// The design maps the analog low-pass prototype to a band-pass around the
// prewarped cutoffs and discretizes it with the bilinear transform, so the
// result has 2*order poles.
func DesignButterworthBandPass(order int, low, high float64) (Coefficients, error) {
	if order < 1 {
		return Coefficients{}, fmt.Errorf("filter order must be at least 1, got %d", order)
	}
	if !(low > 0 && low < high && high < 1) {
		return Coefficients{}, fmt.Errorf("cutoffs must satisfy 0 < low < high < 1, got [%g, %g]", low, high)
	}

	prototype := make([]complex128, order)
	for i := range prototype {
		m := float64(-order + 1 + 2*i)
		prototype[i] = -cmplx.Exp(complex(0, math.Pi*m/float64(2*order)))
	}

	// with a sample rate of 2 the Nyquist rate is 1
	const fs = 2.0
	warpedLow := 2 * fs * math.Tan(math.Pi*low/fs)
	warpedHigh := 2 * fs * math.Tan(math.Pi*high/fs)
	bw := warpedHigh - warpedLow
	wo := math.Sqrt(warpedLow * warpedHigh)

	poles := make([]complex128, 0, 2*order)
	shifted := make([]complex128, order)
	roots := make([]complex128, order)
	for i, p := range prototype {
		shifted[i] = p * complex(bw/2, 0)
		roots[i] = cmplx.Sqrt(shifted[i]*shifted[i] - complex(wo*wo, 0))
	}
	for i := range prototype {
		poles = append(poles, shifted[i]+roots[i])
	}
	for i := range prototype {
		poles = append(poles, shifted[i]-roots[i])
	}
	gain := complex(math.Pow(bw, float64(order)), 0)

	// bilinear transform: the order zeros at s=0 land on z=1, the zeros at
	// infinity on z=-1
	fs2 := complex(2*fs, 0)
	zeros := make([]complex128, 0, 2*order)
	for i := 0; i < order; i++ {
		zeros = append(zeros, 1)
	}
	for i := 0; i < order; i++ {
		zeros = append(zeros, -1)
	}

	num := cmplx.Pow(fs2, complex(float64(order), 0))
	den := complex(1, 0)
	digitalPoles := make([]complex128, len(poles))
	for i, p := range poles {
		digitalPoles[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	gain *= complex(real(num/den), 0)

	b := poly(zeros)
	a := poly(digitalPoles)
	c := Coefficients{B: make([]float64, len(b)), A: make([]float64, len(a))}
	for i := range b {
		c.B[i] = real(gain * b[i])
	}
	for i := range a {
		c.A[i] = real(a[i])
	}
	return c, nil
}

// poly expands prod(x - r) into coefficients, highest power first.
func poly(roots []complex128) []complex128 {
	c := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(c)+1)
		for i, v := range c {
			next[i] += v
			next[i+1] -= v * r
		}
		c = next
	}
	return c
}

// Apply runs x through the filter once, forward, starting from rest. This is
// a causal filter and the output carries its phase delay.
func (c Coefficients) Apply(x []float64) []float64 {
	n := max(len(c.B), len(c.A))
	if n == 0 || c.A[0] == 0 {
		return append([]float64(nil), x...)
	}

	b := make([]float64, n)
	a := make([]float64, n)
	for i, v := range c.B {
		b[i] = v / c.A[0]
	}
	for i, v := range c.A {
		a[i] = v / c.A[0]
	}

	// direct form II transposed; state[n-1] stays zero
	state := make([]float64, n)
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := b[0]*xi + state[0]
		for k := 1; k < n; k++ {
			state[k-1] = b[k]*xi + state[k] - a[k]*yi
		}
		y[i] = yi
	}
	return y
}

// Response is the gain |H(e^jw)| at w radians per sample.
func (c Coefficients) Response(w float64) float64 {
	eval := func(coeffs []float64) complex128 {
		var sum complex128
		for k, v := range coeffs {
			sum += complex(v, 0) * cmplx.Exp(complex(0, -w*float64(k)))
		}
		return sum
	}
	return cmplx.Abs(eval(c.B) / eval(c.A))
}
