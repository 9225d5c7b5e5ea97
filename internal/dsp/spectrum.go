package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

var ErrDegenerateSpectrum = errors.New("spectrum has no energy outside the zero-frequency bin")

// Spectrum is a magnitude distribution over frequency. The zero-frequency bin
// is never included and the magnitudes sum to 1.
type Spectrum struct {
	Frequencies []float64
	Magnitudes  []float64
}

func (s Spectrum) Empty() bool {
	return len(s.Magnitudes) == 0
}

// BandPower sums the magnitudes of bins with low <= f < high.
func (s Spectrum) BandPower(low, high float64) float64 {
	power := 0.0
	for i, f := range s.Frequencies {
		if f >= low && f < high {
			power += s.Magnitudes[i]
		}
	}
	return power
}

// Estimator turns one filtered window into a spectrum.
type Estimator interface {
	// Estimate takes a window sampled every spacing seconds.
	Estimate(seq []float64, spacing float64) (Spectrum, error)
	Reset()
}

type Strategy string

const (
	// StrategyAccumulating blends every window into a running spectrum.
	StrategyAccumulating Strategy = "accumulating"
	// StrategyWindow reports each window on its own.
	StrategyWindow Strategy = "window"
)

func NewEstimator(strategy Strategy) (Estimator, error) {
	switch strategy {
	case StrategyAccumulating:
		return &AccumulatingEstimator{}, nil
	case StrategyWindow:
		return WindowEstimator{}, nil
	default:
		return nil, fmt.Errorf("unknown spectral strategy %q", strategy)
	}
}

// AccumulatingEstimator keeps a running spectrum: each new window, normalized
// to unit mass, is added to it and the sum is normalized again. The second
// normalization is idempotent when the running spectrum already has unit mass
// before the add; it is kept so the running state never drifts.
type AccumulatingEstimator struct {
	running []float64
}

func (e *AccumulatingEstimator) Estimate(seq []float64, spacing float64) (Spectrum, error) {
	freqs, mags, err := magnitudes(seq, spacing)
	if err != nil {
		return Spectrum{}, err
	}

	floats.Scale(1/floats.Sum(mags), mags)
	if len(e.running) != len(mags) {
		e.running = make([]float64, len(mags))
	}
	floats.Add(e.running, mags)
	floats.Scale(1/floats.Sum(e.running), e.running)

	return Spectrum{Frequencies: freqs, Magnitudes: append([]float64(nil), e.running...)}, nil
}

func (e *AccumulatingEstimator) Reset() {
	e.running = nil
}

// WindowEstimator normalizes each window independently.
type WindowEstimator struct{}

func (WindowEstimator) Estimate(seq []float64, spacing float64) (Spectrum, error) {
	freqs, mags, err := magnitudes(seq, spacing)
	if err != nil {
		return Spectrum{}, err
	}
	floats.Scale(1/floats.Sum(mags), mags)
	return Spectrum{Frequencies: freqs, Magnitudes: mags}, nil
}

func (WindowEstimator) Reset() {}

// magnitudes returns the real FFT magnitudes of seq without the zero-frequency
// bin, with the bin frequencies in Hz.
func magnitudes(seq []float64, spacing float64) (freqs, mags []float64, err error) {
	if len(seq) < 2 {
		return nil, nil, ErrInsufficientData
	}
	if !(spacing > 0) {
		return nil, nil, fmt.Errorf("sample spacing must be positive, got %g", spacing)
	}

	fft := fourier.NewFFT(len(seq))
	coeffs := fft.Coefficients(nil, seq)

	freqs = make([]float64, len(coeffs)-1)
	mags = make([]float64, len(coeffs)-1)
	for i := 1; i < len(coeffs); i++ {
		freqs[i-1] = fft.Freq(i) / spacing
		mags[i-1] = cmplx.Abs(coeffs[i])
	}

	total := floats.Sum(mags)
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, nil, ErrDegenerateSpectrum
	}
	return freqs, mags, nil
}

// Taper returns the window function applied to each FFT window, or nil for
// none.
func Taper(name string) (func(int) []float64, error) {
	switch name {
	case "", "none", "rectangular":
		return nil, nil
	case "hann":
		return window.Hann, nil
	case "hamming":
		return window.Hamming, nil
	case "bartlett":
		return window.Bartlett, nil
	default:
		return nil, fmt.Errorf("unknown window function %q", name)
	}
}
