package dsp

import (
	"fmt"

	"github.com/mjibson/go-dsp/window"
	"sleepywoodpecker/mindball-serial/internal/processing"
)

type Config struct {
	FilterOrder int
	// LowCutoff and HighCutoff are fractions of the Nyquist rate.
	LowCutoff  float64
	HighCutoff float64
	// WindowSize is the number of samples per FFT.
	WindowSize int
	Taper      string
}

// Result of one processing pass. Spectrum stays empty until WindowFull.
type Result struct {
	Times      []float64
	Filtered   []float64
	Spectrum   Spectrum
	Samples    int
	WindowFull bool
}

type Processor struct {
	coeffs     Coefficients
	windowSize int
	taper      func(int) []float64
	estimator  Estimator
}

func NewProcessor(cfg Config, estimator Estimator) (*Processor, error) {
	if cfg.WindowSize < 2 {
		return nil, fmt.Errorf("window size must be at least 2, got %d", cfg.WindowSize)
	}
	coeffs, err := DesignButterworthBandPass(cfg.FilterOrder, cfg.LowCutoff, cfg.HighCutoff)
	if err != nil {
		return nil, err
	}
	taper, err := Taper(cfg.Taper)
	if err != nil {
		return nil, err
	}

	return &Processor{
		coeffs:     coeffs,
		windowSize: cfg.WindowSize,
		taper:      taper,
		estimator:  estimator,
	}, nil
}

// Process resamples and filters obs and, once at least a window of samples is
// there, estimates the spectrum of the newest window. On a spectral error the
// filtered series is still returned.
func (p *Processor) Process(obs []processing.Observation) (Result, error) {
	times, values, err := Resample(obs)
	if err != nil {
		return Result{}, err
	}

	filtered := p.coeffs.Apply(values)
	res := Result{Times: times, Filtered: filtered, Samples: len(filtered)}
	if len(filtered) < p.windowSize {
		return res, nil
	}
	res.WindowFull = true

	seq := append([]float64(nil), filtered[len(filtered)-p.windowSize:]...)
	if p.taper != nil {
		window.Apply(seq, p.taper)
	}

	spectrum, err := p.estimator.Estimate(seq, times[1]-times[0])
	if err != nil {
		return res, err
	}
	res.Spectrum = spectrum
	return res, nil
}

func (p *Processor) Coefficients() Coefficients {
	return p.coeffs
}

func (p *Processor) Reset() {
	p.estimator.Reset()
}
