package dsp

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"sleepywoodpecker/mindball-serial/internal/processing"
)

var (
	ErrInsufficientData = errors.New("fewer than 2 samples")
	ErrNonMonotonic     = errors.New("timestamps not strictly increasing")
)

// Resample interpolates obs linearly onto a uniform grid spanning the first
// and last timestamp, with as many points as distinct timestamps. Repeated
// timestamps keep the later value.
func Resample(obs []processing.Observation) (times, values []float64, err error) {
	ts := make([]float64, 0, len(obs))
	vs := make([]float64, 0, len(obs))
	for _, o := range obs {
		if n := len(ts); n > 0 && o.Timestamp == ts[n-1] {
			vs[n-1] = o.Value
			continue
		}
		ts = append(ts, o.Timestamp)
		vs = append(vs, o.Value)
	}

	if len(ts) < 2 {
		return nil, nil, ErrInsufficientData
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			return nil, nil, fmt.Errorf("%w: %g after %g", ErrNonMonotonic, ts[i], ts[i-1])
		}
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(ts, vs); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNonMonotonic, err)
	}

	times = make([]float64, len(ts))
	floats.Span(times, ts[0], ts[len(ts)-1])
	values = make([]float64, len(times))
	for i, t := range times {
		values[i] = pl.Predict(t)
	}
	return times, values, nil
}
