// Package dsp turns a drained batch of timestamped observations into a
// filtered, uniformly sampled series and a normalized magnitude spectrum.
//
// A Processor runs three steps per batch: linear resampling onto a uniform
// grid, a causal Butterworth band-pass filter, and, once a full window is
// available, a spectral estimate. How consecutive windows are combined is up
// to the Estimator: AccumulatingEstimator blends every window into a running
// spectrum, WindowEstimator reports each window on its own.
package dsp
