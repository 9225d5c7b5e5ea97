package arena

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
	"sleepywoodpecker/mindball-serial/internal/dsp"
)

func singleConfig() Config {
	return Config{
		Variant:        VariantSingle,
		BandLow:        4,
		BandHigh:       13,
		TuningFactor:   0.1,
		Boundary:       1,
		JitterSigma:    0.05,
		Damping:        0.6,
		EnvelopeScale:  0.7,
		EnvelopeOffset: 1.1,
	}
}

func dualConfig() Config {
	return Config{
		Variant:      VariantDual,
		BandLow:      0.1,
		BandHigh:     3,
		TuningFactor: 1,
		Boundary:     1,
	}
}

// spectrum with power p inside [4, 13) and the rest at 20 Hz
func bandSpectrum(p float64) dsp.Spectrum {
	return dsp.Spectrum{Frequencies: []float64{1, 8, 20}, Magnitudes: []float64{0, p, 1 - p}}
}

func TestSingleVariantDecidesOnce(t *testing.T) {
	c := NewController(singleConfig(), rand.NewPCG(1, 1))
	session := uuid.New()
	require.True(t, c.Start(session))

	powers := []float64{0.5, 0.9, 1, 0.7, 1, 1, 0.8, 1, 1, 1, 0.6, 1, 1, 1, 1, 1, 1, 1}
	decisions := 0
	cumulative := 0.0
	var decision Decision
	for _, p := range powers {
		cumulative += p
		d, ok := c.Update(Input{Spectra: []dsp.Spectrum{bandSpectrum(p)}, WindowFull: true})
		if ok {
			decisions++
			decision = d
			assert.Greater(t, cumulative*0.1, 1.0)
		}
	}
	require.Greater(t, cumulative, 10.0)

	assert.Equal(t, 1, decisions)
	assert.Equal(t, WinnerRight, decision.Winner)
	assert.Equal(t, session, decision.SessionID)
	assert.Equal(t, 1.0, decision.Position.X, "position is clamped to the boundary")

	state := c.State()
	assert.Equal(t, Decided, state.Phase)
	assert.True(t, state.Decided)
	assert.False(t, state.Playing)
	assert.Equal(t, WinnerRight, state.Winner)
}

func TestDecidedIsFrozen(t *testing.T) {
	c := NewController(singleConfig(), rand.NewPCG(2, 2))
	c.Start(uuid.New())
	for i := 0; i < 11; i++ {
		c.Update(Input{Spectra: []dsp.Spectrum{bandSpectrum(1)}, WindowFull: true})
	}
	before := c.State()
	require.True(t, before.Decided)

	for i := 0; i < 5; i++ {
		_, ok := c.Update(Input{Spectra: []dsp.Spectrum{bandSpectrum(1)}, WindowFull: true})
		assert.False(t, ok)
	}
	assert.Equal(t, before, c.State())
	assert.False(t, c.Start(uuid.New()), "a decided race needs a reset")
}

func TestSingleVariantIgnoresIncompleteInput(t *testing.T) {
	c := NewController(singleConfig(), rand.NewPCG(3, 3))
	c.Start(uuid.New())

	for _, in := range []Input{
		{},
		{Spectra: []dsp.Spectrum{bandSpectrum(1)}, WindowFull: false},
		{Spectra: []dsp.Spectrum{{}}, WindowFull: true},
	} {
		_, ok := c.Update(in)
		assert.False(t, ok)
		assert.Equal(t, Position{}, c.State().Position)
	}
}

func TestSingleVariantJitterEnvelope(t *testing.T) {
	cfg := singleConfig()
	cfg.JitterSigma = 0.5
	c := NewController(cfg, rand.NewPCG(7, 7))
	c.Start(uuid.New())

	ref := distuv.Normal{Mu: 0, Sigma: cfg.JitterSigma, Src: rand.NewPCG(7, 7)}
	var x, y float64
	for i := 0; i < 9; i++ {
		c.Update(Input{Spectra: []dsp.Spectrum{bandSpectrum(1)}, WindowFull: true})

		x += 0.1
		y += ref.Rand()
		if math.Abs(y) > 0.7*(1.1-math.Abs(x)) {
			y *= 0.6
		}
		state := c.State()
		assert.InDelta(t, x, state.Position.X, 1e-12)
		assert.InDelta(t, y, state.Position.Y, 1e-12)
	}
}

func TestUpdateWhileIdleIsNoop(t *testing.T) {
	c := NewController(dualConfig(), nil)
	_, ok := c.Update(Input{Spectra: []dsp.Spectrum{bandSpectrum(0), bandSpectrum(1)}, WindowFull: true})
	assert.False(t, ok)
	assert.Equal(t, Idle, c.State().Phase)
	assert.Equal(t, Position{}, c.State().Position)
}

func dualSpectra(p0, p1 float64) []dsp.Spectrum {
	at := func(p float64) dsp.Spectrum {
		return dsp.Spectrum{Frequencies: []float64{1, 10}, Magnitudes: []float64{p, 1 - p}}
	}
	return []dsp.Spectrum{at(p0), at(p1)}
}

func TestDualVariantIncompleteWindowKeepsCentre(t *testing.T) {
	c := NewController(dualConfig(), nil)
	c.Start(uuid.New())

	// move the ball a bit first
	_, ok := c.Update(Input{Spectra: dualSpectra(0.2, 0.5), WindowFull: true})
	require.False(t, ok)
	require.InDelta(t, 0.3, c.State().Position.X, 1e-12)

	for _, powers := range [][2]float64{{0, 1}, {1, 0}, {0.3, 0.9}} {
		_, ok := c.Update(Input{Spectra: dualSpectra(powers[0], powers[1]), WindowFull: false})
		assert.False(t, ok)
		assert.Equal(t, Position{X: 0, Y: 0}, c.State().Position)
	}
}

func TestDualVariantWinner(t *testing.T) {
	tests := []struct {
		name   string
		p0, p1 float64
		want   Winner
	}{
		{"channel 0 stronger", 0.9, 0.2, WinnerLeft},
		{"channel 1 stronger", 0.1, 0.8, WinnerRight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(dualConfig(), nil)
			c.Start(uuid.New())

			var decision Decision
			decided := 0
			for i := 0; i < 10; i++ {
				if d, ok := c.Update(Input{Spectra: dualSpectra(tt.p0, tt.p1), WindowFull: true}); ok {
					decision = d
					decided++
				}
			}
			assert.Equal(t, 1, decided)
			assert.Equal(t, tt.want, decision.Winner)
			assert.Equal(t, []float64{tt.p0, tt.p1}, c.State().BandPowers)
		})
	}
}

func TestDualVariantNeedsBothChannels(t *testing.T) {
	c := NewController(dualConfig(), nil)
	c.Start(uuid.New())

	_, ok := c.Update(Input{Spectra: dualSpectra(0, 1)[:1], WindowFull: true})
	assert.False(t, ok)
	assert.Equal(t, Position{}, c.State().Position)
}

func TestReset(t *testing.T) {
	c := NewController(dualConfig(), nil)
	c.Start(uuid.New())
	for i := 0; i < 3; i++ {
		c.Update(Input{Spectra: dualSpectra(0, 1), WindowFull: true})
	}
	require.True(t, c.State().Decided)

	c.Reset()
	state := c.State()
	assert.Equal(t, Idle, state.Phase)
	assert.Equal(t, WinnerNone, state.Winner)
	assert.Equal(t, uuid.Nil, state.SessionID)
	assert.Equal(t, Position{}, state.Position)
	assert.True(t, c.Start(uuid.New()))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "playing", Playing.String())
	assert.Equal(t, "left", WinnerLeft.String())
	assert.Equal(t, "none", WinnerNone.String())
}
