// Package arena turns band powers into the position of the ball and decides
// the race once the ball leaves the field.
package arena

import (
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"
	"sleepywoodpecker/mindball-serial/internal/dsp"
)

type Variant string

const (
	// VariantSingle drives the ball with the band power of one player.
	VariantSingle Variant = "single"
	// VariantDual drives it with the band power difference of two players.
	VariantDual Variant = "dual"
)

type Phase int

const (
	Idle Phase = iota
	Playing
	Decided
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Decided:
		return "decided"
	default:
		return "unknown"
	}
}

// Winner names the goal the ball went through. Channel 0 pushes towards the
// left goal, channel 1 (or the only channel) towards the right one.
type Winner int

const (
	WinnerNone Winner = iota
	WinnerLeft
	WinnerRight
)

func (w Winner) String() string {
	switch w {
	case WinnerLeft:
		return "left"
	case WinnerRight:
		return "right"
	default:
		return "none"
	}
}

type Config struct {
	Variant Variant
	// band power is summed over BandLow <= f < BandHigh
	BandLow      float64
	BandHigh     float64
	TuningFactor float64
	// Boundary is the arena half-width; crossing it decides the race.
	Boundary float64

	// single variant only: the orthogonal axis wanders with normal noise and
	// is damped whenever it leaves EnvelopeScale*(EnvelopeOffset-|x|)
	JitterSigma    float64
	Damping        float64
	EnvelopeScale  float64
	EnvelopeOffset float64
}

type Position struct {
	X float64
	Y float64
}

type State struct {
	Phase     Phase
	Playing   bool
	Decided   bool
	Winner    Winner
	SessionID uuid.UUID
	// Position has X clamped to the arena.
	Position   Position
	BandPowers []float64
}

type Decision struct {
	SessionID uuid.UUID
	Winner    Winner
	Position  Position
}

// Input is what one processing tick hands to the controller: a spectrum per
// channel and whether the processing window was full.
type Input struct {
	Spectra    []dsp.Spectrum
	WindowFull bool
}

// Controller is the race state machine. It is not safe for concurrent use.
type Controller struct {
	cfg     Config
	jitter  distuv.Normal
	phase   Phase
	pos     Position
	winner  Winner
	session uuid.UUID
	powers  []float64
}

func NewController(cfg Config, src rand.Source) *Controller {
	return &Controller{
		cfg:    cfg,
		jitter: distuv.Normal{Mu: 0, Sigma: cfg.JitterSigma, Src: src},
	}
}

// Start puts the ball on the centre spot and starts the race. It only works
// from Idle; a decided race needs a Reset first.
func (c *Controller) Start(session uuid.UUID) bool {
	if c.phase != Idle {
		return false
	}
	c.phase = Playing
	c.pos = Position{}
	c.session = session
	return true
}

func (c *Controller) Reset() {
	c.phase = Idle
	c.pos = Position{}
	c.winner = WinnerNone
	c.session = uuid.Nil
	c.powers = nil
}

// Update moves the ball for one processing tick. It returns the decision the
// first time the ball crosses the boundary. Outside Playing, or without the
// spectra the variant needs, it leaves the state unchanged.
func (c *Controller) Update(in Input) (Decision, bool) {
	if c.phase != Playing {
		return Decision{}, false
	}

	switch c.cfg.Variant {
	case VariantSingle:
		if !in.WindowFull || len(in.Spectra) < 1 || in.Spectra[0].Empty() {
			return Decision{}, false
		}
		power := in.Spectra[0].BandPower(c.cfg.BandLow, c.cfg.BandHigh)
		c.powers = []float64{power}

		c.pos.X += power * c.cfg.TuningFactor
		c.pos.Y += c.jitter.Rand()
		if math.Abs(c.pos.Y) > c.cfg.EnvelopeScale*(c.cfg.EnvelopeOffset-math.Abs(c.pos.X)) {
			c.pos.Y *= c.cfg.Damping
		}

	case VariantDual:
		if len(in.Spectra) < 2 {
			return Decision{}, false
		}
		if !in.WindowFull {
			// an incomplete spectrum must not move the ball
			c.pos = Position{}
			return Decision{}, false
		}
		if in.Spectra[0].Empty() || in.Spectra[1].Empty() {
			return Decision{}, false
		}
		p0 := in.Spectra[0].BandPower(c.cfg.BandLow, c.cfg.BandHigh)
		p1 := in.Spectra[1].BandPower(c.cfg.BandLow, c.cfg.BandHigh)
		c.powers = []float64{p0, p1}

		c.pos.X += (p1 - p0) * c.cfg.TuningFactor

	default:
		return Decision{}, false
	}

	if math.Abs(c.pos.X) <= c.cfg.Boundary {
		return Decision{}, false
	}

	c.phase = Decided
	c.winner = WinnerRight
	if c.pos.X < 0 {
		c.winner = WinnerLeft
	}
	return Decision{SessionID: c.session, Winner: c.winner, Position: c.clamped()}, true
}

func (c *Controller) State() State {
	return State{
		Phase:      c.phase,
		Playing:    c.phase == Playing,
		Decided:    c.phase == Decided,
		Winner:     c.winner,
		SessionID:  c.session,
		Position:   c.clamped(),
		BandPowers: append([]float64(nil), c.powers...),
	}
}

func (c *Controller) clamped() Position {
	x := math.Max(-c.cfg.Boundary, math.Min(c.cfg.Boundary, c.pos.X))
	return Position{X: x, Y: c.pos.Y}
}
