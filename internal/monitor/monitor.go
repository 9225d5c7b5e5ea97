// Package monitor runs a game session: one acquisition worker per device,
// a fast tick that moves readings into the feeds, and a slower tick that
// turns the feeds into spectra and moves the ball.
//
// The workers are the only goroutines that block. Both ticks run on the
// caller of Run and share state with the workers only through the feeds.
package monitor

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"sleepywoodpecker/mindball-serial/internal/arena"
	"sleepywoodpecker/mindball-serial/internal/config"
	"sleepywoodpecker/mindball-serial/internal/dsp"
	"sleepywoodpecker/mindball-serial/internal/processing"
	rserial "sleepywoodpecker/mindball-serial/internal/rSerial"
)

var ErrAlreadyRunning = errors.New("monitor already running")

// lane is everything that belongs to one device.
type lane struct {
	device config.Device
	feed   *processing.DataFeed
	signal *dsp.Processor

	worker   *rserial.RSerial
	readings chan rserial.Reading
	errs     chan error
	drain    *processing.Processor
	done     chan struct{}

	result dsp.Result
}

type Option func(*Monitor)

func WithOpener(open rserial.Opener) Option {
	return func(m *Monitor) { m.open = open }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRandSource seeds the ball's jitter.
func WithRandSource(src rand.Source) Option {
	return func(m *Monitor) { m.src = src }
}

type Monitor struct {
	cfg    *config.Config
	logger *zap.Logger
	open   rserial.Opener
	now    func() time.Time
	src    rand.Source

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	running   atomic.Bool

	mu    sync.Mutex
	lanes []*lane
	arena *arena.Controller

	processing atomic.Bool
	decisions  chan arena.Decision
	errors     chan error
}

func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:       cfg,
		logger:    logger,
		open:      rserial.OpenPort,
		now:       time.Now,
		decisions: make(chan arena.Decision, 1),
		errors:    make(chan error, len(cfg.Devices)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.src == nil {
		m.src = rand.NewPCG(uint64(m.now().UnixNano()), 0)
	}

	for _, device := range cfg.Devices {
		estimator, err := dsp.NewEstimator(cfg.Strategy())
		if err != nil {
			return nil, err
		}
		signal, err := dsp.NewProcessor(cfg.DSP(), estimator)
		if err != nil {
			return nil, err
		}
		m.lanes = append(m.lanes, &lane{
			device: device,
			feed:   processing.NewDataFeed(cfg.WindowSize),
			signal: signal,
		})
	}
	m.arena = arena.NewController(cfg.Arena(), m.src)

	return m, nil
}

// Start opens every device. If any of them cannot be opened the devices that
// did open are released again and the open errors are returned; the host is
// expected to tell the operator and not retry on its own.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.running.Load() {
		return ErrAlreadyRunning
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	epoch := m.now()

	m.mu.Lock()
	for _, l := range m.lanes {
		l.readings = make(chan rserial.Reading, m.cfg.QueueLength)
		l.errs = make(chan error, 1)
		l.done = make(chan struct{})
		l.worker = rserial.NewRSerial(rserial.Options{
			PortName:    l.device.Port,
			BaudRate:    l.device.BaudRate,
			PacketSize:  l.device.PacketSize,
			ReadTimeout: m.cfg.ReadTimeout.Std(),
			Epoch:       epoch,
			Now:         m.now,
			Open:        m.open,
		}, l.readings, l.errs, m.logger)
		l.drain = processing.NewProcessor(l.device.Port, l.readings, m.logger, l.feed)

		go func(l *lane) {
			defer close(l.done)
			l.worker.Run(workerCtx)
		}(l)
	}
	lanes := m.lanes
	m.mu.Unlock()

	var openErrs error
	for _, l := range lanes {
		select {
		case <-l.worker.Ready():
		case err := <-l.errs:
			openErrs = multierr.Append(openErrs, err)
		case <-ctx.Done():
			openErrs = multierr.Append(openErrs, ctx.Err())
		}
	}
	if openErrs != nil {
		cancel()
		m.stopLanes(lanes)
		m.logger.Error("[monitor] could not start", zap.Error(openErrs))
		return openErrs
	}

	for _, l := range lanes {
		go m.forwardErrors(l)
	}
	m.cancel = cancel
	m.running.Store(true)
	m.logger.Info("[monitor] monitor running", zap.String("variant", string(m.cfg.Variant)), zap.Int("devices", len(lanes)))
	return nil
}

// forwardErrors surfaces a lost connection once the worker has exited.
func (m *Monitor) forwardErrors(l *lane) {
	<-l.done
	select {
	case err := <-l.errs:
		select {
		case m.errors <- err:
		default:
			m.logger.Warn("[monitor] error channel full", zap.Error(err))
		}
	default:
	}
}

// Run drives both cadences until ctx is done. A tick that lands while the
// previous one is still running is dropped, not queued.
func (m *Monitor) Run(ctx context.Context) {
	acquisition := time.NewTicker(m.cfg.AcquisitionPeriod.Std())
	defer acquisition.Stop()
	processingTicker := time.NewTicker(m.cfg.ProcessingPeriod.Std())
	defer processingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("[monitor] received shutdown signal")
			return
		case <-acquisition.C:
			m.DrainTick()
		case <-processingTicker.C:
			m.ProcessTick()
		}
	}
}

// DrainTick moves queued readings into the feeds and returns how many were
// pulled.
func (m *Monitor) DrainTick() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pulled := 0
	for _, l := range m.lanes {
		if l.drain != nil {
			pulled += l.drain.Drain()
		}
	}
	return pulled
}

// ProcessTick drains, processes every feed with unread history and updates
// the arena. It returns false when another ProcessTick is still running.
func (m *Monitor) ProcessTick() bool {
	if !m.processing.CompareAndSwap(false, true) {
		return false
	}
	defer m.processing.Store(false)

	// a drain due at the same instant always goes first
	m.DrainTick()

	m.mu.Lock()
	defer m.mu.Unlock()

	spectra := make([]dsp.Spectrum, len(m.lanes))
	fresh := 0
	windowFull := true
	for i, l := range m.lanes {
		history, unread := l.feed.DrainHistory()
		if !unread {
			continue
		}

		res, err := l.signal.Process(history)
		if err != nil {
			m.logger.Debug("[monitor] skipping processing cycle", zap.Error(err), zap.String("portName", l.device.Port), zap.Int("samples", len(history)))
			if res.Samples == 0 {
				continue
			}
		}
		l.result = res
		spectra[i] = res.Spectrum
		windowFull = windowFull && res.WindowFull
		fresh++
	}

	if fresh < len(m.lanes) {
		return true
	}

	decision, decided := m.arena.Update(arena.Input{Spectra: spectra, WindowFull: windowFull})
	if decided {
		m.logger.Info("[monitor] race decided",
			zap.String("session", decision.SessionID.String()),
			zap.Stringer("winner", decision.Winner),
			zap.Float64("x", decision.Position.X),
		)
		select {
		case m.decisions <- decision:
		default:
			m.logger.Warn("[monitor] decision channel full, dropping decision", zap.String("session", decision.SessionID.String()))
		}
	}
	return true
}

// StartArena starts a race with a fresh session id. It returns false when a
// race is already running or decided and not reset.
func (m *Monitor) StartArena() (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := uuid.New()
	if !m.arena.Start(session) {
		return uuid.Nil, false
	}
	m.logger.Info("[monitor] game is starting", zap.String("session", session.String()))
	return session, true
}

// Reset clears the feeds, the spectra and the arena.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.lanes {
		l.feed.Reset()
		l.signal.Reset()
		l.result = dsp.Result{}
	}
	m.arena.Reset()
}

// Decisions delivers the terminal event of each race.
func (m *Monitor) Decisions() <-chan arena.Decision {
	return m.decisions
}

// Errors delivers connection losses that happen after Start.
func (m *Monitor) Errors() <-chan error {
	return m.errors
}

func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Stop cancels the workers and waits at most StopGrace for them; a worker
// still stuck after that has its port closed and is treated as stopped.
// Readings already queued are moved into the feeds, which are not cleared.
func (m *Monitor) Stop() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.running.Load() {
		return nil
	}
	m.cancel()

	m.mu.Lock()
	lanes := m.lanes
	m.mu.Unlock()

	err := m.stopLanes(lanes)
	m.DrainTick()
	m.running.Store(false)
	m.logger.Info("[monitor] monitor idle")
	return err
}

func (m *Monitor) stopLanes(lanes []*lane) error {
	deadline := time.Now().Add(m.cfg.StopGrace.Std())
	var errs error
	for _, l := range lanes {
		select {
		case <-l.done:
		case <-time.After(time.Until(deadline)):
			m.logger.Warn("[monitor] worker did not stop within grace period", zap.String("portName", l.device.Port))
		}
		errs = multierr.Append(errs, l.worker.Close())
	}
	return errs
}
