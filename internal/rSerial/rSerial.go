// r in rserial stands for "robust"
package rserial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"sleepywoodpecker/mindball-serial/internal/packet"
)

const DEFAULT_READ_TIMEOUT = 5 * time.Millisecond

// Reading is one decoded packet stamped with its arrival time in seconds since
// the session epoch.
type Reading struct {
	Values    []float64
	Timestamp float64
}

type Options struct {
	PortName    string
	BaudRate    int
	PacketSize  int
	ReadTimeout time.Duration
	// Epoch is the zero of the timestamps. Lanes of one session share it.
	Epoch time.Time
	Now   func() time.Time
	Open  Opener
}

type Stats struct {
	Packets    uint64
	Malformed  uint64
	ReadErrors uint64
	QueueDrops uint64
}

// RSerial owns one serial connection. It reads fixed size packets, decodes
// them and posts the readings without ever blocking on the consumer.
type RSerial struct {
	opts     Options
	readings chan<- Reading
	errs     chan<- error
	logger   *zap.Logger
	tempBuff []byte
	ready    chan struct{}

	portMu    sync.Mutex
	port      Port
	closeOnce sync.Once
	closeErr  error

	packets    atomic.Uint64
	malformed  atomic.Uint64
	readErrors atomic.Uint64
	queueDrops atomic.Uint64
}

// returned by ReadPacket when the read timed out before any byte arrived
var errNoData = errors.New("no data")

func NewRSerial(opts Options, readings chan<- Reading, errs chan<- error, logger *zap.Logger) *RSerial {
	if opts.PacketSize <= 0 {
		opts.PacketSize = packet.Size
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DEFAULT_READ_TIMEOUT
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Epoch.IsZero() {
		opts.Epoch = opts.Now()
	}
	if opts.Open == nil {
		opts.Open = OpenPort
	}

	return &RSerial{
		opts:     opts,
		readings: readings,
		errs:     errs,
		logger:   logger,
		tempBuff: make([]byte, opts.PacketSize),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the port is open and the read loop is about to start.
func (r *RSerial) Ready() <-chan struct{} {
	return r.ready
}

func (r *RSerial) PortName() string {
	return r.opts.PortName
}

func (r *RSerial) Stats() Stats {
	return Stats{
		Packets:    r.packets.Load(),
		Malformed:  r.malformed.Load(),
		ReadErrors: r.readErrors.Load(),
		QueueDrops: r.queueDrops.Load(),
	}
}

func (r *RSerial) initialize() {
	if p, ok := r.port.(timeoutPort); ok {
		if err := p.SetReadTimeout(r.opts.ReadTimeout); err != nil {
			r.logger.Warn("[rserial] could not set read timeout", zap.Error(err), zap.String("portName", r.opts.PortName))
		}
	}
	if p, ok := r.port.(resettablePort); ok {
		if err := p.ResetInputBuffer(); err != nil {
			r.logger.Warn("[rserial] could not reset input buffer", zap.Error(err), zap.String("portName", r.opts.PortName))
		}
	}
}

// Run opens the port and reads until ctx is cancelled or the connection is
// lost. The readings channel is closed when Run returns.
func (r *RSerial) Run(ctx context.Context) {
	defer close(r.readings)

	port, err := r.opts.Open(r.opts.PortName, NewMode(r.opts.BaudRate))
	if err != nil {
		openErr := &DeviceOpenError{PortName: r.opts.PortName, Err: err}
		r.logger.Error("[rserial] error opening serial port", zap.Error(err), zap.String("portName", r.opts.PortName))
		r.report(openErr)
		return
	}

	r.portMu.Lock()
	r.port = port
	r.portMu.Unlock()
	defer r.Close()

	r.initialize()
	close(r.ready)
	r.logger.Info("[rserial] serial port open", zap.String("portName", r.opts.PortName), zap.Int("baudrate", r.opts.BaudRate))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.opts.PortName))
			return
		default:
		}

		err := r.ReadPacket()
		switch {
		case err == nil, errors.Is(err, errNoData):
		case ctx.Err() != nil:
			// closing the port to unblock a read surfaces here as an error
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.opts.PortName))
			return
		case isConnectionLost(err):
			r.logger.Error("[rserial] serial connection lost", zap.Error(err), zap.String("portName", r.opts.PortName))
			r.report(fmt.Errorf("%w: %s: %v", ErrConnectionLost, r.opts.PortName, err))
			return
		case errors.Is(err, ErrShortPacket):
			r.malformed.Add(1)
			r.logger.Debug("[rserial] dropping short packet", zap.Error(err), zap.String("portName", r.opts.PortName))
		default:
			r.readErrors.Add(1)
			r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.opts.PortName))
		}
	}
}

// ReadPacket reads exactly one packet, decodes it and posts the reading. A
// read that times out half way through a packet drops the partial bytes.
func (r *RSerial) ReadPacket() error {
	count := 0
	for count < r.opts.PacketSize {
		n, err := r.port.Read(r.tempBuff[count:])
		if err != nil {
			return err
		}
		if n == 0 {
			if count == 0 {
				return errNoData
			}
			return fmt.Errorf("%w: got %d of %d bytes", ErrShortPacket, count, r.opts.PacketSize)
		}
		count += n
	}
	timestamp := r.opts.Now().Sub(r.opts.Epoch).Seconds()

	values := packet.Decode(r.tempBuff)
	if len(values) == 0 {
		r.malformed.Add(1)
		r.logger.Debug("[rserial] dropping undecodable packet", zap.String("portName", r.opts.PortName), zap.Binary("rawBytes", r.tempBuff))
		return nil
	}

	select {
	case r.readings <- Reading{Values: values, Timestamp: timestamp}:
		r.packets.Add(1)
	default:
		r.queueDrops.Add(1)
	}
	return nil
}

// Close closes the port. It is safe to call from another goroutine to unblock
// a pending read.
func (r *RSerial) Close() error {
	r.portMu.Lock()
	port := r.port
	r.portMu.Unlock()
	if port == nil {
		return nil
	}

	r.closeOnce.Do(func() {
		r.closeErr = port.Close()
	})
	return r.closeErr
}

func (r *RSerial) report(err error) {
	select {
	case r.errs <- err:
	default:
		r.logger.Warn("[rserial] error channel full, dropping error", zap.Error(err), zap.String("portName", r.opts.PortName))
	}
}
