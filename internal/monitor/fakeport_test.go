package monitor

import (
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"go.bug.st/serial"
	rserial "sleepywoodpecker/mindball-serial/internal/rSerial"
)

// fakePort hands out one queued chunk per Read and blocks until the next one
// or Close. A nil chunk is a lost connection.
type fakePort struct {
	chunks    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	wave      func(int) int
}

func newFakePort() *fakePort {
	return &fakePort{chunks: make(chan []byte, 1024), closed: make(chan struct{}), wave: sineValue}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case chunk := <-p.chunks:
		if chunk == nil {
			return 0, io.EOF
		}
		return copy(buf, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// pushSample queues sample i of the port's wave.
func (p *fakePort) pushSample(i int) {
	p.pushValue(p.wave(i))
}

// pushValue queues one packet carrying v on every pair.
func (p *fakePort) pushValue(v int) {
	hi, lo := byte(v>>7)&0b111, byte(v)&0b1111111
	p.chunks <- []byte{hi, lo, hi, lo, hi, lo, hi, lo}
}

func (p *fakePort) disconnect() {
	p.chunks <- nil
}

type fakeOpener struct {
	mu     sync.Mutex
	ports  map[string]*fakePort
	failOn map[string]error
}

func newFakeOpener(names ...string) *fakeOpener {
	o := &fakeOpener{ports: map[string]*fakePort{}, failOn: map[string]error{}}
	for _, name := range names {
		o.ports[name] = newFakePort()
	}
	return o
}

func (o *fakeOpener) open(portName string, mode *serial.Mode) (rserial.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err, ok := o.failOn[portName]; ok {
		return nil, err
	}
	p, ok := o.ports[portName]
	if !ok {
		return nil, errors.New("no such port")
	}
	return p, nil
}

// stepClock advances a millisecond on every call so timestamps are strictly
// increasing.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// sineValue is a tone with a period of 16 samples around mid scale.
func sineValue(i int) int {
	return 512 + int(math.Round(300*math.Sin(2*math.Pi*float64(i)/16)))
}

// fastSineValue has a period of 8 samples.
func fastSineValue(i int) int {
	return 512 + int(math.Round(300*math.Sin(2*math.Pi*float64(i)/8)))
}
