package rserial

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// testPort hands out queued chunks, one per Read. A nil chunk behaves like a
// read timeout. With nothing queued it either times out or, with blockReads,
// waits until data arrives or the port is closed.
type testPort struct {
	mu         sync.Mutex
	cond       *sync.Cond
	chunks     [][]byte
	readErrs   []error
	blockReads bool
	closed     bool

	readTimeout time.Duration
	resetCalls  int
}

func newTestPort(chunks ...[]byte) *testPort {
	p := &testPort{chunks: chunks}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *testPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if len(p.readErrs) > 0 {
		err := p.readErrs[0]
		p.readErrs = p.readErrs[1:]
		return 0, err
	}

	if len(p.chunks) == 0 {
		if !p.blockReads {
			p.mu.Unlock()
			time.Sleep(time.Millisecond)
			p.mu.Lock()
			return 0, nil
		}
		for !p.closed && len(p.chunks) == 0 {
			p.cond.Wait()
		}
		if p.closed {
			return 0, errors.New("serial port closed")
		}
	}

	chunk := p.chunks[0]
	n := copy(buf, chunk)
	if n < len(chunk) {
		p.chunks[0] = chunk[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *testPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

func (p *testPort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = timeout
	return nil
}

func (p *testPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetCalls++
	return nil
}

func (p *testPort) push(chunks ...[]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, chunks...)
	p.cond.Broadcast()
}

func (p *testPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func openerFor(port Port) Opener {
	return func(string, *serial.Mode) (Port, error) {
		return port, nil
	}
}

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}
