package rserial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"
)

// Port is the part of a serial port the worker needs. It lets tests run the
// worker without hardware.
type Port interface {
	io.Reader
	io.Closer
}

type timeoutPort interface {
	SetReadTimeout(timeout time.Duration) error
}

type resettablePort interface {
	ResetInputBuffer() error
}

// Opener opens the named port with the given mode.
type Opener func(portName string, mode *serial.Mode) (Port, error)

// OpenPort opens a real serial device.
func OpenPort(portName string, mode *serial.Mode) (Port, error) {
	return serial.Open(portName, mode)
}

// NewMode builds the 8N1 mode the amplifier board talks.
func NewMode(baudrate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

var (
	ErrConnectionLost = errors.New("serial connection lost")
	ErrShortPacket    = errors.New("short packet")
)

// DeviceOpenError is reported once when the worker cannot open its port.
type DeviceOpenError struct {
	PortName string
	Err      error
}

func (e *DeviceOpenError) Error() string {
	return fmt.Sprintf("could not open serial device %s: %v", e.PortName, e.Err)
}

func (e *DeviceOpenError) Unwrap() error {
	return e.Err
}

func isConnectionLost(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound:
			return true
		}
	}
	return false
}
