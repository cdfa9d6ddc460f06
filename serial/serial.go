// Package serial drives a local character device: open, apply line
// settings as a group, non-blocking read, write, and break-signal
// emission.
package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Parity encodes the {0 none, 1 odd, 2 even} configuration option.
type Parity int

const (
	ParityNone Parity = 0
	ParityOdd  Parity = 1
	ParityEven Parity = 2
)

// Flow encodes the {0 none, 1 software, 2 hardware} configuration option.
type Flow int

const (
	FlowNone     Flow = 0
	FlowSoftware Flow = 1
	FlowHardware Flow = 2
)

// Settings is the {baud, databits, stopbits, parity, flow} group applied
// atomically to the device.
type Settings struct {
	Baud     int
	DataBits int
	StopBits int
	Parity   Parity
	Flow     Flow
}

var (
	ErrWouldBlock  = errors.New("serial: would block")
	ErrClosed      = errors.New("serial: closed")
	ErrDeviceOpen  = errors.New("serial: device open failed")
	ErrDeviceIO    = errors.New("serial: device i/o failed")
	ErrBadSetting  = errors.New("serial: unsupported line setting")
)

// readTimeout bounds how long a single read_nonblocking poll may block the
// tick loop; go.bug.st/serial has no true non-blocking mode, so a short
// timeout stands in for it, matching the teacher's own approach.
const readTimeout = 50 * time.Millisecond

// Driver owns one open character device.
type Driver struct {
	devicePath string
	settings   Settings

	mu   sync.Mutex
	port serial.Port
	open bool
}

// NewDriver constructs an unopened driver for devicePath.
func NewDriver(devicePath string) *Driver {
	return &Driver{devicePath: devicePath}
}

// DevicePath returns the configured device path.
func (d *Driver) DevicePath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devicePath
}

// IsOpen reports whether the device is currently open.
func (d *Driver) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Open opens the character device in raw mode and applies settings.
func (d *Driver) Open(devicePath string, settings Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return fmt.Errorf("%w: already open", ErrDeviceOpen)
	}

	mode, err := toMode(settings)
	if err != nil {
		return err
	}

	port, err := serial.Open(devicePath, mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	d.devicePath = devicePath
	d.settings = settings
	d.port = port
	d.open = true
	return nil
}

// ApplyLineSettings reparameterizes an already-open device in place,
// without closing the underlying file descriptor (spec invariant iii: a
// baud/databits/stopbits/parity/flow-only change is an in-place re-tcattr,
// never a reopen).
func (d *Driver) ApplyLineSettings(settings Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return fmt.Errorf("%w: not open", ErrDeviceIO)
	}

	mode, err := toMode(settings)
	if err != nil {
		return err
	}
	if err := d.port.SetMode(mode); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSetting, err)
	}
	d.settings = settings
	return nil
}

// ReadNonblocking returns up to len(buf) bytes read within a bounded
// timeout. It returns (0, ErrWouldBlock) on timeout, (0, ErrClosed) if the
// device is not open, and n>0 with err==nil on a successful partial or full
// read.
func (d *Driver) ReadNonblocking(buf []byte) (int, error) {
	d.mu.Lock()
	port := d.port
	open := d.open
	d.mu.Unlock()

	if !open || port == nil {
		return 0, ErrClosed
	}

	n, err := port.Read(buf)
	if err != nil {
		if err == io.EOF {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	if n == 0 {
		return 0, ErrWouldBlock
	}
	return n, nil
}

// Write sends buf to the device.
func (d *Driver) Write(buf []byte) (int, error) {
	d.mu.Lock()
	port := d.port
	open := d.open
	d.mu.Unlock()

	if !open || port == nil {
		return 0, ErrClosed
	}
	n, err := port.Write(buf)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	return n, nil
}

// SendBreak asserts a continuous space (line break) condition on the TX
// line for durationMs milliseconds via the port's own Break primitive
// (go.bug.st/serial's Port.Break), not the RTS modem-control line — RTS is
// a handshake signal, not the TX-line condition instruments expect from a
// break. The call returns once the break completes.
func (d *Driver) SendBreak(durationMs int) error {
	d.mu.Lock()
	port := d.port
	open := d.open
	d.mu.Unlock()

	if !open || port == nil {
		return ErrClosed
	}

	if err := port.Break(time.Duration(durationMs) * time.Millisecond); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIO, err)
	}
	return nil
}

// Close releases the underlying device.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open || d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	d.open = false
	return err
}

func toMode(s Settings) (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: s.Baud}

	switch s.DataBits {
	case 5, 6, 7, 8:
		mode.DataBits = s.DataBits
	case 0:
		mode.DataBits = 8
	default:
		return nil, fmt.Errorf("%w: databits %d", ErrBadSetting, s.DataBits)
	}

	switch s.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stopbits %d", ErrBadSetting, s.StopBits)
	}

	switch s.Parity {
	case ParityNone:
		mode.Parity = serial.NoParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("%w: parity %d", ErrBadSetting, s.Parity)
	}

	// Software/hardware flow control is negotiated by the OS driver once
	// the port is open; go.bug.st/serial exposes RTS/CTS via SetRTS rather
	// than a Mode field, so FlowHardware is a no-op here beyond validation.
	switch s.Flow {
	case FlowNone, FlowSoftware, FlowHardware:
	default:
		return nil, fmt.Errorf("%w: flow %d", ErrBadSetting, s.Flow)
	}

	return mode, nil
}
