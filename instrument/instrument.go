// Package instrument implements the instrument connection adapter: a
// variant over the four instrument transports (serial, tcp, botpt, rsn),
// each a composition of the serial driver or the tcp peer socket, surfaced
// to the engine through one uniform contract.
package instrument

import (
	"errors"

	"portagent/config"
	"portagent/serial"
	"portagent/tcpsock"
)

// ErrUnsupportedOp is returned by command-channel operations on variants
// that have no instrument-side command channel (serial, tcp, botpt).
var ErrUnsupportedOp = errors.New("instrument: unsupported operation for this variant")

// Connection is the uniform contract the engine drives every tick,
// regardless of which of the four variants is configured.
type Connection struct {
	kind config.InstrumentType

	dataSerial *serial.Driver // Serial
	dataSock   *tcpsock.Socket // TCP data; BOTPT tx; RSN data
	rxSock     *tcpsock.Socket // BOTPT rx
	cmdSock    *tcpsock.Socket // RSN command

	devicePath string
	settings   serial.Settings
}

// New constructs an unconfigured connection of the given variant.
func New(kind config.InstrumentType) *Connection {
	c := &Connection{kind: kind}
	switch kind {
	case config.InstrumentSerial:
		c.dataSerial = serial.NewDriver("")
	case config.InstrumentTCP:
		c.dataSock = tcpsock.New("", 0, tcpsock.DefaultBackoff)
	case config.InstrumentBOTPT:
		c.dataSock = tcpsock.New("", 0, tcpsock.DefaultBackoff) // tx
		c.rxSock = tcpsock.New("", 0, tcpsock.DefaultBackoff)   // rx
	case config.InstrumentRSN:
		c.dataSock = tcpsock.New("", 0, tcpsock.DefaultBackoff) // data
		c.cmdSock = tcpsock.New("", 0, tcpsock.DefaultBackoff)  // command
	}
	return c
}

// Kind returns the configured variant.
func (c *Connection) Kind() config.InstrumentType {
	return c.kind
}

// Configure applies the relevant subset of cfg to this variant's
// endpoints, per 4.E's field mapping.
func (c *Connection) Configure(cfg *config.Config) {
	switch c.kind {
	case config.InstrumentSerial:
		c.devicePath = cfg.DevicePath
		c.settings = serial.Settings{
			Baud:     cfg.Baud,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   serial.Parity(cfg.Parity),
			Flow:     serial.Flow(cfg.Flow),
		}
	case config.InstrumentTCP:
		c.dataSock.SetEndpoint(cfg.InstrumentAddr, cfg.InstrumentDataPort)
	case config.InstrumentBOTPT:
		c.dataSock.SetEndpoint(cfg.InstrumentAddr, cfg.InstrumentDataTxPort)
		c.rxSock.SetEndpoint(cfg.InstrumentAddr, cfg.InstrumentDataRxPort)
	case config.InstrumentRSN:
		c.dataSock.SetEndpoint(cfg.InstrumentAddr, cfg.InstrumentDataPort)
		c.cmdSock.SetEndpoint(cfg.InstrumentAddr, cfg.InstrumentCommandPort)
	}
}

// DataConfigured reports whether the data-channel endpoint(s) required by
// this variant have been set.
func (c *Connection) DataConfigured() bool {
	switch c.kind {
	case config.InstrumentSerial:
		return c.devicePath != "" && c.settings.Baud != 0
	case config.InstrumentTCP:
		return c.dataSock.Hostname() != "" && c.dataSock.Port() != 0
	case config.InstrumentBOTPT:
		return c.dataSock.Hostname() != "" && c.dataSock.Port() != 0 &&
			c.rxSock.Hostname() != "" && c.rxSock.Port() != 0
	case config.InstrumentRSN:
		return c.dataSock.Hostname() != "" && c.dataSock.Port() != 0 &&
			c.cmdSock.Hostname() != "" && c.cmdSock.Port() != 0
	default:
		return false
	}
}

// CommandConfigured reports whether an instrument-side command channel
// exists and is configured. Only RSN has one.
func (c *Connection) CommandConfigured() bool {
	if c.kind != config.InstrumentRSN {
		return false
	}
	return c.cmdSock.Hostname() != "" && c.cmdSock.Port() != 0
}

// DataInitialized reports whether InitializeData has been called and the
// underlying transport is in an active (connecting-or-connected, or
// open-for-serial) state.
func (c *Connection) DataInitialized() bool {
	switch c.kind {
	case config.InstrumentSerial:
		return c.dataSerial.IsOpen()
	case config.InstrumentTCP, config.InstrumentRSN:
		return c.dataSock.State() != tcpsock.Idle
	case config.InstrumentBOTPT:
		return c.dataSock.State() != tcpsock.Idle && c.rxSock.State() != tcpsock.Idle
	default:
		return false
	}
}

// CommandInitialized mirrors DataInitialized for the command channel.
func (c *Connection) CommandInitialized() bool {
	if c.kind != config.InstrumentRSN {
		return false
	}
	return c.cmdSock.State() != tcpsock.Idle
}

// DataConnected reports whether the data channel is live.
func (c *Connection) DataConnected() bool {
	switch c.kind {
	case config.InstrumentSerial:
		return c.dataSerial.IsOpen()
	case config.InstrumentTCP, config.InstrumentRSN:
		return c.dataSock.Connected()
	case config.InstrumentBOTPT:
		return c.dataSock.Connected() && c.rxSock.Connected()
	default:
		return false
	}
}

// CommandConnected reports whether the command channel is live.
func (c *Connection) CommandConnected() bool {
	if c.kind != config.InstrumentRSN {
		return false
	}
	return c.cmdSock.Connected()
}

// InitializeData (re)opens/(re)connects the data channel(s).
func (c *Connection) InitializeData() error {
	switch c.kind {
	case config.InstrumentSerial:
		if c.dataSerial.IsOpen() {
			return c.dataSerial.ApplyLineSettings(c.settings)
		}
		return c.dataSerial.Open(c.devicePath, c.settings)
	case config.InstrumentTCP, config.InstrumentRSN:
		c.dataSock.Initialize()
		return nil
	case config.InstrumentBOTPT:
		c.dataSock.Initialize()
		c.rxSock.Initialize()
		return nil
	default:
		return ErrUnsupportedOp
	}
}

// InitializeCommand (re)connects the command channel, RSN only.
func (c *Connection) InitializeCommand() error {
	if c.kind != config.InstrumentRSN {
		return ErrUnsupportedOp
	}
	c.cmdSock.Initialize()
	return nil
}

// Tick drives reconnect-backoff timers for the socket-backed variants; a
// no-op for serial (which has no reconnect concept) and while connected.
func (c *Connection) Tick() {
	switch c.kind {
	case config.InstrumentTCP:
		c.dataSock.Tick()
	case config.InstrumentBOTPT:
		c.dataSock.Tick()
		c.rxSock.Tick()
	case config.InstrumentRSN:
		c.dataSock.Tick()
		c.cmdSock.Tick()
	}
}

// ReadData reads from the data channel: RX socket for BOTPT, the single
// data socket/serial device otherwise.
func (c *Connection) ReadData(buf []byte) (int, error) {
	switch c.kind {
	case config.InstrumentSerial:
		n, err := c.dataSerial.ReadNonblocking(buf)
		if errors.Is(err, serial.ErrWouldBlock) {
			return 0, nil
		}
		return n, err
	case config.InstrumentTCP, config.InstrumentRSN:
		return c.dataSock.ReadNonblocking(buf)
	case config.InstrumentBOTPT:
		return c.rxSock.ReadNonblocking(buf)
	default:
		return 0, ErrUnsupportedOp
	}
}

// WriteData writes to the data channel: TX socket for BOTPT, the single
// data socket/serial device otherwise.
func (c *Connection) WriteData(buf []byte) (int, error) {
	switch c.kind {
	case config.InstrumentSerial:
		return c.dataSerial.Write(buf)
	case config.InstrumentTCP, config.InstrumentRSN:
		return c.dataSock.Write(buf)
	case config.InstrumentBOTPT:
		return c.dataSock.Write(buf)
	default:
		return 0, ErrUnsupportedOp
	}
}

// ReadCommand reads from the instrument-side command channel, RSN only.
func (c *Connection) ReadCommand(buf []byte) (int, error) {
	if c.kind != config.InstrumentRSN {
		return 0, ErrUnsupportedOp
	}
	return c.cmdSock.ReadNonblocking(buf)
}

// WriteCommand writes to the instrument-side command channel, RSN only.
func (c *Connection) WriteCommand(buf []byte) (int, error) {
	if c.kind != config.InstrumentRSN {
		return 0, ErrUnsupportedOp
	}
	return c.cmdSock.Write(buf)
}

// Reconnects returns the sum of consecutive-failed-dial-attempt counts
// across every socket-backed endpoint this variant owns, for the engine's
// instrument_reconnects_total accounting (the per-socket count resets to
// zero on a successful connect, so the engine tracks the running delta).
// Serial has no reconnect concept and always reports 0.
func (c *Connection) Reconnects() int {
	switch c.kind {
	case config.InstrumentTCP:
		return c.dataSock.Failures()
	case config.InstrumentBOTPT:
		return c.dataSock.Failures() + c.rxSock.Failures()
	case config.InstrumentRSN:
		return c.dataSock.Failures() + c.cmdSock.Failures()
	default:
		return 0
	}
}

// SendBreak asserts a line break; serial only.
func (c *Connection) SendBreak(ms int) error {
	if c.kind != config.InstrumentSerial {
		return ErrUnsupportedOp
	}
	return c.dataSerial.SendBreak(ms)
}

// Close tears down every configured endpoint.
func (c *Connection) Close() error {
	switch c.kind {
	case config.InstrumentSerial:
		return c.dataSerial.Close()
	case config.InstrumentTCP:
		return c.dataSock.Close()
	case config.InstrumentBOTPT:
		err1 := c.dataSock.Close()
		err2 := c.rxSock.Close()
		if err1 != nil {
			return err1
		}
		return err2
	case config.InstrumentRSN:
		err1 := c.dataSock.Close()
		err2 := c.cmdSock.Close()
		if err1 != nil {
			return err1
		}
		return err2
	}
	return nil
}
