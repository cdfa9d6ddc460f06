// Package observatory owns the two inbound connections through which
// consumers reach the port agent: a single command listener, and a data
// listener replicated per configured port in multi-observatory mode.
package observatory

import (
	"fmt"

	"portagent/tcplisten"
)

// Connection owns the observatory command listener and one data listener
// per configured data port.
type Connection struct {
	commandPort int
	command     *tcplisten.Listener

	dataListeners map[int]*tcplisten.Listener
}

// New constructs an unstarted observatory connection.
func New() *Connection {
	return &Connection{dataListeners: make(map[int]*tcplisten.Listener)}
}

// ConfigureCommand (re)binds the command listener to port, tearing down
// any prior binding first.
func (c *Connection) ConfigureCommand(port int) error {
	if c.command != nil {
		c.command.Stop()
		c.command = nil
	}
	if port == 0 {
		return nil
	}
	c.command = tcplisten.New(fmt.Sprintf(":%d", port))
	c.commandPort = port
	return c.command.Start()
}

// SetDataPorts reconciles the live data listeners against wantPorts:
// listeners for ports no longer present are stopped, and listeners for new
// ports are started. Re-supplying an already-listening port is a no-op
// (4.F's "duplicate add_data_port is idempotent").
func (c *Connection) SetDataPorts(wantPorts []int) error {
	want := make(map[int]bool, len(wantPorts))
	for _, p := range wantPorts {
		want[p] = true
	}

	for port, l := range c.dataListeners {
		if !want[port] {
			l.Stop()
			delete(c.dataListeners, port)
		}
	}

	for port := range want {
		if _, ok := c.dataListeners[port]; ok {
			continue
		}
		l := tcplisten.New(fmt.Sprintf(":%d", port))
		if err := l.Start(); err != nil {
			return fmt.Errorf("observatory: start data listener on %d: %w", port, err)
		}
		c.dataListeners[port] = l
	}
	return nil
}

// CommandListener returns the command listener, or nil if unconfigured.
func (c *Connection) CommandListener() *tcplisten.Listener {
	return c.command
}

// DataListeners returns the live data listeners keyed by port.
func (c *Connection) DataListeners() map[int]*tcplisten.Listener {
	return c.dataListeners
}

// WriteCommand writes buf to the command listener, if attached.
func (c *Connection) WriteCommand(buf []byte) (int, error) {
	if c.command == nil {
		return 0, tcplisten.ErrNoClient
	}
	return c.command.Write(buf)
}

// ReadCommand reads a chunk from the command listener.
func (c *Connection) ReadCommand(buf []byte) (int, error) {
	if c.command == nil {
		return 0, tcplisten.ErrNoClient
	}
	return c.command.ReadNonblocking(buf)
}

// Close tears down every listener.
func (c *Connection) Close() {
	if c.command != nil {
		c.command.Stop()
		c.command = nil
	}
	for port, l := range c.dataListeners {
		l.Stop()
		delete(c.dataListeners, port)
	}
}
