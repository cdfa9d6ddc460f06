// Package config holds the port agent's process-wide configuration record,
// the textual command/conf-file grammar that mutates it, and the
// de-duplicating command queue that grammar feeds.
package config

import (
	"fmt"
	"path/filepath"
)

// InstrumentType selects one of the four instrument connection variants.
type InstrumentType string

const (
	InstrumentUnset  InstrumentType = ""
	InstrumentSerial InstrumentType = "serial"
	InstrumentTCP    InstrumentType = "tcp"
	InstrumentBOTPT  InstrumentType = "botpt"
	InstrumentRSN    InstrumentType = "rsn"
)

// ObservatoryType selects single vs. multi data-listener mode.
type ObservatoryType string

const (
	ObservatoryStandard ObservatoryType = "standard"
	ObservatoryMulti    ObservatoryType = "multi"
)

// Base is the file-naming stem for pid/log/data/conf files.
const Base = "port_agent"

// Config is the process-wide mutable configuration record. It is owned by
// the engine and mutated only during the command-drain step of a tick;
// other components only read it. Clone returns an independent copy.
type Config struct {
	ObservatoryCommandPort int
	// DataPorts is the ordered set of observatory data listener ports.
	// data_port replaces the first entry and add_data_port appends (see
	// AddDataPort); neither verb checks ObservatoryType. Design note (ii):
	// this set is the single source of truth, there is no separate
	// "current port" concept.
	DataPorts       []int
	ObservatoryType ObservatoryType

	InstrumentType        InstrumentType
	InstrumentAddr        string
	InstrumentDataPort    int
	InstrumentDataTxPort  int
	InstrumentDataRxPort  int
	InstrumentCommandPort int

	DevicePath string
	Baud       int
	StopBits   int
	DataBits   int
	Parity     int
	Flow       int

	BreakDuration     int // milliseconds
	HeartbeatInterval int // seconds
	OutputThrottle    int // microseconds
	MaxPacketSize     int

	// SentinelSequence is stored already escape-decoded; ReEscape produces
	// the on-the-wire quoted form for output.
	SentinelSequence []byte

	TelnetSnifferPort   int
	TelnetSnifferPrefix string
	TelnetSnifferSuffix string

	LogLevel         string
	RotationInterval string

	PidDir  string
	LogDir  string
	ConfDir string
	DataDir string

	// MetricsPort is ambient: 0 disables the Prometheus/health HTTP
	// surface entirely (SPEC_FULL 4.M).
	MetricsPort int

	ReconnectBackoffMinMs int
	ReconnectBackoffMaxMs int

	// Dirty flags set by the parser (H) and cleared by the engine (K)
	// once the corresponding reinitialization has been applied.
	DevicePathChanged     bool
	SerialSettingsChanged bool
}

// New returns a Config populated with the documented defaults.
func New() *Config {
	return &Config{
		ObservatoryType:       ObservatoryStandard,
		StopBits:              1,
		DataBits:              8,
		Parity:                0,
		Flow:                  0,
		MaxPacketSize:         1024,
		LogLevel:              "info",
		RotationInterval:      "daily",
		PidDir:                "/tmp",
		LogDir:                "/tmp",
		ConfDir:               "/tmp",
		DataDir:               "/tmp",
		ReconnectBackoffMinMs: 1000,
		ReconnectBackoffMaxMs: 30000,
	}
}

// AddDataPort inserts port into the data-port set idempotently:
// remove-then-append, so re-adding an existing port moves it to the end
// without duplicating it (spec invariant, testable property 10).
func (c *Config) AddDataPort(port int) {
	out := make([]int, 0, len(c.DataPorts)+1)
	for _, p := range c.DataPorts {
		if p != port {
			out = append(out, p)
		}
	}
	c.DataPorts = append(out, port)
}

// SetDataPort replaces the primary (first) data port, used by the
// data_port verb.
func (c *Config) SetDataPort(port int) {
	if len(c.DataPorts) == 0 {
		c.DataPorts = []int{port}
		return
	}
	c.DataPorts[0] = port
}

// PrimaryDataPort returns the first configured data port, or 0 if none.
func (c *Config) PrimaryDataPort() int {
	if len(c.DataPorts) == 0 {
		return 0
	}
	return c.DataPorts[0]
}

// IsReady reports whether the configuration has every key required for its
// InstrumentType (spec invariant ii).
func (c *Config) IsReady() bool {
	if c.ObservatoryCommandPort == 0 || len(c.DataPorts) == 0 || c.PrimaryDataPort() == 0 {
		return false
	}

	switch c.InstrumentType {
	case InstrumentSerial:
		return c.DevicePath != "" && c.Baud != 0
	case InstrumentTCP:
		return c.InstrumentAddr != "" && c.InstrumentDataPort != 0
	case InstrumentBOTPT:
		return c.InstrumentAddr != "" && c.InstrumentDataTxPort != 0 && c.InstrumentDataRxPort != 0
	case InstrumentRSN:
		return c.InstrumentAddr != "" && c.InstrumentDataPort != 0 && c.InstrumentCommandPort != 0
	default:
		return false
	}
}

// PidFile, LogFile, ConfFile, and DataFile implement the identity-naming
// invariant: <base>_<observatory_command_port>.<ext>, keyed on the
// command-port identity (testable property 5).
func (c *Config) PidFile() string {
	return filepath.Join(c.PidDir, fmt.Sprintf("%s_%d.pid", Base, c.ObservatoryCommandPort))
}

func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, fmt.Sprintf("%s_%d.log", Base, c.ObservatoryCommandPort))
}

func (c *Config) ConfFile() string {
	return filepath.Join(c.ConfDir, fmt.Sprintf("%s_%d.conf", Base, c.ObservatoryCommandPort))
}

func (c *Config) DataFile() string {
	return filepath.Join(c.LogDir, fmt.Sprintf("%s_%d", Base, c.ObservatoryCommandPort))
}

// Clone returns a deep-enough copy for use as a read-only per-tick
// snapshot (design note: "other components receive a read-only snapshot
// each tick, eliminating torn reads").
func (c *Config) Clone() *Config {
	cp := *c
	cp.DataPorts = append([]int(nil), c.DataPorts...)
	cp.SentinelSequence = append([]byte(nil), c.SentinelSequence...)
	return &cp
}
