// Package publish implements the ordered fan-out of framed packets to the
// observatory data/command clients, the rotating data log, and the telnet
// sniffer, with best-effort delivery and per-sink drop counting.
package publish

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"portagent/packet"
	"portagent/tcplisten"
)

// Sink is one fan-out destination.
type Sink interface {
	// Accepts reports whether this sink wants packets of type t.
	Accepts(t packet.Type) bool
	// Publish delivers the already-framed packet. A returned error means
	// the packet was dropped and already counted in Dropped; the next
	// packet is attempted as usual. It never blocks the caller beyond the
	// sink's own I/O.
	Publish(framed []byte) error
	// Dropped returns the cumulative count of packets this sink failed to
	// deliver.
	Dropped() int64
	// Name identifies the sink for logging/metrics labeling.
	Name() string
}

// observatoryDataSink fans framed data/status/fault/heartbeat/pa_config
// packets out to a single attached observatory data listener. Multi-port
// configurations get one instance per port (see engine.reconcileDataSinks),
// each tracking its own drop count off that port's listener.
type observatoryDataSink struct {
	port     int
	listener *tcplisten.Listener
	dropped  atomic.Int64
}

// NewObservatoryDataSink builds the per-port observatory data sink for l,
// listening on port.
func NewObservatoryDataSink(port int, l *tcplisten.Listener) Sink {
	return &observatoryDataSink{port: port, listener: l}
}

func (s *observatoryDataSink) Accepts(t packet.Type) bool {
	switch t {
	case packet.DataFromInstrument, packet.Status, packet.Fault, packet.Heartbeat, packet.PAConfig:
		return true
	default:
		return false
	}
}

func (s *observatoryDataSink) Publish(framed []byte) error {
	if _, err := s.listener.Write(framed); err != nil {
		s.dropped.Add(1)
		return err
	}
	return nil
}

func (s *observatoryDataSink) Dropped() int64 { return s.dropped.Load() }
func (s *observatoryDataSink) Name() string   { return fmt.Sprintf("observatory_data_%d", s.port) }

// observatoryCommandSink writes status/fault/pa_config and command
// responses to the attached command client.
type observatoryCommandSink struct {
	listener *tcplisten.Listener
	dropped  atomic.Int64
}

func NewObservatoryCommandSink(l *tcplisten.Listener) Sink {
	return &observatoryCommandSink{listener: l}
}

func (s *observatoryCommandSink) Accepts(t packet.Type) bool {
	switch t {
	case packet.Status, packet.Fault, packet.PAConfig, packet.InstrumentCmd:
		return true
	default:
		return false
	}
}

func (s *observatoryCommandSink) Publish(framed []byte) error {
	if _, err := s.listener.Write(framed); err != nil {
		s.dropped.Add(1)
		return err
	}
	return nil
}

func (s *observatoryCommandSink) Dropped() int64 { return s.dropped.Load() }
func (s *observatoryCommandSink) Name() string   { return "observatory_command" }

// dataLogSink appends data_from_instrument packets to a rotating file.
type dataLogSink struct {
	mu      sync.Mutex
	logger  *lumberjack.Logger
	dropped atomic.Int64
}

// NewDataLogSink opens (creating if needed) a rotating log at path, with
// rotation cadence approximated by lumberjack's size/age controls — the
// engine translates rotation_interval into MaxAge on reconfiguration.
func NewDataLogSink(path string) Sink {
	return &dataLogSink{
		logger: &lumberjack.Logger{
			Filename: path,
			MaxSize:  100, // megabytes
			Compress: false,
		},
	}
}

func (s *dataLogSink) Accepts(t packet.Type) bool {
	return t == packet.DataFromInstrument
}

func (s *dataLogSink) Publish(framed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.logger.Write(framed); err != nil {
		s.dropped.Add(1)
		return fmt.Errorf("publish: data-log write failed: %w", err)
	}
	return nil
}

// SetMaxAgeDays reconfigures rotation cadence, translated by the engine
// from the textual rotation_interval verb.
func (s *dataLogSink) SetMaxAgeDays(days int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.MaxAge = days
}

func (s *dataLogSink) Dropped() int64 { return s.dropped.Load() }
func (s *dataLogSink) Name() string   { return "data_log" }

// telnetSnifferSink forwards raw (unframed) instrument bytes to a single
// telnet client, wrapped in a configured prefix/suffix.
type telnetSnifferSink struct {
	listener *tcplisten.Listener
	prefix   string
	suffix   string
	dropped  atomic.Int64
}

func NewTelnetSnifferSink(l *tcplisten.Listener, prefix, suffix string) Sink {
	return &telnetSnifferSink{listener: l, prefix: prefix, suffix: suffix}
}

// Accepts is unused by the sniffer, which receives raw bytes via
// PublishRaw rather than framed packets; it never matches the framed
// fan-out loop.
func (s *telnetSnifferSink) Accepts(packet.Type) bool { return false }

func (s *telnetSnifferSink) Publish(framed []byte) error {
	return nil
}

// PublishRaw wraps chunk in the configured prefix/suffix and writes it to
// the attached telnet client, if any.
func (s *telnetSnifferSink) PublishRaw(chunk []byte) error {
	out := make([]byte, 0, len(s.prefix)+len(chunk)+len(s.suffix))
	out = append(out, s.prefix...)
	out = append(out, chunk...)
	out = append(out, s.suffix...)
	if _, err := s.listener.Write(out); err != nil {
		s.dropped.Add(1)
		return err
	}
	return nil
}

func (s *telnetSnifferSink) Dropped() int64 { return s.dropped.Load() }
func (s *telnetSnifferSink) Name() string   { return "telnet_sniffer" }

// SetPrefixSuffix reconfigures the wrapping applied to each forwarded
// chunk, for telnet_sniffer_prefix/telnet_sniffer_suffix updates without
// tearing down the listener. Only ever called from the engine's single
// tick goroutine, same as PublishRaw, so it needs no lock of its own.
func (s *telnetSnifferSink) SetPrefixSuffix(prefix, suffix string) {
	s.prefix = prefix
	s.suffix = suffix
}

// sinkEntry tags a fan-out sink with whether it is subject to the output
// throttle (4.I: only the observatory data sinks pace against it; the
// data log and command sinks always publish immediately).
type sinkEntry struct {
	sink      Sink
	throttled bool
}

// Set is the ordered collection of active sinks.
type Set struct {
	entries []sinkEntry
	sniffer Sink
}

// NewSet constructs an empty publisher set.
func NewSet() *Set {
	return &Set{}
}

// Add appends an unthrottled framed sink to the fan-out order.
func (s *Set) Add(sink Sink) {
	s.entries = append(s.entries, sinkEntry{sink: sink})
}

// AddThrottled appends a sink that PublishUnthrottled skips, used for the
// per-port observatory data sinks: they receive data_from_instrument via
// PublishThrottled and their other accepted types via Publish.
func (s *Set) AddThrottled(sink Sink) {
	s.entries = append(s.entries, sinkEntry{sink: sink, throttled: true})
}

// Remove drops sink from the fan-out order, used to tear down a per-port
// observatory data sink when its port is reconfigured away.
func (s *Set) Remove(sink Sink) {
	for i, e := range s.entries {
		if e.sink == sink {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// SetSniffer installs (or, passed nil, removes) the telnet sniffer sink.
// The sniffer never participates in the framed Publish fan-out; it is
// reached only through PublishRaw.
func (s *Set) SetSniffer(sink Sink) {
	s.sniffer = sink
}

// Sniffer returns the currently installed sniffer sink, or nil.
func (s *Set) Sniffer() Sink {
	return s.sniffer
}

// Publish fans framed out to every sink whose filter accepts t, throttled
// and unthrottled alike. Delivery is best-effort: a sink error is recorded
// on that sink's own drop counter and does not affect delivery to the
// remaining sinks.
func (s *Set) Publish(t packet.Type, framed []byte) {
	for _, e := range s.entries {
		if !e.sink.Accepts(t) {
			continue
		}
		e.sink.Publish(framed)
	}
}

// PublishUnthrottled fans framed out to every non-throttled sink accepting
// t (data log, observatory command, raw sniffer's framed types if any),
// bypassing the output throttle entirely.
func (s *Set) PublishUnthrottled(t packet.Type, framed []byte) {
	for _, e := range s.entries {
		if e.throttled || !e.sink.Accepts(t) {
			continue
		}
		e.sink.Publish(framed)
	}
}

// PublishThrottled fans framed out to every throttled sink accepting t —
// the per-port observatory data sinks — which the caller paces against the
// output throttle separately from the unthrottled sinks.
func (s *Set) PublishThrottled(t packet.Type, framed []byte) {
	for _, e := range s.entries {
		if !e.throttled || !e.sink.Accepts(t) {
			continue
		}
		e.sink.Publish(framed)
	}
}

// PublishRaw forwards chunk to the telnet sniffer sink, if configured. Raw
// forwarding is never throttle-gated (4.G.4).
func (s *Set) PublishRaw(chunk []byte) {
	if raw, ok := s.sniffer.(interface{ PublishRaw([]byte) error }); ok {
		raw.PublishRaw(chunk)
	}
}

// Sinks returns every active sink, including the sniffer if configured, for
// metrics enumeration and rotation reconfiguration.
func (s *Set) Sinks() []Sink {
	out := make([]Sink, 0, len(s.entries)+1)
	for _, e := range s.entries {
		out = append(out, e.sink)
	}
	if s.sniffer != nil {
		out = append(out, s.sniffer)
	}
	return out
}
