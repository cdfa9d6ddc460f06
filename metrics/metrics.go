// Package metrics implements the ambient Prometheus/health HTTP surface
// and an in-process event bus that subscribers can attach to; the engine
// publishes heartbeat and shutdown events on it, and nothing in this module
// subscribes. Grounded on the teacher lineage's NATS connection exporter:
// a prometheus.Collector gathering a point-in-time snapshot on each scrape,
// served alongside promhttp, retargeted from NATS connections onto engine
// health.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ProcessState mirrors the engine's state machine values for gauge export.
type ProcessState int

const (
	Startup ProcessState = iota
	Unconfigured
	Configured
	Disconnected
	Connected
	Shutdown
)

func (s ProcessState) String() string {
	switch s {
	case Startup:
		return "startup"
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// HealthSnapshot is a point-in-time read-only view of engine state,
// published once per tick and read by the metrics/health HTTP surface.
type HealthSnapshot struct {
	Time                time.Time      `json:"time"`
	State               ProcessState   `json:"state"`
	StateName           string         `json:"state_name"`
	DataConnected       bool           `json:"data_connected"`
	CommandConnected    bool           `json:"command_connected"`
	ObservatoryClients  int            `json:"observatory_clients"`
	SentinelBufferBytes int            `json:"sentinel_buffer_bytes"`
	HeartbeatsSent      int64          `json:"heartbeats_sent"`
	CommandQueueDepth   int            `json:"command_queue_depth"`
	InstrumentReconnects int64         `json:"instrument_reconnects"`
	SinkDropped         map[string]int64 `json:"sink_dropped"`
}

// EventKind labels an event published on the internal bus.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventFault
	EventReconnect
)

// Event is one item on the internal event bus.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Message string
}

// Bus is a small buffered fan-out of Events. Publish never blocks: a full
// bus drops the event rather than stall the tick loop.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel that receives every subsequently published
// event, buffered so a slow subscriber cannot block Publish.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish fans e out to every subscriber, dropping it for any subscriber
// whose buffer is full.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Collector implements prometheus.Collector over the most recent
// HealthSnapshot handed to it by the engine tick, under a mutex, exactly
// once per tick.
type Collector struct {
	mu       sync.Mutex
	snapshot HealthSnapshot

	processState        *prometheus.Desc
	instrumentConnected *prometheus.Desc
	instrumentReconnects *prometheus.Desc
	publisherDropped    *prometheus.Desc
	sentinelBufferBytes *prometheus.Desc
	heartbeatsTotal     *prometheus.Desc
	commandQueueDepth   *prometheus.Desc
}

// NewCollector constructs a Collector with no snapshot yet applied.
func NewCollector() *Collector {
	return &Collector{
		processState: prometheus.NewDesc(
			"portagent_process_state", "Current engine ProcessState as an enum value.", nil, nil),
		instrumentConnected: prometheus.NewDesc(
			"portagent_instrument_connected", "1 if the instrument data channel is connected.", nil, nil),
		instrumentReconnects: prometheus.NewDesc(
			"portagent_instrument_reconnects_total", "Cumulative instrument reconnect attempts.", nil, nil),
		publisherDropped: prometheus.NewDesc(
			"portagent_publisher_dropped_total", "Cumulative packets dropped per publisher sink.", []string{"sink"}, nil),
		sentinelBufferBytes: prometheus.NewDesc(
			"portagent_sentinel_buffer_bytes", "Bytes currently buffered awaiting a sentinel flush.", nil, nil),
		heartbeatsTotal: prometheus.NewDesc(
			"portagent_heartbeats_total", "Cumulative heartbeat packets emitted.", nil, nil),
		commandQueueDepth: prometheus.NewDesc(
			"portagent_command_queue_depth", "Current depth of the command queue.", nil, nil),
	}
}

// Update installs the latest HealthSnapshot, called once per engine tick.
func (c *Collector) Update(snap HealthSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = snap
}

// Snapshot returns the most recently installed HealthSnapshot, for the
// /healthz handler.
func (c *Collector) Snapshot() HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.processState
	ch <- c.instrumentConnected
	ch <- c.instrumentReconnects
	ch <- c.publisherDropped
	ch <- c.sentinelBufferBytes
	ch <- c.heartbeatsTotal
	ch <- c.commandQueueDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.processState, prometheus.GaugeValue, float64(snap.State))

	connected := 0.0
	if snap.DataConnected {
		connected = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.instrumentConnected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(c.instrumentReconnects, prometheus.CounterValue, float64(snap.InstrumentReconnects))
	ch <- prometheus.MustNewConstMetric(c.sentinelBufferBytes, prometheus.GaugeValue, float64(snap.SentinelBufferBytes))
	ch <- prometheus.MustNewConstMetric(c.heartbeatsTotal, prometheus.CounterValue, float64(snap.HeartbeatsSent))
	ch <- prometheus.MustNewConstMetric(c.commandQueueDepth, prometheus.GaugeValue, float64(snap.CommandQueueDepth))

	for sink, dropped := range snap.SinkDropped {
		ch <- prometheus.MustNewConstMetric(c.publisherDropped, prometheus.CounterValue, float64(dropped), sink)
	}
}

// Server serves /metrics (Prometheus exposition) and /healthz (JSON
// HealthSnapshot) on addr, only ever reading the Collector's snapshot —
// it never touches engine-owned state directly.
type Server struct {
	addr      string
	collector *Collector
	srv       *http.Server
}

// NewServer constructs an unstarted metrics/health server. addr is empty
// if metrics_port is 0, in which case Start is a no-op.
func NewServer(addr string, collector *Collector) *Server {
	return &Server{addr: addr, collector: collector}
}

// Start binds and begins serving in the background. It is a no-op if addr
// is empty (metrics_port == 0), matching "disabling it changes nothing
// else about engine behavior".
func (s *Server) Start() error {
	if s.addr == "" {
		return nil
	}

	prometheus.MustRegister(s.collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.collector.Snapshot())
	})

	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	go s.srv.ListenAndServe()
	return nil
}

// Stop shuts the HTTP server down, if it was started.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}
