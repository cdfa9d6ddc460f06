// Package engine implements the single-threaded cooperative tick loop that
// drives every other component: the port-agent process state machine,
// command-queue application, instrument/observatory I/O, sentinel
// buffering, heartbeat/throttle timers, and health/metrics publication.
package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"portagent/config"
	"portagent/heartbeat"
	"portagent/instrument"
	"portagent/logging"
	"portagent/metrics"
	"portagent/observatory"
	"portagent/packet"
	"portagent/publish"
	"portagent/sentinel"
	"portagent/tcplisten"
)

// State is the engine's ProcessState.
type State int

const (
	Startup State = iota
	Unconfigured
	Configured
	Disconnected
	Connected
	Shutdown
)

func (s State) String() string {
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

// Engine owns every mutable component and drives them from one tick loop.
// No component outside Engine ever mutates cfg or queue.
type Engine struct {
	cfg   *config.Config
	queue *config.Queue

	conn *instrument.Connection
	obs  *observatory.Connection
	pub  *publish.Set
	buf  *sentinel.Buffer

	hb       *heartbeat.Ticker
	throttle *heartbeat.Throttle

	// dataSinks holds one observatory-data sink per live observatory data
	// port (4.F/4.G: one sink per port in multi mode, each with its own
	// drop counter), keyed by port and kept in sync with e.obs's listener
	// set by reconcileDataSinks.
	dataSinks map[int]publish.Sink
	// pendingObsData holds framed data_from_instrument packets awaiting a
	// throttle window, in delivery order; the throttle delays, it never
	// drops (4.I).
	pendingObsData [][]byte

	snifferListener *tcplisten.Listener
	snifferPort     int

	logger *logging.Logger
	bus    *metrics.Bus
	coll   *metrics.Collector

	state State
	ppid  int

	// instrumentReconnects is the lifetime reconnect-attempt count exposed
	// in HealthSnapshot; instrument.Connection.Reconnects() resets to zero
	// on every successful connect, so lastReconnectFailures tracks the
	// last-seen value and only the positive delta each tick is added here.
	instrumentReconnects int64
	lastReconnectFailures int
	faultCount            int64

	getppid func() int
}

// New constructs an engine in the startup state.
func New(cfg *config.Config, logger *logging.Logger, bus *metrics.Bus, coll *metrics.Collector) *Engine {
	return &Engine{
		cfg:     cfg,
		queue:   config.NewQueue(),
		obs:     observatory.New(),
		pub:     publish.NewSet(),
		logger:  logger,
		bus:     bus,
		coll:    coll,
		state:   Startup,
		getppid: os.Getppid,
	}
}

// State returns the current ProcessState.
func (e *Engine) State() State { return e.state }

// Queue exposes the command queue so the observatory-command reader and
// the CLI's signal handler can enqueue tags.
func (e *Engine) Queue() *config.Queue { return e.queue }

// Config returns the live configuration record. Only the engine's own
// command-drain step mutates it.
func (e *Engine) Config() *config.Config { return e.cfg }

// SetPPID arms the poison-pill check (-y/--ppid).
func (e *Engine) SetPPID(ppid int) { e.ppid = ppid }

// EnterUnconfigured performs the startup→unconfigured transition once
// argv has been parsed and required directories exist.
func (e *Engine) EnterUnconfigured() {
	e.state = Unconfigured
}

// tryConfigure performs the unconfigured→configured transition once
// cfg.IsReady().
func (e *Engine) tryConfigure() {
	if e.state != Unconfigured {
		return
	}
	if !e.cfg.IsReady() {
		return
	}

	e.conn = instrument.New(e.cfg.InstrumentType)
	e.conn.Configure(e.cfg)
	e.buf = sentinel.New(e.cfg.MaxPacketSize, e.cfg.SentinelSequence)
	e.hb = heartbeat.NewTicker(e.cfg.HeartbeatInterval)
	e.throttle = heartbeat.NewThrottle(e.cfg.OutputThrottle)

	e.pub = publish.NewSet()
	e.dataSinks = make(map[int]publish.Sink)
	if e.cfg.LogDir != "" {
		e.pub.Add(publish.NewDataLogSink(e.cfg.DataFile()))
	}

	e.state = Configured
}

// tryInitialize performs the configured→disconnected transition once both
// adapters have been initialized.
func (e *Engine) tryInitialize() {
	if e.state != Configured {
		return
	}

	if err := e.obs.ConfigureCommand(e.cfg.ObservatoryCommandPort); err != nil {
		e.logger.Warn("observatory command listener failed to start", "error", err)
		return
	}
	if err := e.obs.SetDataPorts(e.cfg.DataPorts); err != nil {
		e.logger.Warn("observatory data listener failed to start", "error", err)
		return
	}
	e.reconcileDataSinks()
	if cmdSink := e.obs.CommandListener(); cmdSink != nil {
		e.pub.Add(publish.NewObservatoryCommandSink(cmdSink))
	}
	e.reconcileSniffer()

	if err := e.conn.InitializeData(); err != nil {
		e.logger.Warn("instrument data initialization failed", "error", err)
	}
	if e.conn.CommandConfigured() {
		if err := e.conn.InitializeCommand(); err != nil {
			e.logger.Warn("instrument command initialization failed", "error", err)
		}
	}

	e.state = Disconnected
}

// Tick runs one iteration of the cooperative event loop's 8 steps.
func (e *Engine) Tick(now time.Time) {
	if e.state == Shutdown {
		return
	}

	// (1) poll sockets — driven implicitly by each ReadNonblocking call
	// below; instrument reconnect timers advance here too.
	if e.conn != nil {
		e.conn.Tick()
	}

	// Drain any observatory-data writes the throttle deferred on a prior
	// tick before processing anything new, preserving FIFO order.
	e.flushPendingObsData(now)

	// (2) drain observatory-command bytes: fed to the textual parser, and
	// (for RSN) also proxied verbatim to the instrument-side command
	// channel.
	var cmdBuf [4096]byte
	if e.obs.CommandListener() != nil {
		for {
			n, err := e.obs.ReadCommand(cmdBuf[:])
			if err != nil || n == 0 {
				break
			}
			e.feedCommandBytes(cmdBuf[:n])
			if e.conn != nil && e.conn.CommandConfigured() && e.conn.CommandConnected() {
				e.conn.WriteCommand(cmdBuf[:n])
			}
		}
	}

	// (3) drain command queue.
	e.drainCommandQueue()

	// (4) drain instrument RX → sentinel → encode → publish.
	if e.conn != nil && e.conn.DataConnected() && e.buf != nil {
		var dataBuf [4096]byte
		for {
			n, err := e.conn.ReadData(dataBuf[:])
			if err != nil || n == 0 {
				break
			}
			for _, payload := range e.buf.Append(now, dataBuf[:n]) {
				e.emitData(payload, now)
			}
		}
	}

	// (5) drain instrument-side command responses back to the observatory
	// command client, when the instrument variant has a command channel
	// (RSN).
	if e.conn != nil && e.conn.CommandConfigured() && e.conn.CommandConnected() {
		var proxyBuf [4096]byte
		for {
			n, err := e.conn.ReadCommand(proxyBuf[:])
			if err != nil || n == 0 {
				break
			}
			e.obs.WriteCommand(proxyBuf[:n])
		}
	}

	// (6) fire timers.
	if e.hb != nil && e.hb.Due(now) {
		e.emitHeartbeat(now)
	}
	if e.buf != nil {
		if tail := e.buf.FlushTick(now); tail != nil {
			e.emitData(tail, now)
		}
	}

	// (7) poison pill: the queued shutdown is applied within this tick.
	if e.ppid != 0 && e.getppid() != e.ppid {
		e.queue.Enqueue(config.CmdShutdown)
		e.drainCommandQueue()
	}

	// (8) publish health snapshot + debug log line.
	e.publishHealth(now)

	e.advanceConnectionState()
}

func (e *Engine) advanceConnectionState() {
	if e.conn != nil {
		if f := e.conn.Reconnects(); f > e.lastReconnectFailures {
			e.instrumentReconnects += int64(f - e.lastReconnectFailures)
		}
		e.lastReconnectFailures = e.conn.Reconnects()
	}

	switch e.state {
	case Unconfigured:
		e.tryConfigure()
	case Configured:
		e.tryInitialize()
	case Disconnected:
		if e.obs.CommandListener() != nil {
			hasClient := false
			for _, l := range e.obs.DataListeners() {
				if l.Connected() {
					hasClient = true
				}
			}
			if hasClient {
				e.state = Connected
			}
		}
	case Connected:
		hasClient := false
		for _, l := range e.obs.DataListeners() {
			if l.Connected() {
				hasClient = true
			}
		}
		if !hasClient {
			e.state = Disconnected
		}
	}
}

func (e *Engine) feedCommandBytes(b []byte) {
	for _, line := range splitLines(b) {
		if err := e.applyLine(line); err != nil {
			e.logger.Info("command parse error", "error", err)
			e.pub.Publish(packet.Fault, mustFrame(packet.Fault, []byte(err.Error())))
		}
	}
}

func (e *Engine) applyLine(line string) error {
	if line == "verbose" {
		e.logger.RaiseToDebug()
		return nil
	}
	if err := config.ParseLine(e.cfg, e.queue, line); err != nil {
		return err
	}
	if fields := strings.Fields(line); len(fields) > 0 && fields[0] == "log_level" {
		e.logger.SetLevel(e.cfg.LogLevel)
	}
	return nil
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, string(b[start:]))
	}
	return lines
}

// drainCommandQueue applies every queued tag, in insertion order, then
// clears the reinit dirty flags the parser set.
func (e *Engine) drainCommandQueue() {
	for _, tag := range e.queue.Drain() {
		switch tag {
		case config.CmdShutdown:
			e.doShutdown()
			return
		case config.CmdSaveConfig:
			if err := config.SaveConfig(e.cfg); err != nil {
				e.logger.Warn("save_config failed", "error", err)
			}
		case config.CmdGetConfig:
			e.pub.Publish(packet.PAConfig, mustFrame(packet.PAConfig, []byte(config.GetConfigText(e.cfg))))
		case config.CmdGetState:
			e.pub.Publish(packet.Status, mustFrame(packet.Status, []byte(e.state.String())))
		case config.CmdPing:
			e.pub.Publish(packet.Status, mustFrame(packet.Status, []byte("pong")))
		case config.CmdBreak:
			if e.conn != nil {
				if err := e.conn.SendBreak(e.cfg.BreakDuration); err != nil {
					e.pub.Publish(packet.Fault, mustFrame(packet.Fault, []byte(err.Error())))
				}
			}
		case config.CmdCommConfigUpdate:
			e.applyCommConfigUpdate()
		case config.CmdPublisherConfigUpdate:
			e.applyPublisherConfigUpdate()
		case config.CmdPathConfigUpdate:
			// Directory changes take effect for the next log/data-log
			// rotation and the next save_config; nothing to reinit now.
		case config.CmdRotationInterval:
			e.applyRotationInterval()
		case config.CmdHelp:
			e.pub.Publish(packet.Status, mustFrame(packet.Status, []byte(config.Usage())))
		}
	}
}

func mustFrame(t packet.Type, payload []byte) []byte {
	out, err := packet.Encode(t, payload, time.Now())
	if err != nil {
		return nil
	}
	return out
}

func (e *Engine) applyCommConfigUpdate() {
	if e.conn == nil {
		e.tryConfigure()
		return
	}

	deviceChanged := e.cfg.DevicePathChanged
	serialChanged := e.cfg.SerialSettingsChanged
	e.cfg.DevicePathChanged = false
	e.cfg.SerialSettingsChanged = false

	e.conn.Configure(e.cfg)

	if deviceChanged {
		e.conn.Close()
		e.conn.InitializeData()
	} else if serialChanged {
		e.conn.InitializeData()
	}

	if err := e.obs.SetDataPorts(e.cfg.DataPorts); err != nil {
		e.logger.Warn("failed to reconcile data listeners", "error", err)
	}
	e.reconcileDataSinks()
}

func (e *Engine) applyPublisherConfigUpdate() {
	if e.buf != nil {
		e.buf.SetCapacity(e.cfg.MaxPacketSize)
		e.buf.SetSentinel(e.cfg.SentinelSequence)
	}
	if e.throttle != nil {
		e.throttle.SetInterval(e.cfg.OutputThrottle)
	}
	e.reconcileSniffer()
}

// reconcileSniffer starts, restarts, reconfigures, or tears down the
// telnet sniffer (4.G.4) to match cfg.TelnetSnifferPort/Prefix/Suffix. A
// port of 0 disables the sniffer entirely.
func (e *Engine) reconcileSniffer() {
	port := e.cfg.TelnetSnifferPort

	if port == 0 {
		if e.snifferListener != nil {
			e.snifferListener.Stop()
			e.snifferListener = nil
			e.snifferPort = 0
			e.pub.SetSniffer(nil)
		}
		return
	}

	if e.snifferListener != nil && e.snifferPort == port {
		if sink, ok := e.pub.Sniffer().(interface{ SetPrefixSuffix(string, string) }); ok {
			sink.SetPrefixSuffix(e.cfg.TelnetSnifferPrefix, e.cfg.TelnetSnifferSuffix)
		}
		return
	}

	if e.snifferListener != nil {
		e.snifferListener.Stop()
	}

	l := tcplisten.New(fmt.Sprintf(":%d", port))
	if err := l.Start(); err != nil {
		e.logger.Warn("telnet sniffer listener failed to start", "error", err)
		e.snifferListener = nil
		e.snifferPort = 0
		e.pub.SetSniffer(nil)
		return
	}
	e.snifferListener = l
	e.snifferPort = port
	e.pub.SetSniffer(publish.NewTelnetSnifferSink(l, e.cfg.TelnetSnifferPrefix, e.cfg.TelnetSnifferSuffix))
}

// reconcileDataSinks diffs the live observatory data listeners against the
// currently installed per-port sinks (4.F: one observatory sink per port in
// multi mode) and adds/removes sinks to match, called after every
// obs.SetDataPorts call.
func (e *Engine) reconcileDataSinks() {
	live := e.obs.DataListeners()

	for port, sink := range e.dataSinks {
		if _, ok := live[port]; !ok {
			e.pub.Remove(sink)
			delete(e.dataSinks, port)
		}
	}
	for port, l := range live {
		if _, ok := e.dataSinks[port]; ok {
			continue
		}
		sink := publish.NewObservatoryDataSink(port, l)
		e.pub.AddThrottled(sink)
		e.dataSinks[port] = sink
	}
}

func (e *Engine) applyRotationInterval() {
	days := 1
	switch e.cfg.RotationInterval {
	case "daily":
		days = 1
	case "hourly", "quarter_hourly", "minute":
		days = 1
	}
	for _, sink := range e.pub.Sinks() {
		if dl, ok := sink.(interface{ SetMaxAgeDays(int) }); ok {
			dl.SetMaxAgeDays(days)
		}
	}
}

// emitData encodes and delivers one instrument-data payload. The data-log
// and raw telnet-sniffer sinks are never throttle-gated (4.G.3/4.I); only
// the observatory-data write is paced against the output throttle, and a
// write the throttle isn't ready for is queued rather than dropped.
func (e *Engine) emitData(payload []byte, now time.Time) {
	framed, err := packet.Encode(packet.DataFromInstrument, payload, now)
	if err != nil {
		e.faultCount++
		return
	}
	e.pub.PublishUnthrottled(packet.DataFromInstrument, framed)
	e.pub.PublishRaw(payload)

	if len(e.dataSinks) > 0 {
		e.pendingObsData = append(e.pendingObsData, framed)
	}
	e.flushPendingObsData(now)
}

// flushPendingObsData delivers queued observatory-data packets, one per
// port sink, in FIFO order, delaying rather than dropping when the
// throttle isn't ready (4.I). With no throttle configured the queue drains
// immediately.
func (e *Engine) flushPendingObsData(now time.Time) {
	if len(e.dataSinks) == 0 || len(e.pendingObsData) == 0 {
		return
	}
	if e.throttle == nil {
		for _, framed := range e.pendingObsData {
			e.pub.PublishThrottled(packet.DataFromInstrument, framed)
		}
		e.pendingObsData = nil
		return
	}
	for len(e.pendingObsData) > 0 && e.throttle.Ready(now) {
		next := e.pendingObsData[0]
		e.pendingObsData = e.pendingObsData[1:]
		e.pub.PublishThrottled(packet.DataFromInstrument, next)
		e.throttle.MarkSent(now)
	}
}

func (e *Engine) emitHeartbeat(now time.Time) {
	framed, err := packet.Encode(packet.Heartbeat, nil, now)
	if err != nil {
		return
	}
	e.pub.Publish(packet.Heartbeat, framed)
	e.bus.Publish(metrics.Event{Kind: metrics.EventStateChanged, Time: now, Message: "heartbeat"})
}

func (e *Engine) publishHealth(now time.Time) {
	dataConnected := e.conn != nil && e.conn.DataConnected()
	commandConnected := e.conn != nil && e.conn.CommandConnected()

	occupancy := 0
	if e.buf != nil {
		occupancy = e.buf.Occupancy()
	}
	fires := int64(0)
	if e.hb != nil {
		fires = e.hb.Fires()
	}

	dropped := make(map[string]int64)
	for _, s := range e.pub.Sinks() {
		dropped[s.Name()] = s.Dropped()
	}

	clients := 0
	for _, l := range e.obs.DataListeners() {
		if l.Connected() {
			clients++
		}
	}

	snap := metrics.HealthSnapshot{
		Time:                 now,
		State:                metrics.ProcessState(e.state),
		StateName:            e.state.String(),
		DataConnected:        dataConnected,
		CommandConnected:     commandConnected,
		ObservatoryClients:   clients,
		SentinelBufferBytes:  occupancy,
		HeartbeatsSent:       fires,
		CommandQueueDepth:    e.queue.Len(),
		InstrumentReconnects: e.instrumentReconnects,
		SinkDropped:          dropped,
	}
	e.coll.Update(snap)
	e.logger.Debug("tick", "state", e.state.String(), "data_connected", dataConnected, "queue_depth", e.queue.Len())
}

func (e *Engine) doShutdown() {
	e.state = Shutdown
	if e.conn != nil {
		e.conn.Close()
	}
	e.obs.Close()
	if e.snifferListener != nil {
		e.snifferListener.Stop()
		e.snifferListener = nil
	}
	e.bus.Publish(metrics.Event{Kind: metrics.EventStateChanged, Time: time.Now(), Message: "shutdown"})
}

// Shutdown requests a cooperative shutdown, applied on the next Tick's
// command-drain step (so the current tick, if any, completes normally).
func (e *Engine) Shutdown() {
	e.queue.Enqueue(config.CmdShutdown)
}

// ExitCode maps the terminal state to a process exit code per the CLI
// contract; 0 for a clean shutdown, non-zero otherwise.
func (e *Engine) ExitCode() int {
	if e.state == Shutdown {
		return 0
	}
	return 1
}
