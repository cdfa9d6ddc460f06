package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed command-stream or conf-file line. It is
// reported on the command channel without killing the engine (spec 7).
type ParseError struct {
	Line string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error on %q: %s", e.Line, e.Msg)
}

func parseErr(line, msg string) error {
	return &ParseError{Line: line, Msg: msg}
}

// ParseLine applies one line of the textual command grammar to cfg,
// enqueueing the appropriate command tag on queue. It is used for both the
// live command channel and, line by line, for conf-file ingestion.
func ParseLine(cfg *Config, queue *Queue, raw string) error {
	line := strings.TrimRight(raw, "\r\n")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	verb, rest := splitVerb(trimmed)

	// sentinel/sentinle takes the whole raw line, quote-delimited, so it
	// bypasses the generic single-arg tokenizer below.
	if verb == "sentinle" || verb == "sentinel" {
		seq, err := parseQuotedEscaped(trimmed)
		if err != nil {
			return err
		}
		cfg.SentinelSequence = seq
		queue.Enqueue(CmdPublisherConfigUpdate)
		return nil
	}

	args := strings.Fields(rest)
	if len(args) > 1 {
		return parseErr(line, "too many arguments")
	}
	var arg string
	if len(args) == 1 {
		arg = args[0]
	}

	switch verb {
	case "help":
		queue.Enqueue(CmdHelp)
	case "get_config":
		queue.Enqueue(CmdGetConfig)
	case "get_state":
		queue.Enqueue(CmdGetState)
	case "ping":
		queue.Enqueue(CmdPing)
	case "save_config":
		queue.Enqueue(CmdSaveConfig)
	case "shutdown":
		queue.Enqueue(CmdShutdown)

	case "verbose":
		// Raising the log level is handled by the caller (engine.applyLine
		// intercepts this verb); nothing to enqueue.

	case "break":
		ms, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.BreakDuration = ms
		queue.Enqueue(CmdBreak)

	case "instrument_type":
		switch InstrumentType(arg) {
		case InstrumentSerial, InstrumentTCP, InstrumentBOTPT, InstrumentRSN:
			cfg.InstrumentType = InstrumentType(arg)
		default:
			return parseErr(line, "unrecognized instrument_type "+arg)
		}
		queue.Enqueue(CmdCommConfigUpdate)

	case "observatory_type":
		switch ObservatoryType(arg) {
		case ObservatoryStandard, ObservatoryMulti:
			cfg.ObservatoryType = ObservatoryType(arg)
		default:
			return parseErr(line, "unrecognized observatory_type "+arg)
		}

	case "output_throttle":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.OutputThrottle = v
		queue.Enqueue(CmdPublisherConfigUpdate)

	case "max_packet_size":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		if v <= 0 || v > 65472 {
			return parseErr(line, "max_packet_size out of range")
		}
		cfg.MaxPacketSize = v
		queue.Enqueue(CmdCommConfigUpdate)

	case "heartbeat_interval":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.HeartbeatInterval = v

	case "data_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.SetDataPort(v)
		queue.Enqueue(CmdCommConfigUpdate)

	case "add_data_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.AddDataPort(v)
		queue.Enqueue(CmdCommConfigUpdate)

	case "command_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.ObservatoryCommandPort = v
		queue.Enqueue(CmdCommConfigUpdate)

	case "instrument_addr":
		cfg.InstrumentAddr = arg
		queue.Enqueue(CmdCommConfigUpdate)

	case "instrument_data_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.InstrumentDataPort = v
		queue.Enqueue(CmdCommConfigUpdate)

	case "instrument_data_tx_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.InstrumentDataTxPort = v
		queue.Enqueue(CmdCommConfigUpdate)

	case "instrument_data_rx_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.InstrumentDataRxPort = v
		queue.Enqueue(CmdCommConfigUpdate)

	case "instrument_command_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.InstrumentCommandPort = v
		queue.Enqueue(CmdCommConfigUpdate)

	case "device_path":
		if arg == "" {
			return parseErr(line, "device_path requires an argument")
		}
		if cfg.DevicePath != arg {
			cfg.DevicePathChanged = true
		}
		cfg.DevicePath = arg
		queue.Enqueue(CmdCommConfigUpdate)

	case "baud", "stopbits", "databits", "parity", "flow":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		switch verb {
		case "baud":
			cfg.Baud = v
		case "stopbits":
			cfg.StopBits = v
		case "databits":
			cfg.DataBits = v
		case "parity":
			cfg.Parity = v
		case "flow":
			cfg.Flow = v
		}
		cfg.SerialSettingsChanged = true
		queue.Enqueue(CmdCommConfigUpdate)

	case "log_level":
		switch arg {
		case "error", "warn", "warning", "info", "debug":
			cfg.LogLevel = arg
		default:
			return parseErr(line, "unrecognized log_level "+arg)
		}

	case "log_dir", "pid_dir", "conf_dir", "data_dir":
		if arg == "" {
			return parseErr(line, verb+" requires an argument")
		}
		switch verb {
		case "log_dir":
			cfg.LogDir = arg
		case "pid_dir":
			cfg.PidDir = arg
		case "conf_dir":
			cfg.ConfDir = arg
		case "data_dir":
			cfg.DataDir = arg
		}
		queue.Enqueue(CmdPathConfigUpdate)

	case "rotation_interval":
		switch arg {
		case "daily", "hourly", "quarter_hourly", "minute":
			cfg.RotationInterval = arg
		default:
			return parseErr(line, "unrecognized rotation_interval "+arg)
		}
		queue.Enqueue(CmdRotationInterval)

	case "telnet_sniffer_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.TelnetSnifferPort = v
		queue.Enqueue(CmdPublisherConfigUpdate)

	case "telnet_sniffer_prefix":
		cfg.TelnetSnifferPrefix = arg
		queue.Enqueue(CmdPublisherConfigUpdate)

	case "telnet_sniffer_suffix":
		cfg.TelnetSnifferSuffix = arg
		queue.Enqueue(CmdPublisherConfigUpdate)

	case "metrics_port":
		v, err := requireInt(line, verb, arg)
		if err != nil {
			return err
		}
		cfg.MetricsPort = v
		queue.Enqueue(CmdCommConfigUpdate)

	default:
		return parseErr(line, "unrecognized verb "+verb)
	}

	return nil
}

func splitVerb(line string) (verb, rest string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

func requireInt(line, verb, arg string) (int, error) {
	if arg == "" {
		return 0, parseErr(line, verb+" requires an argument")
	}
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, parseErr(line, verb+" argument must be an integer")
	}
	return v, nil
}

// parseQuotedEscaped implements the sentinel parse rule: the entire raw
// line is reparsed, content between the first and second single-quote is
// the sequence, and within it \n and \r map to 0x0A/0x0D while any other
// backslash escape is preserved literally.
func parseQuotedEscaped(line string) ([]byte, error) {
	first := strings.IndexByte(line, '\'')
	if first < 0 {
		return nil, parseErr(line, "missing opening quote")
	}
	second := strings.IndexByte(line[first+1:], '\'')
	if second < 0 {
		return nil, parseErr(line, "missing closing quote")
	}
	inner := line[first+1 : first+1+second]

	out := make([]byte, 0, len(inner))
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			switch inner[i+1] {
			case 'n':
				out = append(out, 0x0A)
				i++
				continue
			case 'r':
				out = append(out, 0x0D)
				i++
				continue
			default:
				out = append(out, '\\', inner[i+1])
				i++
				continue
			}
		}
		out = append(out, inner[i])
	}
	return out, nil
}

// reEscape produces the quoted \n/\r-escaped form of seq for output, the
// inverse of parseQuotedEscaped.
func reEscape(seq []byte) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, c := range seq {
		switch c {
		case 0x0A:
			b.WriteString(`\n`)
		case 0x0D:
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
