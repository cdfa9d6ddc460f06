package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// GetConfigText renders cfg as the textual conf-file/get_config grammar, in
// the fixed key order from the external-interfaces surface. The historical
// key was spelled "sentinle"; per the resolved open question (SPEC_FULL.md
// §9) all output stabilizes on the "sentinel" spelling even though ParseLine
// still accepts either spelling on input. The instrument_type line is
// omitted while the type is unset, since ParseLine accepts only the four
// variant names for that verb.
func GetConfigText(cfg *Config) string {
	var b strings.Builder

	line := func(k, v string) {
		fmt.Fprintf(&b, "%s %s\n", k, v)
	}
	lineInt := func(k string, v int) {
		line(k, strconv.Itoa(v))
	}

	line("pid_dir", cfg.PidDir)
	line("log_dir", cfg.LogDir)
	line("conf_dir", cfg.ConfDir)
	line("data_dir", cfg.DataDir)
	line("log_level", cfg.LogLevel)
	lineInt("command_port", cfg.ObservatoryCommandPort)
	lineInt("data_port", cfg.PrimaryDataPort())
	if cfg.InstrumentType != InstrumentUnset {
		line("instrument_type", string(cfg.InstrumentType))
	}
	lineInt("heartbeat_interval", cfg.HeartbeatInterval)
	line("sentinel", reEscape(cfg.SentinelSequence))
	lineInt("output_throttle", cfg.OutputThrottle)
	lineInt("max_packet_size", cfg.MaxPacketSize)
	lineInt("baud", cfg.Baud)
	lineInt("stopbits", cfg.StopBits)
	lineInt("databits", cfg.DataBits)
	lineInt("parity", cfg.Parity)
	lineInt("flow", cfg.Flow)
	line("instrument_addr", cfg.InstrumentAddr)
	lineInt("instrument_data_port", cfg.InstrumentDataPort)
	lineInt("instrument_data_tx_port", cfg.InstrumentDataTxPort)
	lineInt("instrument_data_rx_port", cfg.InstrumentDataRxPort)
	lineInt("instrument_command_port", cfg.InstrumentCommandPort)

	if cfg.TelnetSnifferPort != 0 {
		lineInt("telnet_sniffer_port", cfg.TelnetSnifferPort)
		line("telnet_sniffer_prefix", cfg.TelnetSnifferPrefix)
		line("telnet_sniffer_suffix", cfg.TelnetSnifferSuffix)
	}

	if cfg.MetricsPort != 0 {
		lineInt("metrics_port", cfg.MetricsPort)
	}

	return b.String()
}

// SaveConfig writes GetConfigText(cfg) to cfg.ConfFile() atomically: a
// temp file in the same directory is written and fsynced, then renamed
// over the destination, so a crash mid-write never leaves a truncated
// conf file behind.
func SaveConfig(cfg *Config) error {
	dst := cfg.ConfFile()
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".port_agent-*.conf.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(GetConfigText(cfg)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// LoadConfigFile reads path line by line through ParseLine, applying every
// verb to cfg. Used at startup when -c/--conffile is given.
func LoadConfigFile(cfg *Config, queue *Queue, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, raw := range strings.Split(string(data), "\n") {
		if err := ParseLine(cfg, queue, raw); err != nil {
			return err
		}
	}
	return nil
}
