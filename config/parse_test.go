package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSimpleVerbsEnqueue(t *testing.T) {
	c := New()
	q := NewQueue()

	if err := ParseLine(c, q, "ping"); err != nil {
		t.Fatalf("ParseLine(ping) error: %v", err)
	}
	if !q.Contains(CmdPing) {
		t.Error("expected CmdPing queued")
	}

	if err := ParseLine(c, q, "break 500"); err != nil {
		t.Fatalf("ParseLine(break) error: %v", err)
	}
	if c.BreakDuration != 500 {
		t.Errorf("BreakDuration = %d, want 500", c.BreakDuration)
	}
	if !q.Contains(CmdBreak) {
		t.Error("expected CmdBreak queued")
	}
}

func TestParseInstrumentType(t *testing.T) {
	c := New()
	q := NewQueue()

	if err := ParseLine(c, q, "instrument_type serial"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.InstrumentType != InstrumentSerial {
		t.Errorf("InstrumentType = %q, want serial", c.InstrumentType)
	}

	if err := ParseLine(c, q, "instrument_type bogus"); err == nil {
		t.Error("expected ParseError for unrecognized instrument_type")
	}
}

func TestParseSentinelBothSpellingsAcceptedOnInput(t *testing.T) {
	for _, verb := range []string{"sentinle", "sentinel"} {
		c := New()
		q := NewQueue()
		if err := ParseLine(c, q, verb+` '\r\n'`); err != nil {
			t.Fatalf("ParseLine(%s) error: %v", verb, err)
		}
		if !bytes.Equal(c.SentinelSequence, []byte("\r\n")) {
			t.Errorf("%s: SentinelSequence = %q, want \\r\\n", verb, c.SentinelSequence)
		}
		if !q.Contains(CmdPublisherConfigUpdate) {
			t.Errorf("%s: expected CmdPublisherConfigUpdate queued", verb)
		}
	}
}

func TestParseSentinelPreservesUnknownEscape(t *testing.T) {
	c := New()
	q := NewQueue()
	if err := ParseLine(c, q, `sentinel '\x'`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(c.SentinelSequence) != `\x` {
		t.Errorf("SentinelSequence = %q, want literal \\x", c.SentinelSequence)
	}
}

func TestParseSentinelMissingCloseQuoteErrors(t *testing.T) {
	c := New()
	q := NewQueue()
	if err := ParseLine(c, q, `sentinel '\r\n`); err == nil {
		t.Error("expected ParseError for missing closing quote")
	}
}

func TestParseDevicePathMarksDirty(t *testing.T) {
	c := New()
	q := NewQueue()
	if err := ParseLine(c, q, "device_path /dev/ttyUSB1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.DevicePathChanged {
		t.Error("expected DevicePathChanged to be set")
	}
	if c.DevicePath != "/dev/ttyUSB1" {
		t.Errorf("DevicePath = %q", c.DevicePath)
	}
}

func TestParseSerialSettingMarksDirty(t *testing.T) {
	c := New()
	q := NewQueue()
	if err := ParseLine(c, q, "baud 19200"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Baud != 19200 || !c.SerialSettingsChanged {
		t.Errorf("Baud=%d SerialSettingsChanged=%v", c.Baud, c.SerialSettingsChanged)
	}
}

func TestParseUnrecognizedVerb(t *testing.T) {
	c := New()
	q := NewQueue()
	if err := ParseLine(c, q, "not_a_verb 1"); err == nil {
		t.Error("expected ParseError for unrecognized verb")
	}
}

func TestParseTooManyArguments(t *testing.T) {
	c := New()
	q := NewQueue()
	if err := ParseLine(c, q, "baud 9600 extra"); err == nil {
		t.Error("expected ParseError for extra tokens")
	}
}

func TestParseBlankLineIsNoop(t *testing.T) {
	c := New()
	q := NewQueue()
	if err := ParseLine(c, q, "   "); err != nil {
		t.Errorf("blank line should not error: %v", err)
	}
	if q.Len() != 0 {
		t.Error("blank line should not enqueue anything")
	}
}

func TestGetConfigTextRoundTripsSentinelSpelling(t *testing.T) {
	c := New()
	c.ObservatoryCommandPort = 4000
	c.AddDataPort(4001)
	c.SentinelSequence = []byte("\r\n")

	text := GetConfigText(c)
	if !bytes.Contains([]byte(text), []byte("sentinel '\\r\\n'")) {
		t.Errorf("get_config output should use the stabilized 'sentinel' key, got:\n%s", text)
	}
	if bytes.Contains([]byte(text), []byte("sentinle")) {
		t.Errorf("get_config output must never emit the legacy 'sentinle' key, got:\n%s", text)
	}
}

func TestSaveConfigAtomicWriteAndReload(t *testing.T) {
	dir := t.TempDir()
	c := New()
	c.ObservatoryCommandPort = 4000
	c.ConfDir = dir
	c.AddDataPort(4001)
	c.SentinelSequence = []byte("\n")

	if err := SaveConfig(c); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	path := filepath.Join(dir, "port_agent_4000.conf")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected conf file at %s: %v", path, err)
	}

	loaded := New()
	q := NewQueue()
	if err := LoadConfigFile(loaded, q, path); err != nil {
		t.Fatalf("LoadConfigFile error: %v", err)
	}
	if loaded.ObservatoryCommandPort != 4000 {
		t.Errorf("reloaded command_port = %d, want 4000", loaded.ObservatoryCommandPort)
	}
	if !bytes.Equal(loaded.SentinelSequence, []byte("\n")) {
		t.Errorf("reloaded SentinelSequence = %q, want \\n", loaded.SentinelSequence)
	}
}

func TestParseArgs(t *testing.T) {
	a, err := ParseArgs([]string{"-p", "4000", "--verbose", "--metrics-port", "9100"})
	if err != nil {
		t.Fatalf("ParseArgs error: %v", err)
	}
	if a.CommandPort != 4000 || !a.Verbose || a.MetricsPort != 9100 {
		t.Errorf("parsed args = %+v", a)
	}
}

func TestParseArgsUnrecognizedFlag(t *testing.T) {
	if _, err := ParseArgs([]string{"--bogus"}); err == nil {
		t.Error("expected error for unrecognized flag")
	}
}

func TestParseArgsMissingValue(t *testing.T) {
	if _, err := ParseArgs([]string{"-p"}); err == nil {
		t.Error("expected error for missing flag value")
	}
}
