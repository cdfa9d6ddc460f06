package serial

import "testing"

func TestNewDriverUnopened(t *testing.T) {
	d := NewDriver("/dev/ttyUSB0")
	if d.IsOpen() {
		t.Error("new driver should not be open")
	}
	if d.DevicePath() != "/dev/ttyUSB0" {
		t.Errorf("DevicePath() = %q, want /dev/ttyUSB0", d.DevicePath())
	}
}

func TestReadNonblockingClosed(t *testing.T) {
	d := NewDriver("/dev/ttyUSB0")
	buf := make([]byte, 16)
	if _, err := d.ReadNonblocking(buf); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestWriteClosed(t *testing.T) {
	d := NewDriver("/dev/ttyUSB0")
	if _, err := d.Write([]byte("x")); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestSendBreakClosed(t *testing.T) {
	d := NewDriver("/dev/ttyUSB0")
	if err := d.SendBreak(50); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestApplyLineSettingsNotOpen(t *testing.T) {
	d := NewDriver("/dev/ttyUSB0")
	err := d.ApplyLineSettings(Settings{Baud: 9600, DataBits: 8, StopBits: 1})
	if err == nil {
		t.Error("expected error applying settings to unopened device")
	}
}

func TestCloseUnopenedIsNoop(t *testing.T) {
	d := NewDriver("/dev/ttyUSB0")
	if err := d.Close(); err != nil {
		t.Errorf("Close() on unopened driver = %v, want nil", err)
	}
}

func TestToModeValidation(t *testing.T) {
	cases := []struct {
		name string
		s    Settings
		want bool // true if should be valid
	}{
		{"defaults", Settings{Baud: 9600, DataBits: 0, StopBits: 0, Parity: ParityNone, Flow: FlowNone}, true},
		{"7 data bits", Settings{Baud: 9600, DataBits: 7, StopBits: 1, Parity: ParityOdd}, true},
		{"two stop bits", Settings{Baud: 9600, DataBits: 8, StopBits: 2, Parity: ParityEven}, true},
		{"bad databits", Settings{Baud: 9600, DataBits: 9, StopBits: 1}, false},
		{"bad stopbits", Settings{Baud: 9600, DataBits: 8, StopBits: 3}, false},
		{"bad parity", Settings{Baud: 9600, DataBits: 8, StopBits: 1, Parity: 9}, false},
		{"bad flow", Settings{Baud: 9600, DataBits: 8, StopBits: 1, Flow: 9}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := toMode(tc.s)
			if tc.want && err != nil {
				t.Errorf("toMode(%+v) = %v, want valid", tc.s, err)
			}
			if !tc.want && err == nil {
				t.Errorf("toMode(%+v) = nil, want error", tc.s)
			}
		})
	}
}
