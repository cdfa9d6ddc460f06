package instrument

import (
	"net"
	"testing"
	"time"

	"portagent/config"
)

func TestSerialVariantConfiguredWithoutSocket(t *testing.T) {
	c := New(config.InstrumentSerial)
	cfg := config.New()
	cfg.DevicePath = "/dev/ttyUSB0"
	cfg.Baud = 9600
	c.Configure(cfg)

	if !c.DataConfigured() {
		t.Error("expected DataConfigured() true once device_path/baud set")
	}
	if c.CommandConfigured() {
		t.Error("serial has no command channel")
	}
	if _, err := c.ReadCommand(make([]byte, 8)); err != ErrUnsupportedOp {
		t.Errorf("ReadCommand on serial = %v, want ErrUnsupportedOp", err)
	}
}

func TestTCPVariantConfigured(t *testing.T) {
	c := New(config.InstrumentTCP)
	cfg := config.New()
	cfg.InstrumentAddr = "127.0.0.1"
	cfg.InstrumentDataPort = 5000
	c.Configure(cfg)

	if !c.DataConfigured() {
		t.Fatal("expected DataConfigured() true")
	}
	if _, err := c.WriteCommand([]byte("x")); err != ErrUnsupportedOp {
		t.Errorf("WriteCommand on tcp = %v, want ErrUnsupportedOp", err)
	}
	if err := c.SendBreak(10); err != ErrUnsupportedOp {
		t.Errorf("SendBreak on tcp = %v, want ErrUnsupportedOp", err)
	}
}

func TestBOTPTRequiresBothSockets(t *testing.T) {
	c := New(config.InstrumentBOTPT)
	cfg := config.New()
	cfg.InstrumentAddr = "127.0.0.1"
	cfg.InstrumentDataTxPort = 5001
	c.Configure(cfg)

	if c.DataConfigured() {
		t.Error("BOTPT should require both tx and rx ports configured")
	}
	cfg.InstrumentDataRxPort = 5002
	c.Configure(cfg)
	if !c.DataConfigured() {
		t.Error("BOTPT should be configured once both ports set")
	}
	if c.CommandConfigured() {
		t.Error("BOTPT has no command channel")
	}
}

func TestRSNHasCommandChannel(t *testing.T) {
	c := New(config.InstrumentRSN)
	cfg := config.New()
	cfg.InstrumentAddr = "127.0.0.1"
	cfg.InstrumentDataPort = 5003
	cfg.InstrumentCommandPort = 5004
	c.Configure(cfg)

	if !c.DataConfigured() || !c.CommandConfigured() {
		t.Fatal("RSN should be both data- and command-configured")
	}
}

func TestBOTPTConnectAndWriteAgainstRealListeners(t *testing.T) {
	txLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer txLn.Close()
	rxLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer rxLn.Close()

	var rxConn net.Conn
	accepted := make(chan net.Conn, 2)
	go func() {
		c, _ := txLn.Accept()
		accepted <- c
	}()
	go func() {
		c, _ := rxLn.Accept()
		accepted <- c
	}()

	c := New(config.InstrumentBOTPT)
	cfg := config.New()
	cfg.InstrumentAddr = "127.0.0.1"
	txAddr := txLn.Addr().(*net.TCPAddr)
	rxAddr := rxLn.Addr().(*net.TCPAddr)
	cfg.InstrumentDataTxPort = txAddr.Port
	cfg.InstrumentDataRxPort = rxAddr.Port
	c.Configure(cfg)

	if err := c.InitializeData(); err != nil {
		t.Fatalf("InitializeData error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case conn := <-accepted:
			if rxConn == nil {
				rxConn = conn
			}
		case <-deadline:
			t.Fatal("timed out waiting for both sockets to connect")
		}
	}

	waitUntil(t, func() bool { return c.DataConnected() })

	if _, err := c.WriteData([]byte("cmd")); err != nil {
		t.Fatalf("WriteData error: %v", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
