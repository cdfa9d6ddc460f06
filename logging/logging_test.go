package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesToRotatingFileWhenDirSet(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 4000, "info")

	l.Info("hello")

	path := filepath.Join(dir, "port_agent_4000.log")
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty log file at %s, err=%v", path, err)
	}
}

func TestSetLevelAppliesLive(t *testing.T) {
	l := New("", 4000, "warn")
	if l.level.Level() != slog.LevelWarn {
		t.Fatalf("initial level = %v, want warn", l.level.Level())
	}
	l.RaiseToDebug()
	if l.level.Level() != slog.LevelDebug {
		t.Fatalf("level after RaiseToDebug = %v, want debug", l.level.Level())
	}
	l.SetLevel("error")
	if l.level.Level() != slog.LevelError {
		t.Fatalf("level after SetLevel(error) = %v, want error", l.level.Level())
	}
}
