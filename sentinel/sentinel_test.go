package sentinel

import (
	"bytes"
	"testing"
	"time"
)

func TestSentinelFlush(t *testing.T) {
	b := New(1024, []byte("\r\n"))

	flushed := b.Append(time.Now(), []byte("abc\r\n"))
	if len(flushed) != 1 {
		t.Fatalf("got %d flushes, want 1", len(flushed))
	}
	if !bytes.Equal(flushed[0], []byte("abc\r\n")) {
		t.Errorf("payload = %q, want %q", flushed[0], "abc\r\n")
	}
	if b.Occupancy() != 0 {
		t.Errorf("Occupancy() = %d, want 0 after flush", b.Occupancy())
	}
}

func TestCapFlush(t *testing.T) {
	b := New(1024, []byte("\r\n"))
	data := bytes.Repeat([]byte("a"), 1024)

	flushed := b.Append(time.Now(), data)
	if len(flushed) != 1 {
		t.Fatalf("got %d flushes, want 1", len(flushed))
	}
	if len(flushed[0]) != 1024 {
		t.Errorf("payload len = %d, want 1024", len(flushed[0]))
	}
}

func TestNoSpontaneousFlush(t *testing.T) {
	b := New(1024, []byte("\r\n"))
	flushed := b.Append(time.Now(), bytes.Repeat([]byte("a"), 10))
	if len(flushed) != 0 {
		t.Fatalf("got %d flushes, want 0", len(flushed))
	}
	if b.Ready() {
		t.Error("Ready() should be false with no sentinel match and under cap")
	}
}

// TestMaxPacketCapMultiChunk reproduces SPEC_FULL S3: max_packet_size=16,
// no sentinel, 40 bytes arrive in one call. The result must be exactly
// three packets, lengths 16, 16, 8, in order — the trailing 8 bytes must
// not be stuck waiting in the buffer once the capacity rule has already
// forced two chunks out of this same call.
func TestMaxPacketCapMultiChunk(t *testing.T) {
	b := New(16, nil)
	flushed := b.Append(time.Now(), bytes.Repeat([]byte("x"), 40))

	wantLens := []int{16, 16, 8}
	if len(flushed) != len(wantLens) {
		t.Fatalf("got %d flushes, want %d (S3: 16, 16, 8)", len(flushed), len(wantLens))
	}
	for i, f := range flushed {
		if len(f) != wantLens[i] {
			t.Errorf("flush %d length = %d, want %d", i, len(f), wantLens[i])
		}
	}
	if b.Occupancy() != 0 {
		t.Errorf("Occupancy() = %d, want 0 (trailing chunk must not be stuck)", b.Occupancy())
	}
}

func TestEmptySentinelDisablesRule(t *testing.T) {
	b := New(1024, nil)
	flushed := b.Append(time.Now(), []byte("abc\r\n"))
	if len(flushed) != 0 {
		t.Errorf("got %d flushes with empty sentinel, want 0", len(flushed))
	}
}

func TestFlushTickEmptyReturnsNil(t *testing.T) {
	b := New(1024, nil)
	if got := b.FlushTick(time.Now()); got != nil {
		t.Errorf("FlushTick() on empty buffer = %v, want nil", got)
	}
}

// TestFlushTickWithoutMaxAgeNeverFires is the regression test for the S2
// cross-tick accumulation bug: a partial, non-empty buffer must survive
// repeated FlushTick calls when no max age has been configured, however
// much time passes between them.
func TestFlushTickWithoutMaxAgeNeverFires(t *testing.T) {
	b := New(1024, []byte("\r\n"))
	now := time.Now()
	b.Append(now, []byte("abc"))

	if got := b.FlushTick(now.Add(time.Hour)); got != nil {
		t.Errorf("FlushTick() with no max age = %v, want nil (no spontaneous flush)", got)
	}
	if b.Occupancy() != 3 {
		t.Errorf("Occupancy() = %d, want 3 (buffer must survive FlushTick)", b.Occupancy())
	}
}

func TestFlushTickFiresAfterMaxAgeElapsed(t *testing.T) {
	b := New(1024, []byte("\r\n"))
	b.SetMaxAge(100 * time.Millisecond)

	start := time.Now()
	b.Append(start, []byte("abc"))

	if got := b.FlushTick(start.Add(50 * time.Millisecond)); got != nil {
		t.Errorf("FlushTick() before max age elapsed = %v, want nil", got)
	}
	got := b.FlushTick(start.Add(150 * time.Millisecond))
	if string(got) != "abc" {
		t.Errorf("FlushTick() after max age elapsed = %q, want %q", got, "abc")
	}
	if b.Occupancy() != 0 {
		t.Errorf("Occupancy() = %d, want 0 after max-age flush", b.Occupancy())
	}
}

func TestCrossTickSentinelAccumulation(t *testing.T) {
	// Reproduces SPEC_FULL S2: "abc" arrives on one tick, "def\r\n" 50ms
	// later on a subsequent tick; the sentinel must span both without an
	// intervening FlushTick forcing "abc" out on its own.
	b := New(1024, []byte("\r\n"))
	t0 := time.Now()

	flushed := b.Append(t0, []byte("abc"))
	if len(flushed) != 0 {
		t.Fatalf("got %d flushes after first chunk, want 0", len(flushed))
	}
	if got := b.FlushTick(t0); got != nil {
		t.Fatalf("FlushTick() forced a flush of the partial chunk: %q", got)
	}

	t1 := t0.Add(50 * time.Millisecond)
	flushed = b.Append(t1, []byte("def\r\n"))
	if len(flushed) != 1 || string(flushed[0]) != "abcdef\r\n" {
		t.Fatalf("flushed = %q, want exactly one packet %q", flushed, "abcdef\r\n")
	}
}

func TestSetSentinelPreservesBuffer(t *testing.T) {
	b := New(1024, []byte("\n"))
	b.Append(time.Now(), []byte("partial"))
	b.SetSentinel([]byte("!"))
	if b.Occupancy() != len("partial") {
		t.Fatalf("Occupancy() = %d, want %d", b.Occupancy(), len("partial"))
	}
	flushed := b.Append(time.Now(), []byte("!"))
	if len(flushed) != 1 || string(flushed[0]) != "partial!" {
		t.Errorf("flushed = %q, want %q", flushed, "partial!")
	}
}
