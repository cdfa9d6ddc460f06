package packet

import (
	"bytes"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	ts := time.Now().UTC().Round(time.Millisecond)
	payloads := [][]byte{
		nil,
		[]byte("hello\n"),
		bytes.Repeat([]byte("a"), 1024),
	}
	types := []Type{DataFromInstrument, Status, Fault, Heartbeat, PAConfig}

	for _, p := range payloads {
		for _, tp := range types {
			enc, err := Encode(tp, p, ts)
			if err != nil {
				t.Fatalf("Encode(%v, %d bytes) error: %v", tp, len(p), err)
			}

			gotType, gotPayload, gotTS, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if gotType != tp {
				t.Errorf("type = %v, want %v", gotType, tp)
			}
			if !bytes.Equal(gotPayload, p) {
				t.Errorf("payload = %q, want %q", gotPayload, p)
			}
			if gotTS.Sub(ts).Abs() > time.Millisecond {
				t.Errorf("timestamp = %v, want ~%v", gotTS, ts)
			}
		}
	}
}

func TestBitFlipDetected(t *testing.T) {
	enc, err := Encode(DataFromInstrument, []byte("abcdef"), time.Now())
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	origType, origPayload, origTS, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode of unmutated frame failed: %v", err)
	}

	for i := range enc {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(enc))
			copy(mutated, enc)
			mutated[i] ^= 1 << bit

			gotType, gotPayload, gotTS, err := Decode(mutated)
			if err == nil {
				if gotType == origType && bytes.Equal(gotPayload, origPayload) && gotTS.Equal(origTS) {
					t.Errorf("mutation at byte %d bit %d was undetected and produced an identical frame", i, bit)
				}
			}
		}
	}
}

func TestDecodeBadMagic(t *testing.T) {
	enc, _ := Encode(Status, []byte("x"), time.Now())
	enc[0] = 0x00
	if _, _, _, err := Decode(enc); err != ErrBadMagic {
		t.Errorf("err = %v, want ErrBadMagic", err)
	}
}

func TestDecodeBadLength(t *testing.T) {
	enc, _ := Encode(Status, []byte("x"), time.Now())
	if _, _, _, err := Decode(enc[:len(enc)-1]); err != ErrBadLength {
		t.Errorf("err = %v, want ErrBadLength", err)
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, _, _, err := Decode([]byte{0xA3}); err != ErrBadLength {
		t.Errorf("err = %v, want ErrBadLength", err)
	}
}

func TestEncodeRejectsOversizePayload(t *testing.T) {
	if _, err := Encode(DataFromInstrument, make([]byte, MaxPayloadSize+1), time.Now()); err == nil {
		t.Error("expected error for oversize payload")
	}
}

func TestScanSync(t *testing.T) {
	enc, _ := Encode(Status, []byte("x"), time.Now())
	noise := append([]byte{0x00, 0x11, 0x22}, enc...)

	idx := ScanSync(noise, 0)
	if idx != 3 {
		t.Errorf("ScanSync = %d, want 3", idx)
	}
	if ScanSync([]byte{0x01, 0x02}, 0) != -1 {
		t.Error("expected -1 for no match")
	}
}

func TestPeekLength(t *testing.T) {
	enc, _ := Encode(Status, []byte("hello"), time.Now())
	length, ok := PeekLength(enc[:7])
	if !ok || length != len(enc) {
		t.Errorf("PeekLength = %d, %v; want %d, true", length, ok, len(enc))
	}
	if _, ok := PeekLength(enc[:5]); ok {
		t.Error("expected ok=false with insufficient bytes")
	}
}

func TestTypeString(t *testing.T) {
	if DataFromInstrument.String() != "data_from_instrument" {
		t.Errorf("String() = %q", DataFromInstrument.String())
	}
}
