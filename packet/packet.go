// Package packet implements the on-wire framed packet format exchanged
// between the port agent, the instrument, and the observatory.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Type identifies the semantic content of a packet payload.
type Type byte

const (
	DataFromInstrument  Type = 1
	DataFromObservatory Type = 2
	CommandFromObservatory Type = 3
	Status              Type = 4
	Fault               Type = 5
	Heartbeat           Type = 6
	PAConfig            Type = 7
	PAFault             Type = 8
	InstrumentCmd       Type = 9
)

func (t Type) String() string {
	switch t {
	case DataFromInstrument:
		return "data_from_instrument"
	case DataFromObservatory:
		return "data_from_observatory"
	case CommandFromObservatory:
		return "command_from_observatory"
	case Status:
		return "status"
	case Fault:
		return "fault"
	case Heartbeat:
		return "heartbeat"
	case PAConfig:
		return "pa_config"
	case PAFault:
		return "pa_fault"
	case InstrumentCmd:
		return "instrument_cmd"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

const (
	syncHigh = 0xA3
	syncLow  = 0x9D

	// HeaderLength is the number of bytes preceding the payload.
	HeaderLength = 16

	// MaxPayloadSize is the largest payload this codec will ever encode,
	// matching the configuration ceiling on max_packet_size.
	MaxPayloadSize = 65472
)

var (
	ErrBadMagic    = errors.New("packet: bad magic")
	ErrBadLength   = errors.New("packet: bad length")
	ErrBadChecksum = errors.New("packet: bad checksum")
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// Encode fills in the wire header for payload p with type t and timestamp
// ts, computing the XOR-16 checksum over the whole frame with the checksum
// field zeroed. The returned slice is length HeaderLength+len(p).
func Encode(t Type, p []byte, ts time.Time) ([]byte, error) {
	if len(p) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d exceeds max %d", ErrBadLength, len(p), MaxPayloadSize)
	}

	length := HeaderLength + len(p)
	buf := make([]byte, length)
	buf[0] = syncHigh
	buf[1] = syncLow
	buf[2] = byte(t)
	// buf[3:5] checksum, zeroed for computation
	binary.BigEndian.PutUint16(buf[5:7], uint16(length))
	binary.BigEndian.PutUint64(buf[7:15], encodeTimestamp(ts))
	// buf[15] is padding reserved to align payload at offset 16; kept zero.
	copy(buf[HeaderLength:], p)

	sum := xor16(buf)
	binary.BigEndian.PutUint16(buf[3:5], sum)

	return buf, nil
}

// Decode parses a complete frame (exactly length bytes as declared by the
// header) and returns its type, payload, and timestamp.
func Decode(buf []byte) (Type, []byte, time.Time, error) {
	if len(buf) < HeaderLength {
		return 0, nil, time.Time{}, ErrBadLength
	}
	if buf[0] != syncHigh || buf[1] != syncLow {
		return 0, nil, time.Time{}, ErrBadMagic
	}

	length := int(binary.BigEndian.Uint16(buf[5:7]))
	if length < HeaderLength || length > HeaderLength+MaxPayloadSize || length != len(buf) {
		return 0, nil, time.Time{}, ErrBadLength
	}

	wantSum := binary.BigEndian.Uint16(buf[3:5])
	check := make([]byte, len(buf))
	copy(check, buf)
	check[3], check[4] = 0, 0
	if xor16(check) != wantSum {
		return 0, nil, time.Time{}, ErrBadChecksum
	}

	t := Type(buf[2])
	ts := decodeTimestamp(binary.BigEndian.Uint64(buf[7:15]))
	payload := make([]byte, length-HeaderLength)
	copy(payload, buf[HeaderLength:length])

	return t, payload, ts, nil
}

// ScanSync returns the index of the next sync marker in buf at or after
// offset, or -1 if none is found. Streaming readers use this to
// resynchronize after a BadMagic/BadChecksum error.
func ScanSync(buf []byte, offset int) int {
	for i := offset; i+1 < len(buf); i++ {
		if buf[i] == syncHigh && buf[i+1] == syncLow {
			return i
		}
	}
	return -1
}

// PeekLength reads the declared frame length from a header that has not yet
// been fully received. buf must start at the sync marker; the first 7 bytes
// (through the length field) are enough, and ok is false if buf is shorter
// than that.
func PeekLength(buf []byte) (length int, ok bool) {
	if len(buf) < 7 {
		return 0, false
	}
	if buf[0] != syncHigh || buf[1] != syncLow {
		return 0, false
	}
	return int(binary.BigEndian.Uint16(buf[5:7])), true
}

func xor16(buf []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(buf); i += 2 {
		sum ^= binary.BigEndian.Uint16(buf[i : i+2])
	}
	if len(buf)%2 == 1 {
		sum ^= uint16(buf[len(buf)-1]) << 8
	}
	return sum
}

func encodeTimestamp(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs<<32 | (frac & 0xFFFFFFFF)
}

func decodeTimestamp(v uint64) time.Time {
	secs := int64(v>>32) - ntpEpochOffset
	frac := v & 0xFFFFFFFF
	nanos := int64(float64(frac) / (1 << 32) * 1e9)
	return time.Unix(secs, nanos).UTC()
}
