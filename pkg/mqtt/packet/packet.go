// Package packet implements encoding and decoding of MQTT 3.1.1 control
// packets. Encoding is deterministic; decoding consumes frames from a byte
// buffer and reports how many bytes each frame used, so callers can feed it
// partial reads as they arrive.
package packet

import (
	"errors"
	"fmt"
)

// Type identifies an MQTT control packet, stored in the high nibble of the
// fixed header's first byte.
type Type byte

const (
	CONNECT Type = iota + 1
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
)

var typeNames = map[Type]string{
	CONNECT:     "CONNECT",
	CONNACK:     "CONNACK",
	PUBLISH:     "PUBLISH",
	PUBACK:      "PUBACK",
	PUBREC:      "PUBREC",
	PUBREL:      "PUBREL",
	PUBCOMP:     "PUBCOMP",
	SUBSCRIBE:   "SUBSCRIBE",
	SUBACK:      "SUBACK",
	UNSUBSCRIBE: "UNSUBSCRIBE",
	UNSUBACK:    "UNSUBACK",
	PINGREQ:     "PINGREQ",
	PINGRESP:    "PINGRESP",
	DISCONNECT:  "DISCONNECT",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", byte(t))
}

// Packet is the interface implemented by all control packets.
type Packet interface {
	// Type reports the control packet type.
	Type() Type

	// Encode renders the packet as a complete wire frame, including the
	// fixed header.
	Encode() ([]byte, error)
}

// ErrIncomplete is returned by Decode when the buffer does not yet hold a
// whole frame. It is not a failure: the caller should read more bytes and
// try again.
var ErrIncomplete = errors.New("mqtt: incomplete packet")

// EncodeError reports an attempt to encode a packet that violates framing
// rules, such as a PUBLISH with an empty topic.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string { return "mqtt: encode: " + e.Reason }

// DecodeError reports malformed wire data: a bad remaining-length field, an
// unknown packet type, or a frame whose body contradicts its header.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "mqtt: decode: " + e.Reason }

func encodeErrf(format string, args ...any) error {
	return &EncodeError{Reason: fmt.Sprintf(format, args...)}
}

func decodeErrf(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// maxRemainingLength is the largest value the 4-byte variable-length field
// can express.
const maxRemainingLength = 0x0FFFFFFF

// appendRemainingLength appends n in the variable-length encoding: seven
// value bits per byte, high bit set while more bytes follow.
func appendRemainingLength(dst []byte, n int) ([]byte, error) {
	if n > maxRemainingLength {
		return nil, encodeErrf("remaining length %d exceeds the 4 byte limit", n)
	}
	for {
		b := byte(n % 128)
		n /= 128
		if n > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if n == 0 {
			return dst, nil
		}
	}
}

// decodeRemainingLength reads the variable-length field from buf. It returns
// the decoded length and the number of bytes the field occupied, ErrIncomplete
// if buf ends before the field terminates, or a DecodeError if the field runs
// past four bytes.
func decodeRemainingLength(buf []byte) (length, n int, err error) {
	multiplier := 1
	for {
		if n >= len(buf) {
			return 0, 0, ErrIncomplete
		}
		b := buf[n]
		length += int(b&0x7F) * multiplier
		n++
		if b&0x80 == 0 {
			return length, n, nil
		}
		if n == 4 {
			return 0, 0, decodeErrf("remaining length exceeds the 4 byte limit")
		}
		multiplier *= 128
	}
}

// finish assembles a complete frame from a packet type, its fixed-header
// flags, and an already-encoded body.
func finish(t Type, flags byte, body []byte) ([]byte, error) {
	frame := make([]byte, 0, 2+len(body))
	frame = append(frame, byte(t)<<4|flags&0x0F)
	frame, err := appendRemainingLength(frame, len(body))
	if err != nil {
		return nil, err
	}
	return append(frame, body...), nil
}

// Decode consumes the first complete frame in buf. It returns the decoded
// packet and the number of bytes consumed, ErrIncomplete while buf holds less
// than one whole frame, or a DecodeError for malformed data. buf may safely
// be reused after Decode returns: decoded packets never alias it.
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}

	header := buf[0]
	t := Type(header >> 4)
	if t < CONNECT || t > DISCONNECT {
		return nil, 0, decodeErrf("unknown packet type %d", byte(t))
	}
	flags := header & 0x0F

	remaining, lenBytes, err := decodeRemainingLength(buf[1:])
	if err != nil {
		return nil, 0, err
	}

	total := 1 + lenBytes + remaining
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}
	body := buf[1+lenBytes : total]

	var p Packet
	switch t {
	case CONNECT:
		p, err = decodeConnect(body)
	case CONNACK:
		p, err = decodeConnAck(body)
	case PUBLISH:
		p, err = decodePublish(flags, body)
	case SUBSCRIBE:
		p, err = decodeSubscribe(flags, body)
	case SUBACK:
		p, err = decodeSubAck(body)
	case PINGREQ:
		p, err = decodeEmpty(body, PingReq{})
	case PINGRESP:
		p, err = decodeEmpty(body, PingResp{})
	case DISCONNECT:
		p, err = decodeEmpty(body, Disconnect{})
	default:
		p = &Raw{PacketType: t, Flags: flags, Body: cloneBytes(body)}
	}
	if err != nil {
		return nil, 0, err
	}
	return p, total, nil
}

// Raw carries any control packet the engine recognizes but does not model,
// such as the QoS 1/2 acknowledgement family. The receive loop skips these.
type Raw struct {
	PacketType Type
	Flags      byte
	Body       []byte
}

func (r *Raw) Type() Type { return r.PacketType }

func (r *Raw) Encode() ([]byte, error) {
	return finish(r.PacketType, r.Flags, r.Body)
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// readUint16 pulls a big-endian uint16 off the front of b.
func readUint16(b []byte) (uint16, []byte, error) {
	if len(b) < 2 {
		return 0, nil, decodeErrf("truncated uint16 field")
	}
	return uint16(b[0])<<8 | uint16(b[1]), b[2:], nil
}

// readString pulls a length-prefixed UTF-8 string off the front of b.
func readString(b []byte) (string, []byte, error) {
	n, rest, err := readUint16(b)
	if err != nil {
		return "", nil, err
	}
	if len(rest) < int(n) {
		return "", nil, decodeErrf("truncated string field")
	}
	return string(rest[:n]), rest[n:], nil
}

// readBytes pulls a length-prefixed binary field off the front of b.
func readBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := readUint16(b)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < int(n) {
		return nil, nil, decodeErrf("truncated bytes field")
	}
	return cloneBytes(rest[:n]), rest[n:], nil
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendString(dst []byte, s string) []byte {
	dst = appendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func appendBytes(dst, b []byte) []byte {
	dst = appendUint16(dst, uint16(len(b)))
	return append(dst, b...)
}
