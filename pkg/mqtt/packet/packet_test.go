package packet

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func mustEncode(t *testing.T, p Packet) []byte {
	t.Helper()
	frame, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode(%s) error = %v", p.Type(), err)
	}
	return frame
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{
			name: "connect minimal",
			packet: &Connect{
				ClientID:     "screenmon-1",
				KeepAlive:    60,
				CleanSession: true,
			},
		},
		{
			name: "connect with credentials",
			packet: &Connect{
				ClientID:     "synergy-found-him-77-1700000000",
				Username:     "monitor",
				Password:     []byte("hunter2"),
				KeepAlive:    30,
				CleanSession: true,
			},
		},
		{
			name:   "connect empty client id",
			packet: &Connect{KeepAlive: 10, CleanSession: true},
		},
		{
			name:   "connack accepted",
			packet: &ConnAck{Code: Accepted},
		},
		{
			name:   "connack rejected with session present",
			packet: &ConnAck{SessionPresent: true, Code: RefusedNotAuthorized},
		},
		{
			name: "publish qos0",
			packet: &Publish{
				TopicName: "synergy",
				Payload:   []byte(`{"current_desktop":"vault"}`),
			},
		},
		{
			name: "publish qos1 retained dup",
			packet: &Publish{
				TopicName: "synergy",
				Payload:   []byte("x"),
				ID:        42,
				QoS:       1,
				Retain:    true,
				Dup:       true,
			},
		},
		{
			name:   "publish empty payload",
			packet: &Publish{TopicName: "synergy/heartbeat", QoS: 2, ID: 9},
		},
		{
			name: "subscribe single",
			packet: &Subscribe{
				ID:     7,
				Topics: []TopicFilter{{Name: "synergy", QoS: 1}},
			},
		},
		{
			name: "subscribe multiple with wildcards",
			packet: &Subscribe{
				ID: 8,
				Topics: []TopicFilter{
					{Name: "synergy/+/switch", QoS: 0},
					{Name: "synergy/#", QoS: 2},
				},
			},
		},
		{
			name:   "suback",
			packet: &SubAck{ID: 7, Codes: []byte{1, SubAckFailure}},
		},
		{name: "pingreq", packet: PingReq{}},
		{name: "pingresp", packet: PingResp{}},
		{name: "disconnect", packet: Disconnect{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := mustEncode(t, tt.packet)

			got, n, err := Decode(frame)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if n != len(frame) {
				t.Errorf("Decode() consumed %d bytes, want %d", n, len(frame))
			}
			if !reflect.DeepEqual(got, tt.packet) {
				t.Errorf("Decode() = %#v, want %#v", got, tt.packet)
			}
		})
	}
}

func TestDecodeIncompleteAtEveryTruncation(t *testing.T) {
	frame := mustEncode(t, &Publish{
		TopicName: "synergy",
		Payload:   []byte(`{"current_desktop":"vault","timestamp":"2025-11-02T10:00:00Z"}`),
		ID:        3,
		QoS:       1,
	})

	for i := 0; i < len(frame); i++ {
		p, n, err := Decode(frame[:i])
		if !errors.Is(err, ErrIncomplete) {
			t.Fatalf("Decode(frame[:%d]) error = %v, want ErrIncomplete", i, err)
		}
		if p != nil || n != 0 {
			t.Fatalf("Decode(frame[:%d]) = (%v, %d), want (nil, 0)", i, p, n)
		}
	}
}

func TestDecodeStream(t *testing.T) {
	first := mustEncode(t, &ConnAck{Code: Accepted})
	second := mustEncode(t, &Publish{TopicName: "synergy", Payload: []byte("a")})
	third := mustEncode(t, PingResp{})

	buf := append(append(append([]byte(nil), first...), second...), third...)

	var types []Type
	for len(buf) > 0 {
		p, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode() error = %v with %d bytes left", err, len(buf))
		}
		types = append(types, p.Type())
		buf = buf[n:]
	}

	want := []Type{CONNACK, PUBLISH, PINGRESP}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("decoded packet types = %v, want %v", types, want)
	}
}

func TestDecodeMalformed(t *testing.T) {
	mustFrame := func(t Type, flags byte, body []byte) []byte {
		frame, err := finish(t, flags, body)
		if err != nil {
			panic(err)
		}
		return frame
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{
			name: "packet type zero",
			buf:  []byte{0x00, 0x00},
		},
		{
			name: "packet type fifteen",
			buf:  []byte{0xF0, 0x00},
		},
		{
			name: "remaining length over four bytes",
			buf:  []byte{0x30, 0x80, 0x80, 0x80, 0x80, 0x01},
		},
		{
			name: "connack short body",
			buf:  mustFrame(CONNACK, 0, []byte{0x00}),
		},
		{
			name: "connack long body",
			buf:  mustFrame(CONNACK, 0, []byte{0x00, 0x00, 0x00}),
		},
		{
			name: "publish qos3",
			buf:  mustFrame(PUBLISH, 0x06, []byte{0x00, 0x01, 'a'}),
		},
		{
			name: "publish empty topic",
			buf:  mustFrame(PUBLISH, 0, []byte{0x00, 0x00, 'x'}),
		},
		{
			name: "publish truncated topic",
			buf:  mustFrame(PUBLISH, 0, []byte{0x00, 0x09, 'a'}),
		},
		{
			name: "publish qos1 missing packet id",
			buf:  mustFrame(PUBLISH, 0x02, appendString(nil, "t")),
		},
		{
			name: "subscribe wrong header flags",
			buf:  mustFrame(SUBSCRIBE, 0, []byte{0x00, 0x01, 0x00, 0x01, 'a', 0x00}),
		},
		{
			name: "subscribe missing qos byte",
			buf:  mustFrame(SUBSCRIBE, 0x02, appendString(appendUint16(nil, 1), "a")),
		},
		{
			name: "subscribe qos out of range",
			buf:  mustFrame(SUBSCRIBE, 0x02, append(appendString(appendUint16(nil, 1), "a"), 0x03)),
		},
		{
			name: "subscribe no topics",
			buf:  mustFrame(SUBSCRIBE, 0x02, appendUint16(nil, 1)),
		},
		{
			name: "pingresp with body",
			buf:  mustFrame(PINGRESP, 0, []byte{0x00}),
		},
		{
			name: "connect bad protocol name",
			buf:  mustFrame(CONNECT, 0, append(appendString(nil, "MQIsdp"), 0x03, 0x02, 0x00, 0x3C, 0x00, 0x00)),
		},
		{
			name: "connect bad protocol level",
			buf:  mustFrame(CONNECT, 0, append(appendString(nil, "MQTT"), 0x03, 0x02, 0x00, 0x3C, 0x00, 0x00)),
		},
		{
			name: "connect with will flag",
			buf:  mustFrame(CONNECT, 0, append(appendString(nil, "MQTT"), 0x04, 0x06, 0x00, 0x3C, 0x00, 0x00)),
		},
		{
			name: "suback truncated id",
			buf:  mustFrame(SUBACK, 0, []byte{0x00}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.buf)
			var derr *DecodeError
			if !errors.As(err, &derr) {
				t.Fatalf("Decode() error = %v, want *DecodeError", err)
			}
		})
	}
}

func TestEncodeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{name: "publish empty topic", packet: &Publish{Payload: []byte("x")}},
		{name: "publish qos out of range", packet: &Publish{TopicName: "t", QoS: 3}},
		{name: "subscribe no topics", packet: &Subscribe{ID: 1}},
		{name: "subscribe qos out of range", packet: &Subscribe{ID: 1, Topics: []TopicFilter{{Name: "t", QoS: 3}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.packet.Encode()
			var eerr *EncodeError
			if !errors.As(err, &eerr) {
				t.Fatalf("Encode() error = %v, want *EncodeError", err)
			}
		})
	}
}

func TestRemainingLengthBoundaries(t *testing.T) {
	tests := []struct {
		length int
		want   []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{maxRemainingLength, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		got, err := appendRemainingLength(nil, tt.length)
		if err != nil {
			t.Fatalf("appendRemainingLength(%d) error = %v", tt.length, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("appendRemainingLength(%d) = %#v, want %#v", tt.length, got, tt.want)
		}

		back, n, err := decodeRemainingLength(got)
		if err != nil {
			t.Fatalf("decodeRemainingLength(% x) error = %v", got, err)
		}
		if back != tt.length || n != len(tt.want) {
			t.Errorf("decodeRemainingLength(% x) = (%d, %d), want (%d, %d)", got, back, n, tt.length, len(tt.want))
		}
	}

	if _, err := appendRemainingLength(nil, maxRemainingLength+1); err == nil {
		t.Error("appendRemainingLength(max+1) error = nil, want encode error")
	}
}

func TestDecodeRawPassthrough(t *testing.T) {
	// A QoS 1 PUBACK: modeled as Raw since the engine never tracks acks.
	frame, err := finish(PUBACK, 0, []byte{0x00, 0x2A})
	if err != nil {
		t.Fatalf("finish(PUBACK) error = %v", err)
	}

	p, n, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n != len(frame) {
		t.Errorf("Decode() consumed %d bytes, want %d", n, len(frame))
	}
	raw, ok := p.(*Raw)
	if !ok {
		t.Fatalf("Decode() = %T, want *Raw", p)
	}
	if raw.PacketType != PUBACK || !bytes.Equal(raw.Body, []byte{0x00, 0x2A}) {
		t.Errorf("Raw = %+v, want PUBACK with packet id 42", raw)
	}

	reenc, err := raw.Encode()
	if err != nil {
		t.Fatalf("Raw.Encode() error = %v", err)
	}
	if !bytes.Equal(reenc, frame) {
		t.Errorf("Raw.Encode() = % x, want % x", reenc, frame)
	}
}

func TestDecodeDoesNotAliasBuffer(t *testing.T) {
	frame := mustEncode(t, &Publish{TopicName: "synergy", Payload: []byte("abc")})

	p, _, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	pub := p.(*Publish)

	for i := range frame {
		frame[i] = 0xFF
	}
	if string(pub.Payload) != "abc" || pub.TopicName != "synergy" {
		t.Error("decoded packet aliases the input buffer")
	}
}

func TestReturnCodeString(t *testing.T) {
	tests := []struct {
		code ReturnCode
		want string
	}{
		{Accepted, "connection accepted"},
		{RefusedProtocolVersion, "unacceptable protocol version"},
		{RefusedIdentifierRejected, "identifier rejected"},
		{RefusedServerUnavailable, "server unavailable"},
		{RefusedBadCredentials, "bad user name or password"},
		{RefusedNotAuthorized, "not authorized"},
		{ReturnCode(99), "unknown return code 99"},
	}

	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("ReturnCode(%d).String() = %q, want %q", byte(tt.code), got, tt.want)
		}
	}
}

func TestTypeString(t *testing.T) {
	if got := PUBLISH.String(); got != "PUBLISH" {
		t.Errorf("PUBLISH.String() = %q", got)
	}
	if got := Type(0).String(); got == "" {
		t.Error("Type(0).String() returned an empty string")
	}
}
