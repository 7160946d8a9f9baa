package packet

import "fmt"

// CONNECT variable-header constants for MQTT 3.1.1.
const (
	protocolName  = "MQTT"
	protocolLevel = 0x04
)

// Connect flag bits (MQTT 3.1.1, section 3.1.2).
const (
	connectFlagCleanSession = byte(0b00000010)
	connectFlagWill         = byte(0b00000100)
	connectFlagPassword     = byte(0b01000000)
	connectFlagUsername     = byte(0b10000000)
)

// Connect is the packet a client sends to open a session.
type Connect struct {
	// ClientID identifies the session. It may be empty, in which case
	// the broker assigns one (3.1.1 requires CleanSession for that).
	ClientID string

	// Username and Password are sent only when non-empty.
	Username string
	Password []byte

	// KeepAlive is the maximum idle interval in seconds the client
	// promises between control packets.
	KeepAlive uint16

	// CleanSession asks the broker to discard prior session state.
	CleanSession bool
}

func (c *Connect) Type() Type { return CONNECT }

func (c *Connect) Encode() ([]byte, error) {
	flags := byte(0)
	if c.CleanSession {
		flags |= connectFlagCleanSession
	}
	if c.Username != "" {
		flags |= connectFlagUsername
	}
	if len(c.Password) > 0 {
		flags |= connectFlagPassword
	}

	body := make([]byte, 0, 12+len(c.ClientID)+len(c.Username)+len(c.Password))
	body = appendString(body, protocolName)
	body = append(body, protocolLevel, flags)
	body = appendUint16(body, c.KeepAlive)
	body = appendString(body, c.ClientID)
	if c.Username != "" {
		body = appendString(body, c.Username)
	}
	if len(c.Password) > 0 {
		body = appendBytes(body, c.Password)
	}
	return finish(CONNECT, 0, body)
}

func decodeConnect(body []byte) (Packet, error) {
	proto, rest, err := readString(body)
	if err != nil {
		return nil, err
	}
	if proto != protocolName {
		return nil, decodeErrf("unexpected protocol name %q", proto)
	}
	if len(rest) < 2 {
		return nil, decodeErrf("truncated CONNECT variable header")
	}
	level, flags := rest[0], rest[1]
	rest = rest[2:]
	if level != protocolLevel {
		return nil, decodeErrf("unsupported protocol level %d", level)
	}
	if flags&connectFlagWill != 0 {
		// The engine never registers a will; a CONNECT carrying one is
		// outside the model.
		return nil, decodeErrf("CONNECT will flag is not supported")
	}

	c := &Connect{CleanSession: flags&connectFlagCleanSession != 0}
	if c.KeepAlive, rest, err = readUint16(rest); err != nil {
		return nil, err
	}
	if c.ClientID, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if flags&connectFlagUsername != 0 {
		if c.Username, rest, err = readString(rest); err != nil {
			return nil, err
		}
	}
	if flags&connectFlagPassword != 0 {
		if c.Password, _, err = readBytes(rest); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ReturnCode is the verdict a broker sends in CONNACK.
type ReturnCode byte

const (
	// Accepted means the broker opened the session.
	Accepted ReturnCode = iota

	// RefusedProtocolVersion means the broker does not speak the
	// requested protocol level.
	RefusedProtocolVersion

	// RefusedIdentifierRejected means the client id is well-formed but
	// not allowed.
	RefusedIdentifierRejected

	// RefusedServerUnavailable means the MQTT service is down even
	// though the network connection succeeded.
	RefusedServerUnavailable

	// RefusedBadCredentials means the user name or password is malformed.
	RefusedBadCredentials

	// RefusedNotAuthorized means the client may not connect.
	RefusedNotAuthorized
)

func (rc ReturnCode) String() string {
	switch rc {
	case Accepted:
		return "connection accepted"
	case RefusedProtocolVersion:
		return "unacceptable protocol version"
	case RefusedIdentifierRejected:
		return "identifier rejected"
	case RefusedServerUnavailable:
		return "server unavailable"
	case RefusedBadCredentials:
		return "bad user name or password"
	case RefusedNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("unknown return code %d", byte(rc))
	}
}

// ConnAck is the broker's response to CONNECT. Its return code is what the
// session state machine uses to tell acceptance from rejection.
type ConnAck struct {
	SessionPresent bool
	Code           ReturnCode
}

func (a *ConnAck) Type() Type { return CONNACK }

func (a *ConnAck) Encode() ([]byte, error) {
	var ackFlags byte
	if a.SessionPresent {
		ackFlags = 0x01
	}
	return finish(CONNACK, 0, []byte{ackFlags, byte(a.Code)})
}

func decodeConnAck(body []byte) (Packet, error) {
	if len(body) != 2 {
		return nil, decodeErrf("CONNACK body must be 2 bytes, got %d", len(body))
	}
	return &ConnAck{SessionPresent: body[0]&0x01 != 0, Code: ReturnCode(body[1])}, nil
}
