package mqtt

import (
	"errors"
	"net"
	"time"
)

// ErrNoData is the sentinel a Conn returns from TryReceive when the poll
// window elapses without bytes arriving. It is not a failure; the caller
// simply polls again later.
var ErrNoData = errors.New("mqtt: no data available")

// Transport opens byte-stream connections to a broker. The session layers
// MQTT framing on top and assumes nothing else, so implementations may add
// TLS, proxies, or in-memory pipes for tests.
type Transport interface {
	Dial(address string) (Conn, error)
}

// Conn is one reliable, ordered byte stream to a broker.
type Conn interface {
	// Send writes the whole buffer or fails.
	Send(b []byte) error

	// TryReceive returns whatever bytes arrive within a short poll
	// window, ErrNoData when the window elapses idle, or the transport
	// failure that ended the connection.
	TryReceive() ([]byte, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// defaultPollWindow bounds a single TryReceive on the TCP transport.
const defaultPollWindow = 100 * time.Millisecond

// NewTCPTransport returns the plain-TCP transport the clients use by
// default. dialTimeout bounds connection establishment.
func NewTCPTransport(dialTimeout time.Duration) Transport {
	return &tcpTransport{dialTimeout: dialTimeout, pollWindow: defaultPollWindow}
}

type tcpTransport struct {
	dialTimeout time.Duration
	pollWindow  time.Duration
}

func (t *tcpTransport) Dial(address string) (Conn, error) {
	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return &tcpConn{conn: conn, pollWindow: t.pollWindow}, nil
}

type tcpConn struct {
	conn       net.Conn
	pollWindow time.Duration
	buf        [4096]byte
}

func (c *tcpConn) Send(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

func (c *tcpConn) TryReceive() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pollWindow)); err != nil {
		return nil, err
	}
	n, err := c.conn.Read(c.buf[:])
	if n > 0 {
		out := make([]byte, n)
		copy(out, c.buf[:n])
		return out, nil
	}
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, ErrNoData
		}
		return nil, err
	}
	return nil, ErrNoData
}

func (c *tcpConn) Close() error { return c.conn.Close() }
