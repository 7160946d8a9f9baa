package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/mqtt/packet"
	"github.com/screenmon-io/screenmon/pkg/mqtt/topic"
)

// Session lifecycle states.
const (
	stateDisconnected = "disconnected"
	stateConnecting   = "connecting"
	stateConnected    = "connected"
)

// Lifecycle events.
const (
	eventDial   = "dial"   // disconnected -> connecting
	eventAccept = "accept" // connecting -> connected
	eventReject = "reject" // connecting -> disconnected
	eventDrop   = "drop"   // connecting/connected -> disconnected
)

// pollInterval is how long the receive loop and the handshake poller yield
// after the transport reports no data.
const pollInterval = 10 * time.Millisecond

// session is the built-in MQTT 3.1.1 client engine, the "nano" driver. It
// owns one transport connection, a lifecycle state machine, and at most
// one background receive loop.
type session struct {
	cfg *ClientConfig
	tr  Transport

	// mu guards conn, lifecycle transitions, connackCh, and connecting.
	mu         sync.Mutex
	conn       Conn
	lifecycle  *fsm.FSM
	connecting bool

	// connackCh is the one-shot CONNACK intercept armed by Connect.
	// Whoever consumes the slot clears it first, so each attempt's
	// outcome is delivered at most once.
	connackCh chan *packet.ConnAck

	// readMu serializes transport reads and the reassembly buffer
	// between the handshake poller and the receive loop.
	readMu sync.Mutex
	rxBuf  []byte

	// writeMu serializes frame writes; lastSend feeds the keep-alive.
	writeMu  sync.Mutex
	lastSend time.Time

	// cbMu guards handler registration and is held during invocation.
	cbMu    sync.Mutex
	handler MessageHandler

	// loopMu guards receive-loop start and stop.
	loopMu   sync.Mutex
	loopStop chan struct{}
	loopDone chan struct{}
	looping  atomic.Bool

	nextID atomic.Uint32
}

func newSession(cfg *ClientConfig, tr Transport) *session {
	s := &session{cfg: cfg, tr: tr}
	s.lifecycle = fsm.NewFSM(
		stateDisconnected,
		fsm.Events{
			{Name: eventDial, Src: []string{stateDisconnected}, Dst: stateConnecting},
			{Name: eventAccept, Src: []string{stateConnecting}, Dst: stateConnected},
			{Name: eventReject, Src: []string{stateConnecting}, Dst: stateDisconnected},
			{Name: eventDrop, Src: []string{stateConnecting, stateConnected}, Dst: stateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("MQTT session state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return s
}

// fireLocked advances the lifecycle machine. Events that lost a race and
// arrive in the wrong state are dropped; the winner already moved us.
func (s *session) fireLocked(event string) {
	if err := s.lifecycle.Event(context.Background(), event); err != nil {
		log.Debug("MQTT lifecycle event not applied", "event", event, "state", s.lifecycle.Current(), "err", err)
	}
}

func (s *session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.Current() == stateConnected
}

func (s *session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.lifecycle.Current() == stateConnected {
		s.mu.Unlock()
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		return ErrConnectPending
	}
	s.connecting = true
	s.fireLocked(eventDial)
	s.mu.Unlock()

	err := s.handshake(ctx)

	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()
	return err
}

// handshake dials, sends CONNECT, and waits for the broker's verdict. The
// session moves to connected only on an accepting CONNACK; every other
// outcome tears the attempt down and reports why.
func (s *session) handshake(ctx context.Context) error {
	conn, err := s.tr.Dial(s.cfg.Addr())
	if err != nil {
		s.abortAttempt(nil, nil)
		return &TransportError{Op: "dial", Err: err}
	}

	ack := make(chan *packet.ConnAck, 1)
	s.mu.Lock()
	if s.lifecycle.Current() != stateConnecting {
		// Disconnect won the race while we were dialing.
		s.mu.Unlock()
		_ = conn.Close()
		return &TransportError{Op: "dial", Err: net.ErrClosed}
	}
	s.conn = conn
	s.connackCh = ack
	s.mu.Unlock()

	s.readMu.Lock()
	s.rxBuf = nil
	s.readMu.Unlock()

	connect := &packet.Connect{
		ClientID:     s.cfg.ClientID,
		Username:     s.cfg.Username,
		Password:     []byte(s.cfg.Password),
		KeepAlive:    s.cfg.KeepAlive,
		CleanSession: s.cfg.CleanSession,
	}
	log.Debug("Sending CONNECT", "broker", s.cfg.Addr(), "clientID", s.cfg.ClientID)
	if err := s.writeConn(conn, connect); err != nil {
		s.abortAttempt(conn, ack)
		return err
	}

	connack, err := s.awaitConnAck(ctx, ack)
	if err != nil {
		s.abortAttempt(conn, ack)
		return err
	}
	if connack.Code != packet.Accepted {
		s.abortAttempt(conn, ack)
		return &ConnectionRejectedError{Code: connack.Code}
	}

	s.mu.Lock()
	s.fireLocked(eventAccept)
	s.mu.Unlock()
	log.Info("Connected to MQTT broker", "broker", s.cfg.Addr(), "clientID", s.cfg.ClientID)
	return nil
}

// abortAttempt tears down a failed connect attempt: the half-open conn is
// released (unless Disconnect already took it) and the lifecycle reverts.
func (s *session) abortAttempt(conn Conn, ack chan *packet.ConnAck) {
	s.mu.Lock()
	if conn != nil && s.conn == conn {
		s.conn = nil
	}
	if ack != nil && s.connackCh == ack {
		s.connackCh = nil
	}
	s.fireLocked(eventReject)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// awaitConnAck waits for the broker's CONNACK, polling the transport
// itself unless a receive loop already owns the reads. The wait is bounded
// by the connect timeout and by ctx.
func (s *session) awaitConnAck(ctx context.Context, ack <-chan *packet.ConnAck) (*packet.ConnAck, error) {
	timeout := time.NewTimer(s.cfg.ConnectTimeout)
	defer timeout.Stop()

	for {
		select {
		case a, ok := <-ack:
			if !ok {
				// Disconnect tore the attempt down under us.
				return nil, &TransportError{Op: "handshake", Err: net.ErrClosed}
			}
			return a, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			// A CONNACK routed while the timer fired still counts.
			select {
			case a, ok := <-ack:
				if ok {
					return a, nil
				}
			default:
			}
			return nil, ErrConnectTimeout
		default:
		}

		if s.looping.Load() {
			// The receive loop owns the transport; just wait for it to
			// route the CONNACK our way.
			select {
			case a, ok := <-ack:
				if !ok {
					return nil, &TransportError{Op: "handshake", Err: net.ErrClosed}
				}
				return a, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timeout.C:
				return nil, ErrConnectTimeout
			}
		}

		switch err := s.readOnce(); {
		case err == nil:
		case errors.Is(err, ErrNoData):
			time.Sleep(pollInterval)
		default:
			// During the handshake a malformed frame is as fatal as a
			// dead transport: the attempt cannot be trusted.
			return nil, err
		}
	}
}

// readOnce performs one transport poll and drains every complete frame
// from the reassembly buffer. It returns ErrNoData when the poll window
// was idle, a *TransportError when the stream died, or the decode error
// that emptied the buffer.
func (s *session) readOnce() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "receive", Err: net.ErrClosed}
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	b, err := conn.TryReceive()
	if err != nil {
		if errors.Is(err, ErrNoData) {
			return ErrNoData
		}
		return &TransportError{Op: "receive", Err: err}
	}
	s.rxBuf = append(s.rxBuf, b...)

	for len(s.rxBuf) > 0 {
		p, n, err := packet.Decode(s.rxBuf)
		if errors.Is(err, packet.ErrIncomplete) {
			break
		}
		if err != nil {
			// The stream offers no way to find the next frame boundary
			// after a malformed frame; drop the buffer and report.
			s.rxBuf = nil
			return err
		}
		s.rxBuf = s.rxBuf[n:]
		s.route(p)
	}
	if len(s.rxBuf) == 0 {
		s.rxBuf = nil
	}
	return nil
}

// route dispatches one decoded frame. PUBLISH goes to the handler, CONNACK
// to the armed handshake intercept, everything else is noise here.
func (s *session) route(p packet.Packet) {
	switch pkt := p.(type) {
	case *packet.Publish:
		s.dispatch(pkt)
	case *packet.ConnAck:
		s.mu.Lock()
		ch := s.connackCh
		s.connackCh = nil
		s.mu.Unlock()
		if ch == nil {
			log.Debug("Dropping CONNACK with no handshake in flight")
			return
		}
		ch <- pkt
	default:
		log.Debug("Ignoring inbound packet", "type", p.Type().String())
	}
}

// dispatch invokes the message handler under the callback lock, so
// replacing the handler cannot race an in-flight invocation.
func (s *session) dispatch(p *packet.Publish) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	if s.handler == nil {
		log.Debug("No message handler registered, dropping message", "topic", p.TopicName)
		return
	}
	s.handler(p.TopicName, p.Payload)
}

func (s *session) SetMessageHandler(handler MessageHandler) {
	s.cbMu.Lock()
	s.handler = handler
	s.cbMu.Unlock()
}

func (s *session) Publish(ctx context.Context, topicName string, qos byte, retain bool, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if err := topic.Validate(topicName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	conn, err := s.connectedConn()
	if err != nil {
		return err
	}

	p := &packet.Publish{TopicName: topicName, Payload: payload, QoS: qos, Retain: retain}
	if qos > 0 {
		p.ID = s.nextPacketID()
	}
	return s.writeConn(conn, p)
}

func (s *session) Subscribe(ctx context.Context, filter string, qos byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if err := topic.ValidateFilter(filter); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	conn, err := s.connectedConn()
	if err != nil {
		return err
	}

	sub := &packet.Subscribe{
		ID:     s.nextPacketID(),
		Topics: []packet.TopicFilter{{Name: filter, QoS: qos}},
	}
	log.Debug("Subscribing", "topic", filter, "qos", qos)
	return s.writeConn(conn, sub)
}

// connectedConn returns the live connection, or ErrNotConnected when the
// session is not in the connected state.
func (s *session) connectedConn() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle.Current() != stateConnected || s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// nextPacketID returns identifiers 1..65535, skipping the zero 3.1.1
// forbids.
func (s *session) nextPacketID() uint16 {
	for {
		if id := uint16(s.nextID.Add(1)); id != 0 {
			return id
		}
	}
}

// writeConn encodes and sends one frame. Writes are serialized so the
// receive loop's keep-alive pings cannot interleave with caller frames.
func (s *session) writeConn(conn Conn, p packet.Packet) error {
	frame, err := p.Encode()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.Send(frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	s.lastSend = time.Now()
	return nil
}

func (s *session) Start() error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopDone != nil {
		return nil
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.loopStop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.looping.Store(true)
	go s.receiveLoop(s.loopStop, s.loopDone)
	log.Debug("Receive loop started", "broker", s.cfg.Addr())
	return nil
}

func (s *session) Stop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.loopDone == nil {
		return
	}
	close(s.loopStop)
	<-s.loopDone
	s.loopStop, s.loopDone = nil, nil
	log.Debug("Receive loop stopped", "broker", s.cfg.Addr())
}

// receiveLoop is the session's background reader. It exits on Stop or on a
// hard transport failure, in which case the session drops to disconnected
// so callers observe the loss through IsConnected.
func (s *session) receiveLoop(stop <-chan struct{}, done chan struct{}) {
	defer s.clearLoop(done)
	defer s.looping.Store(false)
	defer close(done)

	keepAlive := time.Duration(s.cfg.KeepAlive) * time.Second
	for {
		select {
		case <-stop:
			return
		default:
		}

		switch err := s.readOnce(); {
		case err == nil:
		case errors.Is(err, ErrNoData):
			if err := s.maybePing(keepAlive); err != nil {
				log.Warn("Receive loop stopping, keep-alive send failed", "err", err)
				s.dropConn()
				return
			}
			select {
			case <-stop:
				return
			case <-time.After(pollInterval):
			}
		default:
			var derr *packet.DecodeError
			if errors.As(err, &derr) {
				log.Warn("Dropping undecodable bytes from broker", "err", err)
				continue
			}
			log.Warn("Receive loop stopping, transport failed", "err", err)
			s.dropConn()
			return
		}
	}
}

// clearLoop releases the loop bookkeeping after a self-initiated exit, so
// a later Start can launch a fresh loop. When Stop initiated the exit it
// already holds loopMu and clears the fields itself; the identity check
// keeps us from clobbering a newer loop's state.
func (s *session) clearLoop(done chan struct{}) {
	s.loopMu.Lock()
	if s.loopDone == done {
		s.loopStop, s.loopDone = nil, nil
	}
	s.loopMu.Unlock()
}

// maybePing sends a PINGREQ when the keep-alive interval elapsed with no
// outbound traffic, keeping an otherwise idle session alive.
func (s *session) maybePing(keepAlive time.Duration) error {
	if keepAlive <= 0 {
		return nil
	}
	conn, err := s.connectedConn()
	if err != nil {
		// Handshake still in flight; nothing to keep alive yet.
		return nil
	}

	s.writeMu.Lock()
	idle := time.Since(s.lastSend)
	s.writeMu.Unlock()
	if idle < keepAlive {
		return nil
	}
	log.Debug("Sending PINGREQ", "idle", idle.String())
	return s.writeConn(conn, packet.PingReq{})
}

// dropConn tears the connection down after a receive-loop failure.
func (s *session) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	ch := s.connackCh
	s.connackCh = nil
	s.fireLocked(eventDrop)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if ch != nil {
		close(ch)
	}
}

func (s *session) Disconnect() {
	s.Stop()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	ch := s.connackCh
	s.connackCh = nil
	wasConnected := s.lifecycle.Current() == stateConnected
	s.fireLocked(eventDrop)
	s.mu.Unlock()

	if conn != nil {
		if wasConnected {
			// Best effort: tell the broker we are leaving cleanly.
			_ = s.writeConn(conn, packet.Disconnect{})
		}
		_ = conn.Close()
		log.Info("Disconnected from MQTT broker", "broker", s.cfg.Addr())
	}
	if ch != nil {
		close(ch)
	}
}
