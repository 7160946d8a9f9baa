package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/screenmon-io/screenmon/pkg/log"
	"github.com/screenmon-io/screenmon/pkg/mqtt/packet"
	"github.com/screenmon-io/screenmon/pkg/mqtt/topic"
)

// pahoClient adapts github.com/eclipse/paho.mqtt.golang to the Client
// interface. Paho runs its own reader goroutine, so Start and Stop are
// acknowledged no-ops; auto-reconnect is disabled to keep connection
// lifecycle decisions with the caller, like the built-in engine.
type pahoClient struct {
	cfg *ClientConfig

	mu  sync.Mutex
	cli pahomqtt.Client

	// subMu guards the subscription filters used for routing.
	subMu sync.Mutex
	subs  map[string]byte

	cbMu    sync.Mutex
	handler MessageHandler
}

func newPahoClient(cfg *ClientConfig) *pahoClient {
	return &pahoClient{cfg: cfg, subs: make(map[string]byte)}
}

func (c *pahoClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil && c.cli.IsConnected() {
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker("tcp://" + c.cfg.Addr()).
		SetClientID(c.cfg.ClientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetKeepAlive(time.Duration(c.cfg.KeepAlive) * time.Second).
		SetCleanSession(c.cfg.CleanSession).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetDefaultPublishHandler(func(_ pahomqtt.Client, m pahomqtt.Message) {
			c.route(m.Topic(), m.Payload())
		})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("MQTT connection lost", "broker", c.cfg.Addr(), "err", err)
	})

	log.Debug("Connecting via paho", "broker", c.cfg.Addr(), "clientID", c.cfg.ClientID)
	cli := pahomqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout + time.Second) {
		cli.Disconnect(0)
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return pahoConnectError(err)
	}

	c.cli = cli
	log.Info("Connected to MQTT broker", "broker", c.cfg.Addr(), "clientID", c.cfg.ClientID)
	return nil
}

// pahoConnectError translates paho's CONNACK failures into the same error
// taxonomy the built-in engine reports.
func pahoConnectError(err error) error {
	for code, connErr := range packets.ConnErrors {
		if connErr == nil || code == packets.Accepted {
			continue
		}
		if err == connErr {
			return &ConnectionRejectedError{Code: packet.ReturnCode(code)}
		}
	}
	return &TransportError{Op: "dial", Err: err}
}

func (c *pahoClient) Disconnect() {
	c.mu.Lock()
	cli := c.cli
	c.cli = nil
	c.mu.Unlock()

	c.subMu.Lock()
	c.subs = make(map[string]byte)
	c.subMu.Unlock()

	if cli != nil && cli.IsConnected() {
		cli.Disconnect(250)
		log.Info("Disconnected from MQTT broker", "broker", c.cfg.Addr())
	}
}

func (c *pahoClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli != nil && c.cli.IsConnected()
}

func (c *pahoClient) Publish(ctx context.Context, topicName string, qos byte, retain bool, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if err := topic.Validate(topicName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}

	cli := c.connected()
	if cli == nil {
		return ErrNotConnected
	}
	token := cli.Publish(topicName, qos, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *pahoClient) Subscribe(ctx context.Context, filter string, qos byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if err := topic.ValidateFilter(filter); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}

	cli := c.connected()
	if cli == nil {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subs[filter] = qos
	c.subMu.Unlock()

	// nil callback: messages arrive through the default publish handler,
	// which routes against the subscription set.
	token := cli.Subscribe(filter, qos, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.subMu.Lock()
		delete(c.subs, filter)
		c.subMu.Unlock()
		return &TransportError{Op: "send", Err: err}
	}
	log.Debug("Subscribed", "topic", filter, "qos", qos)
	return nil
}

// route matches an inbound message against the subscription set and hands
// it to the registered handler.
func (c *pahoClient) route(topicName string, payload []byte) {
	c.subMu.Lock()
	matched := false
	for filter := range c.subs {
		if topic.Match(filter, topicName) {
			matched = true
			break
		}
	}
	c.subMu.Unlock()

	if !matched {
		log.Debug("Received message on unhandled topic", "topic", topicName)
		return
	}

	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if c.handler == nil {
		log.Debug("No message handler registered, dropping message", "topic", topicName)
		return
	}
	c.handler(topicName, payload)
}

func (c *pahoClient) SetMessageHandler(handler MessageHandler) {
	c.cbMu.Lock()
	c.handler = handler
	c.cbMu.Unlock()
}

// Start is a no-op for the paho driver: its reader starts with the
// connection.
func (c *pahoClient) Start() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stop is a no-op for the paho driver.
func (c *pahoClient) Stop() {}

func (c *pahoClient) connected() pahomqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil || !c.cli.IsConnected() {
		return nil
	}
	return c.cli
}
