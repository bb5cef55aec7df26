package transport

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mapnull/mqtt-serial-bridge/internal/bridgeerrors"
	"github.com/mapnull/mqtt-serial-bridge/internal/logger"
	"github.com/mapnull/mqtt-serial-bridge/internal/proto"
	"github.com/mapnull/mqtt-serial-bridge/internal/recovery"
)

// BusConfig configures the MQTT connection. QoS applies to every publish
// and subscribe the bridge makes (§4.2).
type BusConfig struct {
	Host       string
	Port       int
	ClientID   string
	QoS        byte
	RetryDelay time.Duration // 0 defaults to 5s, mirrors the teacher's publisher
}

// MessageHandler receives one inbound message for a subscribed topic.
type MessageHandler func(topic, payload string)

// ConnectHandler runs every time the client establishes a session — the
// initial Connect as well as every automatic reconnect paho performs on its
// own. The bridge uses this to re-subscribe to its own config topic and
// announce ST_ALIVE immediately, rather than waiting for the next 30-second
// drain (§4.5, SPEC_FULL.md §3 "grace handling of MQTT connect/disconnect").
type ConnectHandler func()

// DisconnectHandler runs the moment the session is lost, so the caller can
// clear connection-dependent bookkeeping (e.g. the bridge's paired-
// controller flag) immediately instead of only on the next drain.
type DisconnectHandler func()

// Bus wraps a paho client with the bridge's last-will status announcement
// and a circuit breaker around publish/subscribe, so a wedged broker fails
// fast instead of blocking the single-threaded event loop.
type Bus struct {
	client       paho.Client
	qos          byte
	breaker      *recovery.CircuitBreaker
	handler      MessageHandler
	onConnect    ConnectHandler
	onDisconnect DisconnectHandler
}

// NewBus constructs a Bus. statusTopic is the will topic on which the broker
// publishes "0" if the bridge disconnects uncleanly; handler receives
// every message delivered to a topic this Bus subscribes to. onConnect and
// onDisconnect may be nil; both fire on every (re)connect/disconnect, not
// just the first.
func NewBus(cfg BusConfig, statusTopic string, handler MessageHandler, onConnect ConnectHandler, onDisconnect DisconnectHandler) *Bus {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetWill(statusTopic, "0", cfg.QoS, proto.MQTTRetain)

	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	b := &Bus{
		qos: cfg.QoS,
		breaker: recovery.NewCircuitBreaker(recovery.CircuitBreakerConfig{
			Timeout: retryDelay,
		}),
		handler:      handler,
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
	}

	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.LogInfo("bus: connected to %s:%d", cfg.Host, cfg.Port)
		if b.onConnect != nil {
			b.onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		logger.LogWarn("bus: connection lost: %v", err)
		if b.onDisconnect != nil {
			b.onDisconnect()
		}
	})
	opts.SetDefaultPublishHandler(func(c paho.Client, msg paho.Message) {
		if b.handler != nil {
			b.handler(msg.Topic(), string(msg.Payload()))
		}
	})

	b.client = paho.NewClient(opts)
	return b
}

// Connect dials the broker once and waits for the handshake to finish.
// Reconnection after an established session is left to paho's
// AutoReconnect; this call only covers the initial connect.
func (b *Bus) Connect() error {
	token := b.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return bridgeerrors.NewTransportError("mqtt", "connect", err)
	}
	return nil
}

// Disconnect cleanly closes the connection, waiting up to quiesce
// milliseconds for in-flight work to drain.
func (b *Bus) Disconnect(quiesceMillis uint) {
	if b.client.IsConnected() {
		b.client.Disconnect(quiesceMillis)
	}
}

// Connected reports whether the client currently holds a live session.
func (b *Bus) Connected() bool {
	return b.client.IsConnected()
}

// Publish sends payload to topic at the configured QoS through the circuit
// breaker. Messages are never retained (proto.MQTTRetain), so a bridge that
// restarts doesn't replay stale state to fresh subscribers.
func (b *Bus) Publish(topic, payload string) error {
	err := b.breaker.Call(func() error {
		token := b.client.Publish(topic, b.qos, proto.MQTTRetain, payload)
		token.Wait()
		return token.Error()
	})
	if err != nil {
		return bridgeerrors.NewTransportError("mqtt", "publish "+topic, err)
	}
	return nil
}

// Subscribe arms delivery of topic to the handler given at construction.
func (b *Bus) Subscribe(topic string) error {
	err := b.breaker.Call(func() error {
		token := b.client.Subscribe(topic, b.qos, nil)
		token.Wait()
		return token.Error()
	})
	if err != nil {
		return bridgeerrors.NewTransportError("mqtt", "subscribe "+topic, err)
	}
	return nil
}

// Unsubscribe drops a previously-armed subscription, used when a node
// times out (§4.5 step 1).
func (b *Bus) Unsubscribe(topic string) error {
	err := b.breaker.Call(func() error {
		token := b.client.Unsubscribe(topic)
		token.Wait()
		return token.Error()
	})
	if err != nil {
		return bridgeerrors.NewTransportError("mqtt", "unsubscribe "+topic, err)
	}
	return nil
}
