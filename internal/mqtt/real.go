package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 256
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Topic    string // prefix, DefaultTopic when empty
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	prefix string
	log    *zap.SugaredLogger

	mu     sync.Mutex
	buffer *ringBuffer
}

// NewRealPublisher creates a publisher for the given broker. The client keeps
// retrying in the background when the broker is unreachable at startup.
func NewRealPublisher(opts Options, log *zap.SugaredLogger) (*RealPublisher, error) {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	p := &RealPublisher{
		prefix: opts.Topic,
		log:    log,
		buffer: newRingBuffer(bufferCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	co := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(SystemTopic(p.prefix), will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "error", err)
		})

	p.client = paho.NewClient(co)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warnw("mqtt broker not reachable yet, buffering events", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect replays messages buffered while disconnected.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	msgs := p.buffer.drainAll()
	p.mu.Unlock()

	if len(msgs) > 0 {
		p.log.Infow("mqtt connected, replaying buffered events", "count", len(msgs))
	}
	for _, m := range msgs {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.log.Warnw("mqtt replay failed", "topic", m.topic, "error", token.Error())
		}
	}
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		firstDrop := p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		if firstDrop {
			p.log.Warnw("mqtt buffer full, dropping oldest", "capacity", bufferCapacity)
		}
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Publish sends a controller event to the MQTT broker.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(EventTopic(p.prefix, event.Host), 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(SystemTopic(p.prefix), 1, event.Retained, payload)
}

// IsConnected reports whether the client currently has a live connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
