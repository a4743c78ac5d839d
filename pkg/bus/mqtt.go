package bus

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jordansnyder/maestra-core/pkg/util"
)

const mqttOpTimeout = 5 * time.Second

// MQTTBus is the topic-tree flavour of the fan-out bus. Publishes use
// QoS 1; request/reply is not supported on this tree.
type MQTTBus struct {
	client mqtt.Client
}

// ConnectMQTT dials the broker with auto-reconnect enabled.
func ConnectMQTT(brokerAddr, clientID string) (*MQTTBus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerAddr).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			util.WithComponent("mqtt").Infof("connected to %s", brokerAddr)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			util.WithComponent("mqtt").WithError(err).Warn("connection lost")
		})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttOpTimeout) {
		return nil, util.NewDependencyError("mqtt", context.DeadlineExceeded)
	}
	if err := tok.Error(); err != nil {
		return nil, util.NewDependencyError("mqtt", err)
	}
	return &MQTTBus{client: client}, nil
}

// Publish sends a payload on a slash topic with QoS 1.
func (b *MQTTBus) Publish(topic string, payload []byte) error {
	tok := b.client.Publish(topic, 1, false, payload)
	if !tok.WaitTimeout(mqttOpTimeout) {
		return util.ErrUpstreamTimeout
	}
	return tok.Error()
}

// Request is unsupported on the topic tree.
func (b *MQTTBus) Request(context.Context, string, []byte, time.Duration) ([]byte, error) {
	return nil, util.ErrUpstreamRejected
}

type mqttSubscription struct {
	client mqtt.Client
	topic  string
}

func (s *mqttSubscription) Unsubscribe() error {
	tok := s.client.Unsubscribe(s.topic)
	tok.WaitTimeout(mqttOpTimeout)
	return tok.Error()
}

// Subscribe registers a handler; topic may use + and # wildcards.
func (b *MQTTBus) Subscribe(topic string, h Handler) (Subscription, error) {
	tok := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !tok.WaitTimeout(mqttOpTimeout) {
		return nil, util.ErrUpstreamTimeout
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &mqttSubscription{client: b.client, topic: topic}, nil
}

// SubscribeRequests is unsupported on the topic tree.
func (b *MQTTBus) SubscribeRequests(string, Responder) (Subscription, error) {
	return nil, util.ErrUpstreamRejected
}

// Connected reports whether the client currently has a broker link.
func (b *MQTTBus) Connected() bool {
	return b.client != nil && b.client.IsConnectionOpen()
}

// Close disconnects, allowing in-flight publishes a short grace period.
func (b *MQTTBus) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
	}
}
