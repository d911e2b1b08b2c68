package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client      paho.Client
	topicPrefix string
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker, clientID, topicPrefix string) (*RealPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client, topicPrefix: topicPrefix}, nil
}

// Publish implements Publisher. QoS 0: the state snapshot is the source of
// truth, the broker only mirrors it.
func (p *RealPublisher) Publish(event Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/state", p.topicPrefix, event.Actuator)
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return nil
	}
	return token.Error()
}

// Close implements Publisher.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
