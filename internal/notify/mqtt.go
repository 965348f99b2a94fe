package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/alarm-central/internal/config"
	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/logger"
)

const (
	// mqttConnectTimeout bounds the initial broker connection.
	mqttConnectTimeout = 10 * time.Second
	// mqttPublishTimeout bounds one publish; hooks must not stall dispatch.
	mqttPublishTimeout = 5 * time.Second
	// defaultTopicPrefix is used when the settings leave the prefix empty.
	defaultTopicPrefix = "alarm"
)

// MQTTPublisher forwards alarm events to an MQTT broker as JSON messages
// on <prefix>/<client_id>/<event_type> topics.
type MQTTPublisher struct {
	// client is the underlying paho client.
	client mqtt.Client
	// prefix is the topic prefix.
	prefix string
}

// eventMessage is the published JSON document.
type eventMessage struct {
	ClientID  string `json:"client_id"`
	Type      string `json:"type"`
	Sequence  uint64 `json:"sequence,omitempty"`
	SensorID  string `json:"sensor_id,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Inferred  bool   `json:"inferred"`
	Timestamp string `json:"timestamp"`
}

// NewMQTTPublisher connects to the broker described by the settings.
func NewMQTTPublisher(settings *config.MQTTSettings) (*MQTTPublisher, error) {
	clientID := settings.ClientID
	if clientID == "" {
		clientID = "alarm-central"
	}

	prefix := strings.TrimSuffix(settings.TopicPrefix, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}

	options := mqtt.NewClientOptions().
		AddBroker(settings.Broker).
		SetClientID(clientID).
		SetUsername(settings.Username).
		SetPassword(settings.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(options)
	if token := client.Connect(); !token.WaitTimeout(mqttConnectTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	return &MQTTPublisher{
		client: client,
		prefix: prefix,
	}, nil
}

// Hook adapts the publisher for registry dispatch. Publish failures are
// logged and dropped: notification is best-effort and must never stall
// event processing.
func (p *MQTTPublisher) Hook() Hook {
	return func(ctx context.Context, clientID string, event alarm.Event) {
		document, err := json.Marshal(eventMessage{
			ClientID:  clientID,
			Type:      event.Type.String(),
			Sequence:  event.Sequence,
			SensorID:  event.SensorID,
			Payload:   event.Payload,
			Inferred:  event.Type.Inferred(),
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		})
		if err != nil {
			logger.Warnf(ctx, "Failed to marshal event notification: %v", err)

			return
		}

		topic := p.prefix + "/" + clientID + "/" + event.Type.String()

		token := p.client.Publish(topic, 0, false, document)
		if !token.WaitTimeout(mqttPublishTimeout) || token.Error() != nil {
			logger.WarnKV(ctx, "Failed to publish event notification",
				"topic", topic, "error", token.Error())
		}
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(uint(mqttPublishTimeout.Milliseconds()))
}
