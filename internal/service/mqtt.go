package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/mqtt"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/snapshot"
)

// mqttCallTimeout bounds a service call received over MQTT.
const mqttCallTimeout = 2 * time.Minute

// Subscriber is the part of the MQTT client the handler registers with.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	QoS() byte
}

// HandleMQTT runs the service call carried by a message on
// hasnapshot/service/{service}. The payload is the JSON call data; an
// empty payload means no options. The outcome goes out as an event.
func (s *Service) HandleMQTT(topic string, payload []byte) error {
	service, ok := mqtt.ServiceFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrUnknownService, topic)
	}

	data := map[string]any{}
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("%w: call data on %s: %w", snapshot.ErrParse, topic, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttCallTimeout)
	defer cancel()

	_, err := s.Call(ctx, service, data, SourceMQTT)
	return err
}

// SubscribeMQTT registers HandleMQTT for every service topic.
func (s *Service) SubscribeMQTT(sub Subscriber) error {
	if err := sub.Subscribe(mqtt.Topics{}.AllServices(), sub.QoS(), s.HandleMQTT); err != nil {
		return fmt.Errorf("subscribing to service calls: %w", err)
	}
	return nil
}
