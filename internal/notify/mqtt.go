package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/mqtt"
)

// Publisher is the part of the MQTT client the notifier uses.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTT publishes notifications on hasnapshot/notification.
type MQTT struct {
	pub Publisher
}

// NewMQTT returns a notifier publishing through pub.
func NewMQTT(pub Publisher) *MQTT {
	return &MQTT{pub: pub}
}

// Notify implements Notifier.
func (m *MQTT) Notify(_ context.Context, n Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := m.pub.PublishJSON(mqtt.Topics{}.Notification(), n, false); err != nil {
		return fmt.Errorf("publishing notification %s: %w", n.ID, err)
	}
	return nil
}
