package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matchwise/location-agent/internal/models"
	"github.com/matchwise/location-agent/pkg/geolocate"
	"github.com/matchwise/location-agent/pkg/identity"
	"github.com/matchwise/location-agent/pkg/mqtt"
	"github.com/rs/zerolog"
)

// MQTTSyncer publishes location updates to an MQTT topic.
type MQTTSyncer struct {
	topic      string
	qos        int
	deviceInfo identity.DeviceInfoInterface
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger
}

// NewMQTTSyncer creates an MQTTSyncer publishing to topic at the given QoS.
func NewMQTTSyncer(topic string, qos int, deviceInfo identity.DeviceInfoInterface,
	mqttClient mqtt.MQTTClient, logger zerolog.Logger) *MQTTSyncer {
	return &MQTTSyncer{
		topic:      topic,
		qos:        qos,
		deviceInfo: deviceInfo,
		mqttClient: mqttClient,
		logger:     logger,
	}
}

// Sync publishes coords as a LocationUpdate message.
func (m *MQTTSyncer) Sync(ctx context.Context, coords geolocate.Coordinates) error {
	message := models.LocationUpdate{
		DeviceID:  m.deviceInfo.GetDeviceID(),
		Timestamp: time.Now(),
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to serialize location update: %w", err)
	}

	token := m.mqttClient.Publish(m.topic, byte(m.qos), false, payload)

	timeout := time.Minute
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing location update to %s", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish location update to %s: %w", m.topic, err)
	}

	m.logger.Debug().
		Str("topic", m.topic).
		Msg("Location update published")
	return nil
}
