package services

import (
	"context"
	"errors"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/matchwise/location-agent/pkg/geolocate"
	"github.com/matchwise/location-agent/pkg/mqtt"
)

// TrackerService owns one location engine instance. It activates the engine
// when it starts (inert until the session gate opens), optionally refreshes
// it on a timer, and optionally listens for refresh commands over MQTT.
type TrackerService struct {
	// Configuration fields
	refreshTopic    string
	qos             int
	refreshInterval time.Duration

	// Dependencies
	engine     *geolocate.Engine
	gate       SessionGate
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	// Internal state management
	gatePollInterval time.Duration
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

// NewTrackerService creates a new TrackerService. mqttClient may be nil when
// no refresh command topic is configured; gate may be nil to always run.
func NewTrackerService(refreshTopic string, qos int, refreshInterval time.Duration,
	engine *geolocate.Engine, gate SessionGate, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *TrackerService {
	return &TrackerService{
		refreshTopic:     refreshTopic,
		qos:              qos,
		refreshInterval:  refreshInterval,
		engine:           engine,
		gate:             gate,
		mqttClient:       mqttClient,
		logger:           logger,
		gatePollInterval: 5 * time.Second,
	}
}

// Start activates the engine and the refresh plumbing.
func (t *TrackerService) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.logger.Warn().Msg("Tracker service is already running")
		return errors.New("tracker service is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())

	skip := t.gate != nil && !t.gate.Authenticated()
	if err := t.engine.Activate(skip); err != nil {
		t.cancel()
		return err
	}
	if skip {
		t.logger.Info().Msg("No authenticated session yet, location engine held back")
		t.wg.Add(1)
		go t.waitForSession()
	}

	if t.refreshInterval > 0 {
		t.wg.Add(1)
		go t.refreshLoop()
	}

	if t.mqttClient != nil && t.refreshTopic != "" {
		token := t.mqttClient.Subscribe(t.refreshTopic, byte(t.qos), func(client MQTT.Client, msg MQTT.Message) {
			t.logger.Info().Str("topic", msg.Topic()).Msg("Refresh command received")
			t.engine.Refresh()
		})
		if token.Wait() && token.Error() != nil {
			t.cancel()
			t.wg.Wait()
			t.engine.Deactivate()
			return token.Error()
		}
	}

	t.running = true
	t.logger.Info().
		Str("refresh_topic", t.refreshTopic).
		Dur("refresh_interval", t.refreshInterval).
		Msg("Tracker service started")
	return nil
}

// Stop tears down the refresh plumbing and releases the engine.
func (t *TrackerService) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		t.logger.Warn().Msg("Tracker service is not running")
		return errors.New("tracker service is not running")
	}

	t.cancel()
	t.wg.Wait()

	if t.mqttClient != nil && t.refreshTopic != "" {
		token := t.mqttClient.Unsubscribe(t.refreshTopic)
		if token.Wait() && token.Error() != nil {
			t.logger.Warn().Err(token.Error()).Str("topic", t.refreshTopic).Msg("Failed to unsubscribe from refresh topic")
		}
	}

	if err := t.engine.Close(); err != nil {
		t.logger.Error().Err(err).Msg("Failed to close location engine")
		return err
	}

	t.running = false
	t.logger.Info().Msg("Tracker service stopped")
	return nil
}

// waitForSession polls the gate and re-activates the engine once a session
// exists.
func (t *TrackerService) waitForSession() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.gatePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !t.gate.Authenticated() {
				continue
			}
			t.engine.Deactivate()
			if err := t.engine.Activate(false); err != nil {
				t.logger.Error().Err(err).Msg("Failed to activate location engine")
				return
			}
			t.logger.Info().Msg("Session established, location engine activated")
			return
		case <-t.ctx.Done():
			return
		}
	}
}

// refreshLoop forces a sensor read every refreshInterval.
func (t *TrackerService) refreshLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.engine.Refresh()
		case <-t.ctx.Done():
			return
		}
	}
}
