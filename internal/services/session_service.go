package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/matchwise/location-agent/internal/models"
	"github.com/matchwise/location-agent/pkg/identity"
	"github.com/matchwise/location-agent/pkg/jwt"
	"github.com/matchwise/location-agent/pkg/mqtt"
)

// SessionService obtains a session token from the backend without user
// interaction: it presents the device's refresh token over MQTT
// request/response and stores the minted JWT. The rest of the agent only
// ever observes the result through the session gate.
type SessionService struct {
	// Configuration fields
	pubTopic        string
	clientID        string
	qos             int
	maxRetries      int
	baseDelay       time.Duration
	maxDelay        time.Duration
	responseTimeout time.Duration

	// Dependencies
	deviceInfo identity.DeviceInfoInterface
	mqttClient mqtt.MQTTClient
	jwtManager jwt.JWTManagerInterface
	logger     zerolog.Logger

	// Internal state for managing service lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewSessionService initializes and returns a new SessionService instance.
func NewSessionService(
	pubTopic string,
	clientID string,
	qos int,
	maxRetries int,
	baseDelay time.Duration,
	maxDelay time.Duration,
	responseTimeout time.Duration,
	deviceInfo identity.DeviceInfoInterface,
	mqttClient mqtt.MQTTClient,
	jwtManager jwt.JWTManagerInterface,
	logger zerolog.Logger,
) *SessionService {
	return &SessionService{
		pubTopic:        pubTopic,
		clientID:        clientID,
		qos:             qos,
		maxRetries:      maxRetries,
		baseDelay:       baseDelay,
		maxDelay:        maxDelay,
		responseTimeout: responseTimeout,
		deviceInfo:      deviceInfo,
		mqttClient:      mqttClient,
		jwtManager:      jwtManager,
		logger:          logger,
	}
}

// Start begins the session exchange if it's not already running. A session
// that is still valid short-circuits the exchange entirely.
func (ss *SessionService) Start() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ctx != nil {
		ss.logger.Warn().Msg("Session service is already running")
		return errors.New("session service is already running")
	}

	ss.ctx, ss.cancel = context.WithCancel(context.Background())

	if ss.jwtManager.GetJWT() != "" {
		ss.logger.Info().Msg("Existing session token is still valid, skipping exchange")
		return nil
	}

	ss.logger.Info().Str("client_id", ss.clientID).Msg("Starting session exchange")
	return ss.Run()
}

// Run builds the session request and performs the exchange.
func (ss *SessionService) Run() error {
	payload := models.SessionRequest{
		RefreshToken: ss.jwtManager.GetRefreshToken(),
	}

	if deviceID := ss.deviceInfo.GetDeviceID(); deviceID != "" {
		ss.logger.Info().Str("device_id", deviceID).Msg("Requesting session with existing device ID")
		payload.DeviceID = deviceID
	} else {
		ss.logger.Info().Msg("No device ID yet, requesting session with client ID")
		payload.ClientID = ss.clientID
	}

	return ss.Exchange(payload)
}

// Exchange publishes the session request and waits for a response, retrying
// with exponential backoff and jitter.
func (ss *SessionService) Exchange(payload models.SessionRequest) error {
	respTopic := fmt.Sprintf("%s/response/%s", ss.pubTopic, ss.clientID)
	if deviceID := ss.deviceInfo.GetDeviceID(); deviceID != "" {
		respTopic = fmt.Sprintf("%s/response/%s", ss.pubTopic, deviceID)
	}

	ss.logger.Info().Str("topic", respTopic).Msg("Subscribing to session response topic")

	responseChannel := make(chan models.SessionResponse, 1)
	defer close(responseChannel)

	token := ss.mqttClient.Subscribe(respTopic, byte(ss.qos), func(client MQTT.Client, msg MQTT.Message) {
		var response models.SessionResponse
		if err := json.Unmarshal(msg.Payload(), &response); err != nil {
			ss.logger.Error().Err(err).Msg("Error parsing session response")
			return
		}
		if response.Token == "" {
			ss.logger.Error().Msg("Invalid session response")
			return
		}
		responseChannel <- response
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to response topic: %w", token.Error())
	}

	defer func() {
		unsub := ss.mqttClient.Unsubscribe(respTopic)
		if unsub.Wait() && unsub.Error() != nil {
			ss.logger.Warn().Err(unsub.Error()).Msgf("failed to unsubscribe from %s", respTopic)
		}
	}()

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize session request: %w", err)
	}

	for attempt := 0; attempt <= ss.maxRetries; attempt++ {
		delay := ss.baseDelay * time.Duration(1<<uint(attempt))
		if delay > ss.maxDelay {
			delay = ss.maxDelay
		}
		jitter := time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		delay = time.Duration(float64(delay)*0.75) + jitter

		attemptCtx, cancel := context.WithTimeout(ss.ctx, ss.responseTimeout)

		pub := ss.mqttClient.Publish(ss.pubTopic, byte(ss.qos), false, payloadBytes)
		if pub.Wait() && pub.Error() != nil {
			cancel()
			ss.logger.Error().Err(pub.Error()).Int("attempt", attempt+1).Msg("Failed to publish session request")
			if attempt == ss.maxRetries {
				return fmt.Errorf("failed to publish after %d attempts: %w", ss.maxRetries+1, pub.Error())
			}
		} else {
			select {
			case response := <-responseChannel:
				cancel()
				ss.logger.Info().Int("attempt", attempt+1).Msg("Session established")
				return ss.saveSession(response)
			case <-attemptCtx.Done():
				cancel()
				ss.logger.Warn().Int("attempt", attempt+1).Msg("Session exchange timeout or cancelled")
				if errors.Is(ss.ctx.Err(), context.Canceled) {
					return errors.New("session service stopped")
				}
				if attempt == ss.maxRetries {
					return errors.New("session exchange timeout after maximum retries")
				}
			}
		}

		select {
		case <-time.After(delay):
			continue
		case <-ss.ctx.Done():
			ss.logger.Warn().Msg("Session service stopping during retry delay")
			return errors.New("session service stopped")
		}
	}

	return errors.New("unexpected error: retry loop completed without resolution")
}

// saveSession persists the minted tokens and the device ID if it changed.
func (ss *SessionService) saveSession(response models.SessionResponse) error {
	if err := ss.jwtManager.SaveTokens(response.Token, response.RefreshToken); err != nil {
		return fmt.Errorf("failed to save session tokens: %w", err)
	}
	if response.DeviceID != "" && response.DeviceID != ss.deviceInfo.GetDeviceID() {
		return ss.deviceInfo.SaveDeviceID(response.DeviceID)
	}
	return nil
}

// Stop gracefully shuts down the session service.
func (ss *SessionService) Stop() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ctx == nil {
		return errors.New("session service is not running")
	}

	ss.cancel()
	ss.ctx = nil
	ss.cancel = nil

	ss.logger.Info().Msg("Session service stopped")
	return nil
}
