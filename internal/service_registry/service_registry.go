package service_registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/matchwise/location-agent/internal/registry"
	"github.com/matchwise/location-agent/internal/services"
	"github.com/matchwise/location-agent/internal/utils"
	"github.com/matchwise/location-agent/pkg/backend"
	"github.com/matchwise/location-agent/pkg/file"
	"github.com/matchwise/location-agent/pkg/geolocate"
	"github.com/matchwise/location-agent/pkg/identity"
	"github.com/matchwise/location-agent/pkg/jwt"
	"github.com/matchwise/location-agent/pkg/mqtt"
	"github.com/matchwise/location-agent/pkg/store"
)

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	fileClient  file.FileOperations
	jwtManager  jwt.JWTManagerInterface
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
// mqttClient may be nil when no MQTT transport is configured.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations,
	jwtManager jwt.JWTManagerInterface, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		fileClient: fileClient,
		jwtManager: jwtManager,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return err
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, deviceInfo identity.DeviceInfoInterface) error {
	// Ordered service definitions with inline constructors; the session
	// service must run before the tracker so the gate can open.
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "session",
			enabled: config.Services.Session.Enabled,
			constructor: func() (registry.Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("session service requires an MQTT connection")
				}
				return services.NewSessionService(
					config.Services.Session.Topic,
					config.MQTT.ClientID,
					config.Services.Session.QOS,
					config.Services.Session.MaxRetries,
					time.Duration(config.Services.Session.BaseDelay)*time.Second,
					time.Duration(config.Services.Session.MaxBackoff)*time.Second,
					time.Duration(config.Services.Session.ResponseTimeout)*time.Second,
					deviceInfo,
					sr.mqttClient,
					sr.jwtManager,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "tracker",
			enabled: config.Services.Tracker.Enabled,
			constructor: func() (registry.Service, error) {
				engine, err := sr.buildEngine(config, deviceInfo)
				if err != nil {
					return nil, err
				}
				return services.NewTrackerService(
					config.Services.Tracker.RefreshTopic,
					config.Services.Tracker.QOS,
					time.Duration(config.Services.Tracker.RefreshInterval)*time.Second,
					engine,
					services.NewJWTSessionGate(sr.jwtManager),
					sr.mqttClient,
					sr.Logger,
				), nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

// buildEngine assembles the location engine from the tracker configuration:
// cache store, position source and backend syncer.
func (sr *ServiceRegistry) buildEngine(config *utils.Config, deviceInfo identity.DeviceInfoInterface) (*geolocate.Engine, error) {
	tracker := config.Services.Tracker

	var cache store.Store
	if tracker.CacheFile != "" {
		fileStore, err := store.NewFileStore(tracker.CacheFile, sr.fileClient)
		if err != nil {
			sr.Logger.Error().Err(err).Msg("failed to open location cache store")
			return nil, err
		}
		cache = fileStore
	} else {
		cache = store.NewMemoryStore()
	}

	var provider geolocate.Provider
	switch tracker.Sensor.Source {
	case "gps":
		provider = geolocate.NewGPSSensorProvider(tracker.Sensor.GPSDevicePort, tracker.Sensor.GPSDeviceBaudRate)
	case "network":
		networkProvider, err := geolocate.NewNetworkProvider(tracker.Sensor.MapsAPIKey)
		if err != nil {
			sr.Logger.Error().Err(err).Msg("failed to create network position provider")
			return nil, err
		}
		provider = networkProvider
	default:
		// No position source; the engine surfaces the unsupported error.
		provider = nil
	}

	var syncer geolocate.Syncer
	switch tracker.Transport {
	case "http":
		syncer = backend.NewHTTPSyncer(tracker.BackendURL, sr.jwtManager, sr.Logger)
	case "mqtt":
		if sr.mqttClient == nil {
			return nil, errors.New("mqtt transport requires an MQTT connection")
		}
		syncer = backend.NewMQTTSyncer(tracker.Topic, tracker.QOS, deviceInfo, sr.mqttClient, sr.Logger)
	case "":
		syncer = nil
	default:
		return nil, fmt.Errorf("unknown tracker transport: %s", tracker.Transport)
	}

	return geolocate.NewEngine(geolocate.Config{
		FreshnessWindow:     time.Duration(tracker.FreshnessWindow) * time.Second,
		SyncThresholdMeters: tracker.SyncThresholdM,
		SensorTimeout:       time.Duration(tracker.SensorTimeout) * time.Second,
	}, cache, provider, syncer, sr.Logger), nil
}
