package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matchwise/location-agent/internal/service_registry"
	"github.com/matchwise/location-agent/internal/utils"
	"github.com/matchwise/location-agent/pkg/encryption"
	"github.com/matchwise/location-agent/pkg/file"
	"github.com/matchwise/location-agent/pkg/identity"
	"github.com/matchwise/location-agent/pkg/jwt"
	"github.com/matchwise/location-agent/pkg/mqtt"
)

func main() {
	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device information")
	}

	// Token-at-rest encryption and the session token manager
	encryptionManager := encryption.NewEncryptionManager(fileClient)
	if err := encryptionManager.Initialize(config.Security.AESKeyFile); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize encryption manager")
	}

	jwtManager := jwt.NewJWTManager(config.Security.JWTFile, fileClient, encryptionManager)
	if err := jwtManager.Initialize(config.Security.JWTSecretFile); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize session token manager")
	}

	// Initialize the shared MQTT connection when a broker is configured
	var mqttClient mqtt.MQTTClient
	if config.MQTT.Broker != "" {
		// Generate a unique MQTT Client ID by appending a UUID
		config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT client ID")

		mqttService := mqtt.NewMqttService(fileClient)
		if err := mqttService.Initialize(config.MQTT.Broker, config.MQTT.ClientID, config.MQTT.CACertificate); err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = mqttService
		defer mqttService.Disconnect(250)
	}

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, fileClient, jwtManager, logger)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config, deviceInfo); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop services cleanly")
	}
}
