package utils

import (
	"github.com/matchwise/location-agent/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate
	} `yaml:"mqtt"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	Services struct {
		Session struct {
			Enabled         bool   `yaml:"enabled"`          // Enable/disable silent re-auth
			Topic           string `yaml:"topic"`            // MQTT topic for session requests
			QOS             int    `yaml:"qos"`              // MQTT QoS level for session messages
			MaxRetries      int    `yaml:"max_retries"`      // Maximum number of retry attempts
			BaseDelay       int    `yaml:"base_delay"`       // Initial delay between retries (in seconds)
			MaxBackoff      int    `yaml:"max_backoff"`      // Maximum backoff time between retries (in seconds)
			ResponseTimeout int    `yaml:"response_timeout"` // Timeout for response per attempt (in seconds)
		} `yaml:"session"`

		Tracker struct {
			Enabled         bool    `yaml:"enabled"`          // Enable/disable the location tracker
			Transport       string  `yaml:"transport"`        // Backend transport: "http" or "mqtt"
			BackendURL      string  `yaml:"backend_url"`      // Base URL of the backend (http transport)
			Topic           string  `yaml:"topic"`            // MQTT topic for location updates (mqtt transport)
			QOS             int     `yaml:"qos"`              // MQTT QoS level for location messages
			RefreshTopic    string  `yaml:"refresh_topic"`    // MQTT topic for refresh commands, empty to disable
			RefreshInterval int     `yaml:"refresh_interval"` // Interval between forced refreshes (in seconds), 0 to disable
			CacheFile       string  `yaml:"cache_file"`       // Path to the cached reading store, empty for in-memory
			FreshnessWindow int     `yaml:"freshness_window"` // Max cached reading age used without re-sensing (in seconds)
			SyncThresholdM  float64 `yaml:"sync_threshold_m"` // Minimum movement to justify a backend write (in meters)
			SensorTimeout   int     `yaml:"sensor_timeout"`   // Timeout for a single position request (in seconds)

			Sensor struct {
				Source            string `yaml:"source"`          // Position source: "gps", "network" or "none"
				GPSDevicePort     string `yaml:"gps_device_port"` // UNIX port where the GPS sensor is mounted
				GPSDeviceBaudRate int    `yaml:"gps_baud_rate"`   // The baud rate for the GPS sensor
				MapsAPIKey        string `yaml:"maps_api_key"`    // Google Maps API key for the network source
			} `yaml:"sensor"`
		} `yaml:"tracker"`
	} `yaml:"services"`

	Security struct {
		JWTFile       string `yaml:"jwt_file"`        // Path to the session token file
		JWTSecretFile string `yaml:"jwt_secret_file"` // Path to the JWT secret file
		AESKeyFile    string `yaml:"aes_key_file"`    // Path to the AES key file
	} `yaml:"security"`
}

// ApplyDefaults fills the tracker policy knobs with their fixed defaults
// when the file leaves them unset: 5 minute freshness window, 200 meter sync
// threshold, 8 second sensor timeout.
func (c *Config) ApplyDefaults() {
	tracker := &c.Services.Tracker
	if tracker.FreshnessWindow <= 0 {
		tracker.FreshnessWindow = 300
	}
	if tracker.SyncThresholdM <= 0 {
		tracker.SyncThresholdM = 200
	}
	if tracker.SensorTimeout <= 0 {
		tracker.SensorTimeout = 8
	}
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	return &config, nil
}
