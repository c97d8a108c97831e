package models

import (
	"time"
)

// LocationUpdate is the payload published to the backend when the device's
// position has materially changed.
type LocationUpdate struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}
