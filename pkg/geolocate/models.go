package geolocate

import "math"

// Coordinates is a latitude/longitude pair in decimal degrees. It is treated
// as an immutable value; a reading is valid only if both components are
// finite numbers.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both components are finite.
func (c Coordinates) Valid() bool {
	return isFinite(c.Latitude) && isFinite(c.Longitude)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
