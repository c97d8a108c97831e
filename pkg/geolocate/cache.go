package geolocate

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/matchwise/location-agent/pkg/store"
)

// The cached reading lives under two keys: the JSON-encoded coordinate pair
// and the capture time in epoch milliseconds. The two are always written
// together; a reading is usable only when both are present and decode.
const (
	cacheValueKey     = "location"
	cacheTimestampKey = "location_ts"
)

type cachedReading struct {
	Coordinates Coordinates
	CapturedAt  time.Time
}

// loadCachedReading reads and validates the persisted reading. A missing or
// corrupt entry is reported as absent, never as an error.
func loadCachedReading(s store.Store) (cachedReading, bool) {
	raw, ok := s.Get(cacheValueKey)
	if !ok {
		return cachedReading{}, false
	}
	rawTS, ok := s.Get(cacheTimestampKey)
	if !ok {
		return cachedReading{}, false
	}

	var decoded struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return cachedReading{}, false
	}
	if decoded.Latitude == nil || decoded.Longitude == nil {
		return cachedReading{}, false
	}

	coords := Coordinates{Latitude: *decoded.Latitude, Longitude: *decoded.Longitude}
	if !coords.Valid() {
		return cachedReading{}, false
	}

	millis, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return cachedReading{}, false
	}

	return cachedReading{
		Coordinates: coords,
		CapturedAt:  time.UnixMilli(millis),
	}, true
}

// saveCachedReading writes both keys. The value goes first so a failure
// between the two writes leaves a stale timestamp rather than a dangling
// value.
func saveCachedReading(s store.Store, coords Coordinates, capturedAt time.Time) error {
	encoded, err := json.Marshal(coords)
	if err != nil {
		return err
	}
	if err := s.Set(cacheValueKey, string(encoded)); err != nil {
		return err
	}
	return s.Set(cacheTimestampKey, strconv.FormatInt(capturedAt.UnixMilli(), 10))
}
